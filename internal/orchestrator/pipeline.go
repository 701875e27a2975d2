package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/polyglot/internal/audio"
	apperrors "github.com/GriffinCanCode/polyglot/internal/errors"
	"github.com/GriffinCanCode/polyglot/internal/metrics"
	"github.com/GriffinCanCode/polyglot/internal/orchestrator/events"
	"github.com/GriffinCanCode/polyglot/internal/syncx"
	"github.com/GriffinCanCode/polyglot/internal/trace"
)

// Config holds the pipeline's concurrency policy.
type Config struct {
	SourceLanguage         string
	TranslationConcurrency int // 0 = unbounded
	SynthesisConcurrency   int
}

func (c Config) withDefaults() Config {
	if c.SourceLanguage == "" {
		c.SourceLanguage = DefaultSourceLanguage
	}
	if c.TranslationConcurrency < 0 {
		c.TranslationConcurrency = DefaultTranslationConcurrency
	}
	if c.SynthesisConcurrency <= 0 {
		c.SynthesisConcurrency = DefaultSynthesisConcurrency
	}
	return c
}

// Deps are the pipeline's collaborators. Recorder and Stop may be nil when
// only RunTranscript is used.
type Deps struct {
	Recorder    Recorder
	Stop        StopSignal
	Transcriber TranscriptionGateway
	Translator  TranslationGateway
	Synthesizer SynthesisGateway
	Events      events.Sink
	Metrics     *metrics.Metrics
}

// Status is a snapshot of the current or last run.
type Status struct {
	RunID     string    `json:"run_id,omitempty"`
	State     State     `json:"state"`
	Active    bool      `json:"active"`
	Languages []string  `json:"languages,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Error     string    `json:"error,omitempty"`

	SynthesisInFlight int `json:"synthesis_in_flight"`
}

// SynthesisOutcome records one language's artifact.
type SynthesisOutcome struct {
	Lang       string `json:"lang"`
	OutputName string `json:"output_name"`
	Err        error  `json:"-"`
}

// Report summarizes a run. A failed run still reports what completed.
type Report struct {
	RunID         string
	State         State
	Transcript    string
	Translations  map[string]string
	Outcomes      []SynthesisOutcome
	Durations     map[State]time.Duration
	PeakSynthesis int
}

// Pipeline runs record → transcribe → translate → synthesize. One run may
// be active at a time.
type Pipeline struct {
	cfg  Config
	deps Deps

	status   *syncx.RWGuard[Status]
	inflight syncx.HighWater
}

// New creates a pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Pipeline{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		status: syncx.NewGuard(Status{State: Idle}),
	}
}

// Status returns the current run status.
func (p *Pipeline) Status() Status {
	s := p.status.Get()
	s.SynthesisInFlight = p.inflight.Current()
	return s
}

// run is the bookkeeping for one pipeline run.
type run struct {
	report  *Report
	entered time.Time
}

// Run validates langs, records until the stop signal fires, transcribes, and
// translates and synthesizes into every language. A blank transcript ends
// the run in EarlyExit with a nil error.
func (p *Pipeline) Run(ctx context.Context, langs []string) (*Report, error) {
	if p.deps.Recorder == nil || p.deps.Stop == nil || p.deps.Transcriber == nil {
		return nil, apperrors.New(apperrors.Internal, "pipeline has no recorder, stop signal or transcriber")
	}
	if err := p.checkFanOutDeps(); err != nil {
		return nil, err
	}
	ctx, r, err := p.begin(ctx, langs)
	if err != nil {
		return nil, err
	}

	langs, err = p.validateLanguages(ctx, langs)
	if err != nil {
		return p.fail(ctx, r, err)
	}

	stream, err := p.record(ctx, r)
	if err != nil {
		return p.fail(ctx, r, err)
	}

	p.transition(ctx, r, Transcribing)
	tctx, span := trace.StartSpan(ctx, "transcribe")
	text, err := p.deps.Transcriber.Transcribe(tctx, stream)
	span.RecordError(err)
	span.End()
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.Unknown {
			err = apperrors.Wrap(err, apperrors.TranscriptionFailed, "transcribe recording")
		}
		return p.fail(ctx, r, err)
	}
	r.report.Transcript = text

	return p.fanOut(ctx, r, text, langs)
}

// RunTranscript skips recording and runs translation and synthesis on a
// given transcript.
func (p *Pipeline) RunTranscript(ctx context.Context, transcript string, langs []string) (*Report, error) {
	if err := p.checkFanOutDeps(); err != nil {
		return nil, err
	}
	ctx, r, err := p.begin(ctx, langs)
	if err != nil {
		return nil, err
	}
	langs, err = p.validateLanguages(ctx, langs)
	if err != nil {
		return p.fail(ctx, r, err)
	}
	r.report.Transcript = transcript
	return p.fanOut(ctx, r, transcript, langs)
}

func (p *Pipeline) checkFanOutDeps() error {
	if p.deps.Translator == nil || p.deps.Synthesizer == nil {
		return apperrors.New(apperrors.Internal, "pipeline has no translator or synthesizer")
	}
	return nil
}

func (p *Pipeline) fanOut(ctx context.Context, r *run, transcript string, langs []string) (*Report, error) {
	log := trace.Logger(ctx)

	if strings.TrimSpace(transcript) == "" {
		log.Info("transcript is blank, nothing to translate")
		p.transition(ctx, r, EarlyExit)
		return r.report, nil
	}

	p.transition(ctx, r, Translating)
	translations, err := p.translateAll(ctx, transcript, langs)
	if err != nil {
		return p.fail(ctx, r, err)
	}
	r.report.Translations = translations

	p.transition(ctx, r, Synthesizing)
	outcomes, err := p.synthesizeAll(ctx, langs, translations)
	r.report.Outcomes = outcomes
	r.report.PeakSynthesis = p.inflight.Peak()
	if err != nil {
		return p.fail(ctx, r, err)
	}

	p.transition(ctx, r, Done)
	log.Info("pipeline run complete", "languages", len(langs), "peak_synthesis", r.report.PeakSynthesis)
	return r.report, nil
}

// record drives the capture session until the stop signal fires. The
// session is always stopped, so the device is released even when ctx ends.
func (p *Pipeline) record(ctx context.Context, r *run) (stream *audio.Stream, err error) {
	p.transition(ctx, r, Recording)
	ctx, span := trace.StartSpan(ctx, "record")
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	h, err := p.deps.Recorder.Start(ctx)
	if err != nil {
		return nil, err
	}

	stopErr := p.deps.Stop.Wait(ctx)
	if err := p.deps.Recorder.Stop(); err != nil {
		trace.Logger(ctx).Warn("stopping recorder", "error", err)
	}
	if stopErr != nil {
		return nil, apperrors.Wrap(stopErr, apperrors.Cancelled, "waiting for stop signal")
	}

	s, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}
	p.deps.Metrics.RecordedSeconds.Observe(s.Duration().Seconds())
	span.SetAttr("audio", s.Duration())
	return s, nil
}

// begin claims the pipeline for a new run.
func (p *Pipeline) begin(ctx context.Context, langs []string) (context.Context, *run, error) {
	id := uuid.NewString()
	now := time.Now()

	err := p.status.TryWrite(func(s *Status) error {
		if s.Active {
			return apperrors.Newf(apperrors.AlreadyRecording, "run %s is still %s", s.RunID, s.State)
		}
		*s = Status{
			RunID:     id,
			State:     Idle,
			Active:    true,
			Languages: append([]string(nil), langs...),
			StartedAt: now,
			UpdatedAt: now,
		}
		return nil
	})
	if err != nil {
		return ctx, nil, err
	}

	ctx = trace.WithRun(ctx, id)
	trace.Logger(ctx).Info("pipeline run started", "languages", langs)
	r := &run{
		report:  &Report{RunID: id, State: Idle, Durations: make(map[State]time.Duration)},
		entered: now,
	}
	return ctx, r, nil
}

func (p *Pipeline) transition(ctx context.Context, r *run, to State) {
	from := r.report.State
	if !canTransition(from, to) {
		// A programming error; record it but keep the run moving.
		trace.Logger(ctx).Error("illegal state transition", "from", from, "to", to)
	}

	now := time.Now()
	spent := now.Sub(r.entered)
	r.report.Durations[from] += spent
	p.deps.Metrics.ObserveStage(from.String(), spent)
	r.report.State = to
	r.entered = now

	p.status.Write(func(s *Status) {
		s.State = to
		s.UpdatedAt = now
		if to.Terminal() {
			s.Active = false
		}
	})

	trace.Logger(ctx).Info("pipeline state changed", "from", from, "to", to)
	p.deps.Events.Publish(events.Event{
		Time:  now,
		RunID: r.report.RunID,
		Kind:  events.KindState,
		Stage: to.String(),
	})
	if to.Terminal() {
		p.deps.Metrics.RunsTotal.WithLabelValues(to.String()).Inc()
	}
}

func (p *Pipeline) fail(ctx context.Context, r *run, err error) (*Report, error) {
	if apperrors.Meta(err, apperrors.KeyStage) == "" {
		err = apperrors.Wrap(err, apperrors.CodeOf(err), "pipeline failed").
			WithMetadata(apperrors.KeyStage, r.report.State.String())
	}
	p.status.Write(func(s *Status) { s.Error = err.Error() })

	trace.Logger(ctx).Error("pipeline run failed", "state", r.report.State, "error", err)
	p.deps.Events.Publish(events.Event{
		RunID: r.report.RunID,
		Kind:  events.KindFailure,
		Stage: r.report.State.String(),
		Lang:  apperrors.Meta(err, apperrors.KeyLang),
		Error: err.Error(),
	})
	p.transition(ctx, r, Failed)
	return r.report, err
}
