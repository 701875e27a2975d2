package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/polyglot/internal/audio"
	"github.com/GriffinCanCode/polyglot/internal/orchestrator/events"
	"github.com/GriffinCanCode/polyglot/internal/syncx"
)

// toneDevice yields one buffer of a ramp per millisecond.
type toneDevice struct {
	mu     sync.Mutex
	closed chan struct{}
}

func (d *toneDevice) Open(_, _ int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = make(chan struct{})
	return nil
}

func (d *toneDevice) Read(dst []int16) (int, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	select {
	case <-closed:
		return 0, errors.New("device closed")
	case <-time.After(time.Millisecond):
	}
	for i := range dst {
		dst[i] = int16(i)
	}
	return len(dst), nil
}

func (d *toneDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.closed:
	default:
		close(d.closed)
	}
	return nil
}

func newRecorder() *audio.Session {
	return audio.NewSession(&toneDevice{}, audio.SessionConfig{FramesPerBuffer: 160, StopTimeout: 200 * time.Millisecond})
}

// stopWhenArmed fires s as soon as the pipeline starts waiting on it.
func stopWhenArmed(t *testing.T, s *ManualStop) {
	t.Helper()
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for !s.Armed() {
			if time.Now().After(deadline) {
				return
			}
			time.Sleep(time.Millisecond)
		}
		s.Trigger()
	}()
}

type stubTranscriber struct {
	text  string
	err   error
	calls int
	got   *audio.Stream
}

func (s *stubTranscriber) Transcribe(_ context.Context, stream *audio.Stream) (string, error) {
	s.calls++
	s.got = stream
	return s.text, s.err
}

type translateCall struct {
	source, target, text string
}

// stubTranslator translates from a fixed dictionary.
type stubTranslator struct {
	catalog map[string]struct{}
	dict    map[string]string
	fail    map[string]error
	block   map[string]bool // wait for ctx cancellation
	delay   time.Duration
	// failures wait until this many blocking calls are in flight
	failAfterBlocked int

	mu        sync.Mutex
	calls     []translateCall
	cancelled []string
	blocked   int
	active    syncx.HighWater
}

func newTranslator(dict map[string]string, codes ...string) *stubTranslator {
	catalog := map[string]struct{}{"en": {}}
	for _, c := range codes {
		catalog[c] = struct{}{}
	}
	for c := range dict {
		catalog[c] = struct{}{}
	}
	return &stubTranslator{catalog: catalog, dict: dict, fail: map[string]error{}, block: map[string]bool{}}
}

func (s *stubTranslator) SupportedTargets(context.Context) (map[string]struct{}, error) {
	return s.catalog, nil
}

func (s *stubTranslator) Translate(ctx context.Context, source, target, text string) (string, error) {
	leave := s.active.Enter()
	defer leave()

	s.mu.Lock()
	s.calls = append(s.calls, translateCall{source, target, text})
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if err := s.fail[target]; err != nil {
		s.waitForBlocked()
		return "", err
	}
	if s.block[target] {
		s.mu.Lock()
		s.blocked++
		s.mu.Unlock()
		<-ctx.Done()
		s.mu.Lock()
		s.cancelled = append(s.cancelled, target)
		s.mu.Unlock()
		return "", ctx.Err()
	}
	if v, ok := s.dict[target]; ok {
		return v, nil
	}
	return target + ":" + text, nil
}

func (s *stubTranslator) waitForBlocked() {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := s.blocked
		s.mu.Unlock()
		if n >= s.failAfterBlocked {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *stubTranslator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type synthCall struct {
	text, name string
}

// stubSynthesizer records calls and the concurrent-call high-water mark.
type stubSynthesizer struct {
	delay time.Duration
	fail  map[string]error

	mu     sync.Mutex
	calls  []synthCall
	active syncx.HighWater
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, text, name string) error {
	leave := s.active.Enter()
	defer leave()

	s.mu.Lock()
	s.calls = append(s.calls, synthCall{text, name})
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.fail[name]
}

func (s *stubSynthesizer) recorded() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.calls))
	for _, c := range s.calls {
		out[c.name] = c.text
	}
	return out
}

func (s *stubSynthesizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fixture struct {
	pipeline    *Pipeline
	stop        *ManualStop
	transcriber *stubTranscriber
	translator  *stubTranslator
	synth       *stubSynthesizer
	events      *events.Store
}

func newFixture(cfg Config, tr *stubTranslator, transcript string) *fixture {
	f := &fixture{
		stop:        NewManualStop(),
		transcriber: &stubTranscriber{text: transcript},
		translator:  tr,
		synth:       &stubSynthesizer{fail: map[string]error{}},
		events:      events.NewStore(EventHistorySize, EventBufferSize),
	}
	f.pipeline = New(cfg, Deps{
		Recorder:    newRecorder(),
		Stop:        f.stop,
		Transcriber: f.transcriber,
		Translator:  f.translator,
		Synthesizer: f.synth,
		Events:      f.events,
	})
	return f
}

func (f *fixture) states(runID string) []string {
	var out []string
	for _, e := range f.events.ForRun(runID) {
		if e.Kind == events.KindState {
			out = append(out, e.Stage)
		}
	}
	return out
}
