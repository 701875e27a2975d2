package orchestrator

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/GriffinCanCode/polyglot/internal/errors"
	"github.com/GriffinCanCode/polyglot/internal/orchestrator/events"
	"github.com/GriffinCanCode/polyglot/internal/trace"
)

// validateLanguages checks langs against the provider catalog before any
// audio is captured. Duplicates are dropped, keeping the first occurrence.
func (p *Pipeline) validateLanguages(ctx context.Context, langs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(langs))
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		l = strings.TrimSpace(l)
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	if len(out) == 0 {
		return nil, apperrors.New(apperrors.InvalidArgument, "at least one target language is required")
	}

	supported, err := p.deps.Translator.SupportedTargets(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range append([]string{p.cfg.SourceLanguage}, out...) {
		if _, ok := supported[l]; !ok {
			return nil, apperrors.Newf(apperrors.UnsupportedLanguage, "unsupported language: %q", l).
				WithMetadata(apperrors.KeyLang, l)
		}
	}
	if len(out) < len(langs) {
		trace.Logger(ctx).Warn("dropped duplicate languages", "requested", langs, "using", out)
	}
	return out, nil
}

// translateAll translates transcript into every language concurrently and
// joins on all of them. The first failure cancels the siblings.
func (p *Pipeline) translateAll(ctx context.Context, transcript string, langs []string) (map[string]string, error) {
	ctx, span := trace.StartSpan(ctx, "translate")
	defer span.End()
	span.SetAttr("languages", len(langs))

	results := make([]Result[string], len(langs))
	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.TranslationConcurrency > 0 {
		g.SetLimit(p.cfg.TranslationConcurrency)
	}

	for i, lang := range langs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result[string]{Lang: lang, Err: err}
				return err
			}
			start := time.Now()
			text, err := p.deps.Translator.Translate(gctx, p.cfg.SourceLanguage, lang, transcript)
			p.deps.Metrics.ObserveTranslation(lang, time.Since(start), err)
			results[i] = Result[string]{Lang: lang, Value: text, Err: err}
			p.taskDone(gctx, Translating, lang, err)
			return err
		})
	}
	_ = g.Wait()

	if err := stageFailure(ctx, results, apperrors.TranslationFailed, Translating); err != nil {
		span.RecordError(err)
		return nil, err
	}

	translations := make(map[string]string, len(results))
	for _, r := range results {
		translations[r.Lang] = r.Value
	}
	return translations, nil
}

// synthesizeAll renders every translation on a pool of
// SynthesisConcurrency workers and joins on all of them. Outcomes are in
// langs order.
func (p *Pipeline) synthesizeAll(ctx context.Context, langs []string, translations map[string]string) ([]SynthesisOutcome, error) {
	ctx, span := trace.StartSpan(ctx, "synthesize")
	defer span.End()
	span.SetAttr("languages", len(langs))
	span.SetAttr("pool", p.cfg.SynthesisConcurrency)

	p.inflight.Reset()
	results := make([]Result[string], len(langs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.SynthesisConcurrency)

	for i, lang := range langs {
		name := OutputName(lang)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result[string]{Lang: lang, Value: name, Err: err}
				return err
			}
			leave := p.inflight.Enter()
			p.deps.Metrics.SynthesisInFlight.Inc()
			start := time.Now()
			err := p.deps.Synthesizer.Synthesize(gctx, translations[lang], name)
			p.deps.Metrics.SynthesisInFlight.Dec()
			leave()

			p.deps.Metrics.ObserveSynthesis(lang, time.Since(start), err)
			results[i] = Result[string]{Lang: lang, Value: name, Err: err}
			p.taskDone(gctx, Synthesizing, lang, err)
			return err
		})
	}
	_ = g.Wait()
	span.SetAttr("peak", p.inflight.Peak())

	outcomes := make([]SynthesisOutcome, len(results))
	for i, r := range results {
		outcomes[i] = SynthesisOutcome{Lang: r.Lang, OutputName: r.Value, Err: r.Err}
	}

	if err := stageFailure(ctx, results, apperrors.SynthesisFailed, Synthesizing); err != nil {
		span.RecordError(err)
		return outcomes, err
	}
	return outcomes, nil
}

func (p *Pipeline) taskDone(ctx context.Context, stage State, lang string, err error) {
	e := events.Event{
		RunID: trace.RunID(ctx),
		Kind:  events.KindTask,
		Stage: stage.String(),
		Lang:  lang,
	}
	if err != nil {
		e.Error = err.Error()
		if !isCancellation(err) {
			trace.Logger(ctx).Warn("task failed", "stage", stage, "lang", lang, "error", err)
		}
	} else {
		e.Message = "ok"
	}
	p.deps.Events.Publish(e)
}
