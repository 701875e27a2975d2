package orchestrator

import (
	"context"
	"errors"

	apperrors "github.com/GriffinCanCode/polyglot/internal/errors"
)

// Result is one fan-out task's outcome, stored in the task's own slot.
type Result[T any] struct {
	Lang  string
	Value T
	Err   error
}

// firstFailure returns the first failed result in input order. Failures that
// are only a reaction to a sibling's cancellation are skipped in favor of a
// root cause when one exists.
func firstFailure[T any](results []Result[T]) (Result[T], bool) {
	var fallback *Result[T]
	for i := range results {
		r := &results[i]
		if r.Err == nil {
			continue
		}
		if !isCancellation(r.Err) {
			return *r, true
		}
		if fallback == nil {
			fallback = r
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Result[T]{}, false
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || apperrors.IsCode(err, apperrors.Cancelled)
}

// stageFailure picks the error a fan-out stage reports. When the run itself
// was cancelled, or only cancellations remain, the stage reports Cancelled
// without naming a language.
func stageFailure[T any](ctx context.Context, results []Result[T], fallback apperrors.Code, stage State) error {
	failed, ok := firstFailure(results)
	if !ok {
		return nil
	}
	if cause := ctx.Err(); cause != nil || isCancellation(failed.Err) {
		if cause == nil {
			cause = failed.Err
		}
		return apperrors.Wrapf(cause, apperrors.Cancelled, "%s cancelled", stage).
			WithMetadata(apperrors.KeyStage, stage.String())
	}
	return stageError(failed.Err, fallback, stage, failed.Lang)
}

// stageError tags a task failure with its stage and language, keeping the
// task's own code when it has one.
func stageError(err error, fallback apperrors.Code, stage State, lang string) error {
	code := apperrors.CodeOf(err)
	if code == apperrors.Unknown {
		code = fallback
	}
	return apperrors.Wrapf(err, code, "%s %s", stage, lang).
		WithMetadata(apperrors.KeyStage, stage.String()).
		WithMetadata(apperrors.KeyLang, lang)
}
