package orchestrator

import (
	"context"

	"github.com/GriffinCanCode/polyglot/internal/audio"
)

// Recorder is the capture state machine.
type Recorder interface {
	Start(ctx context.Context) (*audio.Handle, error)
	Stop() error
}

// TranscriptionGateway turns a finished recording into text.
type TranscriptionGateway interface {
	Transcribe(ctx context.Context, stream *audio.Stream) (string, error)
}

// TranslationGateway translates text and exposes the provider catalog.
type TranslationGateway interface {
	Translate(ctx context.Context, source, target, text string) (string, error)
	SupportedTargets(ctx context.Context) (map[string]struct{}, error)
}

// SynthesisGateway persists speech for text under outputName.
type SynthesisGateway interface {
	Synthesize(ctx context.Context, text, outputName string) error
}

// StopSignal blocks until recording should end. It returns ctx's error if
// ctx ends first.
type StopSignal interface {
	Wait(ctx context.Context) error
}
