// Package transcribe turns finished recordings into text using OpenAI Whisper.
package transcribe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/GriffinCanCode/polyglot/internal/audio"
	apperrors "github.com/GriffinCanCode/polyglot/internal/errors"
	"github.com/GriffinCanCode/polyglot/internal/resilience"
	"github.com/GriffinCanCode/polyglot/internal/trace"
)

const (
	defaultTimeout = 60 * time.Second
	// uploadName gives the multipart part a .wav extension so the API
	// detects the container.
	uploadName = "recording.wav"
)

// Config configures the Whisper client.
type Config struct {
	APIKey   string
	BaseURL  string // optional override, e.g. a compatible local server
	Model    string
	Language string // ISO-639-1 hint; empty lets the API detect
	Timeout  time.Duration
	Breaker  *resilience.Breaker
}

// WhisperClient transcribes audio streams.
type WhisperClient struct {
	client   *openai.Client
	model    string
	language string
	breaker  *resilience.Breaker
}

// NewWhisper creates a client.
func NewWhisper(cfg Config) *WhisperClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	br := cfg.Breaker
	if br == nil {
		br = resilience.New(resilience.ProviderConfig("whisper"))
	}
	return &WhisperClient{
		client:   openai.NewClientWithConfig(oc),
		model:    cfg.Model,
		language: cfg.Language,
		breaker:  br,
	}
}

// Transcribe uploads the stream and returns the recognized text. The text is
// returned as-is; deciding what a blank transcript means is up to the caller.
func (w *WhisperClient) Transcribe(ctx context.Context, stream *audio.Stream) (string, error) {
	if stream == nil {
		return "", apperrors.New(apperrors.InvalidArgument, "no audio stream to transcribe")
	}
	log := trace.Logger(ctx)
	start := time.Now()

	resp, err := resilience.ExecuteWithResult(ctx, w.breaker, func() (openai.AudioResponse, error) {
		return w.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    w.model,
			FilePath: uploadName,
			Reader:   stream.Reader(),
			Language: w.language,
			Format:   openai.AudioResponseFormatJSON,
		})
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.TranscriptionFailed, "whisper transcription").
			WithMetadata(apperrors.KeyStage, "transcribing")
	}

	log.Info("transcribed recording",
		"audio", stream.Duration(),
		"sample_rate", stream.Format().SampleRate,
		"bytes", stream.Len(),
		"chars", len(resp.Text),
		"latency", time.Since(start),
	)
	return resp.Text, nil
}
