// Package synthesize renders text to speech with ElevenLabs and persists
// one MP3 artifact per call.
package synthesize

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haguro/elevenlabs-go"

	apperrors "github.com/GriffinCanCode/polyglot/internal/errors"
	"github.com/GriffinCanCode/polyglot/internal/resilience"
	"github.com/GriffinCanCode/polyglot/internal/trace"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultVoiceID = "CXJAacovzWn9Fp4Rcjcs"
	DefaultModelID = "eleven_multilingual_v2"
	DefaultTimeout = 60 * time.Second

	// Extension is appended to every output name.
	Extension = ".mp3"
)

// streamer is the part of the ElevenLabs client used here.
type streamer interface {
	TextToSpeechStream(w io.Writer, voiceID string, req elevenlabs.TextToSpeechRequest, queries ...elevenlabs.QueryFunc) error
}

// Config configures the synthesizer.
type Config struct {
	APIKey    string
	VoiceID   string
	ModelID   string
	OutputDir string
	Timeout   time.Duration
	Breaker   *resilience.Breaker
}

// ElevenLabsClient writes speech for a text to <OutputDir>/<name>.mp3.
// It is safe for concurrent use; each call streams into its own file.
type ElevenLabsClient struct {
	voiceID   string
	modelID   string
	outputDir string
	breaker   *resilience.Breaker

	// newStreamer builds a request-scoped client bound to ctx.
	newStreamer func(ctx context.Context) streamer
}

// New creates a synthesizer.
func New(cfg Config) *ElevenLabsClient {
	if cfg.VoiceID == "" {
		cfg.VoiceID = DefaultVoiceID
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	br := cfg.Breaker
	if br == nil {
		br = resilience.New(resilience.ProviderConfig("elevenlabs"))
	}

	apiKey, timeout := cfg.APIKey, cfg.Timeout
	return &ElevenLabsClient{
		voiceID:   cfg.VoiceID,
		modelID:   cfg.ModelID,
		outputDir: cfg.OutputDir,
		breaker:   br,
		newStreamer: func(ctx context.Context) streamer {
			return elevenlabs.NewClient(ctx, apiKey, timeout)
		},
	}
}

// OutputPath returns where the artifact for name is written.
func (c *ElevenLabsClient) OutputPath(name string) string {
	return filepath.Join(c.outputDir, name+Extension)
}

// Synthesize streams speech for text into OutputPath(outputName). The file
// appears only once the full response has been written.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text, outputName string) error {
	if outputName == "" || strings.ContainsAny(outputName, `/\`) || outputName == "." || outputName == ".." {
		return apperrors.Newf(apperrors.InvalidArgument, "invalid output name %q", outputName)
	}
	if strings.TrimSpace(text) == "" {
		return apperrors.Newf(apperrors.SynthesisFailed, "nothing to synthesize for %s", outputName)
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(err, apperrors.Cancelled, "synthesis cancelled")
	}

	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.SynthesisFailed, "create output directory")
	}

	start := time.Now()
	dst := c.OutputPath(outputName)
	tmp, err := os.CreateTemp(c.outputDir, "."+outputName+"-*.part")
	if err != nil {
		return apperrors.Wrap(err, apperrors.SynthesisFailed, "create temp file")
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	req := elevenlabs.TextToSpeechRequest{Text: text, ModelID: c.modelID}
	err = c.breaker.Execute(ctx, func() error {
		return c.newStreamer(ctx).TextToSpeechStream(tmp, c.voiceID, req)
	})
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.SynthesisFailed, fmt.Sprintf("synthesize %s", outputName))
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return apperrors.Wrap(err, apperrors.SynthesisFailed, "persist audio artifact")
	}

	trace.Logger(ctx).Info("wrote audio artifact", "path", dst, "latency", time.Since(start))
	return nil
}
