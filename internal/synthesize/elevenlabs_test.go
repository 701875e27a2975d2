package synthesize

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/haguro/elevenlabs-go"

	apperrors "github.com/GriffinCanCode/polyglot/internal/errors"
	"github.com/GriffinCanCode/polyglot/internal/resilience"
)

type fakeStreamer struct {
	mu    sync.Mutex
	calls []elevenlabs.TextToSpeechRequest
	voice string
	err   error
	// partial bytes written before err
	partial string
}

func (f *fakeStreamer) TextToSpeechStream(w io.Writer, voiceID string, req elevenlabs.TextToSpeechRequest, _ ...elevenlabs.QueryFunc) error {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.voice = voiceID
	f.mu.Unlock()

	if f.err != nil {
		_, _ = io.WriteString(w, f.partial)
		return f.err
	}
	_, err := io.WriteString(w, "ID3:"+req.Text)
	return err
}

func newTestClient(t *testing.T, fs *fakeStreamer) (*ElevenLabsClient, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "out")
	c := New(Config{APIKey: "el-test", OutputDir: dir})
	c.newStreamer = func(context.Context) streamer { return fs }
	return c, dir
}

func TestSynthesize(t *testing.T) {
	fs := &fakeStreamer{}
	c, dir := newTestClient(t, fs)

	if err := c.Synthesize(context.Background(), "Hola mundo", "translated_audio_es"); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "translated_audio_es.mp3"))
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if string(data) != "ID3:Hola mundo" {
		t.Errorf("artifact = %q", data)
	}
	if fs.voice != DefaultVoiceID {
		t.Errorf("voice = %q, want %q", fs.voice, DefaultVoiceID)
	}
	if fs.calls[0].ModelID != DefaultModelID {
		t.Errorf("model = %q, want %q", fs.calls[0].ModelID, DefaultModelID)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("output dir has %d entries, want only the artifact", len(entries))
	}
}

func TestSynthesizeProviderErrorLeavesNoArtifact(t *testing.T) {
	fs := &fakeStreamer{err: errors.New("quota exceeded"), partial: "ID3"}
	c, dir := newTestClient(t, fs)

	err := c.Synthesize(context.Background(), "Bonjour le monde", "translated_audio_fr")
	if !apperrors.IsCode(err, apperrors.SynthesisFailed) {
		t.Fatalf("Synthesize() = %v, want SYNTHESIS_FAILED", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("output dir has %d entries after failure, want 0", len(entries))
	}
}

func TestSynthesizeInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		text string
		out  string
		code apperrors.Code
	}{
		{"empty name", "Hola", "", apperrors.InvalidArgument},
		{"path traversal", "Hola", "../evil", apperrors.InvalidArgument},
		{"dot dot", "Hola", "..", apperrors.InvalidArgument},
		{"blank text", "  ", "translated_audio_es", apperrors.SynthesisFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeStreamer{}
			c, _ := newTestClient(t, fs)
			if err := c.Synthesize(context.Background(), tt.text, tt.out); !apperrors.IsCode(err, tt.code) {
				t.Errorf("Synthesize() = %v, want %s", err, tt.code)
			}
			if len(fs.calls) != 0 {
				t.Error("provider should not be called")
			}
		})
	}
}

func TestSynthesizeCancelled(t *testing.T) {
	fs := &fakeStreamer{}
	c, _ := newTestClient(t, fs)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Synthesize(ctx, "Hola", "translated_audio_es")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Synthesize() = %v, want context.Canceled", err)
	}
	if len(fs.calls) != 0 {
		t.Error("provider should not be called after cancellation")
	}
}

func TestSynthesizeConcurrent(t *testing.T) {
	fs := &fakeStreamer{}
	c, dir := newTestClient(t, fs)
	langs := []string{"es", "fr", "de", "it", "pt", "ja", "ko"}

	var wg sync.WaitGroup
	for _, lang := range langs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Synthesize(context.Background(), "text-"+lang, "translated_audio_"+lang); err != nil {
				t.Errorf("Synthesize(%s) error = %v", lang, err)
			}
		}()
	}
	wg.Wait()

	for _, lang := range langs {
		data, err := os.ReadFile(c.OutputPath("translated_audio_" + lang))
		if err != nil {
			t.Errorf("artifact for %s missing: %v", lang, err)
			continue
		}
		if string(data) != "ID3:text-"+lang {
			t.Errorf("artifact for %s = %q", lang, data)
		}
	}
	if entries, _ := os.ReadDir(dir); len(entries) != len(langs) {
		t.Errorf("output dir has %d entries, want %d", len(entries), len(langs))
	}
}

func TestOutputPath(t *testing.T) {
	c := New(Config{OutputDir: "output"})
	if got, want := c.OutputPath("translated_audio_de"), filepath.Join("output", "translated_audio_de.mp3"); got != want {
		t.Errorf("OutputPath() = %q, want %q", got, want)
	}
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	fs := &fakeStreamer{err: errors.New("503")}
	c, _ := newTestClient(t, fs)
	c.breaker = resilience.New(resilience.Config{Name: "elevenlabs", Threshold: 2, ResetTimeout: 1 << 40})

	for i := 0; i < 4; i++ {
		_ = c.Synthesize(context.Background(), "Hola", "translated_audio_es")
	}
	if len(fs.calls) != 2 {
		t.Errorf("provider called %d times, want 2", len(fs.calls))
	}
}
