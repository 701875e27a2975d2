package audio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/GriffinCanCode/polyglot/internal/errors"
)

// State is the recording state.
type State uint32

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	return [...]string{"idle", "recording"}[s]
}

// Defaults for SessionConfig.
const (
	DefaultFramesPerBuffer = 1024 // 64ms at 16kHz
	DefaultStopTimeout     = 2 * time.Second
)

// deviceHeld enforces a single active recording per process.
var deviceHeld atomic.Bool

// SessionConfig tunes the capture loop.
type SessionConfig struct {
	SampleRate      int
	FramesPerBuffer int
	StopTimeout     time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = SampleRate
	}
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}

// Session is the capture state machine. Start and Stop may be called from a
// controller goroutine while the capture loop runs on its own goroutine.
type Session struct {
	dev Device
	cfg SessionConfig

	mu     sync.Mutex
	state  State
	active *capture
}

// capture is one recording attempt.
type capture struct {
	handle *Handle
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	samples []int16
	readErr error
}

// NewSession creates an idle session on dev.
func NewSession(dev Device, cfg SessionConfig) *Session {
	return &Session{dev: dev, cfg: cfg.withDefaults()}
}

// IsRecording reports whether a recording is in progress.
func (s *Session) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Recording
}

// Start opens the device and begins capturing. The returned handle resolves
// once Stop is called.
func (s *Session) Start(ctx context.Context) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Recording {
		return nil, apperrors.New(apperrors.AlreadyRecording, "recording is already in progress")
	}
	if !deviceHeld.CompareAndSwap(false, true) {
		return nil, apperrors.New(apperrors.AlreadyRecording, "audio input is held by another session")
	}

	if err := s.dev.Open(s.cfg.SampleRate, s.cfg.FramesPerBuffer); err != nil {
		deviceHeld.Store(false)
		return nil, apperrors.Wrap(err, apperrors.CaptureFailed, "open audio input")
	}

	c := &capture{
		handle:  newHandle(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		samples: make([]int16, 0, s.cfg.SampleRate*10),
	}
	s.active = c
	s.state = Recording

	go s.loop(ctx, c)

	slog.Info("recording started")
	return c.handle, nil
}

func (s *Session) loop(ctx context.Context, c *capture) {
	defer close(c.doneCh)
	buf := make([]int16, s.cfg.FramesPerBuffer)

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		n, err := s.dev.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.samples = append(c.samples, buf[:n]...)
			c.mu.Unlock()
		}
		if err != nil {
			select {
			case <-c.stopCh:
				// Read interrupted by Stop closing the device.
			default:
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
				slog.Warn("capture loop ended early", "error", err)
			}
			return
		}
	}
}

// Stop halts capture, finalizes the buffer into a Stream, and resolves the
// handle returned by Start. Data captured before an abnormal loop exit is kept.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return apperrors.New(apperrors.NotRecording, "no recording is currently in progress")
	}
	c := s.active
	s.active = nil
	s.state = Idle
	s.mu.Unlock()

	close(c.stopCh)

	select {
	case <-c.doneCh:
	case <-time.After(s.cfg.StopTimeout):
		slog.Warn("capture loop did not stop in time, closing device", "timeout", s.cfg.StopTimeout)
	}
	if err := s.dev.Close(); err != nil {
		slog.Debug("audio device close error", "error", err)
	}
	deviceHeld.Store(false)

	c.mu.Lock()
	samples := append([]int16(nil), c.samples...)
	readErr := c.readErr
	c.mu.Unlock()

	stream, err := NewStream(samples, s.cfg.SampleRate)
	if err != nil {
		c.handle.resolve(nil, apperrors.Wrap(err, apperrors.CaptureFailed, "finalize recording"))
		return nil
	}

	slog.Info("recording stopped", "samples", len(samples), "duration", stream.Duration(), "read_error", readErr)
	c.handle.resolve(stream, nil)
	return nil
}

// Handle resolves to the finished recording once its session is stopped.
type Handle struct {
	done   chan struct{}
	once   sync.Once
	stream *Stream
	err    error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) resolve(stream *Stream, err error) {
	h.once.Do(func() {
		h.stream = stream
		h.err = err
		close(h.done)
	})
}

// Done is closed when the recording is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the recording is finalized or ctx ends.
func (h *Handle) Wait(ctx context.Context) (*Stream, error) {
	select {
	case <-h.done:
		return h.stream, h.err
	case <-ctx.Done():
		return nil, apperrors.Wrap(ctx.Err(), apperrors.Cancelled, "waiting for recording")
	}
}
