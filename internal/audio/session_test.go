package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/polyglot/internal/errors"
)

// fakeDevice produces a ramp of samples, one buffer per tick.
type fakeDevice struct {
	mu       sync.Mutex
	tick     time.Duration
	failAt   int // fail on the Nth read when > 0
	blocking bool
	openErr  error
	reads    int
	opened   int
	rate     int
	closed   chan struct{}
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{tick: time.Millisecond}
}

func (d *fakeDevice) Open(sampleRate, _ int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.opened++
	d.rate = sampleRate
	d.closed = make(chan struct{})
	return nil
}

func (d *fakeDevice) Read(dst []int16) (int, error) {
	d.mu.Lock()
	d.reads++
	reads, closed := d.reads, d.closed
	d.mu.Unlock()

	if d.blocking {
		<-closed
		return 0, errDeviceClosed
	}
	if d.failAt > 0 && reads >= d.failAt {
		return 0, errors.New("device unplugged")
	}

	select {
	case <-closed:
		return 0, errDeviceClosed
	case <-time.After(d.tick):
	}
	for i := range dst {
		dst[i] = int16(i)
	}
	return len(dst), nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.closed:
	default:
		close(d.closed)
	}
	return nil
}

func newTestSession(dev Device) *Session {
	return NewSession(dev, SessionConfig{FramesPerBuffer: 160, StopTimeout: 200 * time.Millisecond})
}

func waitStream(t *testing.T, h *Handle) *Stream {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if stream == nil {
		t.Fatal("Wait() returned nil stream")
	}
	return stream
}

func TestStartRecording(t *testing.T) {
	s := newTestSession(newFakeDevice())

	h, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if !s.IsRecording() {
		t.Error("IsRecording() = false after Start")
	}
	if h == nil {
		t.Fatal("Start() returned nil handle")
	}
	select {
	case <-h.Done():
		t.Error("handle resolved before Stop")
	default:
	}
}

func TestStartTwiceFails(t *testing.T) {
	s := newTestSession(newFakeDevice())
	if _, err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	_, err := s.Start(context.Background())
	if !apperrors.IsCode(err, apperrors.AlreadyRecording) {
		t.Errorf("second Start() = %v, want ALREADY_RECORDING", err)
	}
}

func TestSecondSessionBlockedProcessWide(t *testing.T) {
	first := newTestSession(newFakeDevice())
	if _, err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	second := newTestSession(newFakeDevice())
	if _, err := second.Start(context.Background()); !apperrors.IsCode(err, apperrors.AlreadyRecording) {
		t.Errorf("Start() on second session = %v, want ALREADY_RECORDING", err)
	}

	if err := first.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	h, err := second.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() after release error = %v", err)
	}
	_ = second.Stop()
	waitStream(t, h)
}

func TestStopWhenIdleFails(t *testing.T) {
	s := newTestSession(newFakeDevice())
	if err := s.Stop(); !apperrors.IsCode(err, apperrors.NotRecording) {
		t.Errorf("Stop() = %v, want NOT_RECORDING", err)
	}
}

func TestStopRecording(t *testing.T) {
	s := newTestSession(newFakeDevice())
	h, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.IsRecording() {
		t.Error("IsRecording() = true after Stop")
	}
	waitStream(t, h)

	if err := s.Stop(); !apperrors.IsCode(err, apperrors.NotRecording) {
		t.Errorf("second Stop() = %v, want NOT_RECORDING", err)
	}
}

func TestRecordInCorrectFormat(t *testing.T) {
	s := newTestSession(newFakeDevice())
	h, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	stream := waitStream(t, h)
	if stream.Format() != captureFormat {
		t.Errorf("format = %+v, want %+v", stream.Format(), captureFormat)
	}
	_, rate, err := DecodeWAV(readAll(t, stream))
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if rate != SampleRate {
		t.Errorf("header sample rate = %d, want %d", rate, SampleRate)
	}
	samples, err := stream.Samples()
	if err != nil {
		t.Fatalf("Samples() error = %v", err)
	}
	if len(samples) == 0 {
		t.Error("expected captured samples")
	}
	if len(samples)%160 != 0 {
		t.Errorf("samples = %d, want whole buffers of 160", len(samples))
	}
}

func TestSessionSampleRate(t *testing.T) {
	tests := []struct {
		name string
		cfg  int
		want int
	}{
		{"default", 0, SampleRate},
		{"configured", 8000, 8000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice()
			s := NewSession(dev, SessionConfig{SampleRate: tt.cfg, FramesPerBuffer: 160})
			h, err := s.Start(context.Background())
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			if err := s.Stop(); err != nil {
				t.Fatalf("Stop() error = %v", err)
			}
			stream := waitStream(t, h)

			if dev.rate != tt.want {
				t.Errorf("device opened at %d Hz, want %d", dev.rate, tt.want)
			}
			if got := stream.Format().SampleRate; got != tt.want {
				t.Errorf("stream rate = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAbruptStopYieldsStream(t *testing.T) {
	s := newTestSession(newFakeDevice())
	h, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	stream := waitStream(t, h)
	if _, _, err := DecodeWAV(readAll(t, stream)); err != nil {
		t.Errorf("DecodeWAV() error = %v", err)
	}
}

func TestStopBoundedWhenDeviceHangs(t *testing.T) {
	dev := newFakeDevice()
	dev.blocking = true
	s := newTestSession(dev)

	h, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop() took %v, want bounded by stop timeout", elapsed)
	}

	stream := waitStream(t, h)
	if stream.NumSamples() != 0 {
		t.Errorf("NumSamples() = %d, want 0", stream.NumSamples())
	}
}

func TestPartialBufferKeptAfterReadError(t *testing.T) {
	dev := newFakeDevice()
	dev.failAt = 4
	s := newTestSession(dev)

	h, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if !s.IsRecording() {
		t.Error("session should stay Recording until Stop")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	stream := waitStream(t, h)
	if got := stream.NumSamples(); got != 3*160 {
		t.Errorf("NumSamples() = %d, want %d", got, 3*160)
	}
}

func TestOpenFailureLeavesIdle(t *testing.T) {
	dev := newFakeDevice()
	dev.openErr = errors.New("no input device")
	s := newTestSession(dev)

	if _, err := s.Start(context.Background()); !apperrors.IsCode(err, apperrors.CaptureFailed) {
		t.Errorf("Start() = %v, want CAPTURE_FAILED", err)
	}
	if s.IsRecording() {
		t.Error("IsRecording() = true after failed Start")
	}

	// The process-wide lock must be released.
	other := newTestSession(newFakeDevice())
	h, err := other.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() on other session error = %v", err)
	}
	_ = other.Stop()
	waitStream(t, h)
}

func TestSessionReusable(t *testing.T) {
	dev := newFakeDevice()
	s := newTestSession(dev)

	for i := 0; i < 3; i++ {
		h, err := s.Start(context.Background())
		if err != nil {
			t.Fatalf("attempt %d: Start() error = %v", i, err)
		}
		if err := s.Stop(); err != nil {
			t.Fatalf("attempt %d: Stop() error = %v", i, err)
		}
		waitStream(t, h)
	}
	if dev.opened != 3 {
		t.Errorf("opened = %d, want 3", dev.opened)
	}
}

func TestHandleWaitContextCancelled(t *testing.T) {
	h := newHandle()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Wait(ctx)
	if !apperrors.IsCode(err, apperrors.Cancelled) {
		t.Errorf("Wait() = %v, want CANCELLED", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("Wait() error should wrap context.Canceled")
	}
}

func TestStateString(t *testing.T) {
	if Idle.String() != "idle" || Recording.String() != "recording" {
		t.Errorf("State strings = %q, %q", Idle, Recording)
	}
}
