// Package audio handles microphone capture and the recording state machine
package audio

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Device is a blocking audio input. Read fills dst with the next buffer of
// mono PCM-16 samples. Close must unblock a pending Read and be safe to call
// more than once.
type Device interface {
	Open(sampleRate, framesPerBuffer int) error
	Read(dst []int16) (int, error)
	Close() error
}

var errDeviceClosed = errors.New("audio device closed")

// PortAudioDevice captures from the best available microphone via PortAudio.
type PortAudioDevice struct {
	excluded []string

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16
	closed bool
}

// NewPortAudioDevice creates a device that skips inputs whose names contain
// any of the excluded substrings (case-insensitive).
func NewPortAudioDevice(excluded []string) *PortAudioDevice {
	return &PortAudioDevice{excluded: excluded}
}

// Open initializes PortAudio and starts an input stream on the selected mic.
func (d *PortAudioDevice) Open(sampleRate, framesPerBuffer int) error {
	if err := portaudio.Initialize(); err != nil {
		return err
	}

	dev, err := d.pickInput()
	if err != nil {
		_ = portaudio.Terminate()
		return err
	}

	buf := make([]int16, framesPerBuffer)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return err
	}

	d.mu.Lock()
	d.stream = stream
	d.buf = buf
	d.closed = false
	d.mu.Unlock()

	slog.Info("started audio capture", "device", dev.Name, "sample_rate", sampleRate)
	return nil
}

// Read blocks for one buffer of input.
func (d *PortAudioDevice) Read(dst []int16) (int, error) {
	d.mu.Lock()
	stream, closed := d.stream, d.closed
	d.mu.Unlock()
	if closed || stream == nil {
		return 0, errDeviceClosed
	}

	if err := stream.Read(); err != nil {
		// Overflow only means samples were dropped; the buffer is still valid.
		if !errors.Is(err, portaudio.InputOverflowed) {
			return 0, err
		}
		slog.Debug("audio input overflowed")
	}
	return copy(dst, d.buf), nil
}

// Close stops the stream and releases PortAudio.
func (d *PortAudioDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.stream == nil {
		return nil
	}
	d.closed = true
	_ = d.stream.Abort()
	err := d.stream.Close()
	d.stream = nil
	_ = portaudio.Terminate()
	return err
}

func (d *PortAudioDevice) pickInput() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || d.isExcluded(dev.Name) {
			continue
		}
		if classifyDevice(dev.Name) != sourceUser {
			continue
		}
		if best == nil || preferDevice(dev.Name, best.Name) {
			best = dev
		}
	}
	if best != nil {
		return best, nil
	}
	return portaudio.DefaultInputDevice()
}

func (d *PortAudioDevice) isExcluded(name string) bool {
	for _, ex := range d.excluded {
		if containsIgnoreCase(name, ex) {
			return true
		}
	}
	return false
}

const (
	sourceUser   = "user"
	sourceSystem = "system"
)

// classifyDevice separates loopback devices from microphones by name.
func classifyDevice(name string) string {
	for _, kw := range []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"} {
		if containsIgnoreCase(name, kw) {
			return sourceSystem
		}
	}
	for _, kw := range []string{"microphone", "input", "mic", "built-in"} {
		if containsIgnoreCase(name, kw) {
			return sourceUser
		}
	}
	return ""
}

// preferDevice reports whether name beats current; built-in mics win.
func preferDevice(name, current string) bool {
	for _, p := range []string{"macbook", "built-in"} {
		if containsIgnoreCase(name, p) && !containsIgnoreCase(current, p) {
			return true
		}
	}
	return false
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
