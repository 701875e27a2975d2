package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Capture format. Every finalized Stream is mono 16-bit PCM at 16 kHz.
const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16

	wavHeaderSize = 44
	pcmFormat     = 1
)

// Format describes the PCM layout of a Stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// Stream is an immutable, finalized recording encoded as a WAV file.
type Stream struct {
	format Format
	data   []byte
}

// NewStream encodes mono PCM-16 samples into a Stream. Zero samples yield a
// valid header-only WAV.
func NewStream(samples []int16, sampleRate int) (*Stream, error) {
	data, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		return nil, err
	}
	return &Stream{
		format: Format{SampleRate: sampleRate, Channels: Channels, BitsPerSample: BitsPerSample},
		data:   data,
	}, nil
}

// Format returns the stream's PCM format.
func (s *Stream) Format() Format { return s.format }

// Reader returns a fresh reader over the WAV bytes.
func (s *Stream) Reader() io.Reader { return bytes.NewReader(s.data) }

// Len returns the encoded size in bytes.
func (s *Stream) Len() int { return len(s.data) }

// NumSamples returns the number of PCM samples in the stream.
func (s *Stream) NumSamples() int {
	return (len(s.data) - wavHeaderSize) / (BitsPerSample / 8)
}

// Duration returns the audio length.
func (s *Stream) Duration() time.Duration {
	if s.format.SampleRate == 0 {
		return 0
	}
	return time.Duration(s.NumSamples()) * time.Second / time.Duration(s.format.SampleRate)
}

// Samples decodes the PCM payload.
func (s *Stream) Samples() ([]int16, error) {
	samples, _, err := DecodeWAV(s.data)
	return samples, err
}

// EncodeWAV encodes mono PCM-16 samples into WAV format.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   pcmFormat,
		NumChannels:   Channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * Channels * BitsPerSample / 8,
		BlockAlign:    Channels * BitsPerSample / 8,
		BitsPerSample: BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write WAV header: %w", err)
	}
	if len(samples) > 0 {
		if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
			return nil, fmt.Errorf("write audio data: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeWAV decodes mono PCM-16 WAV data back to samples and sample rate.
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	r := bytes.NewReader(data)
	var header wavHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return nil, 0, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(header.Format[:]) != "WAVE":
		return nil, 0, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(header.Subchunk1ID[:]) != "fmt ":
		return nil, 0, fmt.Errorf("invalid WAV file: missing fmt chunk")
	case string(header.Subchunk2ID[:]) != "data":
		return nil, 0, fmt.Errorf("invalid WAV file: missing data chunk")
	case header.AudioFormat != pcmFormat:
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	case header.BitsPerSample != BitsPerSample:
		return nil, 0, fmt.Errorf("unsupported bit depth: %d", header.BitsPerSample)
	case header.NumChannels != Channels:
		return nil, 0, fmt.Errorf("unsupported channel count: %d", header.NumChannels)
	}

	n := int(header.Subchunk2Size) / 2
	if n > (len(data)-wavHeaderSize)/2 {
		return nil, 0, fmt.Errorf("WAV data truncated: header declares %d samples", n)
	}
	samples := make([]int16, n)
	if n > 0 {
		if err := binary.Read(r, binary.LittleEndian, samples); err != nil {
			return nil, 0, fmt.Errorf("read audio samples: %w", err)
		}
	}
	return samples, int(header.SampleRate), nil
}
