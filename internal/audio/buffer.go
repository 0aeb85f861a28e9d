package audio

import (
	"errors"
	"fmt"
)

// ErrInvalidBuffer is returned when a buffer would violate its shape
// constraints (no channels, non-positive rate, ragged channels).
var ErrInvalidBuffer = errors.New("invalid sample buffer")

// Buffer is decoded PCM audio, one []float32 per channel in [-1, 1].
// A Buffer is never modified after construction, so any number of clips
// may reference the same one.
type Buffer struct {
	sampleRate int
	data       [][]float32
}

// NewBuffer takes ownership of data. Callers must not modify the slices
// afterwards.
func NewBuffer(sampleRate int, data [][]float32) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidBuffer, sampleRate)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no channels", ErrInvalidBuffer)
	}
	frames := len(data[0])
	for i, ch := range data {
		if len(ch) != frames {
			return nil, fmt.Errorf("%w: channel %d has %d frames, want %d", ErrInvalidBuffer, i, len(ch), frames)
		}
	}
	return &Buffer{sampleRate: sampleRate, data: data}, nil
}

// FromInterleaved builds a Buffer from interleaved int16 PCM, the layout
// ffmpeg and most decoders hand back. A trailing partial frame is dropped.
func FromInterleaved(sampleRate, channels int, samples []int16) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidBuffer, channels)
	}
	frames := len(samples) / channels
	data := make([][]float32, channels)
	for ch := range data {
		data[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			data[ch][i] = float32(samples[i*channels+ch]) / 32768
		}
	}
	return NewBuffer(sampleRate, data)
}

// SampleRate returns the rate in Hz.
func (b *Buffer) SampleRate() int { return b.sampleRate }

// Channels returns the channel count (always >= 1).
func (b *Buffer) Channels() int { return len(b.data) }

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int { return len(b.data[0]) }

// Duration returns Frames / SampleRate in seconds.
func (b *Buffer) Duration() float64 {
	return float64(b.Frames()) / float64(b.sampleRate)
}

// Sample returns one sample, or 0 outside the buffer.
func (b *Buffer) Sample(channel, frame int) float32 {
	if channel < 0 || channel >= len(b.data) || frame < 0 || frame >= len(b.data[channel]) {
		return 0
	}
	return b.data[channel][frame]
}

// Interleaved returns the samples as interleaved float32, channel-major per
// frame. The result is a fresh slice.
func (b *Buffer) Interleaved() []float32 {
	nch := len(b.data)
	out := make([]float32, b.Frames()*nch)
	for i := 0; i < b.Frames(); i++ {
		for ch := 0; ch < nch; ch++ {
			out[i*nch+ch] = b.data[ch][i]
		}
	}
	return out
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer(channels=%d frames=%d rate=%d)", b.Channels(), b.Frames(), b.sampleRate)
}
