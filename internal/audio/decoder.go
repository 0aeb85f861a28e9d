package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrEmptyInput is returned for zero-length files.
var ErrEmptyInput = errors.New("empty input")

// ErrNoFrames is returned when a file decodes to no audio at all.
var ErrNoFrames = errors.New("no audio frames")

// Decoder turns raw file bytes into a Buffer. name is only used to pick a
// codec and for error messages.
type Decoder interface {
	Decode(ctx context.Context, name string, data []byte) (*Buffer, error)
}

// DecodeError reports a file that could not be turned into a Buffer. It is
// never fatal to an import batch.
type DecodeError struct {
	File string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.File, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FFmpegDecoder pipes the input through ffmpeg and reads back interleaved
// s16le stereo at SampleRate.
type FFmpegDecoder struct {
	Path string // ffmpeg binary, "ffmpeg" when empty
}

func (d FFmpegDecoder) binary() string {
	if d.Path == "" {
		return "ffmpeg"
	}
	return d.Path
}

// Decode runs ffmpeg with the file on stdin.
func (d FFmpegDecoder) Decode(ctx context.Context, name string, data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, &DecodeError{File: name, Err: ErrEmptyInput}
	}
	cmd := exec.CommandContext(ctx, d.binary(),
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return nil, &DecodeError{File: name, Err: err}
	}
	if len(out) < FrameBytes/FrameSize {
		return nil, &DecodeError{File: name, Err: errors.New("ffmpeg produced no audio")}
	}

	buf, err := FromInterleaved(SampleRate, Channels, BytesToSamples(out))
	if err != nil {
		return nil, &DecodeError{File: name, Err: err}
	}
	return buf, nil
}

// BytesToSamples converts little-endian bytes to int16 samples. An odd
// trailing byte is ignored.
func BytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
