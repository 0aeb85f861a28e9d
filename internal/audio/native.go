package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// WAVE format tags.
const (
	wavFormatPCM        = 1
	wavFormatIEEEFloat  = 3
	wavFormatExtensible = 0xFFFE
)

// WAVDecoder decodes RIFF/WAVE integer PCM and 32-bit IEEE float in-process.
// Other encodings fail with a DecodeError so a Router can fall back.
type WAVDecoder struct{}

func (WAVDecoder) Decode(ctx context.Context, name string, data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, &DecodeError{File: name, Err: ErrEmptyInput}
	}
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, &DecodeError{File: name, Err: errors.New("not a valid wav file")}
	}
	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, &DecodeError{File: name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &DecodeError{File: name, Err: err}
	}

	nch := int(d.NumChans)
	depth := int(d.BitDepth)
	if nch <= 0 || depth <= 0 || depth > 32 {
		return nil, &DecodeError{File: name, Err: fmt.Errorf("unsupported wav layout: %d channels, %d bits", nch, depth)}
	}
	isFloat := false
	switch d.WavAudioFormat {
	case wavFormatPCM, wavFormatExtensible:
	case wavFormatIEEEFloat:
		if depth != 32 {
			return nil, &DecodeError{File: name, Err: fmt.Errorf("unsupported float wav: %d bits", depth)}
		}
		isFloat = true
	default:
		return nil, &DecodeError{File: name, Err: fmt.Errorf("unsupported wav format tag %#x", d.WavAudioFormat)}
	}
	scale := float32(int64(1) << (depth - 1))
	frames := len(pcm.Data) / nch
	out := make([][]float32, nch)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < nch; ch++ {
			v := pcm.Data[i*nch+ch]
			if isFloat {
				// go-audio hands float samples back as their raw bits.
				out[ch][i] = math.Float32frombits(uint32(int32(v)))
				continue
			}
			if depth == 8 {
				v -= 128 // 8-bit wav is unsigned
			}
			out[ch][i] = float32(v) / scale
		}
	}

	buf, err := NewBuffer(int(d.SampleRate), out)
	if err != nil {
		return nil, &DecodeError{File: name, Err: err}
	}
	return buf, nil
}

// MP3Decoder decodes MPEG-1/2 layer III in-process. go-mp3 always yields
// 16-bit stereo.
type MP3Decoder struct{}

func (MP3Decoder) Decode(ctx context.Context, name string, data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, &DecodeError{File: name, Err: ErrEmptyInput}
	}
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{File: name, Err: err}
	}
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, &DecodeError{File: name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &DecodeError{File: name, Err: err}
	}
	buf, err := FromInterleaved(d.SampleRate(), 2, BytesToSamples(raw))
	if err != nil {
		return nil, &DecodeError{File: name, Err: err}
	}
	return buf, nil
}

// Router picks a Decoder by file extension and falls back to Fallback for
// anything it does not know. If the extension-specific decoder fails and a
// fallback exists, the fallback gets a second try.
type Router struct {
	ByExt    map[string]Decoder // keys are lower-case, with the dot: ".wav"
	Fallback Decoder
}

// NewRouter wires the in-process decoders and uses fallback (typically
// FFmpegDecoder) for everything else.
func NewRouter(fallback Decoder) *Router {
	return &Router{
		ByExt: map[string]Decoder{
			".wav":  WAVDecoder{},
			".wave": WAVDecoder{},
			".mp3":  MP3Decoder{},
		},
		Fallback: fallback,
	}
}

func (r *Router) Decode(ctx context.Context, name string, data []byte) (*Buffer, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if d, ok := r.ByExt[ext]; ok {
		buf, err := d.Decode(ctx, name, data)
		if err == nil || r.Fallback == nil || ctx.Err() != nil {
			return buf, err
		}
		return r.Fallback.Decode(ctx, name, data)
	}
	if r.Fallback == nil {
		return nil, &DecodeError{File: name, Err: fmt.Errorf("unsupported format %q", ext)}
	}
	return r.Fallback.Decode(ctx, name, data)
}

// Supported reports whether name has an extension the editor accepts for
// import.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".wave", ".mp3", ".flac", ".ogg", ".opus", ".m4a", ".aac", ".aif", ".aiff":
		return true
	}
	return false
}

// Chain tries each decoder in turn and returns the first success. When all
// fail, the last error is returned.
type Chain []Decoder

func (c Chain) Decode(ctx context.Context, name string, data []byte) (*Buffer, error) {
	err := error(&DecodeError{File: name, Err: errors.New("no decoders")})
	for _, d := range c {
		var buf *Buffer
		if buf, err = d.Decode(ctx, name, data); err == nil {
			return buf, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, err
}
