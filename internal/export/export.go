// Package export renders the arrangement to a single audio file.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/satindergrewal/klipper/internal/audio"
	"github.com/satindergrewal/klipper/internal/mixer"
	"github.com/satindergrewal/klipper/internal/timeline"
	"gopkg.in/hraban/opus.v2"
)

var (
	// ErrUnsupportedFormat is returned for a format Export does not know.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrNothingToExport is returned when there are no clips.
	ErrNothingToExport = errors.New("nothing to export")
)

// Options controls an export.
type Options struct {
	Format      string  // wav, pcm, opus or an ffmpeg codec name
	Volume      float64 // master gain applied to the mix
	FFmpeg      string  // ffmpeg binary, "ffmpeg" when empty
	OpusBitrate int     // bits per second, 128000 when zero
}

// Export mixes clips and writes them to w in opts.Format.
func Export(ctx context.Context, w io.Writer, clips []timeline.Clip, opts Options) error {
	format, err := check(clips, opts.Format)
	if err != nil {
		return err
	}

	pcm, err := mixer.Mixdown(clips, opts.Volume)
	if err != nil {
		return fmt.Errorf("mixdown: %w", err)
	}

	switch format {
	case "wav":
		return writeWAV(w, pcm)
	case "pcm":
		_, err := w.Write(audio.SamplesToBytes(pcm))
		return err
	case "opus":
		return writeOpus(w, pcm, opts.OpusBitrate)
	}
	codec, _ := LookupCodec(format)
	return writeFFmpeg(ctx, w, pcm, codec, opts.FFmpeg)
}

// check returns the normalised format, or the reason nothing can be exported.
func check(clips []timeline.Clip, format string) (string, error) {
	if len(clips) == 0 {
		return "", ErrNothingToExport
	}
	f := strings.ToLower(format)
	switch f {
	case "wav", "pcm", "opus":
		return f, nil
	}
	if _, ok := LookupCodec(f); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return f, nil
}

// ExportFile writes to path. An empty opts.Format is taken from the file
// extension. The mix goes to a temporary file next to path that replaces it
// only once complete, so a failed export leaves any existing file as it was.
func ExportFile(ctx context.Context, path string, clips []timeline.Clip, opts Options) (err error) {
	if opts.Format == "" {
		opts.Format = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	if _, err := check(clips, opts.Format); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".klipper-export-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if err = Export(ctx, tmp, clips, opts); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func writeWAV(w io.Writer, pcm []int16) error {
	ws, ok := w.(io.WriteSeeker)
	var mem *memFile
	if !ok {
		mem = &memFile{}
		ws = mem
	}

	enc := wav.NewEncoder(ws, audio.SampleRate, audio.BitDepth, audio.Channels, 1)
	data := make([]int, len(pcm))
	for i, v := range pcm {
		data[i] = int(v)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: audio.Channels, SampleRate: audio.SampleRate},
		Data:           data,
		SourceBitDepth: audio.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wav encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wav finalize: %w", err)
	}
	if mem != nil {
		_, err := w.Write(mem.data)
		return err
	}
	return nil
}

// writeOpus encodes 20ms Opus packets into an Ogg container.
func writeOpus(w io.Writer, pcm []int16, bitrate int) error {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		return fmt.Errorf("opus encoder: %w", err)
	}
	if bitrate <= 0 {
		bitrate = 128000
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return fmt.Errorf("opus bitrate: %w", err)
	}

	// The Ogg writer closes its output if it can; the caller owns w.
	ogg, err := oggwriter.NewWith(struct{ io.Writer }{w}, audio.SampleRate, audio.Channels)
	if err != nil {
		return fmt.Errorf("ogg writer: %w", err)
	}

	frame := make([]int16, audio.FrameSamples)
	packet := make([]byte, 4000)
	var seq uint16
	for off := 0; off < len(pcm); off += audio.FrameSamples {
		n := copy(frame, pcm[off:])
		clear(frame[n:])
		size, err := enc.Encode(frame, packet)
		if err != nil {
			return fmt.Errorf("opus encode: %w", err)
		}
		err = ogg.WriteRTP(&rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				SequenceNumber: seq,
				Timestamp:      uint32(off / audio.Channels),
			},
			Payload: packet[:size],
		})
		if err != nil {
			return fmt.Errorf("ogg write: %w", err)
		}
		seq++
	}
	return ogg.Close()
}

func writeFFmpeg(ctx context.Context, w io.Writer, pcm []int16, c Codec, bin string) error {
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, FFmpegArgs(c, false)...)
	cmd.Stdin = bytes.NewReader(audio.SamplesToBytes(pcm))
	cmd.Stdout = w
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg %s: %w: %s", c.Format, err, msg)
		}
		return fmt.Errorf("ffmpeg %s: %w", c.Format, err)
	}
	return nil
}

// memFile is an in-memory io.WriteSeeker for encoders that patch headers.
type memFile struct {
	data []byte
	pos  int
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.data) {
		m.data = append(m.data, make([]byte, end-len(m.data))...)
	}
	n := copy(m.data[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(m.pos) + offset
	case io.SeekEnd:
		pos = int64(len(m.data)) + offset
	default:
		return 0, errors.New("memfile: bad whence")
	}
	if pos < 0 {
		return 0, errors.New("memfile: negative position")
	}
	m.pos = int(pos)
	return pos, nil
}
