package export

import (
	"slices"
	"strconv"

	"github.com/satindergrewal/klipper/internal/audio"
)

// Codec describes an ffmpeg-encoded output format.
type Codec struct {
	Format string
	MIME   string
	Args   []string // ffmpeg output options, before the pipe:1 target
}

var codecs = map[string]Codec{
	"mp3": {
		Format: "mp3",
		MIME:   "audio/mpeg",
		Args:   []string{"-codec:a", "libmp3lame", "-b:a", "192k", "-f", "mp3"},
	},
	"aac": {
		Format: "aac",
		MIME:   "audio/aac",
		Args:   []string{"-codec:a", "aac", "-b:a", "192k", "-f", "adts"},
	},
	"m4a": {
		Format: "m4a",
		MIME:   "audio/mp4",
		Args:   []string{"-codec:a", "aac", "-b:a", "192k", "-movflags", "frag_keyframe+empty_moov", "-f", "mp4"},
	},
	"flac": {
		Format: "flac",
		MIME:   "audio/flac",
		Args:   []string{"-codec:a", "flac", "-f", "flac"},
	},
}

// LookupCodec returns the ffmpeg codec for format.
func LookupCodec(format string) (Codec, bool) {
	c, ok := codecs[format]
	return c, ok
}

// MIME returns the content type of an export format, or "" when unknown.
func MIME(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "pcm":
		return "audio/L16"
	case "opus":
		return "audio/ogg"
	}
	return codecs[format].MIME
}

// Codecs lists the ffmpeg-encoded formats in name order.
func Codecs() []string {
	var out []string
	for f := range codecs {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Formats lists every export format, native ones first.
func Formats() []string {
	return append([]string{"wav", "pcm", "opus"}, Codecs()...)
}

// FFmpegArgs builds the ffmpeg command line that reads engine-rate s16le
// stereo on stdin and writes c to stdout.
func FFmpegArgs(c Codec, realtime bool) []string {
	args := []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
	}
	args = append(args, c.Args...)
	if realtime {
		args = append(args, "-fflags", "nobuffer", "-flush_packets", "1")
	}
	return append(args, "-loglevel", "error", "pipe:1")
}
