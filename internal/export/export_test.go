package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"

	"github.com/satindergrewal/klipper/internal/audio"
	"github.com/satindergrewal/klipper/internal/timeline"
)

// testClips returns one 100ms stereo clip of constant 0.5 at 0.1s.
func testClips(t *testing.T) []timeline.Clip {
	t.Helper()
	n := audio.SampleRate / 10
	l := make([]float32, n)
	r := make([]float32, n)
	for i := range l {
		l[i], r[i] = 0.5, -0.5
	}
	buf, err := audio.NewBuffer(audio.SampleRate, [][]float32{l, r})
	if err != nil {
		t.Fatal(err)
	}
	c, err := timeline.NewClip(buf, 0.1, "tone")
	if err != nil {
		t.Fatal(err)
	}
	return []timeline.Clip{c}
}

// --- Errors ---

func TestExportErrors(t *testing.T) {
	tests := []struct {
		name   string
		format string
		clips  bool
		want   error
	}{
		{"no clips", "wav", false, ErrNothingToExport},
		{"unknown format", "xm", true, ErrUnsupportedFormat},
		{"empty format", "", true, ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var clips []timeline.Clip
			if tt.clips {
				clips = testClips(t)
			}
			err := Export(context.Background(), &bytes.Buffer{}, clips, Options{Format: tt.format, Volume: 1})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

// --- Native formats ---

func TestExportPCM(t *testing.T) {
	var out bytes.Buffer
	if err := Export(context.Background(), &out, testClips(t), Options{Format: "pcm", Volume: 1}); err != nil {
		t.Fatal(err)
	}
	samples := audio.BytesToSamples(out.Bytes())
	if want := audio.SampleRate / 5 * audio.Channels; len(samples) != want {
		t.Fatalf("samples = %d, want %d (0.2s stereo)", len(samples), want)
	}
	if samples[0] != 0 {
		t.Errorf("leading gap not silent: %d", samples[0])
	}
	mid := (audio.SampleRate/10 + 100) * 2
	if samples[mid] != 16384 || samples[mid+1] != -16384 {
		t.Errorf("clip samples = %d, %d", samples[mid], samples[mid+1])
	}
}

func TestExportWAVRoundTrip(t *testing.T) {
	var out bytes.Buffer
	if err := Export(context.Background(), &out, testClips(t), Options{Format: "WAV", Volume: 0.5}); err != nil {
		t.Fatal(err)
	}
	buf, err := audio.WAVDecoder{}.Decode(context.Background(), "mix.wav", out.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if buf.SampleRate() != audio.SampleRate || buf.Channels() != 2 {
		t.Fatalf("decoded %v", buf)
	}
	if buf.Frames() != audio.SampleRate/5 {
		t.Errorf("frames = %d, want %d", buf.Frames(), audio.SampleRate/5)
	}
	if v := buf.Sample(0, audio.SampleRate/10+10); v != 0.25 {
		t.Errorf("sample = %v, want 0.25 at half volume", v)
	}
}

func TestExportFileWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mix.wav")
	if err := ExportFile(context.Background(), path, testClips(t), Options{Volume: 1}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Errorf("file does not start with RIFF: %q", data[:4])
	}
}

func TestExportFileFailureRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mix.xm")
	if err := ExportFile(context.Background(), path, testClips(t), Options{Volume: 1}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("failed export left a file behind")
	}
}

func TestExportFileFailureKeepsExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mix.flac")
	old := []byte("previous export")

	tests := []struct {
		name  string
		clips []timeline.Clip
		opts  Options
	}{
		{"nothing to export", nil, Options{Volume: 1}},
		{"unsupported format", testClips(t), Options{Format: "xm", Volume: 1}},
		{"encoder fails midway", testClips(t), Options{Volume: 1, FFmpeg: filepath.Join(dir, "no-ffmpeg")}},
	}
	for _, tt := range tests {
		if err := os.WriteFile(path, old, 0o644); err != nil {
			t.Fatal(err)
		}
		if err := ExportFile(context.Background(), path, tt.clips, tt.opts); err == nil {
			t.Errorf("%s: expected an error", tt.name)
		}
		got, err := os.ReadFile(path)
		if err != nil || !bytes.Equal(got, old) {
			t.Errorf("%s: existing file = %q, %v; want it untouched", tt.name, got, err)
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir holds %d entries, want only the original file", len(entries))
	}
}

func TestExportFileReplacesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mix.pcm")
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ExportFile(context.Background(), path, testClips(t), Options{Volume: 1}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == int64(len("stale")) || info.Mode().Perm() != 0o644 {
		t.Errorf("size %d mode %v, want the new mix with mode 0644", info.Size(), info.Mode().Perm())
	}
}

func TestExportOpus(t *testing.T) {
	var out bytes.Buffer
	if err := Export(context.Background(), &out, testClips(t), Options{Format: "opus", Volume: 1}); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(out.Bytes(), []byte("OggS")) {
		t.Fatalf("output does not start with an Ogg page")
	}
	if !bytes.Contains(out.Bytes(), []byte("OpusHead")) {
		t.Error("missing OpusHead")
	}
}

// --- ffmpeg formats ---

func TestExportFFmpegFLAC(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	var out bytes.Buffer
	if err := Export(context.Background(), &out, testClips(t), Options{Format: "flac", Volume: 1}); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(out.Bytes(), []byte("fLaC")) {
		t.Error("output is not FLAC")
	}
}

func TestExportFFmpegMissingBinary(t *testing.T) {
	err := Export(context.Background(), &bytes.Buffer{}, testClips(t), Options{Format: "mp3", Volume: 1, FFmpeg: "/nonexistent/ffmpeg"})
	if err == nil {
		t.Error("expected an error for a missing ffmpeg")
	}
}

func TestFFmpegArgs(t *testing.T) {
	c, ok := LookupCodec("mp3")
	if !ok {
		t.Fatal("mp3 codec missing")
	}
	args := FFmpegArgs(c, true)
	if args[len(args)-1] != "pipe:1" || !slices.Contains(args, "libmp3lame") || !slices.Contains(args, "nobuffer") {
		t.Errorf("args = %v", args)
	}
	if slices.Contains(FFmpegArgs(c, false), "nobuffer") {
		t.Error("offline args should not disable buffering")
	}
}

func TestFormats(t *testing.T) {
	got := Formats()
	for _, f := range []string{"wav", "pcm", "opus", "mp3", "aac", "m4a", "flac"} {
		if !slices.Contains(got, f) {
			t.Errorf("Formats() missing %s", f)
		}
	}
	if got[0] != "wav" {
		t.Errorf("first format = %s, want wav", got[0])
	}
}

func TestCodecsAreFFmpegFormats(t *testing.T) {
	got := Codecs()
	if !slices.Equal(got, []string{"aac", "flac", "m4a", "mp3"}) {
		t.Errorf("Codecs() = %v", got)
	}
	for _, f := range got {
		if _, ok := LookupCodec(f); !ok {
			t.Errorf("LookupCodec(%q) missing", f)
		}
	}
}

func TestMIME(t *testing.T) {
	for format, want := range map[string]string{
		"wav": "audio/wav", "pcm": "audio/L16", "opus": "audio/ogg", "mp3": "audio/mpeg", "xyz": "",
	} {
		if got := MIME(format); got != want {
			t.Errorf("MIME(%q) = %q, want %q", format, got, want)
		}
	}
}
