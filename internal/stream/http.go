package stream

import (
	"context"
	"io"
	"net/http"
	"os/exec"

	"github.com/pion/logging"
	"github.com/satindergrewal/klipper/internal/audio"
	"github.com/satindergrewal/klipper/internal/export"
)

// HTTPHandler serves the live mix as a chunked audio stream. Each
// connection gets its own ffmpeg encoder; ?format= picks the codec (mp3 by
// default, any ffmpeg export format) and format=pcm sends raw s16le.
type HTTPHandler struct {
	bus    *Bus
	ffmpeg string
	log    logging.LeveledLogger
}

// NewHTTPHandler creates an HTTP stream handler. ffmpeg is the binary path.
func NewHTTPHandler(b *Bus, ffmpeg string, log logging.LeveledLogger) *HTTPHandler {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &HTTPHandler{bus: b, ffmpeg: ffmpeg, log: log}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "mp3"
	}
	var codec export.Codec
	if format != "pcm" {
		if codec, ok = export.LookupCodec(format); !ok {
			http.Error(w, "unsupported format", http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	listener := h.bus.Attach("http "+r.RemoteAddr, NetworkDepth)
	defer h.bus.Detach(listener)

	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "klipper")

	if format == "pcm" {
		w.Header().Set("Content-Type", "audio/L16; rate=48000; channels=2")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		h.log.Infof("HTTP pcm listener connected (total: %d)", h.bus.Len())
		pump(ctx, listener, flushWriter{w, flusher})
		h.log.Info("HTTP pcm listener disconnected")
		return
	}
	w.Header().Set("Content-Type", codec.MIME)

	cmd := exec.CommandContext(ctx, h.ffmpeg, export.FFmpegArgs(codec, true)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		h.log.Errorf("HTTP stream: stdin pipe error: %v", err)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.log.Errorf("HTTP stream: stdout pipe error: %v", err)
		return
	}
	if err := cmd.Start(); err != nil {
		h.log.Errorf("HTTP stream: ffmpeg start error: %v", err)
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}

	h.log.Infof("HTTP %s listener connected (total: %d)", format, h.bus.Len())
	defer h.log.Infof("HTTP %s listener disconnected", format)

	go func() {
		defer stdin.Close()
		pump(ctx, listener, stdin)
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				h.log.Warnf("HTTP stream: ffmpeg read error: %v", err)
			}
			break
		}
	}

	cancel()
	cmd.Wait()
}

// pump writes tap frames to w as s16le until the listener or ctx ends
// or a write fails.
func pump(ctx context.Context, l *Tap, w io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.Done():
			return
		case frame, ok := <-l.Frames():
			if !ok {
				return
			}
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}

type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.f.Flush()
	return n, err
}
