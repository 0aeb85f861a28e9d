package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/satindergrewal/klipper/internal/api"
	"github.com/satindergrewal/klipper/internal/export"
	"github.com/satindergrewal/klipper/internal/stream"
	"github.com/spf13/cobra"
)

var (
	servePort    int
	serveProject string
	serveRoot    string
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve [files...]",
	Short: "Run the editor headless behind an HTTP API with live streams",
	Long: "Serve the editor session over HTTP. Commands live under /api/, the live\n" +
		"mix is available at /stream?format=<codec> and as WebRTC Opus via /offer.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Port = servePort
		}
		ctx := cmd.Context()
		e := newEngine(ctx)
		e.start(ctx)
		if serveProject != "" || len(args) > 0 {
			if err := e.open(ctx, serveProject, args); err != nil {
				return err
			}
		}
		e.watch(ctx)

		webrtcHandler := stream.NewWebRTCHandler(e.bus, cfg.OpusBitrate, logs)
		httpHandler := stream.NewHTTPHandler(e.bus, cfg.FFmpegPath, logs.NewLogger("stream"))

		mux := http.NewServeMux()
		mux.Handle("/api/", api.New(e.sess, apiRoot(serveRoot, serveProject), logs.NewLogger("api")))
		mux.Handle("/stream", httpHandler)
		mux.Handle("/offer", webrtcHandler)
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Access-Control-Allow-Origin", "*")
			json.NewEncoder(w).Encode(map[string]any{
				"name":             "klipper",
				"taps":             e.bus.Stats(),
				"webrtc_listeners": webrtcHandler.PeerCount(),
				"stream_formats":   append([]string{"pcm"}, export.Codecs()...),
				"export_formats":   export.Formats(),
			})
		})

		addr := fmt.Sprintf(":%d", cfg.Port)
		server := &http.Server{Addr: addr, Handler: mux}

		go func() {
			<-ctx.Done()
			e.log.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				server.Close()
			}
		}()

		e.log.Infof("klipper live on %s", addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	},
}

func init() {
	f := serveCmd.Flags()
	f.IntVar(&servePort, "port", 8080, "listen port (KLIPPER_PORT)")
	f.StringVarP(&serveProject, "project", "p", "", "project file to open, created on first save")
	f.StringVar(&serveRoot, "root", "", "directory API save, load and import paths are confined to (default: the project's directory, else the working directory)")
}

// apiRoot picks the directory API file paths are confined to.
func apiRoot(root, projectPath string) string {
	switch {
	case root != "":
		return root
	case projectPath != "":
		return filepath.Dir(projectPath)
	}
	return "."
}
