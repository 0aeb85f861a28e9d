// Package api exposes an editor session as a JSON HTTP API.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/pion/logging"
	"github.com/satindergrewal/klipper/internal/editor"
	"github.com/satindergrewal/klipper/internal/export"
	"github.com/satindergrewal/klipper/internal/importer"
	"github.com/satindergrewal/klipper/internal/project"
	"github.com/satindergrewal/klipper/internal/timeline"
)

// MaxUpload caps the in-memory part of a multipart import.
const MaxUpload = 32 << 20

var (
	// ErrOutsideRoot is returned for save, load and import paths that leave
	// the server's root directory.
	ErrOutsideRoot = errors.New("path outside the project root")
	// ErrNotJSON is returned for command bodies that are not
	// application/json.
	ErrNotJSON = errors.New("request body must be application/json")
)

// Server routes /api/* requests to a session. Browsers may read from it
// cross-origin but not send it commands; file paths are confined to root.
type Server struct {
	sess    *editor.Session
	root    string
	log     logging.LeveledLogger
	mux     *http.ServeMux
	handler http.Handler
}

type reply struct {
	OK     bool          `json:"ok"`
	Status editor.Status `json:"status"`
}

type importReply struct {
	Added  []string      `json:"added"`
	Failed []string      `json:"failed,omitempty"`
	Status editor.Status `json:"status"`
}

// New builds the API for sess. Relative paths in requests are resolved
// against root, and paths that resolve outside it are refused.
func New(sess *editor.Session, root string, log logging.LeveledLogger) *Server {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	s := &Server{sess: sess, root: filepath.Clean(root), log: log, mux: http.NewServeMux()}
	s.routes()
	s.handler = http.NewCrossOriginProtection().Handler(s.mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	s.handler.ServeHTTP(w, r)
}

// resolve maps a request path into root. An empty path stays empty.
func (s *Server) resolve(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return p, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.sess.Status())
	})
	s.mux.HandleFunc("/api/formats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, export.Formats())
	})

	s.mux.HandleFunc("/api/import", post(s.handleImport))

	// Transport
	s.command("/api/play", func(*http.Request) (bool, error) { return true, s.sess.Play() })
	s.command("/api/toggle", func(*http.Request) (bool, error) { return true, s.sess.TogglePlay() })
	s.command("/api/pause", func(*http.Request) (bool, error) { s.sess.Pause(); return true, nil })
	s.command("/api/stop", func(*http.Request) (bool, error) { s.sess.Stop(); return true, nil })
	s.command("/api/seek", func(r *http.Request) (bool, error) {
		var req struct {
			Position float64 `json:"position"`
		}
		if err := decode(r, &req); err != nil {
			return false, err
		}
		return true, s.sess.Seek(req.Position)
	})

	// Selection
	s.command("/api/select", func(r *http.Request) (bool, error) {
		var req struct {
			Start *float64 `json:"start"`
			End   *float64 `json:"end"`
			At    *float64 `json:"at"`
		}
		if err := decode(r, &req); err != nil {
			return false, err
		}
		switch {
		case req.At != nil:
			return true, s.sess.SelectAt(*req.At)
		case req.Start != nil && req.End != nil:
			return true, s.sess.Select(*req.Start, *req.End)
		}
		return false, badRequest("start and end, or at, required")
	})
	s.command("/api/deselect", func(*http.Request) (bool, error) { s.sess.ClearSelection(); return true, nil })

	// Edits
	s.command("/api/cut", func(*http.Request) (bool, error) { s.sess.Cut(); return true, nil })
	s.command("/api/copy", func(*http.Request) (bool, error) { s.sess.Copy(); return true, nil })
	s.command("/api/paste", func(r *http.Request) (bool, error) {
		var req struct {
			At *float64 `json:"at"`
		}
		if err := decode(r, &req); err != nil {
			return false, err
		}
		if req.At != nil {
			return true, s.sess.PasteAt(*req.At)
		}
		return true, s.sess.Paste()
	})
	s.command("/api/delete", func(*http.Request) (bool, error) { s.sess.Delete(); return true, nil })
	s.command("/api/clear", func(*http.Request) (bool, error) { s.sess.ClearAll(); return true, nil })
	s.command("/api/clips/move", func(r *http.Request) (bool, error) {
		var req struct {
			ID    string  `json:"id"`
			Start float64 `json:"start"`
		}
		if err := decode(r, &req); err != nil {
			return false, err
		}
		return true, s.sess.MoveClip(req.ID, req.Start)
	})
	s.command("/api/clips/remove", func(r *http.Request) (bool, error) {
		var req struct {
			ID string `json:"id"`
		}
		if err := decode(r, &req); err != nil {
			return false, err
		}
		s.sess.RemoveClip(req.ID)
		return true, nil
	})

	// History
	s.command("/api/undo", func(*http.Request) (bool, error) { return s.sess.Undo(), nil })
	s.command("/api/redo", func(*http.Request) (bool, error) { return s.sess.Redo(), nil })

	// View
	s.command("/api/zoom", func(r *http.Request) (bool, error) {
		var req struct {
			Action string `json:"action"`
		}
		if err := decode(r, &req); err != nil {
			return false, err
		}
		switch req.Action {
		case "in":
			s.sess.ZoomIn()
		case "out":
			s.sess.ZoomOut()
		case "reset":
			s.sess.ZoomReset()
		default:
			return false, badRequest("action must be in, out or reset")
		}
		return true, nil
	})
	s.command("/api/scroll", func(r *http.Request) (bool, error) {
		var req struct {
			Position float64 `json:"position"`
		}
		if err := decode(r, &req); err != nil {
			return false, err
		}
		s.sess.Scroll(req.Position)
		return true, nil
	})
	s.command("/api/volume", func(r *http.Request) (bool, error) {
		var req struct {
			Volume *float64 `json:"volume"`
		}
		if err := decode(r, &req); err != nil {
			return false, err
		}
		if req.Volume == nil {
			return false, badRequest("volume required")
		}
		s.sess.SetMasterVolume(*req.Volume)
		return true, nil
	})

	// Output and persistence
	s.mux.HandleFunc("/api/export", s.handleExport)
	s.command("/api/save", func(r *http.Request) (bool, error) {
		var req struct {
			Path string `json:"path"`
		}
		if err := decode(r, &req); err != nil {
			return false, err
		}
		path, err := s.resolve(req.Path)
		if err != nil {
			return false, err
		}
		return true, s.sess.Save(path)
	})
	s.command("/api/load", func(r *http.Request) (bool, error) {
		var req struct {
			Path string `json:"path"`
		}
		if err := decode(r, &req); err != nil {
			return false, err
		}
		if req.Path == "" {
			return false, badRequest("path required")
		}
		path, err := s.resolve(req.Path)
		if err != nil {
			return false, err
		}
		return true, s.sess.Load(r.Context(), path)
	})
}

// command registers a POST endpoint that runs fn and replies with the
// resulting session status.
func (s *Server) command(path string, fn func(r *http.Request) (bool, error)) {
	s.mux.HandleFunc(path, post(func(w http.ResponseWriter, r *http.Request) {
		ok, err := fn(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, reply{OK: ok, Status: s.sess.Status()})
	}))
}

// handleImport accepts either multipart uploads in "file" fields or a JSON
// body {"paths": [...]} naming files on the server.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var files []importer.File
	if isJSON(r) {
		var req struct {
			Paths []string `json:"paths"`
		}
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		for _, p := range req.Paths {
			path, err := s.resolve(p)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			files = append(files, importer.FromPath(path))
		}
	} else {
		if err := r.ParseMultipartForm(MaxUpload); err != nil {
			s.fail(w, r, badRequest("multipart form with file fields required"))
			return
		}
		for _, fh := range r.MultipartForm.File["file"] {
			f, err := fh.Open()
			if err != nil {
				s.fail(w, r, err)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				s.fail(w, r, err)
				return
			}
			files = append(files, importer.FromBytes(fh.Filename, data))
		}
	}
	if len(files) == 0 {
		s.fail(w, r, badRequest("no files"))
		return
	}

	rep := s.sess.Import(r.Context(), files)
	out := importReply{Added: rep.Added, Status: s.sess.Status()}
	if out.Added == nil {
		out.Added = []string{}
	}
	for _, err := range rep.Failed {
		out.Failed = append(out.Failed, err.Error())
	}
	writeJSON(w, out)
}

// handleExport renders the arrangement and sends it as a download. The mix
// is rendered before any header goes out so failures get a proper status.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "wav"
	}
	var buf bytes.Buffer
	if err := s.sess.Export(r.Context(), &buf, format); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", export.MIME(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="klipper.%s"`, format))
	w.Write(buf.Bytes())
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		s.log.Debugf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	http.Error(w, err.Error(), code)
}

type badRequestError string

func (e badRequestError) Error() string { return string(e) }

func badRequest(msg string) error { return badRequestError(msg) }

func statusFor(err error) int {
	var br badRequestError
	switch {
	case errors.As(err, &br),
		errors.Is(err, timeline.ErrInvalidRange),
		errors.Is(err, export.ErrUnsupportedFormat),
		errors.Is(err, editor.ErrNoProjectPath),
		errors.Is(err, project.ErrVersion):
		return http.StatusBadRequest
	case errors.Is(err, ErrOutsideRoot):
		return http.StatusForbidden
	case errors.Is(err, ErrNotJSON):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, export.ErrNothingToExport),
		errors.Is(err, project.ErrNoSource):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched; any
// other body must be declared as JSON.
func decode(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	if !isJSON(r) {
		return ErrNotJSON
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid request: " + err.Error())
	}
	return nil
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
