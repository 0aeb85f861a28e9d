package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pion/logging"
	"github.com/satindergrewal/klipper/internal/audio"
	"github.com/satindergrewal/klipper/internal/editor"
	"github.com/satindergrewal/klipper/internal/importer"
	"github.com/satindergrewal/klipper/internal/mixer"
)

// secondsDecoder decodes data[0] seconds of silence.
type secondsDecoder struct{}

func (secondsDecoder) Decode(ctx context.Context, name string, data []byte) (*audio.Buffer, error) {
	if strings.Contains(name, "bad") || len(data) == 0 {
		return nil, &audio.DecodeError{File: name, Err: errors.New("unreadable")}
	}
	return audio.NewBuffer(audio.SampleRate, [][]float32{make([]float32, int(data[0])*audio.SampleRate)})
}

func newServer(t *testing.T) (*Server, *editor.Session) {
	t.Helper()
	log := logging.NewDefaultLoggerFactory().NewLogger("api")
	imp := importer.New(secondsDecoder{}, 1, log)
	sess := editor.New(mixer.New(log), imp, editor.Options{}, log)
	return New(sess, t.TempDir(), log), sess
}

// seed places A (0-5) and B (5-12).
func seed(t *testing.T, sess *editor.Session) {
	t.Helper()
	rep := sess.Import(context.Background(), []importer.File{
		importer.FromBytes("A.wav", []byte{5}),
		importer.FromBytes("B.wav", []byte{7}),
	})
	if len(rep.Added) != 2 {
		t.Fatalf("seed: %+v", rep)
	}
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeReply(t *testing.T, rec *httptest.ResponseRecorder) reply {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var r reply
	if err := json.NewDecoder(rec.Body).Decode(&r); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return r
}

// --- Status ---

func TestStatus(t *testing.T) {
	s, sess := newServer(t)
	seed(t, sess)
	rec := do(t, s, http.MethodGet, "/api/status", "")
	var st editor.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if len(st.Clips) != 2 || st.Duration != 12 || st.State != "stopped" {
		t.Errorf("status = %+v", st)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestCommandsRequirePOST(t *testing.T) {
	s, _ := newServer(t)
	for _, path := range []string{"/api/play", "/api/cut", "/api/undo", "/api/import"} {
		if rec := do(t, s, http.MethodGet, path, ""); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s = %d, want 405", path, rec.Code)
		}
	}
}

// --- Editing ---

func TestSelectCutPasteUndo(t *testing.T) {
	s, sess := newServer(t)
	seed(t, sess)

	decodeReply(t, do(t, s, http.MethodPost, "/api/select", `{"start":0,"end":4}`))
	r := decodeReply(t, do(t, s, http.MethodPost, "/api/cut", ""))
	if len(r.Status.Clips) != 1 || r.Status.ClipboardSize != 1 {
		t.Fatalf("after cut: %+v", r.Status)
	}

	r = decodeReply(t, do(t, s, http.MethodPost, "/api/paste", `{"at":20}`))
	if len(r.Status.Clips) != 2 || r.Status.Duration != 25 {
		t.Fatalf("after paste: %+v", r.Status)
	}

	r = decodeReply(t, do(t, s, http.MethodPost, "/api/undo", ""))
	if !r.OK || len(r.Status.Clips) != 1 {
		t.Errorf("undo: %+v", r)
	}
	r = decodeReply(t, do(t, s, http.MethodPost, "/api/redo", ""))
	if !r.OK || len(r.Status.Clips) != 2 {
		t.Errorf("redo: %+v", r)
	}
	r = decodeReply(t, do(t, s, http.MethodPost, "/api/redo", ""))
	if r.OK {
		t.Error("redo at the newest state should report ok=false")
	}
}

func TestSelectAt(t *testing.T) {
	s, sess := newServer(t)
	seed(t, sess)
	r := decodeReply(t, do(t, s, http.MethodPost, "/api/select", `{"at":6}`))
	if r.Status.Selection == nil || r.Status.Selection.Start != 6 || r.Status.Selection.End != 7 {
		t.Errorf("selection = %+v", r.Status.Selection)
	}
	r = decodeReply(t, do(t, s, http.MethodPost, "/api/deselect", ""))
	if r.Status.Selection != nil {
		t.Error("selection not cleared")
	}
}

func TestBadRequests(t *testing.T) {
	s, sess := newServer(t)
	seed(t, sess)
	tests := []struct {
		path, body string
		want       int
	}{
		{"/api/select", `{"start":3,"end":1}`, http.StatusBadRequest},
		{"/api/select", `{}`, http.StatusBadRequest},
		{"/api/select", `{not json`, http.StatusBadRequest},
		{"/api/zoom", `{"action":"sideways"}`, http.StatusBadRequest},
		{"/api/volume", `{}`, http.StatusBadRequest},
		{"/api/save", `{}`, http.StatusBadRequest},
		{"/api/load", `{}`, http.StatusBadRequest},
		{"/api/load", `{"path":"no/such/project.yaml"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := do(t, s, http.MethodPost, tt.path, tt.body); rec.Code != tt.want {
			t.Errorf("POST %s %s = %d, want %d (%s)", tt.path, tt.body, rec.Code, tt.want, rec.Body.String())
		}
	}
}

func TestMoveAndRemoveClip(t *testing.T) {
	s, sess := newServer(t)
	seed(t, sess)
	id := sess.Status().Clips[1].ID

	r := decodeReply(t, do(t, s, http.MethodPost, "/api/clips/move", `{"id":"`+id+`","start":10}`))
	if got := r.Status.Clips[1]; got.Start != 10 || got.End != 17 {
		t.Errorf("moved clip = %+v", got)
	}
	r = decodeReply(t, do(t, s, http.MethodPost, "/api/clips/remove", `{"id":"`+id+`"}`))
	if len(r.Status.Clips) != 1 {
		t.Errorf("clips after remove = %d", len(r.Status.Clips))
	}
}

func TestViewAndVolume(t *testing.T) {
	s, _ := newServer(t)
	r := decodeReply(t, do(t, s, http.MethodPost, "/api/zoom", `{"action":"in"}`))
	if r.Status.Zoom != editor.ZoomInFactor {
		t.Errorf("zoom = %v", r.Status.Zoom)
	}
	r = decodeReply(t, do(t, s, http.MethodPost, "/api/scroll", `{"position":3}`))
	if r.Status.Scroll != 3 {
		t.Errorf("scroll = %v", r.Status.Scroll)
	}
	r = decodeReply(t, do(t, s, http.MethodPost, "/api/volume", `{"volume":0.25}`))
	if r.Status.Volume != 0.25 {
		t.Errorf("volume = %v", r.Status.Volume)
	}
}

func TestTransportCommands(t *testing.T) {
	s, sess := newServer(t)
	seed(t, sess)
	if r := decodeReply(t, do(t, s, http.MethodPost, "/api/play", "")); r.Status.State != "playing" {
		t.Errorf("state after play = %s", r.Status.State)
	}
	if r := decodeReply(t, do(t, s, http.MethodPost, "/api/seek", `{"position":7}`)); r.Status.Position != 7 {
		t.Errorf("position after seek = %v", r.Status.Position)
	}
	if r := decodeReply(t, do(t, s, http.MethodPost, "/api/pause", "")); r.Status.State != "paused" {
		t.Errorf("state after pause = %s", r.Status.State)
	}
	if r := decodeReply(t, do(t, s, http.MethodPost, "/api/stop", "")); r.Status.State != "stopped" || r.Status.Position != 0 {
		t.Errorf("after stop: %+v", r.Status)
	}
}

// --- Import ---

func TestImportMultipart(t *testing.T) {
	s, _ := newServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range []struct {
		name string
		data []byte
	}{{"one.wav", []byte{2}}, {"bad.wav", []byte{1}}} {
		part, err := mw.CreateFormFile("file", f.name)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(f.data)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var out importReply
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Added) != 1 || len(out.Failed) != 1 {
		t.Errorf("reply = %+v", out)
	}
	if len(out.Status.Clips) != 1 || out.Status.Clips[0].Name != "one.wav" {
		t.Errorf("clips = %+v", out.Status.Clips)
	}
}

func TestImportNoFiles(t *testing.T) {
	s, _ := newServer(t)
	if rec := do(t, s, http.MethodPost, "/api/import", `{"paths":[]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestImportPathsReportsMissingFile(t *testing.T) {
	s, _ := newServer(t)
	rec := do(t, s, http.MethodPost, "/api/import", `{"paths":["gone.wav"]}`)
	var out importReply
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Added) != 0 || len(out.Failed) != 1 {
		t.Errorf("reply = %+v", out)
	}
}

// --- Export ---

func TestExportPCM(t *testing.T) {
	s, sess := newServer(t)
	seed(t, sess)
	rec := do(t, s, http.MethodGet, "/api/export?format=pcm", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/L16" {
		t.Errorf("Content-Type = %q", ct)
	}
	want := 12 * audio.SampleRate * audio.Channels * 2
	if rec.Body.Len() != want {
		t.Errorf("body = %d bytes, want %d", rec.Body.Len(), want)
	}
}

func TestExportErrors(t *testing.T) {
	s, sess := newServer(t)
	if rec := do(t, s, http.MethodGet, "/api/export", ""); rec.Code != http.StatusConflict {
		t.Errorf("empty timeline export = %d, want 409", rec.Code)
	}
	seed(t, sess)
	if rec := do(t, s, http.MethodGet, "/api/export?format=xyz", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown format export = %d, want 400", rec.Code)
	}
}

func TestSaveInMemoryClipsConflicts(t *testing.T) {
	s, sess := newServer(t)
	seed(t, sess)
	if rec := do(t, s, http.MethodPost, "/api/save", `{"path":"p.yaml"}`); rec.Code != http.StatusConflict {
		t.Errorf("save = %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

// --- Request hygiene ---

func TestCommandBodyMustBeJSON(t *testing.T) {
	s, sess := newServer(t)
	seed(t, sess)
	req := httptest.NewRequest(http.MethodPost, "/api/select", strings.NewReader(`{"start":0,"end":4}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("text/plain body = %d, want 415", rec.Code)
	}
	if sess.Status().Selection != nil {
		t.Error("rejected request changed the selection")
	}
}

func TestJSONWithCharsetAccepted(t *testing.T) {
	s, sess := newServer(t)
	seed(t, sess)
	req := httptest.NewRequest(http.MethodPost, "/api/select", strings.NewReader(`{"start":0,"end":4}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if r := decodeReply(t, rec); r.Status.Selection == nil {
		t.Error("selection not set")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/import", strings.NewReader(`{"paths":["gone.wav"]}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("import with charset = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestCrossOriginCommandsRejected(t *testing.T) {
	s, sess := newServer(t)
	seed(t, sess)
	for _, hdr := range []map[string]string{
		{"Sec-Fetch-Site": "cross-site"},
		{"Origin": "http://evil.example"},
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/clear", nil)
		for k, v := range hdr {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%v: status = %d, want 403", hdr, rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Errorf("%v: POST reply carries a CORS header", hdr)
		}
	}
	if n := len(sess.Status().Clips); n != 2 {
		t.Errorf("cross-origin clear went through: %d clips", n)
	}

	// Reads stay open to other origins.
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("cross-origin GET = %d, CORS %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestPathsConfinedToRoot(t *testing.T) {
	s, _ := newServer(t)
	outside := filepath.Join(t.TempDir(), "victim.yaml")
	for _, tt := range []struct{ path, body string }{
		{"/api/save", `{"path":"../escape.yaml"}`},
		{"/api/save", `{"path":"` + outside + `"}`},
		{"/api/load", `{"path":"../../etc/passwd"}`},
		{"/api/import", `{"paths":["` + outside + `"]}`},
	} {
		if rec := do(t, s, http.MethodPost, tt.path, tt.body); rec.Code != http.StatusForbidden {
			t.Errorf("POST %s %s = %d, want 403", tt.path, tt.body, rec.Code)
		}
	}
	if _, err := os.Stat(outside); !os.IsNotExist(err) {
		t.Error("a file was written outside the root")
	}
}

func TestSaveAndLoadInsideRoot(t *testing.T) {
	s, _ := newServer(t)
	if err := os.WriteFile(filepath.Join(s.root, "a.wav"), []byte{2}, 0o644); err != nil {
		t.Fatal(err)
	}
	if r := decodeImport(t, do(t, s, http.MethodPost, "/api/import", `{"paths":["a.wav"]}`)); len(r.Added) != 1 {
		t.Fatalf("import: %+v", r)
	}
	decodeReply(t, do(t, s, http.MethodPost, "/api/save", `{"path":"songs/../song.yaml"}`))
	if _, err := os.Stat(filepath.Join(s.root, "song.yaml")); err != nil {
		t.Fatalf("project not saved in root: %v", err)
	}
	decodeReply(t, do(t, s, http.MethodPost, "/api/clear", ""))
	r := decodeReply(t, do(t, s, http.MethodPost, "/api/load", `{"path":"song.yaml"}`))
	if len(r.Status.Clips) != 1 || r.Status.Duration != 2 {
		t.Errorf("loaded status = %+v", r.Status)
	}
}

func decodeImport(t *testing.T, rec *httptest.ResponseRecorder) importReply {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var out importReply
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}
