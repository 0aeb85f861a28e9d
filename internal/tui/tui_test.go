package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/logging"
	"github.com/satindergrewal/klipper/internal/audio"
	"github.com/satindergrewal/klipper/internal/editor"
	"github.com/satindergrewal/klipper/internal/importer"
	"github.com/satindergrewal/klipper/internal/mixer"
)

type secondsDecoder struct{}

func (secondsDecoder) Decode(ctx context.Context, name string, data []byte) (*audio.Buffer, error) {
	return audio.NewBuffer(audio.SampleRate, [][]float32{make([]float32, int(data[0])*audio.SampleRate)})
}

func newModel(t *testing.T) (Model, *editor.Session) {
	t.Helper()
	log := logging.NewDefaultLoggerFactory().NewLogger("tui")
	imp := importer.New(secondsDecoder{}, 1, log)
	sess := editor.New(mixer.New(log), imp, editor.Options{}, log)
	rep := sess.Import(context.Background(), []importer.File{
		importer.FromBytes("kick.wav", []byte{2}),
		importer.FromBytes("snare.wav", []byte{3}),
	})
	if len(rep.Added) != 2 {
		t.Fatalf("import: %+v", rep)
	}
	m := New(context.Background(), sess, Options{Title: "test"})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return next.(Model), sess
}

func press(m Model, k string) (Model, tea.Cmd) {
	var msg tea.KeyMsg
	switch k {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case " ":
		msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// --- Rendering ---

func TestFormatTime(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0:00.00"},
		{75.5, "1:15.50"},
		{-3, "0:00.00"},
	}
	for _, tt := range tests {
		if got := formatTime(tt.in); got != tt.want {
			t.Errorf("formatTime(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderLane(t *testing.T) {
	st := editor.Status{
		Zoom:     1,
		Position: 0,
		Clips: []editor.ClipInfo{
			{Name: "a", Start: 0, End: 2},
			{Name: "b", Start: 3, End: 4},
		},
	}
	rows := renderLane(st, 1, nil, 10)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	// 0.5s per column: A covers columns 0-3, B covers 6-7.
	if n := strings.Count(rows[1], "A"); n != 4 {
		t.Errorf("A columns = %d, want 4", n)
	}
	if n := strings.Count(rows[1], "B"); n != 2 {
		t.Errorf("B columns = %d, want 2", n)
	}
	if !strings.Contains(rows[2], "▲") || !strings.Contains(rows[2], "^") {
		t.Errorf("markers row = %q", rows[2])
	}
	if renderLane(st, 0, nil, 0) != nil {
		t.Error("zero width should render nothing")
	}
}

func TestViewBeforeAndAfterResize(t *testing.T) {
	log := logging.NewDefaultLoggerFactory().NewLogger("tui")
	sess := editor.New(mixer.New(log), importer.New(secondsDecoder{}, 1, log), editor.Options{}, log)
	m := New(context.Background(), sess, Options{})
	if m.View() != "Loading…" {
		t.Errorf("View before size = %q", m.View())
	}

	m2, _ := newModel(t)
	v := m2.View()
	for _, want := range []string{"klipper", "kick.wav", "snare.wav", "stopped"} {
		if !strings.Contains(v, want) {
			t.Errorf("View missing %q", want)
		}
	}
}

// --- Keys ---

func TestKeysDriveSession(t *testing.T) {
	m, sess := newModel(t)

	m, _ = press(m, "l") // cursor 0.5
	m, _ = press(m, "l") // cursor 1.0
	if m.cursor != 1 {
		t.Fatalf("cursor = %v, want 1", m.cursor)
	}
	m, _ = press(m, "enter")
	if sel := sess.Status().Selection; sel == nil || sel.Start != 1 || sel.End != 2 {
		t.Fatalf("selection = %+v", sel)
	}

	m, _ = press(m, "x")
	if n := len(sess.Status().Clips); n != 1 {
		t.Fatalf("after cut: %d clips", n)
	}
	m, _ = press(m, "u")
	if n := len(m.st.Clips); n != 2 {
		t.Errorf("after undo the view shows %d clips", n)
	}

	m, _ = press(m, "+")
	if z := sess.Status().Zoom; z != 1.2 {
		t.Errorf("zoom = %v", z)
	}
	m, _ = press(m, "0")

	m, _ = press(m, " ")
	if !sess.Status().Playing {
		t.Error("space did not start playback")
	}
	m, _ = press(m, "s")
	if sess.Status().State != "stopped" {
		t.Error("s did not stop")
	}
}

func TestMarkInOut(t *testing.T) {
	m, sess := newModel(t)
	m, _ = press(m, "l")
	m, _ = press(m, "[")
	for range 4 {
		m, _ = press(m, "l")
	}
	m, _ = press(m, "]")
	sel := sess.Status().Selection
	if sel == nil || sel.Start != 0.5 || sel.End != 2.5 {
		t.Fatalf("selection = %+v", sel)
	}
	if m.markIn != nil {
		t.Error("mark not cleared")
	}
}

func TestUndoAtBoundaryShowsNotice(t *testing.T) {
	m, _ := newModel(t)
	m, _ = press(m, "u")
	m, _ = press(m, "u")
	m, _ = press(m, "u")
	if m.notice.text != "nothing to undo" {
		t.Errorf("notice = %q", m.notice.text)
	}
}

func TestExportWithoutPath(t *testing.T) {
	m, _ := newModel(t)
	m, cmd := press(m, "e")
	if cmd != nil || !m.notice.err {
		t.Errorf("cmd = %v notice = %+v", cmd, m.notice)
	}
}

func TestSaveReportsError(t *testing.T) {
	m, _ := newModel(t)
	saved, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	if cmd == nil {
		t.Fatal("save should run in the background")
	}
	next, _ := saved.(Model).Update(cmd())
	if n := next.(Model).notice; !n.err || !strings.Contains(n.text, "no project path") {
		t.Errorf("notice = %+v", n)
	}
}

func TestQuit(t *testing.T) {
	m, _ := newModel(t)
	_, cmd := press(m, "q")
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}
