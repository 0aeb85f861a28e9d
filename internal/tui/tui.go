// Package tui provides a Bubble Tea editor for a klipper session.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/satindergrewal/klipper/internal/editor"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	clipStyles = []lipgloss.Style{
		lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("25")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("29")),
		lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("94")),
	}

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("220"))

	emptyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	playheadStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// colsPerSecond is the lane resolution at zoom 1.
const colsPerSecond = 2.0

// refreshInterval is how often the view polls the session.
const refreshInterval = 50 * time.Millisecond

type refreshMsg time.Time

type noticeMsg struct {
	text string
	err  bool
}

// Options configures the editor view.
type Options struct {
	Title      string
	ExportPath string // target of the export key, format from its extension
}

// ── Model ────────────────────

// Model is the root Bubble Tea model.
type Model struct {
	sess *editor.Session
	opts Options
	ctx  context.Context

	st     editor.Status
	cursor float64
	markIn *float64

	width  int
	height int
	ready  bool

	help   help.Model
	notice noticeMsg
}

// New creates a model over sess.
func New(ctx context.Context, sess *editor.Session, opts Options) Model {
	return Model{
		sess: sess,
		opts: opts,
		ctx:  ctx,
		st:   sess.Status(),
		help: help.New(),
	}
}

// Run starts the full-screen editor and blocks until the user quits.
func Run(ctx context.Context, sess *editor.Session, opts Options) error {
	p := tea.NewProgram(New(ctx, sess, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// ── Bubble Tea interface ───────────────

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m Model) Init() tea.Cmd { return refresh() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case refreshMsg:
		m.st = m.sess.Status()
		return m, refresh()

	case noticeMsg:
		m.notice = msg
		m.st = m.sess.Status()
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		cmd, quit := m.handleKey(msg)
		if quit {
			return m, tea.Quit
		}
		m.st = m.sess.Status()
		return m, cmd
	}
	return m, nil
}

// handleKey runs the command bound to msg. Slow commands run as tea.Cmds
// and report back with a noticeMsg.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	step := 1 / (colsPerSecond * m.st.Zoom)
	s := m.sess
	m.notice = noticeMsg{}

	switch {
	case key.Matches(msg, keys.Quit):
		s.Stop()
		return nil, true
	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, keys.Play):
		m.report(s.TogglePlay())
	case key.Matches(msg, keys.Stop):
		s.Stop()
	case key.Matches(msg, keys.Left):
		m.moveCursor(-step)
	case key.Matches(msg, keys.Right):
		m.moveCursor(step)
	case key.Matches(msg, keys.Seek):
		m.report(s.Seek(m.cursor))
	case key.Matches(msg, keys.Select):
		m.markIn = nil
		m.report(s.SelectAt(m.cursor))
	case key.Matches(msg, keys.MarkIn):
		c := m.cursor
		m.markIn = &c
	case key.Matches(msg, keys.MarkOut):
		if m.markIn != nil {
			m.report(s.Select(min(*m.markIn, m.cursor), max(*m.markIn, m.cursor)))
			m.markIn = nil
		}
	case key.Matches(msg, keys.Deselect):
		m.markIn = nil
		s.ClearSelection()
	case key.Matches(msg, keys.Cut):
		s.Cut()
	case key.Matches(msg, keys.Copy):
		s.Copy()
	case key.Matches(msg, keys.Paste):
		m.report(s.PasteAt(m.cursor))
	case key.Matches(msg, keys.Delete):
		s.Delete()
	case key.Matches(msg, keys.ClearAll):
		s.ClearAll()
	case key.Matches(msg, keys.Undo):
		if !s.Undo() {
			m.notice = noticeMsg{text: "nothing to undo"}
		}
	case key.Matches(msg, keys.Redo):
		if !s.Redo() {
			m.notice = noticeMsg{text: "nothing to redo"}
		}
	case key.Matches(msg, keys.ZoomIn):
		s.ZoomIn()
	case key.Matches(msg, keys.ZoomOut):
		s.ZoomOut()
	case key.Matches(msg, keys.ZoomReset):
		s.ZoomReset()
	case key.Matches(msg, keys.VolUp):
		s.SetMasterVolume(m.st.Volume + 0.05)
	case key.Matches(msg, keys.VolDown):
		s.SetMasterVolume(m.st.Volume - 0.05)
	case key.Matches(msg, keys.Save):
		return m.background("saved", func() error { return s.Save("") }), false
	case key.Matches(msg, keys.Export):
		if m.opts.ExportPath == "" {
			m.notice = noticeMsg{text: "no export path (use --out)", err: true}
			break
		}
		path := m.opts.ExportPath
		return m.background("exported "+path, func() error { return s.ExportFile(m.ctx, path, "") }), false
	}
	return nil, false
}

func (m *Model) background(done string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return noticeMsg{text: err.Error(), err: true}
		}
		return noticeMsg{text: done}
	}
}

func (m *Model) report(err error) {
	if err != nil {
		m.notice = noticeMsg{text: err.Error(), err: true}
	}
}

// moveCursor keeps the cursor at or after 0 and scrolls the lane to keep it
// in view.
func (m *Model) moveCursor(d float64) {
	m.cursor = max(m.cursor+d, 0)
	cols := m.laneWidth()
	if cols <= 0 {
		return
	}
	visible := float64(cols) / (colsPerSecond * m.st.Zoom)
	switch {
	case m.cursor < m.st.Scroll:
		m.sess.Scroll(m.cursor)
	case m.cursor >= m.st.Scroll+visible:
		m.sess.Scroll(m.cursor - visible*0.75)
	}
}

func (m Model) laneWidth() int { return m.width - 2 }

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  klipper  " + m.opts.Title)
	lane := renderLane(m.st, m.cursor, m.markIn, m.laneWidth())

	var b strings.Builder
	b.WriteString(title + "\n\n")
	for _, row := range lane {
		b.WriteString(" " + row + "\n")
	}
	b.WriteString("\n")
	b.WriteString(m.renderClipList())
	b.WriteString("\n")

	if m.notice.text != "" {
		style := dimStyle
		if m.notice.err {
			style = errorStyle
		}
		b.WriteString(" " + style.Render(m.notice.text) + "\n")
	}
	b.WriteString(statusBarStyle.Width(m.width).Render(m.statusLine()) + "\n")
	b.WriteString(m.help.View(keys))
	return b.String()
}

func (m Model) statusLine() string {
	st := m.st
	parts := []string{
		fmt.Sprintf("%-7s", st.State),
		fmt.Sprintf("%s / %s", formatTime(st.Position), formatTime(st.Duration)),
		fmt.Sprintf("cursor %s", formatTime(m.cursor)),
		fmt.Sprintf("zoom %.2fx", st.Zoom),
		fmt.Sprintf("vol %d%%", int(st.Volume*100+0.5)),
	}
	if st.Selection != nil {
		parts = append(parts, fmt.Sprintf("sel %s-%s", formatTime(st.Selection.Start), formatTime(st.Selection.End)))
	}
	if st.ClipboardSize > 0 {
		parts = append(parts, fmt.Sprintf("clipboard %d", st.ClipboardSize))
	}
	return strings.Join(parts, "  │  ")
}

func (m Model) renderClipList() string {
	if len(m.st.Clips) == 0 {
		return " " + dimStyle.Render("No clips. Import files with `klipper edit <files>` or drop them in the watch folder.") + "\n"
	}
	var b strings.Builder
	rows := max(m.height-14, 3)
	for i, c := range m.st.Clips {
		if i == rows {
			b.WriteString(" " + dimStyle.Render(fmt.Sprintf("… %d more", len(m.st.Clips)-rows)) + "\n")
			break
		}
		tag := clipStyles[i%len(clipStyles)].Render(" " + clipLetter(i) + " ")
		fmt.Fprintf(&b, " %s %s %s\n", tag, labelStyle.Render(c.Name),
			dimStyle.Render(fmt.Sprintf("%s → %s", formatTime(c.Start), formatTime(c.End))))
	}
	return b.String()
}

// renderLane draws the ruler, clip lane and markers for width columns
// starting at the scroll position.
func renderLane(st editor.Status, cursor float64, markIn *float64, width int) []string {
	if width <= 0 {
		return nil
	}
	zoom := st.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	secPerCol := 1 / (colsPerSecond * zoom)
	colOf := func(t float64) int { return int((t - st.Scroll) / secPerCol) }

	// Ruler: a tick label every 10 columns.
	ruler := []rune(strings.Repeat(" ", width))
	for col := 0; col < width; col += 10 {
		label := []rune("|" + formatTime(st.Scroll+float64(col)*secPerCol))
		for i, r := range label {
			if col+i < width {
				ruler[col+i] = r
			}
		}
	}

	var lane strings.Builder
	for col := range width {
		t := st.Scroll + (float64(col)+0.5)*secPerCol
		idx := -1
		for i, c := range st.Clips {
			if t >= c.Start && t < c.End {
				idx = i
			}
		}
		selected := st.Selection != nil && t >= st.Selection.Start && t < st.Selection.End
		switch {
		case idx >= 0 && selected:
			lane.WriteString(selectedStyle.Render(clipLetter(idx)))
		case idx >= 0:
			lane.WriteString(clipStyles[idx%len(clipStyles)].Render(clipLetter(idx)))
		case selected:
			lane.WriteString(selectedStyle.Render("·"))
		default:
			lane.WriteString(emptyStyle.Render("·"))
		}
	}

	markers := []rune(strings.Repeat(" ", width))
	put := func(t float64, r rune) {
		if c := colOf(t); c >= 0 && c < width {
			markers[c] = r
		}
	}
	if markIn != nil {
		put(*markIn, '[')
	}
	put(cursor, '^')
	put(st.Position, '▲')

	var marks strings.Builder
	for _, r := range markers {
		switch r {
		case '▲':
			marks.WriteString(playheadStyle.Render(string(r)))
		case '^', '[':
			marks.WriteString(cursorStyle.Render(string(r)))
		default:
			marks.WriteRune(r)
		}
	}

	return []string{dimStyle.Render(string(ruler)), lane.String(), marks.String()}
}

func clipLetter(i int) string { return string(rune('A' + i%26)) }

func formatTime(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	m := int(sec) / 60
	return fmt.Sprintf("%d:%05.2f", m, sec-float64(m*60))
}
