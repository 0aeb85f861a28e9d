// Package editor ties the timeline, history, transport and importer into one
// session that UIs drive with commands.
package editor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/satindergrewal/klipper/internal/export"
	"github.com/satindergrewal/klipper/internal/history"
	"github.com/satindergrewal/klipper/internal/importer"
	"github.com/satindergrewal/klipper/internal/project"
	"github.com/satindergrewal/klipper/internal/timeline"
	"github.com/satindergrewal/klipper/internal/transport"
)

// Zoom steps applied by ZoomIn and ZoomOut.
const (
	ZoomInFactor  = 1.2
	ZoomOutFactor = 0.8
)

// SelectAtLength is the span SelectAt selects, in seconds.
const SelectAtLength = 1.0

// Output is what the session plays through. SetGain is the master volume.
type Output interface {
	transport.Output
	SetGain(g float64)
}

// Options configures a Session.
type Options struct {
	HistoryLimit int
	TickInterval time.Duration
	FFmpeg       string
	OpusBitrate  int
}

// Session serialises every command, tick and import result behind one lock
// so the store and history only ever see one mutation at a time.
type Session struct {
	mu    sync.Mutex
	store *timeline.Store
	hist  *history.Manager
	tr    *transport.Transport
	out   Output
	imp   *importer.Importer
	opts  Options
	log   logging.LeveledLogger

	projectPath string
}

// New creates an empty session playing through out.
func New(out Output, imp *importer.Importer, opts Options, log logging.LeveledLogger) *Session {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 16 * time.Millisecond
	}
	store := timeline.NewStore()
	s := &Session{
		store: store,
		hist:  history.New(store, history.WithLimit(opts.HistoryLimit)),
		tr:    transport.New(store, out, log),
		out:   out,
		imp:   imp,
		opts:  opts,
		log:   log,
	}
	out.SetGain(store.MasterVolume())
	return s
}

// Run advances the playhead every tick interval until ctx is done.
func (s *Session) Run(ctx context.Context) {
	transport.Run(ctx, s.opts.TickInterval, s.tick)
}

func (s *Session) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tr.Tick()
}

// commit records a snapshot and makes a structural edit audible when
// playing. Callers hold mu.
func (s *Session) commit(what string) {
	s.hist.Save()
	if err := s.tr.Reschedule(); err != nil {
		s.log.Warnf("%s: reschedule: %v", what, err)
	}
	s.log.Debugf("%s: %d clips, %.3fs", what, s.store.ClipCount(), s.store.Duration())
}

// --- Import ---

// ImportReport lists what an import added and what failed.
type ImportReport struct {
	Added  []string // clip ids in the order they were placed
	Failed []error  // one *audio.DecodeError per file
}

// Import decodes files and appends each one at the end of the arrangement as
// soon as it is ready, one undo step per file. Failures are reported, never
// fatal. Commands keep working while decodes are in flight.
func (s *Session) Import(ctx context.Context, files []importer.File) ImportReport {
	var rep ImportReport
	for res := range s.imp.Import(ctx, files) {
		if res.Err != nil {
			rep.Failed = append(rep.Failed, res.Err)
			continue
		}
		id, err := s.place(res)
		if err != nil {
			rep.Failed = append(rep.Failed, err)
			continue
		}
		rep.Added = append(rep.Added, id)
	}
	return rep
}

func (s *Session) place(res importer.Result) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := timeline.NewClip(res.Buffer, s.store.End(), res.Name)
	if err != nil {
		return "", fmt.Errorf("place %s: %w", res.Name, err)
	}
	c.Source = res.Source
	if err := s.store.AddClip(c); err != nil {
		return "", fmt.Errorf("place %s: %w", res.Name, err)
	}
	s.commit("import " + res.Name)
	return c.ID, nil
}

// --- Transport ---

// TogglePlay pauses while playing and plays otherwise.
func (s *Session) TogglePlay() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr.Toggle()
}

// Play starts playback from the playhead.
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr.Play()
}

// Pause stops playback and keeps the playhead.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tr.Pause()
}

// Stop stops playback and rewinds.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tr.Stop()
}

// Seek moves the playhead.
func (s *Session) Seek(pos float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr.Seek(pos)
}

// --- Selection ---

// Select sets the selection to [start, end).
func (s *Session) Select(start, end float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SetSelection(&timeline.Selection{Start: start, End: end})
}

// SelectAt selects SelectAtLength seconds starting at t, the way a click on
// the timeline does.
func (s *Session) SelectAt(t float64) error {
	return s.Select(t, t+SelectAtLength)
}

// ClearSelection drops the selection.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.SetSelection(nil)
}

// --- Edits ---

// Cut moves the selected clips to the clipboard.
func (s *Session) Cut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.store.ClipCount()
	s.store.Cut()
	if s.store.ClipCount() != before {
		s.commit("cut")
	}
}

// Copy puts the selected clips on the clipboard.
func (s *Session) Copy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Copy()
}

// Paste inserts the clipboard at the playhead.
func (s *Session) Paste() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paste(s.store.CurrentTime())
}

// PasteAt inserts the clipboard so its earliest clip starts at t.
func (s *Session) PasteAt(t float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paste(t)
}

func (s *Session) paste(t float64) error {
	if len(s.store.Clipboard()) == 0 {
		return nil
	}
	if err := s.store.Paste(t); err != nil {
		return err
	}
	s.commit("paste")
	return nil
}

// Delete removes the selected clips.
func (s *Session) Delete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.store.ClipCount()
	s.store.Delete()
	if s.store.ClipCount() != before {
		s.commit("delete")
	}
}

// ClearAll stops playback and empties the timeline as one undo step.
func (s *Session) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tr.Stop()
	if s.store.ClipCount() == 0 {
		return
	}
	s.store.ClearAll()
	s.commit("clear")
}

// MoveClip places a clip at a new start time, keeping its length.
func (s *Session) MoveClip(id string, start float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.store.Clip(id); !ok {
		return nil
	}
	if err := s.store.MoveClip(id, start); err != nil {
		return err
	}
	s.commit("move " + id)
	return nil
}

// RemoveClip deletes one clip by id.
func (s *Session) RemoveClip(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.store.Clip(id); !ok {
		return
	}
	s.store.RemoveClip(id)
	s.commit("remove " + id)
}

// --- History ---

// Undo steps back one snapshot. It reports false at the oldest state.
func (s *Session) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hist.Undo() {
		return false
	}
	s.reschedule("undo")
	return true
}

// Redo steps forward one snapshot. It reports false at the newest state.
func (s *Session) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hist.Redo() {
		return false
	}
	s.reschedule("redo")
	return true
}

func (s *Session) reschedule(what string) {
	if err := s.tr.Reschedule(); err != nil {
		s.log.Warnf("%s: reschedule: %v", what, err)
	}
}

// --- View ---

// ZoomIn zooms in one step.
func (s *Session) ZoomIn() { s.zoom(func(z float64) float64 { return z * ZoomInFactor }) }

// ZoomOut zooms out one step.
func (s *Session) ZoomOut() { s.zoom(func(z float64) float64 { return z * ZoomOutFactor }) }

// ZoomReset returns to zoom 1.
func (s *Session) ZoomReset() { s.zoom(func(float64) float64 { return 1 }) }

func (s *Session) zoom(f func(float64) float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.SetZoomLevel(f(s.store.ZoomLevel()))
}

// Scroll sets the view scroll position.
func (s *Session) Scroll(pos float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.SetScrollPosition(pos)
}

// SetMasterVolume sets the output gain, clamped to [0, 1].
func (s *Session) SetMasterVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.SetMasterVolume(v)
	s.out.SetGain(s.store.MasterVolume())
}

// --- Output and persistence ---

// Export renders the arrangement to w.
func (s *Session) Export(ctx context.Context, w io.Writer, format string) error {
	clips, opts := s.exportSetup(format)
	return export.Export(ctx, w, clips, opts)
}

// ExportFile renders the arrangement to path; an empty format follows the
// file extension.
func (s *Session) ExportFile(ctx context.Context, path, format string) error {
	clips, opts := s.exportSetup(format)
	return export.ExportFile(ctx, path, clips, opts)
}

func (s *Session) exportSetup(format string) ([]timeline.Clip, export.Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Clips(), export.Options{
		Format:      format,
		Volume:      s.store.MasterVolume(),
		FFmpeg:      s.opts.FFmpeg,
		OpusBitrate: s.opts.OpusBitrate,
	}
}

// ErrNoProjectPath is returned by Save when no path was given and the
// session was never saved or loaded.
var ErrNoProjectPath = errors.New("no project path")

// SetProjectPath sets where Save writes when called without a path.
func (s *Session) SetProjectPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectPath = path
}

// Save writes the project to path, or to the last saved or loaded path when
// path is empty.
func (s *Session) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if path == "" {
		path = s.projectPath
	}
	if path == "" {
		return ErrNoProjectPath
	}
	p, err := project.Snapshot(path, s.store)
	if err != nil {
		return err
	}
	if err := project.Save(path, p); err != nil {
		return err
	}
	s.projectPath = path
	s.log.Infof("saved %d clips to %s", len(p.Clips), path)
	return nil
}

// Load replaces the session with the project at path. Sources are decoded
// before anything changes, so a failed load leaves the session intact. The
// loaded arrangement becomes the oldest undo state.
func (s *Session) Load(ctx context.Context, path string) error {
	p, err := project.Read(path)
	if err != nil {
		return err
	}
	clips, err := p.Restore(ctx, s.imp)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tr.Stop()
	p.Apply(s.store, clips)
	s.out.SetGain(s.store.MasterVolume())
	s.hist.Reset()
	s.projectPath = path
	s.log.Infof("loaded %d clips from %s", len(clips), path)
	return nil
}
