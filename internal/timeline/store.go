package timeline

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// View bounds enforced by the setters.
const (
	MinZoom = 0.1
	MaxZoom = 10.0
)

// Store owns one timeline: clips sorted by start time, selection, clipboard,
// playback position and view state.
//
// A Store is not safe for concurrent use. It never records history on its
// own; callers snapshot after each gesture so a batch of edits can be undone
// as one step.
type Store struct {
	clips     []Clip
	selection *Selection
	clipboard []Clip

	playing     bool
	currentTime float64
	duration    float64

	zoomLevel      float64
	scrollPosition float64
	masterVolume   float64

	now       func() time.Time
	lastStamp int64
}

// NewStore returns an empty timeline at zoom 1 and full volume.
func NewStore() *Store {
	return &Store{
		zoomLevel:    1,
		masterVolume: 1,
		now:          time.Now,
	}
}

// --- Clip management ---

// AddClip inserts c and keeps the set sorted by start time. Clips with equal
// start times keep insertion order. Overlap is allowed.
func (s *Store) AddClip(c Clip) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.clips = append(s.clips, c)
	s.sortClips()
	return nil
}

// RemoveClip drops the clip with the given id, if present.
func (s *Store) RemoveClip(id string) {
	s.clips = slices.DeleteFunc(s.clips, func(c Clip) bool { return c.ID == id })
	s.refreshDuration()
}

// UpdateClip merges u into the clip with the given id. Unknown ids are
// ignored. An update that would leave End <= Start is rejected with
// ErrInvalidRange and nothing changes.
func (s *Store) UpdateClip(id string, u ClipUpdate) error {
	i := s.indexOf(id)
	if i < 0 {
		return nil
	}
	c := s.clips[i]
	if u.Start != nil {
		c.Start = *u.Start
	}
	if u.End != nil {
		c.End = *u.End
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if err := c.Validate(); err != nil {
		return err
	}
	s.clips[i] = c
	s.sortClips()
	return nil
}

// MoveClip shifts a clip so it starts at start, keeping its length.
func (s *Store) MoveClip(id string, start float64) error {
	i := s.indexOf(id)
	if i < 0 {
		return nil
	}
	end := start + s.clips[i].Length()
	return s.UpdateClip(id, ClipUpdate{Start: &start, End: &end})
}

// Clip returns the clip with the given id.
func (s *Store) Clip(id string) (Clip, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.clips[i], true
	}
	return Clip{}, false
}

// Clips returns a copy of the clip set in start order.
func (s *Store) Clips() []Clip {
	return slices.Clone(s.clips)
}

// RestoreClips replaces the clip set with a copy of clips. History uses it
// to bring back a snapshot.
func (s *Store) RestoreClips(clips []Clip) {
	s.clips = slices.Clone(clips)
	s.sortClips()
}

// ClipCount returns the number of clips on the timeline.
func (s *Store) ClipCount() int { return len(s.clips) }

// End returns the end of the last-ending clip, which is where the editor
// appends imports.
func (s *Store) End() float64 { return s.duration }

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.clips, func(c Clip) bool { return c.ID == id })
}

func (s *Store) sortClips() {
	slices.SortStableFunc(s.clips, func(a, b Clip) int { return cmp.Compare(a.Start, b.Start) })
	s.refreshDuration()
}

func (s *Store) refreshDuration() {
	d := 0.0
	for _, c := range s.clips {
		d = max(d, c.End)
	}
	s.duration = d
	s.currentTime = min(s.currentTime, d)
}

// --- Selection ---

// SetSelection replaces the selection; nil clears it. The range is not
// clamped to the timeline duration.
func (s *Store) SetSelection(sel *Selection) error {
	if sel == nil {
		s.selection = nil
		return nil
	}
	if !sel.Valid() {
		return fmt.Errorf("%w: selection [%g, %g]", ErrInvalidRange, sel.Start, sel.End)
	}
	cp := *sel
	s.selection = &cp
	return nil
}

// Selection returns the active selection, if any.
func (s *Store) Selection() (Selection, bool) {
	if s.selection == nil {
		return Selection{}, false
	}
	return *s.selection, true
}

// --- Edit operations ---

func (s *Store) selected() []Clip {
	var out []Clip
	for _, c := range s.clips {
		if c.Overlaps(s.selection.Start, s.selection.End) {
			out = append(out, c)
		}
	}
	return out
}

// Copy puts every clip overlapping the selection on the clipboard. Without
// a selection nothing happens.
func (s *Store) Copy() {
	if s.selection == nil {
		return
	}
	s.clipboard = s.selected()
}

// Cut is Copy followed by Delete.
func (s *Store) Cut() {
	if s.selection == nil {
		return
	}
	s.Copy()
	s.Delete()
}

// Delete removes every clip overlapping the selection. Without a selection
// nothing happens.
func (s *Store) Delete() {
	if s.selection == nil {
		return
	}
	sel := *s.selection
	s.clips = slices.DeleteFunc(s.clips, func(c Clip) bool { return c.Overlaps(sel.Start, sel.End) })
	s.refreshDuration()
}

// Paste inserts copies of the clipboard so the earliest clipboard clip starts
// at at, keeping the spacing between them. Copies get new ids and share the
// original buffers. An empty clipboard is a no-op.
func (s *Store) Paste(at float64) error {
	if len(s.clipboard) == 0 {
		return nil
	}
	first := s.clipboard[0].Start
	for _, c := range s.clipboard {
		first = min(first, c.Start)
	}
	offset := at - first
	if first+offset < 0 {
		return fmt.Errorf("%w: paste at %g", ErrInvalidRange, at)
	}

	stamp := s.pasteStamp()
	for _, c := range s.clipboard {
		c.ID = fmt.Sprintf("%s-%d", c.ID, stamp)
		c.Start += offset
		c.End += offset
		s.clips = append(s.clips, c)
	}
	s.sortClips()
	return nil
}

// pasteStamp returns the paste time in nanoseconds, bumped so it strictly
// increases within one store even when the clock does not.
func (s *Store) pasteStamp() int64 {
	stamp := s.now().UnixNano()
	if stamp <= s.lastStamp {
		stamp = s.lastStamp + 1
	}
	s.lastStamp = stamp
	return stamp
}

// Clipboard returns a copy of the clipboard.
func (s *Store) Clipboard() []Clip {
	return slices.Clone(s.clipboard)
}

// ClearAll empties the timeline, drops the selection and rewinds to 0. The
// clipboard and view settings survive.
func (s *Store) ClearAll() {
	s.clips = nil
	s.selection = nil
	s.currentTime = 0
	s.duration = 0
}

// --- Playback and view state ---

// Duration is the end of the last-ending clip, or 0 when empty.
func (s *Store) Duration() float64 { return s.duration }

// IsPlaying reports the transport's playing flag.
func (s *Store) IsPlaying() bool { return s.playing }

// SetPlaying records the transport's playing flag.
func (s *Store) SetPlaying(playing bool) { s.playing = playing }

// CurrentTime returns the playhead position in seconds.
func (s *Store) CurrentTime() float64 { return s.currentTime }

// SetCurrentTime moves the playhead, clamped to [0, Duration].
func (s *Store) SetCurrentTime(t float64) {
	s.currentTime = clamp(t, 0, s.duration)
}

// ZoomLevel returns the view zoom factor.
func (s *Store) ZoomLevel() float64 { return s.zoomLevel }

// SetZoomLevel sets the zoom factor, clamped to [MinZoom, MaxZoom].
func (s *Store) SetZoomLevel(level float64) {
	s.zoomLevel = clamp(level, MinZoom, MaxZoom)
}

// ScrollPosition returns the horizontal scroll offset in seconds.
func (s *Store) ScrollPosition() float64 { return s.scrollPosition }

// SetScrollPosition sets the scroll offset; negative values become 0.
func (s *Store) SetScrollPosition(pos float64) {
	s.scrollPosition = max(pos, 0)
}

// MasterVolume returns the output gain in [0, 1].
func (s *Store) MasterVolume() float64 { return s.masterVolume }

// SetMasterVolume sets the output gain, clamped to [0, 1].
func (s *Store) SetMasterVolume(v float64) {
	s.masterVolume = clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
