package editor

import "github.com/satindergrewal/klipper/internal/timeline"

// ClipInfo is the read-only view of one clip.
type ClipInfo struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Source string  `json:"source,omitempty"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
}

// Status is a consistent snapshot of the session for rendering.
type Status struct {
	State         string              `json:"state"`
	Playing       bool                `json:"playing"`
	Position      float64             `json:"position"`
	Duration      float64             `json:"duration"`
	Clips         []ClipInfo          `json:"clips"`
	Selection     *timeline.Selection `json:"selection,omitempty"`
	ClipboardSize int                 `json:"clipboard_size"`
	Zoom          float64             `json:"zoom"`
	Scroll        float64             `json:"scroll"`
	Volume        float64             `json:"volume"`
	CanUndo       bool                `json:"can_undo"`
	CanRedo       bool                `json:"can_redo"`
	Project       string              `json:"project,omitempty"`
}

// Status returns the current session state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:         s.tr.State().String(),
		Playing:       s.store.IsPlaying(),
		Position:      s.store.CurrentTime(),
		Duration:      s.store.Duration(),
		ClipboardSize: len(s.store.Clipboard()),
		Zoom:          s.store.ZoomLevel(),
		Scroll:        s.store.ScrollPosition(),
		Volume:        s.store.MasterVolume(),
		CanUndo:       s.hist.CanUndo(),
		CanRedo:       s.hist.CanRedo(),
		Project:       s.projectPath,
	}
	if sel, ok := s.store.Selection(); ok {
		st.Selection = &sel
	}
	for _, c := range s.store.Clips() {
		st.Clips = append(st.Clips, ClipInfo{ID: c.ID, Name: c.Name, Source: c.Source, Start: c.Start, End: c.End})
	}
	return st
}
