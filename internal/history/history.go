// Package history implements linear undo/redo over full clip-set snapshots.
package history

import (
	"slices"

	"github.com/satindergrewal/klipper/internal/timeline"
)

// Target is the state history snapshots and restores. *timeline.Store
// satisfies it.
type Target interface {
	Clips() []timeline.Clip
	RestoreClips(clips []timeline.Clip)
}

// Manager keeps snapshots of the target's clip set and an index into them.
// Invariant: 0 <= index < len(entries).
type Manager struct {
	target  Target
	entries [][]timeline.Clip
	index   int
	limit   int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLimit caps the number of stored snapshots; the oldest are dropped
// first. n <= 0 means unlimited.
func WithLimit(n int) Option {
	return func(m *Manager) { m.limit = n }
}

// New starts the history with one snapshot of target's current clips, which
// is the empty set for a fresh store.
func New(target Target, opts ...Option) *Manager {
	m := &Manager{target: target}
	for _, opt := range opts {
		opt(m)
	}
	m.entries = [][]timeline.Clip{slices.Clone(target.Clips())}
	return m
}

// Save records the target's current clips. Anything that could have been
// redone is discarded.
func (m *Manager) Save() {
	m.entries = append(m.entries[:m.index+1], slices.Clone(m.target.Clips()))
	if m.limit > 0 && len(m.entries) > m.limit {
		m.entries = slices.Delete(m.entries, 0, len(m.entries)-m.limit)
	}
	m.index = len(m.entries) - 1
}

// Undo steps back one snapshot. It reports false at the oldest entry.
func (m *Manager) Undo() bool {
	if m.index == 0 {
		return false
	}
	m.index--
	m.target.RestoreClips(slices.Clone(m.entries[m.index]))
	return true
}

// Redo steps forward one snapshot. It reports false at the newest entry.
func (m *Manager) Redo() bool {
	if m.index == len(m.entries)-1 {
		return false
	}
	m.index++
	m.target.RestoreClips(slices.Clone(m.entries[m.index]))
	return true
}

// Reset drops every entry and starts over from the target's current clips.
func (m *Manager) Reset() {
	m.entries = [][]timeline.Clip{slices.Clone(m.target.Clips())}
	m.index = 0
}

func (m *Manager) CanUndo() bool { return m.index > 0 }
func (m *Manager) CanRedo() bool { return m.index < len(m.entries)-1 }
func (m *Manager) Len() int      { return len(m.entries) }
func (m *Manager) Index() int    { return m.index }
