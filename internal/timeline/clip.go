// Package timeline holds the arranged clip set and the edit operations that
// act on it: selection, clipboard, cut/copy/paste/delete and the view state
// a front end renders from.
package timeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/satindergrewal/klipper/internal/audio"
)

// ErrInvalidRange is returned when a clip or selection would end at or
// before its start, or start before zero. The store is left unchanged.
var ErrInvalidRange = errors.New("invalid time range")

// Clip places a decoded buffer on the timeline. Clips are values: copying a
// Clip copies its placement, while the Buffer is shared read-only.
type Clip struct {
	ID     string
	Buffer *audio.Buffer
	Start  float64 // seconds
	End    float64 // seconds, > Start
	Name   string
	Source string // file the buffer was decoded from, if any
}

// NewClip places buf at start with a fresh id. The clip is as long as the
// buffer.
func NewClip(buf *audio.Buffer, start float64, name string) (Clip, error) {
	if buf == nil {
		return Clip{}, errors.New("new clip: nil buffer")
	}
	c := Clip{
		ID:     uuid.NewString(),
		Buffer: buf,
		Start:  start,
		End:    start + buf.Duration(),
		Name:   name,
	}
	if err := c.Validate(); err != nil {
		return Clip{}, err
	}
	return c, nil
}

// Length returns End - Start.
func (c Clip) Length() float64 { return c.End - c.Start }

// Overlaps uses the open interval test: a clip that only touches the range
// at an edge does not overlap it.
func (c Clip) Overlaps(start, end float64) bool {
	return c.Start < end && c.End > start
}

// Validate reports ErrInvalidRange unless 0 <= Start < End.
func (c Clip) Validate() error {
	if c.Start < 0 || c.End <= c.Start {
		return fmt.Errorf("%w: clip %q [%g, %g]", ErrInvalidRange, c.ID, c.Start, c.End)
	}
	return nil
}

// ClipUpdate carries the fields UpdateClip merges; nil fields are left alone.
type ClipUpdate struct {
	Start *float64
	End   *float64
	Name  *string
}

// Selection is the active edit region.
type Selection struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Valid reports whether End > Start.
func (s Selection) Valid() bool { return s.End > s.Start }

// Length returns End - Start.
func (s Selection) Length() float64 { return s.End - s.Start }
