// Package transport turns the clip arrangement into scheduled playback on an
// output's clock and tracks the playhead while it runs.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/logging"
	"github.com/satindergrewal/klipper/internal/audio"
	"github.com/satindergrewal/klipper/internal/timeline"
)

// Handle identifies one scheduled playback unit on an Output.
type Handle uint64

// Output renders buffers against its own monotonic clock. Once a unit is
// scheduled its start is committed; the only way to change it is Stop and
// schedule again.
type Output interface {
	// Now returns the output clock in seconds.
	Now() float64
	// Schedule plays length seconds of buf, starting offset seconds into
	// it, when the clock reaches at.
	Schedule(buf *audio.Buffer, offset, length, at float64) (Handle, error)
	// Stop silences a unit. Stopping a finished or unknown unit is a no-op.
	Stop(h Handle)
}

// Timeline is the part of the store the transport reads from and reports to.
type Timeline interface {
	Clips() []timeline.Clip
	Duration() float64
	CurrentTime() float64
	SetCurrentTime(t float64)
	SetPlaying(playing bool)
}

// State is the transport state.
type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Transport schedules clips on an Output and advances the playhead.
//
// It is not safe for concurrent use; the editor session serialises calls
// together with the store it drives.
type Transport struct {
	tl  Timeline
	out Output
	log logging.LeveledLogger

	state       State
	units       []Handle
	anchorClock float64 // output clock at play
	anchorPos   float64 // timeline position at play
}

// New returns a stopped transport.
func New(tl Timeline, out Output, log logging.LeveledLogger) *Transport {
	return &Transport{tl: tl, out: out, log: log}
}

// State returns the current state.
func (t *Transport) State() State { return t.state }

// Play schedules every clip that is still ahead of the playhead. A clip that
// straddles the playhead starts immediately at the matching offset into its
// buffer. Playing from the end of the timeline starts over from 0.
func (t *Transport) Play() error {
	if t.state == Playing {
		return nil
	}
	clips := t.tl.Clips()
	if len(clips) == 0 {
		return nil
	}

	pos := t.tl.CurrentTime()
	if pos >= t.tl.Duration() {
		pos = 0
		t.tl.SetCurrentTime(0)
	}

	now := t.out.Now()
	for _, c := range clips {
		if c.End <= pos {
			continue
		}
		at := now + c.Start - pos
		offset := 0.0
		if c.Start < pos {
			offset = pos - c.Start
			at = now
		}
		h, err := t.out.Schedule(c.Buffer, offset, c.End-c.Start-offset, at)
		if err != nil {
			t.halt()
			return fmt.Errorf("schedule clip %s: %w", c.ID, err)
		}
		t.units = append(t.units, h)
	}

	t.anchorClock = now
	t.anchorPos = pos
	t.state = Playing
	t.tl.SetPlaying(true)
	t.log.Debugf("play from %.3fs: %d units scheduled", pos, len(t.units))
	return nil
}

// Pause stops output and keeps the playhead where it is.
func (t *Transport) Pause() {
	if t.state != Playing {
		return
	}
	pos := t.position()
	t.halt()
	t.state = Paused
	t.tl.SetCurrentTime(pos)
	t.tl.SetPlaying(false)
	t.log.Debugf("paused at %.3fs", pos)
}

// Stop stops output and rewinds to 0. It is safe in any state.
func (t *Transport) Stop() {
	t.halt()
	t.state = Stopped
	t.tl.SetCurrentTime(0)
	t.tl.SetPlaying(false)
}

// Toggle pauses while playing and plays otherwise.
func (t *Transport) Toggle() error {
	if t.state == Playing {
		t.Pause()
		return nil
	}
	return t.Play()
}

// Seek moves the playhead. While playing, every unit is stopped and the
// arrangement is rescheduled from the new position; seeking to or past the
// end stops playback there instead of starting over.
func (t *Transport) Seek(pos float64) error {
	if t.state != Playing {
		t.tl.SetCurrentTime(pos)
		return nil
	}
	if pos >= t.tl.Duration() {
		t.stopAt(pos)
		return nil
	}
	t.halt()
	t.state = Paused
	t.tl.SetCurrentTime(pos)
	return t.Play()
}

// Reschedule restarts playback from the current position so edits made
// while playing become audible. If the edit left the playhead at or past the
// new end, playback stops there. It does nothing unless playing.
func (t *Transport) Reschedule() error {
	if t.state != Playing {
		return nil
	}
	return t.Seek(t.position())
}

// stopAt halts playback and leaves the playhead at pos, clamped to the end.
func (t *Transport) stopAt(pos float64) {
	t.halt()
	t.state = Stopped
	t.tl.SetCurrentTime(pos)
	t.tl.SetPlaying(false)
}

// Tick reports the playhead to the timeline and returns it. Once the
// playhead reaches the end of the timeline the transport stops itself and
// leaves the playhead at the end. When not playing, Tick reports nothing.
func (t *Transport) Tick() (float64, bool) {
	if t.state != Playing {
		return t.tl.CurrentTime(), false
	}
	dur := t.tl.Duration()
	pos := t.position()
	t.tl.SetCurrentTime(pos)
	if pos >= dur {
		t.halt()
		t.state = Stopped
		t.tl.SetPlaying(false)
		t.log.Debugf("reached end at %.3fs", dur)
		return pos, false
	}
	return pos, true
}

// Run calls tick every interval until ctx is done. tick is expected to
// serialise with other users of the transport, which is why Run does not
// call Tick directly.
func Run(ctx context.Context, interval time.Duration, tick func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

func (t *Transport) position() float64 {
	pos := t.out.Now() - t.anchorClock + t.anchorPos
	return min(max(pos, 0), t.tl.Duration())
}

func (t *Transport) halt() {
	for _, h := range t.units {
		t.out.Stop(h)
	}
	t.units = t.units[:0]
}
