package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"
)

// Tap depths in 20ms mixer frames.
const (
	NetworkDepth = 150 // 3s, absorbs encoder and network stalls
	SpeakerDepth = 10  // 200ms, keeps local playback close to the playhead
)

// Bus carries the live mix from the mixer to every tap: HTTP streams, WebRTC
// peers and the local speaker. Publishing never blocks. A tap that falls
// behind loses its oldest queued frame, so it stays at most its depth behind
// the mix.
type Bus struct {
	mu     sync.Mutex
	taps   []*Tap
	closed bool
	log    logging.LeveledLogger
}

// Tap is one consumer of the live mix.
type Tap struct {
	name    string
	frames  chan []int16
	done    chan struct{}
	once    sync.Once
	offered atomic.Int64
	dropped atomic.Int64
}

// TapStats is a snapshot of one tap's counters. The consumer has read
// Offered - Dropped - Queued frames.
type TapStats struct {
	Name    string `json:"name"`
	Queued  int    `json:"queued"`
	Offered int64  `json:"offered"`
	Dropped int64  `json:"dropped"`
}

// Frames yields interleaved 20ms frames. Frames are shared between taps and
// must not be modified.
func (t *Tap) Frames() <-chan []int16 { return t.frames }

// Done is closed once the tap is detached or the bus stops.
func (t *Tap) Done() <-chan struct{} { return t.done }

// Dropped returns how many frames were evicted because the tap was full.
func (t *Tap) Dropped() int64 { return t.dropped.Load() }

func (t *Tap) stats() TapStats {
	return TapStats{
		Name:    t.name,
		Queued:  len(t.frames),
		Offered: t.offered.Load(),
		Dropped: t.dropped.Load(),
	}
}

func (t *Tap) close() { t.once.Do(func() { close(t.done) }) }

// offer queues frame, evicting the oldest queued frame when full. Publish
// holds the bus lock, so after one eviction there is room.
func (t *Tap) offer(frame []int16) {
	t.offered.Add(1)
	for {
		select {
		case t.frames <- frame:
			return
		default:
		}
		select {
		case <-t.frames:
			t.dropped.Add(1)
		default:
		}
	}
}

// NewBus creates a bus with no taps.
func NewBus(log logging.LeveledLogger) *Bus {
	return &Bus{log: log}
}

// Attach adds a named tap holding up to depth frames. Attaching to a stopped
// bus returns a tap that is already done.
func (b *Bus) Attach(name string, depth int) *Tap {
	t := &Tap{
		name:   name,
		frames: make(chan []int16, max(depth, 1)),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		t.close()
		return t
	}
	b.taps = append(b.taps, t)
	return t
}

// Detach removes t and closes its Done channel. Detaching twice is a no-op.
func (b *Bus) Detach(t *Tap) {
	b.mu.Lock()
	for i, x := range b.taps {
		if x == t {
			b.taps = append(b.taps[:i], b.taps[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	if t.dropped.Load() > 0 {
		b.log.Debugf("tap %s detached after dropping %d frames", t.name, t.dropped.Load())
	}
	t.close()
}

// Len returns the number of attached taps.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.taps)
}

// Stats returns a snapshot of every tap in attach order.
func (b *Bus) Stats() []TapStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TapStats, len(b.taps))
	for i, t := range b.taps {
		out[i] = t.stats()
	}
	return out
}

// Publish hands frame to every tap.
func (b *Bus) Publish(frame []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.taps {
		t.offer(frame)
	}
}

// Run publishes frames from source until ctx ends or source closes, then
// stops the bus: every tap is detached and later taps start out done.
func (b *Bus) Run(ctx context.Context, source <-chan []int16) {
	defer b.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.Publish(frame)
		}
	}
}

func (b *Bus) stop() {
	b.mu.Lock()
	taps := b.taps
	b.taps = nil
	b.closed = true
	b.mu.Unlock()
	for _, t := range taps {
		t.close()
	}
	b.log.Debugf("mix bus stopped, %d taps closed", len(taps))
}
