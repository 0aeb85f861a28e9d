// Package mixer is the software render target for the transport: it owns
// the shared output clock, keeps one voice per scheduled unit and sums them
// into 20ms interleaved int16 frames.
package mixer

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/satindergrewal/klipper/internal/audio"
	"github.com/satindergrewal/klipper/internal/timeline"
	"github.com/satindergrewal/klipper/internal/transport"
)

// ErrNilBuffer is returned when scheduling without a buffer.
var ErrNilBuffer = errors.New("schedule: nil buffer")

type voice struct {
	buf   *audio.Buffer
	start int64   // output frame the voice begins on
	from  float64 // source frame at start
	end   float64 // source frame to stop before
	step  float64 // source frames per output frame
	fade  int     // declick ramp length in output frames
}

// Mixer implements transport.Output. The clock is the number of output
// frames rendered so far, so it only advances while frames are produced.
type Mixer struct {
	mu     sync.Mutex
	clock  int64
	voices map[transport.Handle]*voice
	next   transport.Handle
	gain   float32
	mix    []float32

	frameCh chan []int16
	log     logging.LeveledLogger
}

// New creates a mixer at unity gain.
func New(log logging.LeveledLogger) *Mixer {
	return &Mixer{
		voices:  make(map[transport.Handle]*voice),
		gain:    1,
		mix:     make([]float32, audio.FrameSamples),
		frameCh: make(chan []int16, 100),
		log:     log,
	}
}

// Frames returns the channel of rendered PCM frames (20ms each). It is
// closed when Run returns.
func (m *Mixer) Frames() <-chan []int16 {
	return m.frameCh
}

// Now returns the output clock in seconds.
func (m *Mixer) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.clock) / audio.SampleRate
}

// Schedule adds a voice. A start time already in the past starts on the next
// rendered frame. Buffers at another rate are stepped through at their own
// rate.
func (m *Mixer) Schedule(buf *audio.Buffer, offset, length, at float64) (transport.Handle, error) {
	if buf == nil {
		return 0, ErrNilBuffer
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	h := m.next
	if length <= 0 {
		return h, nil
	}

	rate := float64(buf.SampleRate())
	from := max(offset, 0) * rate
	end := min(from+length*rate, float64(buf.Frames()))
	if from >= end {
		return h, nil
	}
	v := &voice{
		buf:   buf,
		start: max(int64(math.Round(at*audio.SampleRate)), m.clock),
		from:  from,
		end:   end,
		step:  rate / audio.SampleRate,
	}
	if offset > 0 {
		v.fade = audio.DeclickFrames
	}
	m.voices[h] = v
	return h, nil
}

// Stop removes a voice. Unknown or finished handles are ignored.
func (m *Mixer) Stop(h transport.Handle) {
	m.mu.Lock()
	delete(m.voices, h)
	m.mu.Unlock()
}

// SetGain sets the master gain, clamped to [0, 1].
func (m *Mixer) SetGain(g float64) {
	m.mu.Lock()
	m.gain = float32(min(max(g, 0), 1))
	m.mu.Unlock()
}

// Active returns the number of voices that have not finished.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// RenderFrame mixes the next 20ms and advances the clock.
func (m *Mixer) RenderFrame() []int16 {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.mix)
	for h, v := range m.voices {
		if m.renderVoice(v) {
			delete(m.voices, h)
		}
	}
	m.clock += audio.FrameSize

	out := make([]int16, audio.FrameSamples)
	audio.MixToInt16(out, m.mix, m.gain)
	return out
}

// renderVoice adds v into m.mix and reports whether it has finished.
func (m *Mixer) renderVoice(v *voice) bool {
	stereo := v.buf.Channels() > 1
	for i := 0; i < audio.FrameSize; i++ {
		n := m.clock + int64(i) - v.start
		if n < 0 {
			continue
		}
		src := v.from + float64(n)*v.step
		if src >= v.end {
			return true
		}
		frame := int(src)
		g := audio.FadeIn(int(n), v.fade)
		l := v.buf.Sample(0, frame) * g
		r := l
		if stereo {
			r = v.buf.Sample(1, frame) * g
		}
		m.mix[i*2] += l
		m.mix[i*2+1] += r
	}
	return false
}

// Run renders frames at real-time rate until ctx is cancelled.
func (m *Mixer) Run(ctx context.Context) {
	defer close(m.frameCh)

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	m.log.Infof("mixer running at %d Hz, %v frames", audio.SampleRate, audio.FrameDuration)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := m.RenderFrame()
		select {
		case m.frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// Mixdown renders clips offline, as laid out on the timeline, to interleaved
// int16 stereo at audio.SampleRate. The result covers exactly the span from
// 0 to the end of the last clip.
func Mixdown(clips []timeline.Clip, gain float64) ([]int16, error) {
	m := &Mixer{
		voices: make(map[transport.Handle]*voice),
		mix:    make([]float32, audio.FrameSamples),
	}
	m.SetGain(gain)

	duration := 0.0
	for _, c := range clips {
		if _, err := m.Schedule(c.Buffer, 0, c.Length(), c.Start); err != nil {
			return nil, err
		}
		duration = max(duration, c.End)
	}

	// The epsilon absorbs float error in clip ends like 0.03*48000.
	total := int(math.Ceil(duration*audio.SampleRate-1e-6)) * audio.Channels
	out := make([]int16, 0, total+audio.FrameSamples)
	for len(out) < total {
		out = append(out, m.RenderFrame()...)
	}
	return out[:total], nil
}
