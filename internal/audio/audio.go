package audio

import "time"

// Engine output format. Every decoded buffer is normalised to SampleRate
// before it reaches the timeline, and the mixer renders interleaved int16
// frames in this layout.
const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)
