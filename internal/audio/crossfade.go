package audio

// DeclickFrames is the length of the fade applied when a voice starts in the
// middle of its buffer (2.5ms at SampleRate).
const DeclickFrames = SampleRate / 400

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// FadeIn returns the gain for frame i of an n-frame smoothstep fade-in.
// Frames at or past n get unity gain.
func FadeIn(i, n int) float32 {
	if n <= 0 || i >= n {
		return 1
	}
	return float32(Smoothstep(float64(i) / float64(n)))
}

// ToInt16 scales a [-1,1] sample to int16, clipping anything outside.
func ToInt16(v float32) int16 {
	scaled := v * 32768
	if scaled > 32767 {
		return 32767
	} else if scaled < -32768 {
		return -32768
	}
	return int16(scaled)
}

// MixToInt16 applies gain to an interleaved float mix and clips it into dst,
// which must be at least len(mix) long.
func MixToInt16(dst []int16, mix []float32, gain float32) {
	for i, v := range mix {
		dst[i] = ToInt16(v * gain)
	}
}
