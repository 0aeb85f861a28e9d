package audio

import (
	"fmt"

	"github.com/dh1tw/gosamplerate"
)

// Resample converts b to rate using libsamplerate. A buffer already at
// rate is returned as is.
func Resample(b *Buffer, rate int) (*Buffer, error) {
	if b.SampleRate() == rate {
		return b, nil
	}
	if rate <= 0 {
		return nil, fmt.Errorf("%w: target rate %d", ErrInvalidBuffer, rate)
	}
	ratio := float64(rate) / float64(b.SampleRate())
	if !gosamplerate.IsValidRatio(ratio) {
		return nil, fmt.Errorf("resample %d -> %d Hz: ratio %.4f out of range", b.SampleRate(), rate, ratio)
	}

	nch := b.Channels()
	out, err := gosamplerate.Simple(b.Interleaved(), ratio, nch, gosamplerate.SRC_SINC_MEDIUM_QUALITY)
	if err != nil {
		return nil, fmt.Errorf("resample %d -> %d Hz: %w", b.SampleRate(), rate, err)
	}

	frames := len(out) / nch
	data := make([][]float32, nch)
	for ch := range data {
		data[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < nch; ch++ {
			data[ch][i] = out[i*nch+ch]
		}
	}
	return NewBuffer(rate, data)
}
