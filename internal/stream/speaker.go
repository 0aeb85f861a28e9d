package stream

import (
	"fmt"
	"io"

	"github.com/ebitengine/oto/v3"
	"github.com/pion/logging"
	"github.com/satindergrewal/klipper/internal/audio"
)

// Speaker plays the live mix on the default audio device.
type Speaker struct {
	bus    *Bus
	tap    *Tap
	player *oto.Player
	log    logging.LeveledLogger
}

// NewSpeaker opens the audio device at the engine rate and taps b.
// Playback starts with Start.
func NewSpeaker(b *Bus, log logging.LeveledLogger) (*Speaker, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   audio.SampleRate,
		ChannelCount: audio.Channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	tap := b.Attach("speaker", SpeakerDepth)
	return &Speaker{
		bus:    b,
		tap:    tap,
		player: ctx.NewPlayer(&frameReader{tap: tap}),
		log:    log,
	}, nil
}

// Start begins pulling frames into the device.
func (s *Speaker) Start() {
	s.player.Play()
	s.log.Infof("speaker output at %d Hz", audio.SampleRate)
}

// Close stops playback and detaches from the bus.
func (s *Speaker) Close() error {
	s.bus.Detach(s.tap)
	return s.player.Close()
}

// frameReader adapts a Tap to the byte stream oto pulls from. Read blocks
// for the next frame and returns io.EOF once the tap is done.
type frameReader struct {
	tap  *Tap
	rest []byte
}

func (r *frameReader) Read(p []byte) (int, error) {
	if len(r.rest) == 0 {
		select {
		case <-r.tap.Done():
			return 0, io.EOF
		case frame, ok := <-r.tap.Frames():
			if !ok {
				return 0, io.EOF
			}
			r.rest = audio.SamplesToBytes(frame)
		}
	}
	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	return n, nil
}
