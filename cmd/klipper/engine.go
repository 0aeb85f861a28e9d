package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pion/logging"
	"github.com/satindergrewal/klipper/internal/audio"
	"github.com/satindergrewal/klipper/internal/decodesvc"
	"github.com/satindergrewal/klipper/internal/editor"
	"github.com/satindergrewal/klipper/internal/importer"
	"github.com/satindergrewal/klipper/internal/mixer"
	"github.com/satindergrewal/klipper/internal/stream"
)

// decodeHealthTimeout bounds the startup wait for the remote decode service.
const decodeHealthTimeout = 30 * time.Second

// engine is the session plus the realtime chain behind it: the mixer renders
// frames and the bus carries them to the speaker and network taps.
type engine struct {
	mixer *mixer.Mixer
	bus   *stream.Bus
	sess  *editor.Session
	log   logging.LeveledLogger
}

func newEngine(ctx context.Context) *engine {
	log := logs.NewLogger("klipper")
	imp := importer.New(newDecoder(ctx, log), cfg.ImportWorkers, logs.NewLogger("import"))
	m := mixer.New(logs.NewLogger("mixer"))
	sess := editor.New(m, imp, editor.Options{
		HistoryLimit: cfg.HistoryLimit,
		TickInterval: cfg.TickInterval,
		FFmpeg:       cfg.FFmpegPath,
		OpusBitrate:  cfg.OpusBitrate,
	}, logs.NewLogger("editor"))
	sess.SetMasterVolume(cfg.MasterVolume)

	return &engine{
		mixer: m,
		bus:   stream.NewBus(logs.NewLogger("bus")),
		sess:  sess,
		log:   log,
	}
}

// newDecoder builds the import decoder chain: in-process WAV and MP3, then
// ffmpeg, then the remote decode service when one is configured and healthy.
func newDecoder(ctx context.Context, log logging.LeveledLogger) audio.Decoder {
	chain := audio.Chain{audio.FFmpegDecoder{Path: cfg.FFmpegPath}}
	if cfg.DecodeURL == "" {
		return audio.NewRouter(chain)
	}

	client := decodesvc.NewClient(cfg.DecodeURL, cfg.DecodeAPIKey, logs.NewLogger("decodesvc"))
	healthCtx, cancel := context.WithTimeout(ctx, decodeHealthTimeout)
	defer cancel()
	if err := client.WaitForHealthy(healthCtx, cfg.DecodeRetryWait); err != nil {
		log.Warnf("decode service at %s not available, continuing without it: %v", cfg.DecodeURL, err)
		return audio.NewRouter(chain)
	}
	log.Infof("decode service connected: %s", cfg.DecodeURL)
	return audio.NewRouter(append(chain, client))
}

// start runs the realtime chain until ctx is done.
func (e *engine) start(ctx context.Context) {
	go e.mixer.Run(ctx)
	go e.bus.Run(ctx, e.mixer.Frames())
	go e.sess.Run(ctx)
}

// open loads projectPath, if given, and then imports paths at the end of the
// arrangement. A project path that does not exist yet becomes the save
// target. Import failures are logged and counted, never fatal.
func (e *engine) open(ctx context.Context, projectPath string, paths []string) error {
	if projectPath != "" {
		err := e.sess.Load(ctx, projectPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			e.log.Infof("new project %s", projectPath)
			e.sess.SetProjectPath(projectPath)
		case err != nil:
			return err
		}
	}
	if len(paths) == 0 {
		return nil
	}

	files := make([]importer.File, len(paths))
	for i, p := range paths {
		files[i] = importer.FromPath(p)
	}
	rep := e.sess.Import(ctx, files)
	for _, err := range rep.Failed {
		e.log.Warnf("import: %v", err)
	}
	if len(rep.Added) == 0 {
		return fmt.Errorf("none of %d files could be imported", len(paths))
	}
	e.log.Infof("imported %d of %d files", len(rep.Added), len(paths))
	return nil
}

// watch imports audio files dropped into the configured folder.
func (e *engine) watch(ctx context.Context) {
	if cfg.WatchDir == "" {
		return
	}
	go func() {
		e.log.Infof("watching %s for new audio", cfg.WatchDir)
		err := importer.Watch(ctx, cfg.WatchDir, func(f importer.File) {
			go func() {
				rep := e.sess.Import(ctx, []importer.File{f})
				for _, err := range rep.Failed {
					e.log.Warnf("watch import: %v", err)
				}
			}()
		})
		if err != nil {
			e.log.Errorf("watch %s: %v", cfg.WatchDir, err)
		}
	}()
}
