package importer

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/satindergrewal/klipper/internal/audio"
)

// Settle is how long a file must go without write events before Watch hands
// it over. Copies into the folder arrive as a burst of writes.
var Settle = 500 * time.Millisecond

// Watch reports supported audio files created or rewritten in dir until ctx
// is cancelled. fn runs on the watcher goroutine.
func Watch(ctx context.Context, dir string, fn func(File)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(Settle / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !audio.Supported(event.Name) {
				continue
			}
			pending[event.Name] = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < Settle {
					continue
				}
				delete(pending, path)
				if info, err := os.Stat(path); err != nil || info.IsDir() {
					continue
				}
				fn(FromPath(path))
			}
		}
	}
}
