// Package importer decodes user audio files into sample buffers, several at
// a time, and watches a folder for new files.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pion/logging"
	"github.com/satindergrewal/klipper/internal/audio"
)

// File is one file to import. Read is called from a worker goroutine.
type File struct {
	Name   string // display name, used for codec selection and errors
	Source string // path on disk, empty for in-memory files
	Read   func() ([]byte, error)
}

// FromPath returns a File that reads path when decoded.
func FromPath(path string) File {
	return File{
		Name:   filepath.Base(path),
		Source: path,
		Read:   func() ([]byte, error) { return os.ReadFile(path) },
	}
}

// FromBytes returns a File over data already in memory.
func FromBytes(name string, data []byte) File {
	return File{
		Name: name,
		Read: func() ([]byte, error) { return data, nil },
	}
}

// Result is the outcome for one file. Exactly one of Buffer and Err is set;
// Err is always a *audio.DecodeError.
type Result struct {
	Name   string
	Source string
	Buffer *audio.Buffer
	Err    error
}

// Importer decodes files with a bounded number of workers.
type Importer struct {
	dec     audio.Decoder
	workers int
	log     logging.LeveledLogger
}

// New creates an importer. workers below 1 means 1.
func New(dec audio.Decoder, workers int, log logging.LeveledLogger) *Importer {
	return &Importer{dec: dec, workers: max(workers, 1), log: log}
}

// Import decodes files concurrently. Results arrive in completion order and
// the channel is closed once every file has reported. A failed file never
// holds back the others.
func (im *Importer) Import(ctx context.Context, files []File) <-chan Result {
	out := make(chan Result, len(files))
	jobs := make(chan File)

	var wg sync.WaitGroup
	for range min(im.workers, max(len(files), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				out <- im.decode(ctx, f)
			}
		}()
	}

	go func() {
		defer close(out)
		for _, f := range files {
			jobs <- f
		}
		close(jobs)
		wg.Wait()
	}()
	return out
}

func (im *Importer) decode(ctx context.Context, f File) Result {
	res := Result{Name: f.Name, Source: f.Source}
	fail := func(err error) Result {
		var de *audio.DecodeError
		if !errors.As(err, &de) {
			err = &audio.DecodeError{File: f.Name, Err: err}
		}
		res.Err = err
		im.log.Warnf("import %s: %v", f.Name, err)
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	data, err := f.Read()
	if err != nil {
		return fail(fmt.Errorf("read: %w", err))
	}
	buf, err := im.dec.Decode(ctx, f.Name, data)
	if err != nil {
		return fail(err)
	}
	if buf.Frames() == 0 {
		return fail(audio.ErrNoFrames)
	}
	if buf.SampleRate() != audio.SampleRate {
		if buf, err = audio.Resample(buf, audio.SampleRate); err != nil {
			return fail(err)
		}
	}
	im.log.Debugf("imported %s: %v", f.Name, buf)
	res.Buffer = buf
	return res
}
