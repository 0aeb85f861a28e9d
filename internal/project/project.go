// Package project persists an arrangement as a YAML file that references the
// source audio files rather than embedding samples.
package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/satindergrewal/klipper/internal/audio"
	"github.com/satindergrewal/klipper/internal/importer"
	"github.com/satindergrewal/klipper/internal/timeline"
	"gopkg.in/yaml.v3"
)

// Version is the file format version written by Save.
const Version = 1

var (
	// ErrNoSource is returned when a clip was imported from memory and has no
	// file to reference.
	ErrNoSource = errors.New("clip has no source file")
	// ErrVersion is returned for files written by a newer format.
	ErrVersion = errors.New("unsupported project version")
)

// Project is the on-disk form of a timeline.
type Project struct {
	Version int         `yaml:"version"`
	Name    string      `yaml:"name,omitempty"`
	View    View        `yaml:"view"`
	Clips   []ClipEntry `yaml:"clips"`
}

// View holds the persisted view settings.
type View struct {
	Zoom   float64 `yaml:"zoom"`
	Scroll float64 `yaml:"scroll"`
	Volume float64 `yaml:"volume"`
}

// ClipEntry places a span of a source file on the timeline.
type ClipEntry struct {
	ID     string  `yaml:"id"`
	Name   string  `yaml:"name,omitempty"`
	Source string  `yaml:"source"`
	Start  float64 `yaml:"start"`
	End    float64 `yaml:"end"`
}

// Snapshot captures s. Every clip must have a Source.
func Snapshot(name string, s *timeline.Store) (*Project, error) {
	p := &Project{
		Version: Version,
		Name:    name,
		View: View{
			Zoom:   s.ZoomLevel(),
			Scroll: s.ScrollPosition(),
			Volume: s.MasterVolume(),
		},
	}
	for _, c := range s.Clips() {
		if c.Source == "" {
			return nil, fmt.Errorf("%w: %s (%s)", ErrNoSource, c.Name, c.ID)
		}
		p.Clips = append(p.Clips, ClipEntry{ID: c.ID, Name: c.Name, Source: c.Source, Start: c.Start, End: c.End})
	}
	return p, nil
}

// Save writes p to path atomically. Sources under the project directory are
// stored relative to it.
func Save(path string, p *Project) (err error) {
	dir := filepath.Dir(path)
	out := *p
	out.Clips = make([]ClipEntry, len(p.Clips))
	for i, c := range p.Clips {
		if rel, relErr := filepath.Rel(dir, c.Source); relErr == nil && filepath.IsAbs(c.Source) && filepath.IsLocal(rel) {
			c.Source = rel
		}
		out.Clips[i] = c
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".klipper-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save project: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

// Read parses the project at path. Relative sources are resolved against
// the project directory.
func Read(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse project: %w", err)
	}
	if p.Version > Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, p.Version)
	}
	dir := filepath.Dir(path)
	for i, c := range p.Clips {
		if c.Source != "" && !filepath.IsAbs(c.Source) {
			p.Clips[i].Source = filepath.Join(dir, c.Source)
		}
	}
	return &p, nil
}

// Restore decodes every distinct source once and rebuilds the clips, which
// share buffers when they share a source. Clip ranges are checked before
// anything is decoded. The first decode failure is returned after all files
// have been tried.
func (p *Project) Restore(ctx context.Context, im *importer.Importer) ([]timeline.Clip, error) {
	var files []importer.File
	seen := make(map[string]bool)
	for _, c := range p.Clips {
		if c.Source == "" {
			return nil, fmt.Errorf("%w: %s", ErrNoSource, c.ID)
		}
		if err := (timeline.Clip{ID: c.ID, Start: c.Start, End: c.End}).Validate(); err != nil {
			return nil, fmt.Errorf("restore: %w", err)
		}
		if !seen[c.Source] {
			seen[c.Source] = true
			files = append(files, importer.FromPath(c.Source))
		}
	}

	buffers := make(map[string]*audio.Buffer, len(files))
	var firstErr error
	for res := range im.Import(ctx, files) {
		if res.Err != nil {
			if firstErr == nil {
				firstErr = res.Err
			}
			continue
		}
		buffers[res.Source] = res.Buffer
	}
	if firstErr != nil {
		return nil, firstErr
	}

	clips := make([]timeline.Clip, 0, len(p.Clips))
	for _, e := range p.Clips {
		clips = append(clips, timeline.Clip{
			ID:     e.ID,
			Buffer: buffers[e.Source],
			Start:  e.Start,
			End:    e.End,
			Name:   e.Name,
			Source: e.Source,
		})
	}
	return clips, nil
}

// Apply replaces s's clips with clips and restores the view settings.
func (p *Project) Apply(s *timeline.Store, clips []timeline.Clip) {
	s.ClearAll()
	s.RestoreClips(clips)
	s.SetZoomLevel(p.View.Zoom)
	s.SetScrollPosition(p.View.Scroll)
	s.SetMasterVolume(p.View.Volume)
}
