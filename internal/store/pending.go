package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// CreateOptions controls Create.
type CreateOptions struct {
	// Overwrite allows creating a new version under a tag that already has one.
	Overwrite bool
}

// Metadata is recorded in the manifest at Commit.
type Metadata struct {
	ModelID string
	Device  string
	// Library is the relative path of the compiled model library inside the entry.
	Library string
	Labels  map[string]string
}

// Pending is an entry under construction. Callers write files below Path()
// and then Commit. Abort (usually deferred) discards everything that was
// not committed. The store lock is held until Commit or Abort returns.
type Pending struct {
	store *Store
	tag   string
	dir   string
	fl    *flock.Flock

	mu   sync.Mutex
	done bool
}

// Create starts a new entry for tag.
func (s *Store) Create(ctx context.Context, tag string, opts CreateOptions) (*Pending, error) {
	if err := ValidateTag(tag); err != nil {
		return nil, err
	}
	fl, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	if !opts.Overwrite {
		if _, err := os.Stat(filepath.Join(s.tagDir(tag), latestName)); err == nil {
			fl.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrTagExists, tag)
		}
	}
	dir, err := os.MkdirTemp(filepath.Join(s.root, stagingDir), tag+"-*")
	if err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Pending{store: s, tag: tag, dir: dir, fl: fl}, nil
}

// Tag returns the tag the entry will be committed under.
func (p *Pending) Tag() string { return p.tag }

// Path is the staging directory receiving the entry files.
func (p *Pending) Path() string { return p.dir }

// Commit seals the entry: digests every file, writes the manifest, moves the
// staging directory into place and points latest at the new version.
func (p *Pending) Commit(md Metadata) (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return Entry{}, ErrFinished
	}
	p.done = true
	defer p.fl.Unlock()

	entry, err := p.commit(md)
	if err != nil {
		_ = os.RemoveAll(p.dir)
		return Entry{}, err
	}
	return entry, nil
}

func (p *Pending) commit(md Metadata) (Entry, error) {
	s := p.store
	files, err := scanFiles(p.dir)
	if err != nil {
		return Entry{}, fmt.Errorf("scan entry files: %w", err)
	}
	if md.Library != "" {
		if _, err := os.Stat(filepath.Join(p.dir, filepath.FromSlash(md.Library))); err != nil {
			return Entry{}, fmt.Errorf("library %s: %w", md.Library, err)
		}
	}
	version := s.newVersion()
	m := Manifest{
		Tag:       p.tag,
		Version:   version,
		ModelID:   md.ModelID,
		Device:    md.Device,
		Library:   md.Library,
		CreatedAt: s.now().UTC(),
		Files:     files,
		Labels:    md.Labels,
	}
	if err := writeManifest(p.dir, m); err != nil {
		return Entry{}, err
	}
	tagDir := s.tagDir(p.tag)
	if err := os.MkdirAll(tagDir, 0o755); err != nil {
		return Entry{}, err
	}
	final := filepath.Join(tagDir, version)
	if err := os.Rename(p.dir, final); err != nil {
		return Entry{}, fmt.Errorf("move entry into place: %w", err)
	}
	if err := writeLatest(tagDir, version); err != nil {
		// the version directory stays; it is complete but unreferenced
		return Entry{}, err
	}
	return Entry{Tag: p.tag, Version: version, Path: final, Manifest: m}, nil
}

func writeLatest(tagDir, version string) error {
	tmp, err := os.CreateTemp(tagDir, ".latest-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(version + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(tagDir, latestName)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("update latest: %w", err)
	}
	return nil
}

// Abort discards the pending entry. It is a no-op after Commit or a prior Abort.
func (p *Pending) Abort() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return nil
	}
	p.done = true
	defer p.fl.Unlock()
	if err := os.RemoveAll(p.dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove staging dir: %w", err)
	}
	return nil
}
