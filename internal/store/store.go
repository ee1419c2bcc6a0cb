// Package store is a local, versioned artifact store for imported models.
//
// Layout under the root directory:
//
//	<tag>/latest            current version id
//	<tag>/<version>/        entry files plus model.yaml
//	.tmp/                   staging area for pending entries
//	.lock                   cross-process creation lock
//
// Committed entries are immutable. Creating an entry under an existing tag
// requires Overwrite and adds a new version.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
)

const (
	latestName = "latest"
	stagingDir = ".tmp"
	lockName   = ".lock"

	// LockRetryDelay is the polling interval while waiting for the store lock.
	LockRetryDelay = 100 * time.Millisecond
)

// Entry is a committed, immutable store entry.
type Entry struct {
	Tag      string
	Version  string
	Path     string
	Manifest Manifest
}

// Ref renders the entry as "tag:version".
func (e Entry) Ref() string { return e.Tag + ":" + e.Version }

// Store is a model store rooted at a directory.
type Store struct {
	root string

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// Open prepares a store at root, creating the directory and staging area.
func Open(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("store: empty root")
	}
	if err := os.MkdirAll(filepath.Join(root, stagingDir), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{
		root:    root,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		now:     time.Now,
	}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

func (s *Store) newVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String())
}

func (s *Store) lock(ctx context.Context) (*flock.Flock, error) {
	fl := flock.New(filepath.Join(s.root, lockName))
	ok, err := fl.TryLockContext(ctx, LockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("store lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("store lock: not acquired")
	}
	return fl, nil
}

func (s *Store) tagDir(tag string) string { return filepath.Join(s.root, tag) }

func (s *Store) latest(tag string) (string, error) {
	b, err := os.ReadFile(filepath.Join(s.tagDir(tag), latestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, tag)
		}
		return "", err
	}
	v := strings.TrimSpace(string(b))
	if v == "" {
		return "", fmt.Errorf("%w: %s has an empty latest pointer", ErrNotFound, tag)
	}
	return v, nil
}

// Get resolves ref ("tag" or "tag:version") to a committed entry.
func (s *Store) Get(ref string) (Entry, error) {
	tag, version, err := ParseRef(ref)
	if err != nil {
		return Entry{}, err
	}
	if version == "" {
		if version, err = s.latest(tag); err != nil {
			return Entry{}, err
		}
	}
	dir := filepath.Join(s.tagDir(tag), version)
	m, err := readManifest(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, fmt.Errorf("%w: %s:%s", ErrNotFound, tag, version)
		}
		return Entry{}, fmt.Errorf("read entry %s:%s: %w", tag, version, err)
	}
	return Entry{Tag: tag, Version: version, Path: dir, Manifest: m}, nil
}

// Versions lists the committed versions of tag, oldest first.
func (s *Store) Versions(tag string) ([]string, error) {
	if err := ValidateTag(tag); err != nil {
		return nil, err
	}
	ents, err := os.ReadDir(s.tagDir(tag))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, tag)
		}
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.tagDir(tag), e.Name(), ManifestName)); err == nil {
			out = append(out, e.Name())
		}
	}
	// ULIDs sort by creation time.
	sort.Strings(out)
	return out, nil
}

// List returns the latest entry of every tag, sorted by tag.
func (s *Store) List() ([]Entry, error) {
	ents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range ents {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if ValidateTag(e.Name()) != nil {
			continue
		}
		entry, err := s.Get(e.Name())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

// Delete removes a tag with all of its versions.
func (s *Store) Delete(ctx context.Context, tag string) error {
	if err := ValidateTag(tag); err != nil {
		return err
	}
	fl, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer fl.Unlock()
	dir := s.tagDir(tag)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, tag)
		}
		return err
	}
	return os.RemoveAll(dir)
}
