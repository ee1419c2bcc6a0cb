package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mlcserve/internal/common/fsutil"
)

var (
	// ErrNoLibrary means the entry directory holds no compiled model library.
	ErrNoLibrary = errors.New("no compiled library found")
	// ErrAmbiguousLibrary means more than one file could be the model library.
	ErrAmbiguousLibrary = errors.New("ambiguous compiled library")
)

// LibraryExt returns the shared-library extension for goos.
func LibraryExt(goos string) string {
	switch goos {
	case "darwin", "ios":
		return ".dylib"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}

// LibraryKind classifies the outcome of FindLibrary.
type LibraryKind int

const (
	LibraryNone LibraryKind = iota
	LibraryFound
	LibraryAmbiguous
)

func (k LibraryKind) String() string {
	switch k {
	case LibraryFound:
		return "found"
	case LibraryAmbiguous:
		return "ambiguous"
	default:
		return "none"
	}
}

// LibraryResult is the outcome of a library search over a directory listing.
type LibraryResult struct {
	Kind LibraryKind
	// Name is set when Kind is LibraryFound.
	Name string
	// Candidates lists every matching name, sorted.
	Candidates []string
}

// Err maps the result to ErrNoLibrary, ErrAmbiguousLibrary or nil.
func (r LibraryResult) Err() error {
	switch r.Kind {
	case LibraryFound:
		return nil
	case LibraryAmbiguous:
		return fmt.Errorf("%w: %s", ErrAmbiguousLibrary, strings.Join(r.Candidates, ", "))
	default:
		return ErrNoLibrary
	}
}

// FindLibrary picks the single name ending in ext (case-insensitive).
// It touches no filesystem.
func FindLibrary(names []string, ext string) LibraryResult {
	ext = strings.ToLower(ext)
	var matches []string
	for _, n := range names {
		if strings.HasSuffix(strings.ToLower(n), ext) && len(n) > len(ext) {
			matches = append(matches, n)
		}
	}
	sort.Strings(matches)
	switch len(matches) {
	case 0:
		return LibraryResult{Kind: LibraryNone}
	case 1:
		return LibraryResult{Kind: LibraryFound, Name: matches[0], Candidates: matches}
	default:
		return LibraryResult{Kind: LibraryAmbiguous, Candidates: matches}
	}
}

// ScanDir lists the regular files directly inside dir. A leading '~' is expanded.
func ScanDir(dir string) ([]string, error) {
	abs, err := fsutil.ResolveDir(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// LocateLibrary returns the absolute path of the single ext library in dir.
func LocateLibrary(dir, ext string) (string, error) {
	names, err := ScanDir(dir)
	if err != nil {
		return "", err
	}
	res := FindLibrary(names, ext)
	if err := res.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", dir, err)
	}
	abs, err := fsutil.ResolveDir(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(abs, res.Name), nil
}
