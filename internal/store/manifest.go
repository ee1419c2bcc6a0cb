package store

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	godigest "github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"
)

// ManifestName is the file written into every committed entry.
const ManifestName = "model.yaml"

// Manifest describes a committed entry. It is written once at Commit and never changed.
type Manifest struct {
	Tag       string            `yaml:"tag"`
	Version   string            `yaml:"version"`
	ModelID   string            `yaml:"model_id"`
	Device    string            `yaml:"device,omitempty"`
	Library   string            `yaml:"library,omitempty"`
	CreatedAt time.Time         `yaml:"created_at"`
	Files     []File            `yaml:"files"`
	Labels    map[string]string `yaml:"labels,omitempty"`
}

// File is one artifact of an entry, addressed by its content digest.
type File struct {
	Path   string          `yaml:"path"`
	Size   int64           `yaml:"size"`
	Digest godigest.Digest `yaml:"digest"`
}

// TotalSize sums the sizes of all files in the manifest.
func (m Manifest) TotalSize() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}

// scanFiles walks dir and returns every regular file with its sha256 digest,
// sorted by slash-separated relative path. The manifest itself is skipped.
func scanFiles(dir string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == ManifestName {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		dgst, err := godigest.SHA256.FromReader(f)
		if err != nil {
			return fmt.Errorf("digest %s: %w", rel, err)
		}
		fi, err := f.Stat()
		if err != nil {
			return err
		}
		files = append(files, File{Path: rel, Size: fi.Size(), Digest: dgst})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func writeManifest(dir string, m Manifest) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ManifestName), b, 0o644)
}

func readManifest(dir string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}
