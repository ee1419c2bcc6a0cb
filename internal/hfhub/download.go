package hfhub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnauthorized is returned for 401/403 responses; set HF_TOKEN for gated repositories.
	ErrUnauthorized = errors.New("hfhub: unauthorized")
	// ErrNotFound is returned when the repository, revision or file does not exist.
	ErrNotFound = errors.New("hfhub: not found")
)

// DefaultConcurrency bounds parallel shard downloads.
const DefaultConcurrency = 4

// Downloader fetches MLC repositories into CacheDir/<owner>/<name>.
type Downloader struct {
	BaseURL     string
	CacheDir    string
	Token       string
	Concurrency int
	// Progress is optional.
	Progress Progress
	Client   *http.Client
	Logger   zerolog.Logger
}

// NewDownloader returns a Downloader for the public hub, authenticated with HF_TOKEN when set.
func NewDownloader(cacheDir string) *Downloader {
	return &Downloader{
		BaseURL:     DefaultBaseURL,
		CacheDir:    cacheDir,
		Token:       strings.TrimSpace(os.Getenv("HF_TOKEN")),
		Concurrency: DefaultConcurrency,
		Client:      &http.Client{},
	}
}

// Result describes a finished download.
type Result struct {
	Repo   Repo
	Dir    string
	Cached bool
	Files  int
	Bytes  int64
}

// Download fetches the chat config, the params index, the tokenizer files
// and every weight shard of modelID. A previous complete download of the
// same repository and revision is reused.
func (d *Downloader) Download(ctx context.Context, modelID string) (Result, error) {
	repo, err := ParseModelID(modelID)
	if err != nil {
		return Result{}, err
	}
	if d.CacheDir == "" {
		return Result{}, fmt.Errorf("hfhub: empty cache dir")
	}
	dir := filepath.Join(d.CacheDir, repo.Owner, repo.Name)
	res := Result{Repo: repo, Dir: dir}
	log := d.Logger.With().Str("repo", repo.String()).Str("dir", dir).Logger()

	marker := filepath.Join(dir, MarkerFile)
	if b, err := os.ReadFile(marker); err == nil && string(b) == markerContent(repo) {
		log.Info().Msg("download_cached")
		res.Cached = true
		return res, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, fmt.Errorf("create download dir: %w", err)
	}
	start := time.Now()
	log.Info().Msg("download_start")

	var total atomic.Int64
	var files atomic.Int64
	get := func(ctx context.Context, name string, size int64) error {
		n, err := d.fetch(ctx, repo, dir, name, size)
		if err != nil {
			return err
		}
		total.Add(n)
		files.Add(1)
		return nil
	}

	if err := get(ctx, ChatConfigFile, -1); err != nil {
		return res, err
	}
	cfg, err := os.ReadFile(filepath.Join(dir, ChatConfigFile))
	if err != nil {
		return res, err
	}
	tokenizers, err := tokenizerFiles(cfg)
	if err != nil {
		return res, err
	}
	if err := get(ctx, ParamsIndexFile, -1); err != nil {
		return res, err
	}
	idx, err := LoadParamsIndex(filepath.Join(dir, ParamsIndexFile))
	if err != nil {
		return res, err
	}

	type job struct {
		name string
		size int64
	}
	var jobs []job
	for _, t := range tokenizers {
		jobs = append(jobs, job{name: t, size: -1})
	}
	for _, r := range idx.Records {
		jobs = append(jobs, job{name: r.DataPath, size: r.Nbytes})
	}
	for _, j := range jobs {
		if !filepath.IsLocal(filepath.FromSlash(j.name)) {
			return res, fmt.Errorf("hfhub: refusing non-local file path %q", j.name)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(d.Concurrency, 1))
	for _, j := range jobs {
		g.Go(func() error { return get(gctx, j.name, j.size) })
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	if err := os.WriteFile(marker, []byte(markerContent(repo)), 0o644); err != nil {
		log.Warn().Err(err).Msg("download_marker_write_failed")
	}
	res.Files = int(files.Load())
	res.Bytes = total.Load()
	log.Info().
		Int("files", res.Files).
		Str("size", humanize.IBytes(uint64(res.Bytes))).
		Dur("dur", time.Since(start)).
		Msg("download_done")
	return res, nil
}

func markerContent(r Repo) string {
	return fmt.Sprintf("repo: %s\nrevision: %s\n", r.ID(), r.Revision)
}

// fetch downloads one file to dir/name through a temp file. A file that
// already has the expected size is kept.
func (d *Downloader) fetch(ctx context.Context, repo Repo, dir, name string, size int64) (int64, error) {
	dst := filepath.Join(dir, filepath.FromSlash(name))
	if size > 0 {
		if fi, err := os.Stat(dst); err == nil && fi.Size() == size {
			return 0, nil
		}
	}
	base := d.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u := repo.FileURL(base, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if d.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", name, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return 0, fmt.Errorf("%w: %s (status %d)", ErrUnauthorized, u, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("%w: %s", ErrNotFound, u)
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("download %s: unexpected status %d", name, resp.StatusCode)
	}
	if size < 0 {
		size = resp.ContentLength
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".part-*")
	if err != nil {
		return 0, err
	}
	progress := d.Progress
	if progress == nil {
		progress = noProgress{}
	}
	n, err := io.Copy(tmp, progress.Track(name, size, resp.Body))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && size > 0 && n != size {
		err = fmt.Errorf("short download: got %d of %d bytes", n, size)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("download %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	progress.Done(name)
	return n, nil
}
