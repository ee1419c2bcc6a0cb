// Package importer turns a hub model identifier into a registered store
// entry: download weights, read the chat config, pick a device, compile the
// model library, inspect memory and register the result. Steps run strictly
// in order without retries; the first failure aborts the import.
package importer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"mlcserve/internal/common/fsutil"
	"mlcserve/internal/device"
	"mlcserve/internal/hfhub"
	"mlcserve/internal/registry"
	"mlcserve/internal/store"
)

// Downloader fetches model weights into a local directory.
type Downloader interface {
	Download(ctx context.Context, modelID string) (hfhub.Result, error)
}

// DeviceDetector resolves a device spec such as "auto" or "cuda:0".
type DeviceDetector interface {
	Detect(ctx context.Context, spec string) (device.Device, error)
}

// Compiler produces a model library and returns its path.
type Compiler interface {
	Compile(ctx context.Context, req CompileRequest) (string, error)
}

// Inspector estimates the serving footprint of a compiled model.
type Inspector interface {
	Inspect(ctx context.Context, weightsDir string, cfg ChatConfig, libPath string) (MemoryReport, error)
}

// DefaultExclude lists weight-directory paths never copied into the store.
var DefaultExclude = []string{
	".git", ".git/**",
	".gitattributes",
	hfhub.MarkerFile,
	"**/.part-*",
}

// Pipeline wires the import steps together.
type Pipeline struct {
	Downloader Downloader
	Detector   DeviceDetector
	Compiler   Compiler
	// Inspector is optional; its failures are logged and ignored.
	Inspector Inspector
	Store     *store.Store

	// DeviceSpec is handed to the detector; "auto" when empty.
	DeviceSpec string
	Overwrite  bool
	// Exclude overrides DefaultExclude when non-nil.
	Exclude []string
	// GOOS names the library inside the entry; runtime.GOOS when empty.
	GOOS   string
	Logger zerolog.Logger
}

// Run imports modelID under tag and returns the committed entry.
func (p *Pipeline) Run(ctx context.Context, modelID, tag string) (store.Entry, error) {
	if err := p.check(); err != nil {
		return store.Entry{}, err
	}
	log := p.Logger.With().Str("model", modelID).Str("tag", tag).Logger()
	start := time.Now()

	if err := store.ValidateTag(tag); err != nil {
		return store.Entry{}, stageErr(StageRegister, err)
	}
	if !p.Overwrite {
		// Create re-checks under the store lock
		if e, err := p.Store.Get(tag); err == nil {
			return store.Entry{}, stageErr(StageRegister, fmt.Errorf("%w: %s (version %s)", store.ErrTagExists, tag, e.Version))
		}
	}

	log.Info().Msg("import_download_start")
	dl, err := p.Downloader.Download(ctx, modelID)
	if err != nil {
		return store.Entry{}, stageErr(StageDownload, err)
	}
	log.Info().Str("dir", dl.Dir).Bool("cached", dl.Cached).Msg("import_download_done")

	cfg, err := LoadChatConfig(filepath.Join(dl.Dir, hfhub.ChatConfigFile))
	if err != nil {
		return store.Entry{}, stageErr(StageConfig, err)
	}
	log.Debug().Str("model_type", cfg.ModelType).Str("quantization", cfg.Quantization).Msg("import_config_loaded")

	spec := p.DeviceSpec
	if spec == "" {
		spec = device.Auto
	}
	dev, err := p.Detector.Detect(ctx, spec)
	if err != nil {
		return store.Entry{}, stageErr(StageDevice, err)
	}
	log.Info().Str("device", dev.String()).Str("device_name", dev.Name).Msg("import_device_selected")

	lib, err := p.Compiler.Compile(ctx, CompileRequest{WeightsDir: dl.Dir, Config: cfg, Device: dev})
	if err != nil {
		return store.Entry{}, stageErr(StageCompile, err)
	}

	if p.Inspector != nil {
		rep, err := p.Inspector.Inspect(ctx, dl.Dir, cfg, lib)
		if err != nil {
			log.Warn().Err(err).Msg("import_inspect_failed")
		} else {
			ev := log.Info()
			if !rep.Fits() {
				ev = log.Warn()
			}
			ev.Str("params", humanize.IBytes(uint64(rep.ParamsBytes))).
				Str("kv_cache", humanize.IBytes(uint64(rep.KVCacheBytes))).
				Str("library", humanize.IBytes(uint64(rep.LibraryBytes))).
				Str("total", humanize.IBytes(uint64(rep.TotalBytes()))).
				Str("host_available", humanize.IBytes(rep.HostAvailable)).
				Bool("fits", rep.Fits()).
				Msg("import_memory_usage")
		}
	}

	entry, err := p.register(ctx, modelID, tag, dl.Dir, lib, cfg, dev)
	if err != nil {
		return store.Entry{}, stageErr(StageRegister, err)
	}
	log.Info().
		Str("ref", entry.Ref()).
		Str("path", entry.Path).
		Str("size", humanize.IBytes(uint64(entry.Manifest.TotalSize()))).
		Dur("dur", time.Since(start)).
		Msg("import_done")
	return entry, nil
}

func (p *Pipeline) check() error {
	switch {
	case p.Downloader == nil:
		return errors.New("importer: no downloader")
	case p.Detector == nil:
		return errors.New("importer: no device detector")
	case p.Compiler == nil:
		return errors.New("importer: no compiler")
	case p.Store == nil:
		return errors.New("importer: no store")
	}
	return nil
}

// LibraryName is the file name of the compiled library inside an entry.
func LibraryName(tag string, dev device.Device, goos string) string {
	return fmt.Sprintf("%s-%s%s", tag, dev.Kind, registry.LibraryExt(goos))
}

func (p *Pipeline) register(ctx context.Context, modelID, tag, weightsDir, lib string, cfg ChatConfig, dev device.Device) (store.Entry, error) {
	pending, err := p.Store.Create(ctx, tag, store.CreateOptions{Overwrite: p.Overwrite})
	if err != nil {
		return store.Entry{}, err
	}
	defer pending.Abort()

	exclude := p.Exclude
	if exclude == nil {
		exclude = DefaultExclude
	}
	n, err := fsutil.CopyTree(weightsDir, pending.Path(), exclude)
	if err != nil {
		return store.Entry{}, fmt.Errorf("copy weights: %w", err)
	}
	goos := p.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	libName := LibraryName(tag, dev, goos)
	if err := fsutil.CopyFile(lib, filepath.Join(pending.Path(), libName)); err != nil {
		return store.Entry{}, fmt.Errorf("copy library: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return store.Entry{}, err
	}
	p.Logger.Debug().Int("files", n+1).Str("staging", pending.Path()).Msg("import_register_copied")

	labels := map[string]string{"platform": goos}
	if cfg.ModelType != "" {
		labels["model_type"] = cfg.ModelType
	}
	if cfg.Quantization != "" {
		labels["quantization"] = cfg.Quantization
	}
	return pending.Commit(store.Metadata{
		ModelID: modelID,
		Device:  dev.String(),
		Library: libName,
		Labels:  labels,
	})
}
