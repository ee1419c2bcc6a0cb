package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	godigest "github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"

	"mlcserve/internal/device"
	"mlcserve/internal/hfhub"
	"mlcserve/internal/registry"
)

// CompileRequest is the input of a compilation.
type CompileRequest struct {
	WeightsDir string
	Config     ChatConfig
	Device     device.Device
}

// MLCCompiler builds model libraries with the mlc_llm CLI and caches them by
// content: the same chat config compiled for the same device is reused.
type MLCCompiler struct {
	// Bin is the mlc_llm executable.
	Bin string
	// CacheDir receives model_lib/<key><ext>.
	CacheDir string
	// Overrides is passed as --overrides, e.g. "context_window_size=4096;prefill_chunk_size=1024".
	Overrides string
	Runner    CommandRunner
	// GOOS selects the library extension; runtime.GOOS when empty.
	GOOS   string
	Logger zerolog.Logger
}

// NewMLCCompiler returns a compiler running bin through os/exec.
func NewMLCCompiler(bin, cacheDir string) *MLCCompiler {
	return &MLCCompiler{Bin: bin, CacheDir: cacheDir, Runner: ExecCommandRunner{}}
}

func (c *MLCCompiler) goos() string {
	if c.GOOS != "" {
		return c.GOOS
	}
	return runtime.GOOS
}

// CacheKey identifies a compilation result.
func (c *MLCCompiler) CacheKey(req CompileRequest) godigest.Digest {
	var b strings.Builder
	b.Write(req.Config.Raw())
	b.WriteString("\x00device=" + req.Device.String())
	b.WriteString("\x00model_type=" + req.Config.ModelType)
	b.WriteString("\x00quantization=" + req.Config.Quantization)
	b.WriteString("\x00overrides=" + c.Overrides)
	b.WriteString("\x00goos=" + c.goos())
	return godigest.FromString(b.String())
}

// Compile returns the path of the compiled library, compiling on a cache miss.
func (c *MLCCompiler) Compile(ctx context.Context, req CompileRequest) (string, error) {
	if c.Bin == "" {
		return "", errors.New("compiler binary not configured")
	}
	if c.CacheDir == "" {
		return "", errors.New("compiler cache dir not configured")
	}
	cfgPath := filepath.Join(req.WeightsDir, hfhub.ChatConfigFile)
	if _, err := os.Stat(cfgPath); err != nil {
		return "", fmt.Errorf("chat config: %w", err)
	}
	libDir := filepath.Join(c.CacheDir, "model_lib")
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		return "", err
	}
	key := c.CacheKey(req)
	out := filepath.Join(libDir, key.Encoded()+registry.LibraryExt(c.goos()))
	log := c.Logger.With().Str("device", req.Device.String()).Str("lib", out).Logger()
	if fi, err := os.Stat(out); err == nil && fi.Size() > 0 {
		log.Info().Msg("compile_cached")
		return out, nil
	}

	// compile next to the final name and rename, so an interrupted run never
	// leaves a truncated library in the cache
	tmp := filepath.Join(libDir, fmt.Sprintf(".%s-%d%s", key.Encoded()[:12], time.Now().UnixNano(), registry.LibraryExt(c.goos())))
	args := c.args(cfgPath, req, tmp)
	start := time.Now()
	log.Info().Strs("args", args).Msg("compile_start")
	runner := c.Runner
	if runner == nil {
		runner = ExecCommandRunner{}
	}
	_, stderr, err := runner.Run(ctx, c.Bin, args, nil)
	if err != nil {
		os.Remove(tmp)
		if ctx.Err() != nil {
			return "", fmt.Errorf("compile canceled: %w", ctx.Err())
		}
		return "", fmt.Errorf("%s compile: %w: %s", c.Bin, err, tail(stderr, 2048))
	}
	fi, err := os.Stat(tmp)
	if err != nil || fi.Size() == 0 {
		os.Remove(tmp)
		return "", fmt.Errorf("%s compile produced no library at %s", c.Bin, tmp)
	}
	if err := os.Rename(tmp, out); err != nil {
		os.Remove(tmp)
		return "", err
	}
	log.Info().Dur("dur", time.Since(start)).Msg("compile_done")
	return out, nil
}

func (c *MLCCompiler) args(cfgPath string, req CompileRequest, output string) []string {
	args := []string{"compile", cfgPath, "--device", req.Device.String(), "--output", output}
	if req.Config.Quantization != "" {
		args = append(args, "--quantization", req.Config.Quantization)
	}
	if req.Config.ModelType != "" {
		args = append(args, "--model-type", req.Config.ModelType)
	}
	if c.Overrides != "" {
		args = append(args, "--overrides", c.Overrides)
	}
	return args
}

// FormatOverrides renders key=value pairs in the form --overrides expects.
func FormatOverrides(kv map[string]string) string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+kv[k])
	}
	return strings.Join(parts, ";")
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
