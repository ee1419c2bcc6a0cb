package importer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"mlcserve/internal/device"
	"mlcserve/internal/hfhub"
)

const llamaChatConfig = `{
  "model_type": "llama",
  "quantization": "q4f16_1",
  "context_window_size": 8192,
  "prefill_chunk_size": 2048,
  "tensor_parallel_shards": 1,
  "tokenizer_files": ["tokenizer.json"],
  "model_config": {
    "hidden_size": 4096,
    "num_hidden_layers": 32,
    "num_attention_heads": 32,
    "num_key_value_heads": 8,
    "head_dim": 128
  },
  "conv_template": {"name": "llama-3"}
}`

// calls records the order in which pipeline collaborators are invoked.
type calls struct {
	mu    sync.Mutex
	order []string
}

func (c *calls) add(s string) {
	c.mu.Lock()
	c.order = append(c.order, s)
	c.mu.Unlock()
}

type fakeDownloader struct {
	calls *calls
	root  string
	files map[string]string
	err   error
}

func (f *fakeDownloader) Download(_ context.Context, modelID string) (hfhub.Result, error) {
	f.calls.add("download")
	if f.err != nil {
		return hfhub.Result{}, f.err
	}
	dir := filepath.Join(f.root, "weights")
	for name, body := range f.files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return hfhub.Result{}, err
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			return hfhub.Result{}, err
		}
	}
	return hfhub.Result{Dir: dir, Files: len(f.files)}, nil
}

type fakeDetector struct {
	calls *calls
	dev   device.Device
	err   error
	spec  string
}

func (f *fakeDetector) Detect(_ context.Context, spec string) (device.Device, error) {
	f.calls.add("device")
	f.spec = spec
	return f.dev, f.err
}

type fakeCompiler struct {
	calls *calls
	root  string
	err   error
	req   CompileRequest
}

func (f *fakeCompiler) Compile(_ context.Context, req CompileRequest) (string, error) {
	f.calls.add("compile")
	f.req = req
	if f.err != nil {
		return "", f.err
	}
	p := filepath.Join(f.root, "cache", "lib.so")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	return p, os.WriteFile(p, []byte("\x7fELF"), 0o755)
}

type fakeInspector struct {
	calls *calls
	err   error
}

func (f *fakeInspector) Inspect(context.Context, string, ChatConfig, string) (MemoryReport, error) {
	f.calls.add("inspect")
	return MemoryReport{ParamsBytes: 10, HostAvailable: 100}, f.err
}

// fakeRunner records invocations and optionally writes the --output file.
type fakeRunner struct {
	mu     sync.Mutex
	runs   [][]string
	write  bool
	stderr string
	err    error
}

func (r *fakeRunner) Run(_ context.Context, name string, args []string, _ io.Reader) ([]byte, []byte, error) {
	r.mu.Lock()
	r.runs = append(r.runs, append([]string{name}, args...))
	r.mu.Unlock()
	if r.err != nil {
		return nil, []byte(r.stderr), r.err
	}
	if r.write {
		for i, a := range args {
			if a == "--output" && i+1 < len(args) {
				if err := os.WriteFile(args[i+1], []byte("\x7fELF"), 0o755); err != nil {
					return nil, nil, err
				}
			}
		}
	}
	return nil, nil, nil
}

var errBoom = errors.New("boom")

func weightFiles() map[string]string {
	return map[string]string{
		hfhub.ChatConfigFile:  llamaChatConfig,
		hfhub.ParamsIndexFile: `{"records":[{"dataPath":"params_shard_0.bin","nbytes":4}]}`,
		"params_shard_0.bin":  "abcd",
		"tokenizer.json":      "{}",
		hfhub.MarkerFile:      "repo: x\n",
		".git/HEAD":           "ref: refs/heads/main",
	}
}

func writeWeights(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return dir
}
