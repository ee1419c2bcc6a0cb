package manager

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"mlcserve/internal/engine"
	"mlcserve/internal/store"
	"mlcserve/pkg/types"
)

// fakeEngine is a lightweight in-memory engine used for tests.
type fakeEngine struct {
	mu     sync.Mutex
	deltas []string
	closed int
}

func (f *fakeEngine) ChatCompletion(ctx context.Context, req types.ChatCompletionRequest) (engine.Stream, error) {
	return &fakeStream{deltas: append([]string(nil), f.deltas...)}, nil
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeEngine) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeStream struct{ deltas []string }

func (s *fakeStream) Recv() (types.ChatCompletionChunk, error) {
	if len(s.deltas) == 0 {
		return types.ChatCompletionChunk{}, io.EOF
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return types.ChatCompletionChunk{Choices: []types.ChatChunkChoice{{Delta: types.ChatDelta{Content: d}}}}, nil
}

func (s *fakeStream) Close() error { return nil }

// fakeFactory records what it was asked to start.
type fakeFactory struct {
	eng       *fakeEngine
	err       error
	modelPath string
	libPath   string
	calls     int
}

func (f *fakeFactory) New(ctx context.Context, modelPath, libPath string) (engine.Engine, error) {
	f.calls++
	f.modelPath, f.libPath = modelPath, libPath
	if f.err != nil {
		return nil, f.err
	}
	return f.eng, nil
}

// commitEntry stores an entry for tag whose directory holds libs.
func commitEntry(t *testing.T, s *store.Store, tag string, libs ...string) store.Entry {
	t.Helper()
	p, err := s.Create(context.Background(), tag, store.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer p.Abort()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(p.Path(), name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("mlc-chat-config.json", `{"model_type":"llama"}`)
	for _, l := range libs {
		write(l, "ELF")
	}
	lib := ""
	if len(libs) == 1 {
		lib = libs[0]
	}
	e, err := p.Commit(store.Metadata{ModelID: "HF://mlc-ai/" + tag, Device: "cuda:0", Library: lib})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return e
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "models"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

var errBoom = errors.New("boom")
