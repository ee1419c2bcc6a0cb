package httpapi

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"mlcserve/internal/engine"
	"mlcserve/internal/manager"
	"mlcserve/pkg/types"
)

type mockService struct {
	models []types.Model
	status types.StatusResponse
	ready  bool
	eng    engine.Engine
	engErr error
}

func (m *mockService) ListModels() []types.Model    { return append([]types.Model(nil), m.models...) }
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }

func (m *mockService) DefaultModel() string {
	if len(m.models) == 0 {
		return ""
	}
	return m.models[0].ID
}

func (m *mockService) Engine(id string) (engine.Engine, error) {
	if m.engErr != nil {
		return nil, m.engErr
	}
	if id != "" && id != m.DefaultModel() {
		return nil, manager.ErrModelNotFound(id)
	}
	return m.eng, nil
}

// fakeEngine replays scripted deltas. With gate set, every delta after the
// first waits for the gate to close; with block set, the stream waits for
// cancellation after the last delta.
type fakeEngine struct {
	deltas    []string
	startErr  error
	failErr   error
	failAfter int
	gate      chan struct{}
	block     bool

	mu       sync.Mutex
	reqs     []types.ChatCompletionRequest
	canceled chan struct{}
	once     sync.Once
}

func newFakeEngine(deltas ...string) *fakeEngine {
	return &fakeEngine{deltas: deltas, canceled: make(chan struct{})}
}

func (e *fakeEngine) ChatCompletion(ctx context.Context, req types.ChatCompletionRequest) (engine.Stream, error) {
	e.mu.Lock()
	e.reqs = append(e.reqs, req)
	e.mu.Unlock()
	if e.startErr != nil {
		return nil, e.startErr
	}
	return &fakeStream{ctx: ctx, e: e}, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) lastRequest(t *testing.T) types.ChatCompletionRequest {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.reqs) == 0 {
		t.Fatalf("engine received no request")
	}
	return e.reqs[len(e.reqs)-1]
}

type fakeStream struct {
	ctx context.Context
	e   *fakeEngine
	i   int
}

func (s *fakeStream) Recv() (types.ChatCompletionChunk, error) {
	e := s.e
	if e.failErr != nil && s.i == e.failAfter {
		return types.ChatCompletionChunk{}, e.failErr
	}
	if s.i < len(e.deltas) {
		if s.i > 0 && e.gate != nil {
			select {
			case <-e.gate:
			case <-s.ctx.Done():
				e.once.Do(func() { close(e.canceled) })
				return types.ChatCompletionChunk{}, s.ctx.Err()
			}
		}
		d := e.deltas[s.i]
		s.i++
		return types.ChatCompletionChunk{
			ID:      "chatcmpl-1",
			Object:  "chat.completion.chunk",
			Choices: []types.ChatChunkChoice{{Delta: types.ChatDelta{Content: d}}},
		}, nil
	}
	if e.block {
		<-s.ctx.Done()
		e.once.Do(func() { close(e.canceled) })
		return types.ChatCompletionChunk{}, s.ctx.Err()
	}
	return types.ChatCompletionChunk{}, io.EOF
}

func (s *fakeStream) Close() error { return nil }

var errEngine = errors.New("engine failure")

func readyService(eng engine.Engine) *mockService {
	return &mockService{
		models: []types.Model{{ID: "HF://mlc-ai/llama", Tag: "llama"}},
		ready:  true,
		eng:    eng,
	}
}
