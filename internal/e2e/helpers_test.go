package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"mlcserve/internal/hfhub"
	"mlcserve/pkg/types"
)

// newFakeHub serves a tiny MLC repository mlc-ai/Tiny-MLC at any revision.
func newFakeHub(t *testing.T) *httptest.Server {
	t.Helper()
	files := map[string]string{
		hfhub.ChatConfigFile: `{"model_type":"llama","quantization":"q4f16_1","context_window_size":2048,` +
			`"tokenizer_files":["tokenizer.json"],"model_config":{"hidden_size":64,"num_hidden_layers":2,"num_attention_heads":4}}`,
		hfhub.ParamsIndexFile: `{"records":[{"dataPath":"params_shard_0.bin","nbytes":8}]}`,
		"tokenizer.json":      `{"version":"1.0"}`,
		"params_shard_0.bin":  "weights!",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest, ok := strings.CutPrefix(r.URL.Path, "/mlc-ai/Tiny-MLC/resolve/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, name, _ := strings.Cut(rest, "/")
		body, ok := files[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fakeEngine speaks the MLC engine's OpenAI-compatible API and echoes the
// last user message word by word.
type fakeEngine struct {
	mu   sync.Mutex
	reqs []types.ChatCompletionRequest
}

func newFakeEngine(t *testing.T) (*fakeEngine, *httptest.Server) {
	t.Helper()
	fe := &fakeEngine{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"object":"list","data":[]}`)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fe.mu.Lock()
		fe.reqs = append(fe.reqs, req)
		fe.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		words := strings.SplitAfter(req.Messages[len(req.Messages)-1].Content, " ")
		for i, word := range words {
			chunk := types.ChatCompletionChunk{
				ID:      "chatcmpl-e2e",
				Object:  "chat.completion.chunk",
				Model:   req.Model,
				Choices: []types.ChatChunkChoice{{Delta: types.ChatDelta{Content: word}}},
			}
			if i == len(words)-1 {
				stop := "stop"
				chunk.Choices[0].FinishReason = &stop
			}
			b, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fe, srv
}

func (fe *fakeEngine) last(t *testing.T) types.ChatCompletionRequest {
	t.Helper()
	fe.mu.Lock()
	defer fe.mu.Unlock()
	if len(fe.reqs) == 0 {
		t.Fatalf("engine received no request")
	}
	return fe.reqs[len(fe.reqs)-1]
}

// libRunner stands in for mlc_llm compile: it writes a library to --output.
type libRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *libRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	for i, a := range args {
		if a == "--output" && i+1 < len(args) {
			return nil, nil, os.WriteFile(args[i+1], []byte("\x7fELF compiled"), 0o755)
		}
	}
	return nil, []byte("no --output"), fmt.Errorf("bad args")
}
