package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mlcserve/internal/manager"
	"mlcserve/pkg/types"
)

func postGenerate(t *testing.T, h http.Handler, ct, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(http.MethodPost, "/generate", rd)
	if ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestGenerate_StreamsDeltasInOrder(t *testing.T) {
	eng := newFakeEngine("Super", "conductors ", "", "are neat")
	w := postGenerate(t, NewMux(readyService(eng)), "application/json", `{"prompt":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("content-type=%q", ct)
	}
	if got := w.Body.String(); got != "Superconductors are neat" {
		t.Fatalf("body=%q", got)
	}
	if !w.Flushed {
		t.Fatalf("expected flushes while streaming")
	}
	req := eng.lastRequest(t)
	if !req.Stream || req.Model != "HF://mlc-ai/llama" {
		t.Fatalf("engine request: %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "hi" {
		t.Fatalf("prompt not wrapped as one user message: %+v", req.Messages)
	}
}

func TestGenerate_DefaultPrompt(t *testing.T) {
	for name, tc := range map[string]struct{ ct, body string }{
		"empty body":   {"", ""},
		"empty object": {"application/json", `{}`},
		"null prompt":  {"application/json", `{"prompt":null}`},
		"json charset": {"application/json; charset=utf-8", `{}`},
		"whitespace":   {"application/json", "  \n"},
	} {
		t.Run(name, func(t *testing.T) {
			eng := newFakeEngine("ok")
			w := postGenerate(t, NewMux(readyService(eng)), tc.ct, tc.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
			if got := eng.lastRequest(t).Messages[0].Content; got != defaultPrompt {
				t.Fatalf("prompt=%q", got)
			}
		})
	}
}

func TestGenerate_EmptyPromptIsForwarded(t *testing.T) {
	eng := newFakeEngine("ok")
	w := postGenerate(t, NewMux(readyService(eng)), "application/json", `{"prompt":""}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if got := eng.lastRequest(t).Messages[0].Content; got != "" {
		t.Fatalf("prompt=%q", got)
	}
}

func TestGenerate_BadRequests(t *testing.T) {
	SetMaxBodyBytes(64)
	t.Cleanup(func() { SetMaxBodyBytes(0) })
	cases := []struct {
		name, ct, body string
		want           int
	}{
		{"invalid json", "application/json", `{"prompt":`, http.StatusBadRequest},
		{"wrong type", "application/json", `{"prompt":42}`, http.StatusBadRequest},
		{"unknown field", "application/json", `{"prompt":"x","temperature":1}`, http.StatusBadRequest},
		{"not an object", "application/json", `["x"]`, http.StatusBadRequest},
		{"trailing data", "application/json", `{"prompt":"x"} {}`, http.StatusBadRequest},
		{"oversized", "application/json", `{"prompt":"` + strings.Repeat("x", 100) + `"}`, http.StatusBadRequest},
		{"text body", "text/plain", "hello", http.StatusUnsupportedMediaType},
		{"no content type", "", `{"prompt":"x"}`, http.StatusUnsupportedMediaType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := newFakeEngine("never")
			w := postGenerate(t, NewMux(readyService(eng)), tc.ct, tc.body)
			if w.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", w.Code, tc.want, w.Body.String())
			}
			var er types.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil || er.Code != tc.want || er.Error == "" {
				t.Fatalf("error body=%s", w.Body.String())
			}
			if len(eng.reqs) != 0 {
				t.Fatalf("engine must not be called")
			}
		})
	}
}

func TestGenerate_EngineUnavailable(t *testing.T) {
	svc := readyService(nil)
	svc.engErr = manager.ErrDependencyUnavailable("engine not ready: starting")
	w := postGenerate(t, NewMux(svc), "application/json", `{}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestGenerate_ErrorBeforeStream(t *testing.T) {
	for name, eng := range map[string]*fakeEngine{
		"start": {startErr: errEngine},
		"recv":  {deltas: []string{"x"}, failErr: errEngine, failAfter: 0},
	} {
		t.Run(name, func(t *testing.T) {
			w := postGenerate(t, NewMux(readyService(eng)), "application/json", `{}`)
			if w.Code != http.StatusInternalServerError {
				t.Fatalf("status=%d", w.Code)
			}
			if !strings.Contains(w.Body.String(), errEngine.Error()) {
				t.Fatalf("body=%s", w.Body.String())
			}
		})
	}
}

func TestGenerate_ErrorMidStreamAborts(t *testing.T) {
	eng := newFakeEngine("one ", "two")
	eng.failErr, eng.failAfter = errEngine, 1
	ts := httptest.NewServer(NewMux(readyService(eng)))
	defer ts.Close()
	resp, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err == nil {
		t.Fatalf("expected truncated response, got complete body %q", b)
	}
	if string(b) != "one " {
		t.Fatalf("partial body=%q", b)
	}
}

func TestGenerate_FlushesEachDelta(t *testing.T) {
	eng := newFakeEngine("first", "second")
	eng.gate = make(chan struct{})
	ts := httptest.NewServer(NewMux(readyService(eng)))
	defer ts.Close()
	resp, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	br := bufio.NewReader(resp.Body)
	buf := make([]byte, len("first"))
	if _, err := io.ReadFull(br, buf); err != nil || string(buf) != "first" {
		t.Fatalf("first delta not delivered before the second was produced: %q %v", buf, err)
	}
	close(eng.gate)
	rest, err := io.ReadAll(br)
	if err != nil || string(rest) != "second" {
		t.Fatalf("rest=%q err=%v", rest, err)
	}
}

func TestGenerate_ClientDisconnectCancelsEngine(t *testing.T) {
	eng := newFakeEngine("tick")
	eng.block = true
	ts := httptest.NewServer(NewMux(readyService(eng)))
	defer ts.Close()
	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/generate", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	cancel()
	resp.Body.Close()
	select {
	case <-eng.canceled:
	case <-time.After(5 * time.Second):
		t.Fatalf("engine stream was not canceled after client disconnect")
	}
}

func TestGenerate_ServerShutdownCancelsEngine(t *testing.T) {
	base, stop := context.WithCancel(context.Background())
	SetBaseContext(base)
	t.Cleanup(func() { SetBaseContext(nil) })
	eng := newFakeEngine("tick")
	eng.block = true
	ts := httptest.NewServer(NewMux(readyService(eng)))
	defer ts.Close()
	resp, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	stop()
	select {
	case <-eng.canceled:
	case <-time.After(5 * time.Second):
		t.Fatalf("engine stream was not canceled on shutdown")
	}
}

func TestGenerate_Timeout(t *testing.T) {
	SetGenerateTimeout(50 * time.Millisecond)
	t.Cleanup(func() { SetGenerateTimeout(0) })
	eng := newFakeEngine()
	eng.block = true
	w := postGenerate(t, NewMux(readyService(eng)), "application/json", `{}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}
