package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mlcserve/pkg/types"
)

// Options configures a Remote engine client.
type Options struct {
	APIKey string
	// Model is sent when a request names none.
	Model string
	// RequestTimeout bounds a whole completion; zero means no limit.
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	// Client overrides the HTTP client built from the timeouts.
	Client *http.Client
	Logger zerolog.Logger
}

// StatusError is a non-2xx response from the engine.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine http error: %s: %s", e.Status, e.Body)
}

// Remote talks to a running engine over its OpenAI-compatible HTTP API.
type Remote struct {
	baseURL    string
	apiKey     string
	model      string
	reqTimeout time.Duration
	httpClient *http.Client
	log        zerolog.Logger

	mu     sync.Mutex
	closed bool
	// onClose runs once on Close; used by subprocess engines.
	onClose func() error
}

// NewRemote returns a client for the engine at baseURL.
func NewRemote(baseURL string, opts Options) *Remote {
	cli := opts.Client
	if cli == nil {
		connect := opts.ConnectTimeout
		if connect <= 0 {
			connect = 5 * time.Second
		}
		tr := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   connect,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		// no client timeout: streams are bounded by request contexts
		cli = &http.Client{Transport: tr}
	}
	return &Remote{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     opts.APIKey,
		model:      opts.Model,
		reqTimeout: opts.RequestTimeout,
		httpClient: cli,
		log:        opts.Logger,
	}
}

// BaseURL returns the engine address.
func (r *Remote) BaseURL() string { return r.baseURL }

func (r *Remote) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Health checks that the engine answers GET /v1/models with 2xx.
func (r *Remote) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	r.authorize(req)
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

func (r *Remote) authorize(req *http.Request) {
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
}

// ChatCompletion posts a streaming request to /v1/chat/completions.
func (r *Remote) ChatCompletion(ctx context.Context, in types.ChatCompletionRequest) (Stream, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	payload := in
	payload.Stream = true
	if payload.Model == "" {
		payload.Model = r.model
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	cancel := context.CancelFunc(func() {})
	if r.reqTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.reqTimeout)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	r.authorize(req)
	resp, err := r.httpClient.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(b))}
	}
	return &sseStream{ctx: ctx, cancel: cancel, body: resp.Body, r: bufio.NewReader(resp.Body), log: r.log}, nil
}

// Close marks the client closed and runs the close hook once.
func (r *Remote) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	hook := r.onClose
	r.mu.Unlock()
	r.httpClient.CloseIdleConnections()
	if hook != nil {
		return hook()
	}
	return nil
}

// sseStream parses "data: {...}" lines until "data: [DONE]".
type sseStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	r      *bufio.Reader
	log    zerolog.Logger

	done bool
}

func (s *sseStream) Recv() (types.ChatCompletionChunk, error) {
	if s.done {
		return types.ChatCompletionChunk{}, io.EOF
	}
	for {
		line, err := s.r.ReadString('\n')
		if l := strings.TrimSpace(line); l != "" && !strings.HasPrefix(l, ":") {
			if strings.HasPrefix(strings.ToLower(l), "data:") {
				data := strings.TrimSpace(l[len("data:"):])
				if data == "[DONE]" {
					s.done = true
					return types.ChatCompletionChunk{}, io.EOF
				}
				var msg struct {
					types.ChatCompletionChunk
					Error   json.RawMessage `json:"error"`
					Message string          `json:"message"`
				}
				if jerr := json.Unmarshal([]byte(data), &msg); jerr == nil {
					if msg.Object == "error" || (len(msg.Error) > 0 && string(msg.Error) != "null") {
						s.done = true
						text := msg.Message
						if text == "" {
							text = string(msg.Error)
						}
						return types.ChatCompletionChunk{}, fmt.Errorf("engine stream error: %s", text)
					}
					return msg.ChatCompletionChunk, nil
				}
			}
			s.log.Debug().Str("line", l).Msg("engine_unknown_stream_line")
		}
		if err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				return types.ChatCompletionChunk{}, io.EOF
			}
			if s.ctx.Err() != nil {
				return types.ChatCompletionChunk{}, s.ctx.Err()
			}
			s.log.Warn().Err(err).Msg("engine_stream_read_error")
			return types.ChatCompletionChunk{}, err
		}
	}
}

func (s *sseStream) Close() error {
	s.done = true
	err := s.body.Close()
	s.cancel()
	return err
}
