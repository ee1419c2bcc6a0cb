package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"mlcserve/internal/engine"
	"mlcserve/pkg/types"
)

// errUnsupportedMedia marks a non-JSON request body.
var errUnsupportedMedia = errors.New("content type must be application/json")

// readJSONBody reads a size-limited JSON body. A blank body is reported as
// empty and needs no content type.
func readJSONBody(w http.ResponseWriter, r *http.Request) (body []byte, empty bool, err error) {
	body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, false, fmt.Errorf("request body exceeds %d bytes", mbe.Limit)
		}
		return nil, false, fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, true, nil
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		return nil, false, errUnsupportedMedia
	}
	return body, false, nil
}

// decodeJSONBody decodes the body into v, rejecting unknown fields and
// trailing data. On an empty body v is untouched.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) (empty bool, err error) {
	body, empty, err := readJSONBody(w, r)
	if err != nil || empty {
		return empty, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return false, finishDecode(dec, v)
}

// decodeOpenAIBody is decodeJSONBody without the unknown-field check:
// OpenAI clients send parameters this server only passes through.
func decodeOpenAIBody(w http.ResponseWriter, r *http.Request, v any) (empty bool, err error) {
	body, empty, err := readJSONBody(w, r)
	if err != nil || empty {
		return empty, err
	}
	return false, finishDecode(json.NewDecoder(bytes.NewReader(body)), v)
}

func finishDecode(dec *json.Decoder, v any) error {
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}

// engineStatus maps an engine failure to a status; timeouts become 504.
func engineStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func decodeStatus(err error) int {
	if errors.Is(err, errUnsupportedMedia) {
		return http.StatusUnsupportedMediaType
	}
	return http.StatusBadRequest
}

// generateHandler streams the completion of a single prompt as plain text,
// flushing every delta as it arrives.
//
// @Summary      Stream generated text
// @Description  Wraps the prompt as one user message and streams the reply. An omitted prompt uses the default.
// @Tags         generate
// @Accept       json
// @Produce      plain
// @Param        body  body      types.GenerateRequest  false  "Prompt"
// @Success      200   {string}  string                 "streamed text"
// @Failure      400   {object}  types.ErrorResponse
// @Failure      415   {object}  types.ErrorResponse
// @Failure      503   {object}  types.ErrorResponse
// @Router       /generate [post]
func generateHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if _, err := decodeJSONBody(w, r, &req); err != nil {
			writeJSONError(w, decodeStatus(err), err.Error())
			return
		}
		prompt := defaultPrompt
		if req.Prompt != nil {
			prompt = *req.Prompt
		}

		eng, err := svc.Engine("")
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		model := svc.DefaultModel()
		rl := newReqLog(r, model)
		rl.begin()
		sm := newStreamMetrics(routeLabel(r))

		ctx, cancel := requestContext(r.Context())
		defer cancel()
		stream, err := eng.ChatCompletion(ctx, types.ChatCompletionRequest{
			Model:    model,
			Messages: []types.ChatMessage{{Role: "user", Content: prompt}},
			Stream:   true,
		})
		if err != nil {
			if canceled(r.Context()) {
				return
			}
			status := engineStatus(err)
			sm.failed("start")
			rl.end(status, 0, err)
			writeJSONError(w, status, err.Error())
			return
		}
		defer stream.Close()

		flusher, _ := w.(http.Flusher)
		started := false
		begin := func() {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if canceled(r.Context()) {
					return
				}
				status := engineStatus(err)
				rl.end(status, sm.deltas, err)
				if !started {
					sm.failed("start")
					writeJSONError(w, status, err.Error())
					return
				}
				// Headers are gone; abort so the client sees a truncated response.
				sm.failed("stream")
				panic(http.ErrAbortHandler)
			}
			text, ok := engine.Deltas(chunk)
			if !ok || text == "" {
				continue
			}
			if !started {
				begin()
			}
			if _, err := io.WriteString(w, text); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			sm.delta()
			rl.delta(text)
		}
		if !started {
			begin()
		}
		rl.end(http.StatusOK, sm.deltas, nil)
	}
}
