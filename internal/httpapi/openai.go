package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mlcserve/internal/engine"
	"mlcserve/pkg/types"
)

// chatCompletionsHandler serves the OpenAI-compatible chat endpoint, either
// as an SSE stream or as one aggregated response.
//
// @Summary      Chat completion
// @Description  OpenAI-compatible chat completion. Set stream=true for server-sent events.
// @Tags         openai
// @Accept       json
// @Produce      json
// @Produce      text/event-stream
// @Param        body  body      types.ChatCompletionRequest  true  "Completion request"
// @Success      200   {object}  types.ChatCompletionResponse
// @Failure      400   {object}  types.OpenAIError
// @Failure      404   {object}  types.OpenAIError
// @Failure      503   {object}  types.OpenAIError
// @Router       /v1/chat/completions [post]
func chatCompletionsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatCompletionRequest
		empty, err := decodeOpenAIBody(w, r, &req)
		if err != nil {
			writeOpenAIError(w, decodeStatus(err), err.Error())
			return
		}
		if empty || len(req.Messages) == 0 {
			writeOpenAIError(w, http.StatusBadRequest, "messages must not be empty")
			return
		}
		for i, m := range req.Messages {
			if strings.TrimSpace(m.Role) == "" {
				writeOpenAIError(w, http.StatusBadRequest, "messages["+strconv.Itoa(i)+"].role is required")
				return
			}
		}
		if req.N > 1 {
			writeOpenAIError(w, http.StatusBadRequest, "n > 1 is not supported")
			return
		}
		if req.Model == "" {
			req.Model = svc.DefaultModel()
		}
		eng, err := svc.Engine(req.Model)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusNotFound {
				// unknown model is a client error in the OpenAI protocol
				status = http.StatusBadRequest
			}
			writeOpenAIError(w, status, err.Error())
			return
		}

		rl := newReqLog(r, req.Model)
		rl.begin()
		sm := newStreamMetrics(routeLabel(r))
		ctx, cancel := requestContext(r.Context())
		defer cancel()
		wantStream := req.Stream
		req.Stream = true
		stream, err := eng.ChatCompletion(ctx, req)
		if err != nil {
			if canceled(r.Context()) {
				return
			}
			status := engineStatus(err)
			sm.failed("start")
			rl.end(status, 0, err)
			writeOpenAIError(w, status, err.Error())
			return
		}
		defer stream.Close()

		if !wantStream {
			resp, err := engine.Collect(countingStream{Stream: stream, sm: sm})
			if err != nil {
				if canceled(r.Context()) {
					return
				}
				status := engineStatus(err)
				sm.failed("start")
				rl.end(status, sm.deltas, err)
				writeOpenAIError(w, status, err.Error())
				return
			}
			if resp.Model == "" {
				resp.Model = req.Model
			}
			rl.end(http.StatusOK, sm.deltas, nil)
			writeJSON(w, http.StatusOK, resp)
			return
		}

		flusher, _ := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if canceled(r.Context()) {
					return
				}
				// The status line is already out; report the failure in-band.
				sm.failed("stream")
				rl.end(http.StatusInternalServerError, sm.deltas, err)
				b, _ := json.Marshal(types.OpenAIError{Object: "error", Message: err.Error(), Code: http.StatusInternalServerError})
				_, _ = w.Write([]byte("data: " + string(b) + "\n\n"))
				if flusher != nil {
					flusher.Flush()
				}
				return
			}
			if chunk.Model == "" {
				chunk.Model = req.Model
			}
			b, err := json.Marshal(chunk)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(b) + "\n\n")); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			if text, ok := engine.Deltas(chunk); ok && text != "" {
				sm.delta()
				rl.delta(text)
			}
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
		rl.end(http.StatusOK, sm.deltas, nil)
	}
}

// countingStream feeds stream metrics while a response is aggregated.
type countingStream struct {
	engine.Stream
	sm *streamMetrics
}

func (s countingStream) Recv() (types.ChatCompletionChunk, error) {
	c, err := s.Stream.Recv()
	if err == nil {
		if text, ok := engine.Deltas(c); ok && text != "" {
			s.sm.delta()
		}
	}
	return c, err
}

// openAIModelsHandler lists the served models in the OpenAI format.
//
// @Summary  List models (OpenAI)
// @Tags     openai
// @Produce  json
// @Success  200  {object}  types.ModelList
// @Router   /v1/models [get]
func openAIModelsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Unix()
		list := types.ModelList{Object: "list", Data: []types.ModelCard{}}
		for _, m := range svc.ListModels() {
			list.Data = append(list.Data, types.ModelCard{ID: m.ID, Object: "model", Created: now, OwnedBy: "mlcserve"})
		}
		writeJSON(w, http.StatusOK, list)
	}
}
