// Package engine is the boundary to the external MLC inference engine.
// Generation itself happens out of process; this package only speaks the
// engine's OpenAI-compatible streaming protocol and manages its lifetime.
package engine

import (
	"context"
	"errors"
	"io"
	"strings"

	"mlcserve/pkg/types"
)

// ErrClosed is returned by an engine after Close.
var ErrClosed = errors.New("engine closed")

// Engine produces chat completions.
type Engine interface {
	// ChatCompletion starts a streaming completion. The stream stops, and
	// the engine aborts generation, when ctx is canceled.
	ChatCompletion(ctx context.Context, req types.ChatCompletionRequest) (Stream, error)
	Close() error
}

// Stream yields chunks in engine order. Recv returns io.EOF after the last chunk.
type Stream interface {
	Recv() (types.ChatCompletionChunk, error)
	Close() error
}

// Factory constructs an engine for a model directory and its compiled library.
type Factory func(ctx context.Context, modelPath, libPath string) (Engine, error)

// Collect drains s into a non-streaming response. Content of each choice is
// concatenated in arrival order.
func Collect(s Stream) (types.ChatCompletionResponse, error) {
	defer s.Close()
	var (
		out      types.ChatCompletionResponse
		contents = map[int]*strings.Builder{}
		roles    = map[int]string{}
		finish   = map[int]*string{}
		order    []int
	)
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, err
		}
		if out.ID == "" {
			out.ID, out.Created, out.Model = chunk.ID, chunk.Created, chunk.Model
		}
		if chunk.Usage != nil {
			out.Usage = chunk.Usage
		}
		for _, c := range chunk.Choices {
			b, ok := contents[c.Index]
			if !ok {
				b = &strings.Builder{}
				contents[c.Index] = b
				order = append(order, c.Index)
			}
			b.WriteString(c.Delta.Content)
			if c.Delta.Role != "" {
				roles[c.Index] = c.Delta.Role
			}
			if c.FinishReason != nil {
				finish[c.Index] = c.FinishReason
			}
		}
	}
	out.Object = "chat.completion"
	for _, idx := range order {
		role := roles[idx]
		if role == "" {
			role = "assistant"
		}
		out.Choices = append(out.Choices, types.ChatChoice{
			Index:        idx,
			Message:      types.ChatMessage{Role: role, Content: contents[idx].String()},
			FinishReason: finish[idx],
		})
	}
	return out, nil
}

// Deltas returns the content of the first choice of a chunk, if any.
func Deltas(chunk types.ChatCompletionChunk) (string, bool) {
	if len(chunk.Choices) == 0 {
		return "", false
	}
	return chunk.Choices[0].Delta.Content, true
}
