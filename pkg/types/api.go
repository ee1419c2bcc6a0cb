package types

import "encoding/json"

// GenerateRequest is the payload of POST /generate.
type GenerateRequest struct {
	// Prompt text. When omitted the server default prompt is used.
	// example: Explain superconductors like I'm five years old
	Prompt *string `json:"prompt,omitempty" example:"Explain superconductors like I'm five years old"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Lifecycle state of the server wrapper (uninitialized, starting, ready, stopped).
	// example: ready
	State string `json:"state" example:"ready"`
	// Model served by default by /generate.
	// example: HF://mlc-ai/Llama-3-8B-Instruct-q4f16_1-MLC
	DefaultModel string `json:"default_model" example:"HF://mlc-ai/Llama-3-8B-Instruct-q4f16_1-MLC"`
	// Registered models.
	Models []Model `json:"models"`
	// Startup error, if the server failed to come up.
	Error string `json:"error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ChatMessage is one message of a chat-completion conversation.
// Content may arrive as a string, null or an array of typed parts. For the
// non-string forms Content holds the concatenated text parts and Parts the
// original value, which is what gets marshalled back.
type ChatMessage struct {
	// example: user
	Role string `json:"role" example:"user"`
	// example: Write a haiku about the ocean.
	Content string          `json:"content" example:"Write a haiku about the ocean."`
	Parts   json.RawMessage `json:"-" swaggerignore:"true"`
	// Extra keeps fields such as name or tool_call_id.
	Extra map[string]json.RawMessage `json:"-" swaggerignore:"true"`
}

// ChatCompletionRequest is the OpenAI-compatible payload of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	// Model identifier; the server default is used when empty.
	Model    string        `json:"model,omitempty"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
	// example: 256
	MaxTokens        *int     `json:"max_tokens,omitempty" example:"256"`
	Temperature      *float64 `json:"temperature,omitempty" example:"0.7"`
	TopP             *float64 `json:"top_p,omitempty" example:"0.95"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	Stop             Stop     `json:"stop,omitempty"`
	Seed             *int64   `json:"seed,omitempty"`
	N                int      `json:"n,omitempty"`
	User             string   `json:"user,omitempty"`
	// Extra holds every other request parameter (stream_options, logprobs,
	// response_format, tools, ...). It is forwarded to the engine as is.
	Extra map[string]json.RawMessage `json:"-" swaggerignore:"true"`
}

// ChatDelta is the incremental content of one streamed choice.
type ChatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// ChatChunkChoice is one choice of a streamed chunk.
type ChatChunkChoice struct {
	Index        int       `json:"index"`
	Delta        ChatDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

// ChatCompletionChunk is one server-sent event of a streaming completion.
type ChatCompletionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`
	Usage   *Usage            `json:"usage,omitempty"`
}

// ChatChoice is one choice of a non-streaming completion.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason *string     `json:"finish_reason"`
}

// ChatCompletionResponse is the non-streaming OpenAI-compatible response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// Usage contains token accounting reported by the engine.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelCard is one entry of GET /v1/models.
type ModelCard struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the OpenAI-compatible response of GET /v1/models.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelCard `json:"data"`
}

// OpenAIError is the structured error body of the OpenAI-compatible endpoints.
type OpenAIError struct {
	// example: error
	Object string `json:"object" example:"error"`
	// example: messages must not be empty
	Message string `json:"message" example:"messages must not be empty"`
	// example: 400
	Code int `json:"code" example:"400"`
}
