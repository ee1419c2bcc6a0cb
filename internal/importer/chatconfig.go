package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ChatConfig is the typed subset of mlc-chat-config.json the importer reads.
// The document is otherwise passed through untouched; Raw keeps it verbatim.
type ChatConfig struct {
	ModelType            string      `json:"model_type"`
	Quantization         string      `json:"quantization"`
	ContextWindowSize    int         `json:"context_window_size"`
	SlidingWindowSize    int         `json:"sliding_window_size"`
	PrefillChunkSize     int         `json:"prefill_chunk_size"`
	TensorParallelShards int         `json:"tensor_parallel_shards"`
	MaxBatchSize         int         `json:"max_batch_size"`
	TokenizerFiles       []string    `json:"tokenizer_files"`
	ModelConfig          ModelConfig `json:"model_config"`

	raw []byte
}

// ModelConfig holds the architecture fields used for memory estimates.
type ModelConfig struct {
	HiddenSize        int `json:"hidden_size"`
	NumHiddenLayers   int `json:"num_hidden_layers"`
	NumAttentionHeads int `json:"num_attention_heads"`
	NumKeyValueHeads  int `json:"num_key_value_heads"`
	HeadDim           int `json:"head_dim"`
}

// Raw returns the file contents exactly as read.
func (c ChatConfig) Raw() []byte { return c.raw }

// LoadChatConfig reads path, which must hold a JSON object. Values of
// unexpected type in the typed subset are left zero.
func LoadChatConfig(path string) (ChatConfig, error) {
	var cfg ChatConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return ParseChatConfig(b)
}

// ParseChatConfig is LoadChatConfig over bytes.
func ParseChatConfig(b []byte) (ChatConfig, error) {
	var cfg ChatConfig
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return cfg, fmt.Errorf("chat config: %w", err)
	}
	if obj == nil {
		return cfg, fmt.Errorf("chat config: not a JSON object")
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		var te *json.UnmarshalTypeError
		if !errors.As(err, &te) {
			return ChatConfig{}, fmt.Errorf("chat config: %w", err)
		}
	}
	cfg.raw = append([]byte(nil), b...)
	return cfg, nil
}

// kvDtypeBytes guesses the KV cache element size from the quantization name.
func (c ChatConfig) kvDtypeBytes() int {
	q := strings.ToLower(c.Quantization)
	switch {
	case strings.Contains(q, "f32"):
		return 4
	default:
		return 2
	}
}
