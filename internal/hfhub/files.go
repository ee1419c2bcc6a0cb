package hfhub

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	// ChatConfigFile is the MLC chat configuration at the repository root.
	ChatConfigFile = "mlc-chat-config.json"
	// ParamsIndexFile lists the weight shards of an MLC repository.
	ParamsIndexFile = "ndarray-cache.json"
	// MarkerFile records a completed download inside the local directory.
	MarkerFile = ".mlcserve-downloaded"
)

// ParamsIndex is the subset of ndarray-cache.json needed to fetch and size weights.
type ParamsIndex struct {
	Records []ParamShard `json:"records"`
}

// ParamShard is one weight shard file.
type ParamShard struct {
	DataPath string `json:"dataPath"`
	Format   string `json:"format,omitempty"`
	Nbytes   int64  `json:"nbytes"`
}

// TotalBytes sums the shard sizes.
func (p ParamsIndex) TotalBytes() int64 {
	var n int64
	for _, r := range p.Records {
		n += r.Nbytes
	}
	return n
}

// LoadParamsIndex parses an ndarray-cache.json file.
func LoadParamsIndex(path string) (ParamsIndex, error) {
	var idx ParamsIndex
	b, err := os.ReadFile(path)
	if err != nil {
		return idx, err
	}
	if err := json.Unmarshal(b, &idx); err != nil {
		return idx, fmt.Errorf("parse %s: %w", path, err)
	}
	return idx, nil
}

// tokenizerFiles extracts "tokenizer_files" from a raw chat config.
func tokenizerFiles(chatConfig []byte) ([]string, error) {
	var cfg struct {
		TokenizerFiles []string `json:"tokenizer_files"`
	}
	if err := json.Unmarshal(chatConfig, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ChatConfigFile, err)
	}
	return cfg.TokenizerFiles, nil
}
