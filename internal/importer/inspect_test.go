package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVCacheBytes_Llama3(t *testing.T) {
	cfg, err := ParseChatConfig([]byte(llamaChatConfig))
	require.NoError(t, err)
	// 2 (k,v) * 32 layers * 8 kv heads * 128 dims * 8192 tokens * 2 bytes
	assert.Equal(t, int64(1<<30), kvCacheBytes(cfg))

	cfg.TensorParallelShards = 2
	assert.Equal(t, int64(1<<29), kvCacheBytes(cfg))

	cfg.TensorParallelShards = 1
	cfg.SlidingWindowSize = 4096
	assert.Equal(t, int64(1<<29), kvCacheBytes(cfg))
}

func TestKVCacheBytes_DerivesHeadDim(t *testing.T) {
	cfg, err := ParseChatConfig([]byte(`{"quantization":"q0f32","context_window_size":16,
		"model_config":{"hidden_size":64,"num_hidden_layers":2,"num_attention_heads":4}}`))
	require.NoError(t, err)
	// 2 * 2 layers * 4 heads * 16 dims * 16 tokens * 4 bytes
	assert.Equal(t, int64(8192), kvCacheBytes(cfg))

	empty, err := ParseChatConfig([]byte(`{}`))
	require.NoError(t, err)
	assert.Zero(t, kvCacheBytes(empty))
}

func TestMemoryInspector(t *testing.T) {
	dir := writeWeights(t, weightFiles())
	cfg, err := ParseChatConfig([]byte(llamaChatConfig))
	require.NoError(t, err)
	lib := filepath.Join(t.TempDir(), "lib.so")
	require.NoError(t, os.WriteFile(lib, []byte("12345678"), 0o644))

	ins := MemoryInspector{HostMemory: func(context.Context) (uint64, uint64, error) { return 64 << 30, 32 << 30, nil }}
	rep, err := ins.Inspect(context.Background(), dir, cfg, lib)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rep.ParamsBytes)
	assert.Equal(t, int64(8), rep.LibraryBytes)
	assert.Equal(t, int64(1<<30)+12, rep.TotalBytes())
	assert.True(t, rep.Fits())

	ins.HostMemory = func(context.Context) (uint64, uint64, error) { return 1 << 30, 1 << 20, nil }
	rep, err = ins.Inspect(context.Background(), dir, cfg, lib)
	require.NoError(t, err)
	assert.False(t, rep.Fits())

	ins.HostMemory = func(context.Context) (uint64, uint64, error) { return 0, 0, errors.New("no /proc") }
	_, err = ins.Inspect(context.Background(), dir, cfg, lib)
	assert.Error(t, err)

	_, err = ins.Inspect(context.Background(), t.TempDir(), cfg, lib)
	assert.Error(t, err, "missing params index")
}
