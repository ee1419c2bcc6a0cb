package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/mem"

	"mlcserve/internal/hfhub"
)

// MemoryReport is the estimated memory footprint of serving a model.
type MemoryReport struct {
	ParamsBytes   int64
	KVCacheBytes  int64
	LibraryBytes  int64
	HostTotal     uint64
	HostAvailable uint64
}

// TotalBytes is the sum of all estimated components.
func (r MemoryReport) TotalBytes() int64 {
	return r.ParamsBytes + r.KVCacheBytes + r.LibraryBytes
}

// Fits reports whether the estimate is below the currently available host memory.
// Unknown host memory counts as fitting.
func (r MemoryReport) Fits() bool {
	if r.HostAvailable == 0 {
		return true
	}
	return uint64(r.TotalBytes()) <= r.HostAvailable
}

// MemoryInspector estimates memory usage from the params index, the chat
// config and the compiled library, and compares it with host memory.
type MemoryInspector struct {
	// HostMemory returns total and available bytes; gopsutil when nil.
	HostMemory func(ctx context.Context) (total, available uint64, err error)
}

func hostMemory(ctx context.Context) (uint64, uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	return vm.Total, vm.Available, nil
}

// Inspect builds a MemoryReport.
func (m MemoryInspector) Inspect(ctx context.Context, weightsDir string, cfg ChatConfig, libPath string) (MemoryReport, error) {
	var r MemoryReport
	idx, err := hfhub.LoadParamsIndex(filepath.Join(weightsDir, hfhub.ParamsIndexFile))
	if err != nil {
		return r, fmt.Errorf("params index: %w", err)
	}
	r.ParamsBytes = idx.TotalBytes()
	r.KVCacheBytes = kvCacheBytes(cfg)
	if fi, err := os.Stat(libPath); err == nil {
		r.LibraryBytes = fi.Size()
	} else {
		return r, fmt.Errorf("library: %w", err)
	}
	probe := m.HostMemory
	if probe == nil {
		probe = hostMemory
	}
	total, avail, err := probe(ctx)
	if err != nil {
		return r, fmt.Errorf("host memory: %w", err)
	}
	r.HostTotal, r.HostAvailable = total, avail
	return r, nil
}

// kvCacheBytes estimates K and V for one full context window, split across
// tensor-parallel shards.
func kvCacheBytes(cfg ChatConfig) int64 {
	mc := cfg.ModelConfig
	layers := int64(mc.NumHiddenLayers)
	kvHeads := int64(mc.NumKeyValueHeads)
	if kvHeads == 0 {
		kvHeads = int64(mc.NumAttentionHeads)
	}
	headDim := int64(mc.HeadDim)
	if headDim == 0 && mc.NumAttentionHeads > 0 {
		headDim = int64(mc.HiddenSize / mc.NumAttentionHeads)
	}
	window := int64(cfg.ContextWindowSize)
	if cfg.SlidingWindowSize > 0 && (window <= 0 || int64(cfg.SlidingWindowSize) < window) {
		window = int64(cfg.SlidingWindowSize)
	}
	if layers <= 0 || kvHeads <= 0 || headDim <= 0 || window <= 0 {
		return 0
	}
	n := 2 * layers * kvHeads * headDim * window * int64(cfg.kvDtypeBytes())
	if shards := int64(cfg.TensorParallelShards); shards > 1 {
		n /= shards
	}
	return n
}
