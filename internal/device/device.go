// Package device picks the accelerator a model library is compiled for.
package device

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is an accelerator backend understood by the MLC toolchain.
type Kind string

const (
	CUDA   Kind = "cuda"
	ROCm   Kind = "rocm"
	Metal  Kind = "metal"
	Vulkan Kind = "vulkan"
	OpenCL Kind = "opencl"
	CPU    Kind = "cpu"
)

// Auto asks Detect to probe the host.
const Auto = "auto"

// Preference is the order in which detected accelerators are chosen.
var Preference = []Kind{CUDA, ROCm, Metal, Vulkan, OpenCL}

var knownKinds = map[Kind]bool{CUDA: true, ROCm: true, Metal: true, Vulkan: true, OpenCL: true, CPU: true}

// Device is a concrete compute target.
type Device struct {
	Kind  Kind
	Index int
	// Name is informational (GPU or CPU model) and not passed to the compiler.
	Name string
}

// String renders the device the way mlc_llm expects it on the command line.
func (d Device) String() string {
	if d.Kind == CPU {
		return string(CPU)
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Index)
}

// Parse reads an explicit device such as "cuda", "cuda:1" or "cpu".
func Parse(spec string) (Device, error) {
	s := strings.ToLower(strings.TrimSpace(spec))
	if s == "" || s == Auto {
		return Device{}, fmt.Errorf("device %q is not explicit", spec)
	}
	kind, idx, hasIdx := strings.Cut(s, ":")
	k := Kind(kind)
	if !knownKinds[k] {
		return Device{}, fmt.Errorf("unknown device kind %q", kind)
	}
	d := Device{Kind: k}
	if hasIdx {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 {
			return Device{}, fmt.Errorf("invalid device index in %q", spec)
		}
		if k == CPU && n != 0 {
			return Device{}, fmt.Errorf("cpu has no index %d", n)
		}
		d.Index = n
	}
	return d, nil
}
