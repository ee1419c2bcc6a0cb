package manager

import (
	"os"
	"os/exec"
)

// SanityReport describes runtime checks for the engine binary.
type SanityReport struct {
	EngineFound bool   `json:"engine_found"`
	EnginePath  string `json:"engine_path,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SanityCheck validates that the engine binary is available, resolving bare
// names through PATH. It has no side effects.
func SanityCheck(bin string) SanityReport {
	if bin == "" {
		return SanityReport{Error: "engine binary not configured"}
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return SanityReport{EnginePath: bin, Error: err.Error()}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return SanityReport{EnginePath: path, Error: err.Error()}
	}
	if fi.IsDir() {
		return SanityReport{EnginePath: path, Error: "engine path is a directory"}
	}
	return SanityReport{EngineFound: true, EnginePath: path}
}

// Err converts a failed report into a dependency-unavailable error.
func (r SanityReport) Err() error {
	if r.EngineFound {
		return nil
	}
	msg := "mlc engine not available"
	if r.EnginePath != "" {
		msg += " at " + r.EnginePath
	}
	if r.Error != "" {
		msg += ": " + r.Error
	}
	return ErrDependencyUnavailable(msg)
}
