package importer

import (
	"errors"
	"fmt"
)

// Stage names one step of the import pipeline.
type Stage string

const (
	StageDownload Stage = "download"
	StageConfig   Stage = "config"
	StageDevice   Stage = "device"
	StageCompile  Stage = "compile"
	StageInspect  Stage = "inspect"
	StageRegister Stage = "register"
)

// StageError reports which step of an import failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("import %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// FailedStage extracts the failing stage from an error returned by Pipeline.Run.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

func stageErr(s Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: s, Err: err}
}
