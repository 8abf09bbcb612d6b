package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Stage names the step of frame processing that failed
type Stage string

const (
	StageRead  Stage = "read"
	StageSwap  Stage = "swap"
	StageWrite Stage = "write"
)

// FrameError ties a failure to the frame file and processing stage
type FrameError struct {
	Stage Stage
	Path  string
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// MarshalLogObject lets a FrameError be logged with zap.Object
func (e *FrameError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("stage", string(e.Stage))
	enc.AddString("path", e.Path)
	if e.Err != nil {
		enc.AddString("cause", e.Err.Error())
	}
	return nil
}

// FrameFailure wraps err as a FrameError, or returns nil when err is nil
func FrameFailure(stage Stage, path string, err error) error {
	if err == nil {
		return nil
	}
	return &FrameError{Stage: stage, Path: path, Err: err}
}
