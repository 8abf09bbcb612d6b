package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestFrameFailure(t *testing.T) {
	if FrameFailure(StageRead, "frame_0001.png", nil) != nil {
		t.Fatal("expected nil for nil error")
	}

	base := errors.New("no face")
	err := FrameFailure(StageSwap, "frame_0001.png", base)
	if !errors.Is(err, base) {
		t.Error("wrapped error lost")
	}
	if got, want := err.Error(), "swap frame_0001.png: no face"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Stage != StageSwap {
		t.Fatalf("errors.As = %+v", frameErr)
	}

	enc := zapcore.NewMapObjectEncoder()
	if err := frameErr.MarshalLogObject(enc); err != nil {
		t.Fatal(err)
	}
	if enc.Fields["stage"] != "swap" || enc.Fields["path"] != "frame_0001.png" || enc.Fields["cause"] != "no face" {
		t.Errorf("logged fields = %v", enc.Fields)
	}
}

func TestWithOperation(t *testing.T) {
	if WithOperation(nil, "process batch", "") == nil {
		t.Fatal("expected a no-op logger")
	}
	logger := WithOperation(zap.NewNop(), "process batch", "run-1")
	logger.Info("ok")
}

func TestNew(t *testing.T) {
	if _, err := New("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
	logger, err := New("debug")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("ok")
}
