package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dudu/faceswap/internal/config"
	"github.com/dudu/faceswap/internal/vision"
)

var (
	// ErrWeightsMissing is returned when a model file is absent or empty
	ErrWeightsMissing = errors.New("model weights missing")
	// ErrTargetType is returned for targets that are neither an image nor a frame directory
	ErrTargetType = errors.New("target must be an image or a directory of frames")
	// ErrOutputPath is returned when the output location cannot be written to
	ErrOutputPath = errors.New("output path is not inside an existing directory")
	// ErrExtensionMismatch is returned when an image output changes format
	ErrExtensionMismatch = errors.New("output extension must match the target")
)

// RunMode selects which pre-flight checks apply
type RunMode string

const (
	RunOutput  RunMode = "output"
	RunPreview RunMode = "preview"
)

// Job names the inputs and output of one run
type Job struct {
	SourcePaths []string
	TargetPath  string
	OutputPath  string
}

// PreCheck verifies every weights file while holding the maintenance gate,
// so no session is built from a file still being checked.
func (p *Processor) PreCheck() error {
	p.gate.Begin()
	defer p.gate.End()

	var errs []error
	for _, path := range p.weights {
		info, err := os.Stat(path)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%w: %s", ErrWeightsMissing, path))
		case info.IsDir() || info.Size() == 0:
			errs = append(errs, fmt.Errorf("%w: %s is not a model file", ErrWeightsMissing, path))
		}
	}
	return errors.Join(errs...)
}

// PreProcess validates a job before any frame is touched. It loads the source
// identity, which later Process calls reuse.
func (p *Processor) PreProcess(ctx context.Context, mode RunMode, job Job) error {
	if _, err := p.LoadSource(ctx, job.SourcePaths); err != nil {
		return err
	}

	if vision.IsVideo(job.TargetPath) {
		return fmt.Errorf("%w: %s is a video, extract its frames into a directory first", ErrTargetType, job.TargetPath)
	}
	isDir := false
	if info, err := os.Stat(job.TargetPath); err == nil && info.IsDir() {
		isDir = true
	} else if err != nil || !vision.IsImage(job.TargetPath) {
		return fmt.Errorf("%w: %s", ErrTargetType, job.TargetPath)
	}

	if mode != RunOutput {
		return nil
	}

	// A frame directory output may not exist yet, its parent must
	dir := filepath.Dir(filepath.Clean(job.OutputPath))
	if isDir && vision.IsImage(job.OutputPath) {
		return fmt.Errorf("%w: frame directory output %s looks like an image", ErrOutputPath, job.OutputPath)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrOutputPath, job.OutputPath)
	}

	if !isDir && !strings.EqualFold(filepath.Ext(job.TargetPath), filepath.Ext(job.OutputPath)) {
		return fmt.Errorf("%w: %s vs %s", ErrExtensionMismatch, filepath.Ext(job.TargetPath), filepath.Ext(job.OutputPath))
	}
	return nil
}

// PostProcess drops per-run caches and releases sessions according to the
// memory strategy: strict and moderate release the swap model, strict also
// releases the analysis and mask models.
func (p *Processor) PostProcess() error {
	p.mu.Lock()
	p.source = nil
	p.mu.Unlock()
	p.references.Clear()
	if p.initializers != nil {
		p.initializers.Clear()
	}

	var release []Releaser
	switch p.opts.Memory {
	case config.MemoryStrict:
		release = append(release, p.resources.Swap...)
		release = append(release, p.resources.Analysis...)
		release = append(release, p.resources.Masks...)
	case config.MemoryModerate:
		release = append(release, p.resources.Swap...)
	}

	var errs []error
	for _, r := range release {
		if err := r.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	p.logger.Debug("post process done", zap.String("memory_strategy", string(p.opts.Memory)), zap.Int("released", len(release)))
	return errors.Join(errs...)
}
