package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dudu/faceswap/internal/config"
	"github.com/dudu/faceswap/internal/detector"
	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/logging"
	"github.com/dudu/faceswap/internal/selector"
	"github.com/dudu/faceswap/internal/swapper"
	"github.com/dudu/faceswap/internal/vision"
)

// ErrNoSourceFace is returned when none of the source images contains a face
var ErrNoSourceFace = errors.New("no source face detected")

// Options are the per-run selection and scheduling settings
type Options struct {
	Mode              selector.Mode
	ReferenceDistance float32
	// ReferenceFrame indexes the batch frame the reference face is pinned from
	ReferenceFrame    int
	ReferencePosition int
	Workers           int
	Memory            config.MemoryStrategy
}

// Resources are the inference sessions released by PostProcess
type Resources struct {
	Swap     []Releaser
	Analysis []Releaser
	Masks    []Releaser
}

// Config wires a Processor
type Config struct {
	Detector     Detector
	Selector     Selector
	Swapper      FaceSwapper
	Store        FrameStore
	References   *selector.ReferenceStore
	Initializers *swapper.InitializerCache
	// Gate is raised while PreCheck verifies Weights
	Gate      *inference.Maintenance
	Weights   []string
	Resources Resources
	Options   Options
	Logger    *zap.Logger
}

// Progress is called after each batch frame has been written (or skipped)
type Progress func(done, total int)

// BatchResult counts the outcome of a batch
type BatchResult struct {
	Processed int
	Failed    int
}

// Processor drives face selection and swapping over frames
type Processor struct {
	detector     Detector
	selector     Selector
	swapper      FaceSwapper
	store        FrameStore
	references   *selector.ReferenceStore
	initializers *swapper.InitializerCache
	gate         *inference.Maintenance
	weights      []string
	resources    Resources
	opts         Options
	logger       *zap.Logger

	mu     sync.Mutex
	source *swapper.Source
}

// New creates a processor
func New(cfg Config) (*Processor, error) {
	if cfg.Detector == nil || cfg.Selector == nil || cfg.Swapper == nil || cfg.Store == nil {
		return nil, fmt.Errorf("detector, selector, swapper and frame store are required")
	}
	if _, err := selector.ParseMode(string(cfg.Options.Mode)); err != nil {
		return nil, err
	}

	opts := cfg.Options
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Memory == "" {
		opts.Memory = config.MemoryStrict
	}
	references := cfg.References
	if references == nil {
		references = selector.NewReferenceStore()
	}
	gate := cfg.Gate
	if gate == nil {
		gate = inference.NewMaintenance()
	}

	return &Processor{
		detector:     cfg.Detector,
		selector:     cfg.Selector,
		swapper:      cfg.Swapper,
		store:        cfg.Store,
		references:   references,
		initializers: cfg.Initializers,
		gate:         gate,
		weights:      cfg.Weights,
		resources:    cfg.Resources,
		opts:         opts,
		logger:       logging.OrNop(cfg.Logger),
	}, nil
}

// LoadSource detects faces in the source images and averages them into one
// identity. The first image is kept for models that align the source pixels.
func (p *Processor) LoadSource(ctx context.Context, sourcePaths []string) (swapper.Source, error) {
	paths := vision.FilterImagePaths(sourcePaths)
	if len(paths) == 0 {
		return swapper.Source{}, fmt.Errorf("%w: no source images given", ErrNoSourceFace)
	}

	frames := make([]vision.Frame, 0, len(paths))
	for _, path := range paths {
		frame, err := p.store.ReadFrame(path)
		if err != nil {
			return swapper.Source{}, fmt.Errorf("failed to read source %s: %w", path, err)
		}
		frames = append(frames, frame)
	}

	faces, err := p.detector.DetectFaces(ctx, frames)
	if err != nil {
		return swapper.Source{}, fmt.Errorf("failed to analyse source images: %w", err)
	}
	face := p.detector.AverageFace(faces)
	if face == nil {
		return swapper.Source{}, ErrNoSourceFace
	}

	source := swapper.Source{Face: *face, Frame: frames[0]}
	p.mu.Lock()
	p.source = &source
	p.mu.Unlock()
	return source, nil
}

func (p *Processor) cachedSource(ctx context.Context, sourcePaths []string) (swapper.Source, error) {
	p.mu.Lock()
	source := p.source
	p.mu.Unlock()
	if source != nil {
		return *source, nil
	}
	return p.LoadSource(ctx, sourcePaths)
}

// PinReference stores the face at position in frame as the reference
// identity. It is a no-op when references are already pinned.
func (p *Processor) PinReference(ctx context.Context, frame vision.Frame) error {
	if !p.references.Empty() {
		return nil
	}

	faces, err := p.detector.DetectFaces(ctx, []vision.Frame{frame})
	if err != nil {
		return fmt.Errorf("failed to analyse reference frame: %w", err)
	}
	faces = p.selector.SortAndFilter(faces)
	if len(faces) == 0 {
		p.logger.Warn("no reference face found, reference mode will not swap")
		return nil
	}

	pos := min(p.opts.ReferencePosition, len(faces)-1)
	p.references.Set(faces[pos])
	p.logger.Debug("reference face pinned", zap.Int("position", pos))
	return nil
}

// References returns the pinned reference store
func (p *Processor) References() *selector.ReferenceStore {
	return p.references
}

// ProcessFrame swaps the selected faces of frame. Frames without a matching
// face are returned unchanged.
func (p *Processor) ProcessFrame(ctx context.Context, source swapper.Source, frame vision.Frame) (vision.Frame, error) {
	faces, err := p.detector.DetectFaces(ctx, []vision.Frame{frame})
	if err != nil {
		return vision.Frame{}, fmt.Errorf("failed to detect target faces: %w", err)
	}
	faces = p.selector.SortAndFilter(faces)

	var targets []detector.Face
	switch p.opts.Mode {
	case selector.ModeOne:
		if face := p.detector.BestFace(faces); face != nil {
			targets = []detector.Face{*face}
		}
	case selector.ModeMany:
		targets = faces
	case selector.ModeReference:
		targets = p.selector.FindSimilar(faces, p.references.Faces(), p.opts.ReferenceDistance)
	}

	out := frame
	for i, target := range targets {
		out, err = p.swapper.SwapFace(ctx, source, target, out)
		if err != nil {
			return vision.Frame{}, fmt.Errorf("failed to swap face %d: %w", i, err)
		}
	}
	return out, nil
}

// ProcessImage swaps a single image and writes the result to outputPath
func (p *Processor) ProcessImage(ctx context.Context, sourcePaths []string, targetPath, outputPath string) error {
	source, err := p.cachedSource(ctx, sourcePaths)
	if err != nil {
		return err
	}

	frame, err := p.store.ReadFrame(targetPath)
	if err != nil {
		return logging.FrameFailure(logging.StageRead, targetPath, err)
	}
	if p.opts.Mode == selector.ModeReference {
		if err := p.PinReference(ctx, frame); err != nil {
			return err
		}
	}

	out, err := p.ProcessFrame(ctx, source, frame)
	if err != nil {
		return logging.FrameFailure(logging.StageSwap, targetPath, err)
	}
	return logging.FrameFailure(logging.StageWrite, outputPath, p.store.WriteFrame(outputPath, out))
}

// ProcessBatch swaps every frame in place on a bounded worker pool. A frame
// that fails is logged and left untouched; the batch carries on. Cancelling
// ctx stops new frames from being scheduled.
func (p *Processor) ProcessBatch(ctx context.Context, sourcePaths, framePaths []string, progress Progress) (BatchResult, error) {
	runID := uuid.NewString()
	logger := logging.WithOperation(p.logger, "process batch", runID)

	source, err := p.cachedSource(ctx, sourcePaths)
	if err != nil {
		return BatchResult{}, err
	}

	if p.opts.Mode == selector.ModeReference && len(framePaths) > 0 {
		idx := min(max(p.opts.ReferenceFrame, 0), len(framePaths)-1)
		frame, err := p.store.ReadFrame(framePaths[idx])
		if err != nil {
			return BatchResult{}, fmt.Errorf("failed to read reference frame: %w", err)
		}
		if err := p.PinReference(ctx, frame); err != nil {
			return BatchResult{}, err
		}
	}

	logger.Info("batch started", zap.Int("frames", len(framePaths)), zap.Int("workers", p.opts.Workers))

	var done, failed atomic.Int64
	total := len(framePaths)

	g := new(errgroup.Group)
	g.SetLimit(p.opts.Workers)

	for _, path := range framePaths {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := p.processPath(ctx, source, path); err != nil {
				failed.Add(1)
				var frameErr *logging.FrameError
				if errors.As(err, &frameErr) {
					logger.Warn("frame skipped", zap.Object("frame", frameErr))
				} else {
					logger.Warn("frame skipped", zap.String("path", path), zap.Error(err))
				}
			}
			n := done.Add(1)
			if progress != nil {
				progress(int(n), total)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := BatchResult{Processed: int(done.Load() - failed.Load()), Failed: int(failed.Load())}
	logger.Info("batch finished", zap.Int("processed", result.Processed), zap.Int("failed", result.Failed))

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("batch interrupted: %w", err)
	}
	return result, nil
}

func (p *Processor) processPath(ctx context.Context, source swapper.Source, path string) error {
	frame, err := p.store.ReadFrame(path)
	if err != nil {
		return logging.FrameFailure(logging.StageRead, path, err)
	}
	out, err := p.ProcessFrame(ctx, source, frame)
	if err != nil {
		return logging.FrameFailure(logging.StageSwap, path, err)
	}
	return logging.FrameFailure(logging.StageWrite, path, p.store.WriteFrame(path, out))
}
