package swapper

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/dudu/faceswap/internal/detector"
	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/logging"
	"github.com/dudu/faceswap/internal/masker"
	"github.com/dudu/faceswap/internal/models"
	"github.com/dudu/faceswap/internal/vision"
	"github.com/dudu/faceswap/internal/warp"
)

// Model input names shared by every swapper family
const (
	inputSource = "source"
	inputTarget = "target"
)

// ErrNoLandmarks is returned when the target face has no alignment points
var ErrNoLandmarks = errors.New("target face has no 5-point landmarks")

// Occluder masks out objects in front of the face
type Occluder interface {
	OcclusionMask(ctx context.Context, crop vision.Frame) (vision.Mask, error)
}

// RegionSegmenter masks the selected semantic face regions
type RegionSegmenter interface {
	RegionMask(ctx context.Context, crop vision.Frame, regions []string) (vision.Mask, error)
}

// ExpressionRestorer re-applies the original expression of targetCrop onto the
// swapped crop. It returns the new crop and the factor by which its scale
// differs from the input crop.
type ExpressionRestorer interface {
	Restore(ctx context.Context, targetCrop, swappedCrop vision.Frame, strength float64) (vision.Frame, float64, error)
}

// Model is a swap model behind an inference manager
type Model interface {
	inference.Runner
	Path() string
}

// Options are the per-run swap settings
type Options struct {
	PixelBoost  vision.Size
	MaskTypes   []masker.Type
	MaskBlur    float64
	MaskPadding masker.Padding
	MaskRegions []string
	// ExpressionStrength in [0, 100]; 0 disables restoration
	ExpressionStrength float64
}

// Config wires a Swapper
type Config struct {
	Spec         models.Spec
	Model        Model
	Initializers *InitializerCache
	Occluder     Occluder
	Segmenter    RegionSegmenter
	Restorer     ExpressionRestorer
	Options      Options
	Logger       *zap.Logger
}

// Swapper transplants a source identity onto single target faces
type Swapper struct {
	spec         models.Spec
	plan         BoostPlan
	model        Model
	initializers *InitializerCache
	occluder     Occluder
	segmenter    RegionSegmenter
	restorer     ExpressionRestorer
	opts         Options
	logger       *zap.Logger
}

// New validates the configuration and returns a Swapper. Invalid pixel boost
// sizes and empty mask selections are reported before any frame is touched.
func New(cfg Config) (*Swapper, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("swap model is required")
	}

	boost := cfg.Options.PixelBoost
	if boost == (vision.Size{}) {
		boost = cfg.Spec.Size
	}
	plan, err := NewBoostPlan(boost, cfg.Spec.Size)
	if err != nil {
		return nil, err
	}

	if len(cfg.Options.MaskTypes) == 0 {
		return nil, masker.ErrNoMasks
	}
	if slices.Contains(cfg.Options.MaskTypes, masker.TypeOcclusion) && cfg.Occluder == nil {
		return nil, fmt.Errorf("occlusion mask selected without an occluder")
	}
	if slices.Contains(cfg.Options.MaskTypes, masker.TypeRegion) && cfg.Segmenter == nil {
		return nil, fmt.Errorf("region mask selected without a segmenter")
	}
	if s := cfg.Options.ExpressionStrength; s < 0 || s > 100 {
		return nil, fmt.Errorf("expression strength %v outside [0, 100]", s)
	}
	if cfg.Options.ExpressionStrength > 0 && cfg.Restorer == nil {
		return nil, fmt.Errorf("expression restoration enabled without a restorer")
	}

	initializers := cfg.Initializers
	if initializers == nil {
		initializers = NewInitializerCache()
	}

	return &Swapper{
		spec:         cfg.Spec,
		plan:         plan,
		model:        cfg.Model,
		initializers: initializers,
		occluder:     cfg.Occluder,
		segmenter:    cfg.Segmenter,
		restorer:     cfg.Restorer,
		opts:         cfg.Options,
		logger:       logging.OrNop(cfg.Logger).With(zap.String("model", cfg.Spec.Key)),
	}, nil
}

// Plan returns the pixel boost plan in use
func (s *Swapper) Plan() BoostPlan {
	return s.plan
}

// Initializers returns the projection matrix cache
func (s *Swapper) Initializers() *InitializerCache {
	return s.initializers
}

// SwapFace replaces target's identity in frame with source's. The input frame
// is not modified.
func (s *Swapper) SwapFace(ctx context.Context, source Source, target detector.Face, frame vision.Frame) (vision.Frame, error) {
	landmarks, ok := target.Landmark5()
	if !ok {
		return vision.Frame{}, ErrNoLandmarks
	}

	// Align at the boosted resolution
	crop, matrix, err := warp.WarpFace(frame, landmarks, s.spec.Template, s.plan.BoostedSize)
	if err != nil {
		return vision.Frame{}, err
	}
	targetCrop := crop.Clone()

	var masks []vision.Mask
	if slices.Contains(s.opts.MaskTypes, masker.TypeBox) {
		box, err := masker.BoxMask(crop.Size(), s.opts.MaskBlur, s.opts.MaskPadding)
		if err != nil {
			return vision.Frame{}, fmt.Errorf("failed to build box mask: %w", err)
		}
		masks = append(masks, box)
	}
	if slices.Contains(s.opts.MaskTypes, masker.TypeOcclusion) {
		occlusion, err := s.occluder.OcclusionMask(ctx, crop)
		if err != nil {
			return vision.Frame{}, fmt.Errorf("failed to build occlusion mask: %w", err)
		}
		masks = append(masks, occlusion)
	}

	swapped, err := s.swapCrop(ctx, source, crop)
	if err != nil {
		return vision.Frame{}, err
	}

	if slices.Contains(s.opts.MaskTypes, masker.TypeRegion) {
		region, err := s.segmenter.RegionMask(ctx, swapped, s.opts.MaskRegions)
		if err != nil {
			return vision.Frame{}, fmt.Errorf("failed to build region mask: %w", err)
		}
		masks = append(masks, region)
	}

	mask, err := masker.Combine(masks...)
	if err != nil {
		return vision.Frame{}, err
	}

	if s.opts.ExpressionStrength > 0 {
		restored, scale, err := s.restorer.Restore(ctx, targetCrop, swapped, s.opts.ExpressionStrength)
		if err != nil {
			return vision.Frame{}, fmt.Errorf("failed to restore expression: %w", err)
		}
		// Mask and matrix must follow the restored crop's scale together
		mask, err = masker.Resize(mask, restored.Width, restored.Height)
		if err != nil {
			return vision.Frame{}, err
		}
		matrix = matrix.Scale(scale)
		swapped = restored
	}

	return warp.PasteBack(frame, swapped, mask, matrix)
}

// swapCrop runs every pixel boost tile through the model and reassembles them
func (s *Swapper) swapCrop(ctx context.Context, source Source, crop vision.Frame) (vision.Frame, error) {
	names, err := s.model.InputNames(ctx)
	if err != nil {
		return vision.Frame{}, err
	}

	var sourceTensor inference.Tensor
	if slices.Contains(names, inputSource) {
		var initializer *inference.Matrix
		if s.spec.Family == models.FamilyInswapper {
			initializer, err = s.initializers.Get(s.model.Path())
			if err != nil {
				return vision.Frame{}, fmt.Errorf("failed to load embedding initializer: %w", err)
			}
		}
		sourceTensor, err = EncodeSource(source, s.spec, initializer)
		if err != nil {
			return vision.Frame{}, fmt.Errorf("failed to encode source: %w", err)
		}
	}

	tiles, err := Split(crop, s.plan)
	if err != nil {
		return vision.Frame{}, err
	}

	for i, tile := range tiles {
		inputs := make(map[string]inference.Tensor, len(names))
		for _, name := range names {
			switch name {
			case inputSource:
				inputs[name] = sourceTensor
			case inputTarget:
				encoded, err := EncodeCrop(tile, s.spec)
				if err != nil {
					return vision.Frame{}, fmt.Errorf("failed to encode tile %d: %w", i, err)
				}
				inputs[name] = encoded
			}
		}

		outputs, err := s.model.Run(ctx, inputs)
		if err != nil {
			return vision.Frame{}, fmt.Errorf("swap inference failed on tile %d: %w", i, err)
		}
		if len(outputs) == 0 {
			return vision.Frame{}, fmt.Errorf("swap model returned no outputs")
		}

		decoded, err := DecodeCrop(outputs[0], s.spec)
		if err != nil {
			return vision.Frame{}, fmt.Errorf("failed to decode tile %d: %w", i, err)
		}
		if decoded.Size() != s.plan.TileSize {
			return vision.Frame{}, fmt.Errorf("swap model returned %s, want %s", decoded.Size(), s.plan.TileSize)
		}
		tiles[i] = decoded
	}

	s.logger.Debug("face swapped", zap.Int("tiles", len(tiles)))
	return Merge(tiles, s.plan)
}
