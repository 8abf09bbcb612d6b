package main

import (
	"fmt"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/dudu/faceswap/internal/config"
	"github.com/dudu/faceswap/internal/detector"
	"github.com/dudu/faceswap/internal/execution"
	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/masker"
	"github.com/dudu/faceswap/internal/models"
	"github.com/dudu/faceswap/internal/pipeline"
	"github.com/dudu/faceswap/internal/selector"
	"github.com/dudu/faceswap/internal/swapper"
	"github.com/dudu/faceswap/internal/vision"
)

// buildProcessor wires inference managers, analysers, maskers and the swapper
// from a validated configuration. Sessions are created lazily on first use.
func buildProcessor(cfg *config.Config, logger *zap.Logger) (*pipeline.Processor, error) {
	providers, err := execution.Parse(cfg.Execution.Providers)
	if err != nil {
		return nil, err
	}
	spec, err := models.Resolve(cfg.Swapper.Model, providers)
	if err != nil {
		return nil, err
	}
	if spec.Key != cfg.Swapper.Model {
		logger.Info("using full precision model for execution provider",
			zap.String("requested", cfg.Swapper.Model), zap.String("model", spec.Key))
	}

	if cfg.Swapper.ExpressionStrength > 0 {
		return nil, fmt.Errorf("expression restoration needs a restorer model, none is bundled; set expression_strength to 0")
	}

	if err := inference.Initialize(cfg.Models.ORTLibrary); err != nil {
		return nil, err
	}

	gate := inference.NewMaintenance()
	opts := inference.ManagerOptions{
		Session: inference.SessionOptions{
			Providers: providers,
			DeviceID:  cfg.Execution.DeviceID,
		},
		MaxConcurrentRuns: cfg.Execution.MaxConcurrentRuns,
	}
	dir := cfg.Models.Dir
	newManager := func(name, path string) *inference.Manager {
		return inference.NewManager(name, path, opts, gate, logger)
	}

	var resources pipeline.Resources
	var weights []string
	track := func(group *[]pipeline.Releaser, m *inference.Manager) *inference.Manager {
		*group = append(*group, m)
		weights = append(weights, m.Path())
		logger.Debug("model registered",
			zap.String("name", m.Name()),
			zap.String("path", m.Path()),
			zap.Int64("max_concurrent_runs", m.Capacity()))
		return m
	}

	swapModel := track(&resources.Swap, newManager(spec.Key, spec.WeightsPath(dir)))
	detModel := track(&resources.Analysis, newManager("detector", filepath.Join(dir, cfg.Models.Detector)))
	recModel := track(&resources.Analysis, newManager(spec.Recognizer, spec.RecognizerPath(dir)))

	var landmarker *detector.Landmarker
	if cfg.Detector.RefineLandmarks {
		landmarker = detector.NewLandmarker(track(&resources.Analysis, newManager("landmarker", filepath.Join(dir, cfg.Models.Landmarker))))
	}
	analyser := detector.NewAnalyser(
		detector.NewSCRFD(detModel, cfg.Detector.Size, cfg.Detector.Score),
		landmarker,
		detector.NewArcFace(recModel),
		logger,
	)

	maskTypes, err := masker.ParseTypes(cfg.Mask.Types)
	if err != nil {
		return nil, err
	}
	regions, err := masker.ParseRegions(cfg.Mask.Regions)
	if err != nil {
		return nil, err
	}
	padding, err := cfg.MaskPadding()
	if err != nil {
		return nil, err
	}
	pixelBoost, err := cfg.PixelBoost(spec)
	if err != nil {
		return nil, err
	}

	swapCfg := swapper.Config{
		Spec:         spec,
		Model:        swapModel,
		Initializers: swapper.NewInitializerCache(),
		Options: swapper.Options{
			PixelBoost:         pixelBoost,
			MaskTypes:          maskTypes,
			MaskBlur:           cfg.Mask.Blur,
			MaskPadding:        padding,
			MaskRegions:        regions,
			ExpressionStrength: cfg.Swapper.ExpressionStrength,
		},
		Logger: logger,
	}
	if slices.Contains(maskTypes, masker.TypeOcclusion) {
		swapCfg.Occluder = masker.NewOccluder(track(&resources.Masks, newManager("occluder", filepath.Join(dir, cfg.Models.Occluder))))
	}
	if slices.Contains(maskTypes, masker.TypeRegion) {
		swapCfg.Segmenter = masker.NewParser(track(&resources.Masks, newManager("parser", filepath.Join(dir, cfg.Models.Parser))))
	}

	s, err := swapper.New(swapCfg)
	if err != nil {
		return nil, err
	}

	mode, err := selector.ParseMode(cfg.Selector.Mode)
	if err != nil {
		return nil, err
	}
	order, err := selector.ParseOrder(cfg.Selector.Order)
	if err != nil {
		return nil, err
	}
	memory, err := cfg.Memory()
	if err != nil {
		return nil, err
	}

	logger.Debug("processor wired",
		zap.String("model", spec.Key),
		zap.Stringer("pixel_boost", pixelBoost),
		zap.Int("tiles", s.Plan().TileCount()),
		zap.Strings("providers", cfg.Execution.Providers))

	return pipeline.New(pipeline.Config{
		Detector:     analyser,
		Selector:     selector.New(order, cfg.Selector.MinScore),
		Swapper:      s,
		Store:        vision.Store{},
		References:   selector.NewReferenceStore(),
		Initializers: s.Initializers(),
		Gate:         gate,
		Weights:      weights,
		Resources:    resources,
		Options: pipeline.Options{
			Mode:              mode,
			ReferenceDistance: cfg.Selector.ReferenceDistance,
			ReferenceFrame:    cfg.Selector.ReferenceFrame,
			ReferencePosition: cfg.Selector.ReferencePosition,
			Workers:           cfg.Execution.Workers,
			Memory:            memory,
		},
		Logger: logger,
	})
}
