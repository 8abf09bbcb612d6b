package masker

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/vision"
)

const parserSize = 512

// regionClasses maps region names to BiSeNet face-parsing class indices
var regionClasses = map[string]int{
	"skin":          1,
	"left-eyebrow":  2,
	"right-eyebrow": 3,
	"left-eye":      4,
	"right-eye":     5,
	"glasses":       6,
	"nose":          10,
	"mouth":         11,
	"upper-lip":     12,
	"lower-lip":     13,
}

var (
	parserMean = [3]float32{0.485, 0.456, 0.406}
	parserStd  = [3]float32{0.229, 0.224, 0.225}
)

// Regions lists every region name in sorted order
func Regions() []string {
	names := make([]string, 0, len(regionClasses))
	for name := range regionClasses {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ParseRegions validates region names; an empty list selects every region
func ParseRegions(names []string) ([]string, error) {
	if len(names) == 0 {
		return Regions(), nil
	}
	regions := make([]string, 0, len(names))
	for _, name := range names {
		r := strings.ToLower(strings.TrimSpace(name))
		if _, ok := regionClasses[r]; !ok {
			return nil, fmt.Errorf("unknown face mask region %q", name)
		}
		if !slices.Contains(regions, r) {
			regions = append(regions, r)
		}
	}
	return regions, nil
}

// Parser segments a face crop into semantic regions
type Parser struct {
	model inference.Runner
}

// NewParser wraps a BiSeNet-style face parsing model
func NewParser(model inference.Runner) *Parser {
	return &Parser{model: model}
}

// RegionMask returns a feathered mask at crop size covering the given regions
func (p *Parser) RegionMask(ctx context.Context, crop vision.Frame, regions []string) (vision.Mask, error) {
	classes := make([]bool, 0)
	for _, r := range regions {
		idx, ok := regionClasses[r]
		if !ok {
			return vision.Mask{}, fmt.Errorf("unknown face mask region %q", r)
		}
		for len(classes) <= idx {
			classes = append(classes, false)
		}
		classes[idx] = true
	}

	resized, err := vision.ResizeFrame(crop, parserSize, parserSize)
	if err != nil {
		return vision.Mask{}, fmt.Errorf("failed to resize crop for parser: %w", err)
	}

	// NCHW RGB with ImageNet normalisation
	data, err := resized.Blob(1.0/255, 0)
	if err != nil {
		return vision.Mask{}, fmt.Errorf("failed to build parser blob: %w", err)
	}
	vision.NormalizeChannels(data, parserMean, parserStd)
	input := inference.Tensor{Shape: []int64{1, 3, parserSize, parserSize}, Data: data}

	names, err := p.model.InputNames(ctx)
	if err != nil {
		return vision.Mask{}, err
	}
	if len(names) == 0 {
		return vision.Mask{}, fmt.Errorf("parser model has no inputs")
	}
	outputs, err := p.model.Run(ctx, map[string]inference.Tensor{names[0]: input})
	if err != nil {
		return vision.Mask{}, fmt.Errorf("parser inference failed: %w", err)
	}
	if len(outputs) == 0 || len(outputs[0].Data) == 0 || len(outputs[0].Data)%(parserSize*parserSize) != 0 {
		return vision.Mask{}, fmt.Errorf("unexpected parser output")
	}

	const plane = parserSize * parserSize
	logits := outputs[0].Data
	numClasses := len(logits) / plane
	mask := vision.NewMask(parserSize, parserSize, 0)
	for i := 0; i < plane; i++ {
		best, bestScore := 0, logits[i]
		for c := 1; c < numClasses; c++ {
			if s := logits[c*plane+i]; s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < len(classes) && classes[best] {
			mask.Values[i] = 1
		}
	}

	mask, err = vision.ResizeMask(mask, crop.Width, crop.Height)
	if err != nil {
		return vision.Mask{}, err
	}
	return feather(mask)
}
