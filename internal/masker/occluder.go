package masker

import (
	"context"
	"fmt"

	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/vision"
)

const occluderSize = 256

// Occluder predicts which crop pixels are face (1) versus occluding objects (0)
type Occluder struct {
	model inference.Runner
}

// NewOccluder wraps an xseg-style occlusion model
func NewOccluder(model inference.Runner) *Occluder {
	return &Occluder{model: model}
}

// OcclusionMask returns a feathered mask at crop size
func (o *Occluder) OcclusionMask(ctx context.Context, crop vision.Frame) (vision.Mask, error) {
	resized, err := vision.ResizeFrame(crop, occluderSize, occluderSize)
	if err != nil {
		return vision.Mask{}, fmt.Errorf("failed to resize crop for occluder: %w", err)
	}

	// NHWC, BGR kept, [0, 1]
	input := inference.NewTensor(1, occluderSize, occluderSize, 3)
	for i, v := range resized.Pix {
		input.Data[i] = float32(v) / 255
	}

	names, err := o.model.InputNames(ctx)
	if err != nil {
		return vision.Mask{}, err
	}
	if len(names) == 0 {
		return vision.Mask{}, fmt.Errorf("occluder model has no inputs")
	}
	outputs, err := o.model.Run(ctx, map[string]inference.Tensor{names[0]: input})
	if err != nil {
		return vision.Mask{}, fmt.Errorf("occluder inference failed: %w", err)
	}
	if len(outputs) == 0 || len(outputs[0].Data) < occluderSize*occluderSize {
		return vision.Mask{}, fmt.Errorf("unexpected occluder output")
	}

	mask := vision.Mask{Width: occluderSize, Height: occluderSize, Values: make([]float32, occluderSize*occluderSize)}
	copy(mask.Values, outputs[0].Data)

	mask, err = vision.ResizeMask(mask.Clamp(0, 1), crop.Width, crop.Height)
	if err != nil {
		return vision.Mask{}, err
	}
	return feather(mask)
}
