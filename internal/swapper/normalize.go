package swapper

import (
	"fmt"
	"math"

	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/models"
	"github.com/dudu/faceswap/internal/vision"
)

// EncodeCrop converts a BGR crop into the NCHW RGB tensor the model expects.
// Ghost models take [-1, 1], the rest [0, 1]; the per-channel mean and
// standard deviation are applied afterwards.
func EncodeCrop(crop vision.Frame, spec models.Spec) (inference.Tensor, error) {
	if crop.Empty() {
		return inference.Tensor{}, vision.ErrEmptyFrame
	}

	scale, offset := spec.Family.PixelScale()
	data, err := crop.Blob(1/float64(scale), float64(scale*offset))
	if err != nil {
		return inference.Tensor{}, err
	}
	vision.NormalizeChannels(data, spec.Mean, spec.StdDev)

	return inference.Tensor{
		Shape: []int64{1, 3, int64(crop.Height), int64(crop.Width)},
		Data:  data,
	}, nil
}

// DecodeCrop converts a model output tensor back into a BGR crop. Values are
// rounded once to the nearest level and clamped to [0, 255].
func DecodeCrop(tensor inference.Tensor, spec models.Spec) (vision.Frame, error) {
	h, w, err := imageDims(tensor)
	if err != nil {
		return vision.Frame{}, err
	}

	plane := w * h
	scale, offset := spec.Family.PixelScale()
	crop := vision.NewFrame(w, h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := crop.Offset(x, y)
			p := y*w + x
			for c := 0; c < 3; c++ {
				v := (float64(tensor.Data[c*plane+p]) + float64(offset)) * float64(scale)
				crop.Pix[o+2-c] = uint8(min(max(math.Round(v), 0), 255))
			}
		}
	}
	return crop, nil
}

// imageDims validates a [1, 3, H, W] or [3, H, W] tensor
func imageDims(tensor inference.Tensor) (int, int, error) {
	shape := tensor.Shape
	if len(shape) == 4 {
		if shape[0] != 1 {
			return 0, 0, fmt.Errorf("expected batch size 1, got shape %v", shape)
		}
		shape = shape[1:]
	}
	if len(shape) != 3 || shape[0] != 3 {
		return 0, 0, fmt.Errorf("expected 3-channel image tensor, got shape %v", tensor.Shape)
	}
	h, w := int(shape[1]), int(shape[2])
	if len(tensor.Data) != 3*h*w {
		return 0, 0, fmt.Errorf("tensor holds %d values, shape %v", len(tensor.Data), tensor.Shape)
	}
	return h, w, nil
}
