package masker

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dudu/faceswap/internal/vision"
)

// ErrNoMasks is returned when no mask source is selected
var ErrNoMasks = errors.New("at least one face mask type is required")

// Type names a mask source
type Type string

const (
	TypeBox       Type = "box"
	TypeOcclusion Type = "occlusion"
	TypeRegion    Type = "region"
)

// Types lists every mask source accepted in configuration
var Types = []Type{TypeBox, TypeOcclusion, TypeRegion}

// ParseTypes converts configuration strings into mask types
func ParseTypes(names []string) ([]Type, error) {
	if len(names) == 0 {
		return nil, ErrNoMasks
	}
	types := make([]Type, 0, len(names))
	for _, name := range names {
		t := Type(strings.ToLower(strings.TrimSpace(name)))
		if !slices.Contains(Types, t) {
			return nil, fmt.Errorf("unknown face mask type %q", name)
		}
		if !slices.Contains(types, t) {
			types = append(types, t)
		}
	}
	return types, nil
}

// Padding is the box mask inset per edge, in percent of the crop size
type Padding struct {
	Top, Right, Bottom, Left float64
}

// BoxMask builds a feathered rectangle covering the crop. blur is the feather
// width as a fraction of half the crop width; padding insets each edge.
func BoxMask(size vision.Size, blur float64, padding Padding) (vision.Mask, error) {
	w, h := size.Width, size.Height
	blurAmount := int(float64(w) * 0.5 * blur)
	blurArea := max(blurAmount/2, 1)

	top := max(blurArea, int(float64(h)*padding.Top/100))
	bottom := max(blurArea, int(float64(h)*padding.Bottom/100))
	left := max(blurArea, int(float64(w)*padding.Left/100))
	right := max(blurArea, int(float64(w)*padding.Right/100))

	mask := vision.NewMask(w, h, 0)
	for y := top; y < h-bottom; y++ {
		for x := left; x < w-right; x++ {
			mask.Values[y*w+x] = 1
		}
	}

	if blurAmount > 0 {
		return vision.GaussianBlur(mask, float64(blurAmount)*0.25)
	}
	return mask, nil
}

// Combine intersects masks: the elementwise minimum, clamped to [0, 1]
func Combine(masks ...vision.Mask) (vision.Mask, error) {
	if len(masks) == 0 {
		return vision.Mask{}, ErrNoMasks
	}

	out := masks[0].Clone()
	for i, m := range masks[1:] {
		if m.Size() != out.Size() {
			return vision.Mask{}, fmt.Errorf("mask %d is %s, want %s", i+1, m.Size(), out.Size())
		}
		for j, v := range m.Values {
			out.Values[j] = min(out.Values[j], v)
		}
	}
	return out.Clamp(0, 1), nil
}

// Resize resamples a combined mask to a new crop size
func Resize(mask vision.Mask, width, height int) (vision.Mask, error) {
	return vision.ResizeMask(mask, width, height)
}

// feather softens a hard segmentation: blur, keep the upper half, rescale to [0, 1]
func feather(mask vision.Mask) (vision.Mask, error) {
	blurred, err := vision.GaussianBlur(mask.Clamp(0, 1), 5)
	if err != nil {
		return vision.Mask{}, err
	}
	for i, v := range blurred.Values {
		blurred.Values[i] = (min(max(v, 0.5), 1) - 0.5) * 2
	}
	return blurred, nil
}
