package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Mask is a single-channel float buffer, nominally in [0, 1]
type Mask struct {
	Width  int
	Height int
	Values []float32
}

// NewMask allocates a mask filled with value
func NewMask(width, height int, value float32) Mask {
	values := make([]float32, width*height)
	if value != 0 {
		for i := range values {
			values[i] = value
		}
	}
	return Mask{Width: width, Height: height, Values: values}
}

// Size returns mask dimensions
func (m Mask) Size() Size {
	return Size{Width: m.Width, Height: m.Height}
}

// At returns the mask value at (x, y)
func (m Mask) At(x, y int) float32 {
	return m.Values[y*m.Width+x]
}

// Clone returns a deep copy of the mask
func (m Mask) Clone() Mask {
	values := make([]float32, len(m.Values))
	copy(values, m.Values)
	return Mask{Width: m.Width, Height: m.Height, Values: values}
}

// Clamp returns a copy with every value clipped to [lo, hi]
func (m Mask) Clamp(lo, hi float32) Mask {
	out := m.Clone()
	for i, v := range out.Values {
		out.Values[i] = min(max(v, lo), hi)
	}
	return out
}

// ToMat copies the mask into a new CV_32F Mat. The caller must Close it.
func (m Mask) ToMat() (gocv.Mat, error) {
	mat := gocv.NewMatWithSize(m.Height, m.Width, gocv.MatTypeCV32F)
	data, err := mat.DataPtrFloat32()
	if err != nil {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("failed to access mask data: %w", err)
	}
	copy(data, m.Values)
	return mat, nil
}

// MaskFromMat copies a CV_32F Mat into a Mask
func MaskFromMat(mat gocv.Mat) (Mask, error) {
	if mat.Empty() {
		return Mask{}, ErrEmptyFrame
	}
	if mat.Type() != gocv.MatTypeCV32F {
		return Mask{}, fmt.Errorf("expected CV_32F mat, got %v", mat.Type())
	}
	data, err := mat.DataPtrFloat32()
	if err != nil {
		return Mask{}, fmt.Errorf("failed to access mask data: %w", err)
	}
	values := make([]float32, len(data))
	copy(values, data)
	return Mask{Width: mat.Cols(), Height: mat.Rows(), Values: values}, nil
}

// GaussianBlur blurs the mask with the given sigma (kernel size derived by OpenCV)
func GaussianBlur(m Mask, sigma float64) (Mask, error) {
	src, err := m.ToMat()
	if err != nil {
		return Mask{}, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.GaussianBlur(src, &dst, image.Pt(0, 0), sigma, sigma, gocv.BorderDefault)

	return MaskFromMat(dst)
}

// ResizeMask resamples the mask to width x height with linear interpolation
func ResizeMask(m Mask, width, height int) (Mask, error) {
	if m.Width == width && m.Height == height {
		return m.Clone(), nil
	}
	src, err := m.ToMat()
	if err != nil {
		return Mask{}, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, Size{Width: width, Height: height}.Point(), 0, 0, gocv.InterpolationLinear)

	return MaskFromMat(dst)
}
