package vision

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when an image could not be decoded
var ErrEmptyFrame = errors.New("empty frame")

// Size is a width/height pair in pixels
type Size struct {
	Width  int
	Height int
}

// Point returns the size as an image.Point for gocv calls
func (s Size) Point() image.Point {
	return image.Pt(s.Width, s.Height)
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize parses a "WIDTHxHEIGHT" resolution such as "512x512"
func ParseSize(value string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(value)), "x")
	if !ok {
		return Size{}, fmt.Errorf("invalid resolution %q, want WIDTHxHEIGHT", value)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Size{}, fmt.Errorf("invalid resolution width in %q", value)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Size{}, fmt.Errorf("invalid resolution height in %q", value)
	}
	return Size{Width: width, Height: height}, nil
}

// Frame is a dense 3-channel 8-bit image in BGR order
type Frame struct {
	Width  int
	Height int
	Pix    []uint8 // row-major, 3 bytes per pixel
}

// NewFrame allocates a zeroed frame
func NewFrame(width, height int) Frame {
	return Frame{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*3),
	}
}

// Size returns frame dimensions
func (f Frame) Size() Size {
	return Size{Width: f.Width, Height: f.Height}
}

// Empty reports whether the frame holds no pixels
func (f Frame) Empty() bool {
	return f.Width == 0 || f.Height == 0
}

// Offset returns the index of the first channel of pixel (x, y)
func (f Frame) Offset(x, y int) int {
	return (y*f.Width + x) * 3
}

// Clone returns a deep copy of the frame
func (f Frame) Clone() Frame {
	pix := make([]uint8, len(f.Pix))
	copy(pix, f.Pix)
	return Frame{Width: f.Width, Height: f.Height, Pix: pix}
}

// Equal reports whether two frames have identical size and pixels
func (f Frame) Equal(other Frame) bool {
	if f.Width != other.Width || f.Height != other.Height || len(f.Pix) != len(other.Pix) {
		return false
	}
	for i := range f.Pix {
		if f.Pix[i] != other.Pix[i] {
			return false
		}
	}
	return true
}

// ToMat copies the frame into a new CV_8UC3 Mat. The caller must Close it.
func (f Frame) ToMat() (gocv.Mat, error) {
	mat := gocv.NewMatWithSize(f.Height, f.Width, gocv.MatTypeCV8UC3)
	data, err := mat.DataPtrUint8()
	if err != nil {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("failed to access mat data: %w", err)
	}
	copy(data, f.Pix)
	return mat, nil
}

// FrameFromMat copies a CV_8UC3 Mat into a Frame
func FrameFromMat(mat gocv.Mat) (Frame, error) {
	if mat.Empty() {
		return Frame{}, ErrEmptyFrame
	}
	if mat.Type() != gocv.MatTypeCV8UC3 {
		return Frame{}, fmt.Errorf("expected CV_8UC3 mat, got %v", mat.Type())
	}
	return Frame{
		Width:  mat.Cols(),
		Height: mat.Rows(),
		Pix:    mat.ToBytes(),
	}, nil
}

// ResizeFrame resamples the frame to width x height with linear interpolation
func ResizeFrame(f Frame, width, height int) (Frame, error) {
	if f.Width == width && f.Height == height {
		return f.Clone(), nil
	}
	src, err := f.ToMat()
	if err != nil {
		return Frame{}, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)

	return FrameFromMat(dst)
}
