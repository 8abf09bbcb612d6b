package warp

import (
	"fmt"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/dudu/faceswap/internal/vision"
)

// WarpFace aligns the face described by landmarks onto template and samples
// a crop of the given size. The returned matrix maps frame to crop coordinates.
func WarpFace(frame vision.Frame, landmarks Landmark5, template Template, size vision.Size) (vision.Frame, AffineMatrix, error) {
	dst, err := template.Points(size.Width, size.Height)
	if err != nil {
		return vision.Frame{}, AffineMatrix{}, err
	}
	matrix := EstimateSimilarity(landmarks, dst)

	crop, err := WarpFrame(frame, matrix, size)
	if err != nil {
		return vision.Frame{}, AffineMatrix{}, fmt.Errorf("failed to warp face: %w", err)
	}
	return crop, matrix, nil
}

// PasteBack inverse-warps crop into frame space and alpha-blends it over
// frame using mask (0 keeps the original pixel, 1 replaces it). Pixels outside
// the warped mask footprint are left byte-identical. Inputs are not modified.
func PasteBack(frame, crop vision.Frame, mask vision.Mask, matrix AffineMatrix) (vision.Frame, error) {
	if mask.Width != crop.Width || mask.Height != crop.Height {
		return vision.Frame{}, fmt.Errorf("mask %s does not match crop %s", mask.Size(), crop.Size())
	}

	inverse, err := matrix.Invert()
	if err != nil {
		return vision.Frame{}, err
	}

	warpedFace, err := WarpFrame(crop, inverse, frame.Size())
	if err != nil {
		return vision.Frame{}, fmt.Errorf("failed to inverse warp crop: %w", err)
	}
	warpedMask, err := warpMask(mask, inverse, frame.Size())
	if err != nil {
		return vision.Frame{}, fmt.Errorf("failed to inverse warp mask: %w", err)
	}

	out := frame.Clone()
	for i, alpha := range warpedMask.Values {
		if alpha <= 0 {
			continue
		}
		alpha = min(alpha, 1)
		o := i * 3
		for c := 0; c < 3; c++ {
			v := alpha*float32(warpedFace.Pix[o+c]) + (1-alpha)*float32(frame.Pix[o+c])
			out.Pix[o+c] = uint8(math.Round(float64(min(max(v, 0), 255))))
		}
	}
	return out, nil
}

// WarpFrame samples frame through matrix into a new frame of the given size,
// replicating border pixels.
func WarpFrame(frame vision.Frame, matrix AffineMatrix, size vision.Size) (vision.Frame, error) {
	src, err := frame.ToMat()
	if err != nil {
		return vision.Frame{}, err
	}
	defer src.Close()

	m := matrix.toMat()
	defer m.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpAffineWithParams(src, &dst, m, size.Point(),
		gocv.InterpolationLinear, gocv.BorderReplicate, color.RGBA{})

	return vision.FrameFromMat(dst)
}

func warpMask(mask vision.Mask, matrix AffineMatrix, size vision.Size) (vision.Mask, error) {
	src, err := mask.ToMat()
	if err != nil {
		return vision.Mask{}, err
	}
	defer src.Close()

	m := matrix.toMat()
	defer m.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpAffineWithParams(src, &dst, m, size.Point(),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})

	return vision.MaskFromMat(dst)
}
