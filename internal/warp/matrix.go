package warp

import (
	"errors"
	"math"

	"gocv.io/x/gocv"
)

// ErrSingularMatrix is returned when an affine matrix cannot be inverted
var ErrSingularMatrix = errors.New("singular affine matrix")

// AffineMatrix is a 2x3 transform from frame coordinates into crop coordinates.
// Its inverse carries a processed crop back into the frame.
type AffineMatrix [2][3]float64

// Apply maps a point through the transform
func (m AffineMatrix) Apply(p Point) Point {
	x, y := float64(p.X), float64(p.Y)
	return Point{
		X: float32(m[0][0]*x + m[0][1]*y + m[0][2]),
		Y: float32(m[1][0]*x + m[1][1]*y + m[1][2]),
	}
}

// Scale multiplies every entry by s, matching a crop resampled by factor s
func (m AffineMatrix) Scale(s float64) AffineMatrix {
	var out AffineMatrix
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = m[r][c] * s
		}
	}
	return out
}

// Invert returns the inverse affine transform
func (m AffineMatrix) Invert() (AffineMatrix, error) {
	det := m[0][0]*m[1][1] - m[0][1]*m[1][0]
	if math.Abs(det) < 1e-12 {
		return AffineMatrix{}, ErrSingularMatrix
	}

	a := m[1][1] / det
	b := -m[0][1] / det
	c := -m[1][0] / det
	d := m[0][0] / det

	return AffineMatrix{
		{a, b, -(a*m[0][2] + b*m[1][2])},
		{c, d, -(c*m[0][2] + d*m[1][2])},
	}, nil
}

// toMat converts the matrix into a CV_64F 2x3 Mat. The caller must Close it.
func (m AffineMatrix) toMat() gocv.Mat {
	mat := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			mat.SetDoubleAt(r, c, m[r][c])
		}
	}
	return mat
}

// EstimateSimilarity computes the least-squares similarity transform
// (rotation, uniform scale, translation) mapping src onto dst.
func EstimateSimilarity(src, dst Landmark5) AffineMatrix {
	n := float64(len(src))

	// Centroids
	var srcCx, srcCy, dstCx, dstCy float64
	for i := range src {
		srcCx += float64(src[i].X)
		srcCy += float64(src[i].Y)
		dstCx += float64(dst[i].X)
		dstCy += float64(dst[i].Y)
	}
	srcCx /= n
	srcCy /= n
	dstCx /= n
	dstCy /= n

	// For M = [p -q; q p], minimising sum |M*s + t - d|^2 over centred points gives
	// p = sum(sx*dx + sy*dy) / sum|s|^2 and q = sum(sx*dy - sy*dx) / sum|s|^2.
	var dot, cross, srcVar float64
	for i := range src {
		sx := float64(src[i].X) - srcCx
		sy := float64(src[i].Y) - srcCy
		dx := float64(dst[i].X) - dstCx
		dy := float64(dst[i].Y) - dstCy

		dot += sx*dx + sy*dy
		cross += sx*dy - sy*dx
		srcVar += sx*sx + sy*sy
	}
	if srcVar < 1e-10 {
		srcVar = 1
	}

	p := dot / srcVar
	q := cross / srcVar

	// Translation: dstC - M * srcC
	return AffineMatrix{
		{p, -q, dstCx - (p*srcCx - q*srcCy)},
		{q, p, dstCy - (q*srcCx + p*srcCy)},
	}
}
