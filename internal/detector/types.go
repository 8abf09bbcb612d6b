package detector

import (
	"math"

	"github.com/dudu/faceswap/internal/warp"
)

// Landmark scheme keys
const (
	// Scheme5 holds the five points predicted by the detector
	Scheme5 = "5"
	// Scheme5From68 holds five points derived from a dense landmarker when one
	// refined the face, otherwise a copy of Scheme5
	Scheme5From68 = "5/68"
)

// BoundingBox represents a face bounding box
type BoundingBox struct {
	X1, Y1 float32 // top-left
	X2, Y2 float32 // bottom-right
}

// Width returns box width
func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

// Height returns box height
func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

// Center returns box center point
func (b BoundingBox) Center() warp.Point {
	return warp.Point{
		X: (b.X1 + b.X2) / 2,
		Y: (b.Y1 + b.Y2) / 2,
	}
}

// Area returns box area
func (b BoundingBox) Area() float32 {
	return b.Width() * b.Height()
}

// Face represents a detected and recognised face
type Face struct {
	BoundingBox BoundingBox
	Score       float32
	Landmarks   map[string]warp.Landmark5
	// Embedding is the raw recogniser output
	Embedding []float32
	// NormedEmbedding is Embedding scaled to unit length
	NormedEmbedding []float32
}

// Landmark5 returns the alignment landmarks, preferring the refined scheme
func (f Face) Landmark5() (warp.Landmark5, bool) {
	if lm, ok := f.Landmarks[Scheme5From68]; ok {
		return lm, true
	}
	lm, ok := f.Landmarks[Scheme5]
	return lm, ok
}

// Distance returns the cosine distance between two faces' identities:
// 0 for identical direction, up to 2 for opposite.
func (f Face) Distance(other Face) float32 {
	if len(f.NormedEmbedding) == 0 || len(f.NormedEmbedding) != len(other.NormedEmbedding) {
		return 2
	}
	var dot float32
	for i, v := range f.NormedEmbedding {
		dot += v * other.NormedEmbedding[i]
	}
	return 1 - dot
}

// Normalize returns v scaled to unit length (v itself when its norm is ~0)
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm < 1e-10 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
