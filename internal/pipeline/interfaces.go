package pipeline

import (
	"context"

	"github.com/dudu/faceswap/internal/detector"
	"github.com/dudu/faceswap/internal/swapper"
	"github.com/dudu/faceswap/internal/vision"
)

// Detector finds faces and merges source identities
type Detector interface {
	DetectFaces(ctx context.Context, frames []vision.Frame) ([]detector.Face, error)
	AverageFace(faces []detector.Face) *detector.Face
	BestFace(faces []detector.Face) *detector.Face
}

// Selector orders detected faces and matches them against references
type Selector interface {
	SortAndFilter(faces []detector.Face) []detector.Face
	FindSimilar(faces, references []detector.Face, distance float32) []detector.Face
}

// FaceSwapper transplants the source identity onto one target face
type FaceSwapper interface {
	SwapFace(ctx context.Context, source swapper.Source, target detector.Face, frame vision.Frame) (vision.Frame, error)
}

// FrameStore reads and writes frames by path
type FrameStore interface {
	ReadFrame(path string) (vision.Frame, error)
	WriteFrame(path string, frame vision.Frame) error
}

// Releaser frees a cached inference session; the next use rebuilds it
type Releaser interface {
	Release() error
}
