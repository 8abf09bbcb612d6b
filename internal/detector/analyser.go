package detector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dudu/faceswap/internal/logging"
	"github.com/dudu/faceswap/internal/vision"
)

// Analyser detects faces and attaches identity embeddings
type Analyser struct {
	detector   *SCRFD
	landmarker *Landmarker
	recognizer *ArcFace
	logger     *zap.Logger
}

// NewAnalyser wires the analysis models. landmarker may be nil, in which case
// alignment uses the detector keypoints.
func NewAnalyser(detector *SCRFD, landmarker *Landmarker, recognizer *ArcFace, logger *zap.Logger) *Analyser {
	return &Analyser{
		detector:   detector,
		landmarker: landmarker,
		recognizer: recognizer,
		logger:     logging.OrNop(logger),
	}
}

// DetectFaces returns every face found across frames, each with embeddings
func (a *Analyser) DetectFaces(ctx context.Context, frames []vision.Frame) ([]Face, error) {
	var faces []Face
	for i, frame := range frames {
		detected, err := a.detector.Detect(ctx, frame)
		if err != nil {
			return nil, fmt.Errorf("failed to detect faces in frame %d: %w", i, err)
		}

		for j := range detected {
			face := &detected[j]
			if a.landmarker != nil {
				if err := a.landmarker.Refine(ctx, frame, face); err != nil {
					a.logger.Warn("landmark refinement failed, using detector keypoints", zap.Error(err))
				}
			}

			landmarks, _ := face.Landmark5()
			embedding, normed, err := a.recognizer.Embed(ctx, frame, landmarks)
			if err != nil {
				return nil, fmt.Errorf("failed to embed face %d in frame %d: %w", j, i, err)
			}
			face.Embedding = embedding
			face.NormedEmbedding = normed
		}
		faces = append(faces, detected...)
	}

	a.logger.Debug("faces analysed", zap.Int("frames", len(frames)), zap.Int("faces", len(faces)))
	return faces, nil
}

// AverageFace delegates to the package-level AverageFace
func (a *Analyser) AverageFace(faces []Face) *Face {
	return AverageFace(faces)
}

// BestFace delegates to the package-level BestFace
func (a *Analyser) BestFace(faces []Face) *Face {
	return BestFace(faces)
}

// AverageFace merges several sightings of one identity: the first face keeps
// its geometry and takes the mean raw and normed embeddings of all faces.
func AverageFace(faces []Face) *Face {
	if len(faces) == 0 {
		return nil
	}

	avg := faces[0]
	if len(faces) == 1 {
		return &avg
	}

	dim := len(faces[0].Embedding)
	embedding := make([]float32, dim)
	normed := make([]float32, len(faces[0].NormedEmbedding))
	for _, f := range faces {
		for i := range embedding {
			if i < len(f.Embedding) {
				embedding[i] += f.Embedding[i]
			}
		}
		for i := range normed {
			if i < len(f.NormedEmbedding) {
				normed[i] += f.NormedEmbedding[i]
			}
		}
	}
	n := float32(len(faces))
	for i := range embedding {
		embedding[i] /= n
	}
	for i := range normed {
		normed[i] /= n
	}

	avg.Embedding = embedding
	avg.NormedEmbedding = normed
	return &avg
}

// BestFace returns the leading face, callers order faces by preference
func BestFace(faces []Face) *Face {
	if len(faces) == 0 {
		return nil
	}
	best := faces[0]
	return &best
}
