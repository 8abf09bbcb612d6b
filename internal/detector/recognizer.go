package detector

import (
	"context"
	"fmt"

	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/vision"
	"github.com/dudu/faceswap/internal/warp"
)

// ArcFace extracts identity embeddings from aligned 112x112 faces
type ArcFace struct {
	model inference.Runner
	size  vision.Size
}

// NewArcFace wraps a loaded ArcFace recognizer
func NewArcFace(model inference.Runner) *ArcFace {
	return &ArcFace{
		model: model,
		size:  vision.Size{Width: 112, Height: 112},
	}
}

// Embed aligns the face onto arcface_112_v2 and returns its raw and
// unit-length embeddings
func (a *ArcFace) Embed(ctx context.Context, frame vision.Frame, landmarks warp.Landmark5) ([]float32, []float32, error) {
	aligned, _, err := warp.WarpFace(frame, landmarks, warp.TemplateArcFace112V2, a.size)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to align face for recognizer: %w", err)
	}

	// RGB, [-1, 1], NCHW
	data, err := aligned.Blob(1/127.5, 127.5)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build recognizer blob: %w", err)
	}
	input := inference.Tensor{Shape: []int64{1, 3, int64(a.size.Height), int64(a.size.Width)}, Data: data}

	names, err := a.model.InputNames(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(names) == 0 {
		return nil, nil, fmt.Errorf("recognizer model has no inputs")
	}
	outputs, err := a.model.Run(ctx, map[string]inference.Tensor{names[0]: input})
	if err != nil {
		return nil, nil, fmt.Errorf("recognizer inference failed: %w", err)
	}
	if len(outputs) == 0 || len(outputs[0].Data) == 0 {
		return nil, nil, fmt.Errorf("recognizer returned no embedding")
	}

	embedding := make([]float32, len(outputs[0].Data))
	copy(embedding, outputs[0].Data)
	return embedding, Normalize(embedding), nil
}
