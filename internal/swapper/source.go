package swapper

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dudu/faceswap/internal/detector"
	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/models"
	"github.com/dudu/faceswap/internal/vision"
	"github.com/dudu/faceswap/internal/warp"
)

// ErrNoEmbedding is returned when an embedding-driven model gets a face
// without one
var ErrNoEmbedding = errors.New("source face has no embedding")

// Source is the identity being transplanted: the (averaged) source face and
// the first source image, which pixel-driven models re-align themselves.
type Source struct {
	Face  detector.Face
	Frame vision.Frame
}

// EncodeSource builds the model's "source" input. Blendswap and uniface take
// an aligned RGB image of the source face; the embedding families take the
// identity vector, which inswapper first projects through its initializer.
func EncodeSource(source Source, spec models.Spec, initializer *inference.Matrix) (inference.Tensor, error) {
	if spec.Family.PixelSource() {
		template, size := warp.TemplateFFHQ512, vision.Size{Width: 256, Height: 256}
		if spec.Family == models.FamilyBlendSwap {
			template, size = warp.TemplateArcFace112V2, vision.Size{Width: 112, Height: 112}
		}
		return encodeSourceFrame(source, template, size)
	}

	switch spec.Family {
	case models.FamilyGhost:
		return embeddingTensor(source.Face.Embedding)
	case models.FamilyInswapper:
		if initializer == nil {
			return inference.Tensor{}, fmt.Errorf("%s needs its embedding initializer", spec.Key)
		}
		if len(source.Face.Embedding) == 0 {
			return inference.Tensor{}, ErrNoEmbedding
		}
		latent, err := initializer.MulVec(source.Face.Embedding)
		if err != nil {
			return inference.Tensor{}, fmt.Errorf("failed to project embedding: %w", err)
		}
		return embeddingTensor(detector.Normalize(latent))
	case models.FamilySimSwap:
		return embeddingTensor(source.Face.NormedEmbedding)
	}
	return inference.Tensor{}, fmt.Errorf("unsupported model family %s", spec.Family)
}

func encodeSourceFrame(source Source, template warp.Template, size vision.Size) (inference.Tensor, error) {
	landmarks, ok := source.Face.Landmark5()
	if !ok {
		return inference.Tensor{}, fmt.Errorf("source face has no 5-point landmarks")
	}
	if source.Frame.Empty() {
		return inference.Tensor{}, fmt.Errorf("source frame: %w", vision.ErrEmptyFrame)
	}

	aligned, _, err := warp.WarpFace(source.Frame, landmarks, template, size)
	if err != nil {
		return inference.Tensor{}, err
	}

	// RGB in [0, 1], NCHW
	data, err := aligned.Blob(1.0/255, 0)
	if err != nil {
		return inference.Tensor{}, err
	}
	return inference.Tensor{
		Shape: []int64{1, 3, int64(size.Height), int64(size.Width)},
		Data:  data,
	}, nil
}

func embeddingTensor(embedding []float32) (inference.Tensor, error) {
	if len(embedding) == 0 {
		return inference.Tensor{}, ErrNoEmbedding
	}
	data := make([]float32, len(embedding))
	copy(data, embedding)
	return inference.Tensor{Shape: []int64{1, int64(len(data))}, Data: data}, nil
}

// InitializerCache memoizes embedding projection matrices per weights file
type InitializerCache struct {
	mu      sync.Mutex
	entries map[string]*inference.Matrix
	load    func(path string) (inference.Matrix, error)
}

// NewInitializerCache returns a cache reading initializers from ONNX files
func NewInitializerCache() *InitializerCache {
	return &InitializerCache{
		entries: make(map[string]*inference.Matrix),
		load:    inference.LoadInitializer,
	}
}

// Get returns the initializer of the model at path, loading it on first use
func (c *InitializerCache) Get(path string) (*inference.Matrix, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.entries[path]; ok {
		return m, nil
	}
	m, err := c.load(path)
	if err != nil {
		return nil, err
	}
	c.entries[path] = &m
	return &m, nil
}

// Clear drops every cached matrix
func (c *InitializerCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}
