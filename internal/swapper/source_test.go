package swapper

import (
	"errors"
	"math"
	"testing"

	"github.com/dudu/faceswap/internal/detector"
	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/vision"
	"github.com/dudu/faceswap/internal/warp"
)

func testLandmarks() warp.Landmark5 {
	return warp.Landmark5{
		{X: 100, Y: 110},
		{X: 156, Y: 110},
		{X: 128, Y: 140},
		{X: 106, Y: 170},
		{X: 150, Y: 170},
	}
}

func testFace() detector.Face {
	embedding := []float32{3, 0, 4, 0}
	return detector.Face{
		BoundingBox:     detector.BoundingBox{X1: 80, Y1: 80, X2: 176, Y2: 200},
		Score:           0.9,
		Landmarks:       map[string]warp.Landmark5{detector.Scheme5: testLandmarks()},
		Embedding:       embedding,
		NormedEmbedding: detector.Normalize(embedding),
	}
}

func stubInitializers(m inference.Matrix, loads *int) *InitializerCache {
	return &InitializerCache{
		entries: make(map[string]*inference.Matrix),
		load: func(string) (inference.Matrix, error) {
			*loads++
			return m, nil
		},
	}
}

func TestEncodeSourceEmbeddings(t *testing.T) {
	source := Source{Face: testFace()}

	t.Run("ghost uses raw embedding", func(t *testing.T) {
		tensor, err := EncodeSource(source, mustResolve(t, "ghost_256_unet_3"), nil)
		if err != nil {
			t.Fatal(err)
		}
		if tensor.Shape[0] != 1 || tensor.Shape[1] != 4 || tensor.Data[0] != 3 || tensor.Data[2] != 4 {
			t.Errorf("tensor = %+v", tensor)
		}
	})

	t.Run("simswap uses normed embedding", func(t *testing.T) {
		tensor, err := EncodeSource(source, mustResolve(t, "simswap_256"), nil)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(float64(tensor.Data[0])-0.6) > 1e-6 || math.Abs(float64(tensor.Data[2])-0.8) > 1e-6 {
			t.Errorf("tensor = %v", tensor.Data)
		}
	})

	t.Run("inswapper projects and normalises", func(t *testing.T) {
		projection := inference.Matrix{Rows: 4, Cols: 4, Data: []float32{
			2, 0, 0, 0,
			0, 1, 0, 0,
			0, 0, 0, 5,
			1, 1, 1, 1,
		}}
		tensor, err := EncodeSource(source, mustResolve(t, "inswapper_128"), &projection)
		if err != nil {
			t.Fatal(err)
		}
		// [3,0,4,0] @ M = [6,0,0,20]
		var norm float64
		for _, v := range tensor.Data {
			norm += float64(v) * float64(v)
		}
		if math.Abs(norm-1) > 1e-5 {
			t.Errorf("latent norm² = %v, want 1", norm)
		}
		want := 6 / math.Sqrt(436)
		if math.Abs(float64(tensor.Data[0])-want) > 1e-5 {
			t.Errorf("latent[0] = %v, want %v", tensor.Data[0], want)
		}
	})

	t.Run("inswapper without initializer", func(t *testing.T) {
		if _, err := EncodeSource(source, mustResolve(t, "inswapper_128"), nil); err == nil {
			t.Error("expected error without initializer")
		}
	})

	t.Run("missing embedding", func(t *testing.T) {
		empty := Source{Face: detector.Face{Landmarks: source.Face.Landmarks}}
		if _, err := EncodeSource(empty, mustResolve(t, "ghost_256_unet_1"), nil); !errors.Is(err, ErrNoEmbedding) {
			t.Errorf("expected ErrNoEmbedding, got %v", err)
		}
	})
}

func TestEncodeSourceFrames(t *testing.T) {
	frame := randomFrame(256, 256, 5)
	source := Source{Face: testFace(), Frame: frame}

	tests := []struct {
		key  string
		size int64
	}{
		{key: "blendswap_256", size: 112},
		{key: "uniface_256", size: 256},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			tensor, err := EncodeSource(source, mustResolve(t, tt.key), nil)
			if err != nil {
				t.Fatalf("EncodeSource failed: %v", err)
			}
			want := []int64{1, 3, tt.size, tt.size}
			for i := range want {
				if tensor.Shape[i] != want[i] {
					t.Fatalf("shape = %v, want %v", tensor.Shape, want)
				}
			}
			for _, v := range tensor.Data {
				if v < -1e-6 || v > 1+1e-6 {
					t.Fatalf("value %v outside [0, 1]", v)
				}
			}
		})
	}

	t.Run("missing frame", func(t *testing.T) {
		noFrame := Source{Face: testFace()}
		if _, err := EncodeSource(noFrame, mustResolve(t, "blendswap_256"), nil); !errors.Is(err, vision.ErrEmptyFrame) {
			t.Errorf("expected ErrEmptyFrame, got %v", err)
		}
	})
}

func TestInitializerCache(t *testing.T) {
	loads := 0
	cache := stubInitializers(inference.Matrix{Rows: 1, Cols: 1, Data: []float32{1}}, &loads)

	a, err := cache.Get("/models/inswapper_128.onnx")
	if err != nil {
		t.Fatal(err)
	}
	b, err := cache.Get("/models/inswapper_128.onnx")
	if err != nil {
		t.Fatal(err)
	}
	if a != b || loads != 1 {
		t.Errorf("expected one load and a shared matrix, got %d loads", loads)
	}

	cache.Clear()
	if _, err := cache.Get("/models/inswapper_128.onnx"); err != nil {
		t.Fatal(err)
	}
	if loads != 2 {
		t.Errorf("expected reload after Clear, got %d loads", loads)
	}
}
