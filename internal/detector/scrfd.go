package detector

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/vision"
	"github.com/dudu/faceswap/internal/warp"
)

// SCRFD implements the SCRFD face detector
type SCRFD struct {
	model          inference.Runner
	inputSize      int
	scoreThreshold float32
	nmsThreshold   float32
	featureStrides []int
	numAnchors     int
}

// NewSCRFD creates a detector around a loaded SCRFD model. The model has one
// input and 9 outputs (3 levels × score, bbox, kps).
func NewSCRFD(model inference.Runner, inputSize int, scoreThreshold float32) *SCRFD {
	return &SCRFD{
		model:          model,
		inputSize:      inputSize,
		scoreThreshold: scoreThreshold,
		nmsThreshold:   0.4,
		featureStrides: []int{8, 16, 32},
		numAnchors:     2, // anchors per position
	}
}

// Detect finds faces in a frame, highest score first
func (s *SCRFD) Detect(ctx context.Context, frame vision.Frame) ([]Face, error) {
	if frame.Empty() {
		return nil, vision.ErrEmptyFrame
	}

	// Preprocess: letterbox and normalize
	input, scale, err := s.preprocess(frame)
	if err != nil {
		return nil, err
	}

	names, err := s.model.InputNames(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("detector model has no inputs")
	}

	outputs, err := s.model.Run(ctx, map[string]inference.Tensor{names[0]: input})
	if err != nil {
		return nil, fmt.Errorf("detector inference failed: %w", err)
	}
	if len(outputs) < 9 {
		return nil, fmt.Errorf("detector returned %d outputs, want 9", len(outputs))
	}

	// Decode outputs
	faces := s.postprocess(outputs, scale, frame.Width, frame.Height)

	// Apply NMS
	return nms(faces, s.nmsThreshold), nil
}

// preprocess resizes the frame into the top-left of a square canvas,
// converts to RGB and normalizes with (x - 127.5) / 128
func (s *SCRFD) preprocess(frame vision.Frame) (inference.Tensor, float32, error) {
	scale := float32(s.inputSize) / float32(max(frame.Height, frame.Width))
	newWidth := max(int(float32(frame.Width)*scale), 1)
	newHeight := max(int(float32(frame.Height)*scale), 1)

	resized, err := vision.ResizeFrame(frame, newWidth, newHeight)
	if err != nil {
		return inference.Tensor{}, 0, fmt.Errorf("failed to resize frame for detector: %w", err)
	}

	src, err := resized.ToMat()
	if err != nil {
		return inference.Tensor{}, 0, err
	}
	defer src.Close()

	// Letterbox into the top-left of a black square
	size := s.inputSize
	padded := gocv.NewMatWithSize(size, size, gocv.MatTypeCV8UC3)
	defer padded.Close()
	padded.SetTo(gocv.NewScalar(0, 0, 0, 0))
	roi := padded.Region(image.Rect(0, 0, newWidth, newHeight))
	src.CopyTo(&roi)
	roi.Close()

	data, err := vision.BlobFromMat(padded, 1.0/128.0, 127.5)
	if err != nil {
		return inference.Tensor{}, 0, fmt.Errorf("failed to build detector blob: %w", err)
	}
	return inference.Tensor{Shape: []int64{1, 3, int64(size), int64(size)}, Data: data}, scale, nil
}

// postprocess decodes model outputs to faces
func (s *SCRFD) postprocess(outputs []inference.Tensor, scale float32, origWidth, origHeight int) []Face {
	var faces []Face

	for level, stride := range s.featureStrides {
		fmHeight := s.inputSize / stride
		fmWidth := s.inputSize / stride
		anchors := fmHeight * fmWidth * s.numAnchors

		scoreData := outputs[level].Data
		bboxData := outputs[level+3].Data
		kpsData := outputs[level+6].Data
		if len(scoreData) < anchors || len(bboxData) < anchors*4 || len(kpsData) < anchors*10 {
			continue
		}

		st := float32(stride)
		anchorIdx := 0
		for y := 0; y < fmHeight; y++ {
			for x := 0; x < fmWidth; x++ {
				for a := 0; a < s.numAnchors; a++ {
					// Scores are already sigmoid probabilities
					score := scoreData[anchorIdx]
					if score > s.scoreThreshold {
						// Anchor center
						cx := float32(x) * st
						cy := float32(y) * st

						// Decode bbox (distance to edges)
						b := anchorIdx * 4
						x1 := clamp((cx-bboxData[b]*st)/scale, 0, float32(origWidth))
						y1 := clamp((cy-bboxData[b+1]*st)/scale, 0, float32(origHeight))
						x2 := clamp((cx+bboxData[b+2]*st)/scale, 0, float32(origWidth))
						y2 := clamp((cy+bboxData[b+3]*st)/scale, 0, float32(origHeight))

						// Decode keypoints
						k := anchorIdx * 10
						var landmarks warp.Landmark5
						for i := range landmarks {
							landmarks[i] = warp.Point{
								X: (cx + kpsData[k+i*2]*st) / scale,
								Y: (cy + kpsData[k+i*2+1]*st) / scale,
							}
						}

						faces = append(faces, Face{
							BoundingBox: BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
							Score:       score,
							Landmarks: map[string]warp.Landmark5{
								Scheme5:       landmarks,
								Scheme5From68: landmarks,
							},
						})
					}
					anchorIdx++
				}
			}
		}
	}

	return faces
}

func clamp(x, lo, hi float32) float32 {
	return min(max(x, lo), hi)
}
