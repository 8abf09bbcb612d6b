package detector

import (
	"context"
	"fmt"

	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/vision"
	"github.com/dudu/faceswap/internal/warp"
)

// 2d106det landmark indices used to derive the 5 alignment points
var (
	eyeRegionA = [2]int{33, 42}
	eyeRegionB = [2]int{87, 96}
)

const (
	noseTip     = 86
	mouthCorner = 52
	mouthOther  = 61
)

// Landmarker refines detector keypoints with insightface's 106-point model
type Landmarker struct {
	model     inference.Runner
	inputSize int
	inputMean float32
	inputStd  float32
}

// NewLandmarker wraps a loaded 2d106det model
func NewLandmarker(model inference.Runner) *Landmarker {
	return &Landmarker{
		model:     model,
		inputSize: 192,
		inputMean: 127.5,
		inputStd:  128.0,
	}
}

// Refine predicts 106 landmarks inside face's box and stores the derived
// 5 points under Scheme5From68
func (l *Landmarker) Refine(ctx context.Context, frame vision.Frame, face *Face) error {
	bbox := face.BoundingBox
	if bbox.Width() <= 0 || bbox.Height() <= 0 {
		return fmt.Errorf("face has an empty bounding box")
	}

	// 1.5x expansion like insightface
	center := bbox.Center()
	scale := float64(l.inputSize) / (float64(max(bbox.Width(), bbox.Height())) * 1.5)
	half := float64(l.inputSize) / 2
	matrix := warp.AffineMatrix{
		{scale, 0, half - float64(center.X)*scale},
		{0, scale, half - float64(center.Y)*scale},
	}

	size := vision.Size{Width: l.inputSize, Height: l.inputSize}
	crop, err := warp.WarpFrame(frame, matrix, size)
	if err != nil {
		return fmt.Errorf("failed to crop face for landmarker: %w", err)
	}

	// RGB, (x - mean) / std, NCHW
	data, err := crop.Blob(1/float64(l.inputStd), float64(l.inputMean))
	if err != nil {
		return fmt.Errorf("failed to build landmark blob: %w", err)
	}
	input := inference.Tensor{Shape: []int64{1, 3, int64(l.inputSize), int64(l.inputSize)}, Data: data}

	names, err := l.model.InputNames(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("landmark model has no inputs")
	}
	outputs, err := l.model.Run(ctx, map[string]inference.Tensor{names[0]: input})
	if err != nil {
		return fmt.Errorf("landmark inference failed: %w", err)
	}
	if len(outputs) == 0 || len(outputs[0].Data) < 212 {
		return fmt.Errorf("unexpected landmark output")
	}

	inverse, err := matrix.Invert()
	if err != nil {
		return err
	}

	// Output is in [-1, 1] relative to the crop
	var points [106]warp.Point
	out := outputs[0].Data
	for i := range points {
		p := warp.Point{
			X: (out[i*2] + 1) * float32(half),
			Y: (out[i*2+1] + 1) * float32(half),
		}
		points[i] = inverse.Apply(p)
	}

	if face.Landmarks == nil {
		face.Landmarks = make(map[string]warp.Landmark5)
	}
	face.Landmarks[Scheme5From68] = fivePoint(points)
	return nil
}

// fivePoint reduces 106 landmarks to eyes, nose and mouth corners ordered
// image-left before image-right
func fivePoint(points [106]warp.Point) warp.Landmark5 {
	eyeA := regionMean(points, eyeRegionA)
	eyeB := regionMean(points, eyeRegionB)
	if eyeB.X < eyeA.X {
		eyeA, eyeB = eyeB, eyeA
	}
	mouthA, mouthB := points[mouthCorner], points[mouthOther]
	if mouthB.X < mouthA.X {
		mouthA, mouthB = mouthB, mouthA
	}
	return warp.Landmark5{eyeA, eyeB, points[noseTip], mouthA, mouthB}
}

func regionMean(points [106]warp.Point, region [2]int) warp.Point {
	var sum warp.Point
	for i := region[0]; i <= region[1]; i++ {
		sum.X += points[i].X
		sum.Y += points[i].Y
	}
	n := float32(region[1] - region[0] + 1)
	return warp.Point{X: sum.X / n, Y: sum.Y / n}
}
