package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dudu/faceswap/internal/config"
	"github.com/dudu/faceswap/internal/detector"
	"github.com/dudu/faceswap/internal/inference"
	"github.com/dudu/faceswap/internal/logging"
	"github.com/dudu/faceswap/internal/masker"
	"github.com/dudu/faceswap/internal/models"
	"github.com/dudu/faceswap/internal/selector"
	"github.com/dudu/faceswap/internal/swapper"
	"github.com/dudu/faceswap/internal/vision"
	"github.com/dudu/faceswap/internal/warp"
)

// fakeDetector returns the faces registered for a frame's first pixel value
type fakeDetector struct {
	mu    sync.Mutex
	faces map[uint8][]detector.Face
	calls int
}

func (d *fakeDetector) DetectFaces(ctx context.Context, frames []vision.Frame) ([]detector.Face, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	var out []detector.Face
	for _, f := range frames {
		if f.Empty() {
			return nil, vision.ErrEmptyFrame
		}
		out = append(out, d.faces[f.Pix[0]]...)
	}
	return out, nil
}

func (d *fakeDetector) AverageFace(faces []detector.Face) *detector.Face {
	return detector.AverageFace(faces)
}

func (d *fakeDetector) BestFace(faces []detector.Face) *detector.Face {
	return detector.BestFace(faces)
}

// fakeSwapper records every swapped target and marks the frame
type fakeSwapper struct {
	mu      sync.Mutex
	targets []detector.Face
	err     error
}

func (s *fakeSwapper) SwapFace(ctx context.Context, source swapper.Source, target detector.Face, frame vision.Frame) (vision.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return vision.Frame{}, s.err
	}
	s.targets = append(s.targets, target)
	out := frame.Clone()
	out.Pix[len(out.Pix)-1]++
	return out, nil
}

func (s *fakeSwapper) swapped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.targets)
}

// memStore keeps frames in memory by path
type memStore struct {
	mu     sync.Mutex
	frames map[string]vision.Frame
	writes int
}

func newMemStore() *memStore {
	return &memStore{frames: make(map[string]vision.Frame)}
}

func (s *memStore) ReadFrame(path string) (vision.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frames[path]
	if !ok {
		return vision.Frame{}, fmt.Errorf("read %s: %w", path, os.ErrNotExist)
	}
	return f.Clone(), nil
}

func (s *memStore) WriteFrame(path string, frame vision.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[path] = frame.Clone()
	s.writes++
	return nil
}

func markedFrame(marker uint8) vision.Frame {
	f := vision.NewFrame(8, 8)
	for i := range f.Pix {
		f.Pix[i] = marker
	}
	return f
}

// identityFace places a face at x with an embedding pointing at angle (radians)
func identityFace(x float32, angle float64) detector.Face {
	e := []float32{float32(math.Cos(angle)), float32(math.Sin(angle))}
	return detector.Face{
		BoundingBox:     detector.BoundingBox{X1: x, Y1: 0, X2: x + 10, Y2: 10},
		Score:           0.9,
		Embedding:       e,
		NormedEmbedding: detector.Normalize(e),
	}
}

const (
	sourceMarker = 1
	targetMarker = 2
)

func newTestProcessor(t *testing.T, mode selector.Mode, distance float32, targetFaces []detector.Face) (*Processor, *fakeSwapper, *memStore) {
	t.Helper()
	det := &fakeDetector{faces: map[uint8][]detector.Face{
		sourceMarker: {identityFace(0, 0)},
		targetMarker: targetFaces,
	}}
	swap := &fakeSwapper{}
	store := newMemStore()
	store.frames["source.png"] = markedFrame(sourceMarker)

	p, err := New(Config{
		Detector: det,
		Selector: selector.New(selector.OrderLeftRight, 0),
		Swapper:  swap,
		Store:    store,
		Options:  Options{Mode: mode, ReferenceDistance: distance, Workers: 4},
	})
	if err != nil {
		t.Fatal(err)
	}
	return p, swap, store
}

func threeFaces() []detector.Face {
	return []detector.Face{
		identityFace(40, 0),
		identityFace(0, math.Pi/6),
		identityFace(20, math.Pi/2),
	}
}

func TestProcessFrameSelectionModes(t *testing.T) {
	tests := []struct {
		name string
		mode selector.Mode
		want int
	}{
		{"one", selector.ModeOne, 1},
		{"many", selector.ModeMany, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, swap, _ := newTestProcessor(t, tt.mode, 0, threeFaces())
			source, err := p.LoadSource(context.Background(), []string{"source.png"})
			if err != nil {
				t.Fatal(err)
			}

			out, err := p.ProcessFrame(context.Background(), source, markedFrame(targetMarker))
			if err != nil {
				t.Fatal(err)
			}
			if swap.swapped() != tt.want {
				t.Errorf("swapped %d faces, want %d", swap.swapped(), tt.want)
			}
			if got := out.Pix[len(out.Pix)-1]; got != targetMarker+uint8(tt.want) {
				t.Errorf("swaps did not chain through the frame: marker %d", got)
			}
		})
	}
}

func TestProcessFrameOneUsesSortedLeadingFace(t *testing.T) {
	p, swap, _ := newTestProcessor(t, selector.ModeOne, 0, threeFaces())
	if _, err := p.ProcessFrame(context.Background(), swapper.Source{}, markedFrame(targetMarker)); err != nil {
		t.Fatal(err)
	}
	if swap.targets[0].BoundingBox.X1 != 0 {
		t.Errorf("swapped face at x=%v, want the leftmost", swap.targets[0].BoundingBox.X1)
	}
}

func TestProcessFrameReferenceThresholdIsMonotone(t *testing.T) {
	prev := -1
	for _, distance := range []float32{0, 0.01, 0.2, 0.5, 1.01, 2.1} {
		p, swap, _ := newTestProcessor(t, selector.ModeReference, distance, threeFaces())
		p.References().Set(identityFace(0, 0))

		if _, err := p.ProcessFrame(context.Background(), swapper.Source{}, markedFrame(targetMarker)); err != nil {
			t.Fatal(err)
		}
		n := swap.swapped()
		if n < prev {
			t.Errorf("distance %v swapped %d faces, fewer than %d at a lower threshold", distance, n, prev)
		}
		prev = n
	}
	if prev != 3 {
		t.Errorf("widest threshold swapped %d faces, want 3", prev)
	}
}

func TestProcessFrameWithoutFacesPassesThrough(t *testing.T) {
	p, swap, _ := newTestProcessor(t, selector.ModeMany, 0, nil)
	frame := markedFrame(targetMarker)
	out, err := p.ProcessFrame(context.Background(), swapper.Source{}, frame)
	if err != nil {
		t.Fatal(err)
	}
	if swap.swapped() != 0 || !out.Equal(frame) {
		t.Error("frame without faces was modified")
	}
}

func TestLoadSourceWithoutFace(t *testing.T) {
	p, _, store := newTestProcessor(t, selector.ModeOne, 0, nil)
	store.frames["blank.png"] = markedFrame(targetMarker)

	tests := []struct {
		name  string
		paths []string
	}{
		{"no images", []string{"clip.mp4"}},
		{"no face", []string{"blank.png"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.LoadSource(context.Background(), tt.paths); !errors.Is(err, ErrNoSourceFace) {
				t.Errorf("error = %v, want ErrNoSourceFace", err)
			}
		})
	}
}

func TestProcessBatch(t *testing.T) {
	p, swap, store := newTestProcessor(t, selector.ModeOne, 0, threeFaces())

	var paths []string
	for i := 0; i < 10; i++ {
		path := fmt.Sprintf("frames/%04d.png", i)
		paths = append(paths, path)
		if i != 3 {
			store.frames[path] = markedFrame(targetMarker)
		}
	}

	var mu sync.Mutex
	var reports []int
	result, err := p.ProcessBatch(context.Background(), []string{"source.png"}, paths, func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if total != 10 {
			t.Errorf("total = %d", total)
		}
		reports = append(reports, done)
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.Processed != 9 || result.Failed != 1 {
		t.Errorf("result = %+v, want 9 processed and 1 failed", result)
	}
	if swap.swapped() != 9 {
		t.Errorf("swapped %d faces, want 9", swap.swapped())
	}
	if len(reports) != 10 || slices.Max(reports) != 10 {
		t.Errorf("progress reports = %v", reports)
	}
	for i, path := range paths {
		f, err := store.ReadFrame(path)
		if i == 3 {
			if err == nil {
				t.Error("failed frame appeared in the store")
			}
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if f.Pix[len(f.Pix)-1] != targetMarker+1 {
			t.Errorf("frame %d not written back", i)
		}
	}
}

func TestProcessBatchSwapFailurePassesThrough(t *testing.T) {
	p, swap, store := newTestProcessor(t, selector.ModeMany, 0, threeFaces())
	swap.err = errors.New("model exploded")
	store.frames["f.png"] = markedFrame(targetMarker)

	result, err := p.ProcessBatch(context.Background(), []string{"source.png"}, []string{"f.png"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 1 {
		t.Errorf("result = %+v", result)
	}
	if f, _ := store.ReadFrame("f.png"); !f.Equal(markedFrame(targetMarker)) {
		t.Error("failed frame was modified")
	}
}

func TestProcessBatchCancelled(t *testing.T) {
	p, swap, store := newTestProcessor(t, selector.ModeMany, 0, threeFaces())
	store.frames["f.png"] = markedFrame(targetMarker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.ProcessBatch(ctx, []string{"source.png"}, []string{"f.png", "f.png"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if result.Processed != 0 || swap.swapped() != 0 {
		t.Errorf("cancelled batch still processed frames: %+v", result)
	}
}

func TestProcessBatchPinsReference(t *testing.T) {
	faces := []detector.Face{identityFace(0, 0), identityFace(20, math.Pi/2)}
	p, swap, store := newTestProcessor(t, selector.ModeReference, 0.5, faces)
	p.opts.ReferencePosition = 1
	store.frames["a.png"] = markedFrame(targetMarker)
	store.frames["b.png"] = markedFrame(targetMarker)

	if _, err := p.ProcessBatch(context.Background(), []string{"source.png"}, []string{"a.png", "b.png"}, nil); err != nil {
		t.Fatal(err)
	}
	refs := p.References().Faces()
	if len(refs) != 1 || refs[0].BoundingBox.X1 != 20 {
		t.Fatalf("pinned %+v, want the face at position 1", refs)
	}
	if swap.swapped() != 2 {
		t.Errorf("swapped %d faces, want one per frame", swap.swapped())
	}
	for _, target := range swap.targets {
		if target.BoundingBox.X1 != 20 {
			t.Errorf("swapped non-reference face at x=%v", target.BoundingBox.X1)
		}
	}
}

func TestPreCheck(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.onnx")
	empty := filepath.Join(dir, "empty.onnx")
	if err := os.WriteFile(good, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		weights []string
		wantErr bool
	}{
		{"present", []string{good}, false},
		{"missing", []string{good, filepath.Join(dir, "missing.onnx")}, true},
		{"empty", []string{empty}, true},
		{"directory", []string{dir}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := inference.NewMaintenance()
			p, _, _ := newTestProcessor(t, selector.ModeOne, 0, nil)
			p.gate = gate
			p.weights = tt.weights

			err := p.PreCheck()
			if tt.wantErr != (err != nil) {
				t.Fatalf("PreCheck error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrWeightsMissing) {
				t.Errorf("error %v does not wrap ErrWeightsMissing", err)
			}
			if gate.Active() {
				t.Error("maintenance gate left raised")
			}
		})
	}
}

func TestPreProcess(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.jpg")
	if err := os.WriteFile(target, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	frames := filepath.Join(dir, "frames")
	if err := os.Mkdir(frames, 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		mode    RunMode
		job     Job
		wantErr error
	}{
		{"image ok", RunOutput, Job{[]string{"source.png"}, target, filepath.Join(dir, "out.jpg")}, nil},
		{"extension case ignored", RunOutput, Job{[]string{"source.png"}, target, filepath.Join(dir, "out.JPG")}, nil},
		{"frames ok", RunOutput, Job{[]string{"source.png"}, frames, filepath.Join(dir, "swapped")}, nil},
		{"preview skips output", RunPreview, Job{[]string{"source.png"}, target, "/nowhere/out.png"}, nil},
		{"no source face", RunOutput, Job{[]string{"blank.png"}, target, filepath.Join(dir, "out.jpg")}, ErrNoSourceFace},
		{"missing target", RunOutput, Job{[]string{"source.png"}, filepath.Join(dir, "nope.jpg"), filepath.Join(dir, "out.jpg")}, ErrTargetType},
		{"video target", RunOutput, Job{[]string{"source.png"}, filepath.Join(dir, "clip.mp4"), filepath.Join(dir, "out.mp4")}, ErrTargetType},
		{"output dir missing", RunOutput, Job{[]string{"source.png"}, target, filepath.Join(dir, "missing", "out.jpg")}, ErrOutputPath},
		{"frames into image", RunOutput, Job{[]string{"source.png"}, frames, filepath.Join(dir, "out.png")}, ErrOutputPath},
		{"extension mismatch", RunOutput, Job{[]string{"source.png"}, target, filepath.Join(dir, "out.png")}, ErrExtensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, store := newTestProcessor(t, selector.ModeOne, 0, nil)
			store.frames["blank.png"] = markedFrame(targetMarker)

			err := p.PreProcess(context.Background(), tt.mode, tt.job)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestProcessImageReportsFailedStage(t *testing.T) {
	p, _, _ := newTestProcessor(t, selector.ModeOne, 0, nil)

	err := p.ProcessImage(context.Background(), []string{"source.png"}, "missing.png", "out.png")
	var frameErr *logging.FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("error %v is not a FrameError", err)
	}
	if frameErr.Stage != logging.StageRead || frameErr.Path != "missing.png" {
		t.Errorf("got stage %s path %s", frameErr.Stage, frameErr.Path)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("cause lost")
	}
}

func TestPreProcessRejectsExistingVideo(t *testing.T) {
	clip := filepath.Join(t.TempDir(), "clip.MOV")
	if err := os.WriteFile(clip, []byte("mov"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, _, _ := newTestProcessor(t, selector.ModeOne, 0, nil)

	err := p.PreProcess(context.Background(), RunPreview, Job{SourcePaths: []string{"source.png"}, TargetPath: clip})
	if !errors.Is(err, ErrTargetType) {
		t.Fatalf("error = %v, want %v", err, ErrTargetType)
	}
	if !strings.Contains(err.Error(), "extract its frames") {
		t.Errorf("error %q does not explain how to process a video", err)
	}
}

type countingReleaser struct{ n int }

func (r *countingReleaser) Release() error {
	r.n++
	return nil
}

func TestPostProcessMemoryStrategy(t *testing.T) {
	tests := []struct {
		strategy                   config.MemoryStrategy
		swap, analysis, maskModels int
	}{
		{config.MemoryStrict, 1, 1, 1},
		{config.MemoryModerate, 1, 0, 0},
		{config.MemoryTolerant, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			swapModel, analysis, maskModel := &countingReleaser{}, &countingReleaser{}, &countingReleaser{}
			p, _, _ := newTestProcessor(t, selector.ModeReference, 0, nil)
			p.opts.Memory = tt.strategy
			p.resources = Resources{
				Swap:     []Releaser{swapModel},
				Analysis: []Releaser{analysis},
				Masks:    []Releaser{maskModel},
			}
			p.References().Set(identityFace(0, 0))
			if _, err := p.LoadSource(context.Background(), []string{"source.png"}); err != nil {
				t.Fatal(err)
			}

			if err := p.PostProcess(); err != nil {
				t.Fatal(err)
			}
			if swapModel.n != tt.swap || analysis.n != tt.analysis || maskModel.n != tt.maskModels {
				t.Errorf("released swap=%d analysis=%d masks=%d", swapModel.n, analysis.n, maskModel.n)
			}
			if !p.References().Empty() {
				t.Error("references survived post process")
			}
			if p.source != nil {
				t.Error("cached source survived post process")
			}
		})
	}
}

// invertModel is an inference runner that inverts the target crop
type invertModel struct {
	path string
}

func (m *invertModel) InputNames(ctx context.Context) ([]string, error) {
	return []string{"target", "source"}, nil
}

func (m *invertModel) Run(ctx context.Context, inputs map[string]inference.Tensor) ([]inference.Tensor, error) {
	target := inputs["target"]
	out := inference.Tensor{Shape: target.Shape, Data: make([]float32, len(target.Data))}
	for i, v := range target.Data {
		out.Data[i] = 1 - v
	}
	return []inference.Tensor{out}, nil
}

func (m *invertModel) Path() string {
	return m.path
}

// writeIdentityInitializer stores an ONNX graph whose only initializer is an
// n x n identity matrix
func writeIdentityInitializer(t *testing.T, path string, n int) {
	t.Helper()
	raw := make([]byte, 4*n*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(raw[4*(i*n+i):], math.Float32bits(1))
	}

	var dims []byte
	dims = protowire.AppendVarint(dims, uint64(n))
	dims = protowire.AppendVarint(dims, uint64(n))

	var tensor []byte
	tensor = protowire.AppendTag(tensor, 1, protowire.BytesType)
	tensor = protowire.AppendBytes(tensor, dims)
	tensor = protowire.AppendTag(tensor, 2, protowire.VarintType)
	tensor = protowire.AppendVarint(tensor, 1)
	tensor = protowire.AppendTag(tensor, 9, protowire.BytesType)
	tensor = protowire.AppendBytes(tensor, raw)

	var graph []byte
	graph = protowire.AppendTag(graph, 5, protowire.BytesType)
	graph = protowire.AppendBytes(graph, tensor)

	var model []byte
	model = protowire.AppendTag(model, 7, protowire.BytesType)
	model = protowire.AppendBytes(model, graph)

	if err := os.WriteFile(path, model, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestInswapperOneFaceScenario(t *testing.T) {
	spec, err := models.Resolve("inswapper_128", nil)
	if err != nil {
		t.Fatal(err)
	}
	weights := filepath.Join(t.TempDir(), spec.File)
	writeIdentityInitializer(t, weights, 4)

	s, err := swapper.New(swapper.Config{
		Spec:    spec,
		Model:   &invertModel{path: weights},
		Options: swapper.Options{MaskTypes: []masker.Type{masker.TypeBox}, MaskBlur: 0.3},
	})
	if err != nil {
		t.Fatal(err)
	}

	embedding := []float32{3, 0, 4, 0}
	face := detector.Face{
		BoundingBox: detector.BoundingBox{X1: 80, Y1: 80, X2: 176, Y2: 200},
		Score:       0.9,
		Landmarks: map[string]warp.Landmark5{detector.Scheme5: {
			{X: 100, Y: 110}, {X: 156, Y: 110}, {X: 128, Y: 140}, {X: 106, Y: 170}, {X: 150, Y: 170},
		}},
		Embedding:       embedding,
		NormedEmbedding: detector.Normalize(embedding),
	}

	target := vision.NewFrame(256, 256)
	for i := range target.Pix {
		target.Pix[i] = 40
	}
	source := markedFrame(sourceMarker)

	det := &fakeDetector{faces: map[uint8][]detector.Face{sourceMarker: {face}, 40: {face}}}
	store := newMemStore()
	store.frames["source.png"] = source
	store.frames["target.png"] = target

	p, err := New(Config{
		Detector: det,
		Selector: selector.New(selector.OrderLargeSmall, 0.5),
		Swapper:  s,
		Store:    store,
		Options:  Options{Mode: selector.ModeOne, Workers: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := p.ProcessImage(context.Background(), []string{"source.png"}, "target.png", "output.png"); err != nil {
		t.Fatal(err)
	}
	out, err := store.ReadFrame("output.png")
	if err != nil {
		t.Fatal(err)
	}

	if out.Size() != target.Size() {
		t.Fatalf("output %s, want %s", out.Size(), target.Size())
	}
	for _, pt := range [][2]int{{0, 0}, {255, 0}, {0, 255}, {255, 255}, {10, 128}} {
		if o := out.Offset(pt[0], pt[1]); out.Pix[o] != 40 {
			t.Errorf("pixel %v outside the face changed to %d", pt, out.Pix[o])
		}
	}
	// Inverted 40 is 215; the nose sits well inside the feathered box
	if o := out.Offset(128, 140); out.Pix[o] < 150 {
		t.Errorf("nose pixel = %d, swap did not take effect", out.Pix[o])
	}
}
