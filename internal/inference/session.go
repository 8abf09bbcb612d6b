package inference

import (
	"fmt"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/faceswap/internal/execution"
)

var (
	initialized bool
	initMu      sync.Mutex
)

// Initialize sets up the ONNX Runtime environment (call once at startup).
// libraryPath may be empty to use the platform default.
func Initialize(libraryPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return nil
	}

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	initialized = true
	return nil
}

// Shutdown cleans up the ONNX Runtime environment
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized {
		return nil
	}

	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}

	initialized = false
	return nil
}

// Tensor is a dense float32 tensor
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor allocates a zeroed tensor of the given shape
func NewTensor(shape ...int64) Tensor {
	size := int64(1)
	for _, dim := range shape {
		size *= dim
	}
	return Tensor{Shape: shape, Data: make([]float32, size)}
}

// SessionOptions selects where a session runs
type SessionOptions struct {
	Providers      []execution.Provider
	DeviceID       string
	IntraOpThreads int
}

// Session wraps an ONNX Runtime inference session
type Session struct {
	session     *ort.DynamicAdvancedSession
	modelPath   string
	inputNames  []string
	outputNames []string
}

// NewSession creates an inference session, appending the configured execution
// providers in order. CPU is always available as the last resort inside
// onnxruntime; a provider that fails to register is an error.
func NewSession(modelPath string, opts SessionOptions) (*Session, error) {
	initMu.Lock()
	ready := initialized
	initMu.Unlock()
	if !ready {
		return nil, fmt.Errorf("ONNX Runtime not initialized, call Initialize() first")
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model info for %s: %w", modelPath, err)
	}
	inputNames := make([]string, len(inputs))
	for i, info := range inputs {
		inputNames[i] = info.Name
	}
	outputNames := make([]string, len(outputs))
	for i, info := range outputs {
		outputNames[i] = info.Name
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if opts.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	for _, p := range opts.Providers {
		if err := appendProvider(options, p, opts.DeviceID); err != nil {
			return nil, fmt.Errorf("failed to enable %s for %s: %w", p, modelPath, err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		inputNames,
		outputNames,
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}

	return &Session{
		session:     session,
		modelPath:   modelPath,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

func appendProvider(options *ort.SessionOptions, p execution.Provider, deviceID string) error {
	switch p {
	case execution.ProviderCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": deviceID}); err != nil {
			return err
		}
		return options.AppendExecutionProviderCUDA(cuda)
	case execution.ProviderTensorRT:
		trt, err := ort.NewTensorRTProviderOptions()
		if err != nil {
			return err
		}
		defer trt.Destroy()
		if err := trt.Update(map[string]string{"device_id": deviceID}); err != nil {
			return err
		}
		return options.AppendExecutionProviderTensorRT(trt)
	case execution.ProviderCoreML:
		// Flag 0 = default settings, use Neural Engine + GPU
		return options.AppendExecutionProviderCoreML(0)
	case execution.ProviderOpenVINO:
		return options.AppendExecutionProviderOpenVINO(map[string]string{"device_type": "CPU"})
	case execution.ProviderDirectML:
		id, err := strconv.Atoi(deviceID)
		if err != nil {
			return fmt.Errorf("invalid device id %q: %w", deviceID, err)
		}
		return options.AppendExecutionProviderDirectML(id)
	}
	// CPU is always available; ROCm has no binding and runs on the CPU provider
	return nil
}

// InputNames returns the model input names in declaration order
func (s *Session) InputNames() []string {
	return s.inputNames
}

// Run executes inference. Inputs are matched by name; outputs are returned in
// model order.
func (s *Session) Run(inputs map[string]Tensor) ([]Tensor, error) {
	values := make([]ort.Value, len(s.inputNames))
	for i, name := range s.inputNames {
		in, ok := inputs[name]
		if !ok {
			destroyValues(values)
			return nil, fmt.Errorf("missing input %q for %s", name, s.modelPath)
		}
		t, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
		if err != nil {
			destroyValues(values)
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		values[i] = t
	}
	defer destroyValues(values)

	// nil outputs are allocated by onnxruntime
	outputs := make([]ort.Value, len(s.outputNames))
	if err := s.session.Run(values, outputs); err != nil {
		destroyValues(outputs)
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer destroyValues(outputs)

	results := make([]Tensor, len(outputs))
	for i, v := range outputs {
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %q is not a float32 tensor", s.outputNames[i])
		}
		data := t.GetData()
		copied := make([]float32, len(data))
		copy(copied, data)
		results[i] = Tensor{Shape: []int64(t.GetShape()), Data: copied}
	}
	return results, nil
}

// Destroy releases session resources
func (s *Session) Destroy() error {
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}

func destroyValues(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
