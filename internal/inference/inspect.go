package inference

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// TensorInfo describes one model input or output
type TensorInfo struct {
	Name       string
	Dimensions []int64
	DataType   string
}

// ModelInfo summarises an ONNX file
type ModelInfo struct {
	Inputs      []TensorInfo
	Outputs     []TensorInfo
	Producer    string
	Version     int64
	Domain      string
	Description string
}

// Inspect reads input/output signatures and metadata without creating a session
func Inspect(modelPath string) (*ModelInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model info: %w", err)
	}

	info := &ModelInfo{
		Inputs:  toTensorInfo(inputs),
		Outputs: toTensorInfo(outputs),
	}

	metadata, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		return info, nil
	}
	defer metadata.Destroy()

	if producer, err := metadata.GetProducerName(); err == nil {
		info.Producer = producer
	}
	if version, err := metadata.GetVersion(); err == nil {
		info.Version = version
	}
	if domain, err := metadata.GetDomain(); err == nil {
		info.Domain = domain
	}
	if desc, err := metadata.GetDescription(); err == nil {
		info.Description = desc
	}
	return info, nil
}

func toTensorInfo(infos []ort.InputOutputInfo) []TensorInfo {
	result := make([]TensorInfo, len(infos))
	for i, info := range infos {
		result[i] = TensorInfo{
			Name:       info.Name,
			Dimensions: []int64(info.Dimensions),
			DataType:   fmt.Sprint(info.DataType),
		}
	}
	return result
}
