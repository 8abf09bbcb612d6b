package execution

import (
	"fmt"
	"slices"
	"strings"
)

// Provider names an ONNX Runtime execution provider
type Provider string

const (
	ProviderCPU      Provider = "cpu"
	ProviderCUDA     Provider = "cuda"
	ProviderTensorRT Provider = "tensorrt"
	ProviderCoreML   Provider = "coreml"
	ProviderOpenVINO Provider = "openvino"
	ProviderDirectML Provider = "directml"
	ProviderROCm     Provider = "rocm"
)

// Available lists every provider name accepted in configuration
var Available = []Provider{
	ProviderCPU,
	ProviderCUDA,
	ProviderTensorRT,
	ProviderCoreML,
	ProviderOpenVINO,
	ProviderDirectML,
	ProviderROCm,
}

// Has reports whether p is among providers
func Has(providers []Provider, p Provider) bool {
	return slices.Contains(providers, p)
}

// Parse converts configuration strings into providers, rejecting unknown names.
// An empty list resolves to CPU.
func Parse(names []string) ([]Provider, error) {
	if len(names) == 0 {
		return []Provider{ProviderCPU}, nil
	}

	providers := make([]Provider, 0, len(names))
	for _, name := range names {
		p := Provider(strings.ToLower(strings.TrimSpace(name)))
		if !slices.Contains(Available, p) {
			return nil, fmt.Errorf("unknown execution provider %q", name)
		}
		if !slices.Contains(providers, p) {
			providers = append(providers, p)
		}
	}
	return providers, nil
}

// Serialized reports whether native calls must be run one at a time.
// The CPU-only backend and the DirectML/ROCm backends are not safe to oversubscribe.
func Serialized(providers []Provider) bool {
	if Has(providers, ProviderDirectML) || Has(providers, ProviderROCm) {
		return true
	}
	for _, p := range providers {
		if p != ProviderCPU {
			return false
		}
	}
	return true
}
