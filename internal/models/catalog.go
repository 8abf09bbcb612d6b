package models

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/dudu/faceswap/internal/execution"
	"github.com/dudu/faceswap/internal/vision"
	"github.com/dudu/faceswap/internal/warp"
)

// ErrUnknownModel is returned when a model key is not in the catalog
var ErrUnknownModel = errors.New("unknown face swapper model")

const assetsURL = "https://github.com/facefusion/facefusion-assets/releases/download/models/"

// Spec describes one identity-swap model
type Spec struct {
	Key      string
	Family   Family
	Template warp.Template
	Size     vision.Size
	Mean     [3]float32
	StdDev   [3]float32
	URL      string
	File     string
	// FullPrecision names the float32 sibling of a half-precision model
	FullPrecision string
	// Recognizer names the embedding model whose output this swapper consumes
	Recognizer string
}

// WeightsPath returns the location of the model weights inside dir
func (s Spec) WeightsPath(dir string) string {
	return filepath.Join(dir, s.File)
}

// recognizerFiles maps recognizer names to their weight files. Most families
// share the insightface w600k ArcFace.
var recognizerFiles = map[string]string{
	"arcface_blendswap": "arcface_w600k_r50.onnx",
	"arcface_ghost":     "arcface_ghost.onnx",
	"arcface_inswapper": "arcface_w600k_r50.onnx",
	"arcface_simswap":   "arcface_simswap.onnx",
	"arcface_uniface":   "arcface_w600k_r50.onnx",
}

// RecognizerPath returns the location of the embedding model this swapper
// expects identities from
func (s Spec) RecognizerPath(dir string) string {
	return filepath.Join(dir, recognizerFiles[s.Recognizer])
}

var (
	identityMean = [3]float32{0, 0, 0}
	identityStd  = [3]float32{1, 1, 1}
)

func entry(key string, family Family, template warp.Template, size int) Spec {
	return Spec{
		Key:        key,
		Family:     family,
		Template:   template,
		Size:       vision.Size{Width: size, Height: size},
		Mean:       identityMean,
		StdDev:     identityStd,
		URL:        assetsURL + key + ".onnx",
		File:       key + ".onnx",
		Recognizer: "arcface_" + family.String(),
	}
}

var catalog = func() map[string]Spec {
	specs := []Spec{
		entry("blendswap_256", FamilyBlendSwap, warp.TemplateFFHQ512, 256),
		entry("ghost_256_unet_1", FamilyGhost, warp.TemplateArcFace112V1, 256),
		entry("ghost_256_unet_2", FamilyGhost, warp.TemplateArcFace112V1, 256),
		entry("ghost_256_unet_3", FamilyGhost, warp.TemplateArcFace112V1, 256),
		entry("inswapper_128", FamilyInswapper, warp.TemplateArcFace128V2, 128),
		entry("inswapper_128_fp16", FamilyInswapper, warp.TemplateArcFace128V2, 128),
		entry("simswap_256", FamilySimSwap, warp.TemplateArcFace112V1, 256),
		entry("simswap_512_unofficial", FamilySimSwap, warp.TemplateArcFace112V1, 512),
		entry("uniface_256", FamilyUniface, warp.TemplateFFHQ512, 256),
	}

	m := make(map[string]Spec, len(specs))
	for _, s := range specs {
		switch s.Key {
		case "inswapper_128_fp16":
			s.FullPrecision = "inswapper_128"
		case "simswap_256":
			s.Mean = [3]float32{0.485, 0.456, 0.406}
			s.StdDev = [3]float32{0.229, 0.224, 0.225}
		}
		m[s.Key] = s
	}
	return m
}()

// Keys lists every model key in sorted order
func Keys() []string {
	keys := make([]string, 0, len(catalog))
	for k := range catalog {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Resolve returns the spec for key under the active execution providers.
// Half-precision models are replaced by their float32 sibling on CoreML and
// OpenVINO, which do not run them reliably.
func Resolve(key string, providers []execution.Provider) (Spec, error) {
	spec, ok := catalog[key]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownModel, key)
	}

	if spec.FullPrecision != "" &&
		(execution.Has(providers, execution.ProviderCoreML) || execution.Has(providers, execution.ProviderOpenVINO)) {
		return catalog[spec.FullPrecision], nil
	}
	return spec, nil
}
