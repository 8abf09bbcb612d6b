package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/dudu/faceswap/internal/execution"
	"github.com/dudu/faceswap/internal/masker"
	"github.com/dudu/faceswap/internal/models"
	"github.com/dudu/faceswap/internal/selector"
	"github.com/dudu/faceswap/internal/swapper"
	"github.com/dudu/faceswap/internal/vision"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalid marks configuration errors, which abort before any frame is processed
var ErrInvalid = errors.New("invalid configuration")

// MemoryStrategy controls which models are released after a run
type MemoryStrategy string

const (
	// MemoryStrict releases every model after a run
	MemoryStrict MemoryStrategy = "strict"
	// MemoryModerate releases only the swap model
	MemoryModerate MemoryStrategy = "moderate"
	// MemoryTolerant keeps every model loaded
	MemoryTolerant MemoryStrategy = "tolerant"
)

// Config is the full run configuration, built from defaults.yaml, an
// optional file and FACESWAP_* environment variables.
type Config struct {
	Models    ModelsConfig    `yaml:"models"`
	Swapper   SwapperConfig   `yaml:"swapper"`
	Selector  SelectorConfig  `yaml:"selector"`
	Mask      MaskConfig      `yaml:"mask"`
	Detector  DetectorConfig  `yaml:"detector"`
	Execution ExecutionConfig `yaml:"execution"`
	Log       LogConfig       `yaml:"log"`
}

// ModelsConfig locates model weights and the onnxruntime library
type ModelsConfig struct {
	Dir        string `yaml:"dir"`
	Detector   string `yaml:"detector"`
	Landmarker string `yaml:"landmarker"`
	Occluder   string `yaml:"occluder"`
	Parser     string `yaml:"parser"`
	ORTLibrary string `yaml:"ort_library"` // onnxruntime shared library, empty for the platform default
}

// SwapperConfig picks the swap model and its alignment resolution
type SwapperConfig struct {
	Model              string  `yaml:"model"`
	PixelBoost         string  `yaml:"pixel_boost"` // e.g. 512x512
	ExpressionStrength float64 `yaml:"expression_strength"`
}

// SelectorConfig controls which target faces are swapped
type SelectorConfig struct {
	Mode              string  `yaml:"mode"`
	Order             string  `yaml:"order"`
	MinScore          float32 `yaml:"min_score"`
	ReferenceDistance float32 `yaml:"reference_distance"`
	ReferenceFrame    int     `yaml:"reference_frame"`
	ReferencePosition int     `yaml:"reference_position"`
}

// MaskConfig selects and tunes the blend masks
type MaskConfig struct {
	Types   []string  `yaml:"types"`
	Blur    float64   `yaml:"blur"`
	Padding []float64 `yaml:"padding"` // top, right, bottom, left in percent
	Regions []string  `yaml:"regions"`
}

// DetectorConfig tunes face detection
type DetectorConfig struct {
	Size            int     `yaml:"size"`
	Score           float32 `yaml:"score"`
	RefineLandmarks bool    `yaml:"refine_landmarks"`
}

// ExecutionConfig sets inference backends and parallelism
type ExecutionConfig struct {
	Providers         []string `yaml:"providers"`
	DeviceID          string   `yaml:"device_id"`
	Workers           int      `yaml:"workers"`
	MaxConcurrentRuns int      `yaml:"max_concurrent_runs"`
	MemoryStrategy    string   `yaml:"memory_strategy"`
}

// LogConfig sets the log level
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// Embedded file, cannot fail at runtime
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

// Load reads the defaults, overlays the YAML file at path (if any) and then
// FACESWAP_* environment variables. It does not validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString("FACESWAP_MODELS_DIR", &c.Models.Dir)
	envString("FACESWAP_ORT_LIBRARY", &c.Models.ORTLibrary)
	envString("FACESWAP_SWAPPER_MODEL", &c.Swapper.Model)
	envString("FACESWAP_PIXEL_BOOST", &c.Swapper.PixelBoost)
	envString("FACESWAP_SELECTOR_MODE", &c.Selector.Mode)
	envList("FACESWAP_MASK_TYPES", &c.Mask.Types)
	envList("FACESWAP_PROVIDERS", &c.Execution.Providers)
	envString("FACESWAP_DEVICE_ID", &c.Execution.DeviceID)
	c.Execution.Workers = envInt("FACESWAP_WORKERS", c.Execution.Workers)
	c.Execution.MaxConcurrentRuns = envInt("FACESWAP_MAX_CONCURRENT_RUNS", c.Execution.MaxConcurrentRuns)
	envString("FACESWAP_MEMORY_STRATEGY", &c.Execution.MemoryStrategy)
	envString("FACESWAP_LOG_LEVEL", &c.Log.Level)
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envString(key string, dst *string) {
	if s := os.Getenv(key); s != "" {
		*dst = s
	}
}

// envList splits a comma separated variable
func envList(key string, dst *[]string) {
	s := os.Getenv(key)
	if s == "" {
		return
	}
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

// Validate reports every configuration error at once, each wrapping ErrInvalid
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
		}
	}

	if c.Models.Dir == "" {
		add(errors.New("models dir is required"))
	}

	providers, err := execution.Parse(c.Execution.Providers)
	add(err)

	spec, err := models.Resolve(c.Swapper.Model, providers)
	add(err)
	if err == nil {
		_, err = c.PixelBoost(spec)
		add(err)
	}

	if s := c.Swapper.ExpressionStrength; s < 0 || s > 100 {
		add(fmt.Errorf("expression strength %v outside [0, 100]", s))
	}

	_, err = selector.ParseMode(c.Selector.Mode)
	add(err)
	_, err = selector.ParseOrder(c.Selector.Order)
	add(err)
	if d := c.Selector.ReferenceDistance; d < 0 || d > 2 {
		add(fmt.Errorf("reference distance %v outside [0, 2]", d))
	}
	if c.Selector.ReferenceFrame < 0 || c.Selector.ReferencePosition < 0 {
		add(errors.New("reference frame and position must not be negative"))
	}

	_, err = masker.ParseTypes(c.Mask.Types)
	add(err)
	_, err = masker.ParseRegions(c.Mask.Regions)
	add(err)
	if c.Mask.Blur < 0 || c.Mask.Blur > 1 {
		add(fmt.Errorf("mask blur %v outside [0, 1]", c.Mask.Blur))
	}
	_, err = c.MaskPadding()
	add(err)

	if c.Detector.Size <= 0 || c.Detector.Size%32 != 0 {
		add(fmt.Errorf("detector size %d must be a positive multiple of 32", c.Detector.Size))
	}
	if c.Detector.Score < 0 || c.Detector.Score > 1 {
		add(fmt.Errorf("detector score %v outside [0, 1]", c.Detector.Score))
	}

	if c.Execution.Workers <= 0 {
		add(fmt.Errorf("workers must be positive, got %d", c.Execution.Workers))
	}
	if c.Execution.MaxConcurrentRuns < 0 {
		add(fmt.Errorf("max concurrent runs must not be negative, got %d", c.Execution.MaxConcurrentRuns))
	}
	_, err = c.Memory()
	add(err)

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add(fmt.Errorf("unknown log level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// PixelBoost parses the boosted resolution and checks it against the model
func (c *Config) PixelBoost(spec models.Spec) (vision.Size, error) {
	if c.Swapper.PixelBoost == "" {
		return spec.Size, nil
	}
	size, err := vision.ParseSize(c.Swapper.PixelBoost)
	if err != nil {
		return vision.Size{}, err
	}
	if _, err := swapper.NewBoostPlan(size, spec.Size); err != nil {
		return vision.Size{}, err
	}
	return size, nil
}

// MaskPadding converts the padding list. One value applies to every edge,
// two are (vertical, horizontal) and three are (top, horizontal, bottom).
func (c *Config) MaskPadding() (masker.Padding, error) {
	p := c.Mask.Padding
	switch len(p) {
	case 0:
		return masker.Padding{}, nil
	case 1:
		p = []float64{p[0], p[0], p[0], p[0]}
	case 2:
		p = []float64{p[0], p[1], p[0], p[1]}
	case 3:
		p = []float64{p[0], p[1], p[2], p[1]}
	case 4:
	default:
		return masker.Padding{}, fmt.Errorf("mask padding needs 1 to 4 values, got %d", len(p))
	}
	for _, v := range p {
		if v < 0 || v > 100 {
			return masker.Padding{}, fmt.Errorf("mask padding %v outside [0, 100]", v)
		}
	}
	return masker.Padding{Top: p[0], Right: p[1], Bottom: p[2], Left: p[3]}, nil
}

// Memory parses the memory strategy
func (c *Config) Memory() (MemoryStrategy, error) {
	switch s := MemoryStrategy(strings.ToLower(c.Execution.MemoryStrategy)); s {
	case MemoryStrict, MemoryModerate, MemoryTolerant:
		return s, nil
	}
	return "", fmt.Errorf("unknown memory strategy %q", c.Execution.MemoryStrategy)
}
