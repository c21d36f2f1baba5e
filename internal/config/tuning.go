package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// HapticDurationLimitUs bounds haptic_max_duration_us: a 10 s pulse.
const HapticDurationLimitUs = 10_000_000

// TuningConfig holds the engine's tunable parameters. Every field is
// optional; the Get* accessors supply the built-in default for fields
// that are absent from the loaded JSON.
type TuningConfig struct {
	// Prediction params
	ConfidenceHigh      *float64 `json:"confidence_high,omitempty"`
	ConfidenceLow       *float64 `json:"confidence_low,omitempty"`
	MaxPredictionMs     *float64 `json:"max_prediction_ms,omitempty"`
	VelocityStalenessMs *float64 `json:"velocity_staleness_ms,omitempty"`

	// Sensor frame -> host frame change of basis.
	BasisRotation    []float64 `json:"basis_rotation,omitempty"`    // quaternion w,x,y,z
	BasisTranslation []float64 `json:"basis_translation,omitempty"` // metres

	// Input params
	HapticMaxDurationUs *int `json:"haptic_max_duration_us,omitempty"`
	HapticQueueDepth    *int `json:"haptic_queue_depth,omitempty"`
	InputQueueDepth     *int `json:"input_queue_depth,omitempty"`

	// Frame params
	FrameBudgetUs *int `json:"frame_budget_us,omitempty"`
	MaxDevices    *int `json:"max_devices,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	empty := EmptyTuningConfig()
	rot := empty.GetBasisRotation()
	tr := empty.GetBasisTranslation()
	return &TuningConfig{
		ConfidenceHigh:      ptrFloat64(empty.GetConfidenceHigh()),
		ConfidenceLow:       ptrFloat64(empty.GetConfidenceLow()),
		MaxPredictionMs:     ptrFloat64(empty.GetMaxPredictionMs()),
		VelocityStalenessMs: ptrFloat64(empty.GetVelocityStalenessMs()),
		BasisRotation:       rot[:],
		BasisTranslation:    tr[:],
		HapticMaxDurationUs: ptrInt(empty.GetHapticMaxDurationUs()),
		HapticQueueDepth:    ptrInt(empty.GetHapticQueueDepth()),
		InputQueueDepth:     ptrInt(empty.GetInputQueueDepth()),
		FrameBudgetUs:       ptrInt(empty.GetFrameBudgetUs()),
		MaxDevices:          ptrInt(empty.GetMaxDevices()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ConfidenceHigh != nil && !inUnit(*c.ConfidenceHigh) {
		return fmt.Errorf("confidence_high must be between 0 and 1, got %f", *c.ConfidenceHigh)
	}
	if c.ConfidenceLow != nil && !inUnit(*c.ConfidenceLow) {
		return fmt.Errorf("confidence_low must be between 0 and 1, got %f", *c.ConfidenceLow)
	}
	if c.GetConfidenceLow() > c.GetConfidenceHigh() {
		return fmt.Errorf("confidence_low (%f) must not exceed confidence_high (%f)",
			c.GetConfidenceLow(), c.GetConfidenceHigh())
	}

	if c.MaxPredictionMs != nil && !(*c.MaxPredictionMs >= 0) {
		return fmt.Errorf("max_prediction_ms must be non-negative, got %f", *c.MaxPredictionMs)
	}
	if c.VelocityStalenessMs != nil && !(*c.VelocityStalenessMs > 0) {
		return fmt.Errorf("velocity_staleness_ms must be positive, got %f", *c.VelocityStalenessMs)
	}

	if c.BasisRotation != nil {
		if len(c.BasisRotation) != 4 {
			return fmt.Errorf("basis_rotation must have 4 components (w,x,y,z), got %d", len(c.BasisRotation))
		}
		var n float64
		for _, v := range c.BasisRotation {
			n += v * v
		}
		if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			return fmt.Errorf("basis_rotation must be a non-zero finite quaternion")
		}
	}
	if c.BasisTranslation != nil && len(c.BasisTranslation) != 3 {
		return fmt.Errorf("basis_translation must have 3 components, got %d", len(c.BasisTranslation))
	}

	if c.HapticMaxDurationUs != nil && (*c.HapticMaxDurationUs <= 0 || *c.HapticMaxDurationUs > HapticDurationLimitUs) {
		return fmt.Errorf("haptic_max_duration_us must be in (0, %d], got %d", HapticDurationLimitUs, *c.HapticMaxDurationUs)
	}
	if c.HapticQueueDepth != nil && *c.HapticQueueDepth <= 0 {
		return fmt.Errorf("haptic_queue_depth must be positive, got %d", *c.HapticQueueDepth)
	}
	if c.InputQueueDepth != nil && *c.InputQueueDepth <= 0 {
		return fmt.Errorf("input_queue_depth must be positive, got %d", *c.InputQueueDepth)
	}
	if c.FrameBudgetUs != nil && *c.FrameBudgetUs <= 0 {
		return fmt.Errorf("frame_budget_us must be positive, got %d", *c.FrameBudgetUs)
	}
	if c.MaxDevices != nil && *c.MaxDevices <= 0 {
		return fmt.Errorf("max_devices must be positive, got %d", *c.MaxDevices)
	}

	return nil
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 }

// GetConfidenceHigh returns the confidence at or above which second-order
// extrapolation is used.
func (c *TuningConfig) GetConfidenceHigh() float64 {
	if c.ConfidenceHigh == nil {
		return 0.8 // default
	}
	return *c.ConfidenceHigh
}

// GetConfidenceLow returns the confidence below which prediction falls
// back to zero-order hold.
func (c *TuningConfig) GetConfidenceLow() float64 {
	if c.ConfidenceLow == nil {
		return 0.3 // default
	}
	return *c.ConfidenceLow
}

// GetMaxPredictionMs returns the extrapolation clamp magnitude in milliseconds.
func (c *TuningConfig) GetMaxPredictionMs() float64 {
	if c.MaxPredictionMs == nil {
		return 100 // default
	}
	return *c.MaxPredictionMs
}

// GetVelocityStalenessMs returns the sample age beyond which velocity data
// is treated as stale.
func (c *TuningConfig) GetVelocityStalenessMs() float64 {
	if c.VelocityStalenessMs == nil {
		return 50 // default
	}
	return *c.VelocityStalenessMs
}

// GetBasisRotation returns the sensor->host rotation as w,x,y,z.
func (c *TuningConfig) GetBasisRotation() [4]float64 {
	if len(c.BasisRotation) != 4 {
		return [4]float64{1, 0, 0, 0} // identity
	}
	return [4]float64{c.BasisRotation[0], c.BasisRotation[1], c.BasisRotation[2], c.BasisRotation[3]}
}

// GetBasisTranslation returns the sensor->host translation in metres.
func (c *TuningConfig) GetBasisTranslation() [3]float64 {
	if len(c.BasisTranslation) != 3 {
		return [3]float64{}
	}
	return [3]float64{c.BasisTranslation[0], c.BasisTranslation[1], c.BasisTranslation[2]}
}

func (c *TuningConfig) GetHapticMaxDurationUs() int {
	if c.HapticMaxDurationUs == nil {
		return 500000 // default
	}
	return *c.HapticMaxDurationUs
}

func (c *TuningConfig) GetHapticQueueDepth() int {
	if c.HapticQueueDepth == nil {
		return 64 // default
	}
	return *c.HapticQueueDepth
}

func (c *TuningConfig) GetInputQueueDepth() int {
	if c.InputQueueDepth == nil {
		return 256 // default
	}
	return *c.InputQueueDepth
}

// GetFrameBudgetUs returns the per-frame time budget in microseconds.
func (c *TuningConfig) GetFrameBudgetUs() int {
	if c.FrameBudgetUs == nil {
		return 1000 // default
	}
	return *c.FrameBudgetUs
}

func (c *TuningConfig) GetMaxDevices() int {
	if c.MaxDevices == nil {
		return 64 // default
	}
	return *c.MaxDevices
}
