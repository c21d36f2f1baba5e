package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	if cfg.ConfidenceHigh == nil || *cfg.ConfidenceHigh != 0.8 {
		t.Errorf("Expected ConfidenceHigh 0.8, got %v", cfg.ConfidenceHigh)
	}
	if cfg.ConfidenceLow == nil || *cfg.ConfidenceLow != 0.3 {
		t.Errorf("Expected ConfidenceLow 0.3, got %v", cfg.ConfidenceLow)
	}
	if cfg.MaxPredictionMs == nil || *cfg.MaxPredictionMs != 100 {
		t.Errorf("Expected MaxPredictionMs 100, got %v", cfg.MaxPredictionMs)
	}
	if len(cfg.BasisRotation) != 4 || cfg.BasisRotation[0] != 1 {
		t.Errorf("Expected identity basis rotation, got %v", cfg.BasisRotation)
	}

	if cfg.GetHapticMaxDurationUs() != 500000 {
		t.Errorf("GetHapticMaxDurationUs() = %d, want 500000", cfg.GetHapticMaxDurationUs())
	}
	if cfg.GetFrameBudgetUs() != 1000 {
		t.Errorf("GetFrameBudgetUs() = %d, want 1000", cfg.GetFrameBudgetUs())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEmptyTuningConfigGetters(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.GetVelocityStalenessMs(); got != 50 {
		t.Errorf("GetVelocityStalenessMs() = %f, want 50", got)
	}
	if got := cfg.GetBasisRotation(); got != [4]float64{1, 0, 0, 0} {
		t.Errorf("GetBasisRotation() = %v, want identity", got)
	}
	if got := cfg.GetBasisTranslation(); got != [3]float64{} {
		t.Errorf("GetBasisTranslation() = %v, want zero", got)
	}
	if got := cfg.GetHapticQueueDepth(); got != 64 {
		t.Errorf("GetHapticQueueDepth() = %d, want 64", got)
	}
	if got := cfg.GetInputQueueDepth(); got != 256 {
		t.Errorf("GetInputQueueDepth() = %d, want 256", got)
	}
	if got := cfg.GetMaxDevices(); got != 64 {
		t.Errorf("GetMaxDevices() = %d, want 64", got)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "confidence_high": 0.9,
  "confidence_low": 0.2,
  "max_prediction_ms": 50,
  "basis_rotation": [0.7071068, 0, 0.7071068, 0],
  "basis_translation": [0, 1.2, 0]
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetConfidenceHigh() != 0.9 {
		t.Errorf("Expected ConfidenceHigh 0.9, got %f", cfg.GetConfidenceHigh())
	}
	if cfg.GetConfidenceLow() != 0.2 {
		t.Errorf("Expected ConfidenceLow 0.2, got %f", cfg.GetConfidenceLow())
	}
	if cfg.GetMaxPredictionMs() != 50 {
		t.Errorf("Expected MaxPredictionMs 50, got %f", cfg.GetMaxPredictionMs())
	}
	if got := cfg.GetBasisTranslation(); got != [3]float64{0, 1.2, 0} {
		t.Errorf("Expected translation [0 1.2 0], got %v", got)
	}
	// Unset fields keep their defaults.
	if cfg.GetHapticMaxDurationUs() != 500000 {
		t.Errorf("Expected default HapticMaxDurationUs, got %d", cfg.GetHapticMaxDurationUs())
	}
}

func TestLoadTuningConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"wrong extension", write("cfg.yaml", "{}"), ".json extension"},
		{"missing file", filepath.Join(tmpDir, "nope.json"), "failed to stat"},
		{"bad json", write("bad.json", "{"), "failed to parse"},
		{"confidence out of range", write("conf.json", `{"confidence_high": 1.5}`), "confidence_high"},
		{"inverted thresholds", write("inv.json", `{"confidence_high": 0.2, "confidence_low": 0.5}`), "must not exceed"},
		{"short basis", write("basis.json", `{"basis_rotation": [1, 0, 0]}`), "4 components"},
		{"zero basis", write("zero.json", `{"basis_rotation": [0, 0, 0, 0]}`), "non-zero"},
		{"bad translation", write("tr.json", `{"basis_translation": [1]}`), "3 components"},
		{"negative clamp", write("clamp.json", `{"max_prediction_ms": -1}`), "max_prediction_ms"},
		{"zero haptic ceiling", write("hap.json", `{"haptic_max_duration_us": 0}`), "haptic_max_duration_us"},
		{"haptic ceiling past uint32", write("hapbig.json", `{"haptic_max_duration_us": 4294967297}`), "haptic_max_duration_us"},
		{"haptic ceiling over limit", write("hap11.json", `{"haptic_max_duration_us": 10000001}`), "haptic_max_duration_us"},
		{"zero budget", write("budget.json", `{"frame_budget_us": 0}`), "frame_budget_us"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTuningConfig(tt.path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTuningConfig_TooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.json")
	big := make([]byte, 1024*1024+1)
	for i := range big {
		big[i] = ' '
	}
	if err := os.WriteFile(p, big, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTuningConfig(p); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected too large error, got %v", err)
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetConfidenceHigh() != DefaultTuningConfig().GetConfidenceHigh() {
		t.Errorf("defaults file disagrees with built-in confidence_high: %f", cfg.GetConfidenceHigh())
	}
	if cfg.GetMaxPredictionMs() != DefaultTuningConfig().GetMaxPredictionMs() {
		t.Errorf("defaults file disagrees with built-in max_prediction_ms: %f", cfg.GetMaxPredictionMs())
	}
}
