package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/timo-math/adaptive-backend/internal/adaptive"
)

func TestLoadEngineParams_Defaults(t *testing.T) {
	got, err := LoadEngineParams("")
	if err != nil {
		t.Fatalf("LoadEngineParams(\"\") error: %v", err)
	}
	if got != adaptive.DefaultParams() {
		t.Errorf("empty path did not return defaults: %+v", got)
	}
}

func TestLoadEngineParams_PartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	yamlDoc := `
weights:
  elo: 0.6
  irt: 0.2
  bkt: 0.2
thresholds:
  mastery: 0.9
elo:
  k_factor: 24
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadEngineParams(path)
	if err != nil {
		t.Fatalf("LoadEngineParams error: %v", err)
	}

	if got.Weights.Elo != 0.6 || got.Weights.IRT != 0.2 {
		t.Errorf("weights not overridden: %+v", got.Weights)
	}
	if got.Thresholds.Mastery != 0.9 {
		t.Errorf("mastery = %v, want 0.9", got.Thresholds.Mastery)
	}
	if got.Elo.KFactor != 24 {
		t.Errorf("k factor = %v, want 24", got.Elo.KFactor)
	}
	// Untouched keys keep defaults.
	def := adaptive.DefaultParams()
	if got.Elo.TimeLimitSeconds != def.Elo.TimeLimitSeconds {
		t.Errorf("time limit = %v, want default %v", got.Elo.TimeLimitSeconds, def.Elo.TimeLimitSeconds)
	}
	if got.Thresholds.WeakArea != def.Thresholds.WeakArea || got.BKT != def.BKT {
		t.Errorf("unspecified sections changed: %+v", got)
	}
}

func TestParseEngineParams_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad yaml", "weights: [1, 2"},
		{"probability out of range", "bkt:\n  p_slip: 1.5\n"},
		{"zero weights", "weights:\n  elo: 0\n  irt: 0\n  bkt: 0\n"},
		{"weak above recovered", "thresholds:\n  weak_area: 0.9\n  recovered: 0.8\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := adaptive.DefaultParams()
			if err := ParseEngineParams([]byte(tt.doc), &params); err == nil {
				t.Errorf("ParseEngineParams(%q) accepted", tt.doc)
			}
		})
	}
}

func TestLoadEngineParams_MissingFile(t *testing.T) {
	if _, err := LoadEngineParams(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestGetDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 5 * time.Second},
		{"90s", 90 * time.Second},
		{"2m", 2 * time.Minute},
		{"45", 45 * time.Second},
		{"soon", 5 * time.Second},
	}
	for _, tt := range tests {
		t.Setenv("TEST_DURATION", tt.value)
		if got := getDuration("TEST_DURATION", 5*time.Second); got != tt.want {
			t.Errorf("getDuration(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_NAME", "adaptive_test")
	t.Setenv("PREDICTOR_MODE", "mock")
	t.Setenv("ENGINE_CONFIG_PATH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Port != "9090" || cfg.DB.Name != "adaptive_test" || cfg.Predictor.Mode != "mock" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.DB.DSN() == "" {
		t.Error("empty DSN")
	}
}
