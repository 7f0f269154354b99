package losses

import (
	"encoding/json"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.HeatmapSize != 112 {
		t.Errorf("expected heatmap size 112, got %d", cfg.HeatmapSize)
	}
	if cfg.NumChannels != 25 {
		t.Errorf("expected 25 channels, got %d", cfg.NumChannels)
	}
	if cfg.PseudoLossType != PseudoLossSCE {
		t.Errorf("expected sce pseudo loss, got %s", cfg.PseudoLossType)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Zero heatmap size", func(c *Config) { c.HeatmapSize = 0 }},
		{"Single channel", func(c *Config) { c.NumChannels = 1 }},
		{"Single coarse channel", func(c *Config) { c.NumCoarseChannels = 1 }},
		{"Negative point weight", func(c *Config) { c.PointWeight = -1 }},
		{"Negative part weight", func(c *Config) { c.PartWeight = -0.5 }},
		{"Negative segm weight", func(c *Config) { c.SegmWeight = -2 }},
		{"Negative pseudo segm weight", func(c *Config) { c.PseudoSegmWeight = -1 }},
		{"Negative pseudo points weight", func(c *Config) { c.PseudoPointsWeight = -1 }},
		{"Negative correction points weight", func(c *Config) { c.CorrectionPointsWeight = -1 }},
		{"Negative correction segm weight", func(c *Config) { c.CorrectionSegmWeight = -1 }},
		{"Threshold below zero", func(c *Config) { c.PseudoThreshold = -0.1 }},
		{"Threshold above one", func(c *Config) { c.PseudoThreshold = 1.1 }},
		{"Unknown pseudo loss type", func(c *Config) { c.PseudoLossType = PseudoLossType(9) }},
		{"Zero uv channels", func(c *Config) { c.UVLossChannels = 0 }},
		{"More uv channels than channels", func(c *Config) { c.UVLossChannels = 26 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestParsePseudoLossType(t *testing.T) {
	if v, err := ParsePseudoLossType("ce"); err != nil || v != PseudoLossCE {
		t.Errorf("parsing ce: got %v, %v", v, err)
	}
	if v, err := ParsePseudoLossType("sce"); err != nil || v != PseudoLossSCE {
		t.Errorf("parsing sce: got %v, %v", v, err)
	}
	if _, err := ParsePseudoLossType("mse"); err == nil {
		t.Error("expected an error for an unknown loss type")
	}
}

func TestConfigJSONRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PseudoLossType = PseudoLossCE
	cfg.PseudoThreshold = 0.42

	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var back Config
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back != cfg {
		t.Errorf("round trip changed the config: %+v vs %+v", back, cfg)
	}

	var bad Config
	if err := json.Unmarshal([]byte(`{"pseudo_loss_type":"mse"}`), &bad); err == nil {
		t.Error("expected an error for an unknown loss type in JSON")
	}
}
