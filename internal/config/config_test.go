package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Detection.WindowMs != 60000 {
		t.Fatalf("expected default window 60000, got %d", cfg.Detection.WindowMs)
	}
	if cfg.Detection.RequestThreshold != 100 {
		t.Fatalf("expected default threshold 100, got %d", cfg.Detection.RequestThreshold)
	}
	if cfg.Detection.AutoBlockDurationMs != 900000 {
		t.Fatalf("expected default block duration 900000, got %d", cfg.Detection.AutoBlockDurationMs)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("detection:\n  windowMs: 30000\n  requestThreshold: 50\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DETECTION_REQUEST_THRESHOLD", "200")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Detection.WindowMs != 30000 {
		t.Fatalf("expected file window 30000, got %d", cfg.Detection.WindowMs)
	}
	if cfg.Detection.RequestThreshold != 200 {
		t.Fatalf("expected env override 200, got %d", cfg.Detection.RequestThreshold)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Detection.WindowMs = 0 },
		func(c *Config) { c.Detection.RequestThreshold = -1 },
		func(c *Config) { c.Detection.AutoBlockDurationMs = 0 },
		func(c *Config) { c.Detection.SuspiciousPatternThreshold = 1.5 },
		func(c *Config) { c.Detection.AnalysisWorkers = 0 },
		func(c *Config) { c.Server.Address = "" },
	}

	for i, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
