package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures all settings required to boot the gate server. It is
// loaded once at startup and never mutated afterwards.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Detection DetectionConfig `yaml:"detection"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address        string   `yaml:"address"`
	TrustedProxies []string `yaml:"trustedProxies"`
}

// RedisConfig configures the shared sample/block store backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DetectionConfig holds the tuning knobs for the analyzers and the gate.
// Thresholds are deliberately named configuration, not inline literals.
type DetectionConfig struct {
	WindowMs                   int64   `yaml:"windowMs"`
	RequestThreshold           int     `yaml:"requestThreshold"`
	ConnectionThreshold        int     `yaml:"connectionThreshold"`
	SuspiciousPatternThreshold float64 `yaml:"suspiciousPatternThreshold"`
	AutoBlockDurationMs        int64   `yaml:"autoBlockDurationMs"`
	EnableTrafficAnalysis      bool    `yaml:"enableTrafficAnalysis"`
	EnableAnomalyDetection     bool    `yaml:"enableAnomalyDetection"`

	// AnalysisTimeoutMs bounds each post-response evaluation so a slow
	// store degrades to a dropped sample instead of a queue.
	AnalysisTimeoutMs int64 `yaml:"analysisTimeoutMs"`
	// AnalysisQueueSize bounds the number of samples waiting for analysis.
	AnalysisQueueSize int `yaml:"analysisQueueSize"`
	// AnalysisWorkers is the number of background evaluation goroutines.
	AnalysisWorkers int `yaml:"analysisWorkers"`
}

// Window returns the sliding window span as a duration.
func (d DetectionConfig) Window() time.Duration {
	return time.Duration(d.WindowMs) * time.Millisecond
}

// AutoBlockDuration returns the suspension span as a duration.
func (d DetectionConfig) AutoBlockDuration() time.Duration {
	return time.Duration(d.AutoBlockDurationMs) * time.Millisecond
}

// AnalysisTimeout returns the per-evaluation deadline as a duration.
func (d DetectionConfig) AnalysisTimeout() time.Duration {
	return time.Duration(d.AnalysisTimeoutMs) * time.Millisecond
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:        ":8888",
			TrustedProxies: []string{"127.0.0.1"},
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
		Detection: DetectionConfig{
			WindowMs:                   60000,
			RequestThreshold:           100,
			ConnectionThreshold:        50,
			SuspiciousPatternThreshold: 0.8,
			AutoBlockDurationMs:        900000,
			EnableTrafficAnalysis:      true,
			EnableAnomalyDetection:     true,
			AnalysisTimeoutMs:          500,
			AnalysisQueueSize:          4096,
			AnalysisWorkers:            4,
		},
	}
}

// Load reads the YAML file at path (if it exists), applies environment
// overrides, and validates the result. A missing file is fine; an invalid
// one is not.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Defaults plus environment only.
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Address = getenv("SERVER_ADDR", cfg.Server.Address)
	cfg.Redis.Addr = getenv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Logging.Level = getenv("LOG_LEVEL", cfg.Logging.Level)

	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("DETECTION_WINDOW_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Detection.WindowMs = n
		}
	}
	if v := os.Getenv("DETECTION_REQUEST_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.RequestThreshold = n
		}
	}
	if v := os.Getenv("DETECTION_AUTO_BLOCK_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Detection.AutoBlockDurationMs = n
		}
	}
	if v := os.Getenv("DETECTION_TRAFFIC_ANALYSIS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Detection.EnableTrafficAnalysis = b
		}
	}
	if v := os.Getenv("DETECTION_ANOMALY_DETECTION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Detection.EnableAnomalyDetection = b
		}
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Validate rejects configurations with unusable thresholds. Startup is
// the only safe place to fail: the gate cannot assume defaults for
// values that decide who gets blocked.
func (c Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	d := c.Detection
	if d.WindowMs <= 0 {
		return fmt.Errorf("detection.windowMs must be positive, got %d", d.WindowMs)
	}
	if d.RequestThreshold <= 0 {
		return fmt.Errorf("detection.requestThreshold must be positive, got %d", d.RequestThreshold)
	}
	if d.AutoBlockDurationMs <= 0 {
		return fmt.Errorf("detection.autoBlockDurationMs must be positive, got %d", d.AutoBlockDurationMs)
	}
	if d.SuspiciousPatternThreshold <= 0 || d.SuspiciousPatternThreshold > 1 {
		return fmt.Errorf("detection.suspiciousPatternThreshold must be in (0,1], got %f", d.SuspiciousPatternThreshold)
	}
	if d.AnalysisTimeoutMs <= 0 {
		return fmt.Errorf("detection.analysisTimeoutMs must be positive, got %d", d.AnalysisTimeoutMs)
	}
	if d.AnalysisQueueSize <= 0 {
		return fmt.Errorf("detection.analysisQueueSize must be positive, got %d", d.AnalysisQueueSize)
	}
	if d.AnalysisWorkers <= 0 {
		return fmt.Errorf("detection.analysisWorkers must be positive, got %d", d.AnalysisWorkers)
	}
	return nil
}
