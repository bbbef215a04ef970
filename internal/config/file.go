package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// KernelConfig is the process configuration: where data lives, how the HTTP
// ingress listens, and how the platform client and worker pool are tuned.
// Priority: PILOT_* environment > last file > ... > first file > defaults.
type KernelConfig struct {
	DataDir  string         `toml:"data_dir"`
	LogLevel string         `toml:"log_level"` // debug, info, warn, error
	Server   ServerConfig   `toml:"server"`
	Platform PlatformConfig `toml:"platform"`
	Workers  WorkersConfig  `toml:"workers"`
	Claims   ClaimsConfig   `toml:"claims"`
}

type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type PlatformConfig struct {
	BaseURL     string   `toml:"base_url"`
	Version     string   `toml:"version"`
	Timeout     Duration `toml:"timeout"`
	RateLimit   float64  `toml:"rate_limit"` // requests per second per owner
	MaxAttempts int      `toml:"max_attempts"`
}

type WorkersConfig struct {
	MaxConcurrentJobs int64 `toml:"max_concurrent_jobs"`
	QueueCapacity     int   `toml:"queue_capacity"`
}

type ClaimsConfig struct {
	TTL        Duration `toml:"ttl"`
	GCInterval Duration `toml:"gc_interval"`
}

// Duration reads "20s"-style strings from TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func NewDefaultKernelConfig() *KernelConfig {
	return &KernelConfig{
		DataDir:  DefaultDataDir(),
		LogLevel: "info",
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Platform: PlatformConfig{
			BaseURL:     "https://api.vk.com",
			Version:     "5.199",
			Timeout:     Duration{20 * time.Second},
			RateLimit:   3,
			MaxAttempts: 3,
		},
		Workers: WorkersConfig{
			MaxConcurrentJobs: 10,
			QueueCapacity:     100,
		},
		Claims: ClaimsConfig{
			TTL:        Duration{time.Hour},
			GCInterval: Duration{10 * time.Minute},
		},
	}
}

// LoadKernelConfig merges the given TOML files over the defaults, later files
// winning, then applies PILOT_* environment overrides.
func LoadKernelConfig(paths ...string) (*KernelConfig, error) {
	cfg := NewDefaultKernelConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *KernelConfig) {
	if dir := os.Getenv("PILOT_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if level := os.Getenv("PILOT_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if host := os.Getenv("PILOT_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("PILOT_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if origins := os.Getenv("PILOT_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	if baseURL := os.Getenv("PILOT_PLATFORM_URL"); baseURL != "" {
		cfg.Platform.BaseURL = baseURL
	}
	if version := os.Getenv("PILOT_PLATFORM_VERSION"); version != "" {
		cfg.Platform.Version = version
	}
	if rate := os.Getenv("PILOT_PLATFORM_RATE_LIMIT"); rate != "" {
		if r, err := strconv.ParseFloat(rate, 64); err == nil {
			cfg.Platform.RateLimit = r
		}
	}

	if workers := os.Getenv("PILOT_MAX_CONCURRENT_JOBS"); workers != "" {
		if w, err := strconv.ParseInt(workers, 10, 64); err == nil {
			cfg.Workers.MaxConcurrentJobs = w
		}
	}
}

// DatabasePath is the DuckDB file inside DataDir.
func (c *KernelConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, "pilot.db")
}

// ClaimsPath is the Badger directory inside DataDir.
func (c *KernelConfig) ClaimsPath() string {
	return filepath.Join(c.DataDir, "claims")
}

// Addr is the HTTP listen address.
func (c *KernelConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SlogLevel maps LogLevel onto slog, defaulting to info.
func (c *KernelConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
