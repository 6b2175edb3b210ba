// Package config implements the closed configuration record (spec §9
// "Dynamic config objects") plus the ambient additions a deployable service
// needs: log level, metrics listen address, and concurrency cap. Loaded
// from YAML with environment-variable overrides applied at the boundary.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Hazard804/mdcx/internal/refiner"
)

// Config is the single closed record every long-lived component reads
// from. There is no plugin mechanism for extending it (spec's Non-goal:
// no general-purpose config framework) — new fields are added here
// directly as the system grows.
type Config struct {
	Proxy          string   `yaml:"proxy"`
	Retry          int      `yaml:"retry"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	EnabledSites   []string `yaml:"enabled_sites"`

	// FieldPriority maps a merged-record field name to the ordered list of
	// site identities to prefer when merging that field.
	FieldPriority map[string][]string `yaml:"field_priority"`

	BypassBaseURL  string `yaml:"bypass_base_url"`
	BypassProxyURL string `yaml:"bypass_proxy_url"`

	SODImageSizeRatio float64 `yaml:"sod_image_size_ratio"`

	// RespectRobots gates every outbound request through internal/robots.
	// Off by default: most of this system's targets are adult-content
	// catalog sites whose robots.txt either doesn't exist or blocks
	// everything generically.
	RespectRobots bool `yaml:"respect_robots"`

	// Ambient additions (SPEC_FULL §4.10): not present in spec.md's closed
	// record, but required for any runnable embedding of the core.
	LogLevel          string `yaml:"log_level"`
	Debug             bool   `yaml:"debug"`
	MetricsListenAddr string `yaml:"metrics_listen_addr"`
	GlobalConcurrency int    `yaml:"global_concurrency"`
}

// Default returns the reference configuration, matching the defaults
// called out across spec.md §4–§5.
func Default() Config {
	return Config{
		Retry:             3,
		TimeoutSeconds:    10,
		SODImageSizeRatio: refiner.SODImageSizeRatio,
		LogLevel:          "info",
		MetricsListenAddr: ":9090",
		GlobalConcurrency: 5,
	}
}

// Timeout returns TimeoutSeconds as a time.Duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads a YAML config file, merges in environment-variable overrides
// (MDCX_PROXY, MDCX_RETRY, MDCX_TIMEOUT_SECONDS, MDCX_BYPASS_BASE_URL,
// MDCX_DEBUG), and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MDCX_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("MDCX_RETRY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry = n
		}
	}
	if v := os.Getenv("MDCX_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("MDCX_BYPASS_BASE_URL"); v != "" {
		cfg.BypassBaseURL = v
	}
	if v := os.Getenv("MDCX_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
}

// Validate enforces the invariants a malformed config could otherwise
// silently violate (e.g. a zero retry count would make every transient
// failure terminal).
func (c Config) Validate() error {
	if c.Retry < 1 {
		return fmt.Errorf("config: retry must be >= 1, got %d", c.Retry)
	}
	if c.TimeoutSeconds < 1 {
		return fmt.Errorf("config: timeout_seconds must be >= 1, got %d", c.TimeoutSeconds)
	}
	if c.GlobalConcurrency < 1 {
		return fmt.Errorf("config: global_concurrency must be >= 1, got %d", c.GlobalConcurrency)
	}
	if c.SODImageSizeRatio < 0 {
		return fmt.Errorf("config: sod_image_size_ratio must be >= 0, got %f", c.SODImageSizeRatio)
	}
	return nil
}
