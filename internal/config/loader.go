package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Browser session settings.
	StudioURL  string `json:"studio_url" yaml:"studio_url" toml:"studio_url"`
	Headless   bool   `json:"headless" yaml:"headless" toml:"headless"`
	CDPURL     string `json:"cdp_url" yaml:"cdp_url" toml:"cdp_url"`
	ProfileDir string `json:"profile_dir" yaml:"profile_dir" toml:"profile_dir"`

	// Proxy core settings.
	DefaultModel      string `json:"default_model" yaml:"default_model" toml:"default_model"`
	QueueSize         int    `json:"queue_size" yaml:"queue_size" toml:"queue_size"`
	RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec" toml:"request_timeout_sec"`
	StreamGapMS       int    `json:"stream_gap_ms" yaml:"stream_gap_ms" toml:"stream_gap_ms"`

	// HTTP settings.
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORSEnabled  bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
