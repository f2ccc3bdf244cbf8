// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: environment variables > config file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "15s", "30s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
// It accepts both string formats ("15s", "1m30s") and integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all probe configuration.
type Config struct {
	ServiceName string           `yaml:"service_name"`
	Server      ServerConfig     `yaml:"server"`
	Collection  CollectionConfig `yaml:"collection"`
	Profiling   ProfilingConfig  `yaml:"profiling"`
	Buffer      BufferConfig     `yaml:"buffer"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds ingest API connection settings.
type ServerConfig struct {
	URL        string   `yaml:"url"`
	AgentToken string   `yaml:"agent_token"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
}

// CollectionConfig holds runtime metric collection settings.
type CollectionConfig struct {
	Interval      Duration `yaml:"interval"`
	BatchInterval Duration `yaml:"batch_interval"`
	Process       bool     `yaml:"process"`
}

// ProfilingConfig controls periodic CPU and allocation profile recording.
type ProfilingConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Interval   Duration `yaml:"interval"`
	Duration   Duration `yaml:"duration"`
	Allocation bool     `yaml:"allocation"`
}

// BufferConfig holds local file buffer settings.
type BufferConfig struct {
	MaxSizeMB int    `yaml:"max_size_mb"`
	Dir       string `yaml:"dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: defaultServiceName(),
		Server: ServerConfig{
			URL:        "http://localhost:3000",
			AgentToken: "",
			Timeout:    Duration{30 * time.Second},
			MaxRetries: 3,
		},
		Collection: CollectionConfig{
			Interval:      Duration{60 * time.Second},
			BatchInterval: Duration{60 * time.Second},
			Process:       true,
		},
		Profiling: ProfilingConfig{
			Enabled:    true,
			Interval:   Duration{120 * time.Second},
			Duration:   Duration{10 * time.Second},
			Allocation: true,
		},
		Buffer: BufferConfig{
			MaxSizeMB: 50,
			Dir:       "./probe-buffer",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "./probe.log",
		},
	}
}

// LoadFromBytes parses YAML configuration from a byte slice and merges with defaults.
// Environment variables take highest precedence and override values from the byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config data: %w", err)
		}
	}

	// Environment variable overrides (highest precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// Load reads configuration from a YAML file and merges with defaults.
// If path is empty or the file does not exist, only defaults and environment
// variables are used.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromBytes(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// File doesn't exist, use defaults + env overrides
		return LoadFromBytes(nil)
	}

	return LoadFromBytes(data)
}

// CLIOverrides holds values from command-line flags.
// Empty strings are treated as "not set" and skipped.
type CLIOverrides struct {
	URL         string
	Token       string
	ServiceName string
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	candidates := configSearchPaths()
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadLayered loads configuration with the full precedence chain:
// CLI flags > env vars > external YAML file > embedded bytes > defaults.
//
// An optional configPath argument controls external-file discovery:
//   - omitted        : auto-discover via Locate()
//   - explicit value  : use that path ("" means no external file)
func LoadLayered(cli CLIOverrides, embedded []byte, configPath ...string) (*Config, error) {
	cfg := DefaultConfig()

	// Layer 1: embedded config (lowest priority data layer)
	if len(embedded) > 0 {
		if err := yaml.Unmarshal(embedded, cfg); err != nil {
			return nil, fmt.Errorf("parsing embedded config: %w", err)
		}
	}

	// Layer 2: external YAML file
	var filePath string
	if len(configPath) > 0 {
		filePath = configPath[0] // caller-supplied (may be "")
	} else {
		filePath = Locate() // auto-discover
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", filePath, err)
			}
		}
	}

	// Layer 3: environment variables
	applyEnvOverrides(cfg)

	// Layer 4: CLI flags (highest priority)
	if cli.URL != "" {
		cfg.Server.URL = cli.URL
	}
	if cli.Token != "" {
		cfg.Server.AgentToken = cli.Token
	}
	if cli.ServiceName != "" {
		cfg.ServiceName = cli.ServiceName
	}

	return cfg, nil
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables have the highest precedence.
func applyEnvOverrides(cfg *Config) {
	if url := os.Getenv("PROBE_SERVER_URL"); url != "" {
		cfg.Server.URL = url
	}
	if token := os.Getenv("PROBE_AGENT_TOKEN"); token != "" {
		cfg.Server.AgentToken = token
	}
	if name := os.Getenv("PROBE_SERVICE_NAME"); name != "" {
		cfg.ServiceName = name
	}
	if level := os.Getenv("PROBE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if v := os.Getenv("PROBE_PROFILING_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Profiling.Enabled = enabled
		}
	}
}

func defaultServiceName() string {
	exe, err := os.Executable()
	if err != nil {
		return "probe"
	}
	return filepath.Base(exe)
}

// Validate checks that the configuration is valid for production use.
// Returns an error if required fields are missing, if intervals are not
// positive, or if HTTPS is not used for non-localhost server URLs.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server URL is required")
	}
	if c.Server.AgentToken == "" {
		return fmt.Errorf("agent token is required")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.Collection.Interval.Duration <= 0 || c.Collection.BatchInterval.Duration <= 0 {
		return fmt.Errorf("collection intervals must be positive")
	}
	if c.Profiling.Enabled {
		if c.Profiling.Duration.Duration <= 0 {
			return fmt.Errorf("profiling duration must be positive")
		}
		if c.Profiling.Duration.Duration >= c.Profiling.Interval.Duration {
			return fmt.Errorf("profiling duration %s must be shorter than interval %s",
				c.Profiling.Duration.Duration, c.Profiling.Interval.Duration)
		}
	}
	if !strings.HasPrefix(c.Server.URL, "https://") {
		// Allow localhost for development
		if !strings.Contains(c.Server.URL, "localhost") && !strings.Contains(c.Server.URL, "127.0.0.1") {
			return fmt.Errorf("server URL must use HTTPS (got: %s)", c.Server.URL)
		}
	}
	return nil
}
