package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that YAML-decodes from Go duration strings
// ("30s", "2m") as well as integer nanoseconds, and encodes back as a
// string. Config files stay readable either way.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config holds all configuration options for the discgrab bot
type Config struct {
	// Discord connection and command surface
	Discord DiscordConfig `yaml:"discord" json:"discord"`

	// Scan behavior
	Scan ScanConfig `yaml:"scan" json:"scan"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Retry behavior for transient failures
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Persistent state location
	State StateConfig `yaml:"state" json:"state"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DiscordConfig holds Discord-specific configuration
type DiscordConfig struct {
	// Token is resolved from the credential store or environment when
	// empty here. Keeping it out of the file is recommended.
	Token  string `yaml:"token,omitempty" json:"token,omitempty"`
	Prefix string `yaml:"prefix" json:"prefix"`
}

// ScanConfig holds message scanning configuration
type ScanConfig struct {
	// BatchSize is the page size per history fetch and the unit of
	// checkpointing. Discord caps pages at 100.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// DefaultLimit applies when a scan command gives no count.
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	// MaxLimit caps explicit counts; "all" bypasses it.
	MaxLimit int `yaml:"max_limit" json:"max_limit"`
	// OnExisting decides what a fresh scan does when an unfinished
	// checkpoint exists: "reject" or "overwrite".
	OnExisting string `yaml:"on_existing" json:"on_existing"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	BaseDirectory string   `yaml:"base_directory" json:"base_directory"`
	Workers       int      `yaml:"workers" json:"workers"`
	Timeout       Duration `yaml:"timeout" json:"timeout"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int    `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int    `yaml:"burst_size" json:"burst_size"`
	Strategy          string `yaml:"strategy" json:"strategy"`
}

// RetryConfig holds retry/backoff configuration
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier  float64  `yaml:"multiplier" json:"multiplier"`
	Jitter      bool     `yaml:"jitter" json:"jitter"`
}

// StateConfig holds the location of checkpoint and dedup files
type StateConfig struct {
	Directory string `yaml:"directory" json:"directory"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	File   string `yaml:"file" json:"file"`
	Format string `yaml:"format" json:"format"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Discord: DiscordConfig{
			Prefix: ">",
		},
		Scan: ScanConfig{
			BatchSize:    50,
			DefaultLimit: 100,
			MaxLimit:     500,
			OnExisting:   "reject",
		},
		Download: DownloadConfig{
			BaseDirectory: "./downloads",
			Workers:       4,
			Timeout:       Duration(30 * time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         10,
			Strategy:          "smooth",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   Duration(2 * time.Second),
			MaxDelay:    Duration(30 * time.Second),
			Multiplier:  2.0,
			Jitter:      true,
		},
		State: StateConfig{
			Directory: "./state",
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   "",
			Format: "console",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if token := os.Getenv("DISCGRAB_TOKEN"); token != "" {
		c.Discord.Token = token
	} else if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		c.Discord.Token = token
	}
	if prefix := os.Getenv("DISCGRAB_PREFIX"); prefix != "" {
		c.Discord.Prefix = prefix
	}

	if batch := os.Getenv("DISCGRAB_BATCH_SIZE"); batch != "" {
		var val int
		fmt.Sscanf(batch, "%d", &val)
		if val > 0 {
			c.Scan.BatchSize = val
		}
	}

	if outputDir := os.Getenv("DISCGRAB_DOWNLOAD_DIR"); outputDir != "" {
		c.Download.BaseDirectory = outputDir
	}
	if workers := os.Getenv("DISCGRAB_WORKERS"); workers != "" {
		var val int
		fmt.Sscanf(workers, "%d", &val)
		if val > 0 {
			c.Download.Workers = val
		}
	}

	if rpm := os.Getenv("DISCGRAB_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		fmt.Sscanf(rpm, "%d", &val)
		if val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}

	if stateDir := os.Getenv("DISCGRAB_STATE_DIR"); stateDir != "" {
		c.State.Directory = stateDir
	}

	if logLevel := os.Getenv("DISCGRAB_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".discgrab.yaml",
		".discgrab.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "discgrab", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "discgrab", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".discgrab.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Discord.Prefix == "" {
		errs = append(errs, errors.New("command prefix is required"))
	}

	if c.Scan.BatchSize <= 0 || c.Scan.BatchSize > 100 {
		errs = append(errs, errors.New("batch size must be between 1 and 100"))
	}
	if c.Scan.DefaultLimit < 0 {
		errs = append(errs, errors.New("default limit cannot be negative"))
	}
	if c.Scan.MaxLimit <= 0 {
		errs = append(errs, errors.New("max limit must be positive"))
	}
	switch c.Scan.OnExisting {
	case "reject", "overwrite":
	default:
		errs = append(errs, errors.New(`on_existing must be "reject" or "overwrite"`))
	}

	if c.Download.BaseDirectory == "" {
		errs = append(errs, errors.New("download directory is required"))
	}
	if c.Download.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.Download.Workers > 10 {
		errs = append(errs, errors.New("workers should not exceed 10"))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}
	switch c.RateLimit.Strategy {
	case "smooth", "bucket":
	default:
		errs = append(errs, errors.New(`rate limit strategy must be "smooth" or "bucket"`))
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("retry max attempts must be positive"))
	}
	if c.Retry.BaseDelay <= 0 {
		errs = append(errs, errors.New("retry base delay must be positive"))
	}
	if c.Retry.Multiplier < 1.0 {
		errs = append(errs, errors.New("retry multiplier must be at least 1.0"))
	}

	if c.State.Directory == "" {
		errs = append(errs, errors.New("state directory is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if token, ok := flags["token"].(string); ok && token != "" {
		c.Discord.Token = token
	}
	if prefix, ok := flags["prefix"].(string); ok && prefix != "" {
		c.Discord.Prefix = prefix
	}
	if outputDir, ok := flags["download-dir"].(string); ok && outputDir != "" {
		c.Download.BaseDirectory = outputDir
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		c.Download.Workers = workers
	}
	if stateDir, ok := flags["state-dir"].(string); ok && stateDir != "" {
		c.State.Directory = stateDir
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".discgrab.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
