// Package config loads amdgpu-stats settings from YAML, the environment and
// a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/gpu"
)

// Config is the root configuration.
type Config struct {
	// Card is a card name (card0) or PCI slot. Empty selects the first
	// monitored card.
	Card        string        `yaml:"card,omitempty"`
	Driver      string        `yaml:"driver,omitempty" validate:"required"`
	SysfsRoot   string        `yaml:"sysfs_root,omitempty" validate:"required"`
	Interval    time.Duration `yaml:"interval,omitempty" validate:"gte=100ms"`
	Units       string        `yaml:"units,omitempty" validate:"oneof=adaptive hz khz mhz ghz"`
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty" validate:"gt=0"`
	Concurrency int           `yaml:"concurrency,omitempty" validate:"min=1,max=64"`
	LogLevel    string        `yaml:"log_level,omitempty" validate:"oneof=debug info warn error"`
	LogFile     string        `yaml:"log_file,omitempty"`
	Listen      string        `yaml:"listen,omitempty" validate:"required"`

	// Alerts is a path to an alert policy file. Empty uses the built-in policy.
	Alerts string `yaml:"alerts,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Driver:      gpu.DefaultDriver,
		SysfsRoot:   gpu.DefaultRoot,
		Interval:    time.Second,
		Units:       "adaptive",
		ReadTimeout: gpu.DefaultReadTimeout,
		Concurrency: gpu.DefaultConcurrency,
		LogLevel:    "info",
		Listen:      ":9101",
	}
}

// Load reads configuration from a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldError(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldError(fe validator.FieldError) string {
	field := yamlName(fe.StructField())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s, got %v", field, fe.Param(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s, got %v", field, fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s, got %v", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

var yamlNames = map[string]string{
	"SysfsRoot":   "sysfs_root",
	"ReadTimeout": "read_timeout",
	"LogLevel":    "log_level",
	"LogFile":     "log_file",
}

func yamlName(field string) string {
	if name, ok := yamlNames[field]; ok {
		return name
	}
	return strings.ToLower(field)
}

func (c *Config) normalize() {
	c.Units = strings.ToLower(strings.TrimSpace(c.Units))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

// FormatMode returns the frequency format mode for Units.
func (c *Config) FormatMode() gpu.FormatMode {
	mode, err := gpu.ParseFormatMode(c.Units)
	if err != nil {
		return gpu.Adaptive()
	}
	return mode
}

// SlogLevel returns the log level for LogLevel.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
