package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/gpu"
)

func TestLoad(t *testing.T) {
	yaml := `
card: card1
interval: 2s
units: MHz
read_timeout: 100ms
log_level: debug
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Card != "card1" {
		t.Errorf("Card = %q, want card1", cfg.Card)
	}
	if cfg.Interval != 2*time.Second {
		t.Errorf("Interval = %s, want 2s", cfg.Interval)
	}
	if cfg.Units != "mhz" {
		t.Errorf("Units = %q, want mhz", cfg.Units)
	}
	if cfg.FormatMode() != gpu.Fixed(gpu.MHz) {
		t.Errorf("FormatMode() = %v, want mhz", cfg.FormatMode())
	}
	if cfg.ReadTimeout != 100*time.Millisecond {
		t.Errorf("ReadTimeout = %s, want 100ms", cfg.ReadTimeout)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel() = %v, want debug", cfg.SlogLevel())
	}

	// Unset fields keep their defaults.
	if cfg.SysfsRoot != gpu.DefaultRoot {
		t.Errorf("SysfsRoot = %q, want %q", cfg.SysfsRoot, gpu.DefaultRoot)
	}
	if cfg.Listen != ":9101" {
		t.Errorf("Listen = %q, want :9101", cfg.Listen)
	}
	if cfg.Concurrency != gpu.DefaultConcurrency {
		t.Errorf("Concurrency = %d, want %d", cfg.Concurrency, gpu.DefaultConcurrency)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading config") {
		t.Errorf("Load() error = %v, want reading config error", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"interval too short", "interval: 10ms", "interval must be at least"},
		{"unknown units", "units: thz", "units must be one of"},
		{"zero timeout", "read_timeout: 0s", "read_timeout must be greater than"},
		{"bad log level", "log_level: trace", "log_level must be one of"},
		{"too many readers", "concurrency: 500", "concurrency must be at most"},
		{"empty driver", "driver: ''", "driver is required"},
		{"bad yaml", "interval: [", "parsing config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
	if !cfg.FormatMode().IsAdaptive() {
		t.Error("default units should be adaptive")
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Errorf("SlogLevel() = %v, want info", cfg.SlogLevel())
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"AMDGPU_STATS_CARD":         "0000:03:00.0",
		"AMDGPU_STATS_INTERVAL":     "500ms",
		"AMDGPU_STATS_UNITS":        "ghz",
		"AMDGPU_STATS_CONCURRENCY":  "8",
		"AMDGPU_STATS_READ_TIMEOUT": "1s",
		"UNRELATED":                 "x",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Card != "0000:03:00.0" {
		t.Errorf("Card = %q", cfg.Card)
	}
	if cfg.Interval != 500*time.Millisecond {
		t.Errorf("Interval = %s, want 500ms", cfg.Interval)
	}
	if cfg.FormatMode() != gpu.Fixed(gpu.GHz) {
		t.Errorf("FormatMode() = %v, want ghz", cfg.FormatMode())
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Concurrency)
	}
	if cfg.ReadTimeout != time.Second {
		t.Errorf("ReadTimeout = %s, want 1s", cfg.ReadTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, unset variables must not change fields", cfg.LogLevel)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := map[string]string{
		"AMDGPU_STATS_INTERVAL":    "soon",
		"AMDGPU_STATS_CONCURRENCY": "many",
	}
	for key, value := range tests {
		cfg := Default()
		err := cfg.ApplyEnv(func(k string) (string, bool) {
			if k == key {
				return value, true
			}
			return "", false
		})
		if err == nil || !strings.Contains(err.Error(), key) {
			t.Errorf("ApplyEnv(%s=%s) error = %v, want error naming the variable", key, value, err)
		}
	}
}

func TestResolve_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("card: card1\nunits: mhz\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Setenv("AMDGPU_STATS_UNITS", "khz")

	cfg, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Card != "card1" {
		t.Errorf("Card = %q, want card1 from file", cfg.Card)
	}
	if cfg.Units != "khz" {
		t.Errorf("Units = %q, environment should override the file", cfg.Units)
	}
}

func TestResolve_DotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("AMDGPU_STATS_LISTEN=127.0.0.1:9200\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	t.Setenv("AMDGPU_STATS_LISTEN", "")
	os.Unsetenv("AMDGPU_STATS_LISTEN")

	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Listen != "127.0.0.1:9200" {
		t.Errorf("Listen = %q, want value from .env", cfg.Listen)
	}
}

func TestResolve_InvalidEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AMDGPU_STATS_UNITS", "furlongs")

	if _, err := Resolve(""); err == nil {
		t.Error("Resolve() expected validation error")
	}
}
