package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.yaml")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Reader.Type != "pcap" {
		t.Errorf("Expected reader type 'pcap', got '%s'", cfg.Reader.Type)
	}
	if cfg.Reader.NATS.IdleTimeout != 30*time.Second {
		t.Errorf("Expected nats idle timeout 30s, got %s", cfg.Reader.NATS.IdleTimeout)
	}
	if cfg.Compress != "zstd" {
		t.Errorf("Expected zstd compression, got '%s'", cfg.Compress)
	}
	if !cfg.Writer.WithAddresses {
		t.Errorf("Expected writer with addresses")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Sample config should validate: %v", err)
	}
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("output: flows.csv\nreader:\n  path: in.csv\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.ActiveTimeoutDuration() != 300*time.Second {
		t.Errorf("Expected default active timeout 300s, got %s", cfg.ActiveTimeoutDuration())
	}
	if cfg.InactiveTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected default inactive timeout 30s, got %s", cfg.InactiveTimeoutDuration())
	}
	if !cfg.IsStrict() {
		t.Errorf("Expected strict mode by default")
	}
	if cfg.Reader.Type != "csv" || cfg.Writer.Type != "csv" {
		t.Errorf("Expected csv reader and writer by default, got %s/%s", cfg.Reader.Type, cfg.Writer.Type)
	}
	if cfg.Writer.ClickHouse.Table != "flow_profile" || cfg.Reader.ClickHouse.Table != "flow_observations" {
		t.Errorf("Unexpected default tables: %s/%s", cfg.Writer.ClickHouse.Table, cfg.Reader.ClickHouse.Table)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Config should validate: %v", err)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("Expected error for missing config file")
	}
}

func TestConfig_Capacity(t *testing.T) {
	tests := []struct {
		memoryMiB int
		want      int
	}{
		{1, (1 << 20) / RecordSize},
		{64, 64 * (1 << 20) / RecordSize},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.MemoryMiB = tt.memoryMiB
		if got := cfg.Capacity(); got != tt.want {
			t.Errorf("Capacity() with %d MiB = %d, want %d", tt.memoryMiB, got, tt.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"negative active timeout", func(c *Config) { c.ActiveTimeout = -1 }},
		{"negative inactive timeout", func(c *Config) { c.InactiveTimeout = -1 }},
		{"sub-millisecond inactive timeout", func(c *Config) { c.InactiveTimeout = 0.0004 }},
		{"unknown compression", func(c *Config) { c.Compress = "lzma" }},
		{"csv writer without output", func(c *Config) { c.Output = "" }},
		{"pcap reader without path", func(c *Config) { c.Reader.Type = "pcap"; c.Reader.Path = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Output = "flows.csv"
			cfg.Reader.Path = "in.csv"
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}
