package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RecordSize is the estimated memory footprint of one cache entry in bytes,
// used to turn the memory budget into an entry capacity.
const RecordSize = 256

// ClickHouseConfig holds the connection settings shared by the ClickHouse
// source and sink.
type ClickHouseConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Database  string `yaml:"database"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Table     string `yaml:"table"`
	BatchSize int    `yaml:"batch_size"`
}

// NATSConfig holds the settings for the NATS source and sink. IdleTimeout
// ends a NATS source after that long without messages; zero waits forever.
type NATSConfig struct {
	URL         string        `yaml:"url"`
	Subject     string        `yaml:"subject"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	BufferSize  int           `yaml:"buffer_size"`
}

// ReaderConfig selects and configures the record source. Workers is the
// number of netlink event workers of the conntrack reader.
type ReaderConfig struct {
	Type       string           `yaml:"type"`
	Path       string           `yaml:"path"`
	Workers    uint8            `yaml:"workers"`
	NATS       NATSConfig       `yaml:"nats"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// WriterConfig selects and configures the flow sink.
type WriterConfig struct {
	Type          string           `yaml:"type"`
	WithAddresses bool             `yaml:"with_addresses"`
	NATS          NATSConfig       `yaml:"nats"`
	ClickHouse    ClickHouseConfig `yaml:"clickhouse"`
}

// StatusConfig enables the optional HTTP and gRPC status endpoints.
type StatusConfig struct {
	HTTPListen string `yaml:"http_listen"`
	GRPCListen string `yaml:"grpc_listen"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// SMTPConfig holds the settings for run report emails.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// NotifyConfig controls run report notifications.
type NotifyConfig struct {
	SMTP SMTPConfig `yaml:"smtp"`
}

// Config is the top-level configuration struct for the entire application.
// Timeouts are given in seconds. Strict fails the run on the first malformed
// record instead of skipping it.
type Config struct {
	Output          string  `yaml:"output"`
	Compress        string  `yaml:"compress"`
	ActiveTimeout   float64 `yaml:"active_timeout"`
	InactiveTimeout float64 `yaml:"inactive_timeout"`
	MemoryMiB       int     `yaml:"memory_mib"`
	Strict          *bool   `yaml:"strict"`

	Reader ReaderConfig `yaml:"reader"`
	Writer WriterConfig `yaml:"writer"`
	Status StatusConfig `yaml:"status"`
	Log    LogConfig    `yaml:"log"`
	Notify NotifyConfig `yaml:"notify"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
// Defaults are applied but the result is not validated, so that command-line
// flags can still fill in missing values.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	if c.ActiveTimeout == 0 {
		c.ActiveTimeout = 300
	}
	if c.InactiveTimeout == 0 {
		c.InactiveTimeout = 30
	}
	if c.MemoryMiB == 0 {
		c.MemoryMiB = 256
	}
	if c.Strict == nil {
		strict := true
		c.Strict = &strict
	}
	if c.Reader.Type == "" {
		c.Reader.Type = "csv"
	}
	if c.Reader.Workers == 0 {
		c.Reader.Workers = 1
	}
	if c.Writer.Type == "" {
		c.Writer.Type = "csv"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	for _, nc := range []*NATSConfig{&c.Reader.NATS, &c.Writer.NATS} {
		if nc.URL == "" {
			nc.URL = "nats://127.0.0.1:4222"
		}
		if nc.BufferSize == 0 {
			nc.BufferSize = 4096
		}
	}
	if c.Reader.NATS.Subject == "" {
		c.Reader.NATS.Subject = "flowspectra.observations"
	}
	if c.Writer.NATS.Subject == "" {
		c.Writer.NATS.Subject = "flowspectra.flows"
	}
	for _, cc := range []*ClickHouseConfig{&c.Reader.ClickHouse, &c.Writer.ClickHouse} {
		if cc.Host == "" {
			cc.Host = "localhost"
		}
		if cc.Port == 0 {
			cc.Port = 9000
		}
		if cc.Database == "" {
			cc.Database = "default"
		}
		if cc.Username == "" {
			cc.Username = "default"
		}
		if cc.BatchSize == 0 {
			cc.BatchSize = 10000
		}
	}
	if c.Reader.ClickHouse.Table == "" {
		c.Reader.ClickHouse.Table = "flow_observations"
	}
	if c.Writer.ClickHouse.Table == "" {
		c.Writer.ClickHouse.Table = "flow_profile"
	}
	if c.Notify.SMTP.Port == 0 {
		c.Notify.SMTP.Port = 587
	}
}

// Validate checks the configuration for values the run cannot work with.
func (c *Config) Validate() error {
	if c.ActiveTimeoutDuration() < time.Millisecond {
		return errors.New("active_timeout must be at least 0.001 seconds")
	}
	if c.InactiveTimeoutDuration() < time.Millisecond {
		return errors.New("inactive_timeout must be at least 0.001 seconds")
	}
	if c.MemoryMiB <= 0 {
		return errors.New("memory_mib must be positive")
	}
	switch c.Compress {
	case "", "gzip", "zstd":
	default:
		return fmt.Errorf("unsupported compression %q", c.Compress)
	}
	if c.Writer.Type == "csv" && c.Output == "" {
		return errors.New("output path is required for the csv writer")
	}
	switch c.Reader.Type {
	case "csv", "pcap":
		if c.Reader.Path == "" {
			return fmt.Errorf("reader path is required for the %s reader", c.Reader.Type)
		}
	}
	return nil
}

// Capacity is the number of flows the cache may hold within the memory budget.
func (c *Config) Capacity() int {
	capacity := c.MemoryMiB * (1 << 20) / RecordSize
	if capacity < 1 {
		return 1
	}
	return capacity
}

// ActiveTimeoutDuration returns the active timeout as a time.Duration.
func (c *Config) ActiveTimeoutDuration() time.Duration {
	return time.Duration(c.ActiveTimeout * float64(time.Second))
}

// InactiveTimeoutDuration returns the inactive timeout as a time.Duration.
func (c *Config) InactiveTimeoutDuration() time.Duration {
	return time.Duration(c.InactiveTimeout * float64(time.Second))
}

// IsStrict reports whether malformed records abort the run.
func (c *Config) IsStrict() bool {
	return c.Strict == nil || *c.Strict
}
