package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/ancsbridge/internal/protocol"
	"gopkg.in/yaml.v3"
)

// KeepAlivePolicy selects links that need periodic traffic to stay up. A policy matches when
// every non-empty selector matches; a policy with no selectors never matches.
type KeepAlivePolicy struct {
	Model    string        `yaml:"model"`
	PeerName string        `yaml:"peer_name"`
	Interval time.Duration `yaml:"interval" default:"250s"`
}

func (p KeepAlivePolicy) matches(localModel, peerName string) bool {
	if p.Model == "" && p.PeerName == "" {
		return false
	}
	if p.Model != "" && p.Model != localModel {
		return false
	}
	if p.PeerName != "" && p.PeerName != peerName {
		return false
	}
	return true
}

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	// DiscoveryService is the service UUID the peer advertises; scans are filtered by it.
	DiscoveryService string `yaml:"discovery_service" default:"00001111-0000-1000-8000-00805f9b34fb"`

	ConnectingTimeout time.Duration `yaml:"connecting_timeout" default:"4s"`
	StaleClearWindow  time.Duration `yaml:"stale_clear_window" default:"700ms"`
	RetryDelay        time.Duration `yaml:"retry_delay" default:"600ms"`
	MaxRetries        int           `yaml:"max_retries" default:"3"`

	// SkipThreshold is how many scan results are skipped while reconnecting before one is accepted.
	SkipThreshold int `yaml:"skip_threshold" default:"5"`

	TitleMaxLength       uint16 `yaml:"title_max_length" default:"65535"`
	MessageMaxLength     uint16 `yaml:"message_max_length" default:"65535"`
	ReassemblyBufferSize int    `yaml:"reassembly_buffer_size" default:"8192"`

	// LocalModel identifies the host hardware for keep-alive policy selection.
	LocalModel string            `yaml:"local_model"`
	KeepAlive  []KeepAlivePolicy `yaml:"keep_alive"`

	HistorySize int `yaml:"history_size" default:"64"`
	EventBuffer int `yaml:"event_buffer" default:"128"`
}

// DefaultKeepAlive returns the built-in keep-alive policies.
func DefaultKeepAlive() []KeepAlivePolicy {
	return []KeepAlivePolicy{{Model: "Moto 360", Interval: 250 * time.Second}}
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.KeepAlive = DefaultKeepAlive()
	return cfg
}

// Load reads a YAML file over the defaults. Keys absent from the file keep their default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for i := range cfg.KeepAlive {
		defaults.SetDefaults(&cfg.KeepAlive[i])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside the manager.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if !protocol.ValidateUUID(c.DiscoveryService) {
		return fmt.Errorf("invalid discovery_service UUID %q", c.DiscoveryService)
	}
	if c.ConnectingTimeout <= 0 || c.StaleClearWindow <= 0 || c.RetryDelay <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.ReassemblyBufferSize <= 0 {
		return fmt.Errorf("reassembly_buffer_size must be positive, got %d", c.ReassemblyBufferSize)
	}
	for i, p := range c.KeepAlive {
		if p.Interval <= 0 {
			return fmt.Errorf("keep_alive[%d]: interval must be positive", i)
		}
	}
	return nil
}

// KeepAliveInterval returns the interval of the first policy matching this host and peerName.
func (c *Config) KeepAliveInterval(peerName string) (time.Duration, bool) {
	for _, p := range c.KeepAlive {
		if p.matches(c.LocalModel, peerName) {
			return p.Interval, true
		}
	}
	return 0, false
}

// Level returns the parsed log level, falling back to Info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
