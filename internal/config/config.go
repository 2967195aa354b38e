package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/presenced/internal/ble"
	"github.com/chaz8081/presenced/internal/peerid"
)

// Config holds all daemon configuration.
type Config struct {
	// PeerID is advertised as-is when set. Empty means a fresh id is
	// derived for every session.
	PeerID      string            `yaml:"peer_id"`
	SecretFile  string            `yaml:"secret_file"`
	Adapter     string            `yaml:"adapter"`
	Name        NameConfig        `yaml:"name"`
	Advertising AdvertisingConfig `yaml:"advertising"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Retry       RetryConfig       `yaml:"retry"`
	HTTP        HTTPConfig        `yaml:"http"`
	Push        PushConfig        `yaml:"push"`
	LogLevel    string            `yaml:"log_level"`
}

// NameConfig frames the peer id inside the advertised local name.
type NameConfig struct {
	Prefix string `yaml:"prefix"`
	Suffix string `yaml:"suffix"`
}

// AdvertisingConfig holds advertising settings.
type AdvertisingConfig struct {
	Mode        string `yaml:"mode"`     // "low-power", "balanced" or "low-latency"
	TxPower     string `yaml:"tx_power"` // "low", "medium" or "high"
	Connectable bool   `yaml:"connectable"`
	Autostart   bool   `yaml:"autostart"`
}

// DiscoveryConfig holds scan and eviction settings.
type DiscoveryConfig struct {
	StaleAfter    time.Duration `yaml:"stale_after"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	History       int           `yaml:"history"`
}

// RetryConfig bounds retries of rejected advertising starts.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// HTTPConfig holds the local API listener. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// PushConfig holds the embedded push distributor settings.
type PushConfig struct {
	ProjectNumber string `yaml:"project_number"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "presenced")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Adapter: "hci0",
		Advertising: AdvertisingConfig{
			Mode:        "low-latency",
			TxPower:     "high",
			Connectable: true,
			Autostart:   true,
		},
		Discovery: DiscoveryConfig{
			StaleAfter:    30 * time.Second,
			SweepInterval: 5 * time.Second,
			History:       8,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    8 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:7171",
		},
		Push: PushConfig{
			ProjectNumber: "426689947325",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in secret_file is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.SecretFile = expandTilde(cfg.SecretFile)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.PeerID != "" {
		if _, err := peerid.Parse(c.PeerID); err != nil {
			return fmt.Errorf("peer_id: %w", err)
		}
	}

	if _, err := c.Codec(); err != nil {
		return fmt.Errorf("name: %w", err)
	}

	if _, err := c.AdvertisingParams(); err != nil {
		return fmt.Errorf("advertising: %w", err)
	}

	if c.Discovery.StaleAfter <= 0 {
		return fmt.Errorf("discovery.stale_after must be > 0")
	}
	if c.Discovery.SweepInterval <= 0 {
		return fmt.Errorf("discovery.sweep_interval must be > 0")
	}
	if c.Discovery.SweepInterval > c.Discovery.StaleAfter {
		return fmt.Errorf("discovery.sweep_interval (%s) must not exceed stale_after (%s)",
			c.Discovery.SweepInterval, c.Discovery.StaleAfter)
	}
	if c.Discovery.History < 0 {
		return fmt.Errorf("discovery.history must be >= 0")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < base_delay <= max_delay, got %s and %s",
			c.Retry.BaseDelay, c.Retry.MaxDelay)
	}

	if c.Push.ProjectNumber == "" {
		return fmt.Errorf("push.project_number must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog level. Unknown values
// give info.
func ParseLogLevel(level string) slog.Level {
	switch level {
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

// Codec returns the local name codec for the configured framing.
func (c *Config) Codec() (peerid.Codec, error) {
	return peerid.NewCodec(c.Name.Prefix, c.Name.Suffix)
}

// AdvertisingParams converts the advertising section into radio settings.
func (c *Config) AdvertisingParams() (ble.AdvertisingConfig, error) {
	mode, err := ble.ParseMode(c.Advertising.Mode)
	if err != nil {
		return ble.AdvertisingConfig{}, err
	}
	tx, err := ble.ParseTxPower(c.Advertising.TxPower)
	if err != nil {
		return ble.AdvertisingConfig{}, err
	}
	return ble.AdvertisingConfig{Mode: mode, TxPower: tx, Connectable: c.Advertising.Connectable}, nil
}

// ReadSecret loads the hex-encoded peer id derivation secret. It returns
// nil when no secret_file is configured.
func (c *Config) ReadSecret() ([]byte, error) {
	if c.SecretFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.SecretFile)
	if err != nil {
		return nil, fmt.Errorf("reading secret file: %w", err)
	}
	secret, err := peerid.ParseSecret(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("secret file %s: %w", c.SecretFile, err)
	}
	return secret, nil
}

const defaultConfigTemplate = `# presenced configuration
# See: https://github.com/chaz8081/presenced

# Fixed peer id to advertise (8 lowercase hex characters).
# Leave empty to derive a fresh id for every advertising session.
peer_id: ""

# Optional file holding a 64-character hex secret used for id derivation.
secret_file: ""

# BlueZ adapter to check for power state.
adapter: hci0

# Text placed around the peer id in the advertised local name.
name:
  prefix: ""
  suffix: ""

advertising:
  mode: low-latency   # low-power, balanced or low-latency
  tx_power: high      # low, medium or high
  connectable: true
  autostart: true

discovery:
  stale_after: 30s
  sweep_interval: 5s
  history: 8

retry:
  max_attempts: 5
  base_delay: 500ms
  max_delay: 8s

http:
  addr: 127.0.0.1:7171

push:
  project_number: "426689947325"

log_level: info
`

// WriteDefault writes the default config file if none exists. It returns
// the path written, or "" if a config was already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
