package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/presenced/internal/ble"
	"github.com/chaz8081/presenced/internal/peerid"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.PeerID != "" {
		t.Errorf("PeerID = %q, want empty", cfg.PeerID)
	}
	if cfg.Adapter != "hci0" {
		t.Errorf("Adapter = %q, want %q", cfg.Adapter, "hci0")
	}
	if cfg.Advertising.Mode != "low-latency" || cfg.Advertising.TxPower != "high" || !cfg.Advertising.Connectable {
		t.Errorf("Advertising = %+v, want low-latency/high/connectable", cfg.Advertising)
	}
	if cfg.Discovery.StaleAfter != 30*time.Second {
		t.Errorf("Discovery.StaleAfter = %v, want 30s", cfg.Discovery.StaleAfter)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Retry.MaxAttempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	if cfg.Push.ProjectNumber != "426689947325" {
		t.Errorf("Push.ProjectNumber = %q", cfg.Push.ProjectNumber)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
peer_id: ca5c3d64
name:
  prefix: "pd-"
advertising:
  mode: balanced
  tx_power: medium
  connectable: false
discovery:
  stale_after: 1m
  sweep_interval: 10s
retry:
  max_attempts: 3
  base_delay: 250ms
  max_delay: 2s
http:
  addr: ""
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.PeerID != "ca5c3d64" {
		t.Errorf("PeerID = %q, want %q", cfg.PeerID, "ca5c3d64")
	}
	if cfg.Discovery.StaleAfter != time.Minute || cfg.Discovery.SweepInterval != 10*time.Second {
		t.Errorf("Discovery = %+v", cfg.Discovery)
	}
	if cfg.Discovery.History != 8 {
		t.Errorf("Discovery.History = %d, want default 8", cfg.Discovery.History)
	}
	if cfg.Retry.BaseDelay != 250*time.Millisecond || cfg.Retry.MaxDelay != 2*time.Second {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.HTTP.Addr != "" {
		t.Errorf("HTTP.Addr = %q, want empty", cfg.HTTP.Addr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}

	params, err := cfg.AdvertisingParams()
	if err != nil {
		t.Fatalf("AdvertisingParams() error = %v", err)
	}
	want := ble.AdvertisingConfig{Mode: ble.ModeBalanced, TxPower: ble.TxPowerMedium}
	if params != want {
		t.Errorf("AdvertisingParams() = %+v, want %+v", params, want)
	}

	codec, err := cfg.Codec()
	if err != nil {
		t.Fatalf("Codec() error = %v", err)
	}
	if got, err := codec.Encode("ca5c3d64"); err != nil || got != "pd-ca5c3d64" {
		t.Errorf("Encode() = %q, %v, want %q", got, err, "pd-ca5c3d64")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
secret_file: ~/.config/presenced/secret
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, ".config/presenced/secret")
	if cfg.SecretFile != expected {
		t.Errorf("SecretFile = %q, want %q", cfg.SecretFile, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("discovery:\n  stale_after: soon\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail on an unparseable duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "fixed peer id",
			modify:  func(c *Config) { c.PeerID = "0badc0de" },
			wantErr: false,
		},
		{
			name:    "malformed peer id",
			modify:  func(c *Config) { c.PeerID = "CA5C3D64" },
			wantErr: true,
		},
		{
			name:    "name framing too long",
			modify:  func(c *Config) { c.Name.Prefix = strings.Repeat("x", 30) },
			wantErr: true,
		},
		{
			name:    "invalid mode",
			modify:  func(c *Config) { c.Advertising.Mode = "turbo" },
			wantErr: true,
		},
		{
			name:    "invalid tx power",
			modify:  func(c *Config) { c.Advertising.TxPower = "max" },
			wantErr: true,
		},
		{
			name:    "zero stale after",
			modify:  func(c *Config) { c.Discovery.StaleAfter = 0 },
			wantErr: true,
		},
		{
			name:    "sweep slower than staleness",
			modify:  func(c *Config) { c.Discovery.SweepInterval = time.Minute },
			wantErr: true,
		},
		{
			name:    "negative history",
			modify:  func(c *Config) { c.Discovery.History = -1 },
			wantErr: true,
		},
		{
			name:    "zero attempts",
			modify:  func(c *Config) { c.Retry.MaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "max delay below base",
			modify:  func(c *Config) { c.Retry.MaxDelay = time.Millisecond },
			wantErr: true,
		},
		{
			name:    "empty project number",
			modify:  func(c *Config) { c.Push.ProjectNumber = "" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateWrapsSentinels(t *testing.T) {
	cfg := Default()
	cfg.PeerID = "nope"
	if err := cfg.Validate(); !errors.Is(err, peerid.ErrInvalidIdentifier) {
		t.Errorf("Validate() error = %v, want ErrInvalidIdentifier", err)
	}

	cfg = Default()
	cfg.Advertising.Mode = "turbo"
	if err := cfg.Validate(); !errors.Is(err, ble.ErrInvalidConfig) {
		t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
	}
}

func TestReadSecret(t *testing.T) {
	cfg := Default()
	if secret, err := cfg.ReadSecret(); err != nil || secret != nil {
		t.Fatalf("ReadSecret() without file = %v, %v", secret, err)
	}

	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte(strings.Repeat("5a", peerid.SecretLen)+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg.SecretFile = path
	secret, err := cfg.ReadSecret()
	if err != nil {
		t.Fatalf("ReadSecret() error = %v", err)
	}
	if len(secret) != peerid.SecretLen || secret[0] != 0x5a {
		t.Errorf("ReadSecret() = %x", secret)
	}

	if err := os.WriteFile(path, []byte("abcd"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.ReadSecret(); err == nil {
		t.Error("ReadSecret() should reject a short secret")
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "presenced", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# presenced") {
		t.Error("written config should start with header comment")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("written config = %+v, want defaults", cfg)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "presenced")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("peer_id: ca5c3d64\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
