// Package config loads the device configuration for face-nomad.
//
// Values come from three layers applied in order: built-in defaults, an
// optional YAML file, and FACENOMAD_* environment variables. Validate is
// called last and fails fast on anything a component could not start with.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the config file format understood by this build.
const CurrentVersion = 1

// Config is the full device configuration.
type Config struct {
	Version  int           `yaml:"version"`
	DataDir  string        `yaml:"data_dir"`
	LogLevel string        `yaml:"log_level"`
	Remote   RemoteConfig  `yaml:"remote"`
	Capture  CaptureConfig `yaml:"capture"`
	Sync     SyncConfig    `yaml:"sync"`
	Desktop  DesktopConfig `yaml:"desktop"`
	Vault    VaultConfig   `yaml:"vault"`
}

// RemoteConfig points at the remote authority.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CaptureConfig controls how capture date and time are rendered. Layouts
// use Go reference-time syntax.
type CaptureConfig struct {
	DateLayout string `yaml:"date_layout"`
	TimeLayout string `yaml:"time_layout"`
	Location   string `yaml:"location"`
}

// SyncConfig tunes the upload workflow and background scheduler.
type SyncConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	SyncInterval time.Duration `yaml:"sync_interval"`
	AutoSync     bool          `yaml:"auto_sync"`
}

// DesktopConfig configures the local API served to the UI shell.
type DesktopConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Key sources for the credential vault.
const (
	KeySourceStored     = "stored"
	KeySourcePassphrase = "passphrase"
)

// VaultConfig selects how the vault key is obtained.
type VaultConfig struct {
	KeySource     string `yaml:"key_source"`
	PassphraseEnv string `yaml:"passphrase_env"`
}

// Default returns the built-in configuration.
func Default() Config {
	dataDir := ".facenomad"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".facenomad")
	}
	return Config{
		Version:  CurrentVersion,
		DataDir:  dataDir,
		LogLevel: "info",
		Remote: RemoteConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 15 * time.Second,
		},
		Capture: CaptureConfig{
			DateLayout: "2/1/2006",
			TimeLayout: "15:04",
			Location:   "Local",
		},
		Sync: SyncConfig{
			BatchSize:    50,
			PollInterval: 30 * time.Second,
			SyncInterval: 5 * time.Minute,
			AutoSync:     true,
		},
		Desktop: DesktopConfig{
			ListenAddr: "127.0.0.1:8090",
		},
		Vault: VaultConfig{
			KeySource:     KeySourceStored,
			PassphraseEnv: "FACENOMAD_VAULT_PASSPHRASE",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// path is non-empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Loc resolves Location, falling back to the local zone.
func (c CaptureConfig) Loc() *time.Location {
	if c.Location == "" || c.Location == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		return time.Local
	}
	return loc
}
