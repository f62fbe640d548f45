package config

import (
	"fmt"
	"net/url"
	"os"
)

// Validate checks that every section holds usable values.
func (c Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version %d (want %d)", c.Version, CurrentVersion)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}

	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("remote.base_url %q must be an absolute URL", c.Remote.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("remote.base_url scheme %q must be http or https", u.Scheme)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive")
	}

	if c.Capture.DateLayout == "" || c.Capture.TimeLayout == "" {
		return fmt.Errorf("capture.date_layout and capture.time_layout must be set")
	}

	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be at least 1, got %d", c.Sync.BatchSize)
	}
	if c.Sync.PollInterval <= 0 || c.Sync.SyncInterval <= 0 {
		return fmt.Errorf("sync.poll_interval and sync.sync_interval must be positive")
	}

	if c.Desktop.ListenAddr == "" {
		return fmt.Errorf("desktop.listen_addr must be set")
	}

	switch c.Vault.KeySource {
	case KeySourceStored:
	case KeySourcePassphrase:
		if c.Vault.PassphraseEnv == "" {
			return fmt.Errorf("vault.passphrase_env must name a variable when key_source is %q", KeySourcePassphrase)
		}
	default:
		return fmt.Errorf("vault.key_source %q must be %q or %q", c.Vault.KeySource, KeySourceStored, KeySourcePassphrase)
	}
	return nil
}

// Passphrase returns the vault passphrase from the configured environment
// variable. Empty when the stored key source is in use.
func (c VaultConfig) Passphrase() string {
	if c.KeySource != KeySourcePassphrase {
		return ""
	}
	return os.Getenv(c.PassphraseEnv)
}
