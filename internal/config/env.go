package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "FACENOMAD_"

// applyEnvOverrides overrides config values with environment variables if
// set. Invalid values fail fast.
func applyEnvOverrides(cfg *Config) error {
	if v := getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("REMOTE_BASE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if err := durationEnv("REMOTE_TIMEOUT", &cfg.Remote.Timeout); err != nil {
		return err
	}
	if v := getenv("CAPTURE_LOCATION"); v != "" {
		cfg.Capture.Location = v
	}
	if v := getenv("SYNC_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sSYNC_BATCH_SIZE %q: %w", envPrefix, v, err)
		}
		cfg.Sync.BatchSize = n
	}
	if err := durationEnv("SYNC_POLL_INTERVAL", &cfg.Sync.PollInterval); err != nil {
		return err
	}
	if err := durationEnv("SYNC_INTERVAL", &cfg.Sync.SyncInterval); err != nil {
		return err
	}
	if v := getenv("SYNC_AUTO"); v != "" {
		b, err := strconv.ParseBool(strings.ToLower(v))
		if err != nil {
			return fmt.Errorf("invalid %sSYNC_AUTO %q: %w", envPrefix, v, err)
		}
		cfg.Sync.AutoSync = b
	}
	if v := getenv("DESKTOP_LISTEN_ADDR"); v != "" {
		cfg.Desktop.ListenAddr = v
	}
	if v := getenv("VAULT_KEY_SOURCE"); v != "" {
		cfg.Vault.KeySource = v
	}
	return nil
}

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

func durationEnv(name string, dst *time.Duration) error {
	v := getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s %q: %w", envPrefix, name, v, err)
	}
	*dst = d
	return nil
}
