package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied to unset fields.
const (
	DefaultHistoryCapacity      = 100
	DefaultReconnectMaxAttempts = 5
	DefaultReconnectBackoffSecs = 3
	DefaultConnectTimeoutSecs   = 30
	DefaultWaitTimeoutSecs      = 300
)

// Config represents ~/.wamcp/config.toml. Every field is optional; the
// zero value of each is replaced by its default on Load.
type Config struct {
	// CredentialDir overrides where the transport keeps its credential
	// store. Empty means the default under the base dir.
	CredentialDir string `toml:"credential_dir"`

	HistoryCapacity      int `toml:"history_capacity"`
	ReconnectMaxAttempts int `toml:"reconnect_max_attempts"`
	ReconnectBackoffSecs int `toml:"reconnect_backoff_secs"`
	ConnectTimeoutSecs   int `toml:"connect_timeout_secs"`
	WaitTimeoutSecs      int `toml:"wait_timeout_secs"`
}

// Default returns a config with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads config from the given path. A missing file is not an error:
// it yields the default config.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ReconnectBackoff returns the backoff between reconnect attempts.
func (c *Config) ReconnectBackoff() time.Duration {
	return time.Duration(c.ReconnectBackoffSecs) * time.Second
}

// ConnectTimeout returns the bound on the initial blocking connect.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecs) * time.Second
}

// WaitTimeout returns the default reply wait timeout.
func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutSecs) * time.Second
}

func (c *Config) applyDefaults() {
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = DefaultHistoryCapacity
	}
	if c.ReconnectMaxAttempts <= 0 {
		c.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}
	if c.ReconnectBackoffSecs <= 0 {
		c.ReconnectBackoffSecs = DefaultReconnectBackoffSecs
	}
	if c.ConnectTimeoutSecs <= 0 {
		c.ConnectTimeoutSecs = DefaultConnectTimeoutSecs
	}
	if c.WaitTimeoutSecs <= 0 {
		c.WaitTimeoutSecs = DefaultWaitTimeoutSecs
	}
}
