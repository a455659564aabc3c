// Package config loads runtime configuration for standin from a TOML file
// with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"standin/internal/blob"
	"standin/internal/queue"
)

const (
	DefaultLogLevel = "info"

	DefaultBlobName = "blobs"
	DefaultQueue    = "default"
	DefaultTable    = "queue"

	DefaultBusyTimeoutSeconds = 30

	configFileName        = ".standin.toml"
	configDirEnvKey       = "STANDIN_CONFIG_DIR"
	blobPathEnvKey        = "STANDIN_BLOB_PATH"
	cacheDirEnvKey        = "STANDIN_CACHE_DIR"
	busyTimeoutEnvKey     = "STANDIN_QUEUE_BUSY_TIMEOUT"
	lockPollIntervalMSKey = "STANDIN_LOCK_POLL_INTERVAL_MS"
)

// BlobConfig defines the blob container settings.
type BlobConfig struct {
	Name               string `toml:"name"`
	Path               string `toml:"path"`
	LockPollIntervalMS int    `toml:"lock_poll_interval_ms"`
	RetryBackoffMS     int    `toml:"retry_backoff_ms"`
	RetryLimit         int    `toml:"retry_limit"`
}

// QueueConfig defines the queue settings.
type QueueConfig struct {
	Name               string `toml:"name"`
	Table              string `toml:"table"`
	BusyTimeoutSeconds int    `toml:"busy_timeout_seconds"`
	CacheDir           string `toml:"cache_dir"`
}

// Config defines runtime configuration for standin.
type Config struct {
	LogLevel string      `toml:"log_level"`
	Blob     BlobConfig  `toml:"blob"`
	Queue    QueueConfig `toml:"queue"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		Blob: BlobConfig{
			Name: DefaultBlobName,
			Path: "",
		},
		Queue: QueueConfig{
			Name:               DefaultQueue,
			Table:              DefaultTable,
			BusyTimeoutSeconds: DefaultBusyTimeoutSeconds,
		},
	}
}

// BlobStoreConfig converts the loaded settings for the blob store.
func (c *Config) BlobStoreConfig() blob.Config {
	return blob.Config{
		Name:             c.Blob.Name,
		Path:             c.Blob.Path,
		LockPollInterval: time.Duration(c.Blob.LockPollIntervalMS) * time.Millisecond,
		RetryBackoff:     time.Duration(c.Blob.RetryBackoffMS) * time.Millisecond,
		RetryLimit:       c.Blob.RetryLimit,
	}
}

// QueueStoreConfig converts the loaded settings for the queue.
func (c *Config) QueueStoreConfig() queue.Config {
	return queue.Config{
		Name:        c.Queue.Name,
		Table:       c.Queue.Table,
		BusyTimeout: time.Duration(c.Queue.BusyTimeoutSeconds) * time.Second,
		CacheDir:    c.Queue.CacheDir,
	}
}

// Load reads config from the global file and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	path, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	if _, err := loadFileIfExists(path, &cfg); err != nil {
		return nil, err
	}

	if blobPath := strings.TrimSpace(os.Getenv(blobPathEnvKey)); blobPath != "" {
		cfg.Blob.Path = blobPath
	}
	if cacheDir := strings.TrimSpace(os.Getenv(cacheDirEnvKey)); cacheDir != "" {
		cfg.Queue.CacheDir = cacheDir
	}
	if raw := strings.TrimSpace(os.Getenv(busyTimeoutEnvKey)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.Queue.BusyTimeoutSeconds = parsed
		}
	}
	if raw := strings.TrimSpace(os.Getenv(lockPollIntervalMSKey)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			cfg.Blob.LockPollIntervalMS = parsed
		}
	}

	cfg.normalizeDefaults()

	return &cfg, nil
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(configDirEnvKey)); dir != "" {
		return filepath.Join(dir, configFileName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func (c *Config) normalizeDefaults() {
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
	if strings.TrimSpace(c.Blob.Name) == "" {
		c.Blob.Name = DefaultBlobName
	}
	if c.Blob.Path == "" {
		if cwd, err := os.Getwd(); err == nil {
			c.Blob.Path = cwd
		}
	}
	if strings.TrimSpace(c.Queue.Name) == "" {
		c.Queue.Name = DefaultQueue
	}
	if strings.TrimSpace(c.Queue.Table) == "" {
		c.Queue.Table = DefaultTable
	}
	if c.Queue.BusyTimeoutSeconds <= 0 {
		c.Queue.BusyTimeoutSeconds = DefaultBusyTimeoutSeconds
	}
}
