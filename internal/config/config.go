// Package config loads treesync's YAML configuration file.
//
// A missing file is not an error: every field has a default, and fields left
// out of the file keep theirs. Unknown keys are rejected so typos surface.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/treesync/internal/remote"
)

// EnvPath names the environment variable that overrides DefaultPath.
const EnvPath = "TREESYNC_CONFIG"

// Defaults.
const (
	DefaultRemoteURL      = "http://localhost:8080"
	DefaultServerAddr     = ":8080"
	DefaultRemoteTimeout  = remote.DefaultTimeout
	DefaultResyncInterval = time.Duration(0)
)

// Config is the effective configuration.
type Config struct {
	// DBPath is the local progress database.
	DBPath string `yaml:"db_path"`

	// RemoteURL is the base URL of the progress server.
	RemoteURL string `yaml:"remote_url"`

	// RemoteTimeout bounds every remote call.
	RemoteTimeout time.Duration `yaml:"remote_timeout"`

	// ResyncInterval enables periodic resync when positive.
	ResyncInterval time.Duration `yaml:"resync_interval"`

	Server ServerConfig `yaml:"server"`
}

// ServerConfig configures `treesync serve`.
type ServerConfig struct {
	Addr      string        `yaml:"addr"`
	DBPath    string        `yaml:"db_path"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// Dir returns ~/.config/treesync.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".config", "treesync"), nil
}

// DefaultPath returns the config file location: $TREESYNC_CONFIG if set,
// otherwise ~/.config/treesync/config.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Default returns the built-in configuration. Database paths live under dir.
func Default(dir string) Config {
	return Config{
		DBPath:         filepath.Join(dir, "progress.db"),
		RemoteURL:      DefaultRemoteURL,
		RemoteTimeout:  DefaultRemoteTimeout,
		ResyncInterval: DefaultResyncInterval,
		Server: ServerConfig{
			Addr:     DefaultServerAddr,
			DBPath:   filepath.Join(dir, "server.db"),
			TokenTTL: 30 * 24 * time.Hour,
		},
	}
}

// Load reads the config file at path over the defaults. Relative database
// paths in the file are resolved against the file's directory.
func Load(path string) (Config, error) {
	dir := filepath.Dir(path)
	cfg := Default(dir)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.DBPath = resolve(dir, cfg.DBPath)
	cfg.Server.DBPath = resolve(dir, cfg.Server.DBPath)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("db_path is empty")
	}
	if _, err := remote.NormalizeBaseURL(c.RemoteURL); err != nil {
		return fmt.Errorf("remote_url: %w", err)
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("remote_timeout must be positive, got %s", c.RemoteTimeout)
	}
	if c.ResyncInterval < 0 {
		return fmt.Errorf("resync_interval must not be negative, got %s", c.ResyncInterval)
	}
	if c.Server.TokenTTL < 0 {
		return fmt.Errorf("server.token_ttl must not be negative, got %s", c.Server.TokenTTL)
	}
	return nil
}

// Write saves cfg to path, creating the directory if needed.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
