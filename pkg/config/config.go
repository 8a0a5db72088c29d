// Package config loads koziky settings from a TOML file, a .env file and the
// environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/papercomputeco/koziky/pkg/orchestrator"
	"github.com/papercomputeco/koziky/pkg/storage"
	"github.com/papercomputeco/koziky/proxy"
)

// Environment variables that override the file.
const (
	EnvEndpoint    = "KOZIKY_ENDPOINT"
	EnvAPIKey      = "KOZIKY_API_KEY"
	EnvStoreDriver = "KOZIKY_STORE_DRIVER"
	EnvStorePath   = "KOZIKY_STORE_PATH"
	EnvStoreDSN    = "KOZIKY_STORE_DSN"
	EnvGrokAPIKey  = "GROK_API_KEY"
	EnvUpstreamURL = "KOZIKY_UPSTREAM_URL"
	EnvConfigFile  = "KOZIKY_CONFIG"
)

// Defaults.
const (
	DefaultFileName    = "config.toml"
	DefaultEndpoint    = "http://localhost:8080/api/chat"
	DefaultListenAddr  = ":8080"
	DefaultUpstreamURL = "https://api.x.ai/v1"
	DefaultChatModel   = "grok-beta"
	DefaultImageModel  = "grok-2-image"
	DefaultTemperature = 0.7
)

// Config is the full koziky configuration.
type Config struct {
	Client ClientConfig `toml:"client"`
	Store  StoreConfig  `toml:"store"`
	Proxy  ProxyConfig  `toml:"proxy"`
	Log    LogConfig    `toml:"log"`
}

// ClientConfig configures the chat client side.
type ClientConfig struct {
	Endpoint                   string   `toml:"endpoint"`
	APIKey                     string   `toml:"api_key"`
	IdleTimeout                Duration `toml:"idle_timeout"`
	MaxConsecutiveDecodeErrors int      `toml:"max_consecutive_decode_errors"`
	CommitOnCancel             *bool    `toml:"commit_on_cancel"`
}

// StoreConfig selects the conversation store.
type StoreConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

// ProxyConfig configures the relay.
type ProxyConfig struct {
	ListenAddr  string  `toml:"listen"`
	UpstreamURL string  `toml:"upstream_url"`
	APIKey      string  `toml:"api_key"`
	ChatModel   string  `toml:"chat_model"`
	ImageModel  string  `toml:"image_model"`
	Temperature float32 `toml:"temperature"`
	// History exposes the read-only conversation endpoints.
	History bool `toml:"history"`
}

// LogConfig configures logging.
type LogConfig struct {
	Debug bool   `toml:"debug"`
	File  string `toml:"file"`
}

// Duration decodes TOML strings such as "45s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	commit := true
	return &Config{
		Client: ClientConfig{
			Endpoint:       DefaultEndpoint,
			IdleTimeout:    Duration{orchestrator.DefaultIdleTimeout},
			CommitOnCancel: &commit,
		},
		Store: StoreConfig{
			Driver: storage.DriverJSON,
		},
		Proxy: ProxyConfig{
			ListenAddr:  DefaultListenAddr,
			UpstreamURL: DefaultUpstreamURL,
			ChatModel:   DefaultChatModel,
			ImageModel:  DefaultImageModel,
			Temperature: DefaultTemperature,
		},
	}
}

// DefaultPath returns ~/.koziky/config.toml.
func DefaultPath() (string, error) {
	dir, err := storage.HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultFileName), nil
}

// Load reads the configuration. An empty path means $KOZIKY_CONFIG or the
// default path; a missing default file is not an error, a missing explicit
// one is. A .env file in the working directory is loaded into the
// environment before overrides are applied, without replacing variables
// that are already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigFile)
		explicit = path != ""
	}
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) || explicit {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables read via getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	set(&c.Client.Endpoint, EnvEndpoint)
	set(&c.Client.APIKey, EnvAPIKey)
	set(&c.Store.Driver, EnvStoreDriver)
	set(&c.Store.Path, EnvStorePath)
	set(&c.Store.DSN, EnvStoreDSN)
	set(&c.Proxy.APIKey, EnvGrokAPIKey)
	set(&c.Proxy.UpstreamURL, EnvUpstreamURL)

	if v := getenv("KOZIKY_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid KOZIKY_DEBUG %q: %w", v, err)
		}
		c.Log.Debug = debug
	}
	return nil
}

// Orchestrator returns the orchestrator settings.
func (c *Config) Orchestrator() orchestrator.Config {
	oc := orchestrator.DefaultConfig(c.Client.Endpoint)
	oc.APIKey = c.Client.APIKey
	oc.IdleTimeout = c.Client.IdleTimeout.Duration
	oc.MaxConsecutiveDecodeErrors = c.Client.MaxConsecutiveDecodeErrors
	if c.Client.CommitOnCancel != nil {
		oc.CommitOnCancel = *c.Client.CommitOnCancel
	}
	return oc
}

// Storage returns the store settings.
func (c *Config) Storage() storage.Config {
	return storage.Config{
		Driver: c.Store.Driver,
		Path:   c.Store.Path,
		DSN:    c.Store.DSN,
	}
}

// Relay returns the relay server settings.
func (c *Config) Relay() proxy.Config {
	return proxy.Config{
		ListenAddr:  c.Proxy.ListenAddr,
		UpstreamURL: c.Proxy.UpstreamURL,
		APIKey:      c.Proxy.APIKey,
		ChatModel:   c.Proxy.ChatModel,
		ImageModel:  c.Proxy.ImageModel,
		Temperature: c.Proxy.Temperature,
	}
}

// Save writes the configuration as TOML to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}
