// Package config loads the daemon configuration from config.toml with
// environment-variable overrides for deployment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the daemon configuration.
type Config struct {
	DataDir  string `toml:"data_dir"`
	HTTPAddr string `toml:"http_addr"`
	Secret   string `toml:"secret"`

	Redis      RedisConfig      `toml:"redis"`
	Translator TranslatorConfig `toml:"translator"`
	WS         WSConfig         `toml:"ws"`
}

// RedisConfig configures the cache and pub/sub substrate.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// TranslatorConfig configures the remote translation backend.
type TranslatorConfig struct {
	URL       string `toml:"url"`
	APIKey    string `toml:"api_key"`
	TimeoutMS int    `toml:"timeout_ms"`
}

// Timeout returns the bounded wait applied to every translation call.
func (t TranslatorConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutMS) * time.Millisecond
}

// WSConfig configures websocket connection handling.
type WSConfig struct {
	PingIntervalMS int   `toml:"ping_interval_ms"`
	WriteTimeoutMS int   `toml:"write_timeout_ms"`
	ReadTimeoutMS  int   `toml:"read_timeout_ms"`
	MaxMessageSize int64 `toml:"max_message_size"`
}

func (w WSConfig) PingInterval() time.Duration {
	return time.Duration(w.PingIntervalMS) * time.Millisecond
}

func (w WSConfig) WriteTimeout() time.Duration {
	return time.Duration(w.WriteTimeoutMS) * time.Millisecond
}

func (w WSConfig) ReadTimeout() time.Duration {
	return time.Duration(w.ReadTimeoutMS) * time.Millisecond
}

// Default returns a config with all defaults applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:  filepath.Join(home, ".linguad"),
		HTTPAddr: ":8080",
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Translator: TranslatorConfig{
			URL:       "http://localhost:5000",
			TimeoutMS: 10000,
		},
		WS: WSConfig{
			PingIntervalMS: 30000,
			WriteTimeoutMS: 10000,
			ReadTimeoutMS:  60000,
			MaxMessageSize: 65536,
		},
	}
}

// Load reads config from path (a missing file just means defaults), layers
// environment overrides on top, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("LINGUA_DATA_DIR", c.DataDir)
	c.HTTPAddr = getEnv("LINGUA_HTTP_ADDR", c.HTTPAddr)
	c.Secret = getEnv("LINGUA_SECRET", c.Secret)
	c.Redis.Addr = getEnv("LINGUA_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Username = getEnv("LINGUA_REDIS_USER", c.Redis.Username)
	c.Redis.Password = getEnv("LINGUA_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("LINGUA_REDIS_DB", c.Redis.DB)
	c.Translator.URL = getEnv("LINGUA_TRANSLATOR_URL", c.Translator.URL)
	c.Translator.APIKey = getEnv("LINGUA_TRANSLATOR_KEY", c.Translator.APIKey)
	c.Translator.TimeoutMS = getEnvInt("LINGUA_TRANSLATOR_TIMEOUT_MS", c.Translator.TimeoutMS)
}

func (c *Config) validate() error {
	if c.Secret == "" {
		return fmt.Errorf("secret is required (set LINGUA_SECRET or secret in config.toml)")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Translator.URL == "" {
		return fmt.Errorf("translator.url is required")
	}
	if c.Translator.TimeoutMS <= 0 {
		return fmt.Errorf("translator.timeout_ms must be positive")
	}
	return nil
}

// DBPath returns the sqlite database path under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "linguachat.db")
}

// LogPath returns the daemon log file path under the data dir.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "linguad.log")
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".linguad", "config.toml")
}

// EnsureDataDir creates the data directory tree with owner-only permissions.
func (c *Config) EnsureDataDir() error {
	for _, d := range []string{c.DataDir, filepath.Dir(c.LogPath())} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
