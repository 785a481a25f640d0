// Package config loads service configuration from config.yaml and
// FORGE_-prefixed environment variables, with env taking precedence.
package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Cache   CacheConfig   `koanf:"cache"`
	Backend BackendConfig `koanf:"backend"`
	Breaker BreakerConfig `koanf:"breaker"`
	Logging LoggingConfig `koanf:"logging"`
}

type ServerConfig struct {
	Port int `koanf:"port"`

	// RequestTimeout bounds one request end to end, a duration string like
	// "60s". The backend call keeps its own shorter timeout.
	RequestTimeout string `koanf:"request_timeout"`
}

// RequestTimeoutDuration parses the request timeout, defaulting to 60s.
func (c ServerConfig) RequestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres
	DSN    string `koanf:"dsn"`
}

type CacheConfig struct {
	Backend  string `koanf:"backend"` // redis, memory, none
	RedisURL string `koanf:"redis_url"`
}

type BackendConfig struct {
	Provider string `koanf:"provider"` // openai, anthropic
	APIKey   string `koanf:"api_key"`
	BaseURL  string `koanf:"base_url"`

	// Timeout bounds one generation call, a duration string like "30s".
	Timeout string `koanf:"timeout"`
}

// TimeoutDuration parses the backend call timeout, defaulting to 30s.
func (c BackendConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type BreakerConfig struct {
	Threshold int    `koanf:"threshold"`
	Cooldown  string `koanf:"cooldown"`
}

// CooldownDuration parses the breaker cooldown, defaulting to 30s.
func (c BreakerConfig) CooldownDuration() time.Duration {
	d, err := time.ParseDuration(c.Cooldown)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type LoggingConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

// SlogLevel maps the configured level onto slog's scale, defaulting to info.
func (c LoggingConfig) SlogLevel() string {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
		return strings.ToLower(c.Level)
	default:
		return "info"
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml from the working directory when present, then
// overlays FORGE_-prefixed environment variables (FORGE_BACKEND__API_KEY
// becomes backend.api_key).
func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile is Load with an explicit file path.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// A missing file is fine, env vars take over.
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("FORGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "FORGE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Secrets may reference environment variables as ${VAR}.
	cfg.Backend.APIKey = substituteEnvVars(cfg.Backend.APIKey)
	cfg.Storage.DSN = substituteEnvVars(cfg.Storage.DSN)
	cfg.Cache.RedisURL = substituteEnvVars(cfg.Cache.RedisURL)

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		"server.port":            8080,
		"server.request_timeout": "60s",
		"storage.driver":         "sqlite",
		"storage.dsn":            "schemaforge.db",
		"cache.backend":          "memory",
		"backend.provider":       "openai",
		"backend.timeout":        "30s",
		"breaker.threshold":      5,
		"breaker.cooldown":       "30s",
		"logging.level":          "info",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
