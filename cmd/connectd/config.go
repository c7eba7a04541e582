package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the connectd configuration, loaded from YAML with environment
// overrides for deployment-specific values.
type Config struct {
	Listen string `yaml:"listen"`

	Log struct {
		Level  string `yaml:"level"`  // debug, info, warn, error
		Format string `yaml:"format"` // json, text
	} `yaml:"log"`

	Storage struct {
		// Backend selects the store: memory, postgres, or redis.
		Backend string `yaml:"backend"`

		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`

		Redis struct {
			Address   string `yaml:"address"`
			Password  string `yaml:"password"`
			DB        int    `yaml:"db"`
			KeyPrefix string `yaml:"key_prefix"`
		} `yaml:"redis"`
	} `yaml:"storage"`

	OAuth struct {
		AuthorizationCodeTTL int64 `yaml:"authorization_code_ttl"` // seconds
		AccessTokenTTL       int64 `yaml:"access_token_ttl"`       // seconds
		RefreshTokenTTL      int64 `yaml:"refresh_token_ttl"`      // seconds
	} `yaml:"oauth"`

	RateLimit struct {
		RequestsPerMinute int `yaml:"requests_per_minute"`
		Burst             int `yaml:"burst"`
	} `yaml:"rate_limit"`

	HTTP struct {
		TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
		TrustedProxyCount int  `yaml:"trusted_proxy_count"`
	} `yaml:"http"`

	Session struct {
		// connectd runs behind an authenticating gateway that injects the
		// user identity. These are the header names it uses.
		UserHeader string `yaml:"user_header"`
		TeamHeader string `yaml:"team_header"`
	} `yaml:"session"`

	Audit struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"audit"`

	Cleanup struct {
		Interval          time.Duration `yaml:"interval"`
		UsedCodeRetention time.Duration `yaml:"used_code_retention"`
	} `yaml:"cleanup"`
}

// LoadConfig reads the YAML config file (when path is non-empty), applies
// environment overrides, then defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Listen, "CONNECT_OAUTH_LISTEN")
	setString(&cfg.Log.Level, "CONNECT_OAUTH_LOG_LEVEL")
	setString(&cfg.Log.Format, "CONNECT_OAUTH_LOG_FORMAT")
	setString(&cfg.Storage.Backend, "CONNECT_OAUTH_STORAGE_BACKEND")
	setString(&cfg.Storage.Postgres.DSN, "CONNECT_OAUTH_POSTGRES_DSN")
	setString(&cfg.Storage.Redis.Address, "CONNECT_OAUTH_REDIS_ADDR")
	setString(&cfg.Storage.Redis.Password, "CONNECT_OAUTH_REDIS_PASSWORD")
	setString(&cfg.Storage.Redis.KeyPrefix, "CONNECT_OAUTH_REDIS_KEY_PREFIX")
	setInt(&cfg.Storage.Redis.DB, "CONNECT_OAUTH_REDIS_DB")
	setInt64(&cfg.OAuth.AuthorizationCodeTTL, "CONNECT_OAUTH_CODE_TTL")
	setInt64(&cfg.OAuth.AccessTokenTTL, "CONNECT_OAUTH_ACCESS_TOKEN_TTL")
	setInt64(&cfg.OAuth.RefreshTokenTTL, "CONNECT_OAUTH_REFRESH_TOKEN_TTL")
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 60
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 10
	}
	if cfg.Session.UserHeader == "" {
		cfg.Session.UserHeader = "X-Auth-User-ID"
	}
	if cfg.Session.TeamHeader == "" {
		cfg.Session.TeamHeader = "X-Auth-Team-ID"
	}
	if cfg.Cleanup.Interval <= 0 {
		cfg.Cleanup.Interval = 5 * time.Minute
	}
	if cfg.Cleanup.UsedCodeRetention <= 0 {
		cfg.Cleanup.UsedCodeRetention = 24 * time.Hour
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Backend {
	case "memory":
	case "postgres":
		if cfg.Storage.Postgres.DSN == "" {
			return fmt.Errorf("postgres backend requires a DSN")
		}
	case "redis":
		if cfg.Storage.Redis.Address == "" {
			return fmt.Errorf("redis backend requires an address")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
