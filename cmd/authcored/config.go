package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML file layout for authcored.
type Config struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`

	Token struct {
		SigningKey   string        `yaml:"signing_key"`
		Issuer       string        `yaml:"issuer"`
		SessionTTL   time.Duration `yaml:"session_ttl"`
		TemporaryTTL time.Duration `yaml:"temporary_ttl"`
	} `yaml:"token"`

	Store struct {
		// Backend selects "redis" or "postgres".
		Backend   string `yaml:"backend"`
		RedisAddr string `yaml:"redis_addr"`
		RedisDB   int    `yaml:"redis_db"`
		// PostgresDSN is a pgx connection string.
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"store"`

	Audit struct {
		// LogPath receives one JSON event per line. Empty logs through
		// the process logger instead.
		LogPath    string `yaml:"log_path"`
		BufferSize int    `yaml:"buffer_size"`
	} `yaml:"audit"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`

	Bootstrap struct {
		// AdminUsername/AdminPassword seed an initial admin account when
		// the store is empty. Intended for first deployment only.
		AdminUsername string `yaml:"admin_username"`
		AdminPassword string `yaml:"admin_password"`
	} `yaml:"bootstrap"`
}

// Load reads the YAML config file and applies defaults. Validation is left
// to the caller so environment overrides can fill required fields first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadWithEnv loads the file, applies environment overrides so secrets can
// stay out of the file in containerized deployments, then validates.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if key := os.Getenv("AUTHCORED_SIGNING_KEY"); key != "" {
		cfg.Token.SigningKey = key
	}
	if addr := os.Getenv("AUTHCORED_LISTEN_ADDR"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if addr := os.Getenv("AUTHCORED_REDIS_ADDR"); addr != "" {
		cfg.Store.RedisAddr = addr
	}
	if dsn := os.Getenv("AUTHCORED_POSTGRES_DSN"); dsn != "" {
		cfg.Store.PostgresDSN = dsn
	}
	if pw := os.Getenv("AUTHCORED_BOOTSTRAP_ADMIN_PASSWORD"); pw != "" {
		cfg.Bootstrap.AdminPassword = pw
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8420"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "redis"
	}
	if c.Store.RedisAddr == "" {
		c.Store.RedisAddr = "localhost:6379"
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 256
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.Token.SigningKey == "" {
		return fmt.Errorf("token.signing_key is required")
	}
	switch c.Store.Backend {
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for the redis backend")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be redis or postgres, got %q", c.Store.Backend)
	}
	if (c.Bootstrap.AdminUsername == "") != (c.Bootstrap.AdminPassword == "") {
		return fmt.Errorf("bootstrap admin username and password must be set together")
	}
	return nil
}
