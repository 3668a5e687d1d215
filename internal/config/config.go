// Package config loads portal configuration from the environment and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Record store backends.
const (
	StoreSupabase = "supabase"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the full runtime configuration.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR,default=:8080" yaml:"http_addr"`

	SupabaseURL       string `env:"SUPABASE_URL" yaml:"supabase_url"`
	SupabaseAnonKey   string `env:"SUPABASE_ANON_KEY" yaml:"supabase_anon_key"`
	SupabaseJWTSecret string `env:"SUPABASE_JWT_SECRET" yaml:"supabase_jwt_secret"`
	RealtimeEnabled   bool   `env:"REALTIME_ENABLED,default=false" yaml:"realtime_enabled"`

	RecordStore string `env:"RECORD_STORE,default=supabase" yaml:"record_store"`
	DatabaseURL string `env:"DATABASE_URL" yaml:"database_url"`
	SeedFile    string `env:"SEED_FILE" yaml:"seed_file"`

	RedisAddr     string `env:"REDIS_ADDR" yaml:"redis_addr"`
	RedisPassword string `env:"REDIS_PASSWORD" yaml:"redis_password"`
	RedisDB       int    `env:"REDIS_DB,default=0" yaml:"redis_db"`

	SessionTTL   time.Duration `env:"SESSION_TTL,default=168h" yaml:"session_ttl"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT,default=10s" yaml:"fetch_timeout"`

	LogLevel  string `env:"LOG_LEVEL,default=info" yaml:"log_level"`
	LogFormat string `env:"LOG_FORMAT,default=json" yaml:"log_format"`

	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173" yaml:"cors_allowed_origins"`
	AuthRateLimit      int    `env:"AUTH_RATE_LIMIT,default=5" yaml:"auth_rate_limit"`
	AuthRateBurst      int    `env:"AUTH_RATE_BURST,default=10" yaml:"auth_rate_burst"`
	CookieSecure       bool   `env:"COOKIE_SECURE,default=false" yaml:"cookie_secure"`
	CookieSecret       string `env:"COOKIE_SECRET" yaml:"cookie_secret"`

	ConfigFile string `env:"CONFIG_FILE" yaml:"-"`
}

// Load reads an optional .env file, decodes the environment, then applies CONFIG_FILE on top.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromPath loads only the YAML file at path on top of defaults. Used by tools and tests.
func LoadFromPath(path string) (*Config, error) {
	cfg := Defaults()
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		HTTPAddr:           ":8080",
		RecordStore:        StoreSupabase,
		SessionTTL:         7 * 24 * time.Hour,
		FetchTimeout:       10 * time.Second,
		LogLevel:           "info",
		LogFormat:          "json",
		CORSAllowedOrigins: "http://localhost:5173",
		AuthRateLimit:      5,
		AuthRateBurst:      10,
	}
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// Validate checks the settings each backend needs.
func (c *Config) Validate() error {
	if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_ANON_KEY are required")
	}
	switch c.RecordStore {
	case StoreSupabase:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when RECORD_STORE=%s", StorePostgres)
		}
	case StoreMemory:
		if c.SeedFile == "" {
			return fmt.Errorf("SEED_FILE is required when RECORD_STORE=%s", StoreMemory)
		}
	default:
		return fmt.Errorf("unknown RECORD_STORE %q", c.RecordStore)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	return nil
}

// AllowedOrigins splits the comma-separated CORS origin list.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o := strings.TrimSpace(origin); o != "" {
			out = append(out, o)
		}
	}
	return out
}
