package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreSupabase, cfg.RecordStore)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 168*time.Hour, cfg.SessionTTL)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.AllowedOrigins())
}

func TestLoadReadsEnvironment(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("FETCH_TIMEOUT", "3s")
	t.Setenv("RECORD_STORE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/communicity?sslmode=disable")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
	assert.Equal(t, StorePostgres, cfg.RecordStore)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestConfigFileOverridesEnvironment(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "portal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \":9090\"\nfetch_timeout: 2s\nrecord_store: memory\nseed_file: seed.yaml\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Second, cfg.FetchTimeout)
	assert.Equal(t, StoreMemory, cfg.RecordStore)
	assert.Equal(t, "seed.yaml", cfg.SeedFile)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults with credentials", func(*Config) {}, false},
		{"missing supabase url", func(c *Config) { c.SupabaseURL = "" }, true},
		{"postgres without dsn", func(c *Config) { c.RecordStore = StorePostgres }, true},
		{"memory without seed", func(c *Config) { c.RecordStore = StoreMemory }, true},
		{"unknown store", func(c *Config) { c.RecordStore = "mongo" }, true},
		{"zero fetch timeout", func(c *Config) { c.FetchTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.SupabaseURL = "https://example.supabase.co"
			cfg.SupabaseAnonKey = "anon"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAllowedOriginsTrimsBlanks(t *testing.T) {
	cfg := &Config{CORSAllowedOrigins: " https://a.example , ,https://b.example"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())
}
