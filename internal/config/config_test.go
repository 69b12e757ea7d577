package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_BACKEND", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, ":9091", cfg.XDCRAddr)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "0.001", cfg.Grid.MinSize)
	assert.Equal(t, 3, cfg.Grid.Decimals)
}

func TestYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":7000"
concurrency: 2
store:
  backend: sqlite
  sqlite_path: /tmp/x.db
grid:
  min_size: "0.01"
redis:
  host: cache.local
`), 0o600))
	t.Setenv("INGEST_CONCURRENCY", "16")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_QPS", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, 16, cfg.Concurrency, "env overrides yaml")
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "/tmp/x.db", cfg.Store.SQLitePath)
	assert.Equal(t, "0.01", cfg.Grid.MinSize)
	assert.Equal(t, 3, cfg.Grid.Decimals, "unset yaml keys keep defaults")
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 200, cfg.RateLimit.QPS, "bad number keeps previous value")
	assert.Equal(t, "cache.local:6379", cfg.RedisAddr())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "cassandra"
	cfg.Concurrency = 0
	cfg.Grid.MinSize = "0.003"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
	assert.Contains(t, err.Error(), "concurrency")
	assert.Contains(t, err.Error(), "min size")
}

func TestPostgresDSN(t *testing.T) {
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_USER", "geo")
	t.Setenv("PG_PASSWORD", "pw")
	t.Setenv("PG_PORT", "")
	t.Setenv("PG_DB", "")
	t.Setenv("PG_SSLMODE", "")
	assert.Equal(t, "postgres://geo:pw@db:5432/geoindex?sslmode=disable", BuildPostgresDSNFromEnv())

	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("PG_DSN", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://geo:pw@db:5432/geoindex?sslmode=disable", cfg.Store.PostgresDSN)
}

func TestRedisAddrDisabled(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.RedisAddr())
	cfg.Redis.Host = "r"
	cfg.Redis.Disabled = true
	assert.Empty(t, cfg.RedisAddr())
}

func TestGeoIPAvailable(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.GeoIPAvailable())
	cfg.GeoIPPath = filepath.Join(t.TempDir(), "missing.mmdb")
	assert.False(t, cfg.GeoIPAvailable())
}

func TestLoadLeavesValidationToCaller(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("INGEST_CONCURRENCY", "0")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Concurrency)
	require.ErrorContains(t, cfg.Validate(), "concurrency")

	cfg.Concurrency = 4
	assert.NoError(t, cfg.Validate())
}

func TestHostnameComesFromXDCRHostname(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("HOSTNAME", "3f2a9c1d7e4b")
	t.Setenv("XDCR_HOSTNAME", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Hostname)

	t.Setenv("XDCR_HOSTNAME", "geo.example.net")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "geo.example.net", cfg.Hostname)
}
