package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Realtime.CodeWriteDebounce)
	assert.Equal(t, 30*time.Second, cfg.Realtime.StatsInterval)
	assert.Equal(t, 5*time.Second, cfg.Realtime.AuthThrottleWindow)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	yml := `
server:
  port: "9090"
database:
  postgres:
    host: db.internal
    database: syncpad
realtime:
  code_write_debounce: 500ms
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, 500*time.Millisecond, cfg.Realtime.CodeWriteDebounce)
	// Untouched values keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Realtime.StatsInterval)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("REALTIME_STATS_INTERVAL", "10s")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 10*time.Second, cfg.Realtime.StatsInterval)
	assert.Equal(t, 3, cfg.Database.Redis.DB)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Realtime.CodeWriteDebounce = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Server.Port = ""
	assert.Error(t, cfg.Validate())
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "h", Port: "5432", User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=d sslmode=disable", p.DSN())
}
