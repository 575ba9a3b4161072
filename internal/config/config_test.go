package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, "sqlite", cfg.SideStoreDriver)
	assert.Equal(t, "data/sidestore.db", cfg.SideStorePath)
	assert.Equal(t, "cinemaws", cfg.JWTIssuer)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	assert.False(t, cfg.RevokeOnDelete)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 10, cfg.BcryptCost)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CINEMA_SIDESTORE_DRIVER", " FILE ")
	t.Setenv("CINEMA_SIDESTORE_PATH", "/var/lib/cinema")
	t.Setenv("CINEMA_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("CINEMA_REVOKE_ON_DELETE", "true")
	t.Setenv("CINEMA_SHUTDOWN_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.SideStoreDriver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.RevokeOnDelete)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("CINEMA_SIDESTORE_DRIVER", "mongo")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")

	t.Setenv("CINEMA_SIDESTORE_DRIVER", "sqlite")
	t.Setenv("CINEMA_LOGIN_RATE_BURST", "nope")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidateServeListsMissing(t *testing.T) {
	err := Config{JWTSecret: "x"}.ValidateServe()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CINEMA_PG_DSN")
	assert.Contains(t, err.Error(), "CINEMA_LOGIN_SECRET")
	assert.NotContains(t, err.Error(), "CINEMA_JWT_SECRET")

	require.NoError(t, Config{PostgresDSN: "postgres://", JWTSecret: "x", LoginSecret: "y"}.ValidateServe())
}
