package config

import (
	"errors"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/civicfix/internal/apperror"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func validEnv() map[string]string {
	return map[string]string{
		"SECRET_KEY":     "0123456789abcdef0123",
		"DATABASE_URL":   "postgres://civic:pw@db:5432/civic",
		"JWT_SECRET":     "provider-secret-provider-secret",
		"STORAGE_URL":    "https://storage.example.com/",
		"STORAGE_KEY":    "AKIA123:shh",
		"STORAGE_BUCKET": "issues",
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(env(validEnv()))
	require.NoError(t, err)

	assert.Equal(t, "postgresql://civic:pw@db:5432/civic", cfg.DatabaseURL)
	assert.Empty(t, cfg.TrustedProxies)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)

	assert.Equal(t, 10, cfg.Pool.Size)
	assert.Equal(t, 0, cfg.Pool.MaxOverflow)
	assert.Equal(t, 10, cfg.Pool.MaxOpen())
	assert.Equal(t, 300*time.Second, cfg.Pool.Recycle)
	assert.Equal(t, 20*time.Second, cfg.Pool.Timeout)
	assert.True(t, cfg.Pool.PrePing)

	assert.Equal(t, "authenticated", cfg.Identity.Audience)
	assert.Equal(t, "AKIA123", cfg.Storage.AccessKeyID)
	assert.Equal(t, "shh", cfg.Storage.SecretAccessKey)
	assert.Equal(t, "https://storage.example.com", cfg.Storage.Endpoint)
	assert.Equal(t, "https://storage.example.com/issues", cfg.Storage.PublicURL)
	assert.False(t, cfg.GitHub.Enabled())
	assert.Equal(t, int64(16<<20), cfg.MaxUploadBytes)
}

func TestLoadFrom_Overrides(t *testing.T) {
	m := validEnv()
	m["CORS_ORIGINS"] = "https://a.example, https://b.example ,"
	m["DB_POOL_SIZE"] = "20"
	m["DB_MAX_OVERFLOW"] = "10"
	m["DB_POOL_RECYCLE"] = "600"
	m["DB_POOL_TIMEOUT"] = "30s"
	m["DB_POOL_PRE_PING"] = "false"
	m["LOG_LEVEL"] = "debug"
	m["DATABASE_URL"] = "sqlite://file::memory:"
	m["TRUSTED_PROXIES"] = "10.0.0.0/8, 192.168.1.7"

	cfg, err := LoadFrom(env(m))
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 30, cfg.Pool.MaxOpen())
	assert.Equal(t, 600*time.Second, cfg.Pool.Recycle)
	assert.Equal(t, 30*time.Second, cfg.Pool.Timeout)
	assert.False(t, cfg.Pool.PrePing)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "sqlite://file::memory:", cfg.DatabaseURL)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.7/32"),
	}, cfg.TrustedProxies)
}

func TestLoadFrom_ReportsEveryMissingVariable(t *testing.T) {
	_, err := LoadFrom(env(map[string]string{}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConfig))

	for _, key := range []string{"SECRET_KEY", "DATABASE_URL", "JWT_SECRET", "STORAGE_URL", "STORAGE_KEY", "STORAGE_BUCKET"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoadFrom_Malformed(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"non-numeric pool size", "DB_POOL_SIZE", "ten"},
		{"zero pool size", "DB_POOL_SIZE", "0"},
		{"bad duration", "DB_POOL_TIMEOUT", "soon"},
		{"bad bool", "DB_POOL_PRE_PING", "maybe"},
		{"storage key without secret", "STORAGE_KEY", "AKIA123"},
		{"short secret", "SECRET_KEY", "short"},
		{"bad log level", "LOG_LEVEL", "loud"},
		{"bad trusted proxy", "TRUSTED_PROXIES", "10.0.0.0/8,proxy.internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validEnv()
			m[tt.key] = tt.val
			_, err := LoadFrom(env(m))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}
