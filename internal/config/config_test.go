package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-guard/internal/domain"
)

// setupEnv aponta o arquivo de rotas para um caminho inexistente e aplica as variáveis
func setupEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	t.Setenv("RATE_LIMIT_ROUTES_FILE", filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("REDIS_URL", "")
	t.Setenv("RATE_LIMIT_STRATEGY", "")
	t.Setenv("BRUTE_FORCE_STRATEGY", "")
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func newQuietLoader() *ConfigLoader {
	loader := NewConfigLoader()
	loader.warn = func(string) {}
	return loader
}

func TestConfigLoader_Defaults(t *testing.T) {
	setupEnv(t, nil)

	loader := newQuietLoader()
	rateLimit, err := loader.LoadRateLimitConfig()
	require.NoError(t, err)

	assert.True(t, rateLimit.Enabled)
	assert.Equal(t, "rl", rateLimit.KeyPrefix)
	assert.Equal(t, 100, rateLimit.Points)
	assert.Equal(t, 60, rateLimit.DurationSeconds)
	assert.Equal(t, 0, rateLimit.BlockDurationSeconds)
	assert.Equal(t, domain.MemoryStrategy, rateLimit.Strategy)
	assert.False(t, rateLimit.AllowInternalBypass)
	assert.Contains(t, rateLimit.Routes, "auth.login")
	assert.Contains(t, rateLimit.Routes, "auth.register")
	assert.Contains(t, rateLimit.Routes, "auth.password_reset")

	bruteForce, err := loader.LoadBruteForceConfig()
	require.NoError(t, err)
	assert.True(t, bruteForce.Enabled)
	assert.Equal(t, 900, bruteForce.WindowSeconds)
	assert.Equal(t, 3, bruteForce.CaptchaThreshold)
	assert.Equal(t, 0, bruteForce.LockoutThreshold)

	server := loader.GetConfig()
	require.NotNil(t, server)
	assert.Equal(t, "8080", server.ServerPort)
	assert.Equal(t, "X-Internal-Request", server.BypassHeader)
}

func TestConfigLoader_EnvironmentOverrides(t *testing.T) {
	setupEnv(t, map[string]string{
		"RATE_LIMIT_POINTS":             "10",
		"RATE_LIMIT_DURATION":           "30",
		"RATE_LIMIT_BLOCK_DURATION":     "120",
		"RATE_LIMIT_STRATEGY":           "REDIS",
		"REDIS_URL":                     "redis://localhost:6379/0",
		"INTERNAL_BYPASS_ENABLED":       "true",
		"BRUTE_FORCE_CAPTCHA_THRESHOLD": "2",
		"BRUTE_FORCE_LOCKOUT_THRESHOLD": "10",
		"BRUTE_FORCE_STRATEGY":          "memory",
		"TRUSTED_PROXIES":               "10.0.0.1, 10.0.0.2",
	})

	loader := newQuietLoader()
	require.NoError(t, loader.Load())

	rateLimit, err := loader.LoadRateLimitConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, rateLimit.Points)
	assert.Equal(t, 30, rateLimit.DurationSeconds)
	assert.Equal(t, 120, rateLimit.BlockDurationSeconds)
	assert.Equal(t, domain.RedisStrategy, rateLimit.Strategy)
	require.NotNil(t, rateLimit.Redis)
	assert.Equal(t, "redis://localhost:6379/0", rateLimit.Redis.URL)
	assert.True(t, rateLimit.AllowInternalBypass)

	bruteForce, err := loader.LoadBruteForceConfig()
	require.NoError(t, err)
	assert.Equal(t, domain.MemoryStrategy, bruteForce.Strategy)
	assert.Equal(t, 2, bruteForce.CaptchaThreshold)
	assert.Equal(t, 10, bruteForce.LockoutThreshold)

	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, loader.GetConfig().TrustedProxies)
}

func TestConfigLoader_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		vars  map[string]string
		field string
	}{
		{name: "Non numeric points", vars: map[string]string{"RATE_LIMIT_POINTS": "abc"}, field: "RATE_LIMIT_POINTS"},
		{name: "Zero points", vars: map[string]string{"RATE_LIMIT_POINTS": "0"}, field: "rateLimit.points"},
		{name: "Invalid boolean", vars: map[string]string{"RATE_LIMIT_ENABLED": "maybe"}, field: "RATE_LIMIT_ENABLED"},
		{name: "Unknown strategy", vars: map[string]string{"RATE_LIMIT_STRATEGY": "etcd"}, field: "rateLimit.strategy"},
		{name: "Redis without URL", vars: map[string]string{"RATE_LIMIT_STRATEGY": "redis"}, field: "rateLimit.redis.url"},
		{name: "Negative block duration", vars: map[string]string{"RATE_LIMIT_BLOCK_DURATION": "-1"}, field: "rateLimit.blockDurationSeconds"},
		{name: "Max delay below base", vars: map[string]string{"BRUTE_FORCE_BASE_DELAY_MS": "500", "BRUTE_FORCE_MAX_DELAY_MS": "100"}, field: "bruteForce.progressiveDelays.maxDelayMs"},
		{name: "Zero captcha threshold", vars: map[string]string{"BRUTE_FORCE_CAPTCHA_THRESHOLD": "0"}, field: "bruteForce.captchaThreshold"},
		{name: "Non numeric port", vars: map[string]string{"SERVER_PORT": "http"}, field: "SERVER_PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupEnv(t, tt.vars)

			err := newQuietLoader().Load()
			require.Error(t, err)

			var cfgErr *domain.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoadRoutes_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	content := `{
		"routes": {
			"auth.login": {"points": 3, "blockDurationSeconds": 600},
			"checkout": {"enabled": false}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	routes, err := LoadRoutes(path, nil)
	require.NoError(t, err)
	require.Len(t, routes, 2)

	login := routes["auth.login"]
	require.NotNil(t, login.Points)
	assert.Equal(t, 3, *login.Points)
	assert.Nil(t, login.DurationSeconds)

	checkout := routes["checkout"]
	require.NotNil(t, checkout.Enabled)
	assert.False(t, *checkout.Enabled)
}

func TestLoadRoutes_MissingFileUsesDefaults(t *testing.T) {
	var warned string
	routes, err := LoadRoutes(filepath.Join(t.TempDir(), "nope.json"), func(msg string) { warned = msg })
	require.NoError(t, err)

	assert.Equal(t, DefaultRoutes(), routes)
	assert.Contains(t, warned, "not found")
}

func TestLoadRoutes_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := LoadRoutes(path, nil)
	assert.Error(t, err)
}

func TestConfigLoader_RoutesFileValidatedAgainstGlobal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"routes": {"search": {"points": 0}}}`), 0o600))
	setupEnv(t, map[string]string{"RATE_LIMIT_ROUTES_FILE": path})

	err := newQuietLoader().Load()
	require.Error(t, err)

	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "rateLimit.routes.search.points", cfgErr.Field)
}

func TestConfigLoader_Reload(t *testing.T) {
	setupEnv(t, map[string]string{"RATE_LIMIT_POINTS": "10"})

	loader := newQuietLoader()
	first, err := loader.LoadRateLimitConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, first.Points)

	t.Setenv("RATE_LIMIT_POINTS", "20")
	require.NoError(t, loader.Reload())

	second, err := loader.LoadRateLimitConfig()
	require.NoError(t, err)
	assert.Equal(t, 20, second.Points)
	assert.Equal(t, 10, first.Points)
}
