package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func validPolicy() RateLimitPolicy {
	return RateLimitPolicy{Enabled: true, KeyPrefix: "rl", Points: 10, DurationSeconds: 60}
}

func TestRouteOverride_Apply(t *testing.T) {
	disabled := false
	prefix := "login"
	override := RouteOverride{
		Enabled:   &disabled,
		KeyPrefix: &prefix,
		Points:    intPtr(5),
	}

	merged := override.Apply(validPolicy())
	assert.False(t, merged.Enabled)
	assert.Equal(t, "login", merged.KeyPrefix)
	assert.Equal(t, 5, merged.Points)
	assert.Equal(t, 60, merged.DurationSeconds)
	assert.Equal(t, 0, merged.BlockDurationSeconds)

	assert.Equal(t, validPolicy(), RouteOverride{}.Apply(validPolicy()))
}

func TestRateLimitPolicy_RetryAfterSeconds(t *testing.T) {
	policy := validPolicy()
	assert.Equal(t, 60, policy.RetryAfterSeconds())

	policy.BlockDurationSeconds = 900
	assert.Equal(t, 900, policy.RetryAfterSeconds())
}

func TestRateLimitConfig_Validate(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(c *RateLimitConfig)
		expectedField string
	}{
		{name: "Valid memory config", mutate: func(c *RateLimitConfig) {}},
		{name: "Zero points", mutate: func(c *RateLimitConfig) { c.Points = 0 }, expectedField: "rateLimit.points"},
		{name: "Zero duration", mutate: func(c *RateLimitConfig) { c.DurationSeconds = 0 }, expectedField: "rateLimit.durationSeconds"},
		{name: "Negative block", mutate: func(c *RateLimitConfig) { c.BlockDurationSeconds = -1 }, expectedField: "rateLimit.blockDurationSeconds"},
		{name: "Unknown strategy", mutate: func(c *RateLimitConfig) { c.Strategy = "memcached" }, expectedField: "rateLimit.strategy"},
		{name: "Redis without URL", mutate: func(c *RateLimitConfig) { c.Strategy = RedisStrategy }, expectedField: "rateLimit.redis.url"},
		{
			name: "Route inherits invalid merged value",
			mutate: func(c *RateLimitConfig) {
				c.Routes = map[string]RouteOverride{"auth.login": {Points: intPtr(0)}}
			},
			expectedField: "rateLimit.routes.auth.login.points",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := RateLimitConfig{RateLimitPolicy: validPolicy(), Strategy: MemoryStrategy}
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.expectedField == "" {
				assert.NoError(t, err)
				return
			}

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.expectedField, cfgErr.Field)
		})
	}
}

func TestBruteForceConfig_Validate(t *testing.T) {
	valid := BruteForceConfig{
		Enabled:           true,
		KeyPrefix:         "bf",
		WindowSeconds:     900,
		ProgressiveDelays: ProgressiveDelays{BaseDelayMs: 250, StepDelayMs: 250, MaxDelayMs: 3000},
		CaptchaThreshold:  3,
		Strategy:          MemoryStrategy,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name          string
		mutate        func(c *BruteForceConfig)
		expectedField string
	}{
		{name: "Zero window", mutate: func(c *BruteForceConfig) { c.WindowSeconds = 0 }, expectedField: "bruteForce.windowSeconds"},
		{name: "Zero captcha threshold", mutate: func(c *BruteForceConfig) { c.CaptchaThreshold = 0 }, expectedField: "bruteForce.captchaThreshold"},
		{name: "Negative lockout", mutate: func(c *BruteForceConfig) { c.LockoutThreshold = -1 }, expectedField: "bruteForce.lockoutThreshold"},
		{name: "Max below base", mutate: func(c *BruteForceConfig) { c.ProgressiveDelays.MaxDelayMs = 100 }, expectedField: "bruteForce.progressiveDelays.maxDelayMs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			var cfgErr *ConfigurationError
			require.True(t, errors.As(cfg.Validate(), &cfgErr))
			assert.Equal(t, tt.expectedField, cfgErr.Field)
		})
	}
}

func TestStoreError_Is(t *testing.T) {
	quota := &StoreError{Op: "INCREMENT", Kind: QuotaError, Err: errors.New("OOM")}
	transport := &StoreError{Op: "GET", Kind: TransportError, Err: errors.New("refused")}

	wrapped := fmt.Errorf("check failed: %w", quota)
	assert.True(t, IsQuotaExceeded(wrapped))
	assert.False(t, errors.Is(wrapped, ErrStoreUnavailable))

	assert.False(t, IsQuotaExceeded(transport))
	assert.True(t, errors.Is(transport, ErrStoreUnavailable))
	assert.False(t, IsQuotaExceeded(errors.New("OOM")))
}

func TestDecision_Rejection(t *testing.T) {
	rejection := Decision{Allowed: false, RetryAfterSeconds: 900, Scope: "auth.login"}.Rejection()
	assert.Equal(t, Rejection{Code: CodeRateLimited, RetryAfterSeconds: 900, Scope: "auth.login"}, rejection)
}
