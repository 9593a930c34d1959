package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-guard/internal/domain"
)

func TestStoreFactory_CreateStore(t *testing.T) {
	factory := NewStoreFactory(nil, nil, nil)

	t.Run("Should create memory store", func(t *testing.T) {
		store, err := factory.CreateStore(context.Background(), StoreConfig{Name: "rate_limit", Strategy: domain.MemoryStrategy})
		require.NoError(t, err)
		defer store.Close()

		_, ok := store.(*MemoryStore)
		assert.True(t, ok)
	})

	t.Run("Should degrade unreachable redis to memory", func(t *testing.T) {
		metrics := &recordingMetrics{}
		events := &recordingEvents{}
		factory := NewStoreFactory(nil, metrics, events)

		store, err := factory.CreateStore(context.Background(), StoreConfig{
			Name:      "rate_limit",
			Strategy:  domain.RedisStrategy,
			RedisURL:  "redis://127.0.0.1:1/0",
			RedisOpts: &RedisStoreOpts{ConnectTimeout: 200 * time.Millisecond, ConnectRetryDelay: time.Millisecond},
		})
		require.NoError(t, err)
		defer store.Close()

		failover, ok := store.(*FailoverStore)
		require.True(t, ok)
		assert.Equal(t, Degraded, failover.State())
		assert.Equal(t, "memory", store.Name())
		assert.Equal(t, 1, metrics.degraded)
		assert.Len(t, events.events, 1)

		record, err := store.Increment(context.Background(), "key", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, record.Count)
	})
}

func TestStoreFactory_ValidateConfig(t *testing.T) {
	factory := NewStoreFactory(nil, nil, nil)

	tests := []struct {
		name    string
		config  StoreConfig
		wantErr bool
	}{
		{name: "Memory", config: StoreConfig{Name: "rl", Strategy: domain.MemoryStrategy}},
		{name: "Redis with URL", config: StoreConfig{Name: "rl", Strategy: "REDIS", RedisURL: "redis://localhost:6379"}},
		{name: "Redis without URL", config: StoreConfig{Name: "rl", Strategy: domain.RedisStrategy}, wantErr: true},
		{name: "Unknown strategy", config: StoreConfig{Name: "rl", Strategy: "etcd"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := factory.ValidateConfig(tt.config)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var cfgErr *domain.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}

	assert.ElementsMatch(t, []domain.Strategy{domain.MemoryStrategy, domain.RedisStrategy}, factory.GetSupportedStrategies())
}
