package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-guard/internal/domain"
)

var redisTestNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newMockedRedisStore(t *testing.T) (*RedisStore, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	store := NewRedisStoreWithClient(client, nil, &RedisStoreOpts{
		TimeProvider:      func() time.Time { return redisTestNow },
		ConnectTimeout:    100 * time.Millisecond,
		ConnectRetryDelay: time.Millisecond,
	})
	t.Cleanup(func() { _ = store.Close() })
	return store, mock
}

func TestRedisStore_Increment(t *testing.T) {
	store, mock := newMockedRedisStore(t)
	key := "rl:global:203.0.113.1"

	mock.ExpectEval(incrementScript, []string{key}, int64(60000)).SetVal([]interface{}{int64(3), int64(45000)})

	record, err := store.Increment(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, record.Count)
	assert.Equal(t, redisTestNow.Add(45*time.Second), record.ResetAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Get(t *testing.T) {
	tests := []struct {
		name          string
		result        []interface{}
		expectedFound bool
		expectedCount int
	}{
		{name: "Live counter", result: []interface{}{int64(4), int64(30000)}, expectedFound: true, expectedCount: 4},
		{name: "Missing key", result: []interface{}{int64(0), int64(-2)}, expectedFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockedRedisStore(t)
			mock.ExpectEval(getScript, []string{"bf:login:a@b.c"}).SetVal(tt.result)

			record, found, err := store.Get(context.Background(), "bf:login:a@b.c")
			require.NoError(t, err)
			assert.Equal(t, tt.expectedFound, found)
			assert.Equal(t, tt.expectedCount, record.Count)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRedisStore_BlockAndReset(t *testing.T) {
	store, mock := newMockedRedisStore(t)
	ctx := context.Background()

	mock.ExpectEval(blockScript, []string{"key"}, int64(900000)).SetVal(int64(1))
	mock.ExpectDel("key").SetVal(1)

	require.NoError(t, store.Block(ctx, "key", 15*time.Minute))
	require.NoError(t, store.Reset(ctx, "key"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedKind domain.StoreErrorKind
		isQuota      bool
	}{
		{
			name:         "Out of memory is quota",
			err:          errors.New("OOM command not allowed when used memory > 'maxmemory'."),
			expectedKind: domain.QuotaError,
			isQuota:      true,
		},
		{
			name:         "Client limit is quota",
			err:          errors.New("ERR max number of clients reached"),
			expectedKind: domain.QuotaError,
			isQuota:      true,
		},
		{
			name:         "Connection refused is transport",
			err:          errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"),
			expectedKind: domain.TransportError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockedRedisStore(t)
			mock.ExpectEval(incrementScript, []string{"key"}, int64(1000)).SetErr(tt.err)

			_, err := store.Increment(context.Background(), "key", time.Second)
			require.Error(t, err)

			var storeErr *domain.StoreError
			require.True(t, errors.As(err, &storeErr))
			assert.Equal(t, tt.expectedKind, storeErr.Kind)
			assert.Equal(t, "INCREMENT", storeErr.Op)
			assert.Equal(t, tt.isQuota, domain.IsQuotaExceeded(err))
			assert.Equal(t, !tt.isQuota, errors.Is(err, domain.ErrStoreUnavailable))
		})
	}
}

func TestRedisStore_InvalidScriptResult(t *testing.T) {
	store, mock := newMockedRedisStore(t)
	mock.ExpectEval(incrementScript, []string{"key"}, int64(1000)).SetVal("unexpected")

	_, err := store.Increment(context.Background(), "key", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}

func TestRedisStore_Connect(t *testing.T) {
	t.Run("Should become usable after retry", func(t *testing.T) {
		store, mock := newMockedRedisStore(t)
		mock.ExpectPing().SetErr(errors.New("connection refused"))
		mock.ExpectPing().SetVal("PONG")

		assert.True(t, store.Connect(context.Background()))
		assert.True(t, store.Usable())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should be unusable after two failures", func(t *testing.T) {
		store, mock := newMockedRedisStore(t)
		mock.ExpectPing().SetErr(errors.New("connection refused"))
		mock.ExpectPing().SetErr(errors.New("connection refused"))

		assert.False(t, store.Connect(context.Background()))
		assert.False(t, store.Usable())

		_, err := store.Increment(context.Background(), "key", time.Second)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNewRedisStore_InvalidURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not-a-redis-url", nil, nil)
	require.Error(t, err)

	var cfgErr *domain.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	// Porta 1 no loopback recusa conexões imediatamente
	store, err := NewRedisStore(context.Background(), "redis://127.0.0.1:1/0", nil, &RedisStoreOpts{
		ConnectTimeout:    200 * time.Millisecond,
		ConnectRetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	defer store.Close()

	assert.False(t, store.Usable())
	assert.Equal(t, "redis", store.Name())
	assert.Equal(t, "127.0.0.1:1", store.Target())
}
