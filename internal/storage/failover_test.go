package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"storefront-guard/internal/domain"
)

// MockCounterStore é um mock do CounterStore para testes
type MockCounterStore struct {
	mock.Mock
}

func (m *MockCounterStore) Increment(ctx context.Context, key string, window time.Duration) (domain.CounterRecord, error) {
	args := m.Called(ctx, key, window)
	return args.Get(0).(domain.CounterRecord), args.Error(1)
}

func (m *MockCounterStore) Get(ctx context.Context, key string) (domain.CounterRecord, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(domain.CounterRecord), args.Bool(1), args.Error(2)
}

func (m *MockCounterStore) Block(ctx context.Context, key string, ttl time.Duration) error {
	args := m.Called(ctx, key, ttl)
	return args.Error(0)
}

func (m *MockCounterStore) Reset(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockCounterStore) Name() string {
	return "redis"
}

func (m *MockCounterStore) Target() string {
	return "redis-test:6379"
}

func (m *MockCounterStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// recordingMetrics conta failovers e sinais de quota
type recordingMetrics struct {
	mu       sync.Mutex
	degraded int
	quota    int
}

func (r *recordingMetrics) RateLimitDenied(string) {}
func (r *recordingMetrics) StoreQuotaExceeded(string) {
	r.mu.Lock()
	r.quota++
	r.mu.Unlock()
}
func (r *recordingMetrics) StoreDegraded(string) {
	r.mu.Lock()
	r.degraded++
	r.mu.Unlock()
}
func (r *recordingMetrics) CaptchaRequired() {}
func (r *recordingMetrics) AccountLocked()   {}

// recordingEvents guarda os eventos recebidos
type recordingEvents struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
}

func (r *recordingEvents) Record(_ context.Context, event domain.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func transportErr(op string) error {
	return &domain.StoreError{Op: op, Kind: domain.TransportError, Err: errors.New("connection reset by peer")}
}

func quotaErr(op string) error {
	return &domain.StoreError{Op: op, Kind: domain.QuotaError, Err: errors.New("OOM command not allowed")}
}

func TestFailoverStore_DelegatesWhileConnected(t *testing.T) {
	primary := new(MockCounterStore)
	fallback := NewMemoryStore(nil, nil)
	defer fallback.Close()

	primary.On("Increment", mock.Anything, "key", time.Minute).
		Return(domain.CounterRecord{Count: 7}, nil).Once()

	store := NewFailoverStore(primary, fallback, false, nil, nil, nil)

	record, err := store.Increment(context.Background(), "key", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 7, record.Count)
	assert.Equal(t, Connected, store.State())
	assert.Equal(t, "redis", store.Name())
	assert.Equal(t, "redis-test:6379", store.Target())
	primary.AssertExpectations(t)
}

func TestFailoverStore_DegradesOnceOnTransportError(t *testing.T) {
	primary := new(MockCounterStore)
	fallback := NewMemoryStore(nil, nil)
	defer fallback.Close()
	metrics := &recordingMetrics{}
	events := &recordingEvents{}

	primary.On("Increment", mock.Anything, "key", time.Minute).
		Return(domain.CounterRecord{}, transportErr("INCREMENT")).Once()

	store := NewFailoverStore(primary, fallback, false, nil, metrics, events)
	ctx := context.Background()

	// A chamada que falhou é servida pelo fallback
	record, err := store.Increment(ctx, "key", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, record.Count)
	assert.Equal(t, Degraded, store.State())

	// Chamadas seguintes não tocam o primário
	for i := 0; i < 5; i++ {
		_, err := store.Increment(ctx, "key", time.Minute)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, metrics.degraded)
	require.Len(t, events.events, 1)
	assert.Equal(t, domain.EventStoreDegraded, events.events[0].Type)
	assert.Equal(t, "memory", store.Name())
	assert.Equal(t, "local", store.Target())
	primary.AssertExpectations(t)
}

func TestFailoverStore_ConcurrentFailuresDegradeOnce(t *testing.T) {
	primary := new(MockCounterStore)
	fallback := NewMemoryStore(nil, nil)
	defer fallback.Close()
	metrics := &recordingMetrics{}

	primary.On("Increment", mock.Anything, "key", time.Minute).
		Return(domain.CounterRecord{}, transportErr("INCREMENT")).Maybe()

	store := NewFailoverStore(primary, fallback, false, nil, metrics, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Increment(context.Background(), "key", time.Minute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, Degraded, store.State())
	assert.Equal(t, 1, metrics.degraded)

	record, found, err := store.Get(context.Background(), "key")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 32, record.Count)
}

func TestFailoverStore_QuotaErrorPropagates(t *testing.T) {
	primary := new(MockCounterStore)
	fallback := NewMemoryStore(nil, nil)
	defer fallback.Close()

	primary.On("Increment", mock.Anything, "key", time.Minute).
		Return(domain.CounterRecord{}, quotaErr("INCREMENT")).Once()

	store := NewFailoverStore(primary, fallback, false, nil, nil, nil)

	_, err := store.Increment(context.Background(), "key", time.Minute)
	require.Error(t, err)
	assert.True(t, domain.IsQuotaExceeded(err))
	assert.Equal(t, Connected, store.State())
	assert.Equal(t, 0, fallback.Len())
}

func TestFailoverStore_CallerCancellationDoesNotDegrade(t *testing.T) {
	primary := new(MockCounterStore)
	fallback := NewMemoryStore(nil, nil)
	defer fallback.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	primary.On("Reset", mock.Anything, "key").Return(context.Canceled).Once()

	store := NewFailoverStore(primary, fallback, false, nil, nil, nil)

	err := store.Reset(ctx, "key")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Connected, store.State())
}

func TestFailoverStore_StartDegraded(t *testing.T) {
	primary := new(MockCounterStore)
	fallback := NewMemoryStore(nil, nil)
	defer fallback.Close()
	metrics := &recordingMetrics{}

	store := NewFailoverStore(primary, fallback, true, nil, metrics, nil)
	assert.Equal(t, Degraded, store.State())
	assert.Equal(t, 1, metrics.degraded)

	require.NoError(t, store.Block(context.Background(), "key", time.Minute))
	_, err := store.Increment(context.Background(), "key", time.Minute)
	require.NoError(t, err)

	// Nenhuma chamada ao primário
	primary.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything, mock.Anything)
	primary.AssertNotCalled(t, "Block", mock.Anything, mock.Anything, mock.Anything)
}

func TestFailoverStore_CloseOnce(t *testing.T) {
	primary := new(MockCounterStore)
	fallback := NewMemoryStore(nil, nil)

	closeErr := errors.New("close failed")
	primary.On("Close").Return(closeErr).Once()

	store := NewFailoverStore(primary, fallback, false, nil, nil, nil)

	err := store.Close()
	assert.ErrorIs(t, err, closeErr)
	assert.ErrorIs(t, store.Close(), closeErr)
	primary.AssertNumberOfCalls(t, "Close", 1)
}
