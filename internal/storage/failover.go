package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"storefront-guard/internal/domain"
	"storefront-guard/internal/logger"
)

// FailoverState é o estado do FailoverStore
type FailoverState int32

const (
	// Connected delega ao store primário
	Connected FailoverState = iota
	// Degraded delega ao fallback até o fim do processo
	Degraded
)

func (s FailoverState) String() string {
	if s == Degraded {
		return "degraded"
	}
	return "connected"
}

// FailoverStore envolve um par primário/fallback atrás de domain.CounterStore.
// A primeira falha de transporte do primário muda o estado para Degraded
// uma única vez; erros de quota do primário são propagados sem failover.
type FailoverStore struct {
	primary  domain.CounterStore
	fallback domain.CounterStore
	logger   domain.Logger
	metrics  domain.MetricsSink
	events   domain.SecurityEventSink

	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// NewFailoverStore cria o controlador; startDegraded quando o primário nunca conectou
func NewFailoverStore(
	primary, fallback domain.CounterStore,
	startDegraded bool,
	logger domain.Logger,
	metrics domain.MetricsSink,
	events domain.SecurityEventSink,
) *FailoverStore {
	store := &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		metrics:  metrics,
		events:   events,
	}
	if startDegraded {
		store.degrade(context.Background(), "connect", errors.New("initial connection failed"))
	}
	return store
}

// State retorna o estado atual
func (f *FailoverStore) State() FailoverState {
	return FailoverState(f.state.Load())
}

// Increment delega ao store ativo, degradando em falha de transporte
func (f *FailoverStore) Increment(ctx context.Context, key string, window time.Duration) (domain.CounterRecord, error) {
	if f.State() == Connected {
		record, err := f.primary.Increment(ctx, key, window)
		if !f.shouldFailover(ctx, "increment", err) {
			return record, err
		}
	}
	return f.fallback.Increment(ctx, key, window)
}

// Get delega ao store ativo
func (f *FailoverStore) Get(ctx context.Context, key string) (domain.CounterRecord, bool, error) {
	if f.State() == Connected {
		record, found, err := f.primary.Get(ctx, key)
		if !f.shouldFailover(ctx, "get", err) {
			return record, found, err
		}
	}
	return f.fallback.Get(ctx, key)
}

// Block delega ao store ativo
func (f *FailoverStore) Block(ctx context.Context, key string, ttl time.Duration) error {
	if f.State() == Connected {
		err := f.primary.Block(ctx, key, ttl)
		if !f.shouldFailover(ctx, "block", err) {
			return err
		}
	}
	return f.fallback.Block(ctx, key, ttl)
}

// Reset delega ao store ativo
func (f *FailoverStore) Reset(ctx context.Context, key string) error {
	if f.State() == Connected {
		err := f.primary.Reset(ctx, key)
		if !f.shouldFailover(ctx, "reset", err) {
			return err
		}
	}
	return f.fallback.Reset(ctx, key)
}

// Name identifica o store ativo
func (f *FailoverStore) Name() string {
	if f.State() == Degraded {
		return f.fallback.Name()
	}
	return f.primary.Name()
}

// Target identifica o destino ativo
func (f *FailoverStore) Target() string {
	if f.State() == Degraded {
		return f.fallback.Target()
	}
	return f.primary.Target()
}

// Close fecha primário e fallback uma única vez
func (f *FailoverStore) Close() error {
	f.closeOnce.Do(func() {
		f.closeErr = errors.Join(f.primary.Close(), f.fallback.Close())
	})
	return f.closeErr
}

// shouldFailover decide se a chamada deve ser repetida no fallback
func (f *FailoverStore) shouldFailover(ctx context.Context, op string, err error) bool {
	if err == nil || domain.IsQuotaExceeded(err) {
		return false
	}
	// Cancelamento do chamador não diz nada sobre a saúde do store
	if ctx.Err() != nil {
		return false
	}
	f.degrade(ctx, op, err)
	return true
}

// degrade executa a transição Connected -> Degraded exatamente uma vez
func (f *FailoverStore) degrade(ctx context.Context, op string, cause error) {
	if !f.state.CompareAndSwap(int32(Connected), int32(Degraded)) {
		return
	}

	f.log().Warn("Counter store degraded to fallback", map[string]interface{}{
		"error":    cause.Error(),
		"store":    f.primary.Name(),
		"target":   f.primary.Target(),
		"fallback": f.fallback.Name(),
		"op":       op,
	})

	if f.metrics != nil {
		f.metrics.StoreDegraded(f.primary.Name())
	}
	if f.events != nil {
		_ = f.events.Record(ctx, domain.SecurityEvent{
			Type:       domain.EventStoreDegraded,
			OccurredAt: time.Now(),
			Metadata: map[string]interface{}{
				"store":  f.primary.Name(),
				"target": f.primary.Target(),
				"op":     op,
			},
		})
	}
}

func (f *FailoverStore) log() domain.Logger {
	if f.logger == nil {
		return logger.Nop()
	}
	return f.logger
}
