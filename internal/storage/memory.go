package storage

import (
	"context"
	"sync"
	"time"

	"storefront-guard/internal/domain"
)

const defaultSweepInterval = time.Minute

// MemoryStoreOpts permite injetar relógio e intervalo de limpeza
type MemoryStoreOpts struct {
	TimeProvider  func() time.Time
	SweepInterval time.Duration
}

// counterBucket guarda um contador com seu próprio lock
type counterBucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
	// deleted marca buckets removidos do mapa; quem os segurar deve recarregar
	deleted bool
}

// MemoryStore implementa domain.CounterStore em memória.
// Cada chave tem seu próprio mutex, então chaves distintas não se serializam.
type MemoryStore struct {
	buckets sync.Map // map[string]*counterBucket
	now     func() time.Time
	logger  domain.Logger

	stop      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore cria uma nova instância do MemoryStore
func NewMemoryStore(logger domain.Logger, opts *MemoryStoreOpts) *MemoryStore {
	now := time.Now
	interval := defaultSweepInterval
	if opts != nil {
		if opts.TimeProvider != nil {
			now = opts.TimeProvider
		}
		if opts.SweepInterval > 0 {
			interval = opts.SweepInterval
		}
	}

	store := &MemoryStore{
		now:    now,
		logger: logger,
		stop:   make(chan struct{}),
	}

	// Inicia goroutine de limpeza
	go store.janitor(interval)

	if logger != nil {
		logger.Debug("Memory counter store initialized", map[string]interface{}{
			"sweep_interval": interval.String(),
		})
	}

	return store
}

// Increment incrementa o contador para uma chave e retorna o registro atualizado
func (m *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (domain.CounterRecord, error) {
	for {
		value, _ := m.buckets.LoadOrStore(key, &counterBucket{})
		bucket := value.(*counterBucket)

		bucket.mu.Lock()
		if bucket.deleted {
			// Removido entre o load e o lock; tenta de novo com um bucket novo
			bucket.mu.Unlock()
			continue
		}

		now := m.now()
		if bucket.resetAt.IsZero() || !now.Before(bucket.resetAt) {
			bucket.count = 0
			bucket.resetAt = now.Add(window)
		}
		bucket.count++
		record := domain.CounterRecord{Count: bucket.count, ResetAt: bucket.resetAt}
		bucket.mu.Unlock()

		return record, nil
	}
}

// Get recupera o contador sem incrementar
func (m *MemoryStore) Get(ctx context.Context, key string) (domain.CounterRecord, bool, error) {
	value, ok := m.buckets.Load(key)
	if !ok {
		return domain.CounterRecord{}, false, nil
	}
	bucket := value.(*counterBucket)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	if bucket.deleted || bucket.resetAt.IsZero() || !m.now().Before(bucket.resetAt) {
		return domain.CounterRecord{}, false, nil
	}
	return domain.CounterRecord{Count: bucket.count, ResetAt: bucket.resetAt}, true, nil
}

// Block estende a expiração de um contador vivo
func (m *MemoryStore) Block(ctx context.Context, key string, ttl time.Duration) error {
	value, ok := m.buckets.Load(key)
	if !ok {
		return nil
	}
	bucket := value.(*counterBucket)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := m.now()
	if bucket.deleted || !now.Before(bucket.resetAt) {
		return nil
	}
	if blockedUntil := now.Add(ttl); blockedUntil.After(bucket.resetAt) {
		bucket.resetAt = blockedUntil
	}
	return nil
}

// Reset limpa os dados de uma chave
func (m *MemoryStore) Reset(ctx context.Context, key string) error {
	value, ok := m.buckets.LoadAndDelete(key)
	if !ok {
		return nil
	}
	bucket := value.(*counterBucket)
	bucket.mu.Lock()
	bucket.deleted = true
	bucket.mu.Unlock()
	return nil
}

// Name identifica a implementação
func (m *MemoryStore) Name() string {
	return string(domain.MemoryStrategy)
}

// Target identifica o destino do store
func (m *MemoryStore) Target() string {
	return "local"
}

// Len retorna o número de chaves vivas ou aguardando limpeza
func (m *MemoryStore) Len() int {
	n := 0
	m.buckets.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Close interrompe a limpeza periódica; o store continua utilizável
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.stop)
		if m.logger != nil {
			m.logger.Debug("Memory counter store closed", nil)
		}
	})
	return nil
}

// janitor remove entradas expiradas periodicamente
func (m *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

// sweep remove entradas expiradas e retorna quantas foram removidas
func (m *MemoryStore) sweep() int {
	now := m.now()
	removed := 0

	m.buckets.Range(func(key, value interface{}) bool {
		bucket := value.(*counterBucket)
		bucket.mu.Lock()
		if !bucket.deleted && !now.Before(bucket.resetAt) {
			bucket.deleted = true
			m.buckets.CompareAndDelete(key, bucket)
			removed++
		}
		bucket.mu.Unlock()
		return true
	})

	if removed > 0 && m.logger != nil {
		m.logger.Debug("Memory counter store sweep completed", map[string]interface{}{
			"removed": removed,
		})
	}
	return removed
}
