package limiter

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"storefront-guard/internal/domain"
	"storefront-guard/internal/logger"
	"storefront-guard/internal/storage"
)

// BundleDeps são os colaboradores do Bundle
type BundleDeps struct {
	Logger  domain.Logger
	Metrics domain.MetricsSink
	Events  domain.SecurityEventSink

	// Store injetado (útil em testes); se nil é criado a partir da estratégia
	Store domain.CounterStore

	MemoryOpts *storage.MemoryStoreOpts
	RedisOpts  *storage.RedisStoreOpts
}

// bundleSnapshot é imutável; UpdateConfig troca o ponteiro inteiro
type bundleSnapshot struct {
	config domain.RateLimitConfig
	global *Engine
	scopes map[string]*Engine
}

func (s *bundleSnapshot) engine(scope string) *Engine {
	if engine, ok := s.scopes[scope]; ok {
		return engine
	}
	return s.global
}

// Bundle compõe o limiter global e os limiters por escopo sobre um único store
type Bundle struct {
	store   domain.CounterStore
	logger  domain.Logger
	metrics domain.MetricsSink
	events  domain.SecurityEventSink

	snapshot    atomic.Pointer[bundleSnapshot]
	cleanupOnce sync.Once
}

// NewBundle valida a configuração, escolhe o store uma única vez e monta os engines.
// Falha de conexão com o Redis não impede a construção.
func NewBundle(ctx context.Context, cfg domain.RateLimitConfig, deps BundleDeps) (*Bundle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := deps.Logger
	if l == nil {
		l = logger.Nop()
	}

	store := deps.Store
	if store == nil {
		redisURL := ""
		if cfg.Redis != nil {
			redisURL = cfg.Redis.URL
		}
		created, err := storage.NewStoreFactory(l, deps.Metrics, deps.Events).CreateStore(ctx, storage.StoreConfig{
			Name:       "rate_limit",
			Strategy:   cfg.Strategy,
			RedisURL:   redisURL,
			MemoryOpts: deps.MemoryOpts,
			RedisOpts:  deps.RedisOpts,
		})
		if err != nil {
			return nil, err
		}
		store = created
	}

	bundle := &Bundle{
		store:   store,
		logger:  l,
		metrics: deps.Metrics,
		events:  deps.Events,
	}

	snapshot, err := bundle.buildSnapshot(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	bundle.snapshot.Store(snapshot)

	l.Info("Rate limiter bundle initialized", map[string]interface{}{
		"strategy": cfg.Strategy,
		"store":    store.Name(),
		"target":   store.Target(),
		"scopes":   bundle.Scopes(),
	})

	return bundle, nil
}

func (b *Bundle) buildSnapshot(cfg domain.RateLimitConfig) (*bundleSnapshot, error) {
	global, err := NewEngine(domain.GlobalScope, cfg.RateLimitPolicy, b.store, b.logger, b.metrics, b.events)
	if err != nil {
		return nil, err
	}

	scopes := make(map[string]*Engine, len(cfg.Routes))
	for name, override := range cfg.Routes {
		engine, err := NewEngine(name, override.Apply(cfg.RateLimitPolicy), b.store, b.logger, b.metrics, b.events)
		if err != nil {
			return nil, err
		}
		scopes[name] = engine
	}

	return &bundleSnapshot{config: cfg, global: global, scopes: scopes}, nil
}

// Evaluate verifica a requisição no escopo pedido; escopos desconhecidos usam o global
func (b *Bundle) Evaluate(ctx context.Context, identity domain.RequestIdentity, scope string) (domain.Decision, error) {
	snapshot := b.snapshot.Load()
	engine := snapshot.engine(scope)
	policy := engine.Policy()

	if identity.Internal && snapshot.config.AllowInternalBypass {
		return domain.Decision{
			Allowed:   true,
			Remaining: policy.Points,
			Limit:     policy.Points,
			Scope:     engine.Scope(),
			Bypassed:  true,
		}, nil
	}

	key := BuildKey(policy.KeyPrefix, engine.Scope(), ClientIdentity(identity))
	return engine.Check(ctx, key)
}

// Reset remove o contador de uma identidade num escopo
func (b *Bundle) Reset(ctx context.Context, identity domain.RequestIdentity, scope string) error {
	engine := b.snapshot.Load().engine(scope)
	key := BuildKey(engine.Policy().KeyPrefix, engine.Scope(), ClientIdentity(identity))
	return engine.Reset(ctx, key)
}

// Policy retorna a política efetiva de um escopo
func (b *Bundle) Policy(scope string) domain.RateLimitPolicy {
	return b.snapshot.Load().engine(scope).Policy()
}

// Scopes lista os escopos nomeados configurados
func (b *Bundle) Scopes() []string {
	snapshot := b.snapshot.Load()
	scopes := make([]string, 0, len(snapshot.scopes))
	for name := range snapshot.scopes {
		scopes = append(scopes, name)
	}
	sort.Strings(scopes)
	return scopes
}

// Config retorna o snapshot de configuração em uso
func (b *Bundle) Config() domain.RateLimitConfig {
	return b.snapshot.Load().config
}

// StoreName retorna o store ativo, refletindo um eventual failover
func (b *Bundle) StoreName() string {
	return b.store.Name()
}

// UpdateConfig troca atomicamente o snapshot de políticas.
// A estratégia de store é lida só na construção.
func (b *Bundle) UpdateConfig(cfg domain.RateLimitConfig) error {
	current := b.snapshot.Load().config
	if cfg.Strategy != current.Strategy {
		b.logger.Warn("Storage strategy change ignored until restart", map[string]interface{}{
			"current":   current.Strategy,
			"requested": cfg.Strategy,
		})
		cfg.Strategy = current.Strategy
		cfg.Redis = current.Redis
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	snapshot, err := b.buildSnapshot(cfg)
	if err != nil {
		return err
	}
	b.snapshot.Store(snapshot)

	b.logger.Info("Rate limiter configuration updated", map[string]interface{}{
		"enabled": cfg.Enabled,
		"points":  cfg.Points,
		"scopes":  b.Scopes(),
	})
	return nil
}

// Cleanup fecha o store uma única vez; nunca falha
func (b *Bundle) Cleanup(ctx context.Context) {
	b.cleanupOnce.Do(func() {
		if err := b.store.Close(); err != nil {
			b.logger.WithContext(ctx).Warn("Rate limiter cleanup failed", map[string]interface{}{
				"error":  err.Error(),
				"store":  b.store.Name(),
				"target": b.store.Target(),
			})
			return
		}
		b.logger.Debug("Rate limiter store closed", nil)
	})
}
