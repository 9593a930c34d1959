package storage

import (
	"context"
	"fmt"
	"strings"

	"storefront-guard/internal/domain"
)

// StoreConfig contém configurações para criação de um CounterStore
type StoreConfig struct {
	// Name identifica o consumidor nos logs ("rate_limit", "brute_force")
	Name     string
	Strategy domain.Strategy
	RedisURL string

	MemoryOpts *MemoryStoreOpts
	RedisOpts  *RedisStoreOpts
}

// StoreFactory cria CounterStores seguindo o Strategy Pattern
type StoreFactory struct {
	logger  domain.Logger
	metrics domain.MetricsSink
	events  domain.SecurityEventSink
}

// NewStoreFactory cria uma nova instância da factory
func NewStoreFactory(logger domain.Logger, metrics domain.MetricsSink, events domain.SecurityEventSink) *StoreFactory {
	return &StoreFactory{
		logger:  logger,
		metrics: metrics,
		events:  events,
	}
}

// CreateStore cria o store escolhido. A estratégia redis nunca falha por
// indisponibilidade: o resultado é um FailoverStore já degradado para memória.
func (f *StoreFactory) CreateStore(ctx context.Context, config StoreConfig) (domain.CounterStore, error) {
	if err := f.ValidateConfig(config); err != nil {
		return nil, err
	}

	switch domain.Strategy(strings.ToLower(string(config.Strategy))) {
	case domain.RedisStrategy:
		return f.createRedisStore(ctx, config)
	default:
		return f.createMemoryStore(config), nil
	}
}

// createRedisStore cria o Redis envolvido pelo controlador de failover
func (f *StoreFactory) createRedisStore(ctx context.Context, config StoreConfig) (domain.CounterStore, error) {
	primary, err := NewRedisStore(ctx, config.RedisURL, f.logger, config.RedisOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis store for %s: %w", config.Name, err)
	}

	fallback := NewMemoryStore(f.logger, config.MemoryOpts)
	store := NewFailoverStore(primary, fallback, !primary.Usable(), f.logger, f.metrics, f.events)

	if f.logger != nil {
		f.logger.Info("Counter store created", map[string]interface{}{
			"name":     config.Name,
			"strategy": domain.RedisStrategy,
			"target":   primary.Target(),
			"state":    store.State().String(),
		})
	}
	return store, nil
}

// createMemoryStore cria um store em memória
func (f *StoreFactory) createMemoryStore(config StoreConfig) domain.CounterStore {
	store := NewMemoryStore(f.logger, config.MemoryOpts)

	if f.logger != nil {
		f.logger.Info("Counter store created", map[string]interface{}{
			"name":     config.Name,
			"strategy": domain.MemoryStrategy,
		})
	}
	return store
}

// GetSupportedStrategies retorna as estratégias suportadas
func (f *StoreFactory) GetSupportedStrategies() []domain.Strategy {
	return []domain.Strategy{domain.MemoryStrategy, domain.RedisStrategy}
}

// ValidateConfig valida uma configuração de store
func (f *StoreFactory) ValidateConfig(config StoreConfig) error {
	switch domain.Strategy(strings.ToLower(string(config.Strategy))) {
	case domain.MemoryStrategy:
		return nil
	case domain.RedisStrategy:
		if strings.TrimSpace(config.RedisURL) == "" {
			return &domain.ConfigurationError{Field: config.Name + ".redis.url", Reason: "required when strategy is redis"}
		}
		return nil
	default:
		return &domain.ConfigurationError{Field: config.Name + ".strategy", Reason: fmt.Sprintf("unsupported storage strategy: %s", config.Strategy)}
	}
}
