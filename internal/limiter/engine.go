package limiter

import (
	"context"
	"fmt"
	"time"

	"storefront-guard/internal/domain"
	"storefront-guard/internal/logger"
)

// Engine aplica uma RateLimitPolicy contra um CounterStore.
// Não guarda estado além da política e do handle do store.
type Engine struct {
	scope   string
	policy  domain.RateLimitPolicy
	store   domain.CounterStore
	logger  domain.Logger
	metrics domain.MetricsSink
	events  domain.SecurityEventSink
}

// NewEngine cria um engine para um escopo
func NewEngine(
	scope string,
	policy domain.RateLimitPolicy,
	store domain.CounterStore,
	l domain.Logger,
	metrics domain.MetricsSink,
	events domain.SecurityEventSink,
) (*Engine, error) {
	if store == nil {
		return nil, &domain.ConfigurationError{Field: "store", Reason: "counter store is required"}
	}
	if err := policy.Validate(scope); err != nil {
		return nil, err
	}
	if l == nil {
		l = logger.Nop()
	}

	return &Engine{
		scope:   scope,
		policy:  policy,
		store:   store,
		logger:  l,
		metrics: metrics,
		events:  events,
	}, nil
}

// Scope retorna o escopo do engine
func (e *Engine) Scope() string {
	return e.scope
}

// Policy retorna a política aplicada
func (e *Engine) Policy() domain.RateLimitPolicy {
	return e.policy
}

// Check incrementa o contador da chave e decide se a requisição passa
func (e *Engine) Check(ctx context.Context, key string) (domain.Decision, error) {
	p := e.policy

	// Desabilitado não toca no store
	if !p.Enabled {
		return domain.Decision{
			Allowed:   true,
			Remaining: p.Points,
			Limit:     p.Points,
			Scope:     e.scope,
			Key:       key,
		}, nil
	}

	record, err := e.store.Increment(ctx, key, p.Duration())
	if err != nil {
		if domain.IsQuotaExceeded(err) && e.metrics != nil {
			e.metrics.StoreQuotaExceeded(e.store.Name())
		}
		return domain.Decision{}, fmt.Errorf("rate limit check for %s: %w", key, err)
	}

	if record.Count <= p.Points {
		return domain.Decision{
			Allowed:   true,
			Remaining: max(0, p.Points-record.Count),
			Limit:     p.Points,
			ResetAt:   record.ResetAt,
			Scope:     e.scope,
			Key:       key,
		}, nil
	}

	resetAt := record.ResetAt
	if record.Count == p.Points+1 {
		resetAt = e.block(ctx, key, record)
	}

	if e.metrics != nil {
		e.metrics.RateLimitDenied(e.scope)
	}

	e.logger.WithContext(ctx).Info("Rate limit exceeded", map[string]interface{}{
		"scope":         e.scope,
		"key":           key,
		"current_count": record.Count,
		"limit":         p.Points,
	})

	return domain.Decision{
		Allowed:           false,
		Remaining:         0,
		RetryAfterSeconds: p.RetryAfterSeconds(),
		Limit:             p.Points,
		ResetAt:           resetAt,
		Scope:             e.scope,
		Key:               key,
	}, nil
}

// block estende a janela da chave para a duração de bloqueio na primeira
// requisição excedente e registra o evento
func (e *Engine) block(ctx context.Context, key string, record domain.CounterRecord) time.Time {
	p := e.policy
	resetAt := record.ResetAt

	if p.BlockDurationSeconds > p.DurationSeconds {
		if err := e.store.Block(ctx, key, p.BlockDuration()); err != nil {
			// Não retorna erro para não impedir a resposta 429
			e.logger.WithContext(ctx).Warn("Failed to extend block window", map[string]interface{}{
				"error":  err.Error(),
				"scope":  e.scope,
				"key":    key,
				"target": e.store.Target(),
			})
		} else {
			resetAt = time.Now().Add(p.BlockDuration())
		}
	}

	if e.events != nil {
		_ = e.events.Record(ctx, domain.SecurityEvent{
			Type:       domain.EventRateLimited,
			Scope:      e.scope,
			Attempts:   record.Count,
			OccurredAt: time.Now(),
			Metadata: map[string]interface{}{
				"key": key,
			},
		})
	}
	return resetAt
}

// Reset remove o contador de uma chave
func (e *Engine) Reset(ctx context.Context, key string) error {
	if err := e.store.Reset(ctx, key); err != nil {
		return fmt.Errorf("failed to reset %s: %w", key, err)
	}
	return nil
}
