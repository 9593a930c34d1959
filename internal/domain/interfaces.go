package domain

import (
	"context"
	"time"
)

// CounterStore define o primitivo atômico de incremento com expiração.
// Todas as operações sobre a mesma chave são linearizáveis.
type CounterStore interface {
	// Increment incrementa o contador, criando-o com TTL window se ausente
	Increment(ctx context.Context, key string, window time.Duration) (CounterRecord, error)

	// Get lê o contador sem incrementar; found=false se ausente ou expirado
	Get(ctx context.Context, key string) (record CounterRecord, found bool, err error)

	// Block estende a expiração de um contador vivo para pelo menos ttl
	Block(ctx context.Context, key string, ttl time.Duration) error

	// Reset remove o contador antes da expiração
	Reset(ctx context.Context, key string) error

	// Name identifica a implementação nos logs
	Name() string

	// Target identifica o destino (endereço do Redis, "local" para memória)
	Target() string

	// Close libera os recursos do store
	Close() error
}

// Logger define a interface para logging estruturado
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	WithContext(ctx context.Context) Logger
}

// MetricsSink recebe contadores de negações, bloqueios e failovers
type MetricsSink interface {
	RateLimitDenied(scope string)
	StoreQuotaExceeded(store string)
	StoreDegraded(store string)
	CaptchaRequired()
	AccountLocked()
}

// SecurityEventSink recebe eventos de segurança append-only
type SecurityEventSink interface {
	Record(ctx context.Context, event SecurityEvent) error
}

// ConfigLoader define a interface para carregamento de configurações
type ConfigLoader interface {
	LoadRateLimitConfig() (*RateLimitConfig, error)
	LoadBruteForceConfig() (*BruteForceConfig, error)
	Reload() error
}
