package domain

import (
	"strings"
	"time"
)

// Strategy define o backend de contadores escolhido na configuração
type Strategy string

const (
	MemoryStrategy Strategy = "memory"
	RedisStrategy  Strategy = "redis"
)

// GlobalScope é o escopo usado quando nenhuma rota específica se aplica
const GlobalScope = "global"

// RejectionCode identifica o motivo de uma negação para a camada HTTP
type RejectionCode string

const (
	// CodeRateLimited é a negação normal de política
	CodeRateLimited RejectionCode = "RATE_LIMITED"
	// CodeRateLimitExceeded indica que o próprio backing store está limitando
	CodeRateLimitExceeded RejectionCode = "RATE_LIMIT_EXCEEDED"
)

// RateLimitPolicy define uma política de janela fixa
type RateLimitPolicy struct {
	Enabled              bool   `json:"enabled"`
	KeyPrefix            string `json:"keyPrefix"`
	Points               int    `json:"points"`
	DurationSeconds      int    `json:"durationSeconds"`
	BlockDurationSeconds int    `json:"blockDurationSeconds"`
}

// Duration retorna a janela de contagem
func (p RateLimitPolicy) Duration() time.Duration {
	return time.Duration(p.DurationSeconds) * time.Second
}

// BlockDuration retorna a janela de penalidade
func (p RateLimitPolicy) BlockDuration() time.Duration {
	return time.Duration(p.BlockDurationSeconds) * time.Second
}

// RetryAfterSeconds é o tempo informado ao cliente quando negado
func (p RateLimitPolicy) RetryAfterSeconds() int {
	return max(p.DurationSeconds, p.BlockDurationSeconds)
}

// Validate verifica os invariantes da política
func (p RateLimitPolicy) Validate(field string) error {
	if p.Points < 1 {
		return &ConfigurationError{Field: field + ".points", Reason: "must be at least 1"}
	}
	if p.DurationSeconds < 1 {
		return &ConfigurationError{Field: field + ".durationSeconds", Reason: "must be at least 1"}
	}
	if p.BlockDurationSeconds < 0 {
		return &ConfigurationError{Field: field + ".blockDurationSeconds", Reason: "must not be negative"}
	}
	return nil
}

// RouteOverride sobrescreve campos da política global; campos nil herdam
type RouteOverride struct {
	Enabled              *bool   `json:"enabled,omitempty"`
	KeyPrefix            *string `json:"keyPrefix,omitempty"`
	Points               *int    `json:"points,omitempty"`
	DurationSeconds      *int    `json:"durationSeconds,omitempty"`
	BlockDurationSeconds *int    `json:"blockDurationSeconds,omitempty"`
}

// Apply mescla o override sobre a política base
func (o RouteOverride) Apply(base RateLimitPolicy) RateLimitPolicy {
	merged := base
	if o.Enabled != nil {
		merged.Enabled = *o.Enabled
	}
	if o.KeyPrefix != nil {
		merged.KeyPrefix = *o.KeyPrefix
	}
	if o.Points != nil {
		merged.Points = *o.Points
	}
	if o.DurationSeconds != nil {
		merged.DurationSeconds = *o.DurationSeconds
	}
	if o.BlockDurationSeconds != nil {
		merged.BlockDurationSeconds = *o.BlockDurationSeconds
	}
	return merged
}

// RedisSettings contém o endereço do store distribuído
type RedisSettings struct {
	URL string `json:"url"`
}

// RateLimitConfig representa toda a configuração do rate limiter
type RateLimitConfig struct {
	RateLimitPolicy
	Strategy            Strategy                 `json:"strategy"`
	Redis               *RedisSettings           `json:"redis,omitempty"`
	Routes              map[string]RouteOverride `json:"routes,omitempty"`
	AllowInternalBypass bool                     `json:"allowInternalBypass"`
}

// Validate valida a política global e todas as rotas já mescladas
func (c RateLimitConfig) Validate() error {
	if err := validateStrategy(c.Strategy, c.Redis, "rateLimit"); err != nil {
		return err
	}
	if err := c.RateLimitPolicy.Validate("rateLimit"); err != nil {
		return err
	}
	for name, override := range c.Routes {
		if strings.TrimSpace(name) == "" {
			return &ConfigurationError{Field: "rateLimit.routes", Reason: "route name must not be empty"}
		}
		if err := override.Apply(c.RateLimitPolicy).Validate("rateLimit.routes." + name); err != nil {
			return err
		}
	}
	return nil
}

// ProgressiveDelays configura o atraso progressivo em milissegundos
type ProgressiveDelays struct {
	BaseDelayMs int `json:"baseDelayMs"`
	StepDelayMs int `json:"stepDelayMs"`
	MaxDelayMs  int `json:"maxDelayMs"`
}

// BruteForceConfig representa a configuração da proteção contra força bruta
type BruteForceConfig struct {
	Enabled           bool              `json:"enabled"`
	KeyPrefix         string            `json:"keyPrefix"`
	WindowSeconds     int               `json:"windowSeconds"`
	ProgressiveDelays ProgressiveDelays `json:"progressiveDelays"`
	CaptchaThreshold  int               `json:"captchaThreshold"`
	// LockoutThreshold igual a zero desativa o sinal de bloqueio
	LockoutThreshold int            `json:"lockoutThreshold"`
	Strategy         Strategy       `json:"strategy"`
	Redis            *RedisSettings `json:"redis,omitempty"`
}

// Window retorna a janela de contagem de falhas
func (c BruteForceConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// Validate verifica os invariantes da configuração
func (c BruteForceConfig) Validate() error {
	if err := validateStrategy(c.Strategy, c.Redis, "bruteForce"); err != nil {
		return err
	}
	if c.WindowSeconds < 1 {
		return &ConfigurationError{Field: "bruteForce.windowSeconds", Reason: "must be at least 1"}
	}
	if c.CaptchaThreshold < 1 {
		return &ConfigurationError{Field: "bruteForce.captchaThreshold", Reason: "must be at least 1"}
	}
	if c.LockoutThreshold < 0 {
		return &ConfigurationError{Field: "bruteForce.lockoutThreshold", Reason: "must not be negative"}
	}
	d := c.ProgressiveDelays
	if d.BaseDelayMs < 0 || d.StepDelayMs < 0 || d.MaxDelayMs < 0 {
		return &ConfigurationError{Field: "bruteForce.progressiveDelays", Reason: "delays must not be negative"}
	}
	if d.MaxDelayMs < d.BaseDelayMs {
		return &ConfigurationError{Field: "bruteForce.progressiveDelays.maxDelayMs", Reason: "must be greater than or equal to baseDelayMs"}
	}
	return nil
}

func validateStrategy(strategy Strategy, redis *RedisSettings, field string) error {
	switch strategy {
	case MemoryStrategy:
		return nil
	case RedisStrategy:
		if redis == nil || strings.TrimSpace(redis.URL) == "" {
			return &ConfigurationError{Field: field + ".redis.url", Reason: "required when strategy is redis"}
		}
		return nil
	default:
		return &ConfigurationError{Field: field + ".strategy", Reason: "must be 'memory' or 'redis', got '" + string(strategy) + "'"}
	}
}

// CounterRecord é o contador de uma chave dentro de sua janela
type CounterRecord struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"resetAt"`
}

// RequestIdentity descreve quem está fazendo a requisição
type RequestIdentity struct {
	IP            string
	CorrelationID string
	// Internal é definido pelo chamador a partir de um predicado injetado
	Internal bool
}

// Decision é o resultado de uma verificação de rate limit
type Decision struct {
	Allowed           bool      `json:"allowed"`
	Remaining         int       `json:"remaining"`
	RetryAfterSeconds int       `json:"retryAfterSeconds"`
	Limit             int       `json:"limit"`
	ResetAt           time.Time `json:"resetAt"`
	Scope             string    `json:"scope"`
	Key               string    `json:"key,omitempty"`
	Bypassed          bool      `json:"bypassed,omitempty"`
}

// Rejection é o dado estruturado entregue à camada HTTP numa negação
type Rejection struct {
	Code              RejectionCode `json:"code"`
	RetryAfterSeconds int           `json:"retryAfterSeconds"`
	Scope             string        `json:"scope"`
}

// Rejection monta a rejeição correspondente a uma decisão negada
func (d Decision) Rejection() Rejection {
	return Rejection{
		Code:              CodeRateLimited,
		RetryAfterSeconds: d.RetryAfterSeconds,
		Scope:             d.Scope,
	}
}

// FailureVerdict é o resultado de uma falha de login registrada
type FailureVerdict struct {
	Attempts        int  `json:"attempts"`
	CaptchaRequired bool `json:"captchaRequired"`
	Locked          bool `json:"locked"`
}

// BruteForceRecord é o estado de tentativas de um identificador
type BruteForceRecord struct {
	Identifier      string    `json:"identifier"`
	Attempts        int       `json:"attempts"`
	FirstFailureAt  time.Time `json:"firstFailureAt"`
	WindowExpiresAt time.Time `json:"windowExpiresAt"`
}

// SecurityEventType identifica eventos de segurança
type SecurityEventType string

const (
	EventAccountLocked         SecurityEventType = "account_locked"
	EventAccountUnlocked       SecurityEventType = "account_unlocked"
	EventLoginCaptchaThreshold SecurityEventType = "login_captcha_threshold"
	EventRateLimited           SecurityEventType = "rate_limited"
	EventStoreDegraded         SecurityEventType = "store_degraded"
)

// SecurityEvent é um registro append-only de um evento de segurança
type SecurityEvent struct {
	Type       SecurityEventType      `json:"type"`
	Identifier string                 `json:"identifier,omitempty"`
	Scope      string                 `json:"scope,omitempty"`
	Attempts   int                    `json:"attempts,omitempty"`
	OccurredAt time.Time              `json:"occurredAt"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}
