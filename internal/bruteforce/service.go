package bruteforce

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"storefront-guard/internal/domain"
	"storefront-guard/internal/logger"
	"storefront-guard/internal/storage"
)

// Sleeper executa a espera do atraso progressivo
type Sleeper func(ctx context.Context, d time.Duration) error

// Deps são os colaboradores do Service
type Deps struct {
	Logger  domain.Logger
	Metrics domain.MetricsSink
	Events  domain.SecurityEventSink

	// Store injetado; se nil é criado a partir da estratégia
	Store domain.CounterStore
	// Sleeper substituível em testes
	Sleeper Sleeper

	MemoryOpts *storage.MemoryStoreOpts
	RedisOpts  *storage.RedisStoreOpts
}

// Service rastreia falhas de login por identificador e calcula a escalada:
// atraso progressivo, CAPTCHA e sinal de bloqueio. Não bloqueia o login;
// quem decide é o fluxo de login a partir do veredito.
type Service struct {
	store   domain.CounterStore
	logger  domain.Logger
	metrics domain.MetricsSink
	events  domain.SecurityEventSink
	sleep   Sleeper

	config      atomic.Pointer[domain.BruteForceConfig]
	cleanupOnce sync.Once
}

// NewService valida a configuração e cria o store próprio do serviço
func NewService(ctx context.Context, cfg domain.BruteForceConfig, deps Deps) (*Service, error) {
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
			Name:       "brute_force",
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

	sleep := deps.Sleeper
	if sleep == nil {
		sleep = contextSleep
	}

	service := &Service{
		store:   store,
		logger:  l,
		metrics: deps.Metrics,
		events:  deps.Events,
		sleep:   sleep,
	}
	service.config.Store(&cfg)

	l.Info("Brute force protection initialized", map[string]interface{}{
		"enabled":           cfg.Enabled,
		"store":             store.Name(),
		"window_seconds":    cfg.WindowSeconds,
		"captcha_threshold": cfg.CaptchaThreshold,
		"lockout_threshold": cfg.LockoutThreshold,
	})

	return service, nil
}

// Config retorna o snapshot de configuração em uso
func (s *Service) Config() domain.BruteForceConfig {
	return *s.config.Load()
}

// UpdateConfig troca atomicamente o snapshot de configuração
func (s *Service) UpdateConfig(cfg domain.BruteForceConfig) error {
	current := s.config.Load()
	cfg.Strategy = current.Strategy
	cfg.Redis = current.Redis
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.config.Store(&cfg)
	return nil
}

// RecordFailure registra uma falha de login e retorna o veredito
func (s *Service) RecordFailure(ctx context.Context, identifier string) (domain.FailureVerdict, error) {
	id, err := normalizeIdentifier(identifier)
	if err != nil {
		return domain.FailureVerdict{}, err
	}

	cfg := s.config.Load()
	if !cfg.Enabled {
		return domain.FailureVerdict{}, nil
	}

	record, err := s.store.Increment(ctx, s.key(cfg, id), cfg.Window())
	if err != nil {
		if domain.IsQuotaExceeded(err) && s.metrics != nil {
			s.metrics.StoreQuotaExceeded(s.store.Name())
		}
		return domain.FailureVerdict{}, fmt.Errorf("failed to record login failure: %w", err)
	}

	verdict := verdictFor(cfg, record.Count)
	s.escalate(ctx, cfg, id, verdict)

	s.logger.WithContext(ctx).Info("Login failure recorded", map[string]interface{}{
		"identifier":       logger.MaskIdentifier(id),
		"attempts":         verdict.Attempts,
		"captcha_required": verdict.CaptchaRequired,
		"locked":           verdict.Locked,
	})

	return verdict, nil
}

// ApplyDelay dorme de acordo com as tentativas atuais, sem incrementar
func (s *Service) ApplyDelay(ctx context.Context, identifier string) error {
	id, err := normalizeIdentifier(identifier)
	if err != nil {
		return err
	}

	cfg := s.config.Load()
	if !cfg.Enabled {
		return nil
	}

	attempts, err := s.attempts(ctx, cfg, id)
	if err != nil {
		if domain.IsQuotaExceeded(err) {
			return err
		}
		s.logger.WithContext(ctx).Warn("Failed to read login attempts, skipping delay", map[string]interface{}{
			"error":      err.Error(),
			"identifier": logger.MaskIdentifier(id),
			"target":     s.store.Target(),
		})
		return nil
	}

	delay := Delay(cfg.ProgressiveDelays, attempts)
	if delay <= 0 {
		return nil
	}

	s.logger.WithContext(ctx).Debug("Applying progressive delay", map[string]interface{}{
		"identifier": logger.MaskIdentifier(id),
		"attempts":   attempts,
		"delay_ms":   delay.Milliseconds(),
	})
	return s.sleep(ctx, delay)
}

// Reset apaga o registro após login bem-sucedido. Falhas de transporte
// são só logadas; o sinal de quota do store é propagado.
func (s *Service) Reset(ctx context.Context, identifier string) error {
	id, err := normalizeIdentifier(identifier)
	if err != nil {
		return err
	}

	cfg := s.config.Load()
	if !cfg.Enabled {
		return nil
	}

	if err := s.store.Reset(ctx, s.key(cfg, id)); err != nil {
		if domain.IsQuotaExceeded(err) {
			return fmt.Errorf("failed to reset login attempts: %w", err)
		}
		s.logger.WithContext(ctx).Warn("Failed to reset login attempts", map[string]interface{}{
			"error":      err.Error(),
			"identifier": logger.MaskIdentifier(id),
			"target":     s.store.Target(),
		})
	}
	return nil
}

// Unlock é o desbloqueio manual: apaga o registro e emite account_unlocked
func (s *Service) Unlock(ctx context.Context, identifier string) error {
	if err := s.Reset(ctx, identifier); err != nil {
		return err
	}

	id, _ := normalizeIdentifier(identifier)
	if s.events != nil {
		_ = s.events.Record(ctx, domain.SecurityEvent{
			Type:       domain.EventAccountUnlocked,
			Identifier: id,
			OccurredAt: time.Now(),
		})
	}
	return nil
}

// Status retorna o registro do identificador; found=false equivale a Clean
func (s *Service) Status(ctx context.Context, identifier string) (domain.BruteForceRecord, bool, error) {
	id, err := normalizeIdentifier(identifier)
	if err != nil {
		return domain.BruteForceRecord{}, false, err
	}

	cfg := s.config.Load()
	if !cfg.Enabled {
		return domain.BruteForceRecord{}, false, nil
	}

	record, found, err := s.store.Get(ctx, s.key(cfg, id))
	if err != nil {
		return domain.BruteForceRecord{}, false, fmt.Errorf("failed to read login attempts: %w", err)
	}
	if !found || record.Count <= 0 {
		return domain.BruteForceRecord{}, false, nil
	}

	status := domain.BruteForceRecord{
		Identifier:      id,
		Attempts:        record.Count,
		WindowExpiresAt: record.ResetAt,
	}
	if !record.ResetAt.IsZero() {
		status.FirstFailureAt = record.ResetAt.Add(-cfg.Window())
	}
	return status, true, nil
}

// Verdict calcula o veredito atual sem registrar falha
func (s *Service) Verdict(ctx context.Context, identifier string) (domain.FailureVerdict, error) {
	record, found, err := s.Status(ctx, identifier)
	if err != nil || !found {
		return domain.FailureVerdict{}, err
	}
	return verdictFor(s.config.Load(), record.Attempts), nil
}

// Cleanup fecha o store uma única vez; nunca falha
func (s *Service) Cleanup(ctx context.Context) {
	s.cleanupOnce.Do(func() {
		if err := s.store.Close(); err != nil {
			s.logger.WithContext(ctx).Warn("Brute force cleanup failed", map[string]interface{}{
				"error":  err.Error(),
				"store":  s.store.Name(),
				"target": s.store.Target(),
			})
		}
	})
}

// Delay calcula min(base + (attempts-1)*step, max); zero tentativas não atrasa
func Delay(delays domain.ProgressiveDelays, attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	ms := delays.BaseDelayMs + (attempts-1)*delays.StepDelayMs
	if ms > delays.MaxDelayMs {
		ms = delays.MaxDelayMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Service) attempts(ctx context.Context, cfg *domain.BruteForceConfig, id string) (int, error) {
	record, found, err := s.store.Get(ctx, s.key(cfg, id))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return record.Count, nil
}

// escalate emite eventos e métricas apenas nas transições de limiar
func (s *Service) escalate(ctx context.Context, cfg *domain.BruteForceConfig, id string, verdict domain.FailureVerdict) {
	if verdict.Attempts == cfg.CaptchaThreshold {
		if s.metrics != nil {
			s.metrics.CaptchaRequired()
		}
		s.record(ctx, domain.EventLoginCaptchaThreshold, id, verdict.Attempts)
	}
	if cfg.LockoutThreshold > 0 && verdict.Attempts == cfg.LockoutThreshold {
		if s.metrics != nil {
			s.metrics.AccountLocked()
		}
		s.record(ctx, domain.EventAccountLocked, id, verdict.Attempts)
	}
}

func (s *Service) record(ctx context.Context, eventType domain.SecurityEventType, id string, attempts int) {
	if s.events == nil {
		return
	}
	_ = s.events.Record(ctx, domain.SecurityEvent{
		Type:       eventType,
		Identifier: id,
		Attempts:   attempts,
		OccurredAt: time.Now(),
	})
}

func (s *Service) key(cfg *domain.BruteForceConfig, id string) string {
	return cfg.KeyPrefix + ":login:" + id
}

func verdictFor(cfg *domain.BruteForceConfig, attempts int) domain.FailureVerdict {
	return domain.FailureVerdict{
		Attempts:        attempts,
		CaptchaRequired: attempts >= cfg.CaptchaThreshold,
		Locked:          cfg.LockoutThreshold > 0 && attempts >= cfg.LockoutThreshold,
	}
}

func normalizeIdentifier(identifier string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if id == "" {
		return "", domain.ErrMissingIdentifier
	}
	return id, nil
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
