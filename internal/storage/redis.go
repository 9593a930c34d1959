package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"storefront-guard/internal/domain"
	"storefront-guard/internal/logger"
)

const (
	// incrementScript incrementa e define o TTL apenas na criação da chave
	incrementScript = `
		local count = redis.call('INCR', KEYS[1])
		local ttl = redis.call('PTTL', KEYS[1])
		if ttl < 0 then
			redis.call('PEXPIRE', KEYS[1], ARGV[1])
			ttl = tonumber(ARGV[1])
		end
		return {count, ttl}
	`

	// getScript lê contador e TTL na mesma operação
	getScript = `
		local count = redis.call('GET', KEYS[1])
		if not count then
			return {0, -2}
		end
		return {tonumber(count), redis.call('PTTL', KEYS[1])}
	`

	// blockScript só estende, nunca encurta, a expiração de uma chave viva
	blockScript = `
		local ttl = redis.call('PTTL', KEYS[1])
		if ttl < 0 then
			return 0
		end
		if ttl < tonumber(ARGV[1]) then
			redis.call('PEXPIRE', KEYS[1], ARGV[1])
			return 1
		end
		return 0
	`
)

// RedisStoreOpts contém ajustes opcionais do RedisStore
type RedisStoreOpts struct {
	TimeProvider   func() time.Time
	ConnectTimeout time.Duration
	// ConnectRetryDelay é a espera antes da única nova tentativa de conexão
	ConnectRetryDelay time.Duration
}

// RedisStore implementa domain.CounterStore usando Redis
type RedisStore struct {
	client *redis.Client
	target string
	logger domain.Logger
	now    func() time.Time

	connectTimeout    time.Duration
	connectRetryDelay time.Duration

	usable    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewRedisStore cria o cliente a partir de uma URL e tenta conectar.
// Uma falha de conexão não é erro: o store apenas se reporta inutilizável.
func NewRedisStore(ctx context.Context, url string, logger domain.Logger, opts *RedisStoreOpts) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "redis.url", Reason: err.Error()}
	}

	// Configurações de performance; timeouts curtos para não segurar requisições
	options.PoolSize = 20
	options.MaxRetries = 1
	options.DialTimeout = 2 * time.Second
	options.ReadTimeout = time.Second
	options.WriteTimeout = time.Second
	options.PoolTimeout = 2 * time.Second
	options.IdleTimeout = 5 * time.Minute

	store := NewRedisStoreWithClient(redis.NewClient(options), logger, opts)
	store.usable.Store(false)
	store.Connect(ctx)

	return store, nil
}

// NewRedisStoreWithClient envolve um cliente já criado, considerado utilizável
func NewRedisStoreWithClient(client *redis.Client, logger domain.Logger, opts *RedisStoreOpts) *RedisStore {
	store := &RedisStore{
		client:            client,
		target:            client.Options().Addr,
		logger:            logger,
		now:               time.Now,
		connectTimeout:    3 * time.Second,
		connectRetryDelay: 250 * time.Millisecond,
	}
	if opts != nil {
		if opts.TimeProvider != nil {
			store.now = opts.TimeProvider
		}
		if opts.ConnectTimeout > 0 {
			store.connectTimeout = opts.ConnectTimeout
		}
		if opts.ConnectRetryDelay > 0 {
			store.connectRetryDelay = opts.ConnectRetryDelay
		}
	}
	store.usable.Store(true)
	return store
}

// Connect testa a conexão com uma única nova tentativa e retorna se ficou utilizável
func (r *RedisStore) Connect(ctx context.Context) bool {
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, r.connectTimeout)
		err = r.client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			r.usable.Store(true)
			r.log().Info("Redis connection established", map[string]interface{}{
				"target":  r.target,
				"attempt": attempt,
			})
			return true
		}
		if attempt == 1 {
			select {
			case <-time.After(r.connectRetryDelay):
			case <-ctx.Done():
				attempt = 2
			}
		}
	}

	r.usable.Store(false)
	r.log().Warn("Redis connection failed, store marked unusable", map[string]interface{}{
		"error":  err.Error(),
		"target": r.target,
	})
	return false
}

// Usable informa se a conexão inicial foi estabelecida
func (r *RedisStore) Usable() bool {
	return r.usable.Load()
}

// Increment incrementa o contador de forma atômica no servidor
func (r *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (domain.CounterRecord, error) {
	start := time.Now()
	if err := r.ensureUsable("INCREMENT", key); err != nil {
		return domain.CounterRecord{}, err
	}

	result, err := r.client.Eval(ctx, incrementScript, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return domain.CounterRecord{}, r.fail("INCREMENT", key, start, err)
	}

	count, ttl, err := parsePair(result)
	if err != nil {
		return domain.CounterRecord{}, r.fail("INCREMENT", key, start, err)
	}

	r.logStorageOperation("INCREMENT", key, start)
	return domain.CounterRecord{
		Count:   int(count),
		ResetAt: r.now().Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

// Get recupera o contador sem incrementar
func (r *RedisStore) Get(ctx context.Context, key string) (domain.CounterRecord, bool, error) {
	start := time.Now()
	if err := r.ensureUsable("GET", key); err != nil {
		return domain.CounterRecord{}, false, err
	}

	result, err := r.client.Eval(ctx, getScript, []string{key}).Result()
	if err != nil {
		return domain.CounterRecord{}, false, r.fail("GET", key, start, err)
	}

	count, ttl, err := parsePair(result)
	if err != nil {
		return domain.CounterRecord{}, false, r.fail("GET", key, start, err)
	}

	r.logStorageOperation("GET", key, start)
	if count <= 0 || ttl == -2 {
		return domain.CounterRecord{}, false, nil
	}

	record := domain.CounterRecord{Count: int(count)}
	if ttl > 0 {
		record.ResetAt = r.now().Add(time.Duration(ttl) * time.Millisecond)
	}
	return record, true, nil
}

// Block estende a expiração de uma chave viva
func (r *RedisStore) Block(ctx context.Context, key string, ttl time.Duration) error {
	start := time.Now()
	if err := r.ensureUsable("BLOCK", key); err != nil {
		return err
	}

	if err := r.client.Eval(ctx, blockScript, []string{key}, ttl.Milliseconds()).Err(); err != nil {
		return r.fail("BLOCK", key, start, err)
	}

	r.logStorageOperation("BLOCK", key, start)
	return nil
}

// Reset limpa os dados de uma chave
func (r *RedisStore) Reset(ctx context.Context, key string) error {
	start := time.Now()
	if err := r.ensureUsable("RESET", key); err != nil {
		return err
	}

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return r.fail("RESET", key, start, err)
	}

	r.logStorageOperation("RESET", key, start)
	return nil
}

// Name identifica a implementação
func (r *RedisStore) Name() string {
	return string(domain.RedisStrategy)
}

// Target identifica o endereço do Redis
func (r *RedisStore) Target() string {
	return r.target
}

// Close fecha a conexão com o Redis uma única vez
func (r *RedisStore) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.client.Close()
		if r.closeErr != nil {
			r.log().Error("Failed to close Redis connection", r.closeErr, map[string]interface{}{
				"target": r.target,
			})
			return
		}
		r.log().Info("Redis connection closed", map[string]interface{}{
			"target": r.target,
		})
	})
	return r.closeErr
}

func (r *RedisStore) ensureUsable(op, key string) error {
	if r.usable.Load() {
		return nil
	}
	return &domain.StoreError{
		Op:     op,
		Key:    key,
		Target: r.target,
		Kind:   domain.TransportError,
		Err:    errors.New("redis store is not connected"),
	}
}

func (r *RedisStore) fail(op, key string, start time.Time, err error) error {
	storeErr := &domain.StoreError{
		Op:     op,
		Key:    key,
		Target: r.target,
		Kind:   classifyRedisError(err),
		Err:    err,
	}
	r.log().Debug("Storage operation failed", map[string]interface{}{
		"operation":  op,
		"key":        key,
		"kind":       storeErr.Kind,
		"error":      err.Error(),
		"latency_ms": time.Since(start).Seconds() * 1000,
	})
	return storeErr
}

// logStorageOperation registra operações de storage
func (r *RedisStore) logStorageOperation(operation, key string, start time.Time) {
	r.log().Debug("Storage operation completed", map[string]interface{}{
		"operation":  operation,
		"key":        key,
		"latency_ms": time.Since(start).Seconds() * 1000,
	})
}

func (r *RedisStore) log() domain.Logger {
	if r.logger == nil {
		return logger.Nop()
	}
	return r.logger
}

// classifyRedisError separa o sinal de limite do servidor de falhas de transporte
func classifyRedisError(err error) domain.StoreErrorKind {
	msg := err.Error()
	if strings.HasPrefix(msg, "OOM ") || strings.Contains(msg, "max number of clients reached") {
		return domain.QuotaError
	}
	return domain.TransportError
}

// parsePair converte a resposta {int, int} dos scripts Lua
func parsePair(result interface{}) (int64, int64, error) {
	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("invalid script result: %v", result)
	}
	first, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("invalid count in script result: %v", values[0])
	}
	second, ok := values[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("invalid ttl in script result: %v", values[1])
	}
	return first, second, nil
}
