package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable casa com falhas de transporte do store
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrQuotaExceeded casa com o sinal de limite do próprio store
	ErrQuotaExceeded = errors.New("counter store quota exceeded")

	// ErrMissingIdentifier é retornado antes de qualquer acesso ao store
	ErrMissingIdentifier = errors.New("identifier is required")
)

// StoreErrorKind classifica falhas do store
type StoreErrorKind string

const (
	TransportError StoreErrorKind = "transport"
	QuotaError     StoreErrorKind = "quota"
)

// StoreError descreve uma falha de operação num CounterStore
type StoreError struct {
	Op     string
	Key    string
	Target string
	Kind   StoreErrorKind
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s on %s (%s): %v", e.Op, e.Key, e.Target, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is permite errors.Is(err, ErrQuotaExceeded) e errors.Is(err, ErrStoreUnavailable)
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrQuotaExceeded:
		return e.Kind == QuotaError
	case ErrStoreUnavailable:
		return e.Kind == TransportError
	}
	return false
}

// ConfigurationError indica configuração inválida detectada na construção
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// IsQuotaExceeded informa se err é um sinal de limite do backing store
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}
