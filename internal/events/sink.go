package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storefront-guard/internal/domain"
	"storefront-guard/internal/logger"
)

// LogSink grava eventos de segurança no log estruturado
type LogSink struct {
	logger domain.Logger
}

// NewLogSink cria um sink baseado em log
func NewLogSink(l domain.Logger) *LogSink {
	return &LogSink{logger: l}
}

// Record grava o evento; o identificador é mascarado
func (s *LogSink) Record(ctx context.Context, event domain.SecurityEvent) error {
	fields := map[string]interface{}{
		"event_type":  event.Type,
		"occurred_at": event.OccurredAt.UTC().Format(time.RFC3339),
	}
	if event.Identifier != "" {
		fields["identifier"] = logger.MaskIdentifier(event.Identifier)
	}
	if event.Scope != "" {
		fields["scope"] = event.Scope
	}
	if event.Attempts > 0 {
		fields["attempts"] = event.Attempts
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	s.logger.WithContext(ctx).Warn("Security event", fields)
	return nil
}

// MemorySink guarda os últimos eventos numa janela circular
type MemorySink struct {
	mu       sync.Mutex
	events   []domain.SecurityEvent
	capacity int
}

// NewMemorySink cria um sink que retém até capacity eventos
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemorySink{capacity: capacity}
}

// Record adiciona o evento, descartando o mais antigo se cheio
func (s *MemorySink) Record(_ context.Context, event domain.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) == s.capacity {
		copy(s.events, s.events[1:])
		s.events = s.events[:len(s.events)-1]
	}
	s.events = append(s.events, event)
	return nil
}

// Recent retorna uma cópia dos eventos retidos, do mais antigo ao mais novo
func (s *MemorySink) Recent() []domain.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.SecurityEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Multi repassa o evento a vários sinks
type Multi []domain.SecurityEventSink

// Record grava em todos os sinks e retorna o primeiro erro
func (m Multi) Record(ctx context.Context, event domain.SecurityEvent) error {
	var first error
	for _, sink := range m {
		if err := sink.Record(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Guard torna um sink fire-and-forget: erros e panics são logados e descartados
type Guard struct {
	sink   domain.SecurityEventSink
	logger domain.Logger
}

// NewGuard envolve sink
func NewGuard(sink domain.SecurityEventSink, l domain.Logger) *Guard {
	if l == nil {
		l = logger.Nop()
	}
	return &Guard{sink: sink, logger: l}
}

// Record nunca retorna erro para o caminho da requisição
func (g *Guard) Record(ctx context.Context, event domain.SecurityEvent) (err error) {
	if g.sink == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Security event sink panicked", fmt.Errorf("%v", r), map[string]interface{}{
				"event_type": event.Type,
			})
		}
		err = nil
	}()

	if sinkErr := g.sink.Record(ctx, event); sinkErr != nil {
		g.logger.Error("Security event sink failed", sinkErr, map[string]interface{}{
			"event_type": event.Type,
		})
	}
	return nil
}
