package storage

import (
	"log/slog"
	"sync"

	"github.com/eatyourpeas/checktick-keycore/interfaces"
)

// SlogAuditSink writes audit events to a structured logger. The surrounding
// system can point the logger at whatever append-only transport it uses.
type SlogAuditSink struct {
	log *slog.Logger
}

// NewSlogAuditSink creates an audit sink over a logger.
func NewSlogAuditSink(log *slog.Logger) *SlogAuditSink {
	return &SlogAuditSink{log: log}
}

func (s *SlogAuditSink) Emit(event interfaces.AuditEvent) {
	attrs := []any{
		slog.String("type", event.Type),
		slog.Time("timestamp", event.Timestamp),
	}
	if event.Actor != "" {
		attrs = append(attrs, slog.String("actor", event.Actor))
	}
	if event.Entity != "" {
		attrs = append(attrs, slog.String("entity", string(event.Entity)))
	}
	for key, value := range event.Detail {
		attrs = append(attrs, slog.String(key, value))
	}
	s.log.Info("audit", attrs...)
}

// MemoryAuditSink collects events for inspection in tests.
type MemoryAuditSink struct {
	mu     sync.Mutex
	events []interfaces.AuditEvent
}

// NewMemoryAuditSink creates an empty in-memory sink.
func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

func (s *MemoryAuditSink) Emit(event interfaces.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a snapshot of everything emitted so far.
func (s *MemoryAuditSink) Events() []interfaces.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interfaces.AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}
