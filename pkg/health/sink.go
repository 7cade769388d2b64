package health

import (
	"context"
	"log/slog"
	"time"

	"helios-hq/helios/pkg/registry"
)

// StoreSink writes breaker-driven health transitions into the registry:
// an opened breaker forces the provider unhealthy for routing, and a
// closed one resets it to unknown until the next probe reports.
type StoreSink struct {
	store  registry.Store
	logger *slog.Logger
}

// NewStoreSink creates a sink over the given store.
func NewStoreSink(store registry.Store, logger *slog.Logger) *StoreSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSink{store: store, logger: logger}
}

// MarkUnhealthy implements breaker.HealthSink.
func (s *StoreSink) MarkUnhealthy(provider, reason string) {
	s.set(provider, registry.HealthUnhealthy, reason)
}

// MarkUnknown implements breaker.HealthSink.
func (s *StoreSink) MarkUnknown(provider string) {
	s.set(provider, registry.HealthUnknown, "")
}

func (s *StoreSink) set(provider string, status registry.Health, message string) {
	err := s.store.SetHealth(context.Background(), provider, registry.HealthStatus{
		Status:       status,
		LastChecked:  time.Now(),
		ErrorMessage: message,
	})
	if err != nil {
		s.logger.Error("failed to record breaker-driven health change",
			"provider", provider, "error", err)
	}
}
