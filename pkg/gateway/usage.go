package gateway

import (
	"context"
	"time"

	"helios-hq/helios/pkg/adapters"
)

// UsageRecord captures the accounting facts of one completed request.
type UsageRecord struct {
	RequestID string
	Operation string
	Model     string
	Provider  string
	Status    string
	Attempts  int
	Duration  time.Duration
	Usage     adapters.TokenUsage
}

// UsageRecorder receives one record per finished request. Implementations
// must not block; slow sinks should buffer internally.
type UsageRecorder interface {
	Record(ctx context.Context, rec UsageRecord)
}

// NopUsageRecorder discards every record.
type NopUsageRecorder struct{}

// Record implements UsageRecorder.
func (NopUsageRecorder) Record(context.Context, UsageRecord) {}
