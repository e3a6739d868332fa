package types

import (
	"context"
	"time"
)

// Logger is the minimal structured logging surface the pipeline needs.
// cmd wiring adapts *slog.Logger to it; tests substitute a recorder.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock. All pipeline timestamps are UTC.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// LeaseStore reads lease records from the lease service's store.
// A missing lease returns (nil, nil): absence is a valid answer, not an
// error, and must not trip availability circuit breakers.
type LeaseStore interface {
	GetLease(ctx context.Context, key LeaseKey) (*LeaseRecord, error)
}

// AccountStore reads sandbox account records by AWS account id.
// A missing account returns (nil, nil).
type AccountStore interface {
	GetAccount(ctx context.Context, accountID string) (*AccountRecord, error)
}

// ProfileStore reads user profiles by email.
// A missing profile returns (nil, nil).
type ProfileStore interface {
	GetProfile(ctx context.Context, email string) (*UserProfile, error)
}

// Metrics is the telemetry surface. Implementations must never return or
// panic on emission failure; telemetry loss is not a pipeline failure.
type Metrics interface {
	EventRejected(ctx context.Context, kind ErrorKind)
	SecurityRejection(ctx context.Context, stage string)

	EnrichmentTimeout(ctx context.Context, eventType EventType)
	EnrichmentSkipped(ctx context.Context, source string)
	BreakerOpened(ctx context.Context, dependency string)

	ConflictDetected(ctx context.Context, eventType EventType)
	StaleEvent(ctx context.Context, eventType EventType)
	BudgetDiscrepancy(ctx context.Context, eventType EventType)

	DispatchAttempted(ctx context.Context, channel Channel)
	DispatchSucceeded(ctx context.Context, channel Channel)
	DispatchFailed(ctx context.Context, channel Channel, kind ErrorKind)
	DispatchLatency(ctx context.Context, channel Channel, d time.Duration)

	DeadLettered(ctx context.Context, kind ErrorKind)
	InvocationDuration(ctx context.Context, d time.Duration, success bool)
}
