package telemetry

import (
	"context"
	"time"

	"sandboxnotify/internal/types"
)

// Compile-time assertion that Nop implements types.Metrics.
var _ types.Metrics = (*Nop)(nil)

// Nop discards every metric. Used when telemetry is disabled and as an
// embeddable base for test recorders.
type Nop struct{}

func (Nop) EventRejected(context.Context, types.ErrorKind)                 {}
func (Nop) SecurityRejection(context.Context, string)                      {}
func (Nop) EnrichmentTimeout(context.Context, types.EventType)             {}
func (Nop) EnrichmentSkipped(context.Context, string)                      {}
func (Nop) BreakerOpened(context.Context, string)                          {}
func (Nop) ConflictDetected(context.Context, types.EventType)              {}
func (Nop) StaleEvent(context.Context, types.EventType)                    {}
func (Nop) BudgetDiscrepancy(context.Context, types.EventType)             {}
func (Nop) DispatchAttempted(context.Context, types.Channel)               {}
func (Nop) DispatchSucceeded(context.Context, types.Channel)               {}
func (Nop) DispatchFailed(context.Context, types.Channel, types.ErrorKind) {}
func (Nop) DispatchLatency(context.Context, types.Channel, time.Duration)  {}
func (Nop) DeadLettered(context.Context, types.ErrorKind)                  {}
func (Nop) InvocationDuration(context.Context, time.Duration, bool)        {}
