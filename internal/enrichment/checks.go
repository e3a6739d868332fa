package enrichment

import (
	"context"
	"math"
	"time"

	"sandboxnotify/internal/types"
)

// checkStaleness warns when the lease record's lastModified is older than
// the staleness window. Advisory only; the pipeline proceeds either way.
func (e *Engine) checkStaleness(ev *types.ValidatedEvent, data *types.EnrichedData, now time.Time) {
	if data.LastModified == nil {
		return
	}
	age := now.Sub(*data.LastModified)
	if age <= e.opts.StalenessWindow {
		return
	}
	e.logger.Warn("lease record is stale",
		"eventId", ev.ID,
		"lastModified", data.LastModified.Format(time.RFC3339),
		"age", age,
		"window", e.opts.StalenessWindow,
	)
}

// checkDiscrepancy compares the event's own budget figure against the figure
// on record. A material difference is logged and surfaced to the recipient
// as an auxiliary field; the event's figure is never replaced.
func (e *Engine) checkDiscrepancy(ctx context.Context, ev *types.ValidatedEvent, data *types.EnrichedData) {
	declared := ev.DeclaredMaxSpend()
	if declared == nil || data.MaxSpend == nil {
		return
	}
	diff := math.Abs(*data.MaxSpend - *declared)
	if diff == 0 || diff <= e.opts.DiscrepancyFraction*math.Abs(*declared) {
		return
	}

	onRecord := *data.MaxSpend
	data.CurrentBudgetOnRecord = &onRecord

	e.logger.Warn("budget figure differs from record",
		"eventId", ev.ID,
		"declared", *declared,
		"onRecord", onRecord,
	)
	e.metrics.BudgetDiscrepancy(ctx, ev.Type)
}
