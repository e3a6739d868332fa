// Package conflict compares the state a lifecycle event implies against the
// state the lease service has on record. Detection is advisory: the caller
// logs and counts what it learns here, the pipeline always proceeds.
package conflict

import (
	"time"

	"sandboxnotify/internal/types"
)

// Conflict describes a lease whose recorded status contradicts the event
// being processed.
type Conflict struct {
	EventType        types.EventType
	ExpectedStatuses []string
	ActualStatus     string
	EventTime        time.Time
	LastModified     *time.Time

	// RequiresManualApproval marks the event for operator review. Always
	// true for detected conflicts; the review queue is owned elsewhere.
	RequiresManualApproval bool
}

// impliedStatuses maps each lifecycle event type to the record statuses that
// are consistent with it. Event types absent from the map imply nothing and
// can never conflict.
var impliedStatuses = map[types.EventType][]string{
	types.EventLeaseApproved:       {types.LeaseStatusActive},
	types.EventLeaseDenied:         {types.LeaseStatusApprovalDenied},
	types.EventLeaseTerminated:     {types.LeaseStatusTerminated},
	types.EventLeaseExpired:        {types.LeaseStatusExpired},
	types.EventLeaseFrozen:         {types.LeaseStatusFrozen},
	types.EventLeaseBudgetExceeded: {types.LeaseStatusBudgetExceeded, types.LeaseStatusTerminated},
}

// Detect reports a conflict between the event and the enriched record, and
// whether a candidate conflict was suppressed because the event is stale.
//
// A mismatch only counts when the record did NOT change after the event was
// emitted: if lastModified is strictly after the event timestamp the record
// is simply ahead of this event, the event is stale, and no conflict exists.
func Detect(ev *types.ValidatedEvent, data types.EnrichedData) (*Conflict, bool) {
	if data.InternalStatus == "" {
		return nil, false
	}
	expected, implies := impliedStatuses[ev.Type]
	if !implies {
		return nil, false
	}
	for _, status := range expected {
		if data.InternalStatus == status {
			return nil, false
		}
	}

	if data.LastModified != nil && data.LastModified.After(ev.Time) {
		return nil, true
	}

	return &Conflict{
		EventType:              ev.Type,
		ExpectedStatuses:       expected,
		ActualStatus:           data.InternalStatus,
		EventTime:              ev.Time,
		LastModified:           data.LastModified,
		RequiresManualApproval: true,
	}, false
}
