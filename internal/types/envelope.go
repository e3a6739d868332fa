package types

import (
	"encoding/json"
	"time"
)

// EventEnvelope is the bus-level wrapper every inbound event arrives in.
// Field names match the EventBridge wire format exactly, including the
// hyphenated detail-type key. Detail is kept raw until the validator has
// resolved the event type and selected the schema to decode it with.
type EventEnvelope struct {
	ID         string          `json:"id"`
	DetailType string          `json:"detail-type"`
	Source     string          `json:"source"`
	Time       time.Time       `json:"time"`
	Account    string          `json:"account"`
	Detail     json.RawMessage `json:"detail"`
}

// ValidatedEvent is the immutable result of envelope and payload validation.
// Everything downstream of the validator operates on this value; the raw
// envelope is only seen again when a terminal failure is dead-lettered.
type ValidatedEvent struct {
	ID      string
	Type    EventType
	Source  string
	Account string
	Time    time.Time
	Detail  EventDetail
}

// Lease returns the lease identity carried by the event's detail, when the
// event type has one. CostReportReady events carry no lease key.
func (e *ValidatedEvent) Lease() (LeaseKey, bool) {
	if e.Detail == nil {
		return LeaseKey{}, false
	}
	return e.Detail.Lease()
}

// AccountID returns the sandbox account id carried by the event's detail.
// This is the leased AWS account, not the envelope's bus account. Only the
// lifecycle events that name an account carry one; pass-through details do
// not, even if the producer included one in the untrusted bag.
func (e *ValidatedEvent) AccountID() (string, bool) {
	switch d := e.Detail.(type) {
	case *LeaseApprovedDetail:
		return d.AccountID, d.AccountID != ""
	case *LeaseTerminatedDetail:
		return d.AccountID, d.AccountID != ""
	case *LeaseBudgetExceededDetail:
		return d.AccountID, d.AccountID != ""
	case *LeaseExpiredDetail:
		return d.AccountID, d.AccountID != ""
	case *LeaseFrozenDetail:
		return d.AccountID, d.AccountID != ""
	default:
		return "", false
	}
}

// DeclaredMaxSpend returns the budget figure the event itself carries, if
// any. Enrichment compares it against the figure on record but never
// overwrites it.
func (e *ValidatedEvent) DeclaredMaxSpend() *float64 {
	switch d := e.Detail.(type) {
	case *LeaseRequestedDetail:
		return d.MaxSpend
	case *LeaseApprovedDetail:
		return d.MaxSpend
	case *LeaseBudgetExceededDetail:
		return d.MaxSpend
	default:
		return nil
	}
}
