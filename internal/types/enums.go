package types

// EventType identifies a sandbox lease lifecycle event. The set is closed:
// every switch over EventType must be exhaustive with an explicit failure
// default, so adding a type is a compile-visible change.
type EventType string

const (
	EventLeaseRequested      EventType = "LeaseRequested"
	EventLeaseApproved       EventType = "LeaseApproved"
	EventLeaseDenied         EventType = "LeaseDenied"
	EventLeaseTerminated     EventType = "LeaseTerminated"
	EventLeaseBudgetExceeded EventType = "LeaseBudgetExceeded"
	EventLeaseExpired        EventType = "LeaseExpired"
	EventLeaseFrozen         EventType = "LeaseFrozen"

	// Threshold alerts come from the legacy budget/duration monitors.
	// Their payloads are pass-through: unknown fields are carried as an
	// untrusted bag rather than rejected.
	EventLeaseBudgetThresholdAlert   EventType = "LeaseBudgetThresholdAlert"
	EventLeaseDurationThresholdAlert EventType = "LeaseDurationThresholdAlert"
	EventLeaseFreezeThresholdAlert   EventType = "LeaseFreezeThresholdAlert"

	EventCostReportReady EventType = "CostReportReady"
)

// allEventTypes is the closed registry of known detail-type values, in the
// order they appear in the platform's event catalogue.
var allEventTypes = []EventType{
	EventLeaseRequested,
	EventLeaseApproved,
	EventLeaseDenied,
	EventLeaseTerminated,
	EventLeaseBudgetExceeded,
	EventLeaseExpired,
	EventLeaseFrozen,
	EventLeaseBudgetThresholdAlert,
	EventLeaseDurationThresholdAlert,
	EventLeaseFreezeThresholdAlert,
	EventCostReportReady,
}

// ParseEventType resolves an envelope detail-type into a known EventType.
// The second return is false for any detail-type outside the closed set.
func ParseEventType(detailType string) (EventType, bool) {
	for _, t := range allEventTypes {
		if string(t) == detailType {
			return t, true
		}
	}
	return "", false
}

// EventTypes returns the closed set of known event types. The returned slice
// is a copy; callers may reorder it freely.
func EventTypes() []EventType {
	out := make([]EventType, len(allEventTypes))
	copy(out, allEventTypes)
	return out
}

// PassThrough reports whether the event type carries an open key/value
// payload (legacy producers) instead of a strongly-typed schema.
func (t EventType) PassThrough() bool {
	switch t {
	case EventLeaseBudgetThresholdAlert,
		EventLeaseDurationThresholdAlert,
		EventLeaseFreezeThresholdAlert,
		EventCostReportReady:
		return true
	default:
		return false
	}
}

// Channel identifies a notification delivery channel.
type Channel string

const (
	// ChannelEmail delivers through the transactional email provider.
	ChannelEmail Channel = "email"

	// ChannelChat delivers to the operator chat webhook.
	ChannelChat Channel = "chat"
)

// EnrichmentQuery names a read-only lookup the enrichment engine can perform
// for an event. The template registry declares which queries each event type
// needs.
type EnrichmentQuery string

const (
	// QueryLease looks up the lease record by its composite key.
	QueryLease EnrichmentQuery = "lease"

	// QueryAccount looks up the sandbox account record by AWS account id.
	QueryAccount EnrichmentQuery = "account"

	// QueryProfile looks up the recipient's directory profile.
	QueryProfile EnrichmentQuery = "profile"
)

// ParseEnrichmentQuery resolves a registry string into an EnrichmentQuery.
func ParseEnrichmentQuery(s string) (EnrichmentQuery, bool) {
	switch q := EnrichmentQuery(s); q {
	case QueryLease, QueryAccount, QueryProfile:
		return q, true
	default:
		return "", false
	}
}

// Action identifies a deep-link action the portal understands. Signed link
// payloads carry the action verbatim.
type Action string

const (
	ActionView           Action = "view"
	ActionBudgetIncrease Action = "budget-increase"
	ActionApprove        Action = "approve"
	ActionDeny           Action = "deny"
	ActionReport         Action = "report"

	// ActionFallback is the unsigned portal link included for mail clients
	// that refuse query-token links. It is never signed.
	ActionFallback Action = "fallback"
)

// Lease record statuses as stored by the lease service. The pipeline never
// exposes these values to recipients; they exist for conflict detection only.
const (
	LeaseStatusPendingApproval = "PendingApproval"
	LeaseStatusApprovalDenied  = "ApprovalDenied"
	LeaseStatusActive          = "Active"
	LeaseStatusFrozen          = "Frozen"
	LeaseStatusBudgetExceeded  = "BudgetExceeded"
	LeaseStatusExpired         = "Expired"
	LeaseStatusTerminated      = "Terminated"
)
