package types

import "time"

// LeaseKey is the composite identity of a sandbox lease: the requesting
// user's email plus the lease UUID. Both parts are required everywhere a
// lease is referenced.
type LeaseKey struct {
	UserEmail string `json:"userEmail"`
	UUID      string `json:"uuid"`
}

// Audience renders the key in the "{userEmail}:{uuid}" form embedded in
// signed link payloads.
func (k LeaseKey) Audience() string {
	return k.UserEmail + ":" + k.UUID
}

// EventDetail is the decoded, validated payload of an event. Exactly one
// concrete detail type exists per event type. Strongly-typed details reject
// unknown fields at decode time; pass-through details retain them in an
// untrusted Extra bag.
type EventDetail interface {
	// Lease returns the lease identity when the detail carries one.
	Lease() (LeaseKey, bool)

	isEventDetail()
}

// LeaseRequestedDetail is the payload of a LeaseRequested event.
type LeaseRequestedDetail struct {
	UserEmail              string   `json:"userEmail" validate:"required,email"`
	UUID                   string   `json:"uuid" validate:"required,uuid"`
	RequestedDurationHours *float64 `json:"requestedDurationHours,omitempty" validate:"omitempty,gt=0"`
	MaxSpend               *float64 `json:"maxSpend,omitempty" validate:"omitempty,gte=0"`
	LeaseTemplateName      string   `json:"leaseTemplateName,omitempty"`
	Comments               string   `json:"comments,omitempty"`
}

// LeaseApprovedDetail is the payload of a LeaseApproved event.
type LeaseApprovedDetail struct {
	UserEmail  string     `json:"userEmail" validate:"required,email"`
	UUID       string     `json:"uuid" validate:"required,uuid"`
	AccountID  string     `json:"accountId" validate:"required,len=12,numeric"`
	ApprovedBy string     `json:"approvedBy" validate:"required,email"`
	MaxSpend   *float64   `json:"maxSpend,omitempty" validate:"omitempty,gte=0"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// LeaseDeniedDetail is the payload of a LeaseDenied event.
type LeaseDeniedDetail struct {
	UserEmail  string `json:"userEmail" validate:"required,email"`
	UUID       string `json:"uuid" validate:"required,uuid"`
	DeniedBy   string `json:"deniedBy" validate:"required,email"`
	ReasonCode string `json:"reasonCode,omitempty"`
}

// LeaseTerminatedDetail is the payload of a LeaseTerminated event.
type LeaseTerminatedDetail struct {
	UserEmail  string `json:"userEmail" validate:"required,email"`
	UUID       string `json:"uuid" validate:"required,uuid"`
	AccountID  string `json:"accountId" validate:"required,len=12,numeric"`
	ReasonCode string `json:"reasonCode" validate:"required"`
}

// LeaseBudgetExceededDetail is the payload of a LeaseBudgetExceeded event.
type LeaseBudgetExceededDetail struct {
	UserEmail  string   `json:"userEmail" validate:"required,email"`
	UUID       string   `json:"uuid" validate:"required,uuid"`
	AccountID  string   `json:"accountId" validate:"required,len=12,numeric"`
	BudgetUsed *float64 `json:"budgetUsed" validate:"required,gte=0"`
	MaxSpend   *float64 `json:"maxSpend" validate:"required,gt=0"`
}

// LeaseExpiredDetail is the payload of a LeaseExpired event.
type LeaseExpiredDetail struct {
	UserEmail string     `json:"userEmail" validate:"required,email"`
	UUID      string     `json:"uuid" validate:"required,uuid"`
	AccountID string     `json:"accountId" validate:"required,len=12,numeric"`
	ExpiredAt *time.Time `json:"expiredAt,omitempty"`
}

// LeaseFrozenDetail is the payload of a LeaseFrozen event.
type LeaseFrozenDetail struct {
	UserEmail  string `json:"userEmail" validate:"required,email"`
	UUID       string `json:"uuid" validate:"required,uuid"`
	AccountID  string `json:"accountId" validate:"required,len=12,numeric"`
	ReasonCode string `json:"reasonCode" validate:"required"`
}

// ThresholdAlertDetail is the shared payload of the three legacy threshold
// alert event types. Only the lease identity is validated; every other field
// the producer sent is retained, stringified, in Extra. Extra values are
// untrusted: they are HTML-escaped before leaving the pipeline and never
// override pipeline-built personalization keys.
type ThresholdAlertDetail struct {
	UserEmail string            `json:"userEmail" validate:"required,email"`
	UUID      string            `json:"uuid" validate:"required,uuid"`
	Extra     map[string]string `json:"-"`
}

// CostReportDetail is the payload of a CostReportReady event. It is the one
// event type that carries no lease key; the report id stands in as the
// subject identity.
type CostReportDetail struct {
	ReportID    string            `json:"reportId" validate:"required"`
	PeriodStart *time.Time        `json:"periodStart,omitempty"`
	PeriodEnd   *time.Time        `json:"periodEnd,omitempty"`
	Extra       map[string]string `json:"-"`
}

func (d *LeaseRequestedDetail) Lease() (LeaseKey, bool) {
	return LeaseKey{UserEmail: d.UserEmail, UUID: d.UUID}, true
}
func (d *LeaseApprovedDetail) Lease() (LeaseKey, bool) {
	return LeaseKey{UserEmail: d.UserEmail, UUID: d.UUID}, true
}
func (d *LeaseDeniedDetail) Lease() (LeaseKey, bool) {
	return LeaseKey{UserEmail: d.UserEmail, UUID: d.UUID}, true
}
func (d *LeaseTerminatedDetail) Lease() (LeaseKey, bool) {
	return LeaseKey{UserEmail: d.UserEmail, UUID: d.UUID}, true
}
func (d *LeaseBudgetExceededDetail) Lease() (LeaseKey, bool) {
	return LeaseKey{UserEmail: d.UserEmail, UUID: d.UUID}, true
}
func (d *LeaseExpiredDetail) Lease() (LeaseKey, bool) {
	return LeaseKey{UserEmail: d.UserEmail, UUID: d.UUID}, true
}
func (d *LeaseFrozenDetail) Lease() (LeaseKey, bool) {
	return LeaseKey{UserEmail: d.UserEmail, UUID: d.UUID}, true
}
func (d *ThresholdAlertDetail) Lease() (LeaseKey, bool) {
	return LeaseKey{UserEmail: d.UserEmail, UUID: d.UUID}, true
}
func (d *CostReportDetail) Lease() (LeaseKey, bool) {
	return LeaseKey{}, false
}

func (*LeaseRequestedDetail) isEventDetail()      {}
func (*LeaseApprovedDetail) isEventDetail()       {}
func (*LeaseDeniedDetail) isEventDetail()         {}
func (*LeaseTerminatedDetail) isEventDetail()     {}
func (*LeaseBudgetExceededDetail) isEventDetail() {}
func (*LeaseExpiredDetail) isEventDetail()        {}
func (*LeaseFrozenDetail) isEventDetail()         {}
func (*ThresholdAlertDetail) isEventDetail()      {}
func (*CostReportDetail) isEventDetail()          {}

// EnrichedData is the merged, best-effort result of the enrichment lookups.
// Every field is optional: a degraded run (timeouts, open breakers) yields
// the zero value and the pipeline proceeds with event data alone.
type EnrichedData struct {
	// EnrichedAt is always set, even when every lookup was skipped or failed.
	EnrichedAt time.Time

	MaxSpend     *float64
	AccountName  string
	TemplateName string
	UserTimezone string
	SSOURL       string

	// InternalStatus is the lease service's state machine value. It feeds
	// conflict detection and MUST never appear in a personalization map or
	// any outbound payload.
	InternalStatus string

	LastModified *time.Time
	ExpiresAt    *time.Time

	// CurrentBudgetOnRecord is set by the discrepancy check when the budget
	// on record differs materially from the event's figure. It supplements
	// the event's own figure, never replaces it.
	CurrentBudgetOnRecord *float64
}

// LeaseRecord is the lease service's view of a lease, as read from the
// lease store.
type LeaseRecord struct {
	UserEmail    string     `json:"userEmail" dynamodbav:"userEmail"`
	UUID         string     `json:"uuid" dynamodbav:"uuid"`
	Status       string     `json:"status" dynamodbav:"status"`
	MaxSpend     *float64   `json:"maxSpend,omitempty" dynamodbav:"maxSpend,omitempty"`
	TemplateName string     `json:"leaseTemplateName,omitempty" dynamodbav:"leaseTemplateName,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty" dynamodbav:"lastModified,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty" dynamodbav:"expiresAt,omitempty"`
}

// AccountRecord is the account registry's view of a sandbox AWS account.
type AccountRecord struct {
	AccountID string `json:"accountId" dynamodbav:"accountId"`
	Name      string `json:"name" dynamodbav:"name"`
}

// UserProfile is the directory's view of a platform user.
type UserProfile struct {
	Email    string `json:"email" dynamodbav:"email"`
	Timezone string `json:"timezone,omitempty" dynamodbav:"timezone,omitempty"`
	SSOURL   string `json:"ssoUrl,omitempty" dynamodbav:"ssoUrl,omitempty"`
}

// TemplateConfig is the static per-event-type dispatch record from the
// template registry.
type TemplateConfig struct {
	EventType EventType

	// EmailTemplateID is the provider-side template identifier. Empty for
	// event types that never reach the email channel.
	EmailTemplateID string

	// CredentialRef is the parameter path of the email channel credential
	// document used for this event type.
	CredentialRef string

	// RequiredFields must all be present and non-empty in the built
	// personalization map; a miss is a Permanent failure.
	RequiredFields []string

	// OptionalFields are defaulted to "" when the builder has no value.
	OptionalFields []string

	// EnrichmentQueries lists the lookups worth performing for this type.
	EnrichmentQueries []EnrichmentQuery
}

// Personalization is the channel-agnostic field map rendered into email
// templates and chat payloads. Values are formatted strings; numeric and
// time fields are formatted by the builder.
type Personalization map[string]string

// Clone returns an independent copy of the map.
func (p Personalization) Clone() Personalization {
	out := make(Personalization, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ActionLink is a portal deep link generated for a notification. Signed
// links carry an expiry; fallback links are plain portal URLs that require
// the recipient to sign in and navigate.
type ActionLink struct {
	Action    Action
	URL       string
	Signed    bool
	ExpiresAt time.Time
}

// LinkSet collects the links built for one event.
type LinkSet map[Action]ActionLink

// SendInput is the provider-level email send request.
type SendInput struct {
	TemplateID      string
	CredentialRef   string
	Recipient       string
	Reference       string
	Personalization Personalization
}

// DispatchRequest is the orchestrator's email dispatch order. Recipient is
// the address the email will be sent to; ClaimedRecipient is the address the
// validated event named. The dispatcher refuses to send when they differ.
type DispatchRequest struct {
	TemplateID       string
	CredentialRef    string
	Recipient        string
	ClaimedRecipient string
	Reference        string
	Personalization  Personalization
}

// ChatRequest is the orchestrator's chat dispatch order.
type ChatRequest struct {
	EventType       EventType
	Reference       string
	Personalization Personalization
	Links           LinkSet
}

// DispatchResult reports a successful delivery.
type DispatchResult struct {
	Channel    Channel
	ProviderID string
	Attempts   int
}

// EmailCredentials is the JSON document stored at an email credential ref.
type EmailCredentials struct {
	APIKey  SecretString `json:"api_key" validate:"required"`
	BaseURL string       `json:"base_url,omitempty" validate:"omitempty,url"`
}

// ChatCredentials is the JSON document stored at the chat credential ref.
// Incoming webhook URLs embed a token, so the URL itself is secret-adjacent:
// log the host at most, never the full URL.
type ChatCredentials struct {
	WebhookURL string `json:"webhook_url" validate:"required,url,startswith=https://"`
}
