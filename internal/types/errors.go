package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a pipeline failure by its consequence. The orchestrator
// routes on Kind alone: Permanent/Critical/Security outcomes are dead-lettered
// and never retried, Retriable outcomes are returned to the invoker so the
// upstream redelivery mechanism can try again.
type ErrorKind string

const (
	// KindPermanent marks failures that will never succeed on redelivery:
	// malformed events, unknown event types, missing template registrations,
	// semantic rejections by a provider.
	KindPermanent ErrorKind = "permanent"

	// KindRetriable marks transient failures: timeouts, throttling, 5xx
	// responses, open circuit breakers, exhausted retry schedules.
	KindRetriable ErrorKind = "retriable"

	// KindCritical marks failures that require operator intervention before
	// any event can succeed, such as unreadable or invalid channel credentials.
	KindCritical ErrorKind = "critical"

	// KindSecurity marks trust-boundary violations: events from sources
	// outside the allow-list, or a recipient that does not match the event's
	// claimed recipient. Never retried.
	KindSecurity ErrorKind = "security"

	// KindUnknown is returned by KindOf for errors that do not carry a
	// classification. Callers decide the fail-open/fail-closed default.
	KindUnknown ErrorKind = ""
)

// ErrorCode is a typed string for categorizing pipeline errors.
type ErrorCode string

// Complete error code constants.
// All components MUST use these constants instead of hardcoded strings.
const (
	// Validation (Permanent)
	ErrCodeEnvelopeMalformed  ErrorCode = "validation_malformed_envelope"
	ErrCodeEnvelopeField      ErrorCode = "validation_missing_envelope_field"
	ErrCodeUnknownEventType   ErrorCode = "validation_unknown_event_type"
	ErrCodeDetailSchema       ErrorCode = "validation_detail_schema"
	ErrCodeDetailConstraint   ErrorCode = "validation_detail_constraint"

	// Security
	ErrCodeSourceNotAllowed  ErrorCode = "security_source_not_allowed"
	ErrCodeRecipientMismatch ErrorCode = "security_recipient_mismatch"

	// Personalization (Permanent)
	ErrCodeTemplateNotRegistered ErrorCode = "template_not_registered"
	ErrCodeMissingRequiredField  ErrorCode = "personalization_missing_required_field"

	// Dispatch
	ErrCodeBreakerOpen         ErrorCode = "dispatch_breaker_open"
	ErrCodeRetriesExhausted    ErrorCode = "dispatch_retries_exhausted"
	ErrCodeDispatchInterrupted ErrorCode = "dispatch_interrupted"
	ErrCodeProviderRejected    ErrorCode = "provider_rejected"
	ErrCodeProviderThrottled   ErrorCode = "provider_throttled"
	ErrCodeProviderUnavailable ErrorCode = "provider_unavailable"
	ErrCodeWebhookRevoked      ErrorCode = "webhook_revoked"

	// Credentials (Critical)
	ErrCodeCredentialsFetch   ErrorCode = "credentials_fetch_failed"
	ErrCodeCredentialsInvalid ErrorCode = "credentials_invalid"
	ErrCodeCredentialsDenied  ErrorCode = "credentials_denied"

	// Enrichment stores
	ErrCodeStoreThrottled   ErrorCode = "store_throttled"
	ErrCodeStoreUnavailable ErrorCode = "store_unavailable"

	// Internal
	ErrCodeInternal ErrorCode = "internal_unexpected_error"
)

// NotificationError is the standard error type used throughout the pipeline.
// All component and dispatch errors should be expressed as NotificationError
// to enable consistent classification, logging, and dead-letter routing.
type NotificationError struct {
	Kind    ErrorKind      `json:"kind"`
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	// RetryAfter carries a suggested wait before the next attempt, set by
	// throttling responses and open circuit breakers. Zero means no hint.
	RetryAfter time.Duration  `json:"retry_after,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *NotificationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *NotificationError) Unwrap() error {
	return e.Err
}

// WithRetryAfter returns a copy of the error carrying a retry-after hint.
func (e *NotificationError) WithRetryAfter(d time.Duration) *NotificationError {
	cp := *e
	cp.RetryAfter = d
	return &cp
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *NotificationError) WithDetails(details map[string]any) *NotificationError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	cp := *e
	cp.Details = merged
	return &cp
}

// NewError creates a new NotificationError with the given kind, code, message,
// and optional underlying error. This is the standard constructor for pipeline
// errors.
func NewError(kind ErrorKind, code ErrorCode, message string, err error) *NotificationError {
	return &NotificationError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// KindOf extracts the classification from an error chain. Errors that do not
// carry a NotificationError anywhere in the chain report KindUnknown; the
// boundary that observes them chooses the default (validation fails closed to
// Permanent, dispatch fails open to Retriable).
func KindOf(err error) ErrorKind {
	var ne *NotificationError
	if errors.As(err, &ne) {
		return ne.Kind
	}
	return KindUnknown
}

// RetryAfterOf extracts the retry-after hint from an error chain.
// Returns zero when no hint is present.
func RetryAfterOf(err error) time.Duration {
	var ne *NotificationError
	if errors.As(err, &ne) {
		return ne.RetryAfter
	}
	return 0
}

// IsRetriable reports whether the error is classified as transient.
func IsRetriable(err error) bool { return KindOf(err) == KindRetriable }

// IsSecurity reports whether the error is a trust-boundary violation.
func IsSecurity(err error) bool { return KindOf(err) == KindSecurity }

// Terminal reports whether the error must not be redelivered: Permanent,
// Critical, and Security failures are terminal; Retriable and unclassified
// failures are not.
func Terminal(err error) bool {
	switch KindOf(err) {
	case KindPermanent, KindCritical, KindSecurity:
		return true
	default:
		return false
	}
}
