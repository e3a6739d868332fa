package types

// MetricNamespace is the CloudWatch namespace all pipeline metrics live in.
const MetricNamespace = "SandboxNotify"

// Metric names. Counters unless noted.
const (
	MetricEventRejected     = "EventRejected"
	MetricSecurityRejection = "SecurityRejection"

	MetricEnrichmentTimeout = "EnrichmentTimeout"
	MetricEnrichmentSkipped = "EnrichmentSkipped"
	MetricBreakerOpen       = "CircuitBreakerOpen"

	MetricConflictDetected = "ConflictDetected"
	MetricStaleEvent       = "StaleEvent"
	MetricBudgetMismatch   = "BudgetDiscrepancy"

	MetricDispatchAttempt = "DispatchAttempt"
	MetricDispatchOutcome = "DispatchOutcome"
	MetricDispatchLatency = "DispatchLatency" // milliseconds

	MetricDeadLettered = "DeadLettered"

	MetricInvocation = "InvocationDuration" // milliseconds
)

// Dimension keys.
const (
	DimChannel    = "Channel"
	DimResult     = "Result"
	DimSource     = "Source"
	DimDependency = "Dependency"
	DimEventType  = "EventType"
	DimKind       = "Kind"
	DimStage      = "Stage"
)

// Values for the Result dimension.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)
