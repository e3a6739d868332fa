// Package telemetry emits the pipeline's operational metrics. Emission is
// strictly fire-and-forget: a metric that cannot be recorded is logged and
// dropped, never surfaced to the pipeline.
package telemetry

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"sandboxnotify/internal/types"
)

// CloudWatchClient abstracts the PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertion that CloudWatchMetrics implements types.Metrics.
var _ types.Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics publishes pipeline metrics to CloudWatch under
// "{namespace}/{environment}".
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchMetrics builds a metrics publisher. An empty namespace falls
// back to types.MetricNamespace; environment scopes the namespace so dev and
// prod never share alarms.
func NewCloudWatchMetrics(client CloudWatchClient, namespace, environment string, logger types.Logger) *CloudWatchMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if environment != "" {
		namespace = namespace + "/" + environment
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// NewCloudWatchClient builds the real CloudWatch client for the region.
func NewCloudWatchClient(ctx context.Context, region string) (*cloudwatch.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return cloudwatch.NewFromConfig(cfg), nil
}

func (m *CloudWatchMetrics) EventRejected(ctx context.Context, kind types.ErrorKind) {
	m.put(ctx, types.MetricEventRejected, 1, cwtypes.StandardUnitCount,
		dim(types.DimKind, string(kind)))
}

func (m *CloudWatchMetrics) SecurityRejection(ctx context.Context, stage string) {
	m.put(ctx, types.MetricSecurityRejection, 1, cwtypes.StandardUnitCount,
		dim(types.DimStage, stage))
}

func (m *CloudWatchMetrics) EnrichmentTimeout(ctx context.Context, eventType types.EventType) {
	m.put(ctx, types.MetricEnrichmentTimeout, 1, cwtypes.StandardUnitCount,
		dim(types.DimEventType, string(eventType)))
}

func (m *CloudWatchMetrics) EnrichmentSkipped(ctx context.Context, source string) {
	m.put(ctx, types.MetricEnrichmentSkipped, 1, cwtypes.StandardUnitCount,
		dim(types.DimDependency, source))
}

func (m *CloudWatchMetrics) BreakerOpened(ctx context.Context, dependency string) {
	m.put(ctx, types.MetricBreakerOpen, 1, cwtypes.StandardUnitCount,
		dim(types.DimDependency, dependency))
}

func (m *CloudWatchMetrics) ConflictDetected(ctx context.Context, eventType types.EventType) {
	m.put(ctx, types.MetricConflictDetected, 1, cwtypes.StandardUnitCount,
		dim(types.DimEventType, string(eventType)))
}

func (m *CloudWatchMetrics) StaleEvent(ctx context.Context, eventType types.EventType) {
	m.put(ctx, types.MetricStaleEvent, 1, cwtypes.StandardUnitCount,
		dim(types.DimEventType, string(eventType)))
}

func (m *CloudWatchMetrics) BudgetDiscrepancy(ctx context.Context, eventType types.EventType) {
	m.put(ctx, types.MetricBudgetMismatch, 1, cwtypes.StandardUnitCount,
		dim(types.DimEventType, string(eventType)))
}

func (m *CloudWatchMetrics) DispatchAttempted(ctx context.Context, channel types.Channel) {
	m.put(ctx, types.MetricDispatchAttempt, 1, cwtypes.StandardUnitCount,
		dim(types.DimChannel, string(channel)))
}

func (m *CloudWatchMetrics) DispatchSucceeded(ctx context.Context, channel types.Channel) {
	m.put(ctx, types.MetricDispatchOutcome, 1, cwtypes.StandardUnitCount,
		dim(types.DimChannel, string(channel)),
		dim(types.DimResult, types.ResultSuccess))
}

func (m *CloudWatchMetrics) DispatchFailed(ctx context.Context, channel types.Channel, kind types.ErrorKind) {
	m.put(ctx, types.MetricDispatchOutcome, 1, cwtypes.StandardUnitCount,
		dim(types.DimChannel, string(channel)),
		dim(types.DimResult, types.ResultFailure),
		dim(types.DimKind, string(kind)))
}

func (m *CloudWatchMetrics) DispatchLatency(ctx context.Context, channel types.Channel, d time.Duration) {
	m.put(ctx, types.MetricDispatchLatency, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(types.DimChannel, string(channel)))
}

func (m *CloudWatchMetrics) DeadLettered(ctx context.Context, kind types.ErrorKind) {
	m.put(ctx, types.MetricDeadLettered, 1, cwtypes.StandardUnitCount,
		dim(types.DimKind, string(kind)))
}

func (m *CloudWatchMetrics) InvocationDuration(ctx context.Context, d time.Duration, success bool) {
	result := types.ResultFailure
	if success {
		result = types.ResultSuccess
	}
	m.put(ctx, types.MetricInvocation, float64(d.Milliseconds()), cwtypes.StandardUnitMilliseconds,
		dim(types.DimResult, result))
}

func (m *CloudWatchMetrics) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit, dims ...cwtypes.Dimension) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       unit,
				Dimensions: dims,
			},
		},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Error("failed to put metric",
			"metric", name,
			"error", err.Error(),
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{
		Name:  aws.String(name),
		Value: aws.String(value),
	}
}
