// Package queue captures terminally failed events on an SQS dead-letter
// queue so they can be inspected and replayed after the defect is fixed.
package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/klauspost/compress/zstd"

	"sandboxnotify/internal/types"
)

// payloadEncodingZstd marks a record whose payload was compressed to stay
// under the SQS 256KiB message ceiling.
const payloadEncodingZstd = "zstd+base64"

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Options configure the sink. An empty QueueURL disables publication (the
// sink logs and drops). A zero CompressThreshold falls back to 16KiB.
type Options struct {
	QueueURL          string
	CompressThreshold int
}

func (o Options) withDefaults() Options {
	if o.CompressThreshold <= 0 {
		o.CompressThreshold = 16 * 1024
	}
	return o
}

// deadLetterRecord is the message body placed on the queue. Payload is the
// original envelope JSON, compressed and base64-encoded when it exceeds the
// threshold.
type deadLetterRecord struct {
	EventID         string    `json:"eventId"`
	DetailType      string    `json:"detailType"`
	Source          string    `json:"source"`
	FailedAt        time.Time `json:"failedAt"`
	Classification  string    `json:"classification"`
	Reason          string    `json:"reason"`
	Payload         string    `json:"payload"`
	PayloadEncoding string    `json:"payloadEncoding,omitempty"`
}

// DeadLetterSink forwards terminal failures to SQS. Forwarding is best
// effort: every failure inside the sink is logged and swallowed, because a
// broken dead-letter path must never fail the invocation that is already
// handling a failure.
type DeadLetterSink struct {
	client  SQSSender
	opts    Options
	encoder *zstd.Encoder
	logger  types.Logger
	metrics types.Metrics
	clock   types.Clock
}

// NewDeadLetterSink builds a sink over the given SQS client.
func NewDeadLetterSink(client SQSSender, opts Options, logger types.Logger, metrics types.Metrics, clock types.Clock) *DeadLetterSink {
	if clock == nil {
		clock = types.RealClock{}
	}
	// EncodeAll with a nil writer never returns an error from NewWriter.
	encoder, _ := zstd.NewWriter(nil)
	return &DeadLetterSink{
		client:  client,
		opts:    opts.withDefaults(),
		encoder: encoder,
		logger:  logger,
		metrics: metrics,
		clock:   clock,
	}
}

// Forward publishes a dead-letter record for the envelope. The classification
// and reason say why the event is terminal; the envelope rides along intact
// for replay.
func (s *DeadLetterSink) Forward(ctx context.Context, envelope *types.EventEnvelope, classification types.ErrorKind, reason string) {
	if envelope == nil {
		s.logger.Error("dead-letter forward called without an envelope", "reason", reason)
		return
	}
	if s.opts.QueueURL == "" {
		s.logger.Warn("dead-letter queue not configured, dropping record",
			"eventId", envelope.ID,
			"detailType", envelope.DetailType,
			"classification", string(classification),
			"reason", reason,
		)
		return
	}

	record := deadLetterRecord{
		EventID:        envelope.ID,
		DetailType:     envelope.DetailType,
		Source:         envelope.Source,
		FailedAt:       s.clock.Now(),
		Classification: string(classification),
		Reason:         reason,
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Error("dead-letter record dropped, envelope not serializable",
			"eventId", envelope.ID, "error", err)
		return
	}
	if len(payload) > s.opts.CompressThreshold {
		record.Payload = base64.StdEncoding.EncodeToString(s.encoder.EncodeAll(payload, nil))
		record.PayloadEncoding = payloadEncodingZstd
	} else {
		record.Payload = string(payload)
	}

	body, err := json.Marshal(record)
	if err != nil {
		s.logger.Error("dead-letter record dropped, record not serializable",
			"eventId", envelope.ID, "error", err)
		return
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.opts.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"classification": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(classification)),
			},
			"detailType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(envelope.DetailType),
			},
		},
	}

	if _, err := s.client.SendMessage(ctx, input); err != nil {
		s.logger.Error("dead-letter forward failed",
			"eventId", envelope.ID,
			"detailType", envelope.DetailType,
			"classification", string(classification),
			"error", err,
		)
		return
	}

	s.metrics.DeadLettered(ctx, classification)
	s.logger.Info("event dead-lettered",
		"eventId", envelope.ID,
		"detailType", envelope.DetailType,
		"classification", string(classification),
		"reason", reason,
		"payloadBytes", len(payload),
		"compressed", record.PayloadEncoding != "",
	)
}
