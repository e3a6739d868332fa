package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"sandboxnotify/internal/types"
)

// SESAPI defines the subset of the SES v2 client used by SESClient.
// Extracted for testability.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig holds the parameters for creating an SESClient.
type SESConfig struct {
	// FromAddress is the verified sender identity.
	FromAddress string
	// ConfigSetName is the SES configuration set for delivery tracking.
	// Optional.
	ConfigSetName string
	Logger        types.Logger
}

// SESClient implements EmailProvider using SES v2 templated sends.
// Authentication comes from the execution role, so the per-send credential
// document is not consulted.
type SESClient struct {
	api           SESAPI
	fromAddress   string
	configSetName string
	logger        types.Logger
}

// NewSESClient creates an SESClient from an AWS config.
func NewSESClient(awsCfg aws.Config, cfg SESConfig) *SESClient {
	return &SESClient{
		api:           sesv2.NewFromConfig(awsCfg),
		fromAddress:   cfg.FromAddress,
		configSetName: cfg.ConfigSetName,
		logger:        cfg.Logger,
	}
}

// NewSESClientWithAPI creates an SESClient with a pre-configured SESAPI.
// Useful for testing with a mock.
func NewSESClientWithAPI(api SESAPI, cfg SESConfig) *SESClient {
	return &SESClient{
		api:           api,
		fromAddress:   cfg.FromAddress,
		configSetName: cfg.ConfigSetName,
		logger:        cfg.Logger,
	}
}

// Send transmits one email through a server-side SES template. The
// personalization map is serialized as the template data document.
//
// Error mapping:
//   - MessageRejected, NotFoundException, BadRequestException → Permanent
//   - TooManyRequestsException → Retriable provider_throttled
//   - SendingPausedException and anything else → Retriable
func (c *SESClient) Send(ctx context.Context, _ types.EmailCredentials, input types.SendInput) (string, error) {
	data, err := json.Marshal(input.Personalization)
	if err != nil {
		return "", types.NewError(types.KindPermanent, types.ErrCodeInternal,
			"failed to marshal SES template data", err)
	}

	emailInput := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(c.fromAddress),
		Destination: &sestypes.Destination{
			ToAddresses: []string{input.Recipient},
		},
		Content: &sestypes.EmailContent{
			Template: &sestypes.Template{
				TemplateName: aws.String(input.TemplateID),
				TemplateData: aws.String(string(data)),
			},
		},
	}
	if c.configSetName != "" {
		emailInput.ConfigurationSetName = aws.String(c.configSetName)
	}
	if input.Reference != "" {
		emailInput.EmailTags = []sestypes.MessageTag{
			{Name: aws.String("reference"), Value: aws.String(input.Reference)},
		}
	}

	result, err := c.api.SendEmail(ctx, emailInput)
	if err != nil {
		return "", mapSESError(err)
	}

	msgID := ""
	if result.MessageId != nil {
		msgID = *result.MessageId
	}
	return msgID, nil
}

// mapSESError translates typed SES errors into NotificationError kinds.
func mapSESError(err error) error {
	var msgRejected *sestypes.MessageRejected
	if errors.As(err, &msgRejected) {
		return types.NewError(types.KindPermanent, types.ErrCodeProviderRejected,
			fmt.Sprintf("SES rejected the message: %v", err), err)
	}

	var notFound *sestypes.NotFoundException
	if errors.As(err, &notFound) {
		return types.NewError(types.KindPermanent, types.ErrCodeProviderRejected,
			fmt.Sprintf("SES template or identity not found: %v", err), err)
	}

	var badRequest *sestypes.BadRequestException
	if errors.As(err, &badRequest) {
		return types.NewError(types.KindPermanent, types.ErrCodeProviderRejected,
			fmt.Sprintf("SES rejected the request: %v", err), err)
	}

	var tooManyReqs *sestypes.TooManyRequestsException
	if errors.As(err, &tooManyReqs) {
		return types.NewError(types.KindRetriable, types.ErrCodeProviderThrottled,
			"SES rate limit exceeded", err)
	}

	var sendingPaused *sestypes.SendingPausedException
	if errors.As(err, &sendingPaused) {
		return types.NewError(types.KindRetriable, types.ErrCodeProviderUnavailable,
			"SES account sending is paused", err)
	}

	return types.NewError(types.KindRetriable, types.ErrCodeProviderUnavailable,
		fmt.Sprintf("SES send failed: %v", err), err)
}

// Compile-time assertion that SESClient satisfies EmailProvider.
var _ EmailProvider = (*SESClient)(nil)
