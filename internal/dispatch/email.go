package dispatch

import (
	"context"
	"html"
	"strings"
	"time"

	"sandboxnotify/internal/external"
	"sandboxnotify/internal/types"
)

// EmailOptions tune the email channel's resilience core. Zero values fall
// back to the defaults below.
type EmailOptions struct {
	// DefaultCredentialRef is used when the dispatch request names no ref
	// of its own.
	DefaultCredentialRef string

	// RetrySchedule is the list of waits between attempts. Total attempts
	// are len(RetrySchedule)+1.
	RetrySchedule []time.Duration

	// BreakerThreshold is the consecutive-failure count that opens the
	// channel breaker; BreakerCooldown is how long it stays open.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

func (o EmailOptions) withDefaults() EmailOptions {
	if o.RetrySchedule == nil {
		o.RetrySchedule = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second}
	}
	if o.BreakerThreshold == 0 {
		o.BreakerThreshold = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = time.Minute
	}
	return o
}

// EmailDispatcher delivers one rendered email through the configured
// provider, guarded by the channel breaker and retry schedule.
type EmailDispatcher struct {
	provider   external.EmailProvider
	creds      *CredentialCache
	core       *retryCore
	defaultRef string
	logger     types.Logger
}

// NewEmailDispatcher builds the email channel around the given provider and
// credential cache.
func NewEmailDispatcher(
	provider external.EmailProvider,
	creds *CredentialCache,
	opts EmailOptions,
	logger types.Logger,
	metrics types.Metrics,
	clock types.Clock,
) *EmailDispatcher {
	opts = opts.withDefaults()
	return &EmailDispatcher{
		provider:   provider,
		creds:      creds,
		core:       newRetryCore(types.ChannelEmail, opts.RetrySchedule, opts.BreakerThreshold, opts.BreakerCooldown, logger, metrics, clock),
		defaultRef: opts.DefaultCredentialRef,
		logger:     logger,
	}
}

// Dispatch sends the email. The recipient guard runs before any provider
// call: a request whose recipient does not match the address the validated
// event named is refused as a Security failure and never retried.
func (d *EmailDispatcher) Dispatch(ctx context.Context, req types.DispatchRequest) (types.DispatchResult, error) {
	if err := d.core.gate(ctx); err != nil {
		return types.DispatchResult{}, err
	}

	if !strings.EqualFold(req.Recipient, req.ClaimedRecipient) {
		d.logger.Error("refusing dispatch, recipient does not match the validated event",
			"reference", req.Reference,
			"recipient", types.RedactEmail(req.Recipient),
			"claimedRecipient", types.RedactEmail(req.ClaimedRecipient),
		)
		return types.DispatchResult{}, types.NewError(types.KindSecurity, types.ErrCodeRecipientMismatch,
			"recipient does not match the address on the validated event", nil)
	}

	ref := req.CredentialRef
	if ref == "" {
		ref = d.defaultRef
	}

	input := types.SendInput{
		TemplateID:      req.TemplateID,
		CredentialRef:   ref,
		Recipient:       req.Recipient,
		Reference:       req.Reference,
		Personalization: sanitize(req.Personalization),
	}

	id, attempts, err := d.core.run(ctx, func(ctx context.Context) (string, error) {
		creds, cerr := d.creds.Email(ctx, ref)
		if cerr != nil {
			return "", cerr
		}
		return d.provider.Send(ctx, creds, input)
	})
	if err != nil {
		if types.KindOf(err) == types.KindCritical {
			d.creds.Invalidate(ref)
		}
		return types.DispatchResult{}, err
	}

	d.logger.Info("email dispatched",
		"reference", req.Reference,
		"recipient", types.RedactEmail(req.Recipient),
		"providerId", id,
		"attempts", attempts,
	)
	return types.DispatchResult{Channel: types.ChannelEmail, ProviderID: id, Attempts: attempts}, nil
}

// sanitize HTML-escapes every personalization value. Values render inside
// provider-hosted HTML templates; the pipeline never trusts upstream fields
// to be markup-free.
func sanitize(p types.Personalization) types.Personalization {
	out := make(types.Personalization, len(p))
	for k, v := range p {
		out[k] = html.EscapeString(v)
	}
	return out
}
