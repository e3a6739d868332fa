package dispatch

import (
	"context"
	"time"

	"sandboxnotify/internal/external"
	"sandboxnotify/internal/types"
)

// ChatOptions tune the chat channel's resilience core. Zero values fall back
// to the defaults below. The chat schedule is shorter than email's: the
// operator channel is best-effort and the invocation should not stall on it.
type ChatOptions struct {
	// CredentialRef names the parameter holding the webhook document.
	CredentialRef string

	RetrySchedule    []time.Duration
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

func (o ChatOptions) withDefaults() ChatOptions {
	if o.RetrySchedule == nil {
		o.RetrySchedule = []time.Duration{time.Second, 3 * time.Second}
	}
	if o.BreakerThreshold == 0 {
		o.BreakerThreshold = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = time.Minute
	}
	return o
}

// ChatDispatcher posts one notification to the operator chat webhook,
// guarded by the channel breaker and retry schedule.
type ChatDispatcher struct {
	poster external.ChatPoster
	creds  *CredentialCache
	core   *retryCore
	ref    string
	logger types.Logger
}

// NewChatDispatcher builds the chat channel around the given poster and
// credential cache.
func NewChatDispatcher(
	poster external.ChatPoster,
	creds *CredentialCache,
	opts ChatOptions,
	logger types.Logger,
	metrics types.Metrics,
	clock types.Clock,
) *ChatDispatcher {
	opts = opts.withDefaults()
	return &ChatDispatcher{
		poster: poster,
		creds:  creds,
		core:   newRetryCore(types.ChannelChat, opts.RetrySchedule, opts.BreakerThreshold, opts.BreakerCooldown, logger, metrics, clock),
		ref:    opts.CredentialRef,
		logger: logger,
	}
}

// Dispatch renders the request as Block Kit JSON and posts it.
func (d *ChatDispatcher) Dispatch(ctx context.Context, req types.ChatRequest) (types.DispatchResult, error) {
	if err := d.core.gate(ctx); err != nil {
		return types.DispatchResult{}, err
	}

	payload, err := buildChatMessage(req)
	if err != nil {
		return types.DispatchResult{}, types.NewError(types.KindPermanent, types.ErrCodeInternal,
			"building chat payload", err)
	}

	_, attempts, err := d.core.run(ctx, func(ctx context.Context) (string, error) {
		creds, cerr := d.creds.Chat(ctx, d.ref)
		if cerr != nil {
			return "", cerr
		}
		return "", d.poster.Post(ctx, creds, payload)
	})
	if err != nil {
		if types.KindOf(err) == types.KindCritical {
			d.creds.Invalidate(d.ref)
		}
		return types.DispatchResult{}, err
	}

	d.logger.Info("chat message posted",
		"reference", req.Reference,
		"eventType", req.EventType,
		"attempts", attempts,
	)
	return types.DispatchResult{Channel: types.ChannelChat, Attempts: attempts}, nil
}
