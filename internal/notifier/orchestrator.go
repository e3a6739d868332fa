// Package notifier coordinates a single notification invocation end to end:
// validate the envelope, enrich it with read-only context, render the
// personalization, and dispatch to every channel the event type addresses.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sandboxnotify/internal/conflict"
	"sandboxnotify/internal/types"
)

// EventValidator checks a raw envelope and decodes its detail payload.
type EventValidator interface {
	Validate(env types.EventEnvelope) (*types.ValidatedEvent, error)
}

// TemplateSource resolves the template contract for an event type.
type TemplateSource interface {
	Lookup(eventType types.EventType) (types.TemplateConfig, error)
}

// Enricher gathers read-only context for an event. It never fails; lookups
// that miss or time out degrade to absent fields.
type Enricher interface {
	Enrich(ctx context.Context, ev *types.ValidatedEvent, tpl types.TemplateConfig) types.EnrichedData
}

// LinkBuilder assembles the deep links for one delivery channel.
type LinkBuilder interface {
	ForEvent(channel types.Channel, ev *types.ValidatedEvent, now time.Time) types.LinkSet
}

// PersonalizationBuilder renders the template substitution map.
type PersonalizationBuilder interface {
	Build(ev *types.ValidatedEvent, data types.EnrichedData, links types.LinkSet, tpl types.TemplateConfig) (types.Personalization, error)
}

// EmailChannel delivers a rendered notification to the recipient's inbox.
type EmailChannel interface {
	Dispatch(ctx context.Context, req types.DispatchRequest) (types.DispatchResult, error)
}

// ChatChannel posts a rendered notification to the operator chat.
type ChatChannel interface {
	Dispatch(ctx context.Context, req types.ChatRequest) (types.DispatchResult, error)
}

// DeadLetterSink captures events that failed terminally and will never
// succeed on redelivery.
type DeadLetterSink interface {
	Forward(ctx context.Context, envelope *types.EventEnvelope, classification types.ErrorKind, reason string)
}

// Deps names the pipeline components the orchestrator coordinates. Every
// field is required except Clock, which defaults to the real clock.
type Deps struct {
	Validator   EventValidator
	Templates   TemplateSource
	Enricher    Enricher
	Links       LinkBuilder
	Builder     PersonalizationBuilder
	Email       EmailChannel
	Chat        ChatChannel
	DeadLetters DeadLetterSink

	Logger  types.Logger
	Metrics types.Metrics
	Clock   types.Clock
}

// Orchestrator runs the notification pipeline for one event envelope.
type Orchestrator struct {
	deps Deps
}

func New(deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = types.RealClock{}
	}
	return &Orchestrator{deps: deps}
}

// HandleEvent processes one envelope. A nil return means every addressed
// channel delivered. A non-nil return tells the event bus to redeliver;
// failures that redelivery cannot fix are also forwarded to the dead-letter
// sink before returning.
func (o *Orchestrator) HandleEvent(ctx context.Context, env types.EventEnvelope) error {
	ev, err := o.deps.Validator.Validate(env)
	if err != nil {
		return o.rejectInvalid(ctx, env, err)
	}

	log := o.deps.Logger.With("eventId", ev.ID, "eventType", string(ev.Type))

	channels, err := channelsFor(ev.Type)
	if err != nil {
		return o.rejectTerminal(ctx, log, &env, err, "resolving delivery channels")
	}

	tpl, err := o.deps.Templates.Lookup(ev.Type)
	if err != nil {
		return o.rejectTerminal(ctx, log, &env, err, "resolving template")
	}

	data := o.deps.Enricher.Enrich(ctx, ev, tpl)

	if c, stale := conflict.Detect(ev, data); c != nil {
		log.Warn("lease record conflicts with event",
			"actualStatus", c.ActualStatus,
			"expectedStatuses", c.ExpectedStatuses,
			"manualReview", c.RequiresManualApproval)
		o.deps.Metrics.ConflictDetected(ctx, ev.Type)
	} else if stale {
		log.Warn("lease record changed after this event, treating as stale")
		o.deps.Metrics.StaleEvent(ctx, ev.Type)
	}

	now := o.deps.Clock.Now()

	var emailLinks, chatLinks types.LinkSet
	if hasChannel(channels, types.ChannelEmail) {
		emailLinks = o.deps.Links.ForEvent(types.ChannelEmail, ev, now)
	}
	if hasChannel(channels, types.ChannelChat) {
		chatLinks = o.deps.Links.ForEvent(types.ChannelChat, ev, now)
	}

	// The substitution map is rendered once. Email links win when both
	// channels are addressed; the chat payload carries its own link set.
	buildLinks := emailLinks
	if buildLinks == nil {
		buildLinks = chatLinks
	}
	personalization, err := o.deps.Builder.Build(ev, data, buildLinks, tpl)
	if err != nil {
		return o.rejectTerminal(ctx, log, &env, err, "building personalization")
	}

	var emailErr, chatErr error
	if hasChannel(channels, types.ChannelEmail) {
		emailErr = o.dispatchEmail(ctx, log, ev, tpl, personalization)
	}
	if hasChannel(channels, types.ChannelChat) {
		chatErr = o.dispatchChat(ctx, log, ev, personalization, chatLinks)
	}

	if emailErr == nil && chatErr == nil {
		log.Info("notification delivered", "channels", len(channels))
		return nil
	}

	for _, failure := range []struct {
		channel types.Channel
		err     error
	}{
		{types.ChannelEmail, emailErr},
		{types.ChannelChat, chatErr},
	} {
		if failure.err == nil {
			continue
		}
		if types.IsSecurity(failure.err) {
			o.deps.Metrics.SecurityRejection(ctx, string(failure.channel))
		}
		if types.Terminal(failure.err) {
			o.deps.DeadLetters.Forward(ctx, &env, types.KindOf(failure.err),
				fmt.Sprintf("%s dispatch: %v", failure.channel, failure.err))
		}
	}

	return errors.Join(emailErr, chatErr)
}

func (o *Orchestrator) dispatchEmail(ctx context.Context, log types.Logger, ev *types.ValidatedEvent, tpl types.TemplateConfig, p types.Personalization) error {
	key, ok := ev.Lease()
	if !ok {
		// Every email-audience event type carries a lease identity; getting
		// here means the audience map and the detail schemas disagree.
		err := types.NewError(types.KindPermanent, types.ErrCodeInternal,
			fmt.Sprintf("event type %q addresses email but carries no lease identity", ev.Type), nil)
		log.Error("email dispatch failed", "kind", string(types.KindPermanent), "error", err)
		return err
	}

	_, err := o.deps.Email.Dispatch(ctx, types.DispatchRequest{
		TemplateID:       tpl.EmailTemplateID,
		CredentialRef:    tpl.CredentialRef,
		Recipient:        p["userEmail"],
		ClaimedRecipient: key.UserEmail,
		Reference:        ev.ID,
		Personalization:  p,
	})
	if err != nil {
		log.Error("email dispatch failed", "kind", string(types.KindOf(err)), "error", err)
	}
	return err
}

func (o *Orchestrator) dispatchChat(ctx context.Context, log types.Logger, ev *types.ValidatedEvent, p types.Personalization, links types.LinkSet) error {
	_, err := o.deps.Chat.Dispatch(ctx, types.ChatRequest{
		EventType:       ev.Type,
		Reference:       ev.ID,
		Personalization: p,
		Links:           links,
	})
	if err != nil {
		log.Error("chat dispatch failed", "kind", string(types.KindOf(err)), "error", err)
	}
	return err
}

// rejectInvalid records a validation failure. The envelope fields logged here
// are producer metadata; detail payload values never reach the log.
// Unclassified errors fail closed to Permanent.
func (o *Orchestrator) rejectInvalid(ctx context.Context, env types.EventEnvelope, err error) error {
	kind := types.KindOf(err)
	if kind == types.KindUnknown {
		kind = types.KindPermanent
	}
	o.deps.Logger.Error("event rejected",
		"eventId", env.ID,
		"detailType", env.DetailType,
		"source", env.Source,
		"kind", string(kind),
		"error", err)
	o.deps.Metrics.EventRejected(ctx, kind)
	if types.IsSecurity(err) {
		o.deps.Metrics.SecurityRejection(ctx, "validation")
	}
	if kind != types.KindRetriable {
		o.deps.DeadLetters.Forward(ctx, &env, kind, err.Error())
	}
	return err
}

func (o *Orchestrator) rejectTerminal(ctx context.Context, log types.Logger, env *types.EventEnvelope, err error, stage string) error {
	log.Error("event cannot be notified", "stage", stage, "error", err)
	o.deps.DeadLetters.Forward(ctx, env, types.KindOf(err), fmt.Sprintf("%s: %v", stage, err))
	return err
}
