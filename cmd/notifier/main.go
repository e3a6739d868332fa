// Package main is the entrypoint for the notifier Lambda function.
//
// The notifier is triggered by EventBridge rules matching sandbox lease and
// cost report events. One invocation processes one envelope end to end:
// validate, enrich, render, dispatch to the addressed channels, dead-letter
// what redelivery can never fix. A non-nil return from the handler asks the
// bus to redeliver.
//
// This file handles dependency wiring (cold start) and delegates the
// pipeline to internal/notifier.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	// The deployed runtime ships no system zoneinfo; recipient-timezone
	// formatting needs the embedded database.
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"sandboxnotify/internal/config"
	"sandboxnotify/internal/dispatch"
	"sandboxnotify/internal/enrichment"
	"sandboxnotify/internal/event"
	"sandboxnotify/internal/external"
	"sandboxnotify/internal/links"
	"sandboxnotify/internal/notifier"
	"sandboxnotify/internal/personalize"
	"sandboxnotify/internal/queue"
	"sandboxnotify/internal/store"
	"sandboxnotify/internal/telemetry"
	"sandboxnotify/internal/types"
)

// slogAdapter wraps *slog.Logger to satisfy types.Logger. slog covers Info,
// Error, and Warn directly; With needs the adapter because slog returns
// *slog.Logger rather than the interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// eventHandler is the pipeline surface the Lambda handler drives. It is an
// interface so handler tests can run without wiring the real pipeline.
type eventHandler interface {
	HandleEvent(ctx context.Context, env types.EventEnvelope) error
}

// Handler adapts EventBridge invocations to the notification pipeline.
type Handler struct {
	pipeline eventHandler
	metrics  types.Metrics
	clock    types.Clock
}

// Handle processes one EventBridge event. The error return drives the bus
// retry policy: nil acknowledges the event, non-nil asks for redelivery.
func (h *Handler) Handle(ctx context.Context, evt events.CloudWatchEvent) error {
	start := h.clock.Now()
	err := h.pipeline.HandleEvent(ctx, envelopeFromEvent(evt))
	h.metrics.InvocationDuration(ctx, h.clock.Now().Sub(start), err == nil)
	return err
}

// envelopeFromEvent converts the Lambda runtime's EventBridge shape into the
// pipeline's envelope. The runtime type carries region and resource fields
// the pipeline never reads; everything the validator checks is copied over.
func envelopeFromEvent(evt events.CloudWatchEvent) types.EventEnvelope {
	return types.EventEnvelope{
		ID:         evt.ID,
		DetailType: evt.DetailType,
		Source:     evt.Source,
		Time:       evt.Time,
		Account:    evt.AccountID,
		Detail:     evt.Detail,
	}
}

// buildHandler wires the full pipeline from configuration. It runs once per
// cold start; every component it builds is shared across invocations.
func buildHandler(ctx context.Context, cfg *config.Config, log types.Logger) (*Handler, error) {
	local := cfg.Environment == "local"

	awsOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWS.Region)}
	if cfg.AWS.EndpointURL != "" {
		awsOpts = append(awsOpts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	// Metrics are a no-op locally so stub runs never publish to CloudWatch.
	var metrics types.Metrics = telemetry.Nop{}
	if cfg.Telemetry.Enabled && !local {
		cw, err := telemetry.NewCloudWatchClient(ctx, cfg.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("cloudwatch client: %w", err)
		}
		metrics = telemetry.NewCloudWatchMetrics(cw, cfg.Telemetry.Namespace, cfg.Environment, log)
	}

	leases, accounts, profiles, err := buildStores(ctx, cfg.Enrichment, cfg.AWS.Region)
	if err != nil {
		return nil, err
	}
	engine := enrichment.NewEngine(leases, accounts, profiles, enrichment.Options{
		Timeout:             cfg.Enrichment.Timeout,
		BreakerThreshold:    cfg.Enrichment.BreakerThreshold,
		BreakerCooldown:     cfg.Enrichment.BreakerCooldown,
		StalenessWindow:     cfg.Enrichment.StalenessWindow,
		DiscrepancyFraction: cfg.Enrichment.DiscrepancyFraction,
	}, log, metrics, nil)

	registry, err := personalize.LoadRegistry(cfg.Templates.RegistryPath)
	if err != nil {
		return nil, fmt.Errorf("template registry: %w", err)
	}

	validator := event.NewValidator(cfg.Events.AllowedSources)
	signer := links.NewSigner(cfg.Links.SigningSecret, cfg.Links.PortalBaseURL, cfg.Links.TTL)
	builder := personalize.NewBuilder(cfg.DefaultTimezone, log)

	// Locally, credential refs are read as environment variable names so a
	// .env file can stand in for the parameter store.
	var fetcher dispatch.SecretFetcher
	if local {
		fetcher = config.NewEnvVarProvider()
	} else {
		fetcher = config.NewSSMProvider(cfg.AWS.Region)
	}
	creds := dispatch.NewCredentialCache(fetcher, log)

	provider, err := buildEmailProvider(cfg.Email, awsCfg, log)
	if err != nil {
		return nil, err
	}
	email := dispatch.NewEmailDispatcher(provider, creds, dispatch.EmailOptions{
		DefaultCredentialRef: cfg.Email.CredentialRef,
		RetrySchedule:        cfg.Email.RetrySchedule,
		BreakerThreshold:     cfg.Email.BreakerThreshold,
		BreakerCooldown:      cfg.Email.BreakerCooldown,
	}, log, metrics, nil)

	poster := external.NewWebhookClient(nil, external.WebhookConfig{
		Timeout:   cfg.Chat.Timeout,
		UserAgent: cfg.Chat.UserAgent,
		Logger:    log,
	})
	chat := dispatch.NewChatDispatcher(poster, creds, dispatch.ChatOptions{
		CredentialRef:    cfg.Chat.CredentialRef,
		RetrySchedule:    cfg.Chat.RetrySchedule,
		BreakerThreshold: cfg.Chat.BreakerThreshold,
		BreakerCooldown:  cfg.Chat.BreakerCooldown,
	}, log, metrics, nil)

	creds.Prefetch(ctx, emailCredentialRefs(cfg.Email.CredentialRef, registry), []string{cfg.Chat.CredentialRef})

	// With no queue configured the sink logs and drops, so the client is
	// only built when it will be used.
	var sqsClient queue.SQSSender
	if cfg.DeadLetter.QueueURL != "" {
		sqsClient = sqs.NewFromConfig(awsCfg)
	}
	deadLetters := queue.NewDeadLetterSink(sqsClient, queue.Options{
		QueueURL:          cfg.DeadLetter.QueueURL,
		CompressThreshold: cfg.DeadLetter.CompressThreshold,
	}, log, metrics, nil)

	pipeline := notifier.New(notifier.Deps{
		Validator:   validator,
		Templates:   registry,
		Enricher:    engine,
		Links:       signer,
		Builder:     builder,
		Email:       email,
		Chat:        chat,
		DeadLetters: deadLetters,
		Logger:      log,
		Metrics:     metrics,
	})

	return &Handler{pipeline: pipeline, metrics: metrics, clock: types.RealClock{}}, nil
}

// buildStores selects the enrichment backend. One store value serves all
// three lookup interfaces regardless of backend.
func buildStores(ctx context.Context, cfg config.EnrichmentConfig, region string) (types.LeaseStore, types.AccountStore, types.ProfileStore, error) {
	switch cfg.Backend {
	case "dynamo":
		ds, err := store.NewDynamoStore(ctx, region, cfg.LeaseTable, cfg.AccountTable, cfg.ProfileTable)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("dynamo store: %w", err)
		}
		return ds, ds, ds, nil
	case "http":
		hs := store.NewHTTPStore(cfg.APIBaseURL, cfg.APIToken)
		return hs, hs, hs, nil
	case "stub":
		ss := store.NewStubStore()
		return ss, ss, ss, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown enrichment backend %q", cfg.Backend)
	}
}

// buildEmailProvider selects the sending backend for the email channel.
func buildEmailProvider(cfg config.EmailConfig, awsCfg aws.Config, log types.Logger) (external.EmailProvider, error) {
	switch cfg.Provider {
	case "notify":
		return external.NewNotifyClient(nil, external.NotifyConfig{
			Timeout: cfg.Timeout,
			Logger:  log,
		}), nil
	case "ses":
		if cfg.SESFromAddress == "" {
			return nil, fmt.Errorf("EMAIL_SES_FROM is required when EMAIL_PROVIDER=ses")
		}
		return external.NewSESClient(awsCfg, external.SESConfig{
			FromAddress:   cfg.SESFromAddress,
			ConfigSetName: cfg.SESConfigSet,
			Logger:        log,
		}), nil
	case "stub":
		return external.NewStubEmailProvider(log), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// emailCredentialRefs collects the default email credential ref plus every
// distinct ref the registry binds to an event type, so the credential cache
// is warm before the first dispatch.
func emailCredentialRefs(defaultRef string, registry *personalize.Registry) []string {
	seen := make(map[string]bool)
	var refs []string
	add := func(ref string) {
		if ref != "" && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	add(defaultRef)
	for _, et := range registry.EventTypes() {
		tpl, err := registry.Lookup(et)
		if err != nil {
			continue
		}
		add(tpl.CredentialRef)
	}
	return refs
}

func main() {
	// Bootstrap logger for the window before configuration is parsed.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("notifier initializing (cold start)")

	// Local runs resolve secrets from the environment, so no provider is
	// needed; everywhere else _SSM_PARAM references go through SSM.
	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	log := (&slogAdapter{logger: logger}).With("service", cfg.Service, "env", cfg.Environment)

	ctx := context.Background()
	handler, err := buildHandler(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	log.Info("notifier initialized",
		"emailProvider", cfg.Email.Provider,
		"enrichmentBackend", cfg.Enrichment.Backend,
		"deadLetterQueue", cfg.DeadLetter.QueueURL != "",
		"version", cfg.Build.Version,
	)

	if cfg.Environment == "local" {
		runLocal(ctx, handler, log)
		return
	}

	lambda.Start(handler.Handle)
}

// runLocal reads one EventBridge event from stdin and runs it through the
// handler, mirroring the deployed trigger without the Lambda runtime.
// Usage: cat event.json | APP_ENV=local go run ./cmd/notifier
func runLocal(ctx context.Context, handler *Handler, log types.Logger) {
	log.Info("APP_ENV=local: reading event from stdin")

	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Error("failed to read stdin", "error", err)
		os.Exit(1)
	}
	if len(payload) == 0 {
		log.Error("no input received on stdin")
		os.Exit(1)
	}

	var evt events.CloudWatchEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		log.Error("failed to parse event", "error", err)
		os.Exit(1)
	}

	if err := handler.Handle(ctx, evt); err != nil {
		log.Error("event processing failed", "error", err)
		os.Exit(1)
	}
	log.Info("event processed")
}

// parseLogLevel maps the configured level onto slog. Unknown values fall
// back to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Interface conformance check.
var _ types.Logger = (*slogAdapter)(nil)
