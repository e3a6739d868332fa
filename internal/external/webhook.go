package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sandboxnotify/internal/types"
)

// errWebhookRedirect aborts any redirect a webhook endpoint attempts. A
// webhook that answers with a redirect is no longer the webhook that was
// registered.
var errWebhookRedirect = errors.New("webhook redirects are not followed")

// defaultWebhookTimeout bounds one post attempt end to end.
const defaultWebhookTimeout = 10 * time.Second

// defaultThrottleWait is assumed when a 429 carries no usable Retry-After.
const defaultThrottleWait = 60 * time.Second

// knownChatErrors are soft-failure bodies Slack-compatible receivers return
// with a 2xx status.
var knownChatErrors = map[string]struct{}{
	"invalid_payload":     {},
	"channel_not_found":   {},
	"channel_is_archived": {},
	"user_not_found":      {},
	"no_text":             {},
}

// WebhookConfig holds the parameters for creating a WebhookClient.
type WebhookConfig struct {
	Timeout   time.Duration
	UserAgent string
	Logger    types.Logger
}

// WebhookClient implements ChatPoster over Slack-compatible incoming
// webhooks. Webhook URLs embed a token, so they never appear in logs or
// error messages.
type WebhookClient struct {
	httpClient *http.Client
	userAgent  string
	logger     types.Logger
}

// NewWebhookClient creates a WebhookClient. The injected client is copied so
// the redirect policy can be enforced without mutating the caller's client;
// nil gets a default client with a 10 second timeout.
func NewWebhookClient(httpClient *http.Client, cfg WebhookConfig) *WebhookClient {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultWebhookTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	wrapped := *httpClient
	wrapped.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return errWebhookRedirect
	}

	return &WebhookClient{
		httpClient: &wrapped,
		userAgent:  cfg.UserAgent,
		logger:     cfg.Logger,
	}
}

// Post delivers one payload. Success requires both a 2xx status and a
// semantic acknowledgement in the body: "ok" verbatim or JSON "ok": true.
//
// Error mapping:
//   - redirect, 400, 404, 2xx without acknowledgement → Permanent
//   - 410 → Permanent webhook_revoked
//   - 401/403 → Critical credentials_denied
//   - 429 → Retriable provider_throttled (Retry-After, default 60s)
//   - 5xx and transport failures → Retriable
func (c *WebhookClient) Post(ctx context.Context, creds types.ChatCredentials, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return types.NewError(types.KindPermanent, types.ErrCodeInternal,
			"failed to create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, errWebhookRedirect) {
			return types.NewError(types.KindPermanent, types.ErrCodeWebhookRevoked,
				"webhook answered with a redirect", nil)
		}
		return types.NewError(types.KindRetriable, types.ErrCodeProviderUnavailable,
			"webhook request failed", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if readErr != nil {
		body = nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return checkAcknowledgement(body)
	}
	return c.mapWebhookError(resp)
}

// checkAcknowledgement enforces the semantic half of the delivery contract.
// A 2xx whose body does not acknowledge the message is a soft failure: the
// endpoint is healthy but the message was not accepted, so retrying the same
// payload cannot help.
func checkAcknowledgement(body []byte) error {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "ok" {
		return nil
	}

	var ack struct {
		Ok    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &ack); err == nil {
		if ack.Ok {
			return nil
		}
		reason := ack.Error
		if reason == "" {
			reason = "ok is false"
		}
		return types.NewError(types.KindPermanent, types.ErrCodeProviderRejected,
			fmt.Sprintf("webhook declined the message: %s", reason), nil)
	}

	if _, known := knownChatErrors[trimmed]; known {
		return types.NewError(types.KindPermanent, types.ErrCodeProviderRejected,
			fmt.Sprintf("webhook declined the message: %s", trimmed), nil)
	}
	return types.NewError(types.KindPermanent, types.ErrCodeProviderRejected,
		"webhook returned 2xx without acknowledging the message", nil)
}

// mapWebhookError classifies non-2xx responses. Bodies are never quoted
// back: error pages can be arbitrarily unhelpful and the status code carries
// the decision.
func (c *WebhookClient) mapWebhookError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusGone:
		c.logger.Error("chat webhook has been revoked", "status", resp.StatusCode)
		return types.NewError(types.KindPermanent, types.ErrCodeWebhookRevoked,
			"webhook has been revoked", nil)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return types.NewError(types.KindPermanent, types.ErrCodeProviderRejected,
			fmt.Sprintf("webhook rejected the payload (status %d)", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.NewError(types.KindCritical, types.ErrCodeCredentialsDenied,
			fmt.Sprintf("webhook refused authorization (status %d)", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := defaultThrottleWait
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			wait = d
		}
		return types.NewError(types.KindRetriable, types.ErrCodeProviderThrottled,
			"webhook rate limit exceeded", nil).WithRetryAfter(wait)
	default:
		return types.NewError(types.KindRetriable, types.ErrCodeProviderUnavailable,
			fmt.Sprintf("webhook request failed (status %d)", resp.StatusCode), nil)
	}
}

// Compile-time assertion that WebhookClient satisfies ChatPoster.
var _ ChatPoster = (*WebhookClient)(nil)
