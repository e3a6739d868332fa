package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sandboxnotify/internal/types"
)

// notifyAPIBase is the default Notify API base URL. Credential documents may
// carry a BaseURL that overrides it, which is how staging keys point at the
// staging endpoint.
const notifyAPIBase = "https://api.notifications.service.gov.uk"

// notifySendPath is the v2 templated email endpoint.
const notifySendPath = "/v2/notifications/email"

// defaultNotifyTimeout bounds one send attempt end to end.
const defaultNotifyTimeout = 10 * time.Second

// NotifyConfig holds the parameters for creating a NotifyClient.
type NotifyConfig struct {
	BaseURL string // override for testing; a credential BaseURL wins over this
	Timeout time.Duration
	Logger  types.Logger
}

// NotifyClient implements EmailProvider against the Notify v2 email API.
// One call is one attempt: classification happens here, retry policy and
// circuit breaking in the dispatcher.
type NotifyClient struct {
	httpClient *http.Client
	baseURL    string
	logger     types.Logger
}

// NewNotifyClient creates a NotifyClient. A nil httpClient gets a default
// client with a 10 second timeout.
func NewNotifyClient(httpClient *http.Client, cfg NotifyConfig) *NotifyClient {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultNotifyTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = notifyAPIBase
	}

	return &NotifyClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     cfg.Logger,
	}
}

// ---------------------------------------------------------------------------
// EmailProvider Implementation
// ---------------------------------------------------------------------------

// notifySendPayload is the v2 email send request body.
type notifySendPayload struct {
	TemplateID      string                `json:"template_id"`
	EmailAddress    string                `json:"email_address"`
	Personalisation types.Personalization `json:"personalisation,omitempty"`
	Reference       string                `json:"reference,omitempty"`
}

// notifySendResponse is the subset of the 201 response body the pipeline
// needs.
type notifySendResponse struct {
	ID string `json:"id"`
}

// Send transmits one templated email. Notify answers 201 Created with the
// notification id on success.
//
// Error mapping:
//   - 400 (ValidationError, BadRequestError) → Permanent provider_rejected
//   - 401/403 → Critical credentials_denied
//   - 429 → Retriable provider_throttled, honoring Retry-After
//   - 5xx and transport failures → Retriable provider_unavailable
func (c *NotifyClient) Send(ctx context.Context, creds types.EmailCredentials, input types.SendInput) (string, error) {
	payload := notifySendPayload{
		TemplateID:      input.TemplateID,
		EmailAddress:    input.Recipient,
		Personalisation: input.Personalization,
		Reference:       input.Reference,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewError(types.KindPermanent, types.ErrCodeInternal,
			"failed to marshal notify send payload", err)
	}

	base := c.baseURL
	if creds.BaseURL != "" {
		base = strings.TrimSuffix(creds.BaseURL, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+notifySendPath, bytes.NewReader(body))
	if err != nil {
		return "", types.NewError(types.KindPermanent, types.ErrCodeInternal,
			"failed to create notify send request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.APIKey.Unmask())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", types.NewError(types.KindRetriable, types.ErrCodeProviderUnavailable,
			"notify request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		var out notifySendResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
			return "", types.NewError(types.KindRetriable, types.ErrCodeProviderUnavailable,
				"notify returned 201 with an unreadable body", err)
		}
		return out.ID, nil
	}

	return "", c.handleErrorResponse(resp)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// notifyErrorResponse is the JSON error body Notify returns.
type notifyErrorResponse struct {
	StatusCode int                 `json:"status_code"`
	Errors     []notifyErrorDetail `json:"errors"`
}

type notifyErrorDetail struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleErrorResponse reads a Notify error body and maps it to a
// NotificationError kind.
func (c *NotifyClient) handleErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if readErr != nil {
		body = nil
	}

	errCode := ""
	message := strings.TrimSpace(string(body))
	var apiErr notifyErrorResponse
	if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && len(apiErr.Errors) > 0 {
		errCode = apiErr.Errors[0].Error
		message = apiErr.Errors[0].Message
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return types.NewError(types.KindPermanent, types.ErrCodeProviderRejected,
			fmt.Sprintf("notify rejected the send (%s): %s", errCode, message), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.NewError(types.KindCritical, types.ErrCodeCredentialsDenied,
			fmt.Sprintf("notify refused the api key (status %d)", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		nerr := types.NewError(types.KindRetriable, types.ErrCodeProviderThrottled,
			"notify rate limit exceeded", nil)
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			return nerr.WithRetryAfter(d)
		}
		return nerr
	case resp.StatusCode >= 500:
		return types.NewError(types.KindRetriable, types.ErrCodeProviderUnavailable,
			fmt.Sprintf("notify server error (status %d): %s", resp.StatusCode, message), nil)
	default:
		return types.NewError(types.KindPermanent, types.ErrCodeProviderRejected,
			fmt.Sprintf("notify error (status %d, %s): %s", resp.StatusCode, errCode, message), nil)
	}
}

// ---------------------------------------------------------------------------
// Interface Compliance
// ---------------------------------------------------------------------------

// Compile-time assertion that NotifyClient satisfies EmailProvider.
var _ EmailProvider = (*NotifyClient)(nil)
