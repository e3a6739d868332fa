package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sandboxnotify/internal/types"
)

// testLogger records log calls for assertions. The external clients only
// log, never branch on the logger, so a plain recorder is enough.
type testLogger struct {
	infos  []string
	warns  []string
	errors []string
}

func (l *testLogger) Info(msg string, args ...any)  { l.infos = append(l.infos, msg) }
func (l *testLogger) Warn(msg string, args ...any)  { l.warns = append(l.warns, msg) }
func (l *testLogger) Error(msg string, args ...any) { l.errors = append(l.errors, msg) }
func (l *testLogger) With(args ...any) types.Logger { return l }

func testCreds() types.EmailCredentials {
	return types.EmailCredentials{APIKey: types.SecretString("test-api-key")}
}

func testSendInput() types.SendInput {
	return types.SendInput{
		TemplateID: "4f0a2ce2-88a3-4a3f-9f6e-1f2b7c1d9a01",
		Recipient:  "jane.doe@example.gov.uk",
		Reference:  "evt-001",
		Personalization: types.Personalization{
			"displayName": "Jane Doe",
			"maxSpend":    "$50.00",
		},
	}
}

func newTestNotifyClient(serverURL string) *NotifyClient {
	return NewNotifyClient(&http.Client{Timeout: 5 * time.Second}, NotifyConfig{
		BaseURL: serverURL,
		Logger:  &testLogger{},
	})
}

func asNotificationError(t *testing.T, err error) *types.NotificationError {
	t.Helper()
	var nerr *types.NotificationError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected a NotificationError, got %T: %v", err, err)
	}
	return nerr
}

// ---------------------------------------------------------------------------
// Send Tests - Success Path
// ---------------------------------------------------------------------------

func TestNotifySend_Success(t *testing.T) {
	var receivedPayload notifySendPayload
	var receivedAuth string
	var receivedContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v2/notifications/email" {
			t.Errorf("expected path /v2/notifications/email, got %s", r.URL.Path)
		}
		receivedAuth = r.Header.Get("Authorization")
		receivedContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&receivedPayload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"notify-msg-1","reference":"evt-001"}`))
	}))
	defer server.Close()

	client := newTestNotifyClient(server.URL)
	msgID, err := client.Send(context.Background(), testCreds(), testSendInput())
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if msgID != "notify-msg-1" {
		t.Errorf("message id = %q, want %q", msgID, "notify-msg-1")
	}

	if receivedAuth != "Bearer test-api-key" {
		t.Errorf("Authorization = %q, want bearer token", receivedAuth)
	}
	if receivedContentType != "application/json" {
		t.Errorf("Content-Type = %q", receivedContentType)
	}
	if receivedPayload.TemplateID != "4f0a2ce2-88a3-4a3f-9f6e-1f2b7c1d9a01" {
		t.Errorf("template_id = %q", receivedPayload.TemplateID)
	}
	if receivedPayload.EmailAddress != "jane.doe@example.gov.uk" {
		t.Errorf("email_address = %q", receivedPayload.EmailAddress)
	}
	if receivedPayload.Reference != "evt-001" {
		t.Errorf("reference = %q", receivedPayload.Reference)
	}
	if receivedPayload.Personalisation["displayName"] != "Jane Doe" {
		t.Errorf("personalisation = %v", receivedPayload.Personalisation)
	}
}

func TestNotifySend_CredentialBaseURLWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"notify-msg-2"}`))
	}))
	defer server.Close()

	// The configured base points nowhere; the credential document overrides.
	client := newTestNotifyClient("http://127.0.0.1:1")
	creds := testCreds()
	creds.BaseURL = server.URL

	msgID, err := client.Send(context.Background(), creds, testSendInput())
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if msgID != "notify-msg-2" {
		t.Errorf("message id = %q", msgID)
	}
}

// ---------------------------------------------------------------------------
// Send Tests - Error Mapping
// ---------------------------------------------------------------------------

func TestNotifySend_ValidationErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status_code":400,"errors":[{"error":"ValidationError","message":"email_address Not a valid email address"}]}`))
	}))
	defer server.Close()

	_, err := newTestNotifyClient(server.URL).Send(context.Background(), testCreds(), testSendInput())
	nerr := asNotificationError(t, err)
	if nerr.Kind != types.KindPermanent {
		t.Errorf("kind = %s, want permanent", nerr.Kind)
	}
	if nerr.Code != types.ErrCodeProviderRejected {
		t.Errorf("code = %s", nerr.Code)
	}
	if !strings.Contains(nerr.Message, "ValidationError") {
		t.Errorf("message should carry the provider error class, got %q", nerr.Message)
	}
}

func TestNotifySend_TeamRuleRejectionIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status_code":400,"errors":[{"error":"BadRequestError","message":"Can't send to this recipient using a team-only API key"}]}`))
	}))
	defer server.Close()

	_, err := newTestNotifyClient(server.URL).Send(context.Background(), testCreds(), testSendInput())
	nerr := asNotificationError(t, err)
	if nerr.Kind != types.KindPermanent {
		t.Errorf("kind = %s, want permanent", nerr.Kind)
	}
}

func TestNotifySend_ForbiddenIsCritical(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status_code":403,"errors":[{"error":"AuthError","message":"Invalid token"}]}`))
	}))
	defer server.Close()

	_, err := newTestNotifyClient(server.URL).Send(context.Background(), testCreds(), testSendInput())
	nerr := asNotificationError(t, err)
	if nerr.Kind != types.KindCritical {
		t.Errorf("kind = %s, want critical", nerr.Kind)
	}
	if nerr.Code != types.ErrCodeCredentialsDenied {
		t.Errorf("code = %s", nerr.Code)
	}
}

func TestNotifySend_TooManyRequestsCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"status_code":429,"errors":[{"error":"RateLimitError","message":"Exceeded rate limit"}]}`))
	}))
	defer server.Close()

	_, err := newTestNotifyClient(server.URL).Send(context.Background(), testCreds(), testSendInput())
	nerr := asNotificationError(t, err)
	if nerr.Kind != types.KindRetriable {
		t.Errorf("kind = %s, want retriable", nerr.Kind)
	}
	if nerr.Code != types.ErrCodeProviderThrottled {
		t.Errorf("code = %s", nerr.Code)
	}
	if nerr.RetryAfter != 7*time.Second {
		t.Errorf("retry-after = %s, want 7s", nerr.RetryAfter)
	}
}

func TestNotifySend_ServerErrorIsRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	_, err := newTestNotifyClient(server.URL).Send(context.Background(), testCreds(), testSendInput())
	nerr := asNotificationError(t, err)
	if nerr.Kind != types.KindRetriable {
		t.Errorf("kind = %s, want retriable", nerr.Kind)
	}
	if nerr.Code != types.ErrCodeProviderUnavailable {
		t.Errorf("code = %s", nerr.Code)
	}
}

func TestNotifySend_TransportErrorIsRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused

	_, err := newTestNotifyClient(server.URL).Send(context.Background(), testCreds(), testSendInput())
	nerr := asNotificationError(t, err)
	if nerr.Kind != types.KindRetriable {
		t.Errorf("kind = %s, want retriable", nerr.Kind)
	}
}
