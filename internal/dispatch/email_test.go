package dispatch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"sandboxnotify/internal/types"
)

const (
	testRecipient = "jane.doe@example.gov.uk"
	testTemplate  = "7a1b9c3d-0e2f-4a5b-8c6d-1e3f5a7b9c0d"
	testEmailRef  = "/sandbox-notifier/credentials/email"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeEmailProvider struct {
	mu       sync.Mutex
	inputs   []types.SendInput
	creds    []types.EmailCredentials
	sendFunc func(ctx context.Context, creds types.EmailCredentials, input types.SendInput) (string, error)
}

func (f *fakeEmailProvider) Send(ctx context.Context, creds types.EmailCredentials, input types.SendInput) (string, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.creds = append(f.creds, creds)
	f.mu.Unlock()
	return f.sendFunc(ctx, creds, input)
}

func (f *fakeEmailProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type fakeFetcher struct {
	mu   sync.Mutex
	keys []string
	docs map[string]string
	err  error
}

func (f *fakeFetcher) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, keys...)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := f.docs[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeFetcher) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

func emailFetcher() *fakeFetcher {
	return &fakeFetcher{docs: map[string]string{
		testEmailRef: `{"api_key": "test-api-key"}`,
	}}
}

func newTestEmailDispatcher(provider *fakeEmailProvider, fetcher *fakeFetcher, logger *recordingLogger) *EmailDispatcher {
	d := NewEmailDispatcher(provider, NewCredentialCache(fetcher, logger), EmailOptions{
		DefaultCredentialRef: testEmailRef,
		RetrySchedule:        []time.Duration{time.Millisecond, time.Millisecond},
	}, logger, &recordingMetrics{}, fixedClock{t: time.Date(2026, 6, 15, 9, 30, 0, 0, time.UTC)})
	d.core.sleep = func(_ context.Context, _ time.Duration) error { return nil }
	return d
}

func emailRequest() types.DispatchRequest {
	return types.DispatchRequest{
		TemplateID:       testTemplate,
		CredentialRef:    testEmailRef,
		Recipient:        testRecipient,
		ClaimedRecipient: testRecipient,
		Reference:        "evt-001",
		Personalization: types.Personalization{
			"displayName": "Jane Doe",
			"maxSpend":    "$2,000.00",
		},
	}
}

// ---------------------------------------------------------------------------
// EmailDispatcher
// ---------------------------------------------------------------------------

func TestEmailDispatch_Success(t *testing.T) {
	provider := &fakeEmailProvider{
		sendFunc: func(_ context.Context, _ types.EmailCredentials, _ types.SendInput) (string, error) {
			return "notify-msg-1", nil
		},
	}
	d := newTestEmailDispatcher(provider, emailFetcher(), &recordingLogger{})

	result, err := d.Dispatch(context.Background(), emailRequest())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Channel != types.ChannelEmail {
		t.Errorf("channel = %q, want email", result.Channel)
	}
	if result.ProviderID != "notify-msg-1" {
		t.Errorf("provider id = %q, want notify-msg-1", result.ProviderID)
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}

	input := provider.inputs[0]
	if input.TemplateID != testTemplate || input.Recipient != testRecipient || input.Reference != "evt-001" {
		t.Errorf("provider input = %+v", input)
	}
	if got := provider.creds[0].APIKey.Unmask(); got != "test-api-key" {
		t.Errorf("provider credentials = %q, want the fetched api key", got)
	}
}

func TestEmailDispatch_RecipientMismatchIsSecurity(t *testing.T) {
	provider := &fakeEmailProvider{
		sendFunc: func(_ context.Context, _ types.EmailCredentials, _ types.SendInput) (string, error) {
			return "should-never-send", nil
		},
	}
	fetcher := emailFetcher()
	logger := &recordingLogger{}
	d := newTestEmailDispatcher(provider, fetcher, logger)

	req := emailRequest()
	req.Recipient = "mallory@attacker.example"

	_, err := d.Dispatch(context.Background(), req)
	nerr := asNotificationError(t, err)
	if nerr.Kind != types.KindSecurity || nerr.Code != types.ErrCodeRecipientMismatch {
		t.Errorf("got %v/%q, want Security/%q", nerr.Kind, nerr.Code, types.ErrCodeRecipientMismatch)
	}
	if provider.callCount() != 0 {
		t.Error("provider was called despite the recipient mismatch")
	}
	if fetcher.fetches() != 0 {
		t.Error("credentials were fetched despite the recipient mismatch")
	}
	if !contains(logger.errors, "m***@attacker.example") || !contains(logger.errors, "j***@example.gov.uk") {
		t.Errorf("mismatch log should carry both addresses redacted, got %v", logger.errors)
	}
	if contains(logger.errors, "mallory@attacker.example") {
		t.Error("mismatch log leaked the raw recipient")
	}
}

func TestEmailDispatch_RecipientComparisonIsCaseInsensitive(t *testing.T) {
	provider := &fakeEmailProvider{
		sendFunc: func(_ context.Context, _ types.EmailCredentials, _ types.SendInput) (string, error) {
			return "notify-msg-2", nil
		},
	}
	d := newTestEmailDispatcher(provider, emailFetcher(), &recordingLogger{})

	req := emailRequest()
	req.Recipient = "Jane.Doe@Example.GOV.UK"

	if _, err := d.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
}

func TestEmailDispatch_EscapesPersonalizationValues(t *testing.T) {
	provider := &fakeEmailProvider{
		sendFunc: func(_ context.Context, _ types.EmailCredentials, _ types.SendInput) (string, error) {
			return "notify-msg-3", nil
		},
	}
	d := newTestEmailDispatcher(provider, emailFetcher(), &recordingLogger{})

	req := emailRequest()
	req.Personalization["reason"] = `of <script>alert("x")</script> & more`

	if _, err := d.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	sent := provider.inputs[0].Personalization
	if strings.Contains(sent["reason"], "<script>") {
		t.Errorf("markup reached the provider unescaped: %q", sent["reason"])
	}
	if !strings.Contains(sent["reason"], "&lt;script&gt;") || !strings.Contains(sent["reason"], "&amp;") {
		t.Errorf("reason = %q, want HTML-escaped", sent["reason"])
	}
	// The caller's map stays untouched.
	if !strings.Contains(req.Personalization["reason"], "<script>") {
		t.Error("dispatch mutated the caller's personalization")
	}
}

func TestEmailDispatch_RetriesThenSucceedsWithCachedCredentials(t *testing.T) {
	calls := 0
	provider := &fakeEmailProvider{
		sendFunc: func(_ context.Context, _ types.EmailCredentials, _ types.SendInput) (string, error) {
			calls++
			if calls < 3 {
				return "", types.NewError(types.KindRetriable, types.ErrCodeProviderUnavailable, "upstream 503", nil)
			}
			return "notify-msg-4", nil
		},
	}
	fetcher := emailFetcher()
	d := newTestEmailDispatcher(provider, fetcher, &recordingLogger{})

	result, err := d.Dispatch(context.Background(), emailRequest())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
	if fetcher.fetches() != 1 {
		t.Errorf("parameter store fetches = %d, want 1 (cached across attempts)", fetcher.fetches())
	}
}

func TestEmailDispatch_CriticalInvalidatesCredentials(t *testing.T) {
	provider := &fakeEmailProvider{
		sendFunc: func(_ context.Context, _ types.EmailCredentials, _ types.SendInput) (string, error) {
			return "", types.NewError(types.KindCritical, types.ErrCodeCredentialsDenied, "credentials rejected", nil)
		},
	}
	fetcher := emailFetcher()
	d := newTestEmailDispatcher(provider, fetcher, &recordingLogger{})

	_, err := d.Dispatch(context.Background(), emailRequest())
	if types.KindOf(err) != types.KindCritical {
		t.Fatalf("kind = %v, want Critical", types.KindOf(err))
	}

	// The rotated secret is re-read on the next dispatch.
	provider.sendFunc = func(_ context.Context, _ types.EmailCredentials, _ types.SendInput) (string, error) {
		return "notify-msg-5", nil
	}
	if _, err := d.Dispatch(context.Background(), emailRequest()); err != nil {
		t.Fatalf("Dispatch after invalidation: %v", err)
	}
	if fetcher.fetches() != 2 {
		t.Errorf("parameter store fetches = %d, want 2 (invalidated after Critical)", fetcher.fetches())
	}
}

func TestEmailDispatch_FallsBackToDefaultCredentialRef(t *testing.T) {
	provider := &fakeEmailProvider{
		sendFunc: func(_ context.Context, _ types.EmailCredentials, _ types.SendInput) (string, error) {
			return "notify-msg-6", nil
		},
	}
	fetcher := emailFetcher()
	d := newTestEmailDispatcher(provider, fetcher, &recordingLogger{})

	req := emailRequest()
	req.CredentialRef = ""

	if _, err := d.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(fetcher.keys) != 1 || fetcher.keys[0] != testEmailRef {
		t.Errorf("fetched keys = %v, want [%s]", fetcher.keys, testEmailRef)
	}
}
