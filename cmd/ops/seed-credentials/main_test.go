package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"sandboxnotify/internal/types"
)

// --- Fake SSM API ---

type fakeSSM struct {
	existing map[string]bool
	puts     []*ssm.PutParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, params *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if f.existing[aws.ToString(params.Name)] {
		return &ssm.GetParameterOutput{}, nil
	}
	return nil, &ssmtypes.ParameterNotFound{}
}

func (f *fakeSSM) PutParameter(_ context.Context, params *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.puts = append(f.puts, params)
	return &ssm.PutParameterOutput{}, nil
}

func testSeeder(client ssmAPI, overwrite, dryRun bool) *seeder {
	return &seeder{
		client:    client,
		env:       "dev",
		overwrite: overwrite,
		dryRun:    dryRun,
		logger:    slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
}

// --- seeder ---

func TestSeed_WritesSecureString(t *testing.T) {
	fake := &fakeSSM{}
	s := testSeeder(fake, false, false)

	err := s.seed(context.Background(), parameter{key: "credentials/email", value: `{"api_key":"k"}`})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if len(fake.puts) != 1 {
		t.Fatalf("PutParameter called %d times, want 1", len(fake.puts))
	}
	put := fake.puts[0]
	if got := aws.ToString(put.Name); got != "/dev/sandbox-notifier/credentials/email" {
		t.Errorf("path = %q", got)
	}
	if put.Type != ssmtypes.ParameterTypeSecureString {
		t.Errorf("type = %v, want SecureString", put.Type)
	}
	if got := aws.ToString(put.Value); got != `{"api_key":"k"}` {
		t.Errorf("value = %q", got)
	}
	if aws.ToBool(put.Overwrite) {
		t.Error("Overwrite = true on a fresh parameter without --overwrite")
	}
}

func TestSeed_SkipsExistingWithoutOverwrite(t *testing.T) {
	fake := &fakeSSM{existing: map[string]bool{"/dev/sandbox-notifier/links/signing-secret": true}}
	s := testSeeder(fake, false, false)

	err := s.seed(context.Background(), parameter{key: "links/signing-secret", value: "abc"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(fake.puts) != 0 {
		t.Errorf("PutParameter called %d times, want 0", len(fake.puts))
	}
}

func TestSeed_OverwriteReplacesExisting(t *testing.T) {
	fake := &fakeSSM{existing: map[string]bool{"/dev/sandbox-notifier/links/signing-secret": true}}
	s := testSeeder(fake, true, false)

	err := s.seed(context.Background(), parameter{key: "links/signing-secret", value: "abc"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(fake.puts) != 1 {
		t.Fatalf("PutParameter called %d times, want 1", len(fake.puts))
	}
	if !aws.ToBool(fake.puts[0].Overwrite) {
		t.Error("Overwrite flag not set on the API call")
	}
}

func TestSeed_DryRunWritesNothing(t *testing.T) {
	fake := &fakeSSM{}
	s := testSeeder(fake, false, true)

	err := s.seed(context.Background(), parameter{key: "credentials/chat", value: "doc"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(fake.puts) != 0 {
		t.Errorf("PutParameter called %d times in dry-run, want 0", len(fake.puts))
	}
}

// --- documents ---

func TestEmailDocument_RoundTripsThroughPipelineType(t *testing.T) {
	doc, err := emailDocument("notify-key-123", "")
	if err != nil {
		t.Fatalf("emailDocument: %v", err)
	}

	var parsed types.EmailCredentials
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("document does not parse: %v", err)
	}
	if parsed.APIKey.Unmask() != "notify-key-123" {
		t.Errorf("api key round-trip = %q", parsed.APIKey.Unmask())
	}
	if parsed.BaseURL != "" {
		t.Errorf("base url = %q, want empty", parsed.BaseURL)
	}
}

func TestEmailDocument_RejectsEmptyKeyAndBadURL(t *testing.T) {
	if _, err := emailDocument("", ""); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := emailDocument("k", "not-a-url"); err == nil {
		t.Error("expected error for malformed base url")
	}
}

func TestChatDocument_RequiresHTTPS(t *testing.T) {
	doc, err := chatDocument("https://chat.example.gov.uk/hooks/T0/B0/secret")
	if err != nil {
		t.Fatalf("chatDocument: %v", err)
	}
	var parsed types.ChatCredentials
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("document does not parse: %v", err)
	}
	if parsed.WebhookURL != "https://chat.example.gov.uk/hooks/T0/B0/secret" {
		t.Errorf("webhook url round-trip = %q", parsed.WebhookURL)
	}

	if _, err := chatDocument("http://chat.example.gov.uk/hooks/T0/B0/secret"); err == nil {
		t.Error("expected error for a plain http webhook")
	}
	if _, err := chatDocument(""); err == nil {
		t.Error("expected error for an empty webhook")
	}
}

// --- signing secret ---

func TestGenerateSigningSecret(t *testing.T) {
	first, err := generateSigningSecret()
	if err != nil {
		t.Fatal(err)
	}
	second, err := generateSigningSecret()
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != signingSecretBytes*2 {
		t.Errorf("secret length = %d, want %d hex chars", len(first), signingSecretBytes*2)
	}
	if _, err := hex.DecodeString(first); err != nil {
		t.Errorf("secret is not hex: %v", err)
	}
	if first == second {
		t.Error("two generated secrets are identical")
	}
}
