// Package main implements the seed-credentials CLI tool. It populates AWS
// SSM Parameter Store with the secret documents the notifier resolves at
// runtime: the email provider credential document, the chat webhook
// document, and the link signing secret.
//
// Usage:
//
//	go run ./cmd/ops/seed-credentials --env=dev
//	go run ./cmd/ops/seed-credentials --env=dev --dry-run
//	go run ./cmd/ops/seed-credentials --env=prod --profile=sandbox-prod --overwrite
//
// The tool prompts for the external secrets (email API key, chat webhook
// URL), generates the link signing secret locally, validates every document
// against the same rules the notifier applies at read time, and writes
// SecureString parameters under /{env}/sandbox-notifier/. It finishes by
// printing the environment variables a deployment sets to consume the
// written parameters. Secret values are never echoed back or logged.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-playground/validator/v10"

	"sandboxnotify/internal/types"
)

// validEnvironments is the set of deployment environments the tool seeds.
// Local runs read credentials from environment variables, not SSM.
var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// ssmOperationTimeout bounds each SSM API call.
const ssmOperationTimeout = 15 * time.Second

// signingSecretBytes is the entropy for the generated link signing secret.
// 32 bytes hex-encode to 64 characters.
const signingSecretBytes = 32

// ssmAPI is the subset of the SSM SDK client the seeder uses. An interface
// so unit tests run without a live AWS connection.
type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// parameter is one SecureString destined for the parameter store.
type parameter struct {
	// key is the path fragment under the environment prefix.
	key   string
	value string
}

// seeder writes parameters under one environment prefix.
type seeder struct {
	client    ssmAPI
	env       string
	overwrite bool
	dryRun    bool
	logger    *slog.Logger
}

// path builds the absolute parameter path for a key fragment, following the
// /{env}/sandbox-notifier/{key} convention the deployment templates use.
func (s *seeder) path(key string) string {
	return fmt.Sprintf("/%s/sandbox-notifier/%s", s.env, key)
}

// seed writes one SecureString parameter. An existing parameter is left
// untouched unless --overwrite was given, so re-runs are safe. In dry-run
// mode nothing is written.
func (s *seeder) seed(ctx context.Context, p parameter) error {
	path := s.path(p.key)

	exists, err := s.parameterExists(ctx, path)
	if err != nil {
		return err
	}
	if exists && !s.overwrite {
		s.logger.Warn("parameter already exists, skipping (use --overwrite to replace)", "path", path)
		return nil
	}

	if s.dryRun {
		s.logger.Info("dry-run: would write parameter", "path", path, "value_length", len(p.value))
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err = s.client.PutParameter(opCtx, &ssm.PutParameterInput{
		Name:      aws.String(path),
		Value:     aws.String(p.value),
		Type:      ssmtypes.ParameterTypeSecureString,
		Overwrite: aws.Bool(s.overwrite),
	})
	if err != nil {
		return fmt.Errorf("writing parameter %q: %w", path, err)
	}

	// Log the length, never the value.
	s.logger.Info("parameter written", "path", path, "value_length", len(p.value))
	return nil
}

// parameterExists probes for a parameter without decrypting it, so the
// check needs no kms permissions.
func (s *seeder) parameterExists(ctx context.Context, path string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := s.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking parameter %q: %w", path, err)
	}
	return true, nil
}

// emailDocument renders the credential JSON stored at the email ref. The
// document is built from a plain struct because types.EmailCredentials
// redacts itself when marshalled; it is then round-tripped through the
// pipeline's own type so a document the credential cache would reject never
// reaches the parameter store.
func emailDocument(apiKey, baseURL string) (string, error) {
	doc := struct {
		APIKey  string `json:"api_key"`
		BaseURL string `json:"base_url,omitempty"`
	}{APIKey: apiKey, BaseURL: baseURL}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal email credential document: %w", err)
	}

	var parsed types.EmailCredentials
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("email credential document does not parse: %w", err)
	}
	if err := validator.New().Struct(parsed); err != nil {
		return "", fmt.Errorf("email credential document is invalid: %w", err)
	}
	return string(raw), nil
}

// chatDocument renders the webhook JSON stored at the chat ref, validated
// the same way the credential cache validates it.
func chatDocument(webhookURL string) (string, error) {
	doc := struct {
		WebhookURL string `json:"webhook_url"`
	}{WebhookURL: webhookURL}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal chat credential document: %w", err)
	}

	var parsed types.ChatCredentials
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("chat credential document does not parse: %w", err)
	}
	if err := validator.New().Struct(parsed); err != nil {
		return "", fmt.Errorf("chat credential document is invalid: %w", err)
	}
	return string(raw), nil
}

// generateSigningSecret produces the link signing secret from OS entropy,
// hex-encoded. It is generated rather than prompted for because nothing
// outside the notifier ever needs to know it.
func generateSigningSecret() (string, error) {
	buf := make([]byte, signingSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating signing secret: crypto/rand failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// prompt reads one line from the reader. The label goes to stderr so stdout
// stays clean, and the entered value is never repeated.
func prompt(reader *bufio.Reader, label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func main() {
	envFlag := flag.String("env", "", "Target environment (dev/staging/prod) [required]")
	profileFlag := flag.String("profile", "", "AWS CLI profile (default: uses default credential chain)")
	regionFlag := flag.String("region", "us-east-1", "AWS region")
	overwriteFlag := flag.Bool("overwrite", false, "Replace parameters that already exist")
	dryRunFlag := flag.Bool("dry-run", false, "Validate and print what would be written without writing")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Sandbox Notifier Credential Seeder\n\n")
		fmt.Fprintf(os.Stderr, "Writes the notifier's secret parameters to AWS SSM Parameter Store.\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  seed-credentials --env=dev [--profile=NAME] [--region=REGION] [--overwrite] [--dry-run]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *envFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --env is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if !validEnvironments[*envFlag] {
		fmt.Fprintf(os.Stderr, "error: invalid environment %q (must be dev, staging, or prod)\n", *envFlag)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var opts []func(*awsconfig.LoadOptions) error
	if *regionFlag != "" {
		opts = append(opts, awsconfig.WithRegion(*regionFlag))
	}
	if *profileFlag != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(*profileFlag))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		logger.Error("loading AWS config failed", "error", err)
		os.Exit(1)
	}

	// Verify the active identity before touching anything, so secrets can
	// never land in the wrong account.
	identity, err := sts.NewFromConfig(awsCfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		logger.Error("STS GetCallerIdentity failed (are credentials configured?)", "error", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "\nEnvironment: %s\nAccount:     %s\nRegion:      %s\nIdentity:    %s\n\n",
		*envFlag, aws.ToString(identity.Account), *regionFlag, aws.ToString(identity.Arn))

	reader := bufio.NewReader(os.Stdin)

	if *envFlag == "prod" && !*dryRunFlag {
		answer, err := prompt(reader, `Seeding PRODUCTION parameters. Type "yes" to continue`)
		if err != nil || answer != "yes" {
			fmt.Fprintln(os.Stderr, "Aborted. No changes were made.")
			os.Exit(0)
		}
	}

	// Collect the external secrets. An empty answer skips that document so
	// partial environments (chat-only, email-only) can be seeded too.
	var params []parameter

	apiKey, err := prompt(reader, "Email provider API key (empty to skip)")
	if err != nil {
		logger.Error("reading input failed", "error", err)
		os.Exit(1)
	}
	if apiKey != "" {
		baseURL, err := prompt(reader, "Email provider base URL override (empty for default)")
		if err != nil {
			logger.Error("reading input failed", "error", err)
			os.Exit(1)
		}
		doc, err := emailDocument(apiKey, baseURL)
		if err != nil {
			logger.Error("email credential document rejected", "error", err)
			os.Exit(1)
		}
		params = append(params, parameter{key: "credentials/email", value: doc})
	}

	webhookURL, err := prompt(reader, "Chat webhook URL (empty to skip)")
	if err != nil {
		logger.Error("reading input failed", "error", err)
		os.Exit(1)
	}
	if webhookURL != "" {
		doc, err := chatDocument(webhookURL)
		if err != nil {
			logger.Error("chat credential document rejected", "error", err)
			os.Exit(1)
		}
		params = append(params, parameter{key: "credentials/chat", value: doc})
	}

	secret, err := generateSigningSecret()
	if err != nil {
		logger.Error("signing secret generation failed", "error", err)
		os.Exit(1)
	}
	params = append(params, parameter{key: "links/signing-secret", value: secret})

	s := &seeder{
		client:    ssm.NewFromConfig(awsCfg),
		env:       *envFlag,
		overwrite: *overwriteFlag,
		dryRun:    *dryRunFlag,
		logger:    logger,
	}
	for _, p := range params {
		if err := s.seed(ctx, p); err != nil {
			logger.Error("seeding failed", "error", err)
			os.Exit(1)
		}
	}

	fmt.Fprintf(os.Stderr, "\nDone. Configure the deployment with:\n\n")
	fmt.Fprintf(os.Stderr, "  EMAIL_CREDENTIAL_REF=%s\n", s.path("credentials/email"))
	fmt.Fprintf(os.Stderr, "  CHAT_CREDENTIAL_REF=%s\n", s.path("credentials/chat"))
	fmt.Fprintf(os.Stderr, "  LINK_SIGNING_SECRET_SSM_PARAM=%s\n", s.path("links/signing-secret"))
}
