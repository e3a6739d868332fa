package external

import (
	"context"
	"fmt"
	"sync/atomic"

	"sandboxnotify/internal/types"
)

// ---------------------------------------------------------------------------
// Stub Implementations
//
// Stubs let the pipeline run in local mode without provider credentials.
// They log every call and return predictable values.
// ---------------------------------------------------------------------------

// StubEmailProvider implements EmailProvider by logging the send and
// returning a synthetic message id.
type StubEmailProvider struct {
	logger types.Logger
	sent   atomic.Int64
}

// NewStubEmailProvider creates a StubEmailProvider.
func NewStubEmailProvider(logger types.Logger) *StubEmailProvider {
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, _ types.EmailCredentials, input types.SendInput) (string, error) {
	n := s.sent.Add(1)
	s.logger.Info("stub: email send",
		"templateId", input.TemplateID,
		"recipient", types.RedactEmail(input.Recipient),
		"reference", input.Reference,
	)
	return fmt.Sprintf("stub-email-%d", n), nil
}

// StubChatPoster implements ChatPoster by logging the payload size.
type StubChatPoster struct {
	logger types.Logger
}

// NewStubChatPoster creates a StubChatPoster.
func NewStubChatPoster(logger types.Logger) *StubChatPoster {
	return &StubChatPoster{logger: logger}
}

func (s *StubChatPoster) Post(ctx context.Context, _ types.ChatCredentials, payload []byte) error {
	s.logger.Info("stub: chat post", "payloadBytes", len(payload))
	return nil
}

var (
	_ EmailProvider = (*StubEmailProvider)(nil)
	_ ChatPoster    = (*StubChatPoster)(nil)
)
