package external

import (
	"context"

	"sandboxnotify/internal/types"
)

// EmailProvider abstracts the transactional email service. Implementations
// perform exactly one delivery attempt per call and classify failures into
// NotificationError kinds; retries and circuit breaking belong to the
// dispatcher.
type EmailProvider interface {
	// Send transmits one templated email and returns the provider's message
	// id. Credentials are resolved per send so that rotation and
	// invalidation take effect without a restart.
	Send(ctx context.Context, creds types.EmailCredentials, input types.SendInput) (string, error)
}

// ChatPoster delivers one rendered chat payload to an incoming webhook.
// The payload is already-marshaled JSON; the poster owns transport and
// response classification only.
type ChatPoster interface {
	Post(ctx context.Context, creds types.ChatCredentials, payload []byte) error
}
