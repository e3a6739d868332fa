package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"sandboxnotify/internal/types"

	"github.com/go-playground/validator/v10"
)

// SecretFetcher resolves SSM parameter paths to decrypted values. It is
// satisfied by *config.SSMProvider.
type SecretFetcher interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

// CredentialCache fetches channel credential documents from the parameter
// store and keeps them for the process lifetime. Credentials are resolved
// per dispatch attempt so a rotated secret takes effect without a restart:
// the dispatcher invalidates the ref after a Critical auth failure and the
// next attempt re-reads it.
//
// All failures are Critical. A notification pipeline that cannot read its
// own credentials needs an operator, not a retry.
type CredentialCache struct {
	fetcher  SecretFetcher
	validate *validator.Validate
	logger   types.Logger

	mu    sync.RWMutex
	email map[string]types.EmailCredentials
	chat  map[string]types.ChatCredentials

	prefetchOnce sync.Once
}

// NewCredentialCache builds an empty cache over the given fetcher.
func NewCredentialCache(fetcher SecretFetcher, logger types.Logger) *CredentialCache {
	return &CredentialCache{
		fetcher:  fetcher,
		validate: validator.New(),
		logger:   logger,
		email:    make(map[string]types.EmailCredentials),
		chat:     make(map[string]types.ChatCredentials),
	}
}

// Email returns the email credential document stored at ref, fetching and
// validating it on first use.
func (c *CredentialCache) Email(ctx context.Context, ref string) (types.EmailCredentials, error) {
	c.mu.RLock()
	creds, ok := c.email[ref]
	c.mu.RUnlock()
	if ok {
		return creds, nil
	}

	raw, err := c.fetch(ctx, ref)
	if err != nil {
		return types.EmailCredentials{}, err
	}
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return types.EmailCredentials{}, types.NewError(types.KindCritical, types.ErrCodeCredentialsInvalid,
			fmt.Sprintf("credential document at %q is not valid JSON", ref), err)
	}
	if err := c.validate.Struct(creds); err != nil {
		return types.EmailCredentials{}, types.NewError(types.KindCritical, types.ErrCodeCredentialsInvalid,
			fmt.Sprintf("credential document at %q failed schema validation", ref), err)
	}

	c.mu.Lock()
	c.email[ref] = creds
	c.mu.Unlock()
	return creds, nil
}

// Chat returns the chat credential document stored at ref, fetching and
// validating it on first use.
func (c *CredentialCache) Chat(ctx context.Context, ref string) (types.ChatCredentials, error) {
	c.mu.RLock()
	creds, ok := c.chat[ref]
	c.mu.RUnlock()
	if ok {
		return creds, nil
	}

	raw, err := c.fetch(ctx, ref)
	if err != nil {
		return types.ChatCredentials{}, err
	}
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return types.ChatCredentials{}, types.NewError(types.KindCritical, types.ErrCodeCredentialsInvalid,
			fmt.Sprintf("credential document at %q is not valid JSON", ref), err)
	}
	if err := c.validate.Struct(creds); err != nil {
		return types.ChatCredentials{}, types.NewError(types.KindCritical, types.ErrCodeCredentialsInvalid,
			fmt.Sprintf("credential document at %q failed schema validation", ref), err)
	}

	c.mu.Lock()
	c.chat[ref] = creds
	c.mu.Unlock()
	return creds, nil
}

// Invalidate drops any cached credentials for ref. The next dispatch that
// needs them re-reads the parameter store.
func (c *CredentialCache) Invalidate(ref string) {
	if ref == "" {
		return
	}
	c.mu.Lock()
	delete(c.email, ref)
	delete(c.chat, ref)
	c.mu.Unlock()
	c.logger.Info("credentials invalidated", "ref", ref)
}

// Prefetch warms the cache in the background so the first dispatch of a cold
// container does not pay the parameter-store round trip. It runs at most
// once; failures are logged and left for the on-demand path to surface.
func (c *CredentialCache) Prefetch(ctx context.Context, emailRefs, chatRefs []string) {
	c.prefetchOnce.Do(func() {
		go func() {
			for _, ref := range emailRefs {
				if ref == "" {
					continue
				}
				if _, err := c.Email(ctx, ref); err != nil {
					c.logger.Warn("email credential prefetch failed", "ref", ref, "error", err)
				}
			}
			for _, ref := range chatRefs {
				if ref == "" {
					continue
				}
				if _, err := c.Chat(ctx, ref); err != nil {
					c.logger.Warn("chat credential prefetch failed", "ref", ref, "error", err)
				}
			}
		}()
	})
}

// fetch reads one decrypted parameter. The value never appears in errors or
// logs; failures name the ref only.
func (c *CredentialCache) fetch(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", types.NewError(types.KindCritical, types.ErrCodeCredentialsFetch,
			"no credential ref configured", nil)
	}
	vals, err := c.fetcher.GetParametersBatch(ctx, []string{ref})
	if err != nil {
		return "", types.NewError(types.KindCritical, types.ErrCodeCredentialsFetch,
			fmt.Sprintf("fetching credentials at %q", ref), err)
	}
	raw, ok := vals[ref]
	if !ok {
		return "", types.NewError(types.KindCritical, types.ErrCodeCredentialsFetch,
			fmt.Sprintf("parameter store returned no value for %q", ref), nil)
	}
	return raw, nil
}
