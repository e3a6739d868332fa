package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sandboxnotify/internal/types"
)

// maxReadBody bounds how much of a response the client will buffer.
const maxReadBody = 1 << 20 // 1 MiB

// HTTPStore reads lease context from the lease service's read API. It is a
// deliberately thin client: the enrichment engine owns timeouts and circuit
// breaking, so this layer only speaks HTTP and maps statuses.
//
// Endpoints:
//
//	GET /leases/{userEmail}/{uuid}
//	GET /accounts/{accountId}
//	GET /users/{email}
type HTTPStore struct {
	client  *http.Client
	baseURL string
	token   types.SecretString
}

// NewHTTPStore builds an HTTPStore for the given base URL. An empty token
// disables the Authorization header.
func NewHTTPStore(baseURL string, token types.SecretString) *HTTPStore {
	return &HTTPStore{
		client: &http.Client{
			// Per-request deadlines come from the enrichment context; this
			// is the backstop against a wedged connection.
			Timeout: 30 * time.Second,
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
	}
}

// newHTTPStoreWithClient is the test constructor.
func newHTTPStoreWithClient(client *http.Client, baseURL string, token types.SecretString) *HTTPStore {
	return &HTTPStore{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
	}
}

// GetLease fetches a lease record by its composite key.
func (s *HTTPStore) GetLease(ctx context.Context, key types.LeaseKey) (*types.LeaseRecord, error) {
	path := fmt.Sprintf("/leases/%s/%s", url.PathEscape(key.UserEmail), url.PathEscape(key.UUID))

	var record types.LeaseRecord
	found, err := s.get(ctx, "lease", path, &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

// GetAccount fetches a sandbox account record by AWS account id.
func (s *HTTPStore) GetAccount(ctx context.Context, accountID string) (*types.AccountRecord, error) {
	path := "/accounts/" + url.PathEscape(accountID)

	var record types.AccountRecord
	found, err := s.get(ctx, "account", path, &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

// GetProfile fetches a user profile by email.
func (s *HTTPStore) GetProfile(ctx context.Context, email string) (*types.UserProfile, error) {
	path := "/users/" + url.PathEscape(email)

	var profile types.UserProfile
	found, err := s.get(ctx, "profile", path, &profile)
	if err != nil || !found {
		return nil, err
	}
	return &profile, nil
}

// get performs one read. It returns (false, nil) on 404: absence is an
// answer, not a failure, and must not count against the circuit breaker.
func (s *HTTPStore) get(ctx context.Context, entity, path string, dst any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("building %s request: %w", entity, err)
	}
	req.Header.Set("Accept", "application/json")
	if !s.token.IsEmpty() {
		req.Header.Set("Authorization", "Bearer "+s.token.Unmask())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, types.NewError(
			types.KindRetriable,
			types.ErrCodeStoreUnavailable,
			fmt.Sprintf("%s lookup failed", entity),
			err,
		)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxReadBody)).Decode(dst); err != nil {
			return false, types.NewError(
				types.KindRetriable,
				types.ErrCodeStoreUnavailable,
				fmt.Sprintf("decoding %s response", entity),
				err,
			)
		}
		return true, nil

	case resp.StatusCode == http.StatusNotFound:
		return false, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return false, types.NewError(
			types.KindRetriable,
			types.ErrCodeStoreThrottled,
			fmt.Sprintf("%s lookup throttled", entity),
			nil,
		)

	case resp.StatusCode >= 500:
		return false, types.NewError(
			types.KindRetriable,
			types.ErrCodeStoreUnavailable,
			fmt.Sprintf("%s lookup returned status %d", entity, resp.StatusCode),
			nil,
		)

	default:
		// 401/403 here means the notifier's own token is wrong. Still mapped
		// as a store failure for the breaker; operators see the status code.
		return false, types.NewError(
			types.KindRetriable,
			types.ErrCodeStoreUnavailable,
			fmt.Sprintf("%s lookup returned unexpected status %d", entity, resp.StatusCode),
			nil,
		)
	}
}

// Compile-time interface assertions.
var (
	_ types.LeaseStore   = (*HTTPStore)(nil)
	_ types.AccountStore = (*HTTPStore)(nil)
	_ types.ProfileStore = (*HTTPStore)(nil)

	_ types.LeaseStore   = (*DynamoStore)(nil)
	_ types.AccountStore = (*DynamoStore)(nil)
	_ types.ProfileStore = (*DynamoStore)(nil)
)
