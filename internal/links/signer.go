// Package links builds the portal deep links embedded in notifications.
// Signed links carry a short-lived HMAC token bound to a single lease; plain
// links are bare portal URLs that require the recipient to sign in and
// navigate. Link building never fails the pipeline: absent configuration
// just means callers get fewer links.
package links

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"sandboxnotify/internal/types"
)

const (
	utmSource  = "sandbox-notifier"
	defaultTTL = 15 * time.Minute
)

var (
	ErrSignatureMismatch = errors.New("link signature mismatch")
	ErrLinkExpired       = errors.New("link expired")
	ErrAudienceMismatch  = errors.New("link audience does not match lease key")
)

// Payload is the exact byte structure the signature covers. The portal
// verifies over the transmitted bytes; field order is fixed by this struct
// and must never change.
type Payload struct {
	LeaseKey PayloadKey `json:"leaseKey"`
	Action   string     `json:"action"`
	Exp      int64      `json:"exp"`
	Aud      string     `json:"aud"`
}

// PayloadKey is the lease identity inside a signed payload.
type PayloadKey struct {
	UserEmail string `json:"userEmail"`
	UUID      string `json:"uuid"`
}

// Signer builds action links for one portal deployment. With no base URL it
// builds nothing; with a base URL but no secret it builds plain links only.
type Signer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
}

// NewSigner builds a Signer. secret and baseURL may each be empty; ttl <= 0
// falls back to 15 minutes.
func NewSigner(secret types.SecretString, baseURL string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	s := &Signer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		ttl:     ttl,
	}
	if !secret.IsEmpty() {
		s.secret = []byte(secret.Unmask())
	}
	return s
}

// Enabled reports whether any links can be built at all.
func (s *Signer) Enabled() bool {
	return s.baseURL != ""
}

// CanSign reports whether built links carry a signed token.
func (s *Signer) CanSign() bool {
	return s.baseURL != "" && len(s.secret) > 0
}

// Build returns the link for a lease-bound action. The second return is
// false when links are disabled or the action is not lease-bound.
func (s *Signer) Build(channel types.Channel, action types.Action, key types.LeaseKey, now time.Time) (types.ActionLink, bool) {
	if !s.Enabled() {
		return types.ActionLink{}, false
	}
	path, ok := actionPath(action, key)
	if !ok {
		return types.ActionLink{}, false
	}
	if !s.CanSign() {
		return s.plain(channel, action, path), true
	}

	exp := now.Add(s.ttl)
	payload := Payload{
		LeaseKey: PayloadKey{UserEmail: key.UserEmail, UUID: key.UUID},
		Action:   string(action),
		Exp:      exp.Unix(),
		Aud:      key.Audience(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		// Marshal of a fixed struct cannot realistically fail; degrade to a
		// plain link rather than dropping the notification's links.
		return s.plain(channel, action, path), true
	}

	q := url.Values{}
	q.Set("d", base64.RawURLEncoding.EncodeToString(raw))
	q.Set("sig", computeHMAC(raw, s.secret))
	addAnalyticsTags(q, channel, action)

	return types.ActionLink{
		Action:    action,
		URL:       s.baseURL + "/" + path + "?" + q.Encode(),
		Signed:    true,
		ExpiresAt: exp,
	}, true
}

// Fallback returns the unsigned portal landing link included alongside
// signed links for mail clients that strip query tokens.
func (s *Signer) Fallback(channel types.Channel) (types.ActionLink, bool) {
	if !s.Enabled() {
		return types.ActionLink{}, false
	}
	return s.plain(channel, types.ActionFallback, "leases"), true
}

// Report returns the plain link to a published cost report. Report links
// are never signed: there is no lease to bind an audience claim to.
func (s *Signer) Report(channel types.Channel, reportID string) (types.ActionLink, bool) {
	if !s.Enabled() || reportID == "" {
		return types.ActionLink{}, false
	}
	return s.plain(channel, types.ActionReport, "reports/"+url.PathEscape(reportID)), true
}

// Verify checks a signed link's payload and signature as the portal would:
// signature over the exact transmitted bytes, then expiry, then audience
// binding. Returns the decoded payload on success.
func (s *Signer) Verify(payloadB64, sigHex string, now time.Time) (*Payload, error) {
	if !s.CanSign() {
		return nil, errors.New("link signing is not configured")
	}
	raw, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("decode link payload: %w", err)
	}
	expected := computeHMAC(raw, s.secret)
	if !hmac.Equal([]byte(sigHex), []byte(expected)) {
		return nil, ErrSignatureMismatch
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode link payload: %w", err)
	}
	if now.Unix() > payload.Exp {
		return nil, ErrLinkExpired
	}
	key := types.LeaseKey{UserEmail: payload.LeaseKey.UserEmail, UUID: payload.LeaseKey.UUID}
	if payload.Aud != key.Audience() {
		return nil, ErrAudienceMismatch
	}
	return &payload, nil
}

func (s *Signer) plain(channel types.Channel, action types.Action, path string) types.ActionLink {
	q := url.Values{}
	addAnalyticsTags(q, channel, action)
	return types.ActionLink{
		Action: action,
		URL:    s.baseURL + "/" + path + "?" + q.Encode(),
		Signed: false,
	}
}

// actionPath maps a lease-bound action to its portal route.
func actionPath(action types.Action, key types.LeaseKey) (string, bool) {
	uuid := url.PathEscape(key.UUID)
	switch action {
	case types.ActionView:
		return "leases/" + uuid, true
	case types.ActionBudgetIncrease:
		return "leases/" + uuid + "/budget", true
	case types.ActionApprove:
		return "approvals/" + uuid + "/approve", true
	case types.ActionDeny:
		return "approvals/" + uuid + "/deny", true
	default:
		return "", false
	}
}

func addAnalyticsTags(q url.Values, channel types.Channel, action types.Action) {
	q.Set("utm_source", utmSource)
	q.Set("utm_medium", string(channel))
	q.Set("utm_campaign", string(action))
}

// computeHMAC computes the HMAC-SHA256 of content and returns it as a
// lowercase hex string.
func computeHMAC(content, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(content)
	return hex.EncodeToString(mac.Sum(nil))
}
