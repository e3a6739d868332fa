package external

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxResponseBytes caps how much of a provider response body is read.
// Providers return small JSON documents; anything larger is not worth
// buffering into a Lambda's memory.
const maxResponseBytes = 4096

// parseRetryAfter interprets a Retry-After header as either delta seconds or
// an HTTP-date. The second return is false when the header is absent,
// unparseable, or already in the past.
func parseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(header); err == nil {
		d := t.Sub(now)
		if d < 0 {
			return 0, false
		}
		return d, true
	}
	return 0, false
}
