package types

import "strings"

// RedactEmail masks an email address for log output, keeping the first
// character of the local part and the full domain. Anything that does not
// look like an address collapses to "***".
func RedactEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***@" + email[at+1:]
}
