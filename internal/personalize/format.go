package personalize

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// dateLayout is the rendering format for every timestamp shown to a person.
const dateLayout = "Monday 2 January 2006 at 15:04 (MST)"

// FormatCurrency renders a dollar amount with two decimals and thousands
// separators: 1234.5 becomes "$1,234.50".
func FormatCurrency(amount float64) string {
	s := fmt.Sprintf("%.2f", amount)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	b.Grow(len(s) + len(intPart)/3 + 2)
	if neg {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	for i := 0; i < len(intPart); i++ {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteByte(intPart[i])
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

// FormatTimestamp renders a timestamp in the recipient's timezone.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateLayout)
}

// FormatDuration renders a duration given in hours the way the lease service
// quotes them.
func FormatDuration(hours float64) string {
	if hours == 1 {
		return "1 hour"
	}
	if hours == float64(int64(hours)) {
		return fmt.Sprintf("%d hours", int64(hours))
	}
	return fmt.Sprintf("%.1f hours", hours)
}

// DisplayName derives a presentable name from the local part of an email
// address: "jane.doe@example.gov.uk" becomes "Jane Doe".
func DisplayName(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}
	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(words) == 0 {
		return email
	}
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(w string) string {
	r := []rune(strings.ToLower(w))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// reasonPhrases maps the lease service's machine reason codes to the clause
// recipients read after "because". Producers add codes faster than this map
// changes; unknown codes degrade to genericReason.
var reasonPhrases = map[string]string{
	"BudgetExceeded":             "the lease reached its maximum budget",
	"Expired":                    "the lease reached the end of its approved duration",
	"ManuallyTerminated":         "the lease was ended by a platform operator",
	"AccountQuarantined":         "the account was quarantined by the security team",
	"PolicyViolation":            "a platform policy violation was detected",
	"ApprovalRequirementsNotMet": "the request did not meet the approval requirements",
	"QuotaExceeded":              "the team has reached its sandbox quota",
}

const genericReason = "of an administrative action on the lease"
