package types

import "encoding/json"

const redactedPlaceholder = "***REDACTED***"

// SecretString holds a sensitive value (API key, signing secret) and
// redacts itself in every accidental rendering path. Only Unmask returns
// the real value; call it at the point of use and nowhere else.
type SecretString string

// String satisfies fmt.Stringer with the redaction placeholder so that
// %v/%s formatting cannot leak the value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// GoString keeps %#v output redacted too.
func (s SecretString) GoString() string {
	return redactedPlaceholder
}

// MarshalJSON writes the placeholder, never the value. Secrets are read
// from the environment or SSM, not round-tripped through JSON.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return json.Marshal(redactedPlaceholder)
}

// UnmarshalJSON accepts a plain JSON string.
func (s *SecretString) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = SecretString(raw)
	return nil
}

// Unmask returns the underlying value.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsEmpty reports whether no value is set.
func (s SecretString) IsEmpty() bool {
	return len(s) == 0
}
