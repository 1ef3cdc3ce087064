package types

// SecretString keeps credentials out of logs and JSON dumps. fmt functions
// and json.Marshal both see the redacted placeholder; only Unmask returns
// the raw value, which keeps secret usage grep-able.
type SecretString string

const redacted = "***REDACTED***"

// String implements fmt.Stringer with a redacted placeholder.
func (s SecretString) String() string { return redacted }

// MarshalJSON serializes to the redacted placeholder.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Unmask returns the raw plaintext value. Limit calls to the points where
// the secret is genuinely needed (connection strings, auth headers).
func (s SecretString) Unmask() string { return string(s) }
