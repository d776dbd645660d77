package config

// Secret holds a credential that must never reach logs or serialized
// output. Every print path yields a placeholder; code that genuinely needs
// the value calls Reveal.
type Secret string

const redacted = "[REDACTED]"

// Reveal returns the underlying credential.
func (s Secret) Reveal() string {
	return string(s)
}

// IsSet reports whether a credential was configured.
func (s Secret) IsSet() bool {
	return s != ""
}

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// MarshalYAML keeps credentials out of dumped configuration.
func (s Secret) MarshalYAML() (interface{}, error) {
	if s == "" {
		return "", nil
	}
	return redacted, nil
}

// MarshalJSON keeps credentials out of JSON-encoded structs.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// GoString covers the %#v verb.
func (s Secret) GoString() string {
	if s == "" {
		return `""`
	}
	return `"` + redacted + `"`
}
