package statute

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const maskPrefixLen = 10

// Credential is an opaque bearer token plus diagnostics. Tokens are never
// mutated, only replaced.
type Credential struct {
	Token     string    `json:"token"`
	UserLabel string    `json:"user_label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the credential is past its expiry. A zero expiry
// never expires.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Masked returns a log-safe form of the token.
func (c Credential) Masked() string {
	return MaskToken(c.Token)
}

// EncodeRecord serializes the credential into its stored form.
func (c Credential) EncodeRecord() (string, error) {
	if strings.TrimSpace(c.Token) == "" {
		return "", fmt.Errorf("encode credential: %w: empty token", ErrInvalidRecord)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode credential: %w", err)
	}
	return string(raw), nil
}

// DecodeRecord parses a stored record. Entries that are not JSON objects are
// treated as bare tokens written by older tooling.
func DecodeRecord(raw string) (Credential, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Credential{}, fmt.Errorf("decode credential: %w: empty record", ErrInvalidRecord)
	}
	if !strings.HasPrefix(trimmed, "{") {
		return Credential{Token: trimmed}, nil
	}
	var c Credential
	if err := json.Unmarshal([]byte(trimmed), &c); err != nil {
		return Credential{}, fmt.Errorf("decode credential: %w: %v", ErrInvalidRecord, err)
	}
	if strings.TrimSpace(c.Token) == "" {
		return Credential{}, fmt.Errorf("decode credential: %w: missing token", ErrInvalidRecord)
	}
	return c, nil
}

// MaskToken keeps the first few characters of a token for diagnostics.
func MaskToken(token string) string {
	if len(token) <= maskPrefixLen {
		return strings.Repeat("*", len(token))
	}
	return token[:maskPrefixLen] + "..."
}
