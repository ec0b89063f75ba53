package logging

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Ledger identifiers are public and stay readable.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"store":     {},
	"method":    {},
	"buyer":     {},
	"referrer":  {},
	"factory":   {},
	"type":      {},
	"delivery":  {},
}

// Keys containing any of these fragments are masked by every logger built in
// this package: the operator passphrase, the RPC HMAC secret, webhook
// signing secrets and bearer tokens.
var sensitiveFragments = []string{"secret", "passphrase", "password", "token", "authorization", "signature"}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactionAllowlist[normalized]
	return ok
}

// IsSensitive reports whether values logged under key must never appear in
// clear text.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if _, ok := redactionAllowlist[normalized]; ok {
		return false
	}
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// RedactionAllowlist returns a sorted copy of the log keys that are allowed to be emitted
// without redaction. Tests use this to ensure sensitive keys remain masked.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue returns the canonical redacted placeholder for non-empty values. Empty values
// are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted. The original key casing is preserved for readability.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskBearer logs what a rejected Authorization header claimed to be without
// the token itself: subject, issuer, audience and expiry are read unverified
// and the signature is dropped. Headers that do not parse are fully masked.
func MaskBearer(header string) slog.Attr {
	const key = "authorization"
	raw := strings.TrimSpace(header)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	if raw == "" {
		return slog.String(key, "")
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return slog.String(key, RedactedValue)
	}
	attrs := []any{slog.String("sub", claims.Subject), slog.String("iss", claims.Issuer)}
	if len(claims.Audience) > 0 {
		attrs = append(attrs, slog.String("aud", strings.Join(claims.Audience, ",")))
	}
	if claims.ExpiresAt != nil {
		attrs = append(attrs, slog.String("exp", claims.ExpiresAt.UTC().Format(time.RFC3339)))
	}
	return slog.Group(key, attrs...)
}

// redactAttr masks string values stored under sensitive keys. Groups built
// by MaskBearer pass through untouched.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !IsSensitive(attr.Key) {
		return attr
	}
	if value := attr.Value.String(); value == "" || value == RedactedValue {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
