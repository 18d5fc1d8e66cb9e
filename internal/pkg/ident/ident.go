/*
Package ident provides normalization functions for user-supplied identity values.

All functions are pure and total: malformed input is coerced into a valid value,
never rejected, because the peers feeding these values are untrusted remote clients.
*/
package ident

import "strings"

const (
	// MaxUserIDLength is the maximum length of a canonical user identifier.
	MaxUserIDLength = 48

	// MaxNameLength is the maximum length of a display name.
	MaxNameLength = 40

	// MaxTextLength is the maximum length of message bodies and typing drafts.
	MaxTextLength = 500

	// DefaultName is the display name assigned when the requested name is empty.
	DefaultName = "Guest"
)

// UserID canonicalizes a raw user identifier: lowercased, stripped of any
// character outside [a-z0-9_-], and truncated to MaxUserIDLength. If nothing
// survives normalization, fallback is returned as-is.
// The result is idempotent: UserID(UserID(x, f), f) == UserID(x, f).
func UserID(raw string, fallback string) string {
	lowered := strings.ToLower(raw)

	var b strings.Builder
	b.Grow(len(lowered))

	for _, r := range lowered {
		if b.Len() >= MaxUserIDLength {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteByte(byte(r))
		}
	}

	if b.Len() == 0 {
		return fallback
	}

	return b.String()
}

// Name trims and truncates a raw display name to MaxNameLength runes.
// An empty result falls back to DefaultName.
func Name(raw string) string {
	name := strings.TrimSpace(Text(raw, MaxNameLength))
	if name == "" {
		return DefaultName
	}

	return name
}

// Text truncates raw to at most maxLen runes. Truncation is rune-safe so a
// multi-byte character is never split mid-sequence.
func Text(raw string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}

	runes := []rune(raw)
	if len(runes) <= maxLen {
		return raw
	}

	return string(runes[:maxLen])
}
