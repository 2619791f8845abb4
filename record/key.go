package record

import "strings"

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Key is a normalized, canonical cache key derived from a record's business
// identifier. Two identifiers that differ only in case or surrounding
// whitespace produce the same Key.
type Key string

// Normalize derives the canonical cache key for an identifier.
//
// Contract:
// - Determinism: equivalent identifiers (case/whitespace-insensitive) must
//   return identical keys regardless of call order or caller.
// - Purity: no side effects; safe for unbounded concurrent use.
// - Errors: identifiers that are empty after trimming, contain newlines or
//   carriage returns, or exceed MaxKeyLength are rejected, never truncated.
func Normalize(identifier string) (Key, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return "", ErrInvalidKey
	}
	if strings.ContainsAny(trimmed, "\n\r") {
		return "", ErrInvalidKey
	}
	if len(trimmed) > MaxKeyLength {
		return "", ErrKeyTooLong
	}
	return Key(strings.ToUpper(trimmed)), nil
}

// String returns the key as a plain string.
func (k Key) String() string {
	return string(k)
}
