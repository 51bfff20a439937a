package engine

import "strings"

// normalizeID matches the provider/model normalization of the fingerprint,
// so stored keys agree with the digest input.
func normalizeID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
