package models

import "strings"

// SanitizeKeySegment escapes the key delimiter so a caller-controlled segment
// (IPv6 addresses, forwarded headers) cannot spill into an adjacent bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
