// Package util provides small helpers shared across secgate packages.
package util

// SafeTruncate truncates s to maxLen bytes without panicking. Log lines use
// this to cap attacker-controlled fields like User-Agent headers, where only
// a prefix carries signal.
//
// A negative maxLen is treated as 0 and returns an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
