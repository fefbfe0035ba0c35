// Package util provides small shared helpers that do not belong to a
// domain-specific package.
package util

// SafeTruncate truncates s to at most maxLen bytes without panicking.
// It is used when logging credential values, where only a short prefix
// should ever reach the log stream. A negative maxLen yields "".
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// ContainsScope reports whether scope is a member of scopes.
// Scope checks are exact membership, never prefix or hierarchy matches.
func ContainsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every element of requested appears in granted.
// An empty requested set is a subset of anything.
func SubsetOf(requested, granted []string) bool {
	for _, r := range requested {
		if !ContainsScope(granted, r) {
			return false
		}
	}
	return true
}
