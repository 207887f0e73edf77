package oauth

import "strings"

// IsAllowed reports whether candidate is on the allowlist. Matching is
// exact: no prefix, wildcard, case folding or normalization.
func IsAllowed(candidate string, allowlist []string) bool {
	if candidate == "" {
		return false
	}
	for _, allowed := range allowlist {
		if candidate == allowed {
			return true
		}
	}
	return false
}

// ParseAllowlist splits a comma-separated list of redirect targets,
// dropping surrounding whitespace and empty entries.
func ParseAllowlist(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
