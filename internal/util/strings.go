package util

// SafeTruncate returns at most maxLen leading characters of s without
// panicking on short input. Used to log token prefixes: enough uniqueness for
// debugging, never the whole credential.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
