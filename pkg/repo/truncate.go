package repo

import "unicode/utf8"

// TruncateBytes cuts s to at most maxBytes of UTF-8, never splitting a rune.
// Returns the (possibly shortened) string and whether truncation occurred.
func TruncateBytes(s string, maxBytes int) (string, bool) {
	if len(s) <= maxBytes {
		return s, false
	}
	if maxBytes <= 0 {
		return "", true
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
