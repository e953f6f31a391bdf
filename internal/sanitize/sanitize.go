// Package sanitize normalises free text before it is embedded or persisted.
// The vector store chokes on raw control characters, so every title, summary,
// message and chunk body passes through Clean first.
package sanitize

import (
	"strings"
	"unicode"
)

// Clean strips Unicode control characters (C0 and C1 ranges), collapses runs
// of whitespace to a single space and trims the ends. Emoji and every other
// printable rune pass through untouched, including replacement characters
// that were genuinely present in the input; only invalid UTF-8 bytes are
// dropped. Clean never fails; empty or whitespace-only input yields the
// empty string.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for i, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r) || (r >= 0x80 && r <= 0x9F):
			// dropped: C0 handled by IsControl, C1 covered explicitly
		case r == unicode.ReplacementChar && !strings.HasPrefix(s[i:], "�"):
			// invalid byte decoded by range; a real U+FFFD is three bytes
			// and falls through to default
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CleanAll applies Clean to every element, in place order.
func CleanAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = Clean(s)
	}
	return out
}

// CleanMap sanitises every string value of an open metadata map. Non-string
// values are preserved as-is.
func CleanMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = Clean(s)
			continue
		}
		out[k] = v
	}
	return out
}
