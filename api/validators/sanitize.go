package validators

import (
	"strings"
	"unicode"
)

// SanitizeString collapses runs of whitespace, drops control characters and
// truncates to maxRunes without splitting a multi-byte character. Member
// names and descriptions are frequently in Devanagari.
func SanitizeString(input string, maxRunes int) string {
	var b strings.Builder
	b.Grow(len(input))
	count := 0
	pendingSpace := false
	for _, r := range strings.TrimSpace(input) {
		if unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if pendingSpace && count > 0 {
			if maxRunes > 0 && count+1 >= maxRunes {
				break
			}
			b.WriteRune(' ')
			count++
		}
		pendingSpace = false
		if maxRunes > 0 && count >= maxRunes {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}
