package version

import (
	"strings"
	"unicode"
)

// Slugify lowercases a title and reduces it to hyphen-separated ASCII
// words. The result is stable for a given title, so one policy always maps
// to the same directory prefix.
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case unicode.IsSpace(r), r == '-', r == '_', r == '/', r == '.':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		default:
			// drop punctuation and non-ASCII outright
		}
	}
	return strings.TrimRight(b.String(), "-")
}
