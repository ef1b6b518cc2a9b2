package locations

import (
	"strings"
	"unicode"
)

// NormalizeAlias folds free-text location input into the key learned locations are stored under:
// lowercase, punctuation replaced by spaces, whitespace collapsed.
func NormalizeAlias(text string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '\'' || r == '’':
			return -1
		default:
			return ' '
		}
	}, text)
	return strings.Join(strings.Fields(mapped), " ")
}
