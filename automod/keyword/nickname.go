package keyword

import (
	"regexp"
	"strings"
)

var (
	nonNicknameChars = regexp.MustCompile(`[^\pL\pN ._'-]+`)
	multiSpace       = regexp.MustCompile(`\s+`)
)

// BareAlphanumeric keeps only letters and digits (and single spaces between words), preserving case.
func BareAlphanumeric(orig string) string {
	words := strings.FieldsFunc(orig, splitNameRune)
	return strings.Join(words, " ")
}

// SanitizeNickname drops characters outside letters, digits, space and `._'-`, collapses whitespace, and truncates to maxRunes.
func SanitizeNickname(orig string, maxRunes int) string {
	s := nonNicknameChars.ReplaceAllString(orig, "")
	s = strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))
	if maxRunes > 0 {
		r := []rune(s)
		if len(r) > maxRunes {
			s = strings.TrimSpace(string(r[:maxRunes]))
		}
	}
	return s
}
