package keyword

import (
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Punctuation stripped from both edges of each token. Interior punctuation is kept, so entries like "6-7" survive.
const EdgePunctuation = ".,!?\"'()[]{}"

// Fold lower-cases and removes combining marks ("Fück" -> "fuck").
func Fold(text string) string {
	// this function needs to be re-defined in every function call to prevent a race condition
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	lower := strings.ToLower(text)
	out, _, err := transform.String(normFunc, lower)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		return lower
	}
	return out
}

// CleanToken strips EdgePunctuation from both ends of a single token.
func CleanToken(tok string) string {
	return strings.Trim(tok, EdgePunctuation)
}

// Splits a chat message in to tokens: folded, split on whitespace, edge punctuation removed. Tokens which are pure punctuation are dropped.
func TokenizeMessage(text string) []string {
	fields := strings.Fields(Fold(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := CleanToken(f)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Splits a nickname (or query for one) in to lower-case words, treating any non-letter, non-digit rune as a separator.
func TokenizeName(name string) []string {
	return strings.FieldsFunc(Fold(name), splitNameRune)
}

func splitNameRune(c rune) bool {
	return !unicode.IsLetter(c) && !unicode.IsNumber(c)
}
