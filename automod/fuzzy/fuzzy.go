// Token-order-insensitive string similarity, used to match free-text references against member nicknames.
//
// Scores are on a 0-100 scale. The extraction helpers apply two guards on top of the raw score, so that a high similarity between otherwise unrelated names (eg, a long query sharing most characters with a nickname) is not treated as a match.
package fuzzy

import (
	"math"
	"sort"
	"strings"

	"github.com/clankerbot/clanker/automod/keyword"

	"github.com/xrash/smetrics"
)

const (
	// default minimum score for a match
	DefaultCutoff = 90
	// scores at or above this bypass the length-ratio guard
	StrongScore = 95
	// shorter/longer length ratio required for scores below StrongScore
	MinLengthRatio = 0.7
)

// Ratio is the normalized edit similarity of two strings, counted in runes, where a substitution costs as much as a delete plus an insert.
func Ratio(a, b string) int {
	ea, eb := runeBytes(a, b)
	lensum := len(ea) + len(eb)
	if lensum == 0 {
		return 0
	}
	dist := smetrics.WagnerFischer(ea, eb, 1, 1, 2)
	return int(math.Round(float64(lensum-dist) / float64(lensum) * 100))
}

// smetrics compares bytes, so both strings are re-encoded with one byte per distinct rune. Past 256 distinct runes the raw UTF-8 is compared instead.
func runeBytes(a, b string) (string, string) {
	codes := make(map[rune]byte)
	encode := func(s string) (string, bool) {
		out := make([]byte, 0, len(s))
		for _, r := range s {
			c, ok := codes[r]
			if !ok {
				if len(codes) == 256 {
					return "", false
				}
				c = byte(len(codes))
				codes[r] = c
			}
			out = append(out, c)
		}
		return string(out), true
	}
	ea, ok := encode(a)
	if !ok {
		return a, b
	}
	eb, ok := encode(b)
	if !ok {
		return a, b
	}
	return ea, eb
}

// Normalized, sorted, space-joined form of a string.
func sortedTokens(s string) string {
	toks := keyword.TokenizeName(s)
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

// TokenSortRatio scores two strings after normalizing them and sorting their words, so "mike big" scores 100 against "Big Mike".
func TokenSortRatio(a, b string) int {
	sa, sb := sortedTokens(a), sortedTokens(b)
	if sa == "" || sb == "" {
		return 0
	}
	return Ratio(sa, sb)
}

type Match struct {
	// position in the candidates slice
	Index     int
	Candidate string
	Score     int
}

// Guarded reports whether query may match candidate with the given score: every query word must appear as a whole word of the candidate, and the normalized lengths must be comparable unless the score is very strong.
func Guarded(query, candidate string, score int) bool {
	cwords := make(map[string]bool)
	for _, w := range keyword.TokenizeName(candidate) {
		cwords[w] = true
	}
	qwords := keyword.TokenizeName(query)
	if len(qwords) == 0 {
		return false
	}
	for _, w := range qwords {
		if !cwords[w] {
			return false
		}
	}
	if score >= StrongScore {
		return true
	}
	ql := len([]rune(strings.Join(qwords, " ")))
	cl := len([]rune(sortedTokens(candidate)))
	if ql == 0 || cl == 0 {
		return false
	}
	lo, hi := ql, cl
	if lo > hi {
		lo, hi = hi, lo
	}
	return float64(lo)/float64(hi) >= MinLengthRatio
}

// ExtractOne returns the best-scoring candidate which passes both cutoff and guards. Ties go to the earlier candidate.
func ExtractOne(query string, candidates []string, cutoff int) (Match, bool) {
	best := Match{Index: -1}
	for i, c := range candidates {
		score := TokenSortRatio(query, c)
		if score < cutoff || score <= best.Score {
			continue
		}
		if !Guarded(query, c, score) {
			continue
		}
		best = Match{Index: i, Candidate: c, Score: score}
	}
	if best.Index < 0 {
		return Match{}, false
	}
	return best, true
}
