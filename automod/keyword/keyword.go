package keyword

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Set of prohibited words and phrases.
//
// Single-word entries match whole tokens. Entries containing whitespace are phrases, matched against consecutive tokens.
type Lexicon struct {
	words   map[string]bool
	phrases [][]string
}

func NewLexicon(entries ...string) *Lexicon {
	l := &Lexicon{
		words: make(map[string]bool, len(entries)),
	}
	for _, e := range entries {
		toks := TokenizeMessage(e)
		switch len(toks) {
		case 0:
			continue
		case 1:
			l.words[toks[0]] = true
		default:
			l.phrases = append(l.phrases, toks)
		}
	}
	return l
}

func (l *Lexicon) Len() int {
	if l == nil {
		return 0
	}
	return len(l.words) + len(l.phrases)
}

// Contains reports whether a single token is a word entry.
func (l *Lexicon) Contains(tok string) bool {
	return l != nil && l.words[tok]
}

// Match returns the first entry found scanning tokens left to right.
func (l *Lexicon) Match(tokens []string) (string, bool) {
	if l == nil {
		return "", false
	}
	for i, tok := range tokens {
		if l.Contains(tok) {
			return tok, true
		}
		for _, p := range l.phrases {
			if hasPhraseAt(tokens, i, p) {
				return strings.Join(p, " "), true
			}
		}
	}
	return "", false
}

func hasPhraseAt(tokens []string, i int, phrase []string) bool {
	if i+len(phrase) > len(tokens) {
		return false
	}
	for j, p := range phrase {
		if tokens[i+j] != p {
			return false
		}
	}
	return true
}

const (
	SetInstantBan = "instant-ban"
	SetRegular    = "regular"
)

// The two lexicons consulted by the violation detector.
type Lexicons struct {
	// zero tolerance: a hit removes the sender immediately
	InstantBan *Lexicon
	// each hit counts toward the ban threshold
	Regular *Lexicon
}

// LoadLexiconsJSON reads a JSON object mapping set names ("instant-ban", "regular") to lists of entries. A set missing from the file keeps its default.
func LoadLexiconsJSON(p string) (Lexicons, error) {
	f, err := os.Open(p)
	if err != nil {
		return Lexicons{}, err
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return Lexicons{}, err
	}

	var sets map[string][]string
	if err := json.Unmarshal(raw, &sets); err != nil {
		return Lexicons{}, fmt.Errorf("parsing lexicon file: %w", err)
	}

	out := DefaultLexicons()
	for name, l := range sets {
		switch name {
		case SetInstantBan:
			out.InstantBan = NewLexicon(l...)
		case SetRegular:
			out.Regular = NewLexicon(l...)
		default:
			return Lexicons{}, fmt.Errorf("unknown lexicon set: %s", name)
		}
	}
	return out, nil
}

var defaultInstantBan = []string{
	"nigger", "nigga", "n1gger", "n1gga", "nigg", "n1gg", "nigha",
}

var defaultRegular = []string{
	"fuck", "fucking", "fucked", "fucker",
	"shit", "shitting", "shitty",
	"bitch", "bitches",
	"ass", "asshole", "asshat",
	"cunt",
	"dick", "dickhead",
	"damn",
	"bastard",
	"slut",
	"whore",
	"retard",
	"wtf",
	"nevergonnagiveyouupnevergonnaletyoudown",
	"67", "6-7", "6 7",
}

func DefaultLexicons() Lexicons {
	return Lexicons{
		InstantBan: NewLexicon(defaultInstantBan...),
		Regular:    NewLexicon(defaultRegular...),
	}
}
