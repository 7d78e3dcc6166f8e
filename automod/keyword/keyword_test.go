package keyword

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexiconMatch(t *testing.T) {
	assert := assert.New(t)
	lex := NewLexicon("damn", "heck", "6 7", "never gonna")

	fixtures := []struct {
		text  string
		word  string
		match bool
	}{
		{text: "hello there", match: false},
		{text: "well DAMN!", word: "damn", match: true},
		{text: "heck, damn", word: "heck", match: true},
		{text: "damnation", match: false},
		{text: "it was 6 7 lol", word: "6 7", match: true},
		{text: "6 then 7", match: false},
		{text: "never, gonna!", word: "never gonna", match: true},
		{text: "never", match: false},
	}

	for _, fix := range fixtures {
		word, ok := lex.Match(TokenizeMessage(fix.text))
		assert.Equal(fix.match, ok, fix.text)
		assert.Equal(fix.word, word, fix.text)
	}

	var empty *Lexicon
	_, ok := empty.Match([]string{"damn"})
	assert.False(ok)
	assert.Equal(0, empty.Len())
}

func TestDefaultLexicons(t *testing.T) {
	assert := assert.New(t)
	lex := DefaultLexicons()

	assert.True(lex.InstantBan.Contains("n1gga"))
	assert.False(lex.InstantBan.Contains("damn"))
	assert.True(lex.Regular.Contains("damn"))
	assert.True(lex.Regular.Contains("6-7"))

	word, ok := lex.Regular.Match(TokenizeMessage("that was 6 7"))
	assert.True(ok)
	assert.Equal("6 7", word)
}

func TestLoadLexiconsJSON(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	p := filepath.Join(dir, "lexicon.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"regular": ["heck", "dang it"]}`), 0o644))

	lex, err := LoadLexiconsJSON(p)
	require.NoError(t, err)
	assert.Equal(2, lex.Regular.Len())
	assert.True(lex.Regular.Contains("heck"))
	assert.False(lex.Regular.Contains("damn"))
	// instant-ban falls back to the built-in list
	assert.True(lex.InstantBan.Contains("nigga"))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"spicy": ["x"]}`), 0o644))
	_, err = LoadLexiconsJSON(bad)
	assert.Error(err)

	_, err = LoadLexiconsJSON(filepath.Join(dir, "missing.json"))
	assert.Error(err)
}
