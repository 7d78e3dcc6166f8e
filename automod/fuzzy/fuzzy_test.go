package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatio(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(0, Ratio("", ""))
	assert.Equal(100, Ratio("mike", "mike"))
	assert.Equal(0, Ratio("abc", "xyz"))
	// one substitution over 8 runes: (8-2)/8
	assert.Equal(75, Ratio("mike", "mika"))
	// one insertion over 9 runes: (9-1)/9
	assert.Equal(89, Ratio("mike", "mikey"))

	// multi-byte runes count once
	assert.Equal(80, Ratio("саша", "саша к"))
	assert.Equal(75, Ratio("саша", "сашу"))
	assert.Equal(67, Ratio("李小龙", "李小龍"))
	assert.Equal(100, Ratio("Ελένη", "Ελένη"))
}

func TestTokenSortRatio(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(100, TokenSortRatio("mike big", "Big Mike"))
	assert.Equal(100, TokenSortRatio("big_mike!", "Big Mike"))
	assert.Equal(0, TokenSortRatio("", "Big Mike"))
	assert.Equal(0, TokenSortRatio("🔥", "Big Mike"))
}

func TestGuarded(t *testing.T) {
	assert := assert.New(t)

	assert.True(Guarded("big mike", "Big Mike", 100))
	assert.True(Guarded("mike", "Big Mike", 95))
	// length ratio of 4/8 fails for non-strong scores
	assert.False(Guarded("mike", "Big Mike", 91))
	// a query word missing from the candidate fails regardless of score
	assert.False(Guarded("mike jones", "Mike Jonas", 99))
	assert.False(Guarded("", "Mike", 100))
}

func TestExtractOne(t *testing.T) {
	assert := assert.New(t)

	roster := []string{"Jonathan Smith", "John Smith", "Big Mike", "Michael"}

	m, ok := ExtractOne("smith john", roster, DefaultCutoff)
	assert.True(ok)
	assert.Equal(1, m.Index)
	assert.Equal("John Smith", m.Candidate)
	assert.Equal(100, m.Score)

	// high raw similarity, but "jon" is not a word in any nickname
	_, ok = ExtractOne("jon smith", roster, DefaultCutoff)
	assert.False(ok)

	// multi-word query never matches a nickname lacking its words
	_, ok = ExtractOne("big mikey", roster, 50)
	assert.False(ok)

	_, ok = ExtractOne("nobody", roster, DefaultCutoff)
	assert.False(ok)

	_, ok = ExtractOne("mike", nil, DefaultCutoff)
	assert.False(ok)
}
