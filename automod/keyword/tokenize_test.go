package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeMessage(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		text string
		out  []string
	}{
		{text: "", out: []string{}},
		{text: "   ", out: []string{}},
		{text: "Hello, World!", out: []string{"hello", "world"}},
		{text: "what (the) [heck] {is} \"this\"?", out: []string{"what", "the", "heck", "is", "this"}},
		{text: "it's fine", out: []string{"it's", "fine"}},
		{text: "six 6-7 seven", out: []string{"six", "6-7", "seven"}},
		{text: "... !!! ok", out: []string{"ok"}},
		{text: "Gdańsk", out: []string{"gdansk"}},
		{text: "FÜCK\tthat\nnoise", out: []string{"fuck", "that", "noise"}},
		{text: "a.b.c", out: []string{"a.b.c"}},
	}

	for _, fix := range fixtures {
		assert.Equal(fix.out, TokenizeMessage(fix.text), fix.text)
	}
}

func TestTokenizeName(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		name string
		out  []string
	}{
		{name: "Big Mike", out: []string{"big", "mike"}},
		{name: "big_mike.99", out: []string{"big", "mike", "99"}},
		{name: "  José  ", out: []string{"jose"}},
		{name: "🔥🔥", out: []string{}},
	}

	for _, fix := range fixtures {
		got := TokenizeName(fix.name)
		if len(fix.out) == 0 {
			assert.Empty(got, fix.name)
			continue
		}
		assert.Equal(fix.out, got, fix.name)
	}
}

func TestNicknameCleanup(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("Big Mike 99", BareAlphanumeric("🔥Big_Mike (99)"))
	assert.Equal("Big_Mike 99", SanitizeNickname("🔥 Big_Mike   (99) 🔥", 50))
	assert.Equal("O'Neil-Smith Jr.", SanitizeNickname("O'Neil-Smith Jr.", 50))
	assert.Equal("abcde", SanitizeNickname("abcdefgh", 5))
	assert.Equal("", SanitizeNickname("💀💀", 50))
}
