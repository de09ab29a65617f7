package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveResponseKeepsSubstantiveText(t *testing.T) {
	p := placeholdersFor("en")
	got := resolveResponse("hello", "The capital of France is Paris.", p)
	assert.Equal(t, "The capital of France is Paris.", got)
}

func TestResolveResponseArithmetic(t *testing.T) {
	p := placeholdersFor("en")
	got := resolveResponse("12 + 7", "", p)
	require.Contains(t, got, "12 + 7 = 19")
	assert.Contains(t, got, p.CalculationLabel)
}

func TestResolveResponseArithmeticArabic(t *testing.T) {
	p := placeholdersFor("ar")
	got := resolveResponse("12 + 7", "", p)
	require.Contains(t, got, "12 + 7 = 19")
	assert.Contains(t, got, p.CalculationLabel)
}

func TestResolveResponseNeverEchoesPlaceholder(t *testing.T) {
	p := placeholdersFor("en")
	for _, ph := range append(p.typing(), p.NoResponse) {
		got := resolveResponse("tell me something", ph, p)
		assert.NotEqual(t, ph, got)
		assert.NotContains(t, got, p.Thinking)
	}
}

func TestResolveResponsePlaceholderSubstring(t *testing.T) {
	p := placeholdersFor("en")
	echo := "Well. " + p.Working + " Hold on."
	got := resolveResponse("hello there", echo, p)
	assert.Equal(t, p.Greeting, got)
}

func TestGenerateFallbackPatterns(t *testing.T) {
	p := placeholdersFor("en")

	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"greeting", "hello there", p.Greeting},
		{"greeting prefix", "Hey, what's up?", p.Greeting},
		{"thanks", "thanks a lot", p.Thanks},
		{"capabilities", "what can you do for me?", p.Capabilities},
		{"sequence completion", "5 and", "The next number after 5 is 6."},
		{"generic", "explain quantum tunnelling", p.Acknowledgment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, generateFallback(tt.message, p))
		})
	}
}

func TestGenerateFallbackArithmeticPrecedence(t *testing.T) {
	p := placeholdersFor("en")
	got := generateFallback("(2 + 3) * 4", p)
	assert.Contains(t, got, "(2 + 3) * 4 = 20")
}

func TestLooksLikeArithmetic(t *testing.T) {
	assert.True(t, looksLikeArithmetic("12 + 7"))
	assert.True(t, looksLikeArithmetic("what is 3*4?"))
	assert.False(t, looksLikeArithmetic("hi - there"))
	assert.False(t, looksLikeArithmetic("hello"))
	assert.False(t, looksLikeArithmetic("42"))
}

func TestIsNonSubstantive(t *testing.T) {
	p := placeholdersFor("en")
	assert.True(t, isNonSubstantive("", p))
	assert.True(t, isNonSubstantive(p.NoResponse, p))
	assert.True(t, isNonSubstantive("prefix "+p.Analyzing+" suffix", p))
	assert.False(t, isNonSubstantive("a real answer", p))
}

func TestPlaceholdersForUnknownLanguageDefaultsToEnglish(t *testing.T) {
	assert.Equal(t, placeholdersFor("en"), placeholdersFor("fr"))
}
