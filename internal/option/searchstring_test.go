package option

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSearchStringRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"   ",
		"a & b | c",
		"a | | b",
		"a &",
		"/[unclosed/",
		"~",
	} {
		_, err := ParseSearchString(raw)
		assert.Error(t, err, "raw=%q", raw)
	}
}

func TestSearchStringAnyChain(t *testing.T) {
	ss, err := ParseSearchString("election | senate | congress")
	require.NoError(t, err)

	assert.True(t, ss.Match("The Senate reconvenes today"))
	assert.True(t, ss.Match("local ELECTION results"))
	assert.False(t, ss.Match("sports roundup"))
}

func TestSearchStringAllChain(t *testing.T) {
	ss, err := ParseSearchString("climate & policy")
	require.NoError(t, err)

	assert.True(t, ss.Match("new climate policy announced"))
	assert.False(t, ss.Match("climate report"))
	assert.False(t, ss.Match("policy brief"))
}

func TestSearchStringFuzzyTerm(t *testing.T) {
	ss, err := ParseSearchString("~senate")
	require.NoError(t, err)

	assert.True(t, ss.Match("the senate floor"))
	assert.True(t, ss.Match("the sennate floor")) // one edit away
	assert.False(t, ss.Match("the supreme court"))
}

func TestSearchStringRegexTerm(t *testing.T) {
	ss, err := ParseSearchString("/col(o|ou)r/")
	require.NoError(t, err)

	assert.True(t, ss.Match("colour palette"))
	assert.True(t, ss.Match("color palette"))
	assert.False(t, ss.Match("colr palette"))
}

func TestSearchStringRegexAlternation(t *testing.T) {
	// The | inside the regex body is part of the pattern, not the chain.
	ss, err := ParseSearchString("/cat|dog/")
	require.NoError(t, err)
	assert.True(t, ss.Match("hotdog stand"))
	assert.True(t, ss.Match("cat cafe"))
	assert.False(t, ss.Match("parrot"))
}

func TestSearchStringRegexInsideChain(t *testing.T) {
	ss, err := ParseSearchString("vote & /house|senate/")
	require.NoError(t, err)
	assert.True(t, ss.Match("senate vote scheduled"))
	assert.False(t, ss.Match("senate hearing"))
	assert.False(t, ss.Match("vote count"))

	_, err = ParseSearchString("/never closed")
	assert.Error(t, err)
}

func TestSearchStringSingleTerm(t *testing.T) {
	ss, err := ParseSearchString("breaking")
	require.NoError(t, err)
	assert.True(t, ss.Match("BREAKING news"))
	assert.Equal(t, "breaking", ss.String())
}

func TestEditDistance(t *testing.T) {
	assert.Equal(t, 0, editDistance("abc", "abc"))
	assert.Equal(t, 1, editDistance("abc", "abd"))
	assert.Equal(t, 3, editDistance("", "abc"))
	assert.Equal(t, 3, editDistance("kitten", "sitting"))
}
