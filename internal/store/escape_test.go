package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locusmcp/locus/internal/errors"
)

func TestEscapeString_DoublesQuotes(t *testing.T) {
	got, err := EscapeString(`it's a 'test'`)
	require.NoError(t, err)
	assert.Equal(t, `it''s a ''test''`, got)
}

func TestEscapeString_RejectsControlCharacters(t *testing.T) {
	for _, s := range []string{"a\x00b", "a\nb", "a\x7fb"} {
		_, err := EscapeString(s)
		require.Error(t, err, "input %q", s)
		assert.Equal(t, errors.CodeInvalidPattern, errors.CodeOf(err))
	}
}

func TestGlobToLike_Translation(t *testing.T) {
	tests := []struct {
		glob string
		want string
	}{
		// `**` absorbs its adjacent separators so it can match zero path
		// components; the exact post-filter narrows the over-match.
		{"src/**/*.ts", "src%.ts"},
		{"**/temp", "%temp"},
		{"a/**", "a%"},
		{"a/**/b", "a%b"},
		{"src/*.ts", "src/%.ts"},
		{"*.go", "%.go"},
		{"file?.txt", "file_.txt"},
		{"100%_done", `100\%\_done`},
	}
	for _, tt := range tests {
		got, err := GlobToLike(tt.glob)
		require.NoError(t, err, "glob %q", tt.glob)
		assert.Equal(t, tt.want, got, "glob %q", tt.glob)
	}
}

func TestGlobToLike_DoublestarMatchesZeroComponents(t *testing.T) {
	// The scenario pattern must keep single-level paths in the LIKE
	// pre-filter: `src/index.ts` has no intermediate directory.
	like, err := GlobToLike("src/**/*.ts")
	require.NoError(t, err)
	assert.Equal(t, "src%.ts", like)
	assert.True(t, MatchGlob("src/**/*.ts", "src/index.ts"))
	assert.True(t, MatchGlob("src/**/*.ts", "src/util/hash.ts"))
}

func TestGlobToLike_CharacterClass(t *testing.T) {
	// A class matches exactly one character, so it widens to `_`.
	got, err := GlobToLike("src/[ab].ts")
	require.NoError(t, err)
	assert.Equal(t, "src/_.ts", got)

	// An unterminated class fails glob validation.
	_, err = GlobToLike("src/[")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidPattern, errors.CodeOf(err))
}

func TestGlobToLike_RejectsBadPatterns(t *testing.T) {
	for _, glob := range []string{"", "a\x01b"} {
		_, err := GlobToLike(glob)
		require.Error(t, err, "glob %q", glob)
		assert.Equal(t, errors.CodeInvalidPattern, errors.CodeOf(err))
	}
}

func TestGlobToLike_SingleQuoteEscaped(t *testing.T) {
	got, err := GlobToLike("it's/*.md")
	require.NoError(t, err)
	assert.Equal(t, "it''s/%.md", got)
}

func TestMatchGlob(t *testing.T) {
	assert.True(t, MatchGlob("src/**/*.ts", "src/util/hash.ts"))
	assert.True(t, MatchGlob("src/**/*.ts", "src/index.ts"))
	assert.False(t, MatchGlob("src/**/*.ts", "README.md"))
	assert.False(t, MatchGlob("src/*.ts", "src/util/hash.ts"))
}
