package store

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/locusmcp/locus/internal/errors"
)

// likeEscape is the ESCAPE character used in every LIKE clause.
const likeEscape = `\`

// EscapeString prepares a string value for interpolation into a WHERE
// clause: single quotes are doubled, control characters are rejected.
func EscapeString(s string) (string, error) {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return "", errors.New(errors.CodeInvalidPattern,
				"The value contains control characters.").
				WithDetail("control character %q in %q", r, s)
		}
	}
	return strings.ReplaceAll(s, "'", "''"), nil
}

// GlobToLike translates a path glob into a LIKE pattern. Literal runs have
// `%`, `_`, `[` and the escape character escaped; `**` and `*` widen to `%`
// and `?` to `_`. Patterns that cannot be translated (bad syntax, control
// characters) are rejected with INVALID_PATTERN.
//
// LIKE cannot express that `*` stops at path separators, so the translated
// pattern over-matches; callers re-check candidates with an exact glob
// match before returning them.
func GlobToLike(glob string) (string, error) {
	if glob == "" {
		return "", errors.New(errors.CodeInvalidPattern,
			"The search pattern is empty.")
	}
	if !doublestar.ValidatePattern(glob) {
		return "", errors.New(errors.CodeInvalidPattern,
			"The search pattern could not be parsed.").
			WithDetail("invalid glob %q", glob)
	}

	var b strings.Builder
	// writePercent collapses adjacent wildcards into one `%`.
	writePercent := func() {
		s := b.String()
		if len(s) == 0 || s[len(s)-1] != '%' {
			b.WriteByte('%')
		}
	}
	i := 0
	for i < len(glob) {
		c := glob[i]
		switch c {
		case '/':
			// A separator followed by a `**` segment is absorbed into the
			// `%` so the doublestar can match zero path components:
			// `a/**/b` becomes `a%b`, which still covers `a/b`.
			if strings.HasPrefix(glob[i+1:], "**") {
				writePercent()
				i++
				for i < len(glob) && glob[i] == '*' {
					i++
				}
				if i < len(glob) && glob[i] == '/' {
					i++
				}
				continue
			}
			b.WriteByte(c)
			i++
		case '*':
			// `**` and `*` both widen to `%`; a slash trailing a `**`
			// segment is absorbed so `**/x` covers a bare `x`. Exactness
			// is restored by the post-filter.
			doubled := strings.HasPrefix(glob[i:], "**")
			for i < len(glob) && glob[i] == '*' {
				i++
			}
			if doubled && i < len(glob) && glob[i] == '/' {
				i++
			}
			writePercent()
		case '?':
			b.WriteByte('_')
			i++
		case '%', '_':
			b.WriteString(likeEscape)
			b.WriteByte(c)
			i++
		case '[':
			// A character class matches exactly one character, so `_` is a
			// sound over-approximation. ValidatePattern already rejected
			// unterminated classes.
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				b.WriteString(likeEscape)
				b.WriteByte(c)
				i++
				break
			}
			b.WriteByte('_')
			i += end + 2
		case '\\':
			// Backslash escapes the next glob metacharacter; emit that
			// character as a LIKE literal.
			if i+1 < len(glob) {
				next := glob[i+1]
				if next == '%' || next == '_' || next == '[' || next == '\\' {
					b.WriteString(likeEscape)
				}
				b.WriteByte(next)
				i += 2
			} else {
				i++
			}
		default:
			if c < 0x20 || c == 0x7f {
				return "", errors.New(errors.CodeInvalidPattern,
					"The search pattern contains control characters.")
			}
			b.WriteByte(c)
			i++
		}
	}

	escaped, err := EscapeString(b.String())
	if err != nil {
		return "", err
	}
	return escaped, nil
}

// MatchGlob re-checks a candidate path against the original glob.
func MatchGlob(glob, path string) bool {
	ok, err := doublestar.Match(glob, path)
	return err == nil && ok
}
