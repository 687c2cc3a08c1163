package transcript

import (
	"github.com/grafana/regexp"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// A token is a maximal run of word characters (letters, marks, digits,
// underscore, apostrophe, hyphen), of whitespace, or of anything else. The
// three classes partition every rune, so tokens always concatenate back to
// their source text.
var (
	tokenPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}_'-]+|[\s\p{Z}]+|[^\p{L}\p{M}\p{N}_'\s\p{Z}-]+`)
	edgePattern  = regexp.MustCompile(`^[^\p{L}\p{M}\p{N}_'-]+|[^\p{L}\p{M}\p{N}_'-]+$`)
	wordPattern  = regexp.MustCompile(`[\p{L}\p{N}_]`)
)

// Tokenize splits text into word, whitespace and punctuation runs.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return tokenPattern.FindAllString(text, -1)
}

// Normalize reduces a token to its comparison form. It is never displayed.
func Normalize(token string) string {
	if token == "" {
		return ""
	}
	trimmed := edgePattern.ReplaceAllString(token, "")
	return cases.Lower(language.Und).String(trimmed)
}

// HasWordChar reports whether token contains a letter, digit or underscore.
// Tokens without one are folded into the spoken region after a match.
func HasWordChar(token string) bool {
	return wordPattern.MatchString(token)
}
