// Package encoding provides text normalisation for project and map names.
package encoding

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSlugLength bounds the length of a slug in bytes.
const MaxSlugLength = 64

// NormalizeName converts a display name to NFC, drops control characters and
// collapses runs of whitespace to single spaces.
func NormalizeName(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
		case unicode.IsControl(r):
		default:
			if space {
				b.WriteByte(' ')
				space = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripMarks decomposes and removes combining marks, so "é" becomes "e".
func stripMarks(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Slug turns a name into a lowercase folder-safe identifier of letters,
// digits and single hyphens. Letters outside ASCII are kept after accents
// are stripped. It returns "untitled" when nothing usable remains.
func Slug(name string) string {
	name = stripMarks(NormalizeName(name))
	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sep := hyphen && b.Len() > 0
			n := utf8.RuneLen(r)
			if sep {
				n++
			}
			if b.Len()+n > MaxSlugLength {
				break
			}
			if sep {
				b.WriteByte('-')
			}
			hyphen = false
			b.WriteRune(r)
			continue
		}
		hyphen = true
	}
	if b.Len() == 0 {
		return "untitled"
	}
	return b.String()
}

// FoldEqual reports whether two names are equal after normalisation and
// case folding.
func FoldEqual(a, b string) bool {
	return strings.EqualFold(NormalizeName(a), NormalizeName(b))
}
