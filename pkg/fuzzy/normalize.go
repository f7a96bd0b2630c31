// Package fuzzy normalizes free-form genre input so it can be matched
// against the recommendation API's canonical seed names.
package fuzzy

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	separatorRegex = regexp.MustCompile(`[\s_/]+`)
	strippedRegex  = regexp.MustCompile(`[^a-z0-9-]+`)
	hyphenRegex    = regexp.MustCompile(`-{2,}`)
)

type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// NormalizeGenre converts user input like "Hip Hop", "R&B" or "Électro" to
// the seed-name form the API uses ("hip-hop", "r-n-b", "electro").
func (n *Normalizer) NormalizeGenre(genre string) string {
	genre = strings.ToLower(strings.TrimSpace(genre))
	genre = strings.ReplaceAll(genre, "&", " n ")
	genre = stripDiacritics(genre)
	genre = separatorRegex.ReplaceAllString(genre, "-")
	genre = strippedRegex.ReplaceAllString(genre, "")
	genre = hyphenRegex.ReplaceAllString(genre, "-")
	return strings.Trim(genre, "-")
}

// Match returns the canonical seed equal to the normalized input, or
// false when the input matches no seed.
func (n *Normalizer) Match(input string, seeds []string) (string, bool) {
	normalized := n.NormalizeGenre(input)
	if normalized == "" {
		return "", false
	}
	for _, seed := range seeds {
		if seed == normalized {
			return seed, true
		}
	}
	return "", false
}

func stripDiacritics(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
