// Package match provides the fuzzy answer matcher: normalization,
// string similarity and the pace/elimination arithmetic. Everything in
// this package is pure and deterministic.
package match

import (
	"regexp"
	"strings"
)

// Noise words stripped during normalization, both as dash-introduced
// suffixes ("- Remastered 2011") and as stray whole words.
var noiseWords = []string{
	"remastered", "remaster", "remix", "live", "acoustic", "radio",
	"single", "album", "version", "edit", "mix", "deluxe", "bonus",
	"original", "mono", "stereo", "anniversary", "edition", "feat",
	"featuring", "ft", "with",
}

var (
	parenRe      = regexp.MustCompile(`\([^)]*\)`)
	bracketRe    = regexp.MustCompile(`\[[^\]]*\]`)
	dashSuffixRe = regexp.MustCompile(`\s*[-–—]\s*(?:` + strings.Join(noiseWords, "|") + `)\b.*$`)
	acronymRe    = regexp.MustCompile(`\b(?:[a-z]\.){2,6}`)
	nonWordRe    = regexp.MustCompile(`[^\w\s]`)
	noiseWordRe  = regexp.MustCompile(`\b(?:` + strings.Join(noiseWords, "|") + `)\b`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes a title or artist name for comparison.
// The transformation is idempotent.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = parenRe.ReplaceAllString(s, " ")
	s = bracketRe.ReplaceAllString(s, " ")
	s = dashSuffixRe.ReplaceAllString(s, "")
	s = acronymRe.ReplaceAllStringFunc(s, func(m string) string {
		return strings.ReplaceAll(m, ".", "")
	})
	s = strings.ReplaceAll(s, ".", "")
	s = nonWordRe.ReplaceAllString(s, " ")
	s = noiseWordRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Similarity is the Sørensen–Dice coefficient over character bigrams
// of the two normalized strings. Equal inputs score 1; an empty
// operand scores 0.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	if len(a) < 2 || len(b) < 2 {
		return 0
	}

	bigrams := make(map[string]int)
	for i := 0; i < len(a)-1; i++ {
		bigrams[a[i:i+2]]++
	}

	matches := 0
	for i := 0; i < len(b)-1; i++ {
		bg := b[i : i+2]
		if bigrams[bg] > 0 {
			bigrams[bg]--
			matches++
		}
	}

	return 2 * float64(matches) / float64(len(a)-1+len(b)-1)
}
