// Package textnorm canonicalizes free-form task text so that matching is
// robust to case, punctuation and (crudely) Russian inflection.
package textnorm

import (
	"regexp"
	"strings"
)

var (
	nonWordRuns = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
	wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

// surroundingCutset are quote/bracket runes stripped from the edges
// before any comparison.
const surroundingCutset = " \t\r\n\"'«»“”„()[]"

// stopwords are prepositions/conjunctions that carry no matching signal.
var stopwords = map[string]struct{}{
	"и": {}, "а": {}, "но": {}, "в": {}, "во": {}, "на": {}, "по": {},
	"за": {}, "из": {}, "от": {}, "до": {}, "у": {}, "о": {}, "об": {},
	"с": {}, "со": {}, "к": {}, "ко": {}, "не": {}, "же": {}, "ли": {},
	"бы": {}, "для": {}, "про": {}, "под": {}, "над": {}, "при": {},
	"это": {}, "что": {}, "как": {}, "или": {},
	"the": {}, "a": {}, "an": {}, "to": {}, "of": {}, "in": {}, "on": {},
	"at": {}, "for": {}, "and": {}, "or": {},
}

// inflectionalEndings is a crude longest-match suffix list applied once
// per token: "английский", "английском", "английскому" all become "англи".
var inflectionalEndings = []string{
	"ому", "ему", "ого", "ими", "ыми", "ами", "лях",
	"ях", "ах", "ам", "ой", "ый", "ий", "ая", "ое", "ые", "ую", "ом",
	"ев", "ов", "ей",
}

// Normalize lowercases, strips surrounding quotes/brackets, collapses
// non-word runs to single spaces and trims. Idempotent.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, surroundingCutset)
	s = nonWordRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// StemWord strips one inflectional ending (longest match) from a
// lowercased word.
func StemWord(w string) string {
	w = strings.ToLower(w)
	best := ""
	for _, suffix := range inflectionalEndings {
		if len(suffix) <= len(best) {
			continue
		}
		if strings.HasSuffix(w, suffix) {
			best = suffix
		}
	}
	return strings.TrimSuffix(w, best)
}

// Tokenize splits text into stemmed word tokens with stopwords removed.
// Single-rune leftovers are dropped: they only add noise to set overlap.
func Tokenize(s string) []string {
	words := wordPattern.FindAllString(Normalize(s), -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		stemmed := StemWord(w)
		if len([]rune(stemmed)) < 2 {
			continue
		}
		out = append(out, stemmed)
	}
	return out
}
