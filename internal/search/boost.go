package search

import (
	"strings"

	"github.com/Aman-CERP/docindex/internal/translate"
)

// Boost amounts added to a candidate's base score.
const (
	PhraseBoost        = 0.30
	FullCoverageBoost  = 0.20
	PartialBoostFactor = 0.10
	CrossLanguageBoost = 0.15
)

// query is the normalised form of a search string shared by every
// candidate of one request.
type query struct {
	phrase     string
	terms      []string
	translated []string
}

func parseQuery(q string) query {
	phrase := strings.ToLower(strings.TrimSpace(q))
	terms := translate.Tokenize(phrase)
	return query{
		phrase:     phrase,
		terms:      terms,
		translated: translate.Expand(terms),
	}
}

// Boost returns the phrase boost of text for the raw query string q.
func Boost(text, q string) float64 {
	return parseQuery(q).boost(text)
}

// boost scores the overlap between text and the query.
//
// An exact phrase match earns PhraseBoost. Otherwise the share r of query
// terms found in text earns FullCoverageBoost when r is 1 and
// PartialBoostFactor*r when r is positive. While the boost is still below
// FullCoverageBoost, the share of translated terms found adds up to
// CrossLanguageBoost.
func (q query) boost(text string) float64 {
	lower := strings.ToLower(text)
	boost := 0.0

	if q.phrase != "" && strings.Contains(lower, q.phrase) {
		boost = PhraseBoost
	} else if len(q.terms) > 0 {
		r := containedRatio(lower, q.terms)
		switch {
		case r == 1:
			boost = FullCoverageBoost
		case r > 0:
			boost = PartialBoostFactor * r
		}
	}

	if boost < FullCoverageBoost && len(q.translated) > 0 {
		if t := containedRatio(lower, q.translated); t > 0 {
			boost += min(CrossLanguageBoost, CrossLanguageBoost*t)
		}
	}
	return boost
}

// matchesAny reports whether text contains any query term, ignoring case.
func (q query) matchesAny(text string) bool {
	lower := strings.ToLower(text)
	for _, term := range q.terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

func containedRatio(lower string, terms []string) float64 {
	matched := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

// Snippet returns the first maxLen characters of text. A cut text is
// trimmed back to its last space and suffixed with "...".
func Snippet(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = SnippetLength
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}

	cut := string(runes[:maxLen])
	if i := strings.LastIndex(cut, " "); i >= 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
