package analyzer

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// maxStaticKeywords caps the keyword list produced by the heuristic analyzer.
const maxStaticKeywords = 8

// stopwords are excluded from heuristic keyword extraction.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "our": {},
	"that": {}, "the": {}, "their": {}, "this": {}, "to": {}, "was": {},
	"we": {}, "were": {}, "with": {}, "you": {}, "your": {},
}

// StaticAnalyzer is a deterministic, model-free Analyzer: frequency-based
// keywords, first-sentences summary, capitalised-token entities. It never
// fails, which makes it both the no-LLM fallback and the default test double.
type StaticAnalyzer struct{}

// NewStaticAnalyzer returns the heuristic analyzer.
func NewStaticAnalyzer() *StaticAnalyzer {
	return &StaticAnalyzer{}
}

// Analyze produces a heuristic analysis of text. It never returns an error.
func (s *StaticAnalyzer) Analyze(ctx context.Context, text, sourceHint string) (*Analysis, error) {
	a := &Analysis{
		Summary:         firstSentences(text, 2, 240),
		PrimaryCategory: "general",
		Keywords:        topKeywords(text, maxStaticKeywords),
		TechnicalLevel:  5,
		Entities:        capitalisedTokens(text, maxStaticKeywords),
		ConfidenceScore: 0.2,
	}
	a.clamp()
	return a, nil
}

// firstSentences returns up to n leading sentences of text, truncated to
// maxLen characters.
func firstSentences(text string, n, maxLen int) string {
	text = strings.TrimSpace(text)
	var out strings.Builder
	count := 0
	for _, r := range text {
		out.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			count++
			if count >= n {
				break
			}
		}
		if out.Len() >= maxLen {
			break
		}
	}
	return strings.TrimSpace(out.String())
}

// topKeywords returns the n most frequent non-stopword tokens of at least
// four characters, most frequent first, ties alphabetical for determinism.
func topKeywords(text string, n int) []string {
	freq := map[string]int{}
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(tok) < 4 {
			continue
		}
		if _, ok := stopwords[tok]; ok {
			continue
		}
		freq[tok]++
	}

	keys := make([]string, 0, len(freq))
	for k := range freq {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if freq[keys[i]] != freq[keys[j]] {
			return freq[keys[i]] > freq[keys[j]]
		}
		return keys[i] < keys[j]
	})

	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// capitalisedTokens returns up to n distinct mid-sentence capitalised words,
// a rough stand-in for named entities.
func capitalisedTokens(text string, n int) []string {
	seen := map[string]struct{}{}
	var out []string

	words := strings.Fields(text)
	for i, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) < 2 || !unicode.IsUpper(rune(w[0])) {
			continue
		}
		// Skip sentence-initial words — capitalisation carries no signal there.
		if i > 0 {
			prev := words[i-1]
			if strings.HasSuffix(prev, ".") || strings.HasSuffix(prev, "!") || strings.HasSuffix(prev, "?") {
				continue
			}
		} else {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) >= n {
			break
		}
	}
	return out
}
