// Package search implements the hybrid retrieval core: tokenization, BM25
// keyword scoring, cosine vector scoring, metadata filtering, and the engine
// that fuses the two signals into one deterministic ranking.
package search

import (
	"math"
	"strings"
	"unicode"

	"github.com/knowos/kbase-go/internal/corpus"
)

// BM25 tuning constants, fixed per deployment. k1 controls term-frequency
// saturation, b controls length normalization. Changing them changes score
// scales, so they are package constants rather than per-query options.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// Tokenize lowercases s and splits it on non-alphanumeric boundaries,
// dropping empty tokens. The exact same function runs at statistics-build
// time and at query time — statistics built with any other tokenization
// would make BM25 scores meaningless.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// termCounts returns the term-frequency map and total token count for terms.
func termCounts(terms []string) (map[string]int, int) {
	counts := make(map[string]int, len(terms))
	for _, t := range terms {
		counts[t]++
	}
	return counts, len(terms)
}

// Statistics holds the corpus-wide aggregates BM25 needs. The unit of
// "document" here is the chunk, not the source document — average length is
// therefore over chunk lengths, which keeps scores comparable across chunks.
type Statistics struct {
	// TotalDocuments is the number of chunks indexed.
	TotalDocuments int

	// AverageDocumentLength is the mean token count across indexed chunks.
	AverageDocumentLength float64

	// DocumentFrequency maps a term to the number of chunks containing it.
	DocumentFrequency map[string]int
}

// BuildStatistics recomputes corpus statistics wholesale from the given
// chunks. Rebuild-from-scratch is the canonical maintenance path; searches
// running against slightly stale statistics get approximate scores, never
// incorrect results.
func BuildStatistics(chunks []corpus.Chunk) *Statistics {
	stats := &Statistics{
		DocumentFrequency: make(map[string]int),
	}

	totalLen := 0
	for _, c := range chunks {
		terms := Tokenize(c.Text)
		totalLen += len(terms)
		stats.TotalDocuments++

		seen := make(map[string]struct{}, len(terms))
		for _, t := range terms {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			stats.DocumentFrequency[t]++
		}
	}

	if stats.TotalDocuments > 0 {
		stats.AverageDocumentLength = float64(totalLen) / float64(stats.TotalDocuments)
	}
	return stats
}

// idf returns the BM25 inverse document frequency for a term:
// ln((N - df + 0.5) / (df + 0.5) + 1). Terms unseen at build time get the
// df=0 value, but they only matter when present in a chunk, which stale
// statistics make possible.
func (s *Statistics) idf(term string) float64 {
	df := float64(s.DocumentFrequency[term])
	n := float64(s.TotalDocuments)
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

// ScoreBM25 returns the BM25 relevance of a chunk's text against the
// tokenized query. Query terms absent from the chunk contribute nothing;
// an empty query scores zero. Repeated calls over a fixed corpus and query
// are bit-for-bit deterministic.
func (s *Statistics) ScoreBM25(queryTerms []string, text string) float64 {
	if len(queryTerms) == 0 || s.TotalDocuments == 0 {
		return 0
	}

	counts, docLen := termCounts(Tokenize(text))
	if docLen == 0 || s.AverageDocumentLength == 0 {
		return 0
	}

	lengthNorm := 1 - bm25B + bm25B*(float64(docLen)/s.AverageDocumentLength)

	score := 0.0
	for _, term := range queryTerms {
		tf := float64(counts[term])
		if tf == 0 {
			continue
		}
		score += s.idf(term) * (tf * (bm25K1 + 1)) / (tf + bm25K1*lengthNorm)
	}
	return score
}
