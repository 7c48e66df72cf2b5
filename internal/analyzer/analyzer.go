// Package analyzer provides automated content analysis for ingested
// documents: summary, categorisation, keywords, technical level, entities,
// and quality flags. The primary implementation prompts an LLM via the eino
// chat-model abstraction; StaticAnalyzer is the heuristic fallback used when
// no model is configured and as a deterministic test double.
//
// Analysis is an enrichment, not a precondition — ingestion proceeds with
// default metadata when analysis fails.
package analyzer

import "context"

// Analysis is the structured result of content analysis.
type Analysis struct {
	// Summary is a short abstract of the document.
	Summary string `json:"summary"`

	// PrimaryCategory is the main topical category.
	PrimaryCategory string `json:"primary_category"`

	// SecondaryCategories are additional topical categories.
	SecondaryCategories []string `json:"secondary_categories"`

	// Keywords are salient terms for keyword filtering.
	Keywords []string `json:"keywords"`

	// TechnicalLevel grades the content from 1 (introductory) to 10
	// (deeply technical).
	TechnicalLevel int `json:"technical_level"`

	// Entities are named entities mentioned in the text.
	Entities []string `json:"entities"`

	// QualityFlags carry warnings about the source text.
	QualityFlags []string `json:"quality_flags"`

	// ConfidenceScore is the analyzer's confidence in this record (0–1).
	ConfidenceScore float64 `json:"confidence_score"`
}

// Analyzer produces an Analysis for raw document text. Implementations must
// be safe to call from multiple goroutines.
type Analyzer interface {
	// Analyze examines text and returns its analysis. sourceHint is the
	// document's origin handle (filename, URL) and may inform category
	// guesses; it can be empty.
	Analyze(ctx context.Context, text, sourceHint string) (*Analysis, error)
}

// clamp bounds the model-reported fields into their documented ranges —
// LLM output is untrusted and occasionally out of range.
func (a *Analysis) clamp() {
	if a.TechnicalLevel < 1 {
		a.TechnicalLevel = 1
	}
	if a.TechnicalLevel > 10 {
		a.TechnicalLevel = 10
	}
	if a.ConfidenceScore < 0 {
		a.ConfidenceScore = 0
	}
	if a.ConfidenceScore > 1 {
		a.ConfidenceScore = 1
	}
}
