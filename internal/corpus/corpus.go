// Package corpus defines the knowledge-base data model — documents, chunks,
// and their metadata — together with the Store contract that all persistence
// backends implement. The retrieval and ingestion layers depend only on the
// types and interface in this package, never on a concrete backend.
package corpus

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for expected business outcomes. Callers distinguish these
// with errors.Is; they are returned, never treated as fatal.
var (
	// ErrDuplicateContent is returned when a document with the same content
	// hash already exists. Re-uploading the same text is a common, expected
	// event — surface it as "already uploaded", not as a failure.
	ErrDuplicateContent = errors.New("corpus: duplicate content")

	// ErrNotFound is returned when a requested document or chunk does not exist.
	ErrNotFound = errors.New("corpus: not found")
)

// Document is a unit of ingested knowledge awaiting or past admin review.
// A document owns its chunks exclusively; deleting it cascades to them.
type Document struct {
	// ID is the opaque unique identifier assigned at creation.
	ID string `json:"id"`

	// Source is the human-facing origin handle (filename, URL, or an
	// admin-supplied label).
	Source string `json:"source"`

	// ContentHash is the SHA-256 hex digest of the raw document text.
	// Uniqueness is enforced at the store write boundary.
	ContentHash string `json:"content_hash"`

	// Approved gates search visibility. Documents are created pending
	// (false) and become searchable only after admin approval.
	Approved bool `json:"approved"`

	// ReviewComments holds the reviewer's notes from a rejection.
	ReviewComments string `json:"review_comments,omitempty"`

	// Metadata is the analysis-derived and admin-editable metadata record.
	Metadata Metadata `json:"metadata"`

	// CreatedAt is when the document was first persisted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the document was last mutated (approval, metadata edit).
	UpdatedAt time.Time `json:"updated_at"`
}

// Chunk is a contiguous slice of a document's text — the unit of embedding,
// BM25 indexing, and retrieval.
type Chunk struct {
	// ID is the opaque unique identifier for this chunk.
	ID string `json:"id"`

	// DocumentID is the owning document. A chunk belongs to exactly one
	// document and is deleted when that document is deleted.
	DocumentID string `json:"document_id"`

	// Index is the zero-based position of this chunk within the document's
	// original text. Ordering is significant for reconstruction.
	Index int `json:"chunk_index"`

	// Text is the content as embedded. Window overlap and, with contextual
	// chunking, a document-level prefix can make it differ from OriginalText.
	Text string `json:"text"`

	// OriginalText is the undecorated slice of the source text, used for
	// display and document reconstruction.
	OriginalText string `json:"original_text"`

	// Embedding is the dense vector for Text. Nil when embedding failed or
	// has not run yet; such chunks are excluded from vector scoring.
	Embedding []float32 `json:"embedding,omitempty"`

	// Metadata merges the owning document's analysis fields with
	// chunk-specific context (chunking strategy, custom tags).
	Metadata Metadata `json:"metadata"`

	// CreatedAt is when the chunk was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// Chunking strategy names recorded in chunk metadata so downstream consumers
// know whether Text has been decorated with document context.
const (
	// StrategyPlain marks chunks whose Text carries no document-context
	// prefix. Window overlap, when enabled, still decorates Text.
	StrategyPlain = "plain"
	// StrategyContextual marks chunks whose Text is prefixed with
	// document-level context (source and summary).
	StrategyContextual = "contextual"
)

// Metadata is the semi-structured metadata record shared by documents and
// chunks: a fixed set of typed fields the engine reasons about, plus an open
// Extra map for caller-defined filters.
type Metadata struct {
	// Summary is a short abstract produced by content analysis.
	Summary string `json:"summary,omitempty"`

	// PrimaryCategory is the main topical category.
	PrimaryCategory string `json:"primary_category,omitempty"`

	// SecondaryCategories are additional topical categories.
	SecondaryCategories []string `json:"secondary_categories,omitempty"`

	// Keywords are salient terms extracted from the text.
	Keywords []string `json:"keywords,omitempty"`

	// TechnicalLevel grades the content from 1 (introductory) to 10
	// (deeply technical). Zero means ungraded.
	TechnicalLevel int `json:"technical_level,omitempty"`

	// Entities are named entities (organisations, products, people).
	Entities []string `json:"entities,omitempty"`

	// QualityFlags carry analysis warnings (e.g. "truncated", "boilerplate").
	QualityFlags []string `json:"quality_flags,omitempty"`

	// ConfidenceScore is the analyzer's confidence in this record (0–1).
	ConfidenceScore float64 `json:"confidence_score,omitempty"`

	// ChunkStrategy records which chunking strategy produced a chunk
	// (StrategyPlain or StrategyContextual). Empty on documents.
	ChunkStrategy string `json:"chunk_strategy,omitempty"`

	// Extra is an open extension map for custom filter fields.
	Extra map[string]string `json:"extra,omitempty"`
}

// Clone returns a deep copy of the metadata record so stored records are
// never aliased by caller-held maps and slices.
func (m Metadata) Clone() Metadata {
	out := m
	out.SecondaryCategories = append([]string(nil), m.SecondaryCategories...)
	out.Keywords = append([]string(nil), m.Keywords...)
	out.Entities = append([]string(nil), m.Entities...)
	out.QualityFlags = append([]string(nil), m.QualityFlags...)
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// HashContent returns the canonical content hash for raw document text:
// the SHA-256 hex digest of the exact bytes.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum)
}
