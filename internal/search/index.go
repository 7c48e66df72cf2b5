package search

import (
	"context"

	"github.com/knowos/kbase-go/internal/corpus"
)

// Index scores candidate chunks against a query embedding. Two
// implementations exist: ExhaustiveIndex computes exact cosine similarity
// in-process over the candidate set, and QdrantIndex delegates to an
// external Qdrant collection. Implementations must be safe for concurrent
// use.
//
// Whatever the backing, the engine intersects index scores with the
// candidate set it read from the corpus store, so approval gating and
// metadata filtering always hold even when the index holds more vectors
// than are currently searchable.
type Index interface {
	// Upsert makes the chunks' embeddings available for scoring. Chunks
	// without an embedding are skipped.
	Upsert(ctx context.Context, chunks []corpus.Chunk) error

	// Delete removes the vectors for the given chunk IDs.
	Delete(ctx context.Context, ids []string) error

	// Score returns a similarity score per candidate chunk ID. Candidates
	// with a missing or dimension-mismatched embedding are absent from the
	// result — "no information" is distinct from "known dissimilar".
	Score(ctx context.Context, query []float32, candidates []corpus.Chunk) (map[string]float64, error)

	// Close releases any resources held by the index.
	Close() error
}

// ExhaustiveIndex is the in-process Index: it scores by brute-force cosine
// similarity over the candidates' stored embeddings. It holds no state of
// its own — embeddings live in the corpus store — so Upsert and Delete are
// no-ops.
type ExhaustiveIndex struct{}

// NewExhaustiveIndex returns the in-process exact-scoring index.
func NewExhaustiveIndex() *ExhaustiveIndex {
	return &ExhaustiveIndex{}
}

// Upsert is a no-op; embeddings are read from the candidates at score time.
func (x *ExhaustiveIndex) Upsert(ctx context.Context, chunks []corpus.Chunk) error {
	return nil
}

// Delete is a no-op; the corpus store owns embedding lifecycle.
func (x *ExhaustiveIndex) Delete(ctx context.Context, ids []string) error {
	return nil
}

// Score computes cosine similarity for every candidate whose embedding is
// present and matches the query dimension.
func (x *ExhaustiveIndex) Score(ctx context.Context, query []float32, candidates []corpus.Chunk) (map[string]float64, error) {
	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) == 0 || len(c.Embedding) != len(query) {
			continue
		}
		scores[c.ID] = Cosine(query, c.Embedding)
	}
	return scores, nil
}

// Close is a no-op.
func (x *ExhaustiveIndex) Close() error {
	return nil
}
