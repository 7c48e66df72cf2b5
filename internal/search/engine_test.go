package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/knowos/kbase-go/internal/corpus"
	"github.com/knowos/kbase-go/internal/embedder"
)

// stubStore serves a fixed searchable chunk set. Only the methods the engine
// touches are implemented; anything else panics via the embedded nil Store.
type stubStore struct {
	corpus.Store
	chunks []corpus.Chunk
	err    error
}

func (s *stubStore) SearchableChunks(_ context.Context) ([]corpus.Chunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.chunks, nil
}

// stubEmbedder returns the same vector for every text, or a fixed error.
type stubEmbedder struct {
	vec []float32
	err error
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = e.vec
	}
	return out, nil
}

// newTestEngine builds an engine over the given chunks and embedder, with
// statistics already refreshed.
func newTestEngine(t *testing.T, chunks []corpus.Chunk, emb embedder.Embedder) *Engine {
	t.Helper()
	e, err := NewEngine(&stubStore{chunks: chunks}, emb, nil, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return e
}

func Test_Engine_EmptyQueryRejected(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, &stubEmbedder{vec: []float32{1}})

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := e.Search(context.Background(), q, Options{})
		if !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("query %q: expected ErrInvalidQuery, got %v", q, err)
		}
	}
}

func Test_Engine_InvalidOptionsRejected(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, &stubEmbedder{vec: []float32{1}})

	bad := []Options{
		{Limit: -1},
		{Offset: -1},
		{VectorWeight: 1.5},
		{KeywordWeight: -0.1},
	}
	for _, opts := range bad {
		if _, err := e.Search(context.Background(), "query", opts); err == nil {
			t.Errorf("options %+v: expected error", opts)
		}
	}
}

func Test_Engine_StoreErrorPropagated(t *testing.T) {
	t.Parallel()

	e, err := NewEngine(&stubStore{err: errors.New("disk gone")},
		&stubEmbedder{vec: []float32{1}}, nil, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if _, err := e.Search(context.Background(), "query", Options{}); err == nil {
		t.Error("expected error when the store fails")
	}
}

func Test_Engine_WeightsSteerRanking(t *testing.T) {
	t.Parallel()

	chunks := []corpus.Chunk{
		{ID: "semantic", Text: "zebra zebra zebra", Embedding: []float32{1, 0}},
		{ID: "keyword", Text: "rotate leaked credentials", Embedding: []float32{0, 1}},
	}
	e := newTestEngine(t, chunks, &stubEmbedder{vec: []float32{1, 0}})

	// Vector-only: the aligned embedding wins despite no term overlap.
	res, err := e.Search(context.Background(), "rotate credentials", Options{VectorWeight: 1, KeywordWeight: 0.0001})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Results[0].Chunk.ID != "semantic" {
		t.Errorf("vector-weighted: expected semantic first, got %q", res.Results[0].Chunk.ID)
	}

	// Keyword-only: the term match wins despite the orthogonal embedding.
	res, err = e.Search(context.Background(), "rotate credentials", Options{VectorWeight: 0.0001, KeywordWeight: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Results[0].Chunk.ID != "keyword" {
		t.Errorf("keyword-weighted: expected keyword first, got %q", res.Results[0].Chunk.ID)
	}
}

func Test_Engine_DegradesToKeywordOnly(t *testing.T) {
	t.Parallel()

	chunks := []corpus.Chunk{
		{ID: "c1", Text: "rotate leaked credentials", Embedding: []float32{1, 0}},
		{ID: "c2", Text: "quarterly planning notes", Embedding: []float32{1, 0}},
	}
	emb := &stubEmbedder{err: fmt.Errorf("%w: connection refused", embedder.ErrUnavailable)}
	e := newTestEngine(t, chunks, emb)

	res, err := e.Search(context.Background(), "rotate credentials", Options{})
	if err != nil {
		t.Fatalf("Search must not fail when embedding is unavailable: %v", err)
	}

	if !res.Degraded {
		t.Error("expected Degraded=true")
	}
	if res.Results[0].Chunk.ID != "c1" {
		t.Errorf("keyword ranking: expected c1 first, got %q", res.Results[0].Chunk.ID)
	}
	for _, r := range res.Results {
		if r.VectorScore != 0 {
			t.Errorf("chunk %s: vector score must be 0 when degraded, got %v", r.Chunk.ID, r.VectorScore)
		}
	}
}

func Test_Engine_TieBreakIsInsertionOrder(t *testing.T) {
	t.Parallel()

	// Identical chunks score identically; insertion order must decide.
	chunks := []corpus.Chunk{
		{ID: "first", Text: "backup policy"},
		{ID: "second", Text: "backup policy"},
		{ID: "third", Text: "backup policy"},
	}
	e := newTestEngine(t, chunks, &stubEmbedder{err: embedder.ErrUnavailable})

	for i := 0; i < 5; i++ {
		res, err := e.Search(context.Background(), "backup", Options{})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		want := []string{"first", "second", "third"}
		for j, id := range want {
			if res.Results[j].Chunk.ID != id {
				t.Fatalf("iteration %d, rank %d: got %q, want %q", i, j, res.Results[j].Chunk.ID, id)
			}
		}
	}
}

func Test_Engine_Pagination(t *testing.T) {
	t.Parallel()

	// Term frequency makes c3 > c2 > c1.
	chunks := []corpus.Chunk{
		{ID: "c1", Text: "backup and other words padding the text out here"},
		{ID: "c2", Text: "backup backup other words padding the text here"},
		{ID: "c3", Text: "backup backup backup words padding the text here"},
	}
	e := newTestEngine(t, chunks, &stubEmbedder{err: embedder.ErrUnavailable})

	res, err := e.Search(context.Background(), "backup", Options{Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if res.Total != 3 {
		t.Errorf("Total: got %d, want 3", res.Total)
	}
	if len(res.Results) != 1 || res.Results[0].Chunk.ID != "c2" {
		t.Errorf("offset 1 limit 1: expected [c2], got %+v", res.Results)
	}
	if res.Offset != 1 || res.Limit != 1 {
		t.Errorf("pagination echo: got offset=%d limit=%d", res.Offset, res.Limit)
	}

	// Offset past the end yields an empty page, not an error.
	res, err = e.Search(context.Background(), "backup", Options{Offset: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) != 0 || res.Total != 3 {
		t.Errorf("offset past end: got %d results, total %d", len(res.Results), res.Total)
	}
}

func Test_Engine_FilterNarrowsResults(t *testing.T) {
	t.Parallel()

	chunks := []corpus.Chunk{
		{ID: "ops", Text: "backup policy", Metadata: corpus.Metadata{PrimaryCategory: "operations"}},
		{ID: "eng", Text: "backup policy", Metadata: corpus.Metadata{PrimaryCategory: "engineering"}},
	}
	e := newTestEngine(t, chunks, &stubEmbedder{err: embedder.ErrUnavailable})

	res, err := e.Search(context.Background(), "backup", Options{
		Filter: Filter{PrimaryCategory: "operations"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if res.Total != 1 || len(res.Results) != 1 || res.Results[0].Chunk.ID != "ops" {
		t.Errorf("filtered: expected only ops, got %+v", res.Results)
	}
}

func Test_Engine_ScoresNormalized(t *testing.T) {
	t.Parallel()

	chunks := []corpus.Chunk{
		{ID: "c1", Text: "rotate leaked credentials now", Embedding: []float32{1, 0}},
		{ID: "c2", Text: "rotate the door handle", Embedding: []float32{0.5, 0.5}},
	}
	e := newTestEngine(t, chunks, &stubEmbedder{vec: []float32{1, 0}})

	res, err := e.Search(context.Background(), "rotate credentials", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	for _, r := range res.Results {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("chunk %s: fused score %v outside [0,1]", r.Chunk.ID, r.Score)
		}
		if r.VectorScore < 0 || r.VectorScore > 1 || r.KeywordScore < 0 || r.KeywordScore > 1 {
			t.Errorf("chunk %s: component scores out of range: %+v", r.Chunk.ID, r)
		}
	}
	// The top-ranked chunk dominates both signals, so its fused score is 1.
	if res.Results[0].Score != 1 {
		t.Errorf("top score: got %v, want 1", res.Results[0].Score)
	}
}

func Test_Engine_DefaultLimit(t *testing.T) {
	t.Parallel()

	var chunks []corpus.Chunk
	for i := 0; i < 15; i++ {
		chunks = append(chunks, corpus.Chunk{ID: fmt.Sprintf("c%d", i), Text: "backup policy"})
	}
	e := newTestEngine(t, chunks, &stubEmbedder{err: embedder.ErrUnavailable})

	res, err := e.Search(context.Background(), "backup", Options{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) != 10 {
		t.Errorf("default limit: got %d results, want 10", len(res.Results))
	}
	if res.Total != 15 {
		t.Errorf("Total: got %d, want 15", res.Total)
	}
}

func Test_NormalizeWeights(t *testing.T) {
	t.Parallel()

	// Defaults apply when both are zero.
	v, k := normalizeWeights(0, 0)
	if v != 0.7 || k != 0.3 {
		t.Errorf("defaults: got %v/%v, want 0.7/0.3", v, k)
	}

	// Caller weights are renormalized to sum to one.
	v, k = normalizeWeights(1, 1)
	if v != 0.5 || k != 0.5 {
		t.Errorf("1/1: got %v/%v, want 0.5/0.5", v, k)
	}

	v, k = normalizeWeights(0.2, 0.6)
	if v+k < 0.999999 || v+k > 1.000001 {
		t.Errorf("0.2/0.6: weights do not sum to 1: %v + %v", v, k)
	}
}

func Test_Normalize(t *testing.T) {
	t.Parallel()

	scores := []float64{2, 1, 0}
	normalize(scores)
	if scores[0] != 1 || scores[1] != 0.5 || scores[2] != 0 {
		t.Errorf("positive scores: got %v", scores)
	}

	// Negative cosine scores clamp to zero and never drag the combined
	// score below the [0,1] range, even when every score is negative.
	scores = []float64{-0.4, -0.9}
	normalize(scores)
	if scores[0] != 0 || scores[1] != 0 {
		t.Errorf("all-negative scores: got %v", scores)
	}

	scores = []float64{-0.5, 0.25, 1}
	normalize(scores)
	if scores[0] != 0 || scores[1] != 0.25 || scores[2] != 1 {
		t.Errorf("mixed scores: got %v", scores)
	}
}
