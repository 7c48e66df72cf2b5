package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/knowos/kbase-go/internal/corpus"
	"github.com/knowos/kbase-go/internal/embedder"
	"github.com/knowos/kbase-go/internal/logging"
)

// ErrInvalidQuery is returned for queries that are empty after trimming.
// It is the only condition under which Search fails outright — every other
// failure degrades to a keyword-only result list.
var ErrInvalidQuery = errors.New("search: invalid query")

// Default fusion weights when the caller supplies none. They need not sum
// to one — the engine normalizes — but these do for readability.
const (
	defaultVectorWeight  = 0.7
	defaultKeywordWeight = 0.3
)

// defaultLimit caps the result list when the caller passes no limit.
const defaultLimit = 10

// defaultEmbedTimeout bounds the query-embedding call. When it expires the
// engine falls back to keyword-only scoring instead of blocking the request.
const defaultEmbedTimeout = 10 * time.Second

// Options control a single hybrid search request.
type Options struct {
	// Limit caps the number of returned results (default 10).
	Limit int

	// Offset skips that many ranked results before the limit window,
	// for pagination.
	Offset int

	// VectorWeight weights the normalized cosine signal, in [0,1].
	VectorWeight float64

	// KeywordWeight weights the normalized BM25 signal, in [0,1].
	// When both weights are zero the engine uses its defaults (0.7/0.3);
	// otherwise they are renormalized to sum to one.
	KeywordWeight float64

	// Filter narrows results by chunk metadata after scoring.
	Filter Filter

	// EmbedTimeout bounds the query-embedding call (default 10s).
	EmbedTimeout time.Duration
}

// Result is one ranked chunk with its component scores exposed for
// debugging and re-ranking callers.
type Result struct {
	// Chunk is the matched chunk.
	Chunk corpus.Chunk `json:"chunk"`

	// Score is the combined, weight-fused score used for ranking.
	Score float64 `json:"score"`

	// VectorScore is the normalized cosine component (0 when degraded).
	VectorScore float64 `json:"vector_score"`

	// KeywordScore is the normalized BM25 component.
	KeywordScore float64 `json:"keyword_score"`
}

// Results is a ranked, paginated result set.
type Results struct {
	// Results is the ranked page of chunks.
	Results []Result `json:"results"`

	// Total is the number of chunks that matched the filter, before
	// pagination.
	Total int `json:"total"`

	// Limit and Offset echo the pagination window that produced Results.
	Limit  int `json:"limit"`
	Offset int `json:"offset"`

	// Degraded is true when vector scoring was unavailable and the ranking
	// is keyword-only. Callers can surface this to users.
	Degraded bool `json:"degraded"`
}

// Engine fuses BM25 keyword scores and cosine vector similarity into one
// deterministic ranking over the searchable corpus. It reads candidates
// exclusively through Store.SearchableChunks, so approval gating is enforced
// at the read boundary rather than re-checked per result.
//
// Fallback policy: if the query embedding cannot be produced — service down,
// timeout, misconfiguration — the engine degrades to BM25-only scoring and
// flags the result set as Degraded. Search never fails for dependency
// reasons; only ErrInvalidQuery aborts a request.
type Engine struct {
	// store is the corpus read boundary.
	store corpus.Store

	// embed produces the query embedding.
	embed embedder.Embedder

	// index scores candidates against the query embedding.
	index Index

	// mu guards stats. Statistics are rebuilt wholesale by Refresh and
	// swapped under the write lock; searches read them under the read lock,
	// so a concurrent rebuild only ever makes scores slightly stale.
	mu    sync.RWMutex
	stats *Statistics

	// metrics holds the engine's Prometheus instruments.
	metrics *engineMetrics
}

// NewEngine constructs an Engine from its dependencies. The registry
// receives the engine's Prometheus metrics; pass a fresh registry in tests.
func NewEngine(store corpus.Store, embed embedder.Embedder, index Index, reg prometheus.Registerer) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("search: store must not be nil")
	}
	if embed == nil {
		return nil, fmt.Errorf("search: embedder must not be nil")
	}
	if index == nil {
		index = NewExhaustiveIndex()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Engine{
		store:   store,
		embed:   embed,
		index:   index,
		stats:   &Statistics{DocumentFrequency: map[string]int{}},
		metrics: newEngineMetrics(reg),
	}, nil
}

// Refresh recomputes BM25 corpus statistics from the current searchable
// chunk set. Call it after ingestion, approval, or structural mutations.
// It may run concurrently with searches; until it completes, searches use
// the previous statistics.
func (e *Engine) Refresh(ctx context.Context) error {
	chunks, err := e.store.SearchableChunks(ctx)
	if err != nil {
		return fmt.Errorf("search: refresh statistics: %w", err)
	}

	stats := BuildStatistics(chunks)

	e.mu.Lock()
	e.stats = stats
	e.mu.Unlock()

	e.metrics.indexedChunks.Set(float64(stats.TotalDocuments))
	return nil
}

// statistics returns the current statistics snapshot.
func (e *Engine) statistics() *Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// Search runs a hybrid query and returns a ranked, filtered, paginated
// result set. Result order is deterministic for identical corpus, query,
// and weights: ties are broken by chunk insertion order.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Results, error) {
	start := time.Now()
	log := logging.FromContext(ctx)

	query = strings.TrimSpace(query)
	if query == "" {
		e.metrics.observe("invalid", time.Since(start))
		return nil, ErrInvalidQuery
	}
	if err := validateOptions(&opts); err != nil {
		e.metrics.observe("invalid", time.Since(start))
		return nil, err
	}
	vectorWeight, keywordWeight := normalizeWeights(opts.VectorWeight, opts.KeywordWeight)

	candidates, err := e.store.SearchableChunks(ctx)
	if err != nil {
		e.metrics.observe("error", time.Since(start))
		return nil, fmt.Errorf("search: read corpus: %w", err)
	}

	// Keyword scores are always computed: they are the fallback ranking
	// when vector scoring is unavailable.
	queryTerms := Tokenize(query)
	stats := e.statistics()
	keywordScores := make([]float64, len(candidates))
	for i, c := range candidates {
		keywordScores[i] = stats.ScoreBM25(queryTerms, c.Text)
	}

	vectorScores, degraded := e.vectorScores(ctx, query, candidates, vectorWeight, opts.EmbedTimeout)
	if degraded {
		// Named fallback policy: keyword-only ranking instead of an error.
		vectorWeight, keywordWeight = 0, 1
		log.Warn("search: vector scoring unavailable, degrading to keyword-only",
			slog.String("query", query),
		)
	}

	normalize(keywordScores)
	normalize(vectorScores)

	ranked := make([]Result, 0, len(candidates))
	for i, c := range candidates {
		if !opts.Filter.Matches(c) {
			continue
		}
		ranked = append(ranked, Result{
			Chunk:        c,
			Score:        vectorWeight*vectorScores[i] + keywordWeight*keywordScores[i],
			VectorScore:  vectorScores[i],
			KeywordScore: keywordScores[i],
		})
	}

	// Stable sort keeps insertion order for equal scores, which makes the
	// ranking reproducible across identical requests.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	total := len(ranked)
	page := paginate(ranked, opts.Offset, opts.Limit)

	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	e.metrics.observe(outcome, time.Since(start))

	return &Results{
		Results:  page,
		Total:    total,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
		Degraded: degraded,
	}, nil
}

// vectorScores embeds the query under a timeout and asks the index for
// similarity scores. Any failure — embedding, timeout, index — returns a
// zero score slice and degraded=true rather than an error. Chunks the index
// has no information for keep a zero score.
func (e *Engine) vectorScores(ctx context.Context, query string, candidates []corpus.Chunk, vectorWeight float64, timeout time.Duration) ([]float64, bool) {
	scores := make([]float64, len(candidates))
	if vectorWeight == 0 || len(candidates) == 0 {
		return scores, false
	}

	log := logging.FromContext(ctx)

	embedCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	queryEmbedding, err := embedder.EmbedText(embedCtx, e.embed, query)
	if err != nil {
		if !errors.Is(err, embedder.ErrUnavailable) {
			log.Error("search: query embedding failed", slog.Any("error", err))
		}
		return scores, true
	}

	byID, err := e.index.Score(ctx, queryEmbedding, candidates)
	if err != nil {
		log.Error("search: vector index scoring failed", slog.Any("error", err))
		return scores, true
	}

	for i, c := range candidates {
		if s, ok := byID[c.ID]; ok {
			scores[i] = s
		}
	}
	return scores, false
}

// validateOptions fills defaults and rejects out-of-range weights.
func validateOptions(opts *Options) error {
	if opts.Limit < 0 || opts.Offset < 0 {
		return fmt.Errorf("search: limit and offset must be non-negative")
	}
	if opts.Limit == 0 {
		opts.Limit = defaultLimit
	}
	if opts.VectorWeight < 0 || opts.VectorWeight > 1 ||
		opts.KeywordWeight < 0 || opts.KeywordWeight > 1 {
		return fmt.Errorf("search: weights must be in [0,1]")
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = defaultEmbedTimeout
	}
	return nil
}

// normalizeWeights maps caller weights onto a pair summing to one,
// substituting the defaults when both are zero.
func normalizeWeights(vector, keyword float64) (float64, float64) {
	if vector == 0 && keyword == 0 {
		vector, keyword = defaultVectorWeight, defaultKeywordWeight
	}
	sum := vector + keyword
	return vector / sum, keyword / sum
}

// normalize scales scores into [0,1]: negatives (opposing cosine vectors)
// clamp to zero, the rest divide by the maximum. Raw BM25 and cosine values
// are not on comparable scales; combining them without normalization would
// let one signal silently dominate.
func normalize(scores []float64) {
	max := 0.0
	for i, s := range scores {
		if s < 0 {
			scores[i] = 0
			continue
		}
		if s > max {
			max = s
		}
	}
	if max == 0 {
		return
	}
	for i := range scores {
		scores[i] /= max
	}
}

// paginate returns the [offset, offset+limit) window of ranked results.
func paginate(ranked []Result, offset, limit int) []Result {
	if offset >= len(ranked) {
		return []Result{}
	}
	end := offset + limit
	if end > len(ranked) {
		end = len(ranked)
	}
	return ranked[offset:end]
}
