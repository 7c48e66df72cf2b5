package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/knowos/kbase-go/internal/analyzer"
	"github.com/knowos/kbase-go/internal/corpus"
	"github.com/knowos/kbase-go/internal/embedder"
	"github.com/knowos/kbase-go/internal/logging"
	"github.com/knowos/kbase-go/internal/search"
)

// Pipeline batching bounds. Embedding calls go out in fixed-size batches
// with a bounded number in flight so ingestion never fans out unboundedly
// against an external, rate-limited API; chunk inserts are batched to keep
// store critical sections short.
const (
	defaultEmbedBatchSize   = 50
	defaultEmbedConcurrency = 2
	defaultInsertBatchSize  = 50
	defaultDocumentBatch    = 5
)

// Document lifecycle status values reported in receipts.
const (
	// StatusPending marks a freshly ingested document awaiting review.
	StatusPending = "pending"
	// StatusDuplicate marks an input whose content hash already exists.
	StatusDuplicate = "duplicate"
	// StatusError marks an input that failed to ingest.
	StatusError = "error"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Chunker controls window size and overlap.
	Chunker ChunkerConfig

	// Contextual selects contextual chunking: each chunk's embedding text
	// is prefixed with a document-level header (source and summary) while
	// OriginalText stays undecorated. Recorded in chunk metadata.
	Contextual bool

	// EmbedBatchSize is the number of chunk texts per embedding call
	// (default 50).
	EmbedBatchSize int

	// EmbedConcurrency bounds the number of in-flight embedding calls
	// (default 2).
	EmbedConcurrency int

	// InsertBatchSize is the number of chunks per store insert (default 50).
	InsertBatchSize int

	// DocumentBatchSize is the number of documents processed per batch in
	// IngestAll (default 5).
	DocumentBatchSize int
}

// resolve fills zero config fields with defaults.
func (c *Config) resolve() {
	c.Chunker = c.Chunker.resolve()
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = defaultEmbedBatchSize
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = defaultEmbedConcurrency
	}
	if c.InsertBatchSize <= 0 {
		c.InsertBatchSize = defaultInsertBatchSize
	}
	if c.DocumentBatchSize <= 0 {
		c.DocumentBatchSize = defaultDocumentBatch
	}
}

// Refresher receives a notification after corpus mutations so derived state
// (BM25 statistics) can be recomputed. The search engine implements it.
type Refresher interface {
	// Refresh recomputes derived state from the current corpus.
	Refresh(ctx context.Context) error
}

// Receipt reports the outcome of ingesting one document.
type Receipt struct {
	// DocumentID is the new document's ID.
	DocumentID string `json:"document_id"`

	// Status is StatusPending for a successful ingest.
	Status string `json:"status"`

	// Analysis is the metadata produced by content analysis (defaults when
	// analysis failed).
	Analysis corpus.Metadata `json:"analysis"`

	// ChunkCount is the number of chunks persisted.
	ChunkCount int `json:"chunk_count"`

	// FailedChunks lists the chunk indexes whose embedding failed. The
	// chunks are persisted without a vector — keyword search still covers
	// them — and can be re-embedded via UpdateChunk.
	FailedChunks []int `json:"failed_chunks,omitempty"`
}

// Pipeline orchestrates the hash → analyze → chunk → embed → persist flow
// and the document lifecycle operations. It is safe for concurrent use.
type Pipeline struct {
	// store is the corpus persistence boundary.
	store corpus.Store

	// embed produces chunk embeddings.
	embed embedder.Embedder

	// analyze enriches documents with metadata; failures are non-fatal.
	analyze analyzer.Analyzer

	// index receives embedding write-through for vector scoring backends
	// that hold their own state (Qdrant).
	index search.Index

	// refresher, when non-nil, is notified after every corpus mutation.
	refresher Refresher

	// cfg holds the resolved pipeline configuration.
	cfg Config
}

// NewPipeline constructs a Pipeline from its dependencies. analyze may be
// nil, in which case the heuristic analyzer is used; refresher may be nil.
func NewPipeline(store corpus.Store, embed embedder.Embedder, analyze analyzer.Analyzer, index search.Index, refresher Refresher, cfg Config) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("ingest: store must not be nil")
	}
	if embed == nil {
		return nil, fmt.Errorf("ingest: embedder must not be nil")
	}
	if analyze == nil {
		analyze = analyzer.NewStaticAnalyzer()
	}
	if index == nil {
		index = search.NewExhaustiveIndex()
	}
	cfg.resolve()

	return &Pipeline{
		store:     store,
		embed:     embed,
		analyze:   analyze,
		index:     index,
		refresher: refresher,
		cfg:       cfg,
	}, nil
}

// Ingest runs the full pipeline for one document and returns its receipt.
// The document is persisted pending (approved=false); its chunks become
// searchable only after approval. Duplicate content fails with
// corpus.ErrDuplicateContent before any mutation. If persisting the chunks
// fails the document is removed again, so a transient storage failure never
// blocks re-ingesting the same text.
func (p *Pipeline) Ingest(ctx context.Context, rawText, source string) (*Receipt, error) {
	log := logging.FromContext(ctx)

	if strings.TrimSpace(rawText) == "" {
		return nil, fmt.Errorf("ingest: document text is empty")
	}

	hash := corpus.HashContent(rawText)
	if existing, err := p.store.DocumentByHash(ctx, hash); err == nil {
		return nil, fmt.Errorf("%w: content already ingested from %q", corpus.ErrDuplicateContent, existing.Source)
	} else if !errors.Is(err, corpus.ErrNotFound) {
		return nil, fmt.Errorf("ingest: dedup lookup: %w", err)
	}

	meta := p.runAnalysis(ctx, rawText, source)

	now := time.Now().UTC()
	doc := corpus.Document{
		ID:          uuid.NewString(),
		Source:      source,
		ContentHash: hash,
		Approved:    false,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.store.AddDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("ingest: persist document: %w", err)
	}

	pieces := Chunk(rawText, p.cfg.Chunker)
	chunks, failed := p.embedPieces(ctx, doc, pieces)

	for start := 0; start < len(chunks); start += p.cfg.InsertBatchSize {
		end := start + p.cfg.InsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := p.store.AddChunks(ctx, chunks[start:end]); err != nil {
			// Remove the document (and any chunks already inserted) so its
			// content hash does not block a retry of the same text.
			if delErr := p.store.DeleteDocument(ctx, doc.ID); delErr != nil {
				log.Warn("ingest: could not remove document after chunk persist failure",
					slog.String("document_id", doc.ID),
					slog.Any("error", delErr),
				)
			}
			return nil, fmt.Errorf("ingest: persist chunks: %w", err)
		}
	}

	if err := p.index.Upsert(ctx, chunks); err != nil {
		// The corpus store holds the embeddings; a missed write-through only
		// affects external index backends and is recoverable by re-upserting.
		log.Warn("ingest: vector index upsert failed", slog.Any("error", err))
	}

	p.notifyRefresh(ctx)

	log.Info("ingest: document ingested",
		slog.String("document_id", doc.ID),
		slog.String("source", source),
		slog.Int("chunks", len(chunks)),
		slog.Int("failed_chunks", len(failed)),
	)

	return &Receipt{
		DocumentID:   doc.ID,
		Status:       StatusPending,
		Analysis:     meta,
		ChunkCount:   len(chunks),
		FailedChunks: failed,
	}, nil
}

// runAnalysis invokes the analyzer, falling back to default metadata on
// failure. Analysis is an enrichment, never a precondition.
func (p *Pipeline) runAnalysis(ctx context.Context, rawText, source string) corpus.Metadata {
	log := logging.FromContext(ctx)

	analysis, err := p.analyze.Analyze(ctx, rawText, source)
	if err != nil {
		log.Warn("ingest: content analysis failed, using default metadata",
			slog.String("source", source),
			slog.Any("error", err),
		)
		return corpus.Metadata{}
	}
	return corpus.Metadata{
		Summary:             analysis.Summary,
		PrimaryCategory:     analysis.PrimaryCategory,
		SecondaryCategories: analysis.SecondaryCategories,
		Keywords:            analysis.Keywords,
		TechnicalLevel:      analysis.TechnicalLevel,
		Entities:            analysis.Entities,
		QualityFlags:        analysis.QualityFlags,
		ConfidenceScore:     analysis.ConfidenceScore,
	}
}

// embedPieces embeds the pieces in fixed-size batches with a bounded number
// of in-flight calls and assembles the chunk records. A failed batch marks
// its chunk indexes as failed and moves on — the chunks are persisted
// without vectors so the rest of the document is not lost.
func (p *Pipeline) embedPieces(ctx context.Context, doc corpus.Document, pieces []Piece) ([]corpus.Chunk, []int) {
	strategy := corpus.StrategyPlain
	header := ""
	if p.cfg.Contextual {
		strategy = corpus.StrategyContextual
		header = contextHeader(doc)
	}

	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = header + piece.Text
	}

	embeddings := make([][]float32, len(pieces))
	var mu sync.Mutex
	var failed []int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EmbedConcurrency)

	for start := 0; start < len(texts); start += p.cfg.EmbedBatchSize {
		end := start + p.cfg.EmbedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end

		g.Go(func() error {
			vectors, err := p.embed.Embed(gctx, texts[start:end])
			if err != nil {
				logging.FromContext(ctx).Warn("ingest: embedding batch failed",
					slog.Int("from", start),
					slog.Int("to", end),
					slog.Any("error", err),
				)
				mu.Lock()
				for i := start; i < end; i++ {
					failed = append(failed, i)
				}
				mu.Unlock()
				return nil // partial failure does not abort the group
			}
			copy(embeddings[start:end], vectors)
			return nil
		})
	}
	_ = g.Wait() // workers report failures via the failed slice, never errors

	sort.Ints(failed)

	now := time.Now().UTC()
	chunks := make([]corpus.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		meta := doc.Metadata.Clone()
		meta.ChunkStrategy = strategy
		chunks = append(chunks, corpus.Chunk{
			ID:           uuid.NewString(),
			DocumentID:   doc.ID,
			Index:        piece.Index,
			Text:         texts[i],
			OriginalText: piece.OriginalText,
			Embedding:    embeddings[i],
			Metadata:     meta,
			CreatedAt:    now,
		})
	}
	return chunks, failed
}

// contextHeader builds the document-level prefix used by contextual
// chunking. It is prepended to the embedding text only.
func contextHeader(doc corpus.Document) string {
	var b strings.Builder
	b.WriteString("Document: ")
	b.WriteString(doc.Source)
	b.WriteString("\n")
	if doc.Metadata.Summary != "" {
		b.WriteString("Summary: ")
		b.WriteString(doc.Metadata.Summary)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

// notifyRefresh tells the refresher the corpus changed. Refresh failures
// are logged, not propagated — stale statistics degrade ranking, they do
// not break it.
func (p *Pipeline) notifyRefresh(ctx context.Context) {
	if p.refresher == nil {
		return
	}
	if err := p.refresher.Refresh(ctx); err != nil {
		logging.FromContext(ctx).Warn("ingest: statistics refresh failed", slog.Any("error", err))
	}
}
