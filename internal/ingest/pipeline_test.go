package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/knowos/kbase-go/internal/analyzer"
	"github.com/knowos/kbase-go/internal/corpus"
	"github.com/knowos/kbase-go/internal/corpus/filestore"
)

// countingEmbedder returns a fixed vector for every text and can be told to
// fail its first N calls, which simulates a flaky embedding backend.
type countingEmbedder struct {
	mu        sync.Mutex
	vec       []float32
	failFirst int
	calls     int
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	fail := e.calls <= e.failFirst
	e.mu.Unlock()

	if fail {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = e.vec
	}
	return out, nil
}

// failingAnalyzer always fails, to exercise the analysis fallback.
type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(_ context.Context, _, _ string) (*analyzer.Analysis, error) {
	return nil, errors.New("model unreachable")
}

// countingRefresher records how often derived state was refreshed.
type countingRefresher struct {
	mu    sync.Mutex
	count int
}

func (r *countingRefresher) Refresh(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	return nil
}

func (r *countingRefresher) refreshes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// newTestPipeline builds a pipeline over a real file store in a temp dir,
// with small chunks so modest texts split into several pieces.
func newTestPipeline(t *testing.T, emb *countingEmbedder, cfg Config) (*Pipeline, corpus.Store, *countingRefresher) {
	t.Helper()

	store, err := filestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker = ChunkerConfig{ChunkSize: 10, ChunkOverlap: -1}
	}

	refresher := &countingRefresher{}
	p, err := NewPipeline(store, emb, failingAnalyzer{}, nil, refresher, cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p, store, refresher
}

// flakyChunkStore fails the first N AddChunks calls, simulating a transient
// storage failure mid-ingest.
type flakyChunkStore struct {
	corpus.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyChunkStore) AddChunks(ctx context.Context, chunks []corpus.Chunk) error {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	if fail {
		return errors.New("disk full")
	}
	return s.Store.AddChunks(ctx, chunks)
}

func Test_Pipeline_ChunkPersistFailureUnblocksRetry(t *testing.T) {
	t.Parallel()

	inner, err := filestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.Open: %v", err)
	}
	t.Cleanup(func() { inner.Close() })
	store := &flakyChunkStore{Store: inner, failures: 1}

	emb := &countingEmbedder{vec: []float32{0.1, 0.2}}
	p, err := NewPipeline(store, emb, failingAnalyzer{}, nil, nil, Config{
		Chunker: ChunkerConfig{ChunkSize: 10, ChunkOverlap: -1},
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	ctx := context.Background()

	text := strings.Repeat("The failover procedure is rehearsed every quarter. ", 10)
	if _, err := p.Ingest(ctx, text, "failover.md"); err == nil {
		t.Fatal("expected the first ingest to fail")
	}

	// The failed ingest must not strand a half-persisted document behind the
	// dedup check: the corpus is empty and the same text ingests cleanly.
	if docs, _ := inner.Documents(ctx); len(docs) != 0 {
		t.Fatalf("failed ingest left %d documents", len(docs))
	}

	receipt, err := p.Ingest(ctx, text, "failover.md")
	if err != nil {
		t.Fatalf("retry after storage failure: %v", err)
	}
	if receipt.Status != StatusPending || receipt.ChunkCount < 2 {
		t.Errorf("retry receipt: %+v", receipt)
	}
	if all, _ := inner.AllChunks(ctx); len(all) != receipt.ChunkCount {
		t.Errorf("chunks persisted: %d, want %d", len(all), receipt.ChunkCount)
	}
}

func Test_Pipeline_IngestPersistsPending(t *testing.T) {
	t.Parallel()

	emb := &countingEmbedder{vec: []float32{0.1, 0.2}}
	p, store, refresher := newTestPipeline(t, emb, Config{})
	ctx := context.Background()

	text := strings.Repeat("The incident response runbook covers rotation. ", 10)
	receipt, err := p.Ingest(ctx, text, "runbook.md")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if receipt.Status != StatusPending {
		t.Errorf("Status: got %q, want %q", receipt.Status, StatusPending)
	}
	if receipt.ChunkCount < 2 {
		t.Errorf("expected several chunks, got %d", receipt.ChunkCount)
	}
	if len(receipt.FailedChunks) != 0 {
		t.Errorf("expected no failed chunks, got %v", receipt.FailedChunks)
	}

	doc, err := store.Document(ctx, receipt.DocumentID)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if doc.Approved {
		t.Error("freshly ingested document must be pending")
	}
	if doc.ContentHash != corpus.HashContent(text) {
		t.Error("content hash not recorded")
	}

	chunks, err := store.ChunksByDocument(ctx, receipt.DocumentID)
	if err != nil {
		t.Fatalf("ChunksByDocument: %v", err)
	}
	if len(chunks) != receipt.ChunkCount {
		t.Errorf("persisted %d chunks, receipt says %d", len(chunks), receipt.ChunkCount)
	}
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			t.Errorf("chunk %d: missing embedding", c.Index)
		}
		if c.Metadata.ChunkStrategy != corpus.StrategyPlain {
			t.Errorf("chunk %d: strategy %q, want plain", c.Index, c.Metadata.ChunkStrategy)
		}
	}

	// Pending documents are invisible to search until approved.
	searchable, err := store.SearchableChunks(ctx)
	if err != nil {
		t.Fatalf("SearchableChunks: %v", err)
	}
	if len(searchable) != 0 {
		t.Errorf("pending chunks leaked into search: %d", len(searchable))
	}

	if refresher.refreshes() == 0 {
		t.Error("ingest must notify the refresher")
	}
}

func Test_Pipeline_EmptyTextRejected(t *testing.T) {
	t.Parallel()

	emb := &countingEmbedder{vec: []float32{0.1}}
	p, _, _ := newTestPipeline(t, emb, Config{})

	if _, err := p.Ingest(context.Background(), "   \n", "empty.md"); err == nil {
		t.Error("expected error for empty text")
	}
}

func Test_Pipeline_DuplicateContent(t *testing.T) {
	t.Parallel()

	emb := &countingEmbedder{vec: []float32{0.1}}
	p, _, _ := newTestPipeline(t, emb, Config{})
	ctx := context.Background()

	text := "Quarterly planning documents live in the shared operations space."
	if _, err := p.Ingest(ctx, text, "first.md"); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	_, err := p.Ingest(ctx, text, "second.md")
	if !errors.Is(err, corpus.ErrDuplicateContent) {
		t.Fatalf("expected ErrDuplicateContent, got %v", err)
	}
	// The error names the original source so the caller can find it.
	if !strings.Contains(err.Error(), "first.md") {
		t.Errorf("duplicate error should name the original source: %v", err)
	}
}

func Test_Pipeline_IngestAllPerItemOutcomes(t *testing.T) {
	t.Parallel()

	emb := &countingEmbedder{vec: []float32{0.1}}
	p, _, _ := newTestPipeline(t, emb, Config{DocumentBatchSize: 2})
	ctx := context.Background()

	inputs := []Input{
		{Text: "The backup policy requires nightly snapshots.", Source: "a.md"},
		{Text: "The backup policy requires nightly snapshots.", Source: "b.md"}, // duplicate of a.md
		{Text: "  ", Source: "c.md"}, // empty
		{Text: "TLS certificates rotate every ninety days.", Source: "d.md"},
	}

	items := p.IngestAll(ctx, inputs)
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}

	want := []string{StatusPending, StatusDuplicate, StatusError, StatusPending}
	for i, item := range items {
		if item.Status != want[i] {
			t.Errorf("item %d (%s): status %q, want %q", i, item.Source, item.Status, want[i])
		}
	}
	if items[0].Receipt == nil || items[3].Receipt == nil {
		t.Error("successful items must carry receipts")
	}
	if items[1].Error == "" || items[2].Error == "" {
		t.Error("failed items must carry error messages")
	}
}

func Test_Pipeline_AnalysisFailureTolerated(t *testing.T) {
	t.Parallel()

	// newTestPipeline wires failingAnalyzer; ingest must still succeed with
	// default metadata.
	emb := &countingEmbedder{vec: []float32{0.1}}
	p, store, _ := newTestPipeline(t, emb, Config{})
	ctx := context.Background()

	receipt, err := p.Ingest(ctx, "Escalation paths are documented per service.", "esc.md")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	doc, err := store.Document(ctx, receipt.DocumentID)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if doc.Metadata.Summary != "" || doc.Metadata.PrimaryCategory != "" {
		t.Errorf("expected default metadata after analysis failure, got %+v", doc.Metadata)
	}
}

func Test_Pipeline_PartialEmbedFailure(t *testing.T) {
	t.Parallel()

	// First embedding call fails; with batch size 2 and serial execution the
	// first two chunks are persisted without vectors.
	emb := &countingEmbedder{vec: []float32{0.1, 0.2}, failFirst: 1}
	p, store, _ := newTestPipeline(t, emb, Config{
		EmbedBatchSize:   2,
		EmbedConcurrency: 1,
	})
	ctx := context.Background()

	text := strings.Repeat("Rotate credentials after every incident review. ", 10)
	receipt, err := p.Ingest(ctx, text, "partial.md")
	if err != nil {
		t.Fatalf("Ingest must survive a failed batch: %v", err)
	}

	if len(receipt.FailedChunks) != 2 {
		t.Fatalf("FailedChunks: got %v, want the first batch's two indexes", receipt.FailedChunks)
	}
	if receipt.FailedChunks[0] != 0 || receipt.FailedChunks[1] != 1 {
		t.Errorf("FailedChunks: got %v, want [0 1]", receipt.FailedChunks)
	}

	chunks, err := store.ChunksByDocument(ctx, receipt.DocumentID)
	if err != nil {
		t.Fatalf("ChunksByDocument: %v", err)
	}
	for _, c := range chunks {
		failed := c.Index == 0 || c.Index == 1
		if failed && len(c.Embedding) != 0 {
			t.Errorf("chunk %d: expected no embedding", c.Index)
		}
		if !failed && len(c.Embedding) == 0 {
			t.Errorf("chunk %d: expected an embedding", c.Index)
		}
	}

	// The backend is healthy again; the rebuild heals the failed chunks.
	healed, err := p.ReembedFailed(ctx)
	if err != nil {
		t.Fatalf("ReembedFailed: %v", err)
	}
	if healed != 2 {
		t.Errorf("healed: got %d, want 2", healed)
	}

	chunks, _ = store.ChunksByDocument(ctx, receipt.DocumentID)
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			t.Errorf("chunk %d: still unembedded after heal", c.Index)
		}
	}
}

func Test_Pipeline_ContextualChunking(t *testing.T) {
	t.Parallel()

	emb := &countingEmbedder{vec: []float32{0.1}}
	p, store, _ := newTestPipeline(t, emb, Config{Contextual: true})
	ctx := context.Background()

	text := strings.Repeat("Deployment verification steps for the gateway. ", 10)
	receipt, err := p.Ingest(ctx, text, "deploy.md")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	chunks, err := store.ChunksByDocument(ctx, receipt.DocumentID)
	if err != nil {
		t.Fatalf("ChunksByDocument: %v", err)
	}

	var rebuilt strings.Builder
	for _, c := range chunks {
		if !strings.HasPrefix(c.Text, "Document: deploy.md\n") {
			t.Errorf("chunk %d: embedding text missing context header: %q", c.Index, c.Text[:40])
		}
		if strings.HasPrefix(c.OriginalText, "Document:") {
			t.Errorf("chunk %d: header leaked into OriginalText", c.Index)
		}
		if c.Metadata.ChunkStrategy != corpus.StrategyContextual {
			t.Errorf("chunk %d: strategy %q, want contextual", c.Index, c.Metadata.ChunkStrategy)
		}
		rebuilt.WriteString(c.OriginalText)
	}

	// The header decorates embedding text only; the document still
	// reconstructs from OriginalText.
	if rebuilt.String() != text {
		t.Error("OriginalText no longer reconstructs the document")
	}
}

func Test_Pipeline_ApproveRejectLifecycle(t *testing.T) {
	t.Parallel()

	emb := &countingEmbedder{vec: []float32{0.1}}
	p, store, _ := newTestPipeline(t, emb, Config{})
	ctx := context.Background()

	receipt, err := p.Ingest(ctx, "Runbooks are reviewed before publication.", "r.md")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	items := p.Approve(ctx, []string{receipt.DocumentID, "no-such-id"}, "verified")
	if len(items) != 2 {
		t.Fatalf("expected 2 review items, got %d", len(items))
	}
	if !items[0].OK {
		t.Errorf("known document: expected OK, got %+v", items[0])
	}
	if items[1].OK || items[1].Error == "" {
		t.Errorf("unknown document: expected per-item error, got %+v", items[1])
	}

	searchable, _ := store.SearchableChunks(ctx)
	if len(searchable) == 0 {
		t.Fatal("approved chunks must be searchable")
	}

	doc, _ := store.Document(ctx, receipt.DocumentID)
	if doc.ReviewComments != "verified" {
		t.Errorf("ReviewComments: got %q", doc.ReviewComments)
	}

	// Rejection is a reversible soft-exclusion: chunks leave search but stay
	// in the store.
	p.Reject(ctx, []string{receipt.DocumentID}, "needs another pass")

	searchable, _ = store.SearchableChunks(ctx)
	if len(searchable) != 0 {
		t.Error("rejected chunks must leave search")
	}
	all, _ := store.AllChunks(ctx)
	if len(all) == 0 {
		t.Error("rejection must not delete chunks")
	}

	p.Approve(ctx, []string{receipt.DocumentID}, "")
	searchable, _ = store.SearchableChunks(ctx)
	if len(searchable) == 0 {
		t.Error("re-approval must restore searchability")
	}
}

func Test_Pipeline_UpdateChunk(t *testing.T) {
	t.Parallel()

	emb := &countingEmbedder{vec: []float32{0.1, 0.2}}
	p, store, _ := newTestPipeline(t, emb, Config{})
	ctx := context.Background()

	receipt, err := p.Ingest(ctx, "The original chunk text before editing.", "u.md")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	chunks, _ := store.ChunksByDocument(ctx, receipt.DocumentID)
	id := chunks[0].ID

	// Without regeneration the stale vector is cleared, never kept.
	updated, err := p.UpdateChunk(ctx, id, "corrected text", false)
	if err != nil {
		t.Fatalf("UpdateChunk: %v", err)
	}
	if updated.OriginalText != "corrected text" {
		t.Errorf("OriginalText: got %q", updated.OriginalText)
	}
	if len(updated.Embedding) != 0 {
		t.Error("embedding must be cleared when not regenerating")
	}

	stored, _ := store.Chunk(ctx, id)
	if len(stored.Embedding) != 0 {
		t.Error("stored chunk kept a stale vector")
	}

	// With regeneration text and vector are swapped together.
	updated, err = p.UpdateChunk(ctx, id, "corrected again", true)
	if err != nil {
		t.Fatalf("UpdateChunk regenerate: %v", err)
	}
	if len(updated.Embedding) == 0 {
		t.Error("expected a fresh embedding")
	}

	if _, err := p.UpdateChunk(ctx, "no-such-chunk", "text", false); !errors.Is(err, corpus.ErrNotFound) {
		t.Errorf("unknown chunk: expected ErrNotFound, got %v", err)
	}
}

func Test_Pipeline_DeleteDocument(t *testing.T) {
	t.Parallel()

	emb := &countingEmbedder{vec: []float32{0.1}}
	p, store, _ := newTestPipeline(t, emb, Config{})
	ctx := context.Background()

	receipt, err := p.Ingest(ctx, strings.Repeat("Text to delete shortly. ", 10), "del.md")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if err := p.DeleteDocument(ctx, receipt.DocumentID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	if _, err := store.Document(ctx, receipt.DocumentID); !errors.Is(err, corpus.ErrNotFound) {
		t.Errorf("document still present: %v", err)
	}
	all, _ := store.AllChunks(ctx)
	if len(all) != 0 {
		t.Errorf("delete must cascade to chunks, %d left", len(all))
	}
}
