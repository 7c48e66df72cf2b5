package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/knowos/kbase-go/internal/corpus"
	"github.com/knowos/kbase-go/internal/embedder"
	"github.com/knowos/kbase-go/internal/logging"
)

// Input is one document handed to IngestAll.
type Input struct {
	// Text is the raw document text.
	Text string `json:"text"`

	// Source is the provenance handle (URL, file path, upload name).
	Source string `json:"source"`
}

// BatchItem reports the outcome of one input in a batch ingest. Exactly one
// of Receipt and Error is meaningful: Receipt for pending, Error otherwise.
type BatchItem struct {
	// Source echoes the input's provenance handle.
	Source string `json:"source"`

	// Status is StatusPending, StatusDuplicate, or StatusError.
	Status string `json:"status"`

	// Receipt is the ingest receipt for successful items.
	Receipt *Receipt `json:"receipt,omitempty"`

	// Error is the failure message for duplicate and error items.
	Error string `json:"error,omitempty"`
}

// IngestAll ingests the inputs in fixed-size batches and reports a per-item
// outcome. Duplicates and failures never abort the batch; the caller gets
// one BatchItem per input, in input order.
func (p *Pipeline) IngestAll(ctx context.Context, inputs []Input) []BatchItem {
	log := logging.FromContext(ctx)
	items := make([]BatchItem, 0, len(inputs))

	for start := 0; start < len(inputs); start += p.cfg.DocumentBatchSize {
		end := start + p.cfg.DocumentBatchSize
		if end > len(inputs) {
			end = len(inputs)
		}

		for _, in := range inputs[start:end] {
			receipt, err := p.Ingest(ctx, in.Text, in.Source)
			switch {
			case err == nil:
				items = append(items, BatchItem{Source: in.Source, Status: StatusPending, Receipt: receipt})
			case errors.Is(err, corpus.ErrDuplicateContent):
				items = append(items, BatchItem{Source: in.Source, Status: StatusDuplicate, Error: err.Error()})
			default:
				items = append(items, BatchItem{Source: in.Source, Status: StatusError, Error: err.Error()})
			}
		}

		log.Debug("ingest: batch complete",
			slog.Int("from", start),
			slog.Int("to", end),
			slog.Int("total", len(inputs)),
		)
	}

	return items
}

// ReviewItem reports the outcome of one document in a batch approve/reject.
type ReviewItem struct {
	// DocumentID identifies the reviewed document.
	DocumentID string `json:"document_id"`

	// OK is true when the review was applied.
	OK bool `json:"ok"`

	// Error is the failure message when OK is false.
	Error string `json:"error,omitempty"`
}

// Approve marks the documents as approved, making their chunks searchable.
// Each document is reviewed independently; an unknown ID fails that item
// only. Statistics are refreshed once at the end.
func (p *Pipeline) Approve(ctx context.Context, ids []string, comments string) []ReviewItem {
	return p.review(ctx, ids, true, comments)
}

// Reject marks the documents as not approved, excluding their chunks from
// search while preserving the documents and chunks themselves. Rejection is
// reversible: a later Approve restores searchability.
func (p *Pipeline) Reject(ctx context.Context, ids []string, comments string) []ReviewItem {
	return p.review(ctx, ids, false, comments)
}

func (p *Pipeline) review(ctx context.Context, ids []string, approved bool, comments string) []ReviewItem {
	log := logging.FromContext(ctx)
	items := make([]ReviewItem, 0, len(ids))

	changed := false
	for _, id := range ids {
		if err := p.store.SetApproved(ctx, id, approved, comments); err != nil {
			items = append(items, ReviewItem{DocumentID: id, Error: err.Error()})
			continue
		}
		changed = true
		items = append(items, ReviewItem{DocumentID: id, OK: true})
	}

	if changed {
		p.notifyRefresh(ctx)
	}

	log.Info("ingest: review applied",
		slog.Bool("approved", approved),
		slog.Int("requested", len(ids)),
		slog.Int("applied", countOK(items)),
	)
	return items
}

func countOK(items []ReviewItem) int {
	n := 0
	for _, it := range items {
		if it.OK {
			n++
		}
	}
	return n
}

// UpdateChunk replaces a chunk's text. With regenerate true the new text is
// re-embedded (contextual prefix rebuilt from the owning document) and text
// and vector are swapped together; with regenerate false the stale vector is
// cleared rather than left paired with text it was not computed from, so the
// chunk falls back to keyword-only scoring until re-embedded.
func (p *Pipeline) UpdateChunk(ctx context.Context, chunkID, newText string, regenerate bool) (corpus.Chunk, error) {
	if chunkID == "" {
		return corpus.Chunk{}, fmt.Errorf("ingest: chunk id is empty")
	}
	if newText == "" {
		return corpus.Chunk{}, fmt.Errorf("ingest: chunk text is empty")
	}

	chunk, err := p.store.Chunk(ctx, chunkID)
	if err != nil {
		return corpus.Chunk{}, fmt.Errorf("ingest: load chunk: %w", err)
	}

	embedText := newText
	if chunk.Metadata.ChunkStrategy == corpus.StrategyContextual {
		doc, err := p.store.Document(ctx, chunk.DocumentID)
		if err != nil {
			return corpus.Chunk{}, fmt.Errorf("ingest: load parent document: %w", err)
		}
		embedText = contextHeader(doc) + newText
	}

	chunk.Text = embedText
	chunk.OriginalText = newText
	chunk.Embedding = nil

	if regenerate {
		vector, err := embedder.EmbedText(ctx, p.embed, embedText)
		if err != nil {
			return corpus.Chunk{}, fmt.Errorf("ingest: re-embed chunk: %w", err)
		}
		chunk.Embedding = vector
	}

	if err := p.store.UpdateChunk(ctx, chunk); err != nil {
		return corpus.Chunk{}, fmt.Errorf("ingest: persist chunk: %w", err)
	}

	if len(chunk.Embedding) > 0 {
		if err := p.index.Upsert(ctx, []corpus.Chunk{chunk}); err != nil {
			logging.FromContext(ctx).Warn("ingest: vector index upsert failed", slog.Any("error", err))
		}
	} else if err := p.index.Delete(ctx, []string{chunk.ID}); err != nil {
		logging.FromContext(ctx).Warn("ingest: vector index delete failed", slog.Any("error", err))
	}

	p.notifyRefresh(ctx)
	return chunk, nil
}

// DeleteDocument removes a document and all its chunks.
func (p *Pipeline) DeleteDocument(ctx context.Context, id string) error {
	chunks, err := p.store.ChunksByDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("ingest: load chunks: %w", err)
	}

	if err := p.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("ingest: delete document: %w", err)
	}

	if len(chunks) > 0 {
		ids := make([]string, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
		}
		if err := p.index.Delete(ctx, ids); err != nil {
			logging.FromContext(ctx).Warn("ingest: vector index delete failed", slog.Any("error", err))
		}
	}

	p.notifyRefresh(ctx)
	return nil
}

// DeleteChunk removes a single chunk.
func (p *Pipeline) DeleteChunk(ctx context.Context, id string) error {
	if err := p.store.DeleteChunk(ctx, id); err != nil {
		return fmt.Errorf("ingest: delete chunk: %w", err)
	}
	if err := p.index.Delete(ctx, []string{id}); err != nil {
		logging.FromContext(ctx).Warn("ingest: vector index delete failed", slog.Any("error", err))
	}
	p.notifyRefresh(ctx)
	return nil
}

// ReembedFailed finds chunks persisted without an embedding and retries them.
// It returns how many chunks were successfully re-embedded. Used by the
// statistics-rebuild admin operation to heal partially embedded documents.
func (p *Pipeline) ReembedFailed(ctx context.Context) (int, error) {
	chunks, err := p.store.AllChunks(ctx)
	if err != nil {
		return 0, fmt.Errorf("ingest: load chunks: %w", err)
	}

	healed := 0
	for _, chunk := range chunks {
		if len(chunk.Embedding) > 0 {
			continue
		}
		vector, err := embedder.EmbedText(ctx, p.embed, chunk.Text)
		if err != nil {
			logging.FromContext(ctx).Warn("ingest: re-embed failed",
				slog.String("chunk_id", chunk.ID),
				slog.Any("error", err),
			)
			continue
		}
		chunk.Embedding = vector
		if err := p.store.UpdateChunk(ctx, chunk); err != nil {
			return healed, fmt.Errorf("ingest: persist chunk: %w", err)
		}
		if err := p.index.Upsert(ctx, []corpus.Chunk{chunk}); err != nil {
			logging.FromContext(ctx).Warn("ingest: vector index upsert failed", slog.Any("error", err))
		}
		healed++
	}

	if healed > 0 {
		p.notifyRefresh(ctx)
	}
	return healed, nil
}
