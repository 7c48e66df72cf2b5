package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/knowos/kbase-go/internal/corpus"
	"github.com/knowos/kbase-go/internal/ingest"
	"github.com/knowos/kbase-go/internal/logging"
	"github.com/knowos/kbase-go/internal/search"
)

// handleSearch handles POST /api/search: hybrid retrieval with optional
// weight overrides, metadata filters, and pagination. An unusable query is
// the caller's error (400); a degraded backend still returns results.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	opts := search.Options{
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	if req.VectorWeight != nil {
		opts.VectorWeight = *req.VectorWeight
	}
	if req.KeywordWeight != nil {
		opts.KeywordWeight = *req.KeywordWeight
	}
	if req.Filters != nil {
		opts.Filter = search.Filter{
			PrimaryCategory:   req.Filters.PrimaryCategory,
			TechnicalLevelMin: req.Filters.TechnicalLevelMin,
			TechnicalLevelMax: req.Filters.TechnicalLevelMax,
			Keywords:          req.Filters.Keywords,
			Custom:            req.Filters.Custom,
		}
	}

	results, err := s.engine.Search(r.Context(), req.Query, opts)
	if err != nil {
		if errors.Is(err, search.ErrInvalidQuery) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.fail(w, r, "search failed", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, results)
}

// handleIngest handles POST /api/documents. A single text/source pair
// returns one receipt (201, or 409 for duplicate content); a documents
// batch returns per-item outcomes with 200.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.Documents) > 0 {
		items := s.pipeline.IngestAll(r.Context(), req.Documents)
		s.metrics.countBatch(items)
		s.writeJSON(w, r, http.StatusOK, map[string]any{"documents": items})
		return
	}

	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	receipt, err := s.pipeline.Ingest(r.Context(), req.Text, req.Source)
	if err != nil {
		if errors.Is(err, corpus.ErrDuplicateContent) {
			s.metrics.documentsIngested.WithLabelValues(ingest.StatusDuplicate).Inc()
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.metrics.documentsIngested.WithLabelValues(ingest.StatusError).Inc()
		s.fail(w, r, "ingest failed", err)
		return
	}
	s.metrics.documentsIngested.WithLabelValues(ingest.StatusPending).Inc()
	s.writeJSON(w, r, http.StatusCreated, receipt)
}

// handleListDocuments handles GET /api/documents. With ?source= it narrows
// to one source; ?pending=true keeps only documents awaiting review.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	var docs []corpus.Document
	var err error
	if source := r.URL.Query().Get("source"); source != "" {
		docs, err = s.store.DocumentsBySource(r.Context(), source)
	} else {
		docs, err = s.store.Documents(r.Context())
	}
	if err != nil {
		s.fail(w, r, "list documents failed", err)
		return
	}

	pendingOnly := r.URL.Query().Get("pending") == "true"

	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		if pendingOnly && doc.Approved {
			continue
		}
		chunks, err := s.store.ChunksByDocument(r.Context(), doc.ID)
		if err != nil {
			s.fail(w, r, "list documents failed", err)
			return
		}
		out = append(out, toDocumentResponse(doc, len(chunks)))
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"documents": out})
}

// handleGetDocument handles GET /api/documents/{id}, returning the document
// together with its chunks in index order.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := s.store.Document(r.Context(), id)
	if err != nil {
		s.notFoundOr(w, r, "get document failed", err)
		return
	}
	chunks, err := s.store.ChunksByDocument(r.Context(), id)
	if err != nil {
		s.fail(w, r, "get document failed", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"document": toDocumentResponse(doc, len(chunks)),
		"chunks":   chunks,
	})
}

// handleDeleteDocument handles DELETE /api/documents/{id}.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.DeleteDocument(r.Context(), r.PathValue("id")); err != nil {
		s.notFoundOr(w, r, "delete document failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleApprove handles POST /api/documents/approve.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleReview(w, r, s.pipeline.Approve)
}

// handleReject handles POST /api/documents/reject.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleReview(w, r, s.pipeline.Reject)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, ids []string, comments string) []ingest.ReviewItem) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.DocumentIDs) == 0 {
		http.Error(w, "document_ids is required", http.StatusBadRequest)
		return
	}
	items := apply(r.Context(), req.DocumentIDs, req.Comments)
	s.writeJSON(w, r, http.StatusOK, map[string]any{"results": items})
}

// handleUpdateChunk handles PATCH /api/chunks/{id}.
func (s *Server) handleUpdateChunk(w http.ResponseWriter, r *http.Request) {
	var req chunkUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	chunk, err := s.pipeline.UpdateChunk(r.Context(), r.PathValue("id"), req.Text, req.RegenerateEmbedding)
	if err != nil {
		s.notFoundOr(w, r, "update chunk failed", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, chunk)
}

// handleDeleteChunk handles DELETE /api/chunks/{id}.
func (s *Server) handleDeleteChunk(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.DeleteChunk(r.Context(), r.PathValue("id")); err != nil {
		s.notFoundOr(w, r, "delete chunk failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRebuild handles POST /api/statistics/rebuild: it re-embeds chunks
// that were persisted without a vector, then recomputes keyword statistics.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	healed, err := s.pipeline.ReembedFailed(r.Context())
	if err != nil {
		s.fail(w, r, "rebuild failed", err)
		return
	}
	if err := s.engine.Refresh(r.Context()); err != nil {
		s.fail(w, r, "rebuild failed", err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, rebuildResponse{Rebuilt: true, ReembeddedChunks: healed})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the response body with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// fail logs an internal error and returns 500 without leaking details.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logging.FromContext(r.Context()).Error(msg, slog.Any("error", err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// notFoundOr maps corpus.ErrNotFound to 404 and everything else to 500.
func (s *Server) notFoundOr(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if errors.Is(err, corpus.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.fail(w, r, msg, err)
}

// toDocumentResponse converts a stored document to its API shape.
func toDocumentResponse(doc corpus.Document, chunkCount int) documentResponse {
	return documentResponse{
		ID:             doc.ID,
		Source:         doc.Source,
		ContentHash:    doc.ContentHash,
		Approved:       doc.Approved,
		ReviewComments: doc.ReviewComments,
		Metadata:       doc.Metadata,
		ChunkCount:     chunkCount,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}
