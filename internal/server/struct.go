package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/knowos/kbase-go/internal/corpus"
	"github.com/knowos/kbase-go/internal/ingest"
	"github.com/knowos/kbase-go/internal/search"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
}

// searcher is the interface handleSearch calls to run a query.
// *search.Engine satisfies it; tests inject a fake.
type searcher interface {
	// Search runs a hybrid retrieval query.
	Search(ctx context.Context, query string, opts search.Options) (*search.Results, error)
	// Refresh recomputes keyword statistics from the current corpus.
	Refresh(ctx context.Context) error
}

// lifecycler is the interface the document and chunk handlers call.
// *ingest.Pipeline satisfies it; tests inject a fake.
type lifecycler interface {
	Ingest(ctx context.Context, text, source string) (*ingest.Receipt, error)
	IngestAll(ctx context.Context, inputs []ingest.Input) []ingest.BatchItem
	Approve(ctx context.Context, ids []string, comments string) []ingest.ReviewItem
	Reject(ctx context.Context, ids []string, comments string) []ingest.ReviewItem
	UpdateChunk(ctx context.Context, chunkID, newText string, regenerate bool) (corpus.Chunk, error)
	DeleteDocument(ctx context.Context, id string) error
	DeleteChunk(ctx context.Context, id string) error
	ReembedFailed(ctx context.Context) (int, error)
}

// Server is the HTTP server that exposes retrieval, ingestion, and review.
type Server struct {
	// engine runs hybrid search queries.
	engine searcher
	// pipeline handles ingestion and lifecycle mutations.
	pipeline lifecycler
	// store serves admin reads (document and chunk listings).
	store corpus.Store
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// Query is the natural-language search query.
	Query string `json:"query"`
	// Limit is the maximum number of results per page.
	Limit int `json:"limit,omitempty"`
	// Offset skips results for pagination.
	Offset int `json:"offset,omitempty"`
	// VectorWeight overrides the semantic signal weight.
	VectorWeight *float64 `json:"vector_weight,omitempty"`
	// KeywordWeight overrides the keyword signal weight.
	KeywordWeight *float64 `json:"keyword_weight,omitempty"`
	// Filters narrows results by metadata after scoring.
	Filters *searchFilters `json:"filters,omitempty"`
}

// searchFilters is the metadata filter block of a search request.
type searchFilters struct {
	// PrimaryCategory keeps chunks of this category only.
	PrimaryCategory string `json:"primary_category,omitempty"`
	// TechnicalLevelMin is the inclusive lower level bound (0 = unset).
	TechnicalLevelMin int `json:"technical_level_min,omitempty"`
	// TechnicalLevelMax is the inclusive upper level bound (0 = unset).
	TechnicalLevelMax int `json:"technical_level_max,omitempty"`
	// Keywords keeps chunks sharing at least one keyword.
	Keywords []string `json:"keywords,omitempty"`
	// Custom matches free-form metadata fields.
	Custom map[string]string `json:"custom,omitempty"`
}

// ingestRequest is the JSON body for POST /api/documents. Either a single
// Text/Source pair or a Documents batch is supplied, not both.
type ingestRequest struct {
	// Text is the raw document text for a single-document ingest.
	Text string `json:"text,omitempty"`
	// Source is the provenance handle for a single-document ingest.
	Source string `json:"source,omitempty"`
	// Documents is the batch form.
	Documents []ingest.Input `json:"documents,omitempty"`
}

// reviewRequest is the JSON body for the approve and reject endpoints.
type reviewRequest struct {
	// DocumentIDs lists the documents to review.
	DocumentIDs []string `json:"document_ids"`
	// Comments holds the reviewer's notes.
	Comments string `json:"comments,omitempty"`
}

// chunkUpdateRequest is the JSON body for PATCH /api/chunks/{id}.
type chunkUpdateRequest struct {
	// Text is the replacement chunk text.
	Text string `json:"text"`
	// RegenerateEmbedding re-embeds the new text when true. When false the
	// stale vector is discarded and the chunk scores by keyword only.
	RegenerateEmbedding bool `json:"regenerate_embedding"`
}

// documentResponse is the JSON shape for a document in API responses.
type documentResponse struct {
	ID             string          `json:"id"`
	Source         string          `json:"source"`
	ContentHash    string          `json:"content_hash"`
	Approved       bool            `json:"approved"`
	ReviewComments string          `json:"review_comments,omitempty"`
	Metadata       corpus.Metadata `json:"metadata"`
	ChunkCount     int             `json:"chunk_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// rebuildResponse is the JSON body returned by POST /api/statistics/rebuild.
type rebuildResponse struct {
	// Rebuilt is true when statistics were recomputed.
	Rebuilt bool `json:"rebuilt"`
	// ReembeddedChunks is how many previously unembedded chunks were healed.
	ReembeddedChunks int `json:"reembedded_chunks"`
}
