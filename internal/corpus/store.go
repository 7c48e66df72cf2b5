package corpus

import "context"

// Store is the persistence contract for documents and chunks. Two backends
// exist — a sharded JSON file store and a SQLite store — selected at
// construction time via configuration. Implementations must be safe for
// concurrent use, and every mutation must leave the store consistent:
// a reader never observes a document without its full chunk set, nor chunks
// whose parent document is gone.
type Store interface {
	// AddDocument persists a new document. It enforces content-hash
	// uniqueness at write time and returns ErrDuplicateContent if a
	// document with the same hash already exists.
	AddDocument(ctx context.Context, doc Document) error

	// Document returns the document with the given ID, or ErrNotFound.
	Document(ctx context.Context, id string) (Document, error)

	// DocumentByHash returns the document with the given content hash,
	// or ErrNotFound. Used by the ingestion dedup check.
	DocumentByHash(ctx context.Context, hash string) (Document, error)

	// DocumentsBySource returns all documents with the given source handle,
	// oldest first. An unknown source yields an empty slice, not an error.
	DocumentsBySource(ctx context.Context, source string) ([]Document, error)

	// Documents returns all documents in insertion order. This is the
	// admin-facing full-corpus read; it is deliberately unfiltered.
	Documents(ctx context.Context) ([]Document, error)

	// UpdateDocument replaces the stored document with the same ID, or
	// returns ErrNotFound. ContentHash and CreatedAt are immutable and
	// preserved from the stored record.
	UpdateDocument(ctx context.Context, doc Document) error

	// SetApproved flips the approval flag for the document, recording the
	// reviewer's comments. Returns ErrNotFound for unknown IDs.
	SetApproved(ctx context.Context, id string, approved bool, comments string) error

	// DeleteDocument removes the document and all its chunks as a single
	// atomic mutation. Returns ErrNotFound for unknown IDs.
	DeleteDocument(ctx context.Context, id string) error

	// AddChunks persists a batch of chunks in one atomic mutation.
	// Every chunk must reference an existing document.
	AddChunks(ctx context.Context, chunks []Chunk) error

	// Chunk returns the chunk with the given ID, or ErrNotFound.
	Chunk(ctx context.Context, id string) (Chunk, error)

	// ChunksByDocument returns the document's chunks ordered by Index.
	ChunksByDocument(ctx context.Context, documentID string) ([]Chunk, error)

	// UpdateChunk replaces the stored chunk with the same ID, or returns
	// ErrNotFound. Text and embedding are replaced together so a reader
	// never sees edited text paired with the stale vector.
	UpdateChunk(ctx context.Context, chunk Chunk) error

	// DeleteChunk removes a single chunk. Returns ErrNotFound for unknown IDs.
	DeleteChunk(ctx context.Context, id string) error

	// AllChunks returns every chunk in insertion order regardless of the
	// owning document's approval state (admin reads).
	AllChunks(ctx context.Context) ([]Chunk, error)

	// SearchableChunks returns, in insertion order, only the chunks whose
	// owning document is approved. This is the read boundary that enforces
	// approval gating for search — the engine never re-checks.
	SearchableChunks(ctx context.Context) ([]Chunk, error)

	// Close releases any resources held by the store.
	Close() error
}
