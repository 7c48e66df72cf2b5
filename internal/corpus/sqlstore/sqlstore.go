// Package sqlstore provides the SQLite-backed corpus store. Documents and
// chunks live in two tables with a cascading foreign key, so document
// deletion removes the chunk set in the same transaction. Embeddings and
// metadata are stored as JSON text columns; insertion order is the rowid.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/knowos/kbase-go/internal/corpus"
)

// Store is a corpus.Store backed by a local SQLite database.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// Compile-time interface check.
var _ corpus.Store = (*Store)(nil)

// DefaultDBPath returns the default path for the corpus database. It
// resolves to ~/.kbase/corpus.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("sqlstore: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".kbase")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("sqlstore: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "corpus.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for
	// single-host use. The modernc driver takes pragmas in the
	// _pragma=name(value) form; other spellings are silently ignored.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	// The cascade from documents to chunks depends on foreign keys being on.
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id              TEXT    PRIMARY KEY,
    source          TEXT    NOT NULL,
    content_hash    TEXT    NOT NULL UNIQUE,
    approved        INTEGER NOT NULL DEFAULT 0,
    review_comments TEXT    NOT NULL DEFAULT '',
    metadata        TEXT    NOT NULL DEFAULT '{}',
    created_at      INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_source ON documents (source);

CREATE TABLE IF NOT EXISTS document_chunks (
    id            TEXT    PRIMARY KEY,
    document_id   TEXT    NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    chunk_index   INTEGER NOT NULL,
    text          TEXT    NOT NULL,
    original_text TEXT    NOT NULL,
    embedding     TEXT,              -- JSON array of float32, NULL when absent
    metadata      TEXT    NOT NULL DEFAULT '{}',
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks (document_id, chunk_index);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

// AddDocument persists a new document, enforcing content-hash uniqueness.
func (s *Store) AddDocument(ctx context.Context, doc corpus.Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("sqlstore: encode metadata: %w", err)
	}

	const q = `
INSERT INTO documents (id, source, content_hash, approved, review_comments, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		doc.ID, doc.Source, doc.ContentHash, boolInt(doc.Approved),
		doc.ReviewComments, string(meta), doc.CreatedAt.Unix(), doc.UpdatedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: hash %s", corpus.ErrDuplicateContent, doc.ContentHash)
		}
		return fmt.Errorf("sqlstore: add document: %w", err)
	}
	return nil
}

// Document returns the document with the given ID.
func (s *Store) Document(ctx context.Context, id string) (corpus.Document, error) {
	return s.document(ctx, `WHERE id = ?`, id)
}

// DocumentByHash returns the document with the given content hash.
func (s *Store) DocumentByHash(ctx context.Context, hash string) (corpus.Document, error) {
	return s.document(ctx, `WHERE content_hash = ?`, hash)
}

func (s *Store) document(ctx context.Context, where string, arg any) (corpus.Document, error) {
	q := `SELECT id, source, content_hash, approved, review_comments, metadata, created_at, updated_at FROM documents ` + where
	row := s.db.QueryRowContext(ctx, q, arg)
	doc, err := scanDocument(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return corpus.Document{}, corpus.ErrNotFound
	}
	if err != nil {
		return corpus.Document{}, fmt.Errorf("sqlstore: load document: %w", err)
	}
	return doc, nil
}

// DocumentsBySource returns all documents with the given source, oldest first.
func (s *Store) DocumentsBySource(ctx context.Context, source string) ([]corpus.Document, error) {
	return s.documents(ctx, `WHERE source = ? ORDER BY rowid`, source)
}

// Documents returns all documents in insertion order.
func (s *Store) Documents(ctx context.Context) ([]corpus.Document, error) {
	return s.documents(ctx, `ORDER BY rowid`)
}

func (s *Store) documents(ctx context.Context, tail string, args ...any) ([]corpus.Document, error) {
	q := `SELECT id, source, content_hash, approved, review_comments, metadata, created_at, updated_at FROM documents ` + tail
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query documents: %w", err)
	}
	defer rows.Close()

	var docs []corpus.Document
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: document rows: %w", err)
	}
	return docs, nil
}

// UpdateDocument replaces the stored document with the same ID. ContentHash
// and CreatedAt are immutable and preserved from the stored record.
func (s *Store) UpdateDocument(ctx context.Context, doc corpus.Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("sqlstore: encode metadata: %w", err)
	}

	const q = `
UPDATE documents
SET    source = ?, approved = ?, review_comments = ?, metadata = ?, updated_at = ?
WHERE  id = ?`
	res, err := s.db.ExecContext(ctx, q,
		doc.Source, boolInt(doc.Approved), doc.ReviewComments,
		string(meta), time.Now().Unix(), doc.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: update document: %w", err)
	}
	return requireAffected(res)
}

// SetApproved flips the approval flag, recording the reviewer's comments.
func (s *Store) SetApproved(ctx context.Context, id string, approved bool, comments string) error {
	const q = `UPDATE documents SET approved = ?, review_comments = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, boolInt(approved), comments, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("sqlstore: set approved: %w", err)
	}
	return requireAffected(res)
}

// DeleteDocument removes the document; the foreign key cascades to its chunks.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete document: %w", err)
	}
	return requireAffected(res)
}

// AddChunks persists a batch of chunks in a single transaction.
func (s *Store) AddChunks(ctx context.Context, chunks []corpus.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const q = `
INSERT INTO document_chunks (id, document_id, chunk_index, text, original_text, embedding, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("sqlstore: encode metadata: %w", err)
		}
		embedding, err := encodeEmbedding(c.Embedding)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q,
			c.ID, c.DocumentID, c.Index, c.Text, c.OriginalText,
			embedding, string(meta), c.CreatedAt.Unix(),
		); err != nil {
			return fmt.Errorf("sqlstore: add chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

// Chunk returns the chunk with the given ID.
func (s *Store) Chunk(ctx context.Context, id string) (corpus.Chunk, error) {
	const q = `
SELECT id, document_id, chunk_index, text, original_text, embedding, metadata, created_at
FROM   document_chunks WHERE id = ?`
	row := s.db.QueryRowContext(ctx, q, id)
	chunk, err := scanChunk(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return corpus.Chunk{}, corpus.ErrNotFound
	}
	if err != nil {
		return corpus.Chunk{}, fmt.Errorf("sqlstore: load chunk: %w", err)
	}
	return chunk, nil
}

// ChunksByDocument returns the document's chunks ordered by index.
func (s *Store) ChunksByDocument(ctx context.Context, documentID string) ([]corpus.Chunk, error) {
	return s.chunks(ctx, `WHERE document_id = ? ORDER BY chunk_index`, documentID)
}

// AllChunks returns every chunk in insertion order.
func (s *Store) AllChunks(ctx context.Context) ([]corpus.Chunk, error) {
	return s.chunks(ctx, `ORDER BY rowid`)
}

// SearchableChunks returns, in insertion order, only the chunks whose owning
// document is approved.
func (s *Store) SearchableChunks(ctx context.Context) ([]corpus.Chunk, error) {
	return s.chunks(ctx, `
WHERE document_id IN (SELECT id FROM documents WHERE approved = 1)
ORDER BY rowid`)
}

func (s *Store) chunks(ctx context.Context, tail string, args ...any) ([]corpus.Chunk, error) {
	q := `SELECT id, document_id, chunk_index, text, original_text, embedding, metadata, created_at FROM document_chunks ` + tail
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []corpus.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: chunk rows: %w", err)
	}
	return chunks, nil
}

// UpdateChunk replaces the stored chunk with the same ID. Text and embedding
// are written in the same statement so readers never see one without the other.
func (s *Store) UpdateChunk(ctx context.Context, chunk corpus.Chunk) error {
	meta, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("sqlstore: encode metadata: %w", err)
	}
	embedding, err := encodeEmbedding(chunk.Embedding)
	if err != nil {
		return err
	}

	const q = `
UPDATE document_chunks
SET    text = ?, original_text = ?, embedding = ?, metadata = ?
WHERE  id = ?`
	res, err := s.db.ExecContext(ctx, q, chunk.Text, chunk.OriginalText, embedding, string(meta), chunk.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: update chunk: %w", err)
	}
	return requireAffected(res)
}

// DeleteChunk removes a single chunk.
func (s *Store) DeleteChunk(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete chunk: %w", err)
	}
	return requireAffected(res)
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlstore: close: %w", err)
	}
	return nil
}

// scanDocument decodes one documents row via the given Scan function.
func scanDocument(scan func(dest ...any) error) (corpus.Document, error) {
	var doc corpus.Document
	var approved int
	var meta string
	var created, updated int64
	if err := scan(&doc.ID, &doc.Source, &doc.ContentHash, &approved, &doc.ReviewComments, &meta, &created, &updated); err != nil {
		return corpus.Document{}, err
	}
	doc.Approved = approved != 0
	doc.CreatedAt = time.Unix(created, 0).UTC()
	doc.UpdatedAt = time.Unix(updated, 0).UTC()
	if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
		return corpus.Document{}, fmt.Errorf("decode metadata: %w", err)
	}
	return doc, nil
}

// scanChunk decodes one document_chunks row via the given Scan function.
func scanChunk(scan func(dest ...any) error) (corpus.Chunk, error) {
	var chunk corpus.Chunk
	var embedding sql.NullString
	var meta string
	var created int64
	if err := scan(&chunk.ID, &chunk.DocumentID, &chunk.Index, &chunk.Text, &chunk.OriginalText, &embedding, &meta, &created); err != nil {
		return corpus.Chunk{}, err
	}
	chunk.CreatedAt = time.Unix(created, 0).UTC()
	if err := json.Unmarshal([]byte(meta), &chunk.Metadata); err != nil {
		return corpus.Chunk{}, fmt.Errorf("decode metadata: %w", err)
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &chunk.Embedding); err != nil {
			return corpus.Chunk{}, fmt.Errorf("decode embedding: %w", err)
		}
	}
	return chunk, nil
}

// encodeEmbedding encodes a vector as a JSON text column value, NULL for a
// missing embedding.
func encodeEmbedding(embedding []float32) (any, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode embedding: %w", err)
	}
	return string(b), nil
}

// requireAffected converts a zero-row UPDATE/DELETE into ErrNotFound.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: rows affected: %w", err)
	}
	if n == 0 {
		return corpus.ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is SQLite's unique-constraint error.
// The modernc driver does not export a typed error, so match the message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// boolInt converts a bool to the 0/1 integer SQLite stores.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
