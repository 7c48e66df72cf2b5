// Package filestore provides the JSON-file corpus store. Each ingested
// document lives in its own batch file; an index file names the active
// batches and a consolidated corpus file holds the full snapshot for fast
// loads. All three are kept in sync with an in-memory cache under one lock,
// so a crash between writes loses at most the mutation in flight.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/knowos/kbase-go/internal/corpus"
)

const (
	indexFile  = "index.json"
	corpusFile = "corpus.json"
)

// index is the on-disk registry of active batch files.
type index struct {
	// NextBatch is the sequence number for the next batch file.
	NextBatch int `json:"next_batch"`

	// Batches maps document IDs to their batch file names.
	Batches map[string]string `json:"batches"`
}

// batch is the on-disk record for one document and its chunks.
type batch struct {
	Document corpus.Document `json:"document"`
	Chunks   []corpus.Chunk  `json:"chunks"`
}

// snapshot is the consolidated on-disk corpus: every document and chunk in
// insertion order.
type snapshot struct {
	Documents []corpus.Document `json:"documents"`
	Chunks    []corpus.Chunk    `json:"chunks"`
}

// Store is a corpus.Store backed by JSON files in a directory.
type Store struct {
	dir string

	mu sync.RWMutex
	// documents and chunks hold the corpus in insertion order.
	documents []corpus.Document
	chunks    []corpus.Chunk
	// byHash and docBatch are derived lookup state.
	byHash   map[string]string // content hash -> document ID
	docBatch map[string]string // document ID -> batch file name
	nextID   int
}

// Compile-time interface check.
var _ corpus.Store = (*Store)(nil)

// Open loads (or initialises) a Store in the given directory. It prefers the
// consolidated corpus file and falls back to replaying the batch files named
// by the index, so a corpus survives the loss of either.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("filestore: could not create %s: %w", dir, err)
	}

	s := &Store{
		dir:      dir,
		byHash:   map[string]string{},
		docBatch: map[string]string{},
	}

	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	s.nextID = idx.NextBatch
	for id, file := range idx.Batches {
		s.docBatch[id] = file
	}

	if err := s.loadSnapshot(idx); err != nil {
		return nil, err
	}
	for _, doc := range s.documents {
		s.byHash[doc.ContentHash] = doc.ID
	}
	return s, nil
}

// loadIndex reads index.json, returning an empty index when absent.
func (s *Store) loadIndex() (index, error) {
	idx := index{Batches: map[string]string{}}
	data, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return idx, fmt.Errorf("filestore: read index: %w", err)
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return idx, fmt.Errorf("filestore: decode index: %w", err)
	}
	if idx.Batches == nil {
		idx.Batches = map[string]string{}
	}
	return idx, nil
}

// loadSnapshot populates the cache from corpus.json, or from the batch files
// when the snapshot is missing.
func (s *Store) loadSnapshot(idx index) error {
	data, err := os.ReadFile(filepath.Join(s.dir, corpusFile))
	if err == nil {
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("filestore: decode corpus: %w", err)
		}
		s.documents = snap.Documents
		s.chunks = snap.Chunks
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("filestore: read corpus: %w", err)
	}

	// Replay batches in file-sequence order to preserve insertion order.
	files := make([]string, 0, len(idx.Batches))
	for _, f := range idx.Batches {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, file := range files {
		data, err := os.ReadFile(filepath.Join(s.dir, file))
		if err != nil {
			return fmt.Errorf("filestore: read batch %s: %w", file, err)
		}
		var b batch
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("filestore: decode batch %s: %w", file, err)
		}
		s.documents = append(s.documents, b.Document)
		s.chunks = append(s.chunks, b.Chunks...)
	}
	return nil
}

// checkpoint captures the in-memory state so a failed disk write can be
// rolled back. A mutation either lands on disk and in the cache, or in
// neither. Caller holds the write lock.
func (s *Store) checkpoint() (restore func()) {
	docs := append([]corpus.Document(nil), s.documents...)
	chunks := append([]corpus.Chunk(nil), s.chunks...)
	byHash := maps.Clone(s.byHash)
	docBatch := maps.Clone(s.docBatch)
	nextID := s.nextID
	return func() {
		s.documents, s.chunks = docs, chunks
		s.byHash, s.docBatch = byHash, docBatch
		s.nextID = nextID
	}
}

// AddDocument persists a new document, enforcing content-hash uniqueness.
func (s *Store) AddDocument(ctx context.Context, doc corpus.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHash[doc.ContentHash]; exists {
		return fmt.Errorf("%w: hash %s", corpus.ErrDuplicateContent, doc.ContentHash)
	}

	restore := s.checkpoint()

	doc.Metadata = doc.Metadata.Clone()
	file := fmt.Sprintf("batch-%06d.json", s.nextID)
	s.nextID++

	s.documents = append(s.documents, doc)
	s.byHash[doc.ContentHash] = doc.ID
	s.docBatch[doc.ID] = file

	if err := s.persistDocument(doc.ID); err != nil {
		restore()
		return err
	}
	return nil
}

// Document returns the document with the given ID.
func (s *Store) Document(ctx context.Context, id string) (corpus.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.docIndex(id); i >= 0 {
		return cloneDocument(s.documents[i]), nil
	}
	return corpus.Document{}, corpus.ErrNotFound
}

// DocumentByHash returns the document with the given content hash.
func (s *Store) DocumentByHash(ctx context.Context, hash string) (corpus.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return corpus.Document{}, corpus.ErrNotFound
	}
	return cloneDocument(s.documents[s.docIndex(id)]), nil
}

// DocumentsBySource returns all documents with the given source, oldest first.
func (s *Store) DocumentsBySource(ctx context.Context, source string) ([]corpus.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []corpus.Document
	for _, doc := range s.documents {
		if doc.Source == source {
			out = append(out, cloneDocument(doc))
		}
	}
	return out, nil
}

// Documents returns all documents in insertion order.
func (s *Store) Documents(ctx context.Context) ([]corpus.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]corpus.Document, len(s.documents))
	for i, doc := range s.documents {
		out[i] = cloneDocument(doc)
	}
	return out, nil
}

// UpdateDocument replaces the stored document with the same ID. ContentHash
// and CreatedAt are immutable and preserved from the stored record.
func (s *Store) UpdateDocument(ctx context.Context, doc corpus.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.docIndex(doc.ID)
	if i < 0 {
		return corpus.ErrNotFound
	}

	restore := s.checkpoint()

	stored := s.documents[i]
	doc.ContentHash = stored.ContentHash
	doc.CreatedAt = stored.CreatedAt
	doc.UpdatedAt = time.Now().UTC()
	doc.Metadata = doc.Metadata.Clone()
	s.documents[i] = doc

	if err := s.persistDocument(doc.ID); err != nil {
		restore()
		return err
	}
	return nil
}

// SetApproved flips the approval flag, recording the reviewer's comments.
func (s *Store) SetApproved(ctx context.Context, id string, approved bool, comments string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.docIndex(id)
	if i < 0 {
		return corpus.ErrNotFound
	}
	restore := s.checkpoint()

	s.documents[i].Approved = approved
	s.documents[i].ReviewComments = comments
	s.documents[i].UpdatedAt = time.Now().UTC()

	if err := s.persistDocument(id); err != nil {
		restore()
		return err
	}
	return nil
}

// DeleteDocument removes the document and all its chunks in one mutation.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.docIndex(id)
	if i < 0 {
		return corpus.ErrNotFound
	}

	restore := s.checkpoint()

	delete(s.byHash, s.documents[i].ContentHash)
	s.documents = append(s.documents[:i], s.documents[i+1:]...)

	kept := s.chunks[:0]
	for _, c := range s.chunks {
		if c.DocumentID != id {
			kept = append(kept, c)
		}
	}
	s.chunks = kept

	file := s.docBatch[id]
	delete(s.docBatch, id)

	if err := s.persistIndexAndSnapshot(); err != nil {
		restore()
		return err
	}
	// The index no longer references the batch, so a leftover file is inert.
	if file != "" {
		_ = os.Remove(filepath.Join(s.dir, file))
	}
	return nil
}

// AddChunks persists a batch of chunks in one mutation.
func (s *Store) AddChunks(ctx context.Context, chunks []corpus.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	touched := map[string]struct{}{}
	for _, c := range chunks {
		if s.docIndex(c.DocumentID) < 0 {
			return fmt.Errorf("filestore: chunk %s: %w: document %s", c.ID, corpus.ErrNotFound, c.DocumentID)
		}
		touched[c.DocumentID] = struct{}{}
	}

	restore := s.checkpoint()

	for _, c := range chunks {
		c.Metadata = c.Metadata.Clone()
		s.chunks = append(s.chunks, c)
	}

	for id := range touched {
		if err := s.persistDocument(id); err != nil {
			restore()
			return err
		}
	}
	return nil
}

// Chunk returns the chunk with the given ID.
func (s *Store) Chunk(ctx context.Context, id string) (corpus.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.chunkIndex(id); i >= 0 {
		return cloneChunk(s.chunks[i]), nil
	}
	return corpus.Chunk{}, corpus.ErrNotFound
}

// ChunksByDocument returns the document's chunks ordered by index.
func (s *Store) ChunksByDocument(ctx context.Context, documentID string) ([]corpus.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []corpus.Chunk
	for _, c := range s.chunks {
		if c.DocumentID == documentID {
			out = append(out, cloneChunk(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// UpdateChunk replaces the stored chunk with the same ID.
func (s *Store) UpdateChunk(ctx context.Context, chunk corpus.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.chunkIndex(chunk.ID)
	if i < 0 {
		return corpus.ErrNotFound
	}
	restore := s.checkpoint()

	chunk.DocumentID = s.chunks[i].DocumentID
	chunk.CreatedAt = s.chunks[i].CreatedAt
	chunk.Metadata = chunk.Metadata.Clone()
	s.chunks[i] = chunk

	if err := s.persistDocument(chunk.DocumentID); err != nil {
		restore()
		return err
	}
	return nil
}

// DeleteChunk removes a single chunk.
func (s *Store) DeleteChunk(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.chunkIndex(id)
	if i < 0 {
		return corpus.ErrNotFound
	}
	restore := s.checkpoint()

	docID := s.chunks[i].DocumentID
	s.chunks = append(s.chunks[:i], s.chunks[i+1:]...)

	if err := s.persistDocument(docID); err != nil {
		restore()
		return err
	}
	return nil
}

// AllChunks returns every chunk in insertion order.
func (s *Store) AllChunks(ctx context.Context) ([]corpus.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]corpus.Chunk, len(s.chunks))
	for i, c := range s.chunks {
		out[i] = cloneChunk(c)
	}
	return out, nil
}

// SearchableChunks returns, in insertion order, only the chunks whose owning
// document is approved.
func (s *Store) SearchableChunks(ctx context.Context) ([]corpus.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	approved := map[string]struct{}{}
	for _, doc := range s.documents {
		if doc.Approved {
			approved[doc.ID] = struct{}{}
		}
	}

	var out []corpus.Chunk
	for _, c := range s.chunks {
		if _, ok := approved[c.DocumentID]; ok {
			out = append(out, cloneChunk(c))
		}
	}
	return out, nil
}

// Close is a no-op; every mutation is flushed before its call returns.
func (s *Store) Close() error {
	return nil
}

// persistDocument rewrites the document's batch file, then the index and
// consolidated snapshot. Caller holds the write lock.
func (s *Store) persistDocument(id string) error {
	i := s.docIndex(id)
	if i < 0 {
		return corpus.ErrNotFound
	}

	b := batch{Document: s.documents[i]}
	for _, c := range s.chunks {
		if c.DocumentID == id {
			b.Chunks = append(b.Chunks, c)
		}
	}

	if err := writeJSON(filepath.Join(s.dir, s.docBatch[id]), b); err != nil {
		return err
	}
	return s.persistIndexAndSnapshot()
}

// persistIndexAndSnapshot rewrites index.json and corpus.json. Caller holds
// the write lock.
func (s *Store) persistIndexAndSnapshot() error {
	idx := index{NextBatch: s.nextID, Batches: s.docBatch}
	if err := writeJSON(filepath.Join(s.dir, indexFile), idx); err != nil {
		return err
	}
	snap := snapshot{Documents: s.documents, Chunks: s.chunks}
	return writeJSON(filepath.Join(s.dir, corpusFile), snap)
}

// writeJSON writes v to path via a temp file and rename, so readers never
// observe a torn file.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("filestore: write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("filestore: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// docIndex returns the position of the document with the given ID, or -1.
// Caller holds at least the read lock.
func (s *Store) docIndex(id string) int {
	for i, doc := range s.documents {
		if doc.ID == id {
			return i
		}
	}
	return -1
}

// chunkIndex returns the position of the chunk with the given ID, or -1.
// Caller holds at least the read lock.
func (s *Store) chunkIndex(id string) int {
	for i, c := range s.chunks {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func cloneDocument(doc corpus.Document) corpus.Document {
	doc.Metadata = doc.Metadata.Clone()
	return doc
}

func cloneChunk(chunk corpus.Chunk) corpus.Chunk {
	chunk.Metadata = chunk.Metadata.Clone()
	chunk.Embedding = append([]float32(nil), chunk.Embedding...)
	return chunk
}
