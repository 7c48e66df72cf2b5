// Package ingest implements the ingestion pipeline: dedup by content hash,
// automated analysis, chunking, batched embedding, persistence, and the
// admin lifecycle operations (approve, reject, chunk edit, delete) built on
// top of the corpus store.
package ingest

import (
	"strings"

	"github.com/knowos/kbase-go/internal/tokens"
)

// Chunker defaults, denominated in tokens (see the tokens package for the
// character heuristic behind them).
const (
	defaultChunkSize    = 250
	defaultChunkOverlap = 25
)

// ChunkerConfig controls how raw document text is split into chunks.
type ChunkerConfig struct {
	// ChunkSize is the target chunk length in tokens (default 250).
	ChunkSize int

	// ChunkOverlap is how many tokens of the preceding window are prepended
	// to each chunk's embedding text (default 25; negative disables overlap).
	// Overlap decorates Text only — OriginalText slices stay disjoint so
	// concatenating them in index order reconstructs the document.
	ChunkOverlap int
}

// Piece is one window of a chunked document before embedding and
// persistence. Text is what gets embedded (overlap and contextual prefixes
// included); OriginalText is the exact, disjoint slice of the source.
type Piece struct {
	// Index is the zero-based window position within the document.
	Index int

	// Text is the embedding text for this window.
	Text string

	// OriginalText is the undecorated slice of the source text.
	OriginalText string
}

// resolve fills zero config fields with defaults and bounds the overlap.
func (c ChunkerConfig) resolve() ChunkerConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = defaultChunkOverlap
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 10
	}
	return c
}

// Chunk splits text into consecutive windows of roughly cfg.ChunkSize
// tokens. Window boundaries prefer the last sentence end in the final
// quarter of the window so chunks do not cut sentences mid-way when a
// natural break is close. Windows that are empty after trimming are dropped
// silently; surviving pieces are renumbered consecutively.
func Chunk(text string, cfg ChunkerConfig) []Piece {
	cfg = cfg.resolve()

	runes := []rune(text)
	if len(strings.TrimSpace(text)) == 0 {
		return nil
	}

	size := tokens.Chars(cfg.ChunkSize)
	overlap := tokens.Chars(cfg.ChunkOverlap)

	var pieces []Piece
	for start := 0; start < len(runes); {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else if cut := sentenceCut(runes, start, end); cut > 0 {
			end = cut
		}

		original := string(runes[start:end])
		if strings.TrimSpace(original) != "" {
			embedText := original
			if overlap > 0 && start > 0 {
				from := start - overlap
				if from < 0 {
					from = 0
				}
				embedText = string(runes[from:start]) + original
			}
			pieces = append(pieces, Piece{
				Index:        len(pieces),
				Text:         embedText,
				OriginalText: original,
			})
		}

		if end == len(runes) {
			break
		}
		start = end
	}

	return pieces
}

// sentenceCut returns the position just after the last sentence terminator
// in the final quarter of the window [start, end), or 0 if none exists
// there. Cutting earlier than three quarters of the window would produce
// degenerate, tiny chunks.
func sentenceCut(runes []rune, start, end int) int {
	floor := start + (end-start)*3/4
	for i := end - 1; i > floor; i-- {
		switch runes[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return 0
}
