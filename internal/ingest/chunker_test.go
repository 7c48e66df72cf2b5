package ingest

import (
	"strings"
	"testing"
)

func Test_Chunk_Empty(t *testing.T) {
	t.Parallel()

	if got := Chunk("", ChunkerConfig{}); got != nil {
		t.Errorf("empty text: expected nil, got %d pieces", len(got))
	}
	if got := Chunk("   \n\t  ", ChunkerConfig{}); got != nil {
		t.Errorf("whitespace text: expected nil, got %d pieces", len(got))
	}
}

func Test_Chunk_ShortTextIsOnePiece(t *testing.T) {
	t.Parallel()

	text := "A single short paragraph that fits in one chunk."
	pieces := Chunk(text, ChunkerConfig{})

	if len(pieces) != 1 {
		t.Fatalf("expected 1 piece, got %d", len(pieces))
	}
	if pieces[0].Index != 0 {
		t.Errorf("Index: got %d, want 0", pieces[0].Index)
	}
	if pieces[0].OriginalText != text || pieces[0].Text != text {
		t.Errorf("short text must pass through unchanged: %+v", pieces[0])
	}
}

func Test_Chunk_Reconstruction(t *testing.T) {
	t.Parallel()

	// Long document across many windows, with overlap enabled. The
	// OriginalText slices stay disjoint, so concatenating them in index
	// order must reproduce the document exactly.
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("The deployment checklist covers rollout, verification, and rollback steps. ")
	}
	text := b.String()

	pieces := Chunk(text, ChunkerConfig{ChunkSize: 50, ChunkOverlap: 10})
	if len(pieces) < 2 {
		t.Fatalf("expected multiple pieces, got %d", len(pieces))
	}

	var rebuilt strings.Builder
	for i, p := range pieces {
		if p.Index != i {
			t.Errorf("piece %d: Index=%d, indexes must be consecutive", i, p.Index)
		}
		rebuilt.WriteString(p.OriginalText)
	}
	if rebuilt.String() != text {
		t.Error("concatenated OriginalText does not reconstruct the document")
	}
}

func Test_Chunk_OverlapDecoratesTextOnly(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("alpha beta gamma delta. ", 100)
	pieces := Chunk(text, ChunkerConfig{ChunkSize: 40, ChunkOverlap: 10})
	if len(pieces) < 2 {
		t.Fatalf("expected multiple pieces, got %d", len(pieces))
	}

	// The first window has nothing to overlap with.
	if pieces[0].Text != pieces[0].OriginalText {
		t.Error("first piece must carry no overlap prefix")
	}

	// Later windows carry the tail of the previous window in Text but not
	// in OriginalText.
	for _, p := range pieces[1:] {
		if len(p.Text) <= len(p.OriginalText) {
			t.Errorf("piece %d: expected overlap prefix on Text", p.Index)
		}
		if !strings.HasSuffix(p.Text, p.OriginalText) {
			t.Errorf("piece %d: Text must end with OriginalText", p.Index)
		}
	}
}

func Test_Chunk_NoOverlap(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("one two three four five. ", 100)
	pieces := Chunk(text, ChunkerConfig{ChunkSize: 40, ChunkOverlap: -1})

	for _, p := range pieces {
		if p.Text != p.OriginalText {
			t.Errorf("piece %d: Text must equal OriginalText when overlap is disabled", p.Index)
		}
	}
}

func Test_Chunk_PrefersSentenceBoundaries(t *testing.T) {
	t.Parallel()

	// Sentences sized so a terminator falls in the final quarter of each
	// window; cuts should land just after a terminator.
	text := strings.Repeat("This sentence is here to fill the window with words. ", 80)
	pieces := Chunk(text, ChunkerConfig{ChunkSize: 50, ChunkOverlap: -1})
	if len(pieces) < 3 {
		t.Fatalf("expected several pieces, got %d", len(pieces))
	}

	for _, p := range pieces[:len(pieces)-1] {
		trimmed := strings.TrimRight(p.OriginalText, " \n")
		if !strings.HasSuffix(trimmed, ".") {
			t.Errorf("piece %d does not end at a sentence boundary: %q", p.Index, tail(p.OriginalText, 20))
		}
	}
}

func Test_ChunkerConfig_Resolve(t *testing.T) {
	t.Parallel()

	cfg := ChunkerConfig{}.resolve()
	if cfg.ChunkSize != defaultChunkSize || cfg.ChunkOverlap != defaultChunkOverlap {
		t.Errorf("defaults: got %+v", cfg)
	}

	// Overlap at or above the window size is clamped, not honored.
	cfg = ChunkerConfig{ChunkSize: 100, ChunkOverlap: 100}.resolve()
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		t.Errorf("overlap not clamped: %+v", cfg)
	}

	cfg = ChunkerConfig{ChunkSize: 100, ChunkOverlap: -5}.resolve()
	if cfg.ChunkOverlap != 0 {
		t.Errorf("negative overlap disables it: got %d, want 0", cfg.ChunkOverlap)
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
