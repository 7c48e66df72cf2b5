package search

import (
	"testing"

	"github.com/knowos/kbase-go/internal/corpus"
)

func Test_Tokenize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"lowercases", "Rotate The Credentials", []string{"rotate", "the", "credentials"}},
		{"splits on punctuation", "tls/ssl, setup!", []string{"tls", "ssl", "setup"}},
		{"keeps digits", "port 6334 open", []string{"port", "6334", "open"}},
		{"empty", "   ", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Tokenize(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("Tokenize(%q) = %v, want %v", tc.in, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("token %d: got %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func Test_BuildStatistics(t *testing.T) {
	t.Parallel()

	chunks := []corpus.Chunk{
		{ID: "c1", Text: "rotate the credentials"},
		{ID: "c2", Text: "rotate the keys now"},
	}

	stats := BuildStatistics(chunks)

	if stats.TotalDocuments != 2 {
		t.Errorf("TotalDocuments: got %d, want 2", stats.TotalDocuments)
	}
	// 3 + 4 tokens over 2 chunks.
	if stats.AverageDocumentLength != 3.5 {
		t.Errorf("AverageDocumentLength: got %v, want 3.5", stats.AverageDocumentLength)
	}
	if df := stats.DocumentFrequency["rotate"]; df != 2 {
		t.Errorf("df(rotate): got %d, want 2", df)
	}
	if df := stats.DocumentFrequency["credentials"]; df != 1 {
		t.Errorf("df(credentials): got %d, want 1", df)
	}
}

func Test_BuildStatistics_Empty(t *testing.T) {
	t.Parallel()

	stats := BuildStatistics(nil)
	if stats.TotalDocuments != 0 || stats.AverageDocumentLength != 0 {
		t.Errorf("empty corpus: got %+v", stats)
	}
}

func Test_BuildStatistics_RepeatedTermCountedOnce(t *testing.T) {
	t.Parallel()

	stats := BuildStatistics([]corpus.Chunk{{Text: "backup backup backup"}})
	if df := stats.DocumentFrequency["backup"]; df != 1 {
		t.Errorf("df counts chunks, not occurrences: got %d, want 1", df)
	}
}

func Test_ScoreBM25_MatchBeatsNoMatch(t *testing.T) {
	t.Parallel()

	chunks := []corpus.Chunk{
		{Text: "how to rotate leaked credentials safely"},
		{Text: "quarterly planning documents for operations"},
	}
	stats := BuildStatistics(chunks)
	query := Tokenize("rotate credentials")

	hit := stats.ScoreBM25(query, chunks[0].Text)
	miss := stats.ScoreBM25(query, chunks[1].Text)

	if hit <= 0 {
		t.Errorf("matching chunk: expected positive score, got %v", hit)
	}
	if miss != 0 {
		t.Errorf("non-matching chunk: expected 0, got %v", miss)
	}
}

func Test_ScoreBM25_RarerTermScoresHigher(t *testing.T) {
	t.Parallel()

	// "deploy" appears in every chunk, "rollback" in one.
	chunks := []corpus.Chunk{
		{Text: "deploy the service"},
		{Text: "deploy the gateway"},
		{Text: "deploy and rollback the release"},
	}
	stats := BuildStatistics(chunks)

	common := stats.ScoreBM25(Tokenize("deploy"), chunks[2].Text)
	rare := stats.ScoreBM25(Tokenize("rollback"), chunks[2].Text)

	if rare <= common {
		t.Errorf("rare term should outscore common term: rare=%v common=%v", rare, common)
	}
}

func Test_ScoreBM25_ZeroCases(t *testing.T) {
	t.Parallel()

	stats := BuildStatistics([]corpus.Chunk{{Text: "some text"}})

	if got := stats.ScoreBM25(nil, "some text"); got != 0 {
		t.Errorf("empty query: got %v, want 0", got)
	}
	if got := stats.ScoreBM25(Tokenize("some"), "   "); got != 0 {
		t.Errorf("empty document: got %v, want 0", got)
	}

	empty := BuildStatistics(nil)
	if got := empty.ScoreBM25(Tokenize("some"), "some text"); got != 0 {
		t.Errorf("empty corpus: got %v, want 0", got)
	}
}

func Test_ScoreBM25_Deterministic(t *testing.T) {
	t.Parallel()

	chunks := []corpus.Chunk{
		{Text: "the incident response runbook"},
		{Text: "the escalation policy for incidents"},
	}
	stats := BuildStatistics(chunks)
	query := Tokenize("incident response")

	first := stats.ScoreBM25(query, chunks[0].Text)
	for i := 0; i < 10; i++ {
		if got := stats.ScoreBM25(query, chunks[0].Text); got != first {
			t.Fatalf("iteration %d: score changed from %v to %v", i, first, got)
		}
	}
}
