package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/knowos/kbase-go/internal/corpus"
	"github.com/knowos/kbase-go/internal/corpus/filestore"
	"github.com/knowos/kbase-go/internal/ingest"
)

type staticEmbedder struct{}

func (staticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func newTestCrawler(t *testing.T, cfg Config) (*Crawler, corpus.Store) {
	t.Helper()

	store, err := filestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pipeline, err := ingest.NewPipeline(store, staticEmbedder{}, nil, nil, nil, ingest.Config{
		Chunker: ingest.ChunkerConfig{ChunkSize: 50, ChunkOverlap: -1},
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 1000 // keep tests fast
	}
	c, err := New(pipeline, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, store
}

func page(title, body string, links ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body><p>%s</p>", title, body)
	for _, l := range links {
		fmt.Fprintf(&b, `<a href=%q>link</a>`, l)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func Test_Crawl_FollowsSameHostLinks(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, page("Home", "Welcome to the internal knowledge base index page.",
				"/guides", "https://elsewhere.example.com/offsite", srv.URL+"/guides"))
		case "/guides":
			fmt.Fprint(w, page("Guides", "Operational guides for the on-call rotation live here."))
		default:
			http.NotFound(w, r)
		}
	})

	c, store := newTestCrawler(t, Config{MaxPages: 10})
	report, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	// The off-site link must not be followed; /guides is visited once even
	// though it is linked twice.
	if report.Fetched != 2 || report.Ingested != 2 || report.Failures != 0 {
		t.Errorf("report: %+v", report)
	}

	docs, err := store.Documents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if !strings.HasPrefix(docs[0].Source, "Home (") {
		t.Errorf("source should carry the page title: %q", docs[0].Source)
	}
}

func Test_Crawl_StopsAtPageBudget(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// An unbounded chain of pages; only the budget stops the crawl.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		n := strings.TrimPrefix(r.URL.Path, "/")
		fmt.Fprint(w, page("Page "+n, "Unique content for page number "+n+" of the chain.",
			"/"+n+"x"))
	})

	c, _ := newTestCrawler(t, Config{MaxPages: 3})
	report, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if report.Fetched != 3 {
		t.Errorf("budget not honoured: fetched %d", report.Fetched)
	}
}

func Test_Crawl_CountsDuplicates(t *testing.T) {
	t.Parallel()

	body := "The very same article is mirrored at two paths on this site."
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page("Mirror", body, "/a", "/b"))
	})

	c, _ := newTestCrawler(t, Config{MaxPages: 10})
	report, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if report.Ingested != 1 || report.Duplicates != 2 {
		t.Errorf("duplicate handling: %+v", report)
	}
}

func Test_Crawl_ToleratesFailures(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, page("Home", "A page that links to a broken and a binary resource.",
				"/missing", "/binary", "/ok"))
		case "/binary":
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write([]byte{0x00, 0x01})
		case "/ok":
			fmt.Fprint(w, page("OK", "This page is reachable and has plain readable text."))
		default:
			http.NotFound(w, r)
		}
	})

	c, _ := newTestCrawler(t, Config{MaxPages: 10})
	report, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if report.Failures != 2 {
		t.Errorf("expected 2 failures (404 and content type), got %+v", report)
	}
	if report.Ingested != 2 {
		t.Errorf("healthy pages must still ingest: %+v", report)
	}
}

func Test_Crawl_InvalidSeed(t *testing.T) {
	t.Parallel()

	c, _ := newTestCrawler(t, Config{})
	for _, seed := range []string{"", "not a url", "ftp://example.com", "/relative"} {
		if _, err := c.Crawl(context.Background(), seed); err == nil {
			t.Errorf("seed %q: expected error", seed)
		}
	}
}

func Test_ExtractText(t *testing.T) {
	t.Parallel()

	html := `<html><head><title> Release &amp; Rollback </title>
<script>var x = "ignore me";</script>
<style>body { color: red }</style></head>
<body><h1>Release process</h1><p>Ship it &lt;carefully&gt;.</p>
<noscript>enable js</noscript></body></html>`

	title, text := ExtractText(html)
	if title != "Release & Rollback" {
		t.Errorf("title: got %q", title)
	}
	for _, forbidden := range []string{"ignore me", "color: red", "enable js", "<p>"} {
		if strings.Contains(text, forbidden) {
			t.Errorf("text retains %q:\n%s", forbidden, text)
		}
	}
	for _, want := range []string{"Release process", "Ship it <carefully>."} {
		if !strings.Contains(text, want) {
			t.Errorf("text lost %q:\n%s", want, text)
		}
	}
}

func Test_ExtractText_PlainText(t *testing.T) {
	t.Parallel()

	title, text := ExtractText("just plain text, no markup at all")
	if title != "" {
		t.Errorf("title: got %q", title)
	}
	if text != "just plain text, no markup at all" {
		t.Errorf("text: got %q", text)
	}
}
