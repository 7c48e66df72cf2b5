// Package crawler implements a polite, same-domain web crawler that feeds
// fetched pages into the ingestion pipeline. It walks links breadth-first
// from a seed URL, strips pages down to readable text, and stops at a page
// budget. Request pacing uses a token-bucket limiter so a crawl never
// hammers the target host.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/knowos/kbase-go/internal/corpus"
	"github.com/knowos/kbase-go/internal/ingest"
	"github.com/knowos/kbase-go/internal/logging"
)

// Crawl defaults.
const (
	defaultMaxPages       = 25
	defaultRequestsPerSec = 1.0
	defaultFetchTimeout   = 15 * time.Second
	maxBodyBytes          = 2 << 20 // 2 MiB per page
)

// Config controls a crawl.
type Config struct {
	// MaxPages is the page budget (default 25).
	MaxPages int

	// RequestsPerSecond paces fetches against the target host (default 1).
	RequestsPerSecond float64

	// FetchTimeout bounds each page fetch (default 15s).
	FetchTimeout time.Duration

	// UserAgent identifies the crawler to the target host.
	UserAgent string
}

func (c *Config) resolve() {
	if c.MaxPages <= 0 {
		c.MaxPages = defaultMaxPages
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaultRequestsPerSec
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = "kbase-crawler/1.0"
	}
}

// Report summarises a finished crawl.
type Report struct {
	// Fetched is the number of pages successfully fetched.
	Fetched int `json:"fetched"`

	// Ingested is the number of pages that became pending documents.
	Ingested int `json:"ingested"`

	// Duplicates is the number of pages whose content was already in the
	// corpus. Duplicates are expected on re-crawls and are not failures.
	Duplicates int `json:"duplicates"`

	// Failures is the number of pages that could not be fetched or ingested.
	Failures int `json:"failures"`
}

// Crawler fetches same-domain pages and hands them to the ingestion pipeline.
type Crawler struct {
	pipeline *ingest.Pipeline
	client   *http.Client
	cfg      Config
}

// New constructs a Crawler around the given pipeline.
func New(pipeline *ingest.Pipeline, cfg Config) (*Crawler, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("crawler: pipeline must not be nil")
	}
	cfg.resolve()
	return &Crawler{
		pipeline: pipeline,
		client:   &http.Client{Timeout: cfg.FetchTimeout},
		cfg:      cfg,
	}, nil
}

// Crawl walks links breadth-first from seed, staying on the seed's host,
// until the page budget is exhausted or the frontier empties. Every fetched
// page is reduced to text and ingested; duplicate content and per-page
// failures are counted, not fatal.
func (c *Crawler) Crawl(ctx context.Context, seed string) (*Report, error) {
	log := logging.FromContext(ctx)

	root, err := url.Parse(seed)
	if err != nil || root.Host == "" || (root.Scheme != "http" && root.Scheme != "https") {
		return nil, fmt.Errorf("crawler: invalid seed URL %q", seed)
	}

	limiter := rate.NewLimiter(rate.Limit(c.cfg.RequestsPerSecond), 1)
	frontier := []string{root.String()}
	visited := map[string]struct{}{}
	report := &Report{}

	for len(frontier) > 0 && report.Fetched < c.cfg.MaxPages {
		pageURL := frontier[0]
		frontier = frontier[1:]
		if _, seen := visited[normalizeURL(pageURL)]; seen {
			continue
		}
		visited[normalizeURL(pageURL)] = struct{}{}

		if err := limiter.Wait(ctx); err != nil {
			return report, fmt.Errorf("crawler: %w", err)
		}

		body, err := c.fetch(ctx, pageURL)
		if err != nil {
			log.Warn("crawler: fetch failed", slog.String("url", pageURL), slog.Any("error", err))
			report.Failures++
			continue
		}
		report.Fetched++

		title, text := ExtractText(body)
		for _, link := range extractLinks(body, root) {
			if _, seen := visited[normalizeURL(link)]; !seen {
				frontier = append(frontier, link)
			}
		}

		if strings.TrimSpace(text) == "" {
			log.Debug("crawler: page had no text", slog.String("url", pageURL))
			continue
		}

		source := pageURL
		if title != "" {
			source = fmt.Sprintf("%s (%s)", title, pageURL)
		}
		_, err = c.pipeline.Ingest(ctx, text, source)
		switch {
		case err == nil:
			report.Ingested++
		case isDuplicate(err):
			report.Duplicates++
		default:
			log.Warn("crawler: ingest failed", slog.String("url", pageURL), slog.Any("error", err))
			report.Failures++
		}
	}

	log.Info("crawler: crawl complete",
		slog.String("seed", seed),
		slog.Int("fetched", report.Fetched),
		slog.Int("ingested", report.Ingested),
		slog.Int("duplicates", report.Duplicates),
		slog.Int("failures", report.Failures),
	)
	return report, nil
}

// fetch retrieves one page, returning its body capped at maxBodyBytes.
func (c *Crawler) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/html") && !strings.Contains(ct, "text/plain") {
		return "", fmt.Errorf("fetch: unsupported content type %q", ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

var (
	titleRe  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
	linesRe  = regexp.MustCompile(`\n{3,}`)
	hrefRe   = regexp.MustCompile(`(?i)<a[^>]+href\s*=\s*["']([^"'#]+)["']`)
)

// ExtractText reduces an HTML page to its title and readable text: script,
// style and markup stripped, entities decoded, whitespace collapsed.
func ExtractText(page string) (title, text string) {
	if m := titleRe.FindStringSubmatch(page); m != nil {
		title = strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(m[1], "")))
	}

	body := scriptRe.ReplaceAllString(page, " ")
	body = tagRe.ReplaceAllString(body, "\n")
	body = html.UnescapeString(body)
	body = spaceRe.ReplaceAllString(body, " ")

	var lines []string
	for _, line := range strings.Split(body, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	text = linesRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return title, text
}

// extractLinks returns the absolute same-host HTTP links found on the page.
func extractLinks(page string, root *url.URL) []string {
	var out []string
	for _, m := range hrefRe.FindAllStringSubmatch(page, -1) {
		ref, err := url.Parse(strings.TrimSpace(m[1]))
		if err != nil {
			continue
		}
		abs := root.ResolveReference(ref)
		if abs.Host != root.Host || (abs.Scheme != "http" && abs.Scheme != "https") {
			continue
		}
		abs.Fragment = ""
		out = append(out, abs.String())
	}
	return out
}

// normalizeURL canonicalises a URL for the visited set.
func normalizeURL(raw string) string {
	return strings.TrimSuffix(raw, "/")
}

// isDuplicate reports whether an ingest failure was a content-hash duplicate.
func isDuplicate(err error) bool {
	return errors.Is(err, corpus.ErrDuplicateContent)
}
