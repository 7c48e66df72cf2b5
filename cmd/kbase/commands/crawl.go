package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/knowos/kbase-go/internal/crawler"
	"github.com/knowos/kbase-go/internal/logging"
)

// NewCrawlCmd constructs the `kbase crawl` command, which crawls a website
// and ingests its pages as pending documents.
func NewCrawlCmd() *cobra.Command {
	var maxPages int
	var rps float64

	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a website and ingest its pages",
		Long: `Crawl same-domain pages breadth-first from the given seed URL, strip each
page to readable text, and run it through the ingestion pipeline. Fetches
are rate limited to stay polite; pages whose content is already in the
corpus are skipped.

Examples:
  kbase crawl https://docs.example.com
  kbase crawl https://docs.example.com --max-pages 100 --rps 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			comps, err := buildComponents(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			defer comps.Close()

			c, err := crawler.New(comps.pipeline, crawler.Config{
				MaxPages:          maxPages,
				RequestsPerSecond: rps,
				UserAgent:         getEnvOrDefault("KBASE_CRAWL_USER_AGENT", ""),
			})
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}

			report, err := c.Crawl(ctx, args[0])
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}

			fmt.Printf("crawl finished: %d fetched, %d ingested, %d duplicates, %d failures\n",
				report.Fetched, report.Ingested, report.Duplicates, report.Failures)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxPages, "max-pages", getEnvInt("KBASE_CRAWL_MAX_PAGES", 25), "Maximum number of pages to fetch")
	cmd.Flags().Float64Var(&rps, "rps", getEnvFloat("KBASE_CRAWL_RPS", 1), "Requests per second against the target host")

	return cmd
}
