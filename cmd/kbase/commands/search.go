package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knowos/kbase-go/internal/logging"
	"github.com/knowos/kbase-go/internal/search"
)

// NewSearchCmd constructs the `kbase search` command, which runs a hybrid
// query against the approved corpus and prints ranked results.
func NewSearchCmd() *cobra.Command {
	var limit int
	var offset int
	var category string
	var levelMin, levelMax int
	var keywords []string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Long: `Run a hybrid search combining semantic similarity with keyword relevance.
Only chunks of approved documents are searched. If the embedding backend is
unreachable the engine degrades to keyword-only scoring and says so.

Examples:
  kbase search "how do I rotate credentials"
  kbase search "deployment checklist" --limit 5 --category operations
  kbase search "tls setup" --level-min 3 --level-max 7`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			comps, err := buildComponents(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer comps.Close()

			vectorWeight, keywordWeight := searchWeights()
			results, err := comps.engine.Search(ctx, strings.Join(args, " "), search.Options{
				Limit:         limit,
				Offset:        offset,
				VectorWeight:  vectorWeight,
				KeywordWeight: keywordWeight,
				Filter: search.Filter{
					PrimaryCategory:   category,
					TechnicalLevelMin: levelMin,
					TechnicalLevelMax: levelMax,
					Keywords:          keywords,
				},
			})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if results.Degraded {
				fmt.Println("note: embedding backend unavailable — keyword-only results")
			}
			if len(results.Results) == 0 {
				fmt.Println("no results")
				return nil
			}

			for i, r := range results.Results {
				fmt.Printf("%d. [%.3f] %s (chunk %d)\n", results.Offset+i+1,
					r.Score, r.Chunk.DocumentID, r.Chunk.Index)
				fmt.Printf("   %s\n", snippet(r.Chunk.OriginalText, 200))
			}
			fmt.Printf("\n%d of %d results (offset %d)\n", len(results.Results), results.Total, results.Offset)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of results to skip")
	cmd.Flags().StringVar(&category, "category", "", "Filter by primary category")
	cmd.Flags().IntVar(&levelMin, "level-min", 0, "Minimum technical level (1-10)")
	cmd.Flags().IntVar(&levelMax, "level-max", 0, "Maximum technical level (1-10)")
	cmd.Flags().StringArrayVar(&keywords, "keyword", nil, "Filter by keyword (repeatable, any match)")

	return cmd
}

// snippet returns the first n characters of s on a single line.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n] + "…"
	}
	return s
}
