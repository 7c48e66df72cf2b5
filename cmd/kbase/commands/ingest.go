package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/knowos/kbase-go/internal/ingest"
	"github.com/knowos/kbase-go/internal/logging"
)

// NewIngestCmd constructs the `kbase ingest` command, which runs the
// ingestion pipeline over local files and leaves the resulting documents
// pending review.
func NewIngestCmd() *cobra.Command {
	var files []string
	var source string
	var contextual bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest local files into the knowledge base",
		Long: `Read local text files, analyse and chunk them, embed the chunks, and
persist the resulting documents as pending. Pending documents are invisible
to search until approved with 'kbase review approve'.

Duplicate content (matched by content hash) is reported and skipped.

Examples:
  kbase ingest --file notes.md
  kbase ingest --file a.txt --file b.txt --contextual
  kbase ingest --file guide.md --source "onboarding guide"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if len(files) == 0 {
				return fmt.Errorf("ingest: at least one --file is required")
			}

			if contextual {
				os.Setenv("KBASE_CONTEXTUAL_CHUNKS", "true")
			}

			comps, err := buildComponents(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer comps.Close()

			inputs := make([]ingest.Input, 0, len(files))
			for _, file := range files {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("ingest: read %s: %w", file, err)
				}
				src := source
				if src == "" {
					src = filepath.Base(file)
				}
				inputs = append(inputs, ingest.Input{Text: string(data), Source: src})
			}

			log.Info("starting ingestion", slog.Int("files", len(inputs)))
			items := comps.pipeline.IngestAll(ctx, inputs)

			for _, item := range items {
				switch item.Status {
				case ingest.StatusPending:
					fmt.Printf("%s: pending review (document %s, %d chunks",
						item.Source, item.Receipt.DocumentID, item.Receipt.ChunkCount)
					if n := len(item.Receipt.FailedChunks); n > 0 {
						fmt.Printf(", %d chunks without embedding", n)
					}
					fmt.Println(")")
				case ingest.StatusDuplicate:
					fmt.Printf("%s: skipped — %s\n", item.Source, item.Error)
				default:
					fmt.Printf("%s: failed — %s\n", item.Source, item.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "File to ingest (repeatable)")
	cmd.Flags().StringVarP(&source, "source", "s", "", "Source label to record (default: file name)")
	cmd.Flags().BoolVar(&contextual, "contextual", false, "Prefix chunk embeddings with document context")

	return cmd
}
