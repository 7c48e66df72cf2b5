package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/knowos/kbase-go/internal/ingest"
	"github.com/knowos/kbase-go/internal/logging"
)

// NewReviewCmd constructs the `kbase review` command group for the document
// approval workflow.
func NewReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review pending documents",
		Long: `List, approve, and reject ingested documents.

Documents enter the corpus pending and stay invisible to search until
approved. Rejection keeps the document and its chunks but excludes them
from search; it is reversible with a later approve.`,
	}

	cmd.AddCommand(newReviewListCmd(), newReviewApplyCmd(true), newReviewApplyCmd(false))
	return cmd
}

// newReviewListCmd constructs `kbase review pending`.
func newReviewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List documents awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			store, err := openStore()
			if err != nil {
				return fmt.Errorf("review: %w", err)
			}
			defer store.Close()

			docs, err := store.Documents(ctx)
			if err != nil {
				return fmt.Errorf("review: %w", err)
			}

			pending := 0
			for _, doc := range docs {
				if doc.Approved {
					continue
				}
				pending++
				fmt.Printf("%s  %s", doc.ID, doc.Source)
				if doc.Metadata.Summary != "" {
					fmt.Printf("\n    %s", snippet(doc.Metadata.Summary, 160))
				}
				fmt.Println()
			}
			if pending == 0 {
				fmt.Println("no documents pending review")
			}
			return nil
		},
	}
}

// newReviewApplyCmd constructs `kbase review approve` or `kbase review reject`.
func newReviewApplyCmd(approve bool) *cobra.Command {
	use, short := "approve <id>...", "Approve documents, making them searchable"
	if !approve {
		use, short = "reject <id>...", "Reject documents, excluding them from search"
	}

	var comments string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			comps, err := buildComponents(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("review: %w", err)
			}
			defer comps.Close()

			var items []ingest.ReviewItem
			if approve {
				items = comps.pipeline.Approve(ctx, args, comments)
			} else {
				items = comps.pipeline.Reject(ctx, args, comments)
			}

			for _, item := range items {
				if item.OK {
					fmt.Printf("%s: ok\n", item.DocumentID)
				} else {
					fmt.Printf("%s: %s\n", item.DocumentID, item.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&comments, "comments", "m", "", "Reviewer comments to record")
	return cmd
}
