// Package commands defines all Cobra CLI commands for the kbase binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/knowos/kbase-go/internal/audit"
	"github.com/knowos/kbase-go/internal/config"
	"github.com/knowos/kbase-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kbase",
		Short: "kbase — a hybrid-search knowledge base with a review workflow",
		Long: `kbase is a local-first knowledge base for teams.

Documents are ingested, analysed, chunked and embedded, then held for admin
review; approved content becomes searchable through a hybrid retrieval
engine that fuses semantic similarity with keyword relevance.

Providers are selected via environment variables or a YAML config file
(~/.kbase/config.yaml). See 'kbase --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A .env in the working directory seeds the environment for local
			// development; real env vars still win.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.kbase/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewCrawlCmd(),
		NewSearchCmd(),
		NewReviewCmd(),
		NewVersionCmd(),
	)

	return root
}
