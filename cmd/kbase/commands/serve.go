package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/knowos/kbase-go/internal/embedder"
	"github.com/knowos/kbase-go/internal/logging"
	"github.com/knowos/kbase-go/internal/search"
	"github.com/knowos/kbase-go/internal/server"
	"github.com/knowos/kbase-go/internal/tracing"
)

// NewServeCmd constructs the `kbase serve` command, which starts the HTTP
// server exposing search, ingestion, and the review workflow.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kbase HTTP server",
		Long: `Start the kbase HTTP server on localhost.

The server exposes hybrid search (POST /api/search), document ingestion
(POST /api/documents), the review workflow (approve/reject), chunk editing,
and Prometheus metrics on /metrics.

Examples:
  kbase serve
  kbase serve --port 9090
  KBASE_STORAGE_BACKEND=file kbase serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("storage", getEnvOrDefault("KBASE_STORAGE_BACKEND", "sqlite")),
				slog.String("embedding", embedder.ResolveBackend()),
			)

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			reg := prometheus.NewRegistry()
			comps, err := buildComponents(ctx, log, reg)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer comps.Close()

			pingers := []server.Pinger{
				server.NewStorePinger(comps.store),
				server.NewEmbedderPinger(comps.embed, embedder.ResolveBackend()),
			}
			if qdrantIdx, ok := comps.index.(*search.QdrantIndex); ok {
				pingers = append(pingers, server.NewQdrantPinger(qdrantIdx.Client()))
			}

			srv, err := server.New(comps.engine, comps.pipeline, comps.store, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("KBASE_API_KEY"),
			}, reg)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
