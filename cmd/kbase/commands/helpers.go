package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/knowos/kbase-go/internal/analyzer"
	"github.com/knowos/kbase-go/internal/corpus"
	"github.com/knowos/kbase-go/internal/corpus/filestore"
	"github.com/knowos/kbase-go/internal/corpus/sqlstore"
	"github.com/knowos/kbase-go/internal/embedder"
	"github.com/knowos/kbase-go/internal/ingest"
	"github.com/knowos/kbase-go/internal/search"
)

// openStore constructs the corpus store selected by KBASE_STORAGE_BACKEND:
// "sqlite" (default) or "file".
func openStore() (corpus.Store, error) {
	backend := getEnvOrDefault("KBASE_STORAGE_BACKEND", "sqlite")
	path := os.Getenv("KBASE_STORAGE_PATH")

	switch backend {
	case "sqlite":
		if path == "" {
			var err error
			path, err = sqlstore.DefaultDBPath()
			if err != nil {
				return nil, err
			}
		}
		return sqlstore.Open(path)
	case "file":
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine home directory: %w", err)
			}
			path = home + "/.kbase/corpus"
		}
		return filestore.Open(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q — valid values: sqlite, file", backend)
	}
}

// buildIndex returns the vector index: a Qdrant-backed one when QDRANT_HOST
// is set, otherwise the in-process exhaustive index.
func buildIndex(ctx context.Context, log *slog.Logger) (search.Index, error) {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		log.Info("vector index: in-process (QDRANT_HOST not set)")
		return search.NewExhaustiveIndex(), nil
	}

	embBackend := embedder.ResolveBackend()
	idx, err := search.NewQdrantIndex(ctx, &search.QdrantConfig{
		Host:       host,
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "kbase-chunks"),
		VectorSize: uint64(embedder.DefaultDimensions(embBackend)), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, err
	}
	log.Info("vector index: qdrant",
		slog.String("host", host),
		slog.String("collection", getEnvOrDefault("QDRANT_COLLECTION", "kbase-chunks")),
	)
	return idx, nil
}

// components bundles the constructed retrieval stack shared by subcommands.
type components struct {
	store    corpus.Store
	embed    embedder.Embedder
	index    search.Index
	engine   *search.Engine
	pipeline *ingest.Pipeline
}

// buildComponents wires store, embedder, index, engine, and pipeline from
// the environment. reg receives the engine's Prometheus metrics and may be
// nil for commands that do not expose /metrics. Callers must Close() when done.
func buildComponents(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*components, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}

	store, err := openStore()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("provider", embedder.ResolveBackend()))

	index, err := buildIndex(ctx, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	engine, err := search.NewEngine(store, emb, index, reg)
	if err != nil {
		_ = index.Close()
		_ = store.Close()
		return nil, err
	}
	if err := engine.Refresh(ctx); err != nil {
		log.Warn("initial statistics build failed", slog.Any("error", err))
	}

	analyze, err := analyzer.NewFromEnv(ctx)
	if err != nil {
		_ = index.Close()
		_ = store.Close()
		return nil, fmt.Errorf("initialise analyzer: %w", err)
	}

	pipeline, err := ingest.NewPipeline(store, emb, analyze, index, engine, ingest.Config{
		Chunker: ingest.ChunkerConfig{
			ChunkSize:    getEnvInt("KBASE_CHUNK_SIZE", 0),
			ChunkOverlap: getEnvInt("KBASE_CHUNK_OVERLAP", 0),
		},
		Contextual: os.Getenv("KBASE_CONTEXTUAL_CHUNKS") == "true",
	})
	if err != nil {
		_ = index.Close()
		_ = store.Close()
		return nil, err
	}

	return &components{store: store, embed: emb, index: index, engine: engine, pipeline: pipeline}, nil
}

// Close releases the stack's resources in reverse construction order.
func (c *components) Close() {
	_ = c.index.Close()
	_ = c.store.Close()
}

// searchWeights reads the fusion weight overrides from the environment,
// returning zeroes (engine defaults) when unset.
func searchWeights() (vector, keyword float64) {
	return getEnvFloat("KBASE_VECTOR_WEIGHT", 0), getEnvFloat("KBASE_KEYWORD_WEIGHT", 0)
}

// getEnvOrDefault returns the env var value, or fallback if unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer env var value, or fallback if unset or invalid.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat returns the float env var value, or fallback if unset or invalid.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
