package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/knowos/kbase-go/internal/corpus"
	"github.com/knowos/kbase-go/internal/embedder"
)

// EmbedderPinger probes an embedding backend by embedding a single short
// text. It satisfies the Pinger interface and is used by GET /api/ready.
type EmbedderPinger struct {
	// embed is the embedding client to probe.
	embed embedder.Embedder
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewEmbedderPinger constructs an EmbedderPinger for the given embedder and
// backend name.
func NewEmbedderPinger(e embedder.Embedder, name string) *EmbedderPinger {
	return &EmbedderPinger{embed: e, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *EmbedderPinger) Name() string { return p.name }

// Ping embeds a one-word text to verify the backend is reachable and the
// configured model exists.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	if _, err := embedder.EmbedText(ctx, p.embed, "ping"); err != nil {
		return fmt.Errorf("embed failed: %w", err)
	}
	return nil
}

// StorePinger probes the corpus store with a cheap read.
type StorePinger struct {
	// store is the corpus store to probe.
	store corpus.Store
}

// NewStorePinger constructs a StorePinger for the given store.
func NewStorePinger(store corpus.Store) *StorePinger {
	return &StorePinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return "store" }

// Ping lists documents to verify the store is readable.
func (p *StorePinger) Ping(ctx context.Context) error {
	if _, err := p.store.Documents(ctx); err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
