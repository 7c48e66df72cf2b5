package search

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/knowos/kbase-go/internal/corpus"
)

// QdrantConfig holds connection parameters for a Qdrant-backed vector index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this
	// collection. Must match the embedding backend's output dimension.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements Index backed by a Qdrant collection. The ingestion
// pipeline writes chunk embeddings through to the collection; at query time
// the engine asks Qdrant for similarity scores and intersects them with the
// searchable candidate set, so approval gating never depends on Qdrant's
// view of the corpus.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex connects to Qdrant, ensures the target collection exists
// (creating it with cosine distance if necessary), and returns a ready index.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", q.cfg.Collection, err)
	}
	return nil
}

// Upsert writes the chunks' embeddings into the collection. Chunks without
// an embedding are skipped — they stay invisible to vector scoring until a
// later re-embed succeeds.
func (q *QdrantIndex) Upsert(ctx context.Context, chunks []corpus.Chunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(map[string]interface{}{
				"document_id": c.DocumentID,
				"chunk_index": int64(c.Index),
			}),
		})
	}
	if len(points) == 0 {
		return nil
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Delete removes the vectors for the given chunk IDs.
func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}
	return nil
}

// Score queries the collection for the candidates' similarity scores. The
// query is filtered to the candidates' documents so vectors of unapproved
// documents in the same collection never consume top-K slots. Candidates
// Qdrant does not return (never indexed, or embedding failed at ingestion)
// are simply absent from the result map.
func (q *QdrantIndex) Score(ctx context.Context, query []float32, candidates []corpus.Chunk) (map[string]float64, error) {
	limit := uint64(len(candidates))
	if limit == 0 {
		return map[string]float64{}, nil
	}

	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Filter:         candidateFilter(candidates),
		Limit:          &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query failed: %w", err)
	}

	wanted := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		wanted[c.ID] = struct{}{}
	}

	scores := make(map[string]float64, len(results))
	for _, r := range results {
		id := r.Id.GetUuid()
		if _, ok := wanted[id]; !ok {
			continue
		}
		scores[id] = float64(r.Score)
	}
	return scores, nil
}

// candidateFilter restricts a query to the candidates' documents via the
// document_id payload written at upsert time.
func candidateFilter(candidates []corpus.Chunk) *qdrant.Filter {
	seen := make(map[string]struct{}, len(candidates))
	docIDs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.DocumentID]; ok {
			continue
		}
		seen[c.DocumentID] = struct{}{}
		docIDs = append(docIDs, c.DocumentID)
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchKeywords("document_id", docIDs...)},
	}
}

// Client exposes the underlying gRPC client for health probes.
func (q *QdrantIndex) Client() *qdrant.Client {
	return q.client
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
