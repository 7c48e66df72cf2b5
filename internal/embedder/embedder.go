// Package embedder provides the Embedder contract and implementations for
// converting text into dense vector embeddings. Each implementation talks to
// a different backend (OpenAI, Azure OpenAI, Ollama) via plain HTTP — no
// additional SDK dependencies are required.
//
// Failures carry a retryable/non-retryable distinction: transport errors,
// timeouts, 429 and 5xx responses wrap ErrUnavailable so callers can fall
// back (search degrades to keyword-only) or retry; everything else —
// bad credentials, malformed requests — is a configuration error and is
// returned plain.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnavailable marks a retryable embedding failure: the service did not
// produce embeddings but may on a later attempt. Test with errors.Is.
var ErrUnavailable = errors.New("embedder: service unavailable")

// Embedder converts text into dense vector embeddings. Implementations must
// be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedText embeds a single text via e. It exists so single-query callers
// (the search engine) share the batch contract instead of growing a second
// method on every implementation.
func EmbedText(ctx context.Context, e Embedder, text string) ([]float32, error) {
	embeddings, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("embedder: expected 1 embedding, got %d", len(embeddings))
	}
	return embeddings[0], nil
}

// unavailable wraps err (or a formatted message) as a retryable failure.
func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// statusRetryable reports whether an HTTP status from an embedding backend
// indicates a transient condition worth retrying.
func statusRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
