// Package embed turns text into fixed-length vectors. The same Embedder must
// serve both ingestion and queries so that stored and query vectors share a
// space.
package embed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Embedder produces embeddings for documents and queries.
type Embedder interface {
	// EmbedDocuments returns one vector per text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension is the vector length, or 0 when it is only known after the
	// first call.
	Dimension() int
	Model() string
}

// ProbeDimension returns e's dimension, embedding a short probe text when the
// provider does not declare one.
func ProbeDimension(ctx context.Context, e Embedder) (int, error) {
	if d := e.Dimension(); d > 0 {
		return d, nil
	}
	v, err := e.EmbedQuery(ctx, "dimension probe")
	if err != nil {
		return 0, fmt.Errorf("embed: probe dimension: %w", err)
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("embed: probe dimension: %s returned an empty vector", e.Model())
	}
	return len(v), nil
}

// newHTTPClient returns a traced client for provider calls.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Code, e.Body)
}
