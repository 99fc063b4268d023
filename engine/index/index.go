// Package index is the indexing client: it embeds chunk texts and queries
// with one embedding provider and reads and writes a single vector store
// collection.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/docustream/engine/domain"
	"github.com/WessleyAI/docustream/engine/semantic"
	"github.com/WessleyAI/docustream/pkg/embed"
	"github.com/WessleyAI/docustream/pkg/fn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/WessleyAI/docustream/engine/index")

// Options configures the client.
type Options struct {
	// EmbedBatchSize is the number of texts sent per embedding call.
	EmbedBatchSize int
	// EmbedWorkers bounds concurrent embedding calls.
	EmbedWorkers int
	// SearchTimeout bounds the vector store lookup of a query. Zero means none.
	SearchTimeout time.Duration
}

// DefaultOptions returns 100-text batches, 4 workers and a 10s search timeout.
func DefaultOptions() Options {
	return Options{
		EmbedBatchSize: 100,
		EmbedWorkers:   4,
		SearchTimeout:  10 * time.Second,
	}
}

// Client owns the embedder and the vector store for one collection.
type Client struct {
	embedder embed.Embedder
	store    semantic.Store
	opts     Options
	logger   *slog.Logger
}

// New creates a Client. The store's collection should already exist.
func New(embedder embed.Embedder, store semantic.Store, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = def.EmbedBatchSize
	}
	if opts.EmbedWorkers <= 0 {
		opts.EmbedWorkers = def.EmbedWorkers
	}
	return &Client{embedder: embedder, store: store, opts: opts, logger: logger}
}

// AddDocuments embeds documents and stores one entry per document under the
// matching id and metadata. The three slices must line up and ids must be
// unique. Empty input is a no-op.
func (c *Client) AddDocuments(ctx context.Context, documents []string, metadatas []domain.Metadata, ids []string) (err error) {
	if err := domain.ValidateBatch(documents, metadatas, ids); err != nil {
		return err
	}
	if len(documents) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "index.AddDocuments", trace.WithAttributes(
		attribute.Int("documents", len(documents)),
		attribute.String("embed.model", c.embedder.Model()),
	))
	defer endSpan(span, &err)

	vectors, err := c.embedAll(ctx, documents)
	if err != nil {
		return domain.E(domain.KindEmbedFailure, "index: embed documents", err)
	}

	records := make([]semantic.VectorRecord, len(documents))
	for i := range documents {
		records[i] = semantic.VectorRecord{
			ID:        ids[i],
			Embedding: vectors[i],
			Document:  documents[i],
			Metadata:  metadatas[i].Map(),
		}
	}
	if err := c.store.Upsert(ctx, records); err != nil {
		return domain.E(domain.KindStoreFailure, "index: upsert", err)
	}

	if n, cerr := c.store.Count(ctx); cerr != nil {
		c.logger.Warn("index stats unavailable", "err", cerr)
	} else {
		c.logger.Info("index stats", "added", len(records), "total", n)
	}
	return nil
}

// embedAll embeds texts in order-preserving batches with bounded parallelism.
func (c *Client) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	batches := fn.Batch(texts, c.opts.EmbedBatchSize)
	results := fn.ParMapResult(batches, c.opts.EmbedWorkers, func(batch []string) fn.Result[[][]float32] {
		vs, err := c.embedder.EmbedDocuments(ctx, batch)
		if err == nil && len(vs) != len(batch) {
			err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vs), len(batch))
		}
		return fn.FromPair(vs, err)
	})
	all, err := fn.Collect(results).Unwrap()
	if err != nil {
		return nil, err
	}
	return fn.Flatten(all), nil
}

// Query embeds text and returns the n nearest entries, closest first.
func (c *Client) Query(ctx context.Context, text string, n int) (res *domain.QueryResult, err error) {
	if err := domain.ValidateQuery(text, n); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "index.Query", trace.WithAttributes(attribute.Int("top_k", n)))
	defer endSpan(span, &err)

	vec, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, domain.E(domain.KindEmbedFailure, "index: embed query", err)
	}

	searchCtx := ctx
	if c.opts.SearchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, c.opts.SearchTimeout)
		defer cancel()
	}
	hits, err := c.store.Search(searchCtx, vec, n)
	if err != nil {
		return nil, domain.E(domain.KindStoreFailure, "index: search", err)
	}
	c.logger.Debug("index query done", "results", len(hits))
	return toQueryResult(hits), nil
}

// Close releases the vector store.
func (c *Client) Close() error {
	return c.store.Close()
}

func toQueryResult(hits []semantic.SearchResult) *domain.QueryResult {
	res := &domain.QueryResult{
		IDs:       make([]string, len(hits)),
		Documents: make([]string, len(hits)),
		Metadatas: make([]map[string]any, len(hits)),
		Distances: make([]float32, len(hits)),
	}
	for i, h := range hits {
		res.IDs[i] = h.ID
		res.Documents[i] = h.Document
		res.Metadatas[i] = h.Metadata
		res.Distances[i] = h.Distance
	}
	return res
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
