// Package ingest turns uploaded documents into index entries. The
// Orchestrator splits, labels and indexes one document; the Runner wraps it
// with file handling and status tracking; dispatchers schedule runs after the
// upload has been acknowledged.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/docustream/engine/chunker"
	"github.com/WessleyAI/docustream/engine/domain"
	"github.com/WessleyAI/docustream/pkg/fn"
	"github.com/google/uuid"
)

// Status values of a Result.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Result is the outcome of processing one document.
type Result struct {
	Status          string      `json:"status"`
	ChunksProcessed int         `json:"chunks_processed"`
	Error           string      `json:"error,omitempty"`
	ErrorKind       domain.Kind `json:"error_kind,omitempty"`
}

// Failed builds a failed Result from err.
func Failed(err error) Result {
	return Result{Status: StatusFailed, Error: err.Error(), ErrorKind: domain.KindOf(err)}
}

// Indexer stores chunk texts under the given metadata and ids.
type Indexer interface {
	AddDocuments(ctx context.Context, documents []string, metadatas []domain.Metadata, ids []string) error
}

// Orchestrator runs chunk -> prepare -> index for a single document.
type Orchestrator struct {
	pipeline fn.Stage[document, int]
	logger   *slog.Logger
}

type document struct {
	filename string
	content  string
}

type chunked struct {
	filename string
	chunks   []string
}

type prepared struct {
	documents []string
	metadatas []domain.Metadata
	ids       []string
}

// NewOrchestrator wires the pipeline. newID may be nil, in which case chunk
// ids are random UUIDv4 strings.
func NewOrchestrator(splitter *chunker.Splitter, index Indexer, newID func() string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if newID == nil {
		newID = uuid.NewString
	}

	chunk := fn.Named("ingest.chunk", logger, func(_ context.Context, d document) fn.Result[chunked] {
		return fn.Ok(chunked{filename: d.filename, chunks: splitter.Split(d.content)})
	})

	prepare := fn.Named("ingest.prepare", logger, fn.MapStage(func(c chunked) prepared {
		p := prepared{
			documents: c.chunks,
			metadatas: make([]domain.Metadata, len(c.chunks)),
			ids:       make([]string, len(c.chunks)),
		}
		for i := range c.chunks {
			p.metadatas[i] = domain.Metadata{Source: c.filename, ChunkIndex: i}
			p.ids[i] = newID()
		}
		return p
	}))

	store := fn.Named("ingest.index", logger, func(ctx context.Context, p prepared) fn.Result[int] {
		if len(p.documents) == 0 {
			return fn.Ok(0)
		}
		if err := index.AddDocuments(ctx, p.documents, p.metadatas, p.ids); err != nil {
			return fn.Err[int](err)
		}
		return fn.Ok(len(p.documents))
	})

	return &Orchestrator{
		pipeline: fn.Then(chunk, fn.Then(prepare, store)),
		logger:   logger,
	}
}

// Process indexes content under filename. It never panics and never returns
// an error: failures are reported in the Result.
func (o *Orchestrator) Process(ctx context.Context, filename, content string) (res Result) {
	defer func() {
		if v := recover(); v != nil {
			o.logger.Error("ingest: pipeline panic", "filename", filename, "panic", fmt.Sprint(v))
			res = Failed(fmt.Errorf("ingest: panic: %v", v))
		}
	}()

	n, err := o.pipeline(ctx, document{filename: filename, content: content}).Unwrap()
	if err != nil {
		o.logger.Error("ingest: processing failed", "filename", filename, "err", err, "kind", domain.KindOf(err))
		return Failed(err)
	}
	o.logger.Info("ingest: processed", "filename", filename, "chunks", n)
	return Result{Status: StatusSuccess, ChunksProcessed: n}
}
