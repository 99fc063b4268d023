package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/WessleyAI/docustream/engine/domain"
)

// ErrNotUTF8 is returned for documents that are not valid UTF-8 text.
var ErrNotUTF8 = errors.New("document is not valid UTF-8")

// ReadDocument reads a text document from path.
func ReadDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", domain.E(domain.KindReadFailure, "ingest: read", err)
	}
	if !utf8.Valid(data) {
		return "", domain.E(domain.KindReadFailure, "ingest: read", fmt.Errorf("%s: %w", path, ErrNotUTF8))
	}
	return string(data), nil
}

// Runner performs the deferred part of an upload: read the temp file,
// process it, remove the file and record the outcome.
type Runner struct {
	orch    *Orchestrator
	tracker *Tracker
	metrics *Metrics
	logger  *slog.Logger
}

// NewRunner creates a Runner. tracker and metrics may be nil.
func NewRunner(orch *Orchestrator, tracker *Tracker, m *Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{orch: orch, tracker: tracker, metrics: m, logger: logger}
}

// Run processes job. It never panics; the temp file is removed whatever
// the outcome.
func (r *Runner) Run(ctx context.Context, job Job) (res Result) {
	start := time.Now()
	r.tracker.Started(job)
	r.metrics.begin()

	defer func() {
		if v := recover(); v != nil {
			res = Failed(fmt.Errorf("ingest: panic: %v", v))
		}
		if err := os.Remove(job.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("ingest: temp file not removed", "path", job.Path, "err", err)
		}
		r.metrics.end()
		r.metrics.observe(res, start)
		r.tracker.Finished(job, res)
		r.metrics.setTracked(r.tracker.Len())

		attrs := []any{
			"ingestion_id", job.ID,
			"filename", job.Filename,
			"chunks", res.ChunksProcessed,
			"duration", time.Since(start),
		}
		if res.Status == StatusSuccess {
			r.logger.Info("ingestion finished", attrs...)
		} else {
			r.logger.Error("ingestion failed", append(attrs, "err", res.Error, "kind", res.ErrorKind)...)
		}
	}()

	content, err := ReadDocument(job.Path)
	if err != nil {
		return Failed(err)
	}
	return r.orch.Process(ctx, job.Filename, content)
}
