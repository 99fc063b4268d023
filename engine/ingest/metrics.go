package ingest

import (
	"time"

	"github.com/WessleyAI/docustream/pkg/metrics"
)

// Metrics are the ingestion series. A nil *Metrics records nothing.
type Metrics struct {
	succeeded *metrics.Counter
	failed    *metrics.Counter
	chunks    *metrics.Counter
	duration  *metrics.Histogram
	queued    *metrics.Gauge
	inflight  *metrics.Gauge
	tracked   *metrics.Gauge
}

// NewMetrics registers the ingestion series on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	const docs = "docustream_documents_total"
	return &Metrics{
		succeeded: reg.Counter(metrics.WithLabels(docs, "status", StatusSuccess), "Documents processed by outcome."),
		failed:    reg.Counter(metrics.WithLabels(docs, "status", StatusFailed), "Documents processed by outcome."),
		chunks:    reg.Counter("docustream_chunks_total", "Chunks written to the index."),
		duration:  reg.Histogram("docustream_ingest_duration_seconds", "Time to process one document.", nil),
		queued:    reg.Gauge("docustream_ingest_queue_depth", "Jobs waiting for a worker."),
		inflight:  reg.Gauge("docustream_ingest_inflight", "Jobs being processed."),
		tracked:   reg.Gauge("docustream_ingest_jobs_tracked", "Job status records held for lookup."),
	}
}

func (m *Metrics) observe(res Result, start time.Time) {
	if m == nil {
		return
	}
	m.duration.Since(start)
	if res.Status == StatusSuccess {
		m.succeeded.Inc()
		m.chunks.Add(int64(res.ChunksProcessed))
		return
	}
	m.failed.Inc()
}

func (m *Metrics) setQueued(n int) {
	if m != nil {
		m.queued.Set(int64(n))
	}
}

func (m *Metrics) setTracked(n int) {
	if m != nil {
		m.tracked.Set(int64(n))
	}
}

func (m *Metrics) begin() {
	if m != nil {
		m.inflight.Inc()
	}
}

func (m *Metrics) end() {
	if m != nil {
		m.inflight.Dec()
	}
}
