// Package api is the HTTP surface of the service: health, document upload,
// ingestion status, semantic query and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/WessleyAI/docustream/engine/domain"
	"github.com/WessleyAI/docustream/engine/ingest"
	"github.com/WessleyAI/docustream/pkg/metrics"
	"github.com/WessleyAI/docustream/pkg/mid"
)

// DefaultTopK is used when a query omits top_k.
const DefaultTopK = 3

// Searcher answers nearest-neighbour queries.
type Searcher interface {
	Query(ctx context.Context, text string, n int) (*domain.QueryResult, error)
}

// Submitter schedules an ingestion job.
type Submitter interface {
	Submit(ctx context.Context, job ingest.Job) error
}

// StatusLookup finds the status of a job by id.
type StatusLookup interface {
	Get(id string) (ingest.JobStatus, bool)
}

// Options configures the handlers.
type Options struct {
	UploadDir         string
	AllowedExtensions []string
	MaxUploadBytes    int64
	CORSOrigin        string
	// ServiceName names the server spans.
	ServiceName string
	// Metrics, when set, is served on /metrics and receives request series.
	Metrics *metrics.Registry
}

// Server holds the handlers' collaborators.
type Server struct {
	search Searcher
	submit Submitter
	status StatusLookup
	opts   Options
	logger *slog.Logger

	queryLatency *metrics.Histogram
	uploads      func(outcome string) *metrics.Counter
}

// New creates a Server. status may be nil, in which case GET /ingest/{id}
// always answers 404.
func New(search Searcher, submit Submitter, status StatusLookup, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.UploadDir == "" {
		opts.UploadDir = os.TempDir()
	}
	if len(opts.AllowedExtensions) == 0 {
		opts.AllowedExtensions = domain.DefaultExtensions
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "docustream"
	}
	s := &Server{search: search, submit: submit, status: status, opts: opts, logger: logger}
	if reg := opts.Metrics; reg != nil {
		s.queryLatency = reg.Histogram("docustream_query_duration_seconds", "Time to answer a query.", nil)
		s.uploads = func(outcome string) *metrics.Counter {
			return reg.Counter(metrics.WithLabels("docustream_uploads_total", "outcome", outcome), "Upload requests by outcome.")
		}
	}
	return s
}

// Routes returns the mux wrapped in the standard middleware chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.Handle("POST /ingest", mid.MaxBody(s.opts.MaxUploadBytes)(http.HandlerFunc(s.handleIngest)))
	mux.HandleFunc("GET /ingest/{id}", s.handleStatus)
	mux.HandleFunc("POST /query", s.handleQuery)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics.Handler())
	}

	return mid.Chain(mux,
		mid.OTel(s.opts.ServiceName),
		mid.RequestID(),
		mid.Logger(s.logger),
		mid.Recover(s.logger),
		mid.CORS(s.opts.CORSOrigin),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// IngestResponse acknowledges an accepted upload.
type IngestResponse struct {
	Message     string `json:"message"`
	Filename    string `json:"filename"`
	IngestionID string `json:"ingestion_id"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	filename, path, err := s.receiveUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.countUpload("too_large")
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
		case domain.IsKind(err, domain.KindExtensionRejected), domain.IsKind(err, domain.KindInvalidInput):
			s.countUpload("rejected")
			writeError(w, http.StatusBadRequest, errorDetail(err))
		default:
			s.countUpload("error")
			s.logger.Error("upload failed", "err", err, "request_id", mid.RequestIDFrom(r.Context()))
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	job := ingest.NewJob(filename, path)
	if err := s.submit.Submit(r.Context(), job); err != nil {
		os.Remove(path)
		if errors.Is(err, ingest.ErrQueueFull) || errors.Is(err, ingest.ErrClosed) {
			s.countUpload("unavailable")
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.countUpload("error")
		s.logger.Error("submit failed", "filename", filename, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.countUpload("accepted")
	s.logger.Info("document received", "filename", filename, "ingestion_id", job.ID)
	writeJSON(w, http.StatusOK, IngestResponse{
		Message:     "Document received. Ingestion started in background.",
		Filename:    filename,
		IngestionID: job.ID,
	})
}

// receiveUpload streams the multipart "file" field into a uniquely named
// temp file and returns the client's filename and the temp path.
func (s *Server) receiveUpload(r *http.Request) (string, string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", "", domain.E(domain.KindInvalidInput, "read upload", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", "", domain.E(domain.KindInvalidInput, "read upload", errors.New(`multipart field "file" is required`))
		}
		if err != nil {
			return "", "", wrapBodyErr(err)
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		defer part.Close()

		filename := filepath.Base(part.FileName())
		if filename == "." || filename == string(filepath.Separator) {
			filename = ""
		}
		if err := domain.ValidateFilename(filename, s.opts.AllowedExtensions); err != nil {
			return "", "", err
		}
		path, err := s.saveTemp(filename, part)
		if err != nil {
			return "", "", err
		}
		return filename, path, nil
	}
}

func (s *Server) saveTemp(filename string, src *multipart.Part) (string, error) {
	pattern := "docustream-*-" + strings.ReplaceAll(filename, "*", "_")
	f, err := os.CreateTemp(s.opts.UploadDir, pattern)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", wrapBodyErr(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// wrapBodyErr keeps size-limit errors recognisable and classes other body
// errors as bad input.
func wrapBodyErr(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return domain.E(domain.KindInvalidInput, "read upload", err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.status == nil {
		writeError(w, http.StatusNotFound, "ingestion not found")
		return
	}
	st, ok := s.status.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "ingestion not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k,omitempty"`
}

// QueryResponse wraps the ranked hits.
type QueryResponse struct {
	Results *domain.QueryResult `json:"results"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	topK := DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	if err := domain.ValidateQuery(req.Query, topK); err != nil {
		writeError(w, http.StatusBadRequest, errorDetail(err))
		return
	}

	res, err := s.search.Query(r.Context(), req.Query, topK)
	if err != nil {
		if domain.IsKind(err, domain.KindInvalidInput) {
			writeError(w, http.StatusBadRequest, errorDetail(err))
			return
		}
		s.logger.Error("query failed", "err", err, "kind", domain.KindOf(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.queryLatency != nil {
		s.queryLatency.Since(start)
	}
	writeJSON(w, http.StatusOK, QueryResponse{Results: res})
}

func (s *Server) countUpload(outcome string) {
	if s.uploads != nil {
		s.uploads(outcome).Inc()
	}
}

// errorDetail drops the operation prefix of a domain error.
func errorDetail(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Err.Error()
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
