package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WessleyAI/docustream/engine/chunker"
	"github.com/WessleyAI/docustream/engine/domain"
	"github.com/WessleyAI/docustream/engine/index"
	"github.com/WessleyAI/docustream/engine/ingest"
	"github.com/WessleyAI/docustream/engine/semantic"
	"github.com/WessleyAI/docustream/pkg/embed"
	"github.com/WessleyAI/docustream/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	jobs []ingest.Job
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, job ingest.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeSearcher struct {
	res *domain.QueryResult
	err error
	n   int
}

func (f *fakeSearcher) Query(_ context.Context, _ string, n int) (*domain.QueryResult, error) {
	f.n = n
	return f.res, f.err
}

func uploadBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func postUpload(t *testing.T, h http.Handler, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := uploadBody(t, "file", filename, content)
	req := httptest.NewRequest(http.MethodPost, "/ingest", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func postQuery(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["detail"]
}

func TestHealth(t *testing.T) {
	h := New(&fakeSearcher{}, &fakeSubmitter{}, nil, Options{}, nil).Routes()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestIngest_AcceptsTextFile(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	h := New(&fakeSearcher{}, sub, nil, Options{UploadDir: dir}, nil).Routes()

	rec := postUpload(t, h, "notes.txt", "hello world")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "notes.txt", resp.Filename)
	assert.Equal(t, "Document received. Ingestion started in background.", resp.Message)
	assert.NotEmpty(t, resp.IngestionID)

	require.Len(t, sub.jobs, 1)
	job := sub.jobs[0]
	assert.Equal(t, resp.IngestionID, job.ID)
	assert.Equal(t, "notes.txt", job.Filename)
	assert.Equal(t, dir, filepath.Dir(job.Path))
	assert.True(t, strings.HasSuffix(job.Path, "notes.txt"))

	data, err := os.ReadFile(job.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestIngest_SameNameGetsDistinctPaths(t *testing.T) {
	sub := &fakeSubmitter{}
	h := New(&fakeSearcher{}, sub, nil, Options{UploadDir: t.TempDir()}, nil).Routes()

	require.Equal(t, http.StatusOK, postUpload(t, h, "a.txt", "one").Code)
	require.Equal(t, http.StatusOK, postUpload(t, h, "a.txt", "two").Code)
	require.Len(t, sub.jobs, 2)
	assert.NotEqual(t, sub.jobs[0].Path, sub.jobs[1].Path)
	assert.NotEqual(t, sub.jobs[0].ID, sub.jobs[1].ID)
}

func TestIngest_RejectsExtension(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	h := New(&fakeSearcher{}, sub, nil, Options{UploadDir: dir}, nil).Routes()

	rec := postUpload(t, h, "notes.md", "# title")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, detail(t, rec), ".txt")
	assert.Empty(t, sub.jobs)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIngest_MissingFileField(t *testing.T) {
	h := New(&fakeSearcher{}, &fakeSubmitter{}, nil, Options{UploadDir: t.TempDir()}, nil).Routes()
	body, ct := uploadBody(t, "attachment", "notes.txt", "x")
	req := httptest.NewRequest(http.MethodPost, "/ingest", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, detail(t, rec), "file")
}

func TestIngest_NotMultipart(t *testing.T) {
	h := New(&fakeSearcher{}, &fakeSubmitter{}, nil, Options{UploadDir: t.TempDir()}, nil).Routes()
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngest_TooLarge(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	h := New(&fakeSearcher{}, sub, nil, Options{UploadDir: dir, MaxUploadBytes: 512}, nil).Routes()

	rec := postUpload(t, h, "big.txt", strings.Repeat("a", 4096))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, sub.jobs)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIngest_QueueFull(t *testing.T) {
	dir := t.TempDir()
	h := New(&fakeSearcher{}, &fakeSubmitter{err: ingest.ErrQueueFull}, nil, Options{UploadDir: dir}, nil).Routes()

	rec := postUpload(t, h, "notes.txt", "hello")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be removed when the job is not accepted")
}

func TestIngest_SubmitError(t *testing.T) {
	h := New(&fakeSearcher{}, &fakeSubmitter{err: errors.New("nats: no responders")}, nil, Options{UploadDir: t.TempDir()}, nil).Routes()
	rec := postUpload(t, h, "notes.txt", "hello")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, detail(t, rec), "no responders")
}

func TestStatus_Unknown(t *testing.T) {
	h := New(&fakeSearcher{}, &fakeSubmitter{}, ingest.NewTracker(4), Options{}, nil).Routes()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h = New(&fakeSearcher{}, &fakeSubmitter{}, nil, Options{}, nil).Routes()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuery_DefaultsTopK(t *testing.T) {
	s := &fakeSearcher{res: &domain.QueryResult{}}
	h := New(s, &fakeSubmitter{}, nil, Options{}, nil).Routes()

	rec := postQuery(t, h, `{"query":"brakes"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DefaultTopK, s.n)
}

func TestQuery_Validation(t *testing.T) {
	s := &fakeSearcher{res: &domain.QueryResult{}}
	h := New(s, &fakeSubmitter{}, nil, Options{}, nil).Routes()

	assert.Equal(t, http.StatusBadRequest, postQuery(t, h, `{"query":"   "}`).Code)
	assert.Equal(t, http.StatusBadRequest, postQuery(t, h, `{"query":"x","top_k":0}`).Code)
	assert.Equal(t, http.StatusBadRequest, postQuery(t, h, `not json`).Code)
}

func TestQuery_BackendFailure(t *testing.T) {
	s := &fakeSearcher{err: domain.E(domain.KindStoreFailure, "semantic search", errors.New("connection refused"))}
	h := New(s, &fakeSubmitter{}, nil, Options{}, nil).Routes()

	rec := postQuery(t, h, `{"query":"x","top_k":2}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, detail(t, rec), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := metrics.New()
	h := New(&fakeSearcher{}, &fakeSubmitter{}, nil, Options{UploadDir: t.TempDir(), Metrics: reg}, nil).Routes()
	postUpload(t, h, "notes.md", "x")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `docustream_uploads_total{outcome="rejected"} 1`)
}

// Upload, wait for the background job, then query over the same stack.
func TestUploadThenQuery(t *testing.T) {
	ctx := context.Background()
	emb := embed.NewHash(1024)
	store, err := semantic.NewMemory("")
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(ctx, emb.Dimension()))
	client := index.New(emb, store, index.Options{}, nil)

	orch := ingest.NewOrchestrator(chunker.MustNew(chunker.Options{MaxSize: 70, Overlap: 10, TrimSpace: true}), client, nil, nil)
	tracker := ingest.NewTracker(16)
	runner := ingest.NewRunner(orch, tracker, nil, nil)
	disp := ingest.NewLocal(runner, 2, 8, nil)
	t.Cleanup(func() { _ = disp.Close(ctx) })

	h := New(client, disp, tracker, Options{UploadDir: t.TempDir()}, nil).Routes()

	doc := "Brake pads wear down over time and need replacement.\n\n" +
		"Engine oil should be changed every ten thousand kilometres.\n\n" +
		"Tyre pressure affects fuel economy and handling."
	rec := postUpload(t, h, "car.txt", doc)
	require.Equal(t, http.StatusOK, rec.Code)
	var accepted IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/"+accepted.IngestionID, nil))
		var st ingest.JobStatus
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &st) != nil {
			return false
		}
		return st.State == ingest.StateSucceeded
	}, 5*time.Second, 20*time.Millisecond)

	rec = postQuery(t, h, `{"query":"engine oil change","top_k":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Results domain.QueryResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Results.Len())
	assert.Contains(t, resp.Results.Documents[0], "Engine oil")
	assert.LessOrEqual(t, resp.Results.Distances[0], resp.Results.Distances[1])
	assert.Equal(t, "car.txt", resp.Results.Metadatas[0]["source"])
}
