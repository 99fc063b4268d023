package ingest

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/WessleyAI/docustream/engine/domain"
	"github.com/WessleyAI/docustream/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDoc(t *testing.T, content []byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "docustream-*-notes.txt")
	require.NoError(t, err)
	_, err = f.Write(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestReadDocument(t *testing.T) {
	s, err := ReadDocument(tempDoc(t, []byte("héllo")))
	require.NoError(t, err)
	assert.Equal(t, "héllo", s)

	_, err = ReadDocument(tempDoc(t, []byte{0xff, 0xfe, 'a'}))
	assert.ErrorIs(t, err, ErrNotUTF8)
	assert.True(t, domain.IsKind(err, domain.KindReadFailure))

	_, err = ReadDocument(filepath.Join(t.TempDir(), "missing.txt"))
	assert.True(t, domain.IsKind(err, domain.KindReadFailure))
}

func TestRunner_SuccessRemovesFileAndTracks(t *testing.T) {
	idx := &recordingIndexer{}
	tr := NewTracker(10)
	reg := metrics.New()
	r := NewRunner(newOrch(idx), tr, NewMetrics(reg), nil)

	path := tempDoc(t, []byte("first paragraph\n\nsecond paragraph"))
	job := NewJob("notes.txt", path)
	tr.Queued(job)

	res := r.Run(context.Background(), job)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, res.ChunksProcessed)
	assert.NoFileExists(t, path)
	assert.Equal(t, "notes.txt", idx.metadatas[0].Source)

	st, ok := tr.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StateSucceeded, st.State)

	out := reg.Render()
	assert.Contains(t, out, `docustream_documents_total{status="success"} 1`)
	assert.Contains(t, out, "docustream_chunks_total 1")
	assert.Contains(t, out, "docustream_ingest_inflight 0")
	assert.Contains(t, out, "docustream_ingest_jobs_tracked 1")
}

func TestRunner_FailureRemovesFileAndLogs(t *testing.T) {
	var logs bytes.Buffer
	idx := &recordingIndexer{err: domain.E(domain.KindStoreFailure, "index: upsert", errors.New("disk full"))}
	tr := NewTracker(10)
	r := NewRunner(newOrch(idx), tr, nil, slog.New(slog.NewJSONHandler(&logs, nil)))

	path := tempDoc(t, []byte("content"))
	job := NewJob("notes.txt", path)
	res := r.Run(context.Background(), job)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, domain.KindStoreFailure, res.ErrorKind)
	assert.NoFileExists(t, path)
	assert.Contains(t, logs.String(), `"msg":"ingestion failed"`)
	assert.Contains(t, logs.String(), "disk full")

	st, _ := tr.Get(job.ID)
	assert.Equal(t, StateFailed, st.State)
	assert.Contains(t, st.Error, "disk full")
}

func TestRunner_ReadFailure(t *testing.T) {
	idx := &recordingIndexer{}
	r := NewRunner(newOrch(idx), nil, nil, nil)
	path := tempDoc(t, []byte{0xc3, 0x28})

	res := r.Run(context.Background(), NewJob("bin.txt", path))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, domain.KindReadFailure, res.ErrorKind)
	assert.Zero(t, idx.calls)
	assert.NoFileExists(t, path)
}

func TestRunner_MissingFile(t *testing.T) {
	r := NewRunner(newOrch(&recordingIndexer{}), nil, nil, nil)
	res := r.Run(context.Background(), NewJob("gone.txt", filepath.Join(t.TempDir(), "gone.txt")))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, domain.KindReadFailure, res.ErrorKind)
}
