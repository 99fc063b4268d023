//go:build integration

package semantic

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func integrationRecords() []VectorRecord {
	return []VectorRecord{
		{ID: uuid.NewString(), Embedding: []float32{1, 0, 0, 0}, Document: "oil change", Metadata: map[string]any{"source": "a.txt", "chunk_index": 0}},
		{ID: uuid.NewString(), Embedding: []float32{0, 1, 0, 0}, Document: "brake pads", Metadata: map[string]any{"source": "a.txt", "chunk_index": 1}},
		{ID: uuid.NewString(), Embedding: []float32{0.9, 0.1, 0, 0}, Document: "oil filter", Metadata: map[string]any{"source": "b.txt", "chunk_index": 0}},
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, 4))
	require.NoError(t, s.EnsureCollection(ctx, 4), "EnsureCollection must be idempotent")

	recs := integrationRecords()
	require.NoError(t, s.Upsert(ctx, recs))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	res, err := s.Search(ctx, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, recs[0].ID, res[0].ID)
	assert.Equal(t, "oil change", res[0].Document)
	assert.Equal(t, "a.txt", res[0].Metadata["source"])
	assert.LessOrEqual(t, res[0].Distance, res[1].Distance)
}

func TestQdrant_Live(t *testing.T) {
	addr := os.Getenv("QDRANT_URL")
	if addr == "" {
		addr = "localhost:6334"
	}
	q, err := NewQdrant(addr, "docustream_it_"+uuid.NewString()[:8], os.Getenv("QDRANT_API_KEY"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = q.DeleteCollection(context.Background())
		_ = q.Close()
	})
	exerciseStore(t, q)
}

func TestPostgres_Live(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	table := "docustream_it_" + uuid.NewString()[:8]
	p, err := NewPostgres(context.Background(), dsn, table)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = p.db.Exec(`DROP TABLE IF EXISTS ` + p.table)
		_ = p.Close()
	})
	exerciseStore(t, p)
}
