package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Memory is an in-process store with brute-force cosine search. With a
// snapshot path it reloads on open and rewrites the file after every upsert.
type Memory struct {
	mu      sync.RWMutex
	path    string
	dims    int
	order   []string
	records map[string]VectorRecord
}

// NewMemory returns an empty store, or one loaded from path when the file
// exists. An empty path disables persistence.
func NewMemory(path string) (*Memory, error) {
	m := &Memory{path: path, records: make(map[string]VectorRecord)}
	if path == "" {
		return m, nil
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Memory) EnsureCollection(_ context.Context, dims int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dims == 0 {
		m.dims = dims
		return nil
	}
	if m.dims != dims {
		return fmt.Errorf("%w: collection has %d, asked for %d", ErrDimensionMismatch, m.dims, dims)
	}
	return nil
}

func (m *Memory) Upsert(_ context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	dims := m.dims
	if dims == 0 {
		dims = len(records[0].Embedding)
	}
	if err := checkDims(dims, records); err != nil {
		return err
	}
	order := append([]string(nil), m.order...)
	staged := make(map[string]VectorRecord, len(m.records)+len(records))
	for id, r := range m.records {
		staged[id] = r
	}
	for _, r := range records {
		if _, ok := staged[r.ID]; !ok {
			order = append(order, r.ID)
		}
		r.Embedding = append([]float32(nil), r.Embedding...)
		staged[r.ID] = r
	}
	// The live state only changes once the snapshot is on disk.
	if err := m.save(dims, order, staged); err != nil {
		return err
	}
	m.dims, m.order, m.records = dims, order, staged
	return nil
}

func (m *Memory) Search(_ context.Context, embedding []float32, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dims > 0 && len(embedding) != m.dims {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", ErrDimensionMismatch, len(embedding), m.dims)
	}

	hits := make([]SearchResult, 0, len(m.order))
	for _, id := range m.order {
		r := m.records[id]
		hits = append(hits, SearchResult{
			ID:       r.ID,
			Document: r.Document,
			Metadata: copyMap(r.Metadata),
			Distance: cosineDistance(embedding, r.Embedding),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *Memory) Count(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.records)), nil
}

func (m *Memory) Close() error { return nil }

// cosineDistance is 1 - cos(a, b). A zero vector is at distance 1 from everything.
func cosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type snapshot struct {
	Dimension int              `json:"dimension"`
	Records   []snapshotRecord `json:"records"`
}

type snapshotRecord struct {
	ID        string         `json:"id"`
	Document  string         `json:"document"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding"`
}

// save writes the snapshot through a temp file and rename. Must hold mu.
func (m *Memory) save(dims int, order []string, records map[string]VectorRecord) error {
	if m.path == "" {
		return nil
	}
	snap := snapshot{Dimension: dims, Records: make([]snapshotRecord, 0, len(order))}
	for _, id := range order {
		r := records[id]
		snap.Records = append(snap.Records, snapshotRecord{ID: r.ID, Document: r.Document, Metadata: r.Metadata, Embedding: r.Embedding})
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("semantic: encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("semantic: write snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("semantic: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("semantic: write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("semantic: write snapshot: %w", err)
	}
	return nil
}

func (m *Memory) load() error {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("semantic: read snapshot: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var snap snapshot
	if err := dec.Decode(&snap); err != nil {
		return fmt.Errorf("semantic: decode snapshot %s: %w", m.path, err)
	}
	m.dims = snap.Dimension
	for _, r := range snap.Records {
		for k, v := range r.Metadata {
			r.Metadata[k] = fromJSONNumber(v)
		}
		m.order = append(m.order, r.ID)
		m.records[r.ID] = VectorRecord{ID: r.ID, Document: r.Document, Metadata: r.Metadata, Embedding: r.Embedding}
	}
	return nil
}

func fromJSONNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return int(i)
	}
	f, _ := n.Float64()
	return f
}
