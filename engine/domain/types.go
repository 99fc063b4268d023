// Package domain defines the types shared by the ingestion and query paths,
// the closed set of error kinds, and input validation at the HTTP edge.
package domain

// Metadata is stored alongside every index entry.
type Metadata struct {
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
}

// Map returns the metadata as a flat payload for vector store backends.
func (m Metadata) Map() map[string]any {
	return map[string]any{
		"source":      m.Source,
		"chunk_index": m.ChunkIndex,
	}
}

// QueryResult holds the ranked neighbours of a query vector as parallel
// slices, closest first. Distances are cosine distances (0 = identical).
type QueryResult struct {
	IDs       []string         `json:"ids"`
	Documents []string         `json:"documents"`
	Metadatas []map[string]any `json:"metadatas"`
	Distances []float32        `json:"distances"`
}

// Len returns the number of hits.
func (r *QueryResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.IDs)
}
