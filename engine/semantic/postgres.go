package semantic

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// Postgres stores vectors in a pgvector table named after the collection.
type Postgres struct {
	db    *sql.DB
	table string
	dims  int
}

// NewPostgres opens dsn with the lib/pq driver and checks connectivity.
func NewPostgres(ctx context.Context, dsn, collection string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("semantic: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("semantic: ping postgres: %w", err)
	}
	return NewPostgresWithDB(db, collection), nil
}

// NewPostgresWithDB builds a store over an open pool. Close closes db.
func NewPostgresWithDB(db *sql.DB, collection string) *Postgres {
	return &Postgres{db: db, table: pq.QuoteIdentifier(collection)}
}

func (p *Postgres) Close() error { return p.db.Close() }

func createTableSQL(table string, dims int) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id        TEXT PRIMARY KEY,
	document  TEXT NOT NULL,
	metadata  JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding vector(%d) NOT NULL
)`, table, dims)
}

// EnsureCollection installs the vector extension and creates the table.
func (p *Postgres) EnsureCollection(ctx context.Context, dims int) error {
	if _, err := p.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("semantic: create extension: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, createTableSQL(p.table, dims)); err != nil {
		return fmt.Errorf("semantic: create table %s: %w", p.table, err)
	}
	p.dims = dims
	return nil
}

// Upsert writes all records in one transaction.
func (p *Postgres) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := checkDims(p.dims, records); err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("semantic: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, document, metadata, embedding) VALUES ($1, $2, $3, $4::vector)
		 ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`,
		p.table))
	if err != nil {
		return fmt.Errorf("semantic: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("semantic: encode metadata for %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Document, string(meta), pgvector.NewVector(r.Embedding)); err != nil {
			return fmt.Errorf("semantic: upsert %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("semantic: commit upsert: %w", err)
	}
	return nil
}

// Search orders by pgvector's cosine distance operator.
func (p *Postgres) Search(ctx context.Context, embedding []float32, topK int) ([]SearchResult, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, document, metadata, embedding <=> $1::vector AS distance
		 FROM %s ORDER BY distance LIMIT $2`, p.table),
		pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			sr   SearchResult
			meta []byte
			dist float64
		)
		if err := rows.Scan(&sr.ID, &sr.Document, &meta, &dist); err != nil {
			return nil, fmt.Errorf("semantic: scan: %w", err)
		}
		if sr.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("semantic: decode metadata for %s: %w", sr.ID, err)
		}
		sr.Distance = float32(dist)
		results = append(results, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("semantic: search rows: %w", err)
	}
	return results, nil
}

func (p *Postgres) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, p.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("semantic: count: %w", err)
	}
	return uint64(n), nil
}

func decodeMetadata(data []byte) (map[string]any, error) {
	out := make(map[string]any)
	if len(data) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	for k, v := range out {
		out[k] = fromJSONNumber(v)
	}
	return out, nil
}
