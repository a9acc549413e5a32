package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	_ "modernc.org/sqlite"
)

// SQLiteIndex is a small embedded vector index backed by sqlite. Documents
// and their embeddings live in one table; Search ranks by cosine similarity
// over the full set, which is adequate for catalog-sized corpora.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex opens (or creates) the index at dbPath.
func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	idx := &SQLiteIndex{db: db}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// NewSQLiteIndexFromDB wraps an existing handle, sharing one database file
// with other stores.
func NewSQLiteIndexFromDB(db *sql.DB) (*SQLiteIndex, error) {
	idx := &SQLiteIndex{db: db}
	if err := idx.initSchema(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (s *SQLiteIndex) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id        TEXT PRIMARY KEY,
			title     TEXT NOT NULL,
			content   TEXT NOT NULL,
			metadata  TEXT NOT NULL DEFAULT '{}',
			embedding TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("init index schema: %w", err)
	}
	return nil
}

// Upsert stores or replaces a document and its embedding.
func (s *SQLiteIndex) Upsert(ctx context.Context, doc Document, vector []float32) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	vec, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding`,
		doc.ID, doc.Title, doc.Content, string(meta), string(vec))
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// Search implements Searcher: rank all documents by cosine similarity to the
// query vector and return the top k.
func (s *SQLiteIndex) Search(ctx context.Context, vector []float32, k int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, content, metadata, embedding FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("scan index: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var meta, emb string
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &meta, &emb); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var docVec []float32
		if err := json.Unmarshal([]byte(emb), &docVec); err != nil {
			continue // unreadable embedding, skip the row
		}
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			doc.Metadata = nil
		}
		doc.Score = cosine(vector, docVec)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan index: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if k > 0 && len(docs) > k {
		docs = docs[:k]
	}
	return docs, nil
}

// Close releases the database handle.
func (s *SQLiteIndex) Close() error { return s.db.Close() }

// cosine computes cosine similarity; mismatched or zero vectors score 0.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
