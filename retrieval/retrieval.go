// Package retrieval implements embedding-based document search with two
// layers of caching in front of the external providers: an embedding cache
// keyed by normalized query text (long TTL, embeddings for identical text
// are stable) and a result cache keyed by query plus filter set (short TTL,
// the underlying catalog changes). Cache access is best-effort: a cache
// backend outage degrades to always-miss, never to a failed retrieval.
package retrieval

import (
	"context"
	"sort"
	"strings"
)

// Document is one ranked search hit.
type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Embedder turns text into a vector via an external embedding provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher executes similarity search against a vector store.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]Document, error)
}

// NormalizeQuery canonicalizes query text for cache keying: lowercased with
// runs of whitespace collapsed to single spaces.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// filterKey renders a filter set deterministically for cache keying.
func filterKey(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(filters[k])
		b.WriteByte(';')
	}
	return b.String()
}
