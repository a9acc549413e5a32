package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/convoloop/convoloop/logging"
	"github.com/convoloop/convoloop/resilience"
)

// Dependency identifiers for the external providers behind retrieval. Tools
// built on the retriever share breaker/limiter state through these ids.
const (
	DependencyEmbedding   = "embedding"
	DependencyVectorStore = "vector_store"
)

// RetrieverOptions configure a CachedRetriever.
type RetrieverOptions struct {
	// EmbedTTL is the embedding cache TTL. Long by default: embeddings for
	// identical text are stable.
	EmbedTTL time.Duration
	// ResultTTL is the result cache TTL. Short by default: catalog data moves.
	ResultTTL time.Duration
	// EmbedCache and ResultCache default to independent in-process caches.
	EmbedCache  Cache
	ResultCache Cache
	Logger      logging.Logger
}

// CachedRetriever fronts an Embedder and Searcher with the two-layer cache
// described in the package comment. Both provider calls run through the
// resilience wrappers for their dependency ids.
type CachedRetriever struct {
	embedder Embedder
	searcher Searcher
	opts     RetrieverOptions

	embedWrap  *resilience.Wrapper
	searchWrap *resilience.Wrapper
	logger     logging.Logger
}

// NewCachedRetriever wires the retriever. resilienceMgr supplies the shared
// wrappers for the embedding and vector-store dependencies.
func NewCachedRetriever(
	embedder Embedder,
	searcher Searcher,
	resilienceMgr *resilience.Manager,
	optFns ...func(o *RetrieverOptions),
) *CachedRetriever {
	opts := RetrieverOptions{
		EmbedTTL:  6 * time.Hour,
		ResultTTL: 15 * time.Minute,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.EmbedCache == nil {
		opts.EmbedCache = NewMemoryCache(4096)
	}
	if opts.ResultCache == nil {
		opts.ResultCache = NewMemoryCache(1024)
	}

	return &CachedRetriever{
		embedder:   embedder,
		searcher:   searcher,
		opts:       opts,
		embedWrap:  resilienceMgr.Get(DependencyEmbedding),
		searchWrap: resilienceMgr.Get(DependencyVectorStore),
		logger:     logging.OrNoOp(opts.Logger),
	}
}

// Embed returns the vector for text, consulting the embedding cache first.
// Two calls with the same normalized text within the TTL hit the provider
// exactly once.
func (r *CachedRetriever) Embed(ctx context.Context, text string) ([]float32, error) {
	key := "embed:" + NormalizeQuery(text)

	if raw, ok := r.cacheGet(ctx, r.opts.EmbedCache, key); ok {
		var vec []float32
		if err := json.Unmarshal(raw, &vec); err == nil {
			return vec, nil
		}
		r.logger.Warn("retrieval.embed_cache.corrupt", "key", key)
	}

	result, err := r.embedWrap.Execute(ctx, true, func(ctx context.Context) (any, error) {
		return r.embedder.Embed(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("embed %q: %w", text, err)
	}
	vec := result.([]float32)

	r.cacheSet(ctx, r.opts.EmbedCache, key, vec, r.opts.EmbedTTL)
	return vec, nil
}

// Search returns the top-k documents for the query, consulting the result
// cache keyed on (normalized query, filter set, k) before embedding and
// searching.
func (r *CachedRetriever) Search(ctx context.Context, query string, k int, filters map[string]string) ([]Document, error) {
	key := fmt.Sprintf("search:%s|%s|%d", NormalizeQuery(query), filterKey(filters), k)

	if raw, ok := r.cacheGet(ctx, r.opts.ResultCache, key); ok {
		var docs []Document
		if err := json.Unmarshal(raw, &docs); err == nil {
			return docs, nil
		}
		r.logger.Warn("retrieval.result_cache.corrupt", "key", key)
	}

	vector, err := r.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	result, err := r.searchWrap.Execute(ctx, true, func(ctx context.Context) (any, error) {
		return r.searcher.Search(ctx, vector, k)
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	docs := result.([]Document)

	r.cacheSet(ctx, r.opts.ResultCache, key, docs, r.opts.ResultTTL)
	return docs, nil
}

// cacheGet reads best-effort: backend errors are logged and treated as a miss.
func (r *CachedRetriever) cacheGet(ctx context.Context, c Cache, key string) ([]byte, bool) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil {
		r.logger.Warn("retrieval.cache.get_failed", "key", key, "error", err.Error())
		return nil, false
	}
	return raw, ok
}

// cacheSet writes best-effort: failures are logged and swallowed.
func (r *CachedRetriever) cacheSet(ctx context.Context, c Cache, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn("retrieval.cache.marshal_failed", "key", key, "error", err.Error())
		return
	}
	if err := c.Set(ctx, key, raw, ttl); err != nil {
		r.logger.Warn("retrieval.cache.set_failed", "key", key, "error", err.Error())
	}
}
