package search

import (
	"context"
	"log"
	"strings"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/store"
)

// QueryEmbedder is the slice of the embedding client the engine needs.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// VectorQuerier is the slice of the vector store the engine needs.
type VectorQuerier interface {
	Query(ctx context.Context, vector []float32, n int, filter store.Filter) ([]core.SearchResult, error)
}

// Options narrows and sizes a search. Zero values fall back to the
// engine defaults; MinSimilarity is a pointer so 0 can be an explicit
// choice.
type Options struct {
	TopK          int
	Ticker        string
	FormType      string
	Accession     string
	MinSimilarity *float64
}

// Engine answers semantic queries: embed once, query the vector store
// with filters applied before ranking, then drop results under the
// similarity floor. Store order is preserved.
type Engine struct {
	embedder QueryEmbedder
	vectors  VectorQuerier

	DefaultTopK          int
	DefaultMinSimilarity float64

	logger *log.Logger
}

func NewEngine(embedder QueryEmbedder, vectors VectorQuerier, defaultTopK int, defaultMinSimilarity float64) *Engine {
	return &Engine{
		embedder:             embedder,
		vectors:              vectors,
		DefaultTopK:          defaultTopK,
		DefaultMinSimilarity: defaultMinSimilarity,
		logger:               log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
	}
}

// Search runs a semantic query. A blank query fails before any model
// call.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]core.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.E(core.KindSearch, "query must not be empty")
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = e.DefaultTopK
	}
	minSim := e.DefaultMinSimilarity
	if opts.MinSimilarity != nil {
		minSim = *opts.MinSimilarity
	}

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := e.vectors.Query(ctx, vector, topK, store.Filter{
		Ticker:    opts.Ticker,
		FormType:  opts.FormType,
		Accession: opts.Accession,
	})
	if err != nil {
		return nil, err
	}

	filtered := results[:0]
	for _, r := range results {
		if r.Similarity >= minSim {
			filtered = append(filtered, r)
		}
	}
	e.logger.Printf("query %q: %d results (%d after similarity floor %.2f)", query, len(results), len(filtered), minSim)
	return filtered, nil
}
