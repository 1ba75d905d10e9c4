package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/parse"
)

// ProgressFunc receives pipeline step transitions. number counts from 1
// to total.
type ProgressFunc func(step string, number, total int)

// Embedder is the slice of the embedding client the pipeline needs.
type Embedder interface {
	EmbedChunks(ctx context.Context, chunks []core.Chunk) ([][]float32, error)
}

// Pipeline step names reported through ProgressFunc.
const (
	StepParsing   = "parsing"
	StepChunking  = "chunking"
	StepEmbedding = "embedding"
	StepComplete  = "complete"

	stepTotal = 4
)

// Orchestrator runs a single filing through parse, chunk and embed.
// It owns no storage; callers persist the ProcessedFiling.
type Orchestrator struct {
	parser   parse.Parser
	chunker  *Chunker
	embedder Embedder
	logger   *log.Logger
}

func NewOrchestrator(parser parse.Parser, chunker *Chunker, embedder Embedder) *Orchestrator {
	return &Orchestrator{
		parser:   parser,
		chunker:  chunker,
		embedder: embedder,
		logger:   log.New(log.Writer(), "[PIPE] ", log.LstdFlags),
	}
}

// ProcessFiling transforms raw filing HTML into chunks and vectors.
// Cancellation is cooperative: the context is checked between steps, so
// a running step finishes before the pipeline stops. Errors propagate
// typed from each stage, never wrapped into a different kind.
func (o *Orchestrator) ProcessFiling(ctx context.Context, filing core.FilingID, html string, progress ProgressFunc) (*core.ProcessedFiling, error) {
	if progress == nil {
		progress = func(string, int, int) {}
	}
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	progress(StepParsing, 1, stepTotal)
	segments, err := o.parser.Parse(html, filing)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	progress(StepChunking, 2, stepTotal)
	chunks, err := o.chunker.ChunkSegments(segments)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	progress(StepEmbedding, 3, stepTotal)
	embeddings, err := o.embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	progress(StepComplete, 4, stepTotal)
	duration := time.Since(start)
	o.logger.Printf("processed %s: %d segments, %d chunks in %s", filing, len(segments), len(chunks), duration)
	return &core.ProcessedFiling{
		Filing:     filing,
		Segments:   segments,
		Chunks:     chunks,
		Embeddings: embeddings,
		Result: core.IngestResult{
			Filing:       filing,
			SegmentCount: len(segments),
			ChunkCount:   len(chunks),
			Duration:     duration,
		},
	}, nil
}
