package pipeline

import (
	"context"
	"testing"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
)

type fakeParser struct {
	segments []core.Segment
	err      error
}

func (f *fakeParser) Parse(html string, filing core.FilingID) ([]core.Segment, error) {
	return f.segments, f.err
}

type fakeEmbedder struct {
	err    error
	called int
}

func (f *fakeEmbedder) EmbedChunks(ctx context.Context, chunks []core.Chunk) ([][]float32, error) {
	f.called++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(chunks))
	for i := range out {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func TestProcessFilingReportsSteps(t *testing.T) {
	parser := &fakeParser{segments: []core.Segment{segment("One sentence of content.")}}
	embedder := &fakeEmbedder{}
	orch := NewOrchestrator(parser, NewChunker(500, 50), embedder)

	var steps []string
	processed, err := orch.ProcessFiling(context.Background(), filingID(), "<html/>", func(step string, n, total int) {
		steps = append(steps, step)
		if total != 4 {
			t.Errorf("expected total 4, got %d", total)
		}
	})
	if err != nil {
		t.Fatalf("ProcessFiling: %v", err)
	}
	want := []string{StepParsing, StepChunking, StepEmbedding, StepComplete}
	if len(steps) != len(want) {
		t.Fatalf("expected %d steps, got %v", len(want), steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("step %d = %q, want %q", i, steps[i], want[i])
		}
	}
	if len(processed.Embeddings) != len(processed.Chunks) {
		t.Fatalf("one vector per chunk expected")
	}
	if processed.Result.ChunkCount != len(processed.Chunks) {
		t.Fatalf("result chunk count mismatch")
	}
}

func TestProcessFilingCancelledBeforeStart(t *testing.T) {
	orch := NewOrchestrator(&fakeParser{}, NewChunker(500, 50), &fakeEmbedder{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := orch.ProcessFiling(ctx, filingID(), "<html/>", nil); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProcessFilingPropagatesTypedErrors(t *testing.T) {
	parser := &fakeParser{err: core.E(core.KindParse, "bad document")}
	embedder := &fakeEmbedder{}
	orch := NewOrchestrator(parser, NewChunker(500, 50), embedder)
	_, err := orch.ProcessFiling(context.Background(), filingID(), "<html/>", nil)
	if !core.IsKind(err, core.KindParse) {
		t.Fatalf("expected parse kind, got %v", err)
	}
	if embedder.called != 0 {
		t.Fatalf("embedder must not run after parse failure")
	}

	parser = &fakeParser{segments: []core.Segment{segment("Some content.")}}
	embedder = &fakeEmbedder{err: core.E(core.KindEmbedding, "model offline")}
	orch = NewOrchestrator(parser, NewChunker(500, 50), embedder)
	if _, err := orch.ProcessFiling(context.Background(), filingID(), "<html/>", nil); !core.IsKind(err, core.KindEmbedding) {
		t.Fatalf("expected embedding kind, got %v", err)
	}
}
