package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
)

func filingID() core.FilingID {
	return core.NewFilingID("AAPL", "10-K", time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), "acc-1")
}

func segment(content string) core.Segment {
	return core.Segment{Path: "Part I", ContentType: core.ContentText, Content: content, Filing: filingID()}
}

func sentences(n, words int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		for j := 0; j < words-1; j++ {
			b.WriteString("word ")
		}
		b.WriteString("end. ")
	}
	return strings.TrimSpace(b.String())
}

func TestChunkSegmentsPassThroughUnderLimit(t *testing.T) {
	c := NewChunker(500, 50)
	chunks, err := c.ChunkSegments([]core.Segment{segment("Short content stays whole.")})
	if err != nil {
		t.Fatalf("ChunkSegments: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Content != "Short content stays whole." {
		t.Fatalf("content modified: %q", chunks[0].Content)
	}
}

func TestChunkSegmentsSplitsAtSentences(t *testing.T) {
	c := NewChunker(50, 5)
	// 20 sentences of 10 tokens each = 200 tokens, forcing splits.
	chunks, err := c.ChunkSegments([]core.Segment{segment(sentences(20, 10))})
	if err != nil {
		t.Fatalf("ChunkSegments: %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		n := countTokens(ch.Content)
		if n > c.TokenLimit+c.Tolerance {
			t.Fatalf("chunk %d has %d tokens, over limit+tolerance", i, n)
		}
		if !strings.HasSuffix(strings.TrimSpace(ch.Content), "end.") {
			t.Fatalf("chunk %d does not end on a sentence boundary: %q", i, ch.Content)
		}
	}
}

func TestChunkIndicesSequentialAcrossSegments(t *testing.T) {
	c := NewChunker(50, 5)
	segs := []core.Segment{
		segment(sentences(20, 10)),
		segment("A trailing short segment."),
	}
	chunks, err := c.ChunkSegments(segs)
	if err != nil {
		t.Fatalf("ChunkSegments: %v", err)
	}
	for i, ch := range chunks {
		if ch.Index != i {
			t.Fatalf("chunk %d has index %d, want sequential", i, ch.Index)
		}
	}
	ids := make(map[string]bool)
	for _, ch := range chunks {
		if ids[ch.ID()] {
			t.Fatalf("duplicate chunk id %s", ch.ID())
		}
		ids[ch.ID()] = true
	}
}

func TestChunkOversizedSentenceKeptWhole(t *testing.T) {
	c := NewChunker(10, 2)
	// One 50-token sentence with no boundaries inside.
	big := strings.Repeat("word ", 49) + "end."
	chunks, err := c.ChunkSegments([]core.Segment{segment(big)})
	if err != nil {
		t.Fatalf("ChunkSegments: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("oversized single sentence must stay one chunk, got %d", len(chunks))
	}
}

func TestChunkSegmentsEmptyInput(t *testing.T) {
	c := NewChunker(500, 50)
	if _, err := c.ChunkSegments(nil); err == nil || !core.IsKind(err, core.KindChunking) {
		t.Fatalf("expected chunking error, got %v", err)
	}
}
