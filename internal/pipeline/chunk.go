package pipeline

import (
	"log"
	"regexp"
	"strings"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
)

// sentence boundary: punctuation followed by whitespace
var sentenceRe = regexp.MustCompile(`([.!?])\s+`)

// Chunker splits segments into embedding-ready chunks at sentence
// boundaries. Token counts are whitespace approximations, which is
// enough for sizing; the real tokenizer lives in the model.
type Chunker struct {
	TokenLimit int
	Tolerance  int

	logger *log.Logger
}

func NewChunker(tokenLimit, tolerance int) *Chunker {
	return &Chunker{
		TokenLimit: tokenLimit,
		Tolerance:  tolerance,
		logger:     log.New(log.Writer(), "[CHUNK] ", log.LstdFlags),
	}
}

func countTokens(text string) int {
	return len(strings.Fields(text))
}

func splitSentences(text string) []string {
	marked := sentenceRe.ReplaceAllString(text, "$1\x00")
	return strings.Split(marked, "\x00")
}

// chunkText splits one segment's content. Content within the token limit
// passes through unchanged. A single sentence longer than the limit is
// never split further.
func (c *Chunker) chunkText(text string) []string {
	if countTokens(text) <= c.TokenLimit {
		return []string{text}
	}

	var chunks []string
	var current []string
	currentTokens := 0
	for _, sentence := range splitSentences(text) {
		tokens := countTokens(sentence)
		if currentTokens+tokens > c.TokenLimit+c.Tolerance && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
			currentTokens = 0
		}
		current = append(current, sentence)
		currentTokens += tokens
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// ChunkSegments chunks a whole filing, assigning indices sequentially
// across segments so chunk IDs are unique within the filing.
func (c *Chunker) ChunkSegments(segments []core.Segment) ([]core.Chunk, error) {
	if len(segments) == 0 {
		return nil, core.E(core.KindChunking, "no segments to chunk")
	}

	var chunks []core.Chunk
	index := 0
	for _, seg := range segments {
		for _, text := range c.chunkText(seg.Content) {
			chunks = append(chunks, core.Chunk{
				Content:     text,
				Path:        seg.Path,
				ContentType: seg.ContentType,
				Filing:      seg.Filing,
				Index:       index,
			})
			index++
		}
	}

	over := 0
	for _, ch := range chunks {
		if countTokens(ch.Content) > c.TokenLimit {
			over++
		}
	}
	c.logger.Printf("created %d chunks from %d segments for %s (%d over limit)",
		len(chunks), len(segments), segments[0].Filing, over)
	return chunks, nil
}
