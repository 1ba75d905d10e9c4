package core

import (
	"fmt"
	"strings"
	"time"
)

// SupportedForms lists the filing form types the pipeline understands.
var SupportedForms = []string{"10-K", "10-Q"}

// IsSupportedForm reports whether the given form type (any case) is handled.
func IsSupportedForm(form string) bool {
	u := strings.ToUpper(strings.TrimSpace(form))
	for _, f := range SupportedForms {
		if f == u {
			return true
		}
	}
	return false
}

// FilingID identifies a single SEC filing. The accession number is the
// globally unique key; ticker, form type and date are the human handle.
type FilingID struct {
	Ticker          string    `json:"ticker"`
	FormType        string    `json:"form_type"`
	FilingDate      time.Time `json:"filing_date"`
	AccessionNumber string    `json:"accession_number"`
}

// NewFilingID normalizes ticker and form type to upper case.
func NewFilingID(ticker, formType string, filingDate time.Time, accession string) FilingID {
	return FilingID{
		Ticker:          strings.ToUpper(strings.TrimSpace(ticker)),
		FormType:        strings.ToUpper(strings.TrimSpace(formType)),
		FilingDate:      filingDate,
		AccessionNumber: strings.TrimSpace(accession),
	}
}

// DateString returns the filing date in ISO form.
func (f FilingID) DateString() string {
	return f.FilingDate.Format("2006-01-02")
}

// Equal compares all four identity fields after normalization.
func (f FilingID) Equal(other FilingID) bool {
	return strings.EqualFold(f.Ticker, other.Ticker) &&
		strings.EqualFold(f.FormType, other.FormType) &&
		f.DateString() == other.DateString() &&
		f.AccessionNumber == other.AccessionNumber
}

func (f FilingID) String() string {
	return fmt.Sprintf("%s %s %s (%s)", f.Ticker, f.FormType, f.DateString(), f.AccessionNumber)
}

// ContentType classifies an extracted document segment.
type ContentType string

const (
	ContentText      ContentType = "text"
	ContentTextSmall ContentType = "textsmall"
	ContentTable     ContentType = "table"
)

// Segment is one extracted block of filing content with its position in
// the document's heading hierarchy.
type Segment struct {
	Path        string      `json:"path"`
	ContentType ContentType `json:"content_type"`
	Content     string      `json:"content"`
	Filing      FilingID    `json:"filing"`
}

// Chunk is an embeddable slice of a segment. Index is sequential across
// the whole filing, not per segment.
type Chunk struct {
	Content     string      `json:"content"`
	Path        string      `json:"path"`
	ContentType ContentType `json:"content_type"`
	Filing      FilingID    `json:"filing"`
	Index       int         `json:"index"`
}

// ID derives the stable chunk identifier, e.g. AAPL_10-K_2024-11-01_007.
func (c Chunk) ID() string {
	return fmt.Sprintf("%s_%s_%s_%03d", c.Filing.Ticker, c.Filing.FormType, c.Filing.DateString(), c.Index)
}

// Metadata flattens the chunk's filing context for storage alongside the
// vector so results can be rendered without a registry lookup.
func (c Chunk) Metadata() map[string]string {
	return map[string]string{
		"ticker":           c.Filing.Ticker,
		"form_type":        c.Filing.FormType,
		"filing_date":      c.Filing.DateString(),
		"accession_number": c.Filing.AccessionNumber,
		"path":             c.Path,
		"content_type":     string(c.ContentType),
	}
}

// IngestResult summarizes one successfully processed filing.
type IngestResult struct {
	Filing       FilingID      `json:"filing"`
	SegmentCount int           `json:"segment_count"`
	ChunkCount   int           `json:"chunk_count"`
	Duration     time.Duration `json:"duration"`
}

// ProcessedFiling carries a filing through the pipeline: segments out of
// the parser, chunks out of the chunker, one vector per chunk.
type ProcessedFiling struct {
	Filing     FilingID
	Segments   []Segment
	Chunks     []Chunk
	Embeddings [][]float32
	Result     IngestResult
}

// SearchResult is one scored chunk returned to the caller. Similarity is
// 1 minus cosine distance, so higher is closer.
type SearchResult struct {
	ChunkID         string      `json:"chunk_id"`
	Content         string      `json:"content"`
	Path            string      `json:"path"`
	ContentType     ContentType `json:"content_type"`
	Ticker          string      `json:"ticker"`
	FormType        string      `json:"form_type"`
	FilingDate      string      `json:"filing_date"`
	AccessionNumber string      `json:"accession_number"`
	Similarity      float64     `json:"similarity"`
}
