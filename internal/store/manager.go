package store

import (
	"context"
	"log"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
)

// VectorAPI is the slice of the vector store the manager coordinates.
type VectorAPI interface {
	StoreFiling(ctx context.Context, p *core.ProcessedFiling) error
	DeleteFiling(ctx context.Context, accession string) (int, error)
	Query(ctx context.Context, vector []float32, n int, filter Filter) ([]core.SearchResult, error)
	Count(ctx context.Context) (int, error)
}

// RegistryAPI is the slice of the registry the manager coordinates.
type RegistryAPI interface {
	IsDuplicate(ctx context.Context, filing core.FilingID) (bool, error)
	CheckFilingLimit(ctx context.Context) error
	Register(ctx context.Context, filing core.FilingID, chunkCount int) error
	Remove(ctx context.Context, accession string) (bool, error)
	Get(ctx context.Context, accession string) (*FilingRecord, error)
	List(ctx context.Context, ticker, formType string) ([]FilingRecord, error)
	Count(ctx context.Context, ticker, formType string) (int, error)
}

// Manager keeps the two stores consistent. Writes go vector store
// first, then registry; deletes run in the same order so the registry
// never references vectors that are gone only halfway.
type Manager struct {
	Vectors  VectorAPI
	Registry RegistryAPI
	logger   *log.Logger
}

func NewManager(vectors VectorAPI, registry RegistryAPI) *Manager {
	return &Manager{
		Vectors:  vectors,
		Registry: registry,
		logger:   log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}
}

// StoreFiling persists a processed filing in both stores. When the
// registry write fails the chunks are removed again so the stores stay
// aligned.
func (m *Manager) StoreFiling(ctx context.Context, p *core.ProcessedFiling) error {
	if err := m.Vectors.StoreFiling(ctx, p); err != nil {
		return err
	}
	if err := m.Registry.Register(ctx, p.Filing, len(p.Chunks)); err != nil {
		if _, derr := m.Vectors.DeleteFiling(ctx, p.Filing.AccessionNumber); derr != nil {
			m.logger.Printf("compensating vector delete failed for %s: %v", p.Filing, derr)
		}
		return err
	}
	return nil
}

// DeleteFiling removes one filing from both stores. Returns the number
// of chunks deleted and whether the registry knew the filing.
func (m *Manager) DeleteFiling(ctx context.Context, accession string) (int, bool, error) {
	chunks, err := m.Vectors.DeleteFiling(ctx, accession)
	if err != nil {
		return 0, false, err
	}
	existed, err := m.Registry.Remove(ctx, accession)
	if err != nil {
		return chunks, false, err
	}
	m.logger.Printf("deleted %s: %d chunks, registered=%v", accession, chunks, existed)
	return chunks, existed, nil
}

// DeleteMatching removes every filing matching the optional ticker and
// form filters. Each filing is deleted vector-first.
func (m *Manager) DeleteMatching(ctx context.Context, ticker, formType string) (int, int, error) {
	records, err := m.Registry.List(ctx, ticker, formType)
	if err != nil {
		return 0, 0, err
	}
	filings, chunks := 0, 0
	for _, rec := range records {
		n, existed, err := m.DeleteFiling(ctx, rec.Filing.AccessionNumber)
		if err != nil {
			return filings, chunks, err
		}
		chunks += n
		if existed {
			filings++
		}
	}
	return filings, chunks, nil
}

// Clear empties both stores filing by filing.
func (m *Manager) Clear(ctx context.Context) (int, int, error) {
	return m.DeleteMatching(ctx, "", "")
}

// IsDuplicate delegates to the registry, which owns filing identity.
func (m *Manager) IsDuplicate(ctx context.Context, filing core.FilingID) (bool, error) {
	return m.Registry.IsDuplicate(ctx, filing)
}

// CheckFilingLimit delegates to the registry capacity check.
func (m *Manager) CheckFilingLimit(ctx context.Context) error {
	return m.Registry.CheckFilingLimit(ctx)
}

// Status summarizes both stores for the status API.
type Status struct {
	Filings    int `json:"filings"`
	Chunks     int `json:"chunks"`
	MaxFilings int `json:"max_filings"`
}

func (m *Manager) Status(ctx context.Context, maxFilings int) (Status, error) {
	filings, err := m.Registry.Count(ctx, "", "")
	if err != nil {
		return Status{}, err
	}
	chunks, err := m.Vectors.Count(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{Filings: filings, Chunks: chunks, MaxFilings: maxFilings}, nil
}
