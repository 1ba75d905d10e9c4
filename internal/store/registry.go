package store

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
)

// FilingRecord is one row of the metadata registry.
type FilingRecord struct {
	ID         int64         `json:"id"`
	Filing     core.FilingID `json:"filing"`
	ChunkCount int           `json:"chunk_count"`
	IngestedAt time.Time     `json:"ingested_at"`
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS filings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ticker TEXT NOT NULL,
	form_type TEXT NOT NULL,
	filing_date TEXT NOT NULL,
	accession_number TEXT NOT NULL UNIQUE,
	chunk_count INTEGER NOT NULL,
	ingested_at TEXT NOT NULL,
	UNIQUE(ticker, form_type, filing_date)
);
CREATE INDEX IF NOT EXISTS idx_filings_ticker ON filings(ticker);
CREATE INDEX IF NOT EXISTS idx_filings_form ON filings(form_type);
`

// Registry tracks which filings are ingested. It is the authority for
// duplicate detection and the filing capacity limit; chunk content
// lives in the vector store.
type Registry struct {
	DB         *sql.DB
	MaxFilings int
	logger     *log.Logger
}

// NewRegistry opens (or creates) the SQLite registry at path.
// ":memory:" gives an ephemeral registry for tests.
func NewRegistry(path string, maxFilings int) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, core.Wrap(core.KindDatabase, "opening registry", err)
	}
	// modernc sqlite serializes writes; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(registrySchema); err != nil {
		db.Close()
		return nil, core.Wrap(core.KindDatabase, "creating registry schema", err)
	}
	return &Registry{
		DB:         db,
		MaxFilings: maxFilings,
		logger:     log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags),
	}, nil
}

func (r *Registry) Close() error { return r.DB.Close() }

// IsDuplicate reports whether the filing is already registered, either
// by accession number or by the (ticker, form, date) identity.
func (r *Registry) IsDuplicate(ctx context.Context, filing core.FilingID) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM filings
WHERE accession_number = ? OR (ticker = ? AND form_type = ? AND filing_date = ?)
`, filing.AccessionNumber, filing.Ticker, filing.FormType, filing.DateString()).Scan(&n)
	if err != nil {
		return false, core.Wrap(core.KindDatabase, "checking duplicate", err)
	}
	return n > 0, nil
}

// CheckFilingLimit fails with a FilingLimitError once the registry is
// at capacity.
func (r *Registry) CheckFilingLimit(ctx context.Context) error {
	n, err := r.Count(ctx, "", "")
	if err != nil {
		return err
	}
	if n >= r.MaxFilings {
		return &core.FilingLimitError{Current: n, Max: r.MaxFilings}
	}
	return nil
}

// Register records an ingested filing. Uniqueness violations surface as
// database errors; callers are expected to check IsDuplicate first.
func (r *Registry) Register(ctx context.Context, filing core.FilingID, chunkCount int) error {
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO filings (ticker, form_type, filing_date, accession_number, chunk_count, ingested_at)
VALUES (?, ?, ?, ?, ?, ?)
`, filing.Ticker, filing.FormType, filing.DateString(), filing.AccessionNumber, chunkCount,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return core.Wrap(core.KindDatabase, "registering filing", err)
	}
	r.logger.Printf("registered %s (%d chunks)", filing, chunkCount)
	return nil
}

// Remove deletes a filing record, reporting whether it existed.
func (r *Registry) Remove(ctx context.Context, accession string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM filings WHERE accession_number = ?`, accession)
	if err != nil {
		return false, core.Wrap(core.KindDatabase, "removing filing", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, core.Wrap(core.KindDatabase, "counting removed rows", err)
	}
	return n > 0, nil
}

func scanFiling(scanner interface{ Scan(...any) error }) (FilingRecord, error) {
	var (
		rec      FilingRecord
		ticker   string
		form     string
		date     string
		acc      string
		ingested string
	)
	if err := scanner.Scan(&rec.ID, &ticker, &form, &date, &acc, &rec.ChunkCount, &ingested); err != nil {
		return rec, err
	}
	filingDate, err := time.Parse("2006-01-02", date)
	if err != nil {
		return rec, err
	}
	rec.Filing = core.NewFilingID(ticker, form, filingDate, acc)
	if t, err := time.Parse(time.RFC3339, ingested); err == nil {
		rec.IngestedAt = t
	}
	return rec, nil
}

// Get returns the record for an accession number, or nil when absent.
func (r *Registry) Get(ctx context.Context, accession string) (*FilingRecord, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT id, ticker, form_type, filing_date, accession_number, chunk_count, ingested_at
FROM filings WHERE accession_number = ?
`, accession)
	rec, err := scanFiling(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, core.Wrap(core.KindDatabase, "loading filing", err)
	}
	return &rec, nil
}

// List returns registered filings, newest first, optionally narrowed by
// ticker and form type.
func (r *Registry) List(ctx context.Context, ticker, formType string) ([]FilingRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT id, ticker, form_type, filing_date, accession_number, chunk_count, ingested_at
FROM filings
WHERE (? = '' OR ticker = ?) AND (? = '' OR form_type = ?)
ORDER BY filing_date DESC, id DESC
`, upper(ticker), upper(ticker), upper(formType), upper(formType))
	if err != nil {
		return nil, core.Wrap(core.KindDatabase, "listing filings", err)
	}
	defer rows.Close()
	var records []FilingRecord
	for rows.Next() {
		rec, err := scanFiling(rows)
		if err != nil {
			return nil, core.Wrap(core.KindDatabase, "scanning filing", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Wrap(core.KindDatabase, "iterating filings", err)
	}
	return records, nil
}

// Count counts registered filings, optionally narrowed by ticker and
// form type.
func (r *Registry) Count(ctx context.Context, ticker, formType string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM filings
WHERE (? = '' OR ticker = ?) AND (? = '' OR form_type = ?)
`, upper(ticker), upper(ticker), upper(formType), upper(formType)).Scan(&n)
	if err != nil {
		return 0, core.Wrap(core.KindDatabase, "counting filings", err)
	}
	return n, nil
}

func upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
