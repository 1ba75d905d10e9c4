package store

import (
	"context"
	"database/sql"
	"log"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
)

// VectorStore persists chunk embeddings in Postgres with the pgvector
// extension. Vectors travel as literals through $n::vector casts.
type VectorStore struct {
	DB     *sql.DB
	logger *log.Logger
}

// NewVectorStore opens and pings a Postgres connection.
func NewVectorStore(ctx context.Context, dsn string) (*VectorStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, core.Wrap(core.KindDatabase, "opening postgres", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, core.Wrap(core.KindDatabase, "pinging postgres", err)
	}
	return NewVectorStoreWithDB(db), nil
}

// NewVectorStoreWithDB wraps an existing connection, used by tests.
func NewVectorStoreWithDB(db *sql.DB) *VectorStore {
	return &VectorStore{DB: db, logger: log.New(log.Writer(), "[VSTORE] ", log.LstdFlags)}
}

func (s *VectorStore) Close() error { return s.DB.Close() }

// Filter narrows a similarity query. Empty fields match everything.
type Filter struct {
	Ticker    string
	FormType  string
	Accession string
}

// StoreFiling writes every chunk of a processed filing in one
// transaction, so a filing is either fully present or absent.
func (s *VectorStore) StoreFiling(ctx context.Context, p *core.ProcessedFiling) error {
	if len(p.Chunks) == 0 {
		return core.E(core.KindDatabase, "no chunks to store")
	}
	if len(p.Chunks) != len(p.Embeddings) {
		return core.Ef(core.KindDatabase, "chunk/vector count mismatch", "%d chunks, %d vectors", len(p.Chunks), len(p.Embeddings))
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return core.Wrap(core.KindDatabase, "begin transaction", err)
	}
	defer tx.Rollback()

	for i, chunk := range p.Chunks {
		vectorLiteral, err := encodeVectorLiteral(p.Embeddings[i])
		if err != nil {
			return core.Wrap(core.KindDatabase, "encoding vector", err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO filing_chunks (chunk_id, accession_number, ticker, form_type, filing_date, path, content_type, content, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::vector,NOW())
ON CONFLICT (chunk_id) DO UPDATE SET
  content = EXCLUDED.content,
  embedding = EXCLUDED.embedding,
  path = EXCLUDED.path,
  content_type = EXCLUDED.content_type
`, chunk.ID(), chunk.Filing.AccessionNumber, chunk.Filing.Ticker, chunk.Filing.FormType,
			chunk.Filing.DateString(), chunk.Path, string(chunk.ContentType), chunk.Content, vectorLiteral)
		if err != nil {
			return core.Wrap(core.KindDatabase, "inserting chunk", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return core.Wrap(core.KindDatabase, "commit transaction", err)
	}
	s.logger.Printf("stored %d chunks for %s", len(p.Chunks), p.Filing)
	return nil
}

// DeleteFiling removes every chunk of a filing and reports how many
// were deleted. Deleting an absent filing returns 0 without error.
func (s *VectorStore) DeleteFiling(ctx context.Context, accession string) (int, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM filing_chunks WHERE accession_number = $1`, accession)
	if err != nil {
		return 0, core.Wrap(core.KindDatabase, "deleting chunks", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, core.Wrap(core.KindDatabase, "counting deleted chunks", err)
	}
	return int(n), nil
}

// Query returns the n chunks closest to the vector, filtered before
// ranking. Similarity is 1 minus cosine distance.
func (s *VectorStore) Query(ctx context.Context, vector []float32, n int, filter Filter) ([]core.SearchResult, error) {
	if len(vector) == 0 {
		return nil, core.E(core.KindDatabase, "query vector must not be empty")
	}
	if n <= 0 {
		n = 5
	}
	vectorLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, core.Wrap(core.KindDatabase, "encoding vector", err)
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT chunk_id, accession_number, ticker, form_type, filing_date, path, content_type, content, embedding <=> $1::vector AS distance
FROM filing_chunks
WHERE ($2 = '' OR ticker = $2)
  AND ($3 = '' OR form_type = $3)
  AND ($4 = '' OR accession_number = $4)
ORDER BY embedding <=> $1::vector
LIMIT $5
`, vectorLiteral, strings.ToUpper(filter.Ticker), strings.ToUpper(filter.FormType), filter.Accession, n)
	if err != nil {
		return nil, core.Wrap(core.KindDatabase, "querying chunks", err)
	}
	defer rows.Close()

	var results []core.SearchResult
	for rows.Next() {
		var (
			r        core.SearchResult
			ctype    string
			distance float64
		)
		if err := rows.Scan(&r.ChunkID, &r.AccessionNumber, &r.Ticker, &r.FormType, &r.FilingDate, &r.Path, &ctype, &r.Content, &distance); err != nil {
			return nil, core.Wrap(core.KindDatabase, "scanning result", err)
		}
		r.ContentType = core.ContentType(ctype)
		r.Similarity = 1 - distance
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Wrap(core.KindDatabase, "iterating results", err)
	}
	return results, nil
}

// Count reports the total number of stored chunks.
func (s *VectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM filing_chunks`).Scan(&n); err != nil {
		return 0, core.Wrap(core.KindDatabase, "counting chunks", err)
	}
	return n, nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", core.E(core.KindDatabase, "vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
