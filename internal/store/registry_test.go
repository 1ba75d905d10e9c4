package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
)

func newTestRegistry(t *testing.T, max int) *Registry {
	t.Helper()
	r, err := NewRegistry(":memory:", max)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func filing(ticker, form, date, acc string) core.FilingID {
	d, _ := time.Parse("2006-01-02", date)
	return core.NewFilingID(ticker, form, d, acc)
}

func TestRegisterAndDuplicateDetection(t *testing.T) {
	r := newTestRegistry(t, 20)
	ctx := context.Background()
	f := filing("AAPL", "10-K", "2024-11-01", "acc-1")

	dup, err := r.IsDuplicate(ctx, f)
	if err != nil || dup {
		t.Fatalf("fresh filing flagged duplicate: dup=%v err=%v", dup, err)
	}
	if err := r.Register(ctx, f, 12); err != nil {
		t.Fatalf("Register: %v", err)
	}
	dup, err = r.IsDuplicate(ctx, f)
	if err != nil || !dup {
		t.Fatalf("registered filing not flagged duplicate: dup=%v err=%v", dup, err)
	}

	// Same identity under a different accession is still a duplicate.
	sameIdentity := filing("AAPL", "10-K", "2024-11-01", "acc-other")
	dup, err = r.IsDuplicate(ctx, sameIdentity)
	if err != nil || !dup {
		t.Fatalf("identity duplicate not detected: dup=%v err=%v", dup, err)
	}

	// Registering the duplicate must fail on the unique constraint.
	if err := r.Register(ctx, f, 12); err == nil || !core.IsKind(err, core.KindDatabase) {
		t.Fatalf("expected database error on duplicate register, got %v", err)
	}
}

func TestCheckFilingLimit(t *testing.T) {
	r := newTestRegistry(t, 2)
	ctx := context.Background()
	if err := r.CheckFilingLimit(ctx); err != nil {
		t.Fatalf("empty registry should be under limit: %v", err)
	}
	if err := r.Register(ctx, filing("AAPL", "10-K", "2024-11-01", "acc-1"), 1); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(ctx, filing("MSFT", "10-K", "2024-07-30", "acc-2"), 1); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := r.CheckFilingLimit(ctx)
	if !core.IsFilingLimit(err) {
		t.Fatalf("expected filing limit error, got %v", err)
	}
	var le *core.FilingLimitError
	if !errors.As(err, &le) || le.Current != 2 || le.Max != 2 {
		t.Fatalf("unexpected limit payload: %v", err)
	}
}

func TestRemoveAndGet(t *testing.T) {
	r := newTestRegistry(t, 20)
	ctx := context.Background()
	f := filing("AAPL", "10-Q", "2024-08-02", "acc-2")
	if err := r.Register(ctx, f, 7); err != nil {
		t.Fatalf("Register: %v", err)
	}

	rec, err := r.Get(ctx, "acc-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil || rec.ChunkCount != 7 || !rec.Filing.Equal(f) {
		t.Fatalf("unexpected record %+v", rec)
	}

	existed, err := r.Remove(ctx, "acc-2")
	if err != nil || !existed {
		t.Fatalf("Remove: existed=%v err=%v", existed, err)
	}
	existed, err = r.Remove(ctx, "acc-2")
	if err != nil || existed {
		t.Fatalf("second Remove should report absent: existed=%v err=%v", existed, err)
	}
	rec, err = r.Get(ctx, "acc-2")
	if err != nil || rec != nil {
		t.Fatalf("Get after remove: rec=%+v err=%v", rec, err)
	}
}

func TestListOrderingAndFilters(t *testing.T) {
	r := newTestRegistry(t, 20)
	ctx := context.Background()
	r.Register(ctx, filing("AAPL", "10-K", "2023-11-03", "acc-1"), 1)
	r.Register(ctx, filing("AAPL", "10-Q", "2024-08-02", "acc-2"), 1)
	r.Register(ctx, filing("MSFT", "10-K", "2024-07-30", "acc-3"), 1)

	all, err := r.List(ctx, "", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].Filing.AccessionNumber != "acc-2" {
		t.Fatalf("expected newest first, got %s", all[0].Filing.AccessionNumber)
	}

	aapl, err := r.List(ctx, "aapl", "")
	if err != nil || len(aapl) != 2 {
		t.Fatalf("ticker filter: got %d records, err %v", len(aapl), err)
	}
	tenK, err := r.List(ctx, "", "10-k")
	if err != nil || len(tenK) != 2 {
		t.Fatalf("form filter: got %d records, err %v", len(tenK), err)
	}

	n, err := r.Count(ctx, "AAPL", "10-Q")
	if err != nil || n != 1 {
		t.Fatalf("Count with filters: n=%d err=%v", n, err)
	}
}
