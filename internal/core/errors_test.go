package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsKindThroughWrapping(t *testing.T) {
	base := Wrap(KindFetch, "request failed", errors.New("boom"))
	wrapped := fmt.Errorf("outer: %w", base)
	if !IsKind(wrapped, KindFetch) {
		t.Fatalf("expected fetch kind through wrapping")
	}
	if IsKind(wrapped, KindParse) {
		t.Fatalf("kind should not match parse")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain error should have no kind")
	}
}

func TestErrorMessageCarriesCause(t *testing.T) {
	err := Wrap(KindDatabase, "inserting chunk", errors.New("connection refused"))
	got := err.Error()
	if got != "database: inserting chunk: connection refused" {
		t.Fatalf("unexpected message: %q", got)
	}
	if E(KindSearch, "query must not be empty").Error() != "search: query must not be empty" {
		t.Fatalf("unwrapped message changed shape")
	}
	detailed := Ef(KindConfig, "unsupported form type", "%s", "8-K")
	if detailed.Error() != "config: unsupported form type (8-K)" {
		t.Fatalf("unexpected detailed message: %q", detailed.Error())
	}
}

func TestFilingLimitError(t *testing.T) {
	err := fmt.Errorf("register: %w", &FilingLimitError{Current: 20, Max: 20})
	if !IsFilingLimit(err) {
		t.Fatalf("expected filing limit detection through wrapping")
	}
	if IsFilingLimit(E(KindDatabase, "other")) {
		t.Fatalf("typed database error is not a limit error")
	}
}
