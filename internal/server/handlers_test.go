package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/fetch"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/pipeline"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/search"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/store"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/tasks"
)

type stubFetcher struct {
	infos   []fetch.FilingInfo
	listErr error
}

func (f *stubFetcher) ListAvailable(ctx context.Context, ticker, formType string, opts fetch.Options) ([]fetch.FilingInfo, error) {
	return f.infos, f.listErr
}
func (f *stubFetcher) Fetch(ctx context.Context, ticker, formType string, opts fetch.Options) ([]fetch.Filing, error) {
	return nil, nil
}
func (f *stubFetcher) FetchLatest(ctx context.Context, ticker, formType string) (fetch.Filing, error) {
	return fetch.Filing{}, nil
}
func (f *stubFetcher) FetchOne(ctx context.Context, ticker, formType string, index int, opts fetch.Options) (fetch.Filing, error) {
	return fetch.Filing{}, nil
}
func (f *stubFetcher) FetchByAccession(ctx context.Context, ticker, accession string) (fetch.Filing, error) {
	return fetch.Filing{}, nil
}

type stubOrch struct{}

func (stubOrch) ProcessFiling(ctx context.Context, filing core.FilingID, html string, progress pipeline.ProgressFunc) (*core.ProcessedFiling, error) {
	return &core.ProcessedFiling{Filing: filing}, nil
}

// stubTaskStore satisfies the task worker's storage interface.
type stubTaskStore struct{}

func (stubTaskStore) StoreFiling(ctx context.Context, p *core.ProcessedFiling) error { return nil }
func (stubTaskStore) DeleteFiling(ctx context.Context, accession string) (int, bool, error) {
	return 0, false, nil
}
func (stubTaskStore) IsDuplicate(ctx context.Context, filing core.FilingID) (bool, error) {
	return false, nil
}
func (stubTaskStore) CheckFilingLimit(ctx context.Context) error { return nil }

type stubStore struct {
	records []store.FilingRecord
	results []core.SearchResult

	deletedAccessions []string
	deleteExisted     bool
	deleteChunks      int
}

func (s *stubStore) StoreFiling(ctx context.Context, p *core.ProcessedFiling) error { return nil }
func (s *stubStore) DeleteFiling(ctx context.Context, accession string) (int, error) {
	s.deletedAccessions = append(s.deletedAccessions, accession)
	return s.deleteChunks, nil
}
func (s *stubStore) Query(ctx context.Context, vector []float32, n int, filter store.Filter) ([]core.SearchResult, error) {
	return s.results, nil
}
func (s *stubStore) Count(ctx context.Context) (int, error) {
	n := 0
	for _, r := range s.records {
		n += r.ChunkCount
	}
	return n, nil
}

func (s *stubStore) IsDuplicate(ctx context.Context, filing core.FilingID) (bool, error) {
	return false, nil
}
func (s *stubStore) CheckFilingLimit(ctx context.Context) error { return nil }
func (s *stubStore) Register(ctx context.Context, filing core.FilingID, chunkCount int) error {
	return nil
}
func (s *stubStore) Remove(ctx context.Context, accession string) (bool, error) {
	return s.deleteExisted, nil
}
func (s *stubStore) Get(ctx context.Context, accession string) (*store.FilingRecord, error) {
	for i := range s.records {
		if s.records[i].Filing.AccessionNumber == accession {
			return &s.records[i], nil
		}
	}
	return nil, nil
}
func (s *stubStore) List(ctx context.Context, ticker, formType string) ([]store.FilingRecord, error) {
	out := []store.FilingRecord{}
	for _, r := range s.records {
		if ticker != "" && r.Filing.Ticker != ticker {
			continue
		}
		if formType != "" && r.Filing.FormType != formType {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
// registryView overrides Count so the same stub can back both halves
// of the store manager.
type registryView struct{ *stubStore }

func (r registryView) Count(ctx context.Context, ticker, formType string) (int, error) {
	recs, err := r.List(ctx, ticker, formType)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func newTestManager(st *stubStore) *store.Manager {
	return store.NewManager(st, registryView{st})
}

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.vector, s.err
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func TestSearchEndpoint(t *testing.T) {
	e := echo.New()
	st := &stubStore{results: []core.SearchResult{
		{ChunkID: "AAPL_10-K_2024-11-01_000", Content: "Revenue grew.", Similarity: 0.91},
		{ChunkID: "AAPL_10-K_2024-11-01_001", Content: "Margins fell.", Similarity: 0.42},
	}}
	engine := search.NewEngine(&stubEmbedder{vector: []float32{0.1, 0.2}}, st, 5, 0)
	handler := &SearchHandler{Engine: engine}

	req := jsonRequest(http.MethodPost, "/api/search", `{"query":"revenue growth","min_similarity":0.5}`)
	rec := httptest.NewRecorder()
	if err := handler.search(e.NewContext(req, rec)); err != nil {
		t.Fatalf("search: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	var resp struct {
		Query   string              `json:"query"`
		Results []core.SearchResult `json:"results"`
		Count   int                 `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || len(resp.Results) != 1 {
		t.Fatalf("expected 1 result above floor, got %+v", resp)
	}
	if resp.Results[0].ChunkID != "AAPL_10-K_2024-11-01_000" {
		t.Fatalf("unexpected result: %+v", resp.Results[0])
	}
}

func TestSearchEndpointEmptyQuery(t *testing.T) {
	e := echo.New()
	engine := search.NewEngine(&stubEmbedder{}, &stubStore{}, 5, 0)
	handler := &SearchHandler{Engine: engine}

	req := jsonRequest(http.MethodPost, "/api/search", `{"query":"  "}`)
	rec := httptest.NewRecorder()
	err := handler.search(e.NewContext(req, rec))
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", code)
	}
}

func TestIngestAcceptsAndReturnsTaskID(t *testing.T) {
	e := echo.New()
	mgr := tasks.NewManager(&stubFetcher{}, stubOrch{}, stubTaskStore{}, time.Hour, time.Minute)
	defer mgr.Close()
	handler := &IngestHandler{Tasks: mgr}

	req := jsonRequest(http.MethodPost, "/api/ingest", `{"ticker":"aapl","form_types":["10-K"],"count":1}`)
	rec := httptest.NewRecorder()
	if err := handler.ingest(e.NewContext(req, rec)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := resp["task_id"]
	if id == "" {
		t.Fatalf("expected a task id, got %v", resp)
	}
	if _, ok := mgr.Get(id); !ok {
		t.Fatalf("manager does not know task %s", id)
	}
}

func TestIngestRejectsMissingTicker(t *testing.T) {
	e := echo.New()
	mgr := tasks.NewManager(&stubFetcher{}, stubOrch{}, stubTaskStore{}, time.Hour, time.Minute)
	defer mgr.Close()
	handler := &IngestHandler{Tasks: mgr}

	req := jsonRequest(http.MethodPost, "/api/ingest", `{"form_types":["10-K"]}`)
	rec := httptest.NewRecorder()
	err := handler.ingest(e.NewContext(req, rec))
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", code)
	}
}

func TestGetTaskUnknown(t *testing.T) {
	e := echo.New()
	mgr := tasks.NewManager(&stubFetcher{}, stubOrch{}, stubTaskStore{}, time.Hour, time.Minute)
	defer mgr.Close()
	handler := &IngestHandler{Tasks: mgr}

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/nope", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("nope")

	err := handler.getTask(ctx)
	if code := httpStatus(t, err); code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", code)
	}
}

func TestCancelFinishedTaskConflicts(t *testing.T) {
	e := echo.New()
	mgr := tasks.NewManager(&stubFetcher{}, stubOrch{}, stubTaskStore{}, time.Hour, time.Minute)
	defer mgr.Close()
	handler := &IngestHandler{Tasks: mgr}

	id, err := mgr.Create(tasks.Request{Tickers: []string{"AAPL"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// The stub fetcher lists nothing so the task completes immediately.
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, _ := mgr.Get(id)
		if snap.State.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never finished: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/tasks/"+id, nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues(id)

	cancelErr := handler.cancelTask(ctx)
	if code := httpStatus(t, cancelErr); code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", code)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	e := echo.New()
	mgr := tasks.NewManager(&stubFetcher{}, stubOrch{}, stubTaskStore{}, time.Hour, time.Minute)
	defer mgr.Close()
	handler := &IngestHandler{Tasks: mgr}

	req := httptest.NewRequest(http.MethodDelete, "/api/tasks/nope", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("nope")

	err := handler.cancelTask(ctx)
	if code := httpStatus(t, err); code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", code)
	}
}

func TestCancelRunningTask(t *testing.T) {
	e := echo.New()
	fetcher := &stubFetcher{infos: []fetch.FilingInfo{
		{ID: core.FilingID{Ticker: "AAPL", FormType: "10-K", AccessionNumber: "acc-1", FilingDate: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)}},
	}}
	orch := &blockingOrch{started: make(chan struct{}), release: make(chan struct{})}
	mgr := tasks.NewManager(fetcher, orch, stubTaskStore{}, time.Hour, time.Minute)
	defer mgr.Close()
	handler := &IngestHandler{Tasks: mgr}

	id, err := mgr.Create(tasks.Request{Tickers: []string{"AAPL"}, FormTypes: []string{"10-K"}, Count: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case <-orch.started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never reached the pipeline")
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/tasks/"+id, nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues(id)

	if err := handler.cancelTask(ctx); err != nil {
		t.Fatalf("cancelTask: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	close(orch.release)
}

func TestListFilings(t *testing.T) {
	e := echo.New()
	st := &stubStore{records: []store.FilingRecord{
		{ID: 1, Filing: core.FilingID{Ticker: "AAPL", FormType: "10-K", AccessionNumber: "acc-1"}, ChunkCount: 12},
		{ID: 2, Filing: core.FilingID{Ticker: "MSFT", FormType: "10-Q", AccessionNumber: "acc-2"}, ChunkCount: 7},
	}}
	handler := &FilingsHandler{Store: newTestManager(st)}

	req := httptest.NewRequest(http.MethodGet, "/api/filings?ticker=aapl", nil)
	rec := httptest.NewRecorder()
	if err := handler.list(e.NewContext(req, rec)); err != nil {
		t.Fatalf("list: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	var resp struct {
		Filings []store.FilingRecord `json:"filings"`
		Count   int                  `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Filings[0].Filing.Ticker != "AAPL" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGetFilingNotFound(t *testing.T) {
	e := echo.New()
	handler := &FilingsHandler{Store: newTestManager(&stubStore{})}

	req := httptest.NewRequest(http.MethodGet, "/api/filings/acc-x", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("accession")
	ctx.SetParamValues("acc-x")

	err := handler.get(ctx)
	if code := httpStatus(t, err); code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", code)
	}
}

func TestDeleteFiling(t *testing.T) {
	e := echo.New()
	st := &stubStore{deleteExisted: true, deleteChunks: 9}
	handler := &FilingsHandler{Store: newTestManager(st)}

	req := httptest.NewRequest(http.MethodDelete, "/api/filings/acc-1", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("accession")
	ctx.SetParamValues("acc-1")

	if err := handler.remove(ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if len(st.deletedAccessions) != 1 || st.deletedAccessions[0] != "acc-1" {
		t.Fatalf("vector delete not called: %v", st.deletedAccessions)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["chunks_removed"].(float64) != 9 {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestClearAllRequiresConfirm(t *testing.T) {
	e := echo.New()
	handler := &FilingsHandler{Store: newTestManager(&stubStore{})}

	req := httptest.NewRequest(http.MethodDelete, "/api/filings", nil)
	rec := httptest.NewRecorder()
	err := handler.removeMatching(e.NewContext(req, rec))
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", code)
	}
}

func TestAvailableFilings(t *testing.T) {
	e := echo.New()
	fetcher := &stubFetcher{infos: []fetch.FilingInfo{
		{ID: core.FilingID{Ticker: "AAPL", FormType: "10-K", AccessionNumber: "acc-1"}, CompanyName: "Apple Inc."},
	}}
	handler := &FilingsHandler{Store: newTestManager(&stubStore{}), Fetcher: fetcher}

	req := httptest.NewRequest(http.MethodGet, "/api/filings/available?ticker=aapl&form_type=10-k", nil)
	rec := httptest.NewRecorder()
	if err := handler.available(e.NewContext(req, rec)); err != nil {
		t.Fatalf("available: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	var resp struct {
		Ticker   string `json:"ticker"`
		FormType string `json:"form_type"`
		Count    int    `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ticker != "AAPL" || resp.FormType != "10-K" || resp.Count != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAvailableRequiresTicker(t *testing.T) {
	e := echo.New()
	handler := &FilingsHandler{Store: newTestManager(&stubStore{}), Fetcher: &stubFetcher{}}

	req := httptest.NewRequest(http.MethodGet, "/api/filings/available", nil)
	rec := httptest.NewRecorder()
	err := handler.available(e.NewContext(req, rec))
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", code)
	}
}

func TestAvailableRejectsBadDate(t *testing.T) {
	e := echo.New()
	handler := &FilingsHandler{Store: newTestManager(&stubStore{}), Fetcher: &stubFetcher{}}

	req := httptest.NewRequest(http.MethodGet, "/api/filings/available?ticker=AAPL&start_date=01-02-2024", nil)
	rec := httptest.NewRecorder()
	err := handler.available(e.NewContext(req, rec))
	if code := httpStatus(t, err); code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", code)
	}
}
