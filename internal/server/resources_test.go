package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ErenYanic/SEC-SemanticSearch/config"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/embed"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/fetch"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/pipeline"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/tasks"
)

func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ps", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"models": []interface{}{}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testEmbedder(t *testing.T, baseURL string) *embed.Service {
	t.Helper()
	svc := embed.New(config.EmbeddingConfig{
		BaseURL:    baseURL,
		Model:      "nomic-embed-text",
		Dimensions: 4,
		BatchSize:  8,
	})
	t.Cleanup(svc.Close)
	return svc
}

func TestModelStatus(t *testing.T) {
	e := echo.New()
	ollama := fakeOllama(t)
	mgr := tasks.NewManager(&stubFetcher{}, stubOrch{}, stubTaskStore{}, time.Hour, time.Minute)
	defer mgr.Close()
	handler := &ResourcesHandler{
		Embedder: testEmbedder(t, ollama.URL),
		Tasks:    mgr,
	}

	req := httptest.NewRequest(http.MethodGet, "/api/resources/model", nil)
	rec := httptest.NewRecorder()
	if err := handler.modelStatus(e.NewContext(req, rec)); err != nil {
		t.Fatalf("modelStatus: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	var status embed.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Model != "nomic-embed-text" || status.State != embed.StateUnloaded {
		t.Fatalf("unexpected status: %+v", status)
	}
}

// blockingOrch parks the pipeline until released so a task stays active.
type blockingOrch struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingOrch) ProcessFiling(ctx context.Context, filing core.FilingID, html string, progress pipeline.ProgressFunc) (*core.ProcessedFiling, error) {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &core.ProcessedFiling{Filing: filing, Chunks: []core.Chunk{{Filing: filing, Content: "x"}}, Embeddings: [][]float32{{0.1}}}, nil
}

func TestUnloadModelRefusedWhileActive(t *testing.T) {
	e := echo.New()
	ollama := fakeOllama(t)
	fetcher := &stubFetcher{infos: []fetch.FilingInfo{
		{ID: core.FilingID{Ticker: "AAPL", FormType: "10-K", AccessionNumber: "acc-1", FilingDate: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)}},
	}}
	orch := &blockingOrch{started: make(chan struct{}), release: make(chan struct{})}
	mgr := tasks.NewManager(fetcher, orch, stubTaskStore{}, time.Hour, time.Minute)
	defer mgr.Close()

	if _, err := mgr.Create(tasks.Request{Tickers: []string{"AAPL"}, FormTypes: []string{"10-K"}, Count: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	select {
	case <-orch.started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never reached the pipeline")
	}

	handler := &ResourcesHandler{Embedder: testEmbedder(t, ollama.URL), Tasks: mgr}
	req := httptest.NewRequest(http.MethodDelete, "/api/resources/model", nil)
	rec := httptest.NewRecorder()
	err := handler.unloadModel(e.NewContext(req, rec))
	if code := httpStatus(t, err); code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", code)
	}

	close(orch.release)
}
