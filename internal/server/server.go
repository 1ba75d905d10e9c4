package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/ErenYanic/SEC-SemanticSearch/config"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/embed"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/fetch"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/parse"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/pipeline"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/search"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/store"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/tasks"
)

// Run wires every dependency and serves the API until the listener
// fails. Migrations run first so the vector schema matches the binary.
func Run(cfg *appconfig.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := Migrate("file://migrations", cfg.Storage.Postgres.MigrateURL(), "up", 0); err != nil {
		baseLogger.Printf("migrations: %v (continuing, schema may already be current)", err)
	}

	ctx := context.Background()
	vectors, err := store.NewVectorStore(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return err
	}
	registry, err := store.NewRegistry(cfg.Storage.SQLite.Path, cfg.Storage.MaxFilings)
	if err != nil {
		return err
	}
	stores := store.NewManager(vectors, registry)

	fetcher := fetch.New(cfg.Edgar)
	embedder := embed.New(cfg.Embedding)
	defer embedder.Close()
	orch := pipeline.NewOrchestrator(
		parse.NewHTMLParser(),
		pipeline.NewChunker(cfg.Chunking.TokenLimit, cfg.Chunking.Tolerance),
		embedder,
	)
	taskMgr := tasks.NewManager(fetcher, orch, stores, cfg.Tasks.RetainFor, cfg.Tasks.PruneInterval)
	defer taskMgr.Close()
	engine := search.NewEngine(embedder, vectors, cfg.Search.TopK, cfg.Search.MinSimilarity)

	api := e.Group("/api")

	ih := &IngestHandler{Tasks: taskMgr}
	ih.Register(api)

	fh := &FilingsHandler{Store: stores, Fetcher: fetcher}
	fh.Register(api.Group("/filings"))

	sh := &SearchHandler{Engine: engine}
	sh.Register(api)

	rh := &ResourcesHandler{Embedder: embedder, Tasks: taskMgr, Store: stores, MaxFilings: cfg.Storage.MaxFilings}
	rh.Register(api)

	if cfg.Server.StreamEnabled {
		wh := &StreamHandler{Tasks: taskMgr}
		wh.Register(e.Group("/ws"))
	}

	return e.Start(cfg.Server.Address)
}
