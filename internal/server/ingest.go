package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/tasks"
)

// IngestHandler exposes ingestion tasks over HTTP. Work is always
// asynchronous: callers get a task id back and poll or stream progress.
type IngestHandler struct {
	Tasks *tasks.Manager
}

func (h *IngestHandler) Register(g *echo.Group) {
	g.POST("/ingest", h.ingest)
	g.POST("/ingest/batch", h.ingestBatch)
	g.GET("/tasks", h.listTasks)
	g.GET("/tasks/:id", h.getTask)
	g.DELETE("/tasks/:id", h.cancelTask)
}

type ingestRequest struct {
	Ticker    string   `json:"ticker"`
	Tickers   []string `json:"tickers"`
	FormTypes []string `json:"form_types"`
	Count     int      `json:"count"`
	Mode      string   `json:"mode"`
	Year      int      `json:"year"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
}

func (r ingestRequest) toTaskRequest() tasks.Request {
	tickers := r.Tickers
	if len(tickers) == 0 && r.Ticker != "" {
		tickers = []string{r.Ticker}
	}
	return tasks.Request{
		Tickers:   tickers,
		FormTypes: r.FormTypes,
		Count:     r.Count,
		Mode:      tasks.CountMode(r.Mode),
		Year:      r.Year,
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
	}
}

func (h *IngestHandler) ingest(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Tickers) > 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "use /api/ingest/batch for multiple tickers")
	}
	id, err := h.Tasks.Create(req.toTaskRequest())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"task_id": id})
}

func (h *IngestHandler) ingestBatch(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Tickers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "tickers is required")
	}
	id, err := h.Tasks.Create(req.toTaskRequest())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"task_id": id})
}

func (h *IngestHandler) listTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"tasks": h.Tasks.List()})
}

func (h *IngestHandler) getTask(c echo.Context) error {
	snap, ok := h.Tasks.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown task")
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *IngestHandler) cancelTask(c echo.Context) error {
	id := c.Param("id")
	// Cancel reports false for unknown and for already-terminal tasks;
	// deciding on its return avoids racing a task that finishes between
	// a lookup and the cancel.
	if h.Tasks.Cancel(id) {
		return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
	}
	if _, ok := h.Tasks.Get(id); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown task")
	}
	return echo.NewHTTPError(http.StatusConflict, "task already finished")
}
