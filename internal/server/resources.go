package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/embed"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/store"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/tasks"
)

// ResourcesHandler reports system state and controls the embedding
// model's GPU residency.
type ResourcesHandler struct {
	Embedder   *embed.Service
	Tasks      *tasks.Manager
	Store      *store.Manager
	MaxFilings int
}

func (h *ResourcesHandler) Register(g *echo.Group) {
	g.GET("/status", h.status)
	g.GET("/resources/model", h.modelStatus)
	g.DELETE("/resources/model", h.unloadModel)
}

func (h *ResourcesHandler) status(c echo.Context) error {
	ctx := c.Request().Context()
	storage, err := h.Store.Status(ctx, h.MaxFilings)
	if err != nil {
		return httpError(err)
	}
	active := 0
	for _, snap := range h.Tasks.List() {
		if !snap.State.Terminal() {
			active++
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"storage":      storage,
		"model":        h.Embedder.Status(ctx),
		"active_tasks": active,
	})
}

func (h *ResourcesHandler) modelStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Embedder.Status(c.Request().Context()))
}

// unloadModel frees the model's VRAM. Refused while an ingestion task
// is active since the pipeline would immediately reload it.
func (h *ResourcesHandler) unloadModel(c echo.Context) error {
	if h.Tasks.HasActive() {
		return echo.NewHTTPError(http.StatusConflict, "cannot unload model while an ingestion task is active")
	}
	if err := h.Embedder.Unload(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.Embedder.Status(c.Request().Context()))
}
