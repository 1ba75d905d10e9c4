package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/search"
)

// SearchHandler answers semantic queries against the stored filings.
type SearchHandler struct {
	Engine *search.Engine
}

func (h *SearchHandler) Register(g *echo.Group) {
	g.POST("/search", h.search)
}

type searchRequest struct {
	Query         string   `json:"query"`
	TopK          int      `json:"top_k"`
	Ticker        string   `json:"ticker"`
	FormType      string   `json:"form_type"`
	Accession     string   `json:"accession_number"`
	MinSimilarity *float64 `json:"min_similarity"`
}

func (h *SearchHandler) search(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	results, err := h.Engine.Search(c.Request().Context(), req.Query, search.Options{
		TopK:          req.TopK,
		Ticker:        strings.ToUpper(req.Ticker),
		FormType:      strings.ToUpper(req.FormType),
		Accession:     req.Accession,
		MinSimilarity: req.MinSimilarity,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"query":   req.Query,
		"results": results,
		"count":   len(results),
	})
}
