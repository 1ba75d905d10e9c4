package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/fetch"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/store"
)

// FilingsHandler serves the stored-filing inventory and the EDGAR
// preview listing.
type FilingsHandler struct {
	Store   *store.Manager
	Fetcher fetch.Client
}

func (h *FilingsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/available", h.available)
	g.GET("/:accession", h.get)
	g.DELETE("/:accession", h.remove)
	g.DELETE("", h.removeMatching)
}

func (h *FilingsHandler) list(c echo.Context) error {
	records, err := h.Store.Registry.List(c.Request().Context(),
		strings.ToUpper(c.QueryParam("ticker")), strings.ToUpper(c.QueryParam("form_type")))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"filings": records,
		"count":   len(records),
	})
}

func (h *FilingsHandler) available(c echo.Context) error {
	ticker := strings.ToUpper(c.QueryParam("ticker"))
	if ticker == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "ticker is required")
	}
	formType := strings.ToUpper(c.QueryParam("form_type"))
	if formType == "" {
		formType = "10-K"
	}

	var opts fetch.Options
	if v := c.QueryParam("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "count must be a non-negative integer")
		}
		opts.Count = n
	}
	if v := c.QueryParam("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "year must be an integer")
		}
		opts.Year = y
	}
	for param, dst := range map[string]*time.Time{
		"start_date": &opts.StartDate,
		"end_date":   &opts.EndDate,
	} {
		if v := c.QueryParam(param); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, param+" must be YYYY-MM-DD")
			}
			*dst = t
		}
	}

	infos, err := h.Fetcher.ListAvailable(c.Request().Context(), ticker, formType, opts)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ticker":    ticker,
		"form_type": formType,
		"filings":   infos,
		"count":     len(infos),
	})
}

func (h *FilingsHandler) get(c echo.Context) error {
	record, err := h.Store.Registry.Get(c.Request().Context(), c.Param("accession"))
	if err != nil {
		return httpError(err)
	}
	if record == nil {
		return echo.NewHTTPError(http.StatusNotFound, "filing not found")
	}
	return c.JSON(http.StatusOK, record)
}

func (h *FilingsHandler) remove(c echo.Context) error {
	accession := c.Param("accession")
	chunks, existed, err := h.Store.DeleteFiling(c.Request().Context(), accession)
	if err != nil {
		return httpError(err)
	}
	if !existed {
		return echo.NewHTTPError(http.StatusNotFound, "filing not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"accession_number": accession,
		"chunks_removed":   chunks,
	})
}

// removeMatching deletes every filing matching the ticker/form filters.
// With no filters it wipes the whole store, which requires confirm=true.
func (h *FilingsHandler) removeMatching(c echo.Context) error {
	ticker := strings.ToUpper(c.QueryParam("ticker"))
	formType := strings.ToUpper(c.QueryParam("form_type"))
	if ticker == "" && formType == "" && c.QueryParam("confirm") != "true" {
		return echo.NewHTTPError(http.StatusBadRequest, "deleting all filings requires confirm=true")
	}
	filings, chunks, err := h.Store.DeleteMatching(c.Request().Context(), ticker, formType)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"filings_removed": filings,
		"chunks_removed":  chunks,
	})
}
