package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
)

// httpError maps domain error kinds onto HTTP status codes so handlers
// can return errors from lower layers unchanged.
func httpError(err error) *echo.HTTPError {
	if core.IsFilingLimit(err) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	switch core.KindOf(err) {
	case core.KindConfig, core.KindSearch:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case core.KindFetch:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
