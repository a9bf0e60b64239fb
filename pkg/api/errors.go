package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/fuel-code/server/pkg/apierr"
)

// mapServiceError maps apierr sentinel/typed errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *apierr.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, apierr.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, apierr.ErrConflict) {
		return echo.NewHTTPError(http.StatusConflict, "resource is not in a valid state for this operation")
	}

	slog.Error("unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
