package outbound

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labbridge/labbridge/internal/domain/integration"
	"github.com/labbridge/labbridge/internal/platform/auth"
)

// Handler exposes the sync trigger endpoint.
type Handler struct {
	orchestrator *Orchestrator
}

func NewHandler(orchestrator *Orchestrator) *Handler {
	return &Handler{orchestrator: orchestrator}
}

// RegisterRoutes mounts the sync endpoint on g, which should already carry
// JWT authentication middleware.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/integrations/:id/sync", h.sync)
}

type syncResponse struct {
	Success      bool `json:"success"`
	TotalRecords int  `json:"totalRecords"`
	SyncedCount  int  `json:"syncedCount"`
	ErrorCount   int  `json:"errorCount"`
}

func (h *Handler) sync(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid integration id")
	}

	from, err := parseDateParam(c.QueryParam("startDate"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid startDate")
	}
	to, err := parseDateParam(c.QueryParam("endDate"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid endDate")
	}
	if to != nil {
		// endDate covers the whole day.
		end := to.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}

	principal := auth.PrincipalFromContext(c.Request().Context())
	entry, err := h.orchestrator.SyncPatientData(c.Request().Context(), principal, id, from, to)
	if err != nil {
		switch {
		case errors.Is(err, ErrPermissionDenied):
			return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
		case errors.Is(err, integration.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "integration not found")
		}
		return err
	}

	return c.JSON(http.StatusOK, syncResponse{
		Success:      entry.ErrorCount == 0,
		TotalRecords: entry.TotalRecords,
		SyncedCount:  entry.SyncedCount,
		ErrorCount:   entry.ErrorCount,
	})
}

func parseDateParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
