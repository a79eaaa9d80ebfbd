package result

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labbridge/labbridge/internal/platform/auth"
)

// Handler exposes the result management API, the entry point through which
// the laboratory's own systems publish results.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the result endpoints on g, which should already
// carry JWT authentication middleware.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/results", h.create)
	g.GET("/results/:id", h.get)
	g.POST("/results/:id/complete", h.complete)
}

type resultRequest struct {
	PlacerOrderID string        `json:"placerOrderId"`
	TestCode      string        `json:"testCode"`
	TestName      string        `json:"testName"`
	Status        string        `json:"status"`
	ReportedAt    *time.Time    `json:"reportedAt"`
	Observations  []Observation `json:"observations"`
}

func (h *Handler) create(c echo.Context) error {
	p, err := requireManager(c)
	if err != nil {
		return err
	}

	var req resultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	r := &LabResult{
		TenantID:      p.TenantID,
		PlacerOrderID: req.PlacerOrderID,
		TestCode:      req.TestCode,
		TestName:      req.TestName,
		Status:        req.Status,
		ReportedAt:    req.ReportedAt,
		Observations:  req.Observations,
	}
	if err := h.svc.Create(c.Request().Context(), r); err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrOrderNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) get(c echo.Context) error {
	p, err := requireManager(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid result id")
	}

	r, err := h.svc.Get(c.Request().Context(), p.TenantID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "result not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) complete(c echo.Context) error {
	p, err := requireManager(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid result id")
	}

	r, err := h.svc.Complete(c.Request().Context(), p.TenantID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "result not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func requireManager(c echo.Context) (auth.Principal, error) {
	p := auth.PrincipalFromContext(c.Request().Context())
	if !p.HasRole(auth.RoleAdmin, auth.RoleIntegrationManager) {
		return auth.Principal{}, echo.NewHTTPError(http.StatusForbidden, "insufficient role")
	}
	return p, nil
}
