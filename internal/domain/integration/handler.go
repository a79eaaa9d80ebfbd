package integration

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labbridge/labbridge/internal/platform/auth"
)

// Handler exposes the integration management API. All routes require the
// ADMIN or INTEGRATION_MANAGER role.
type Handler struct {
	svc          *Service
	deliveryLogs DeliveryLogRepository
	syncLogs     SyncLogRepository
}

func NewHandler(svc *Service, deliveryLogs DeliveryLogRepository, syncLogs SyncLogRepository) *Handler {
	return &Handler{svc: svc, deliveryLogs: deliveryLogs, syncLogs: syncLogs}
}

// RegisterRoutes mounts the management endpoints on g, which should already
// carry JWT authentication middleware.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/integrations", h.list)
	g.POST("/integrations", h.create)
	g.GET("/integrations/:id", h.get)
	g.PUT("/integrations/:id", h.update)
	g.DELETE("/integrations/:id", h.delete)
	g.GET("/integrations/:id/deliveries", h.deliveries)
	g.GET("/integrations/:id/syncs", h.syncs)
}

type integrationRequest struct {
	Name           string `json:"name"`
	Type           Type   `json:"type"`
	EndpointURL    string `json:"endpointUrl"`
	ReceivingApp   string `json:"receivingApp"`
	OutboundAPIKey string `json:"outboundApiKey"`
	BearerToken    string `json:"bearerToken"`
	Active         bool   `json:"active"`
}

// createResponse carries the generated inbound API key. It is returned only
// once, at creation time.
type createResponse struct {
	*Integration
	APIKey string `json:"apiKey"`
}

func (h *Handler) list(c echo.Context) error {
	p, err := requireManager(c)
	if err != nil {
		return err
	}

	items, err := h.svc.List(c.Request().Context(), p.TenantID)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Integration{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) create(c echo.Context) error {
	p, err := requireManager(c)
	if err != nil {
		return err
	}

	var req integrationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	in := &Integration{
		TenantID:       p.TenantID,
		Name:           req.Name,
		Type:           req.Type,
		EndpointURL:    req.EndpointURL,
		ReceivingApp:   req.ReceivingApp,
		OutboundAPIKey: req.OutboundAPIKey,
		BearerToken:    req.BearerToken,
		Active:         req.Active,
	}
	if err := h.svc.Create(c.Request().Context(), in); err != nil {
		if errors.Is(err, ErrValidation) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusCreated, createResponse{Integration: in, APIKey: in.APIKey})
}

func (h *Handler) get(c echo.Context) error {
	p, err := requireManager(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}

	in, err := h.svc.Get(c.Request().Context(), p.TenantID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "integration not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, in)
}

func (h *Handler) update(c echo.Context) error {
	p, err := requireManager(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}

	existing, err := h.svc.Get(c.Request().Context(), p.TenantID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "integration not found")
		}
		return err
	}

	var req integrationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	existing.Name = req.Name
	existing.Type = req.Type
	existing.EndpointURL = req.EndpointURL
	existing.ReceivingApp = req.ReceivingApp
	existing.Active = req.Active
	if req.OutboundAPIKey != "" {
		existing.OutboundAPIKey = req.OutboundAPIKey
	}
	if req.BearerToken != "" {
		existing.BearerToken = req.BearerToken
	}

	if err := h.svc.Update(c.Request().Context(), existing); err != nil {
		if errors.Is(err, ErrValidation) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, existing)
}

func (h *Handler) delete(c echo.Context) error {
	p, err := requireManager(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := h.svc.Delete(c.Request().Context(), p.TenantID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "integration not found")
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) deliveries(c echo.Context) error {
	p, err := requireManager(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}

	items, err := h.deliveryLogs.ListByIntegration(c.Request().Context(), p.TenantID, id, 100)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*DeliveryLogEntry{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) syncs(c echo.Context) error {
	p, err := requireManager(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}

	items, err := h.syncLogs.ListByIntegration(c.Request().Context(), p.TenantID, id, 100)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*SyncLogEntry{}
	}
	return c.JSON(http.StatusOK, items)
}

func requireManager(c echo.Context) (auth.Principal, error) {
	p := auth.PrincipalFromContext(c.Request().Context())
	if !p.HasRole(auth.RoleAdmin, auth.RoleIntegrationManager) {
		return auth.Principal{}, echo.NewHTTPError(http.StatusForbidden, "insufficient role")
	}
	return p, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid integration id")
	}
	return id, nil
}
