// Package inbound terminates the message intake endpoints. Every request is
// authenticated against an integration API key before any parsing happens;
// the key also establishes which tenant the message belongs to.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labbridge/labbridge/internal/domain/integration"
	"github.com/labbridge/labbridge/internal/domain/order"
	"github.com/labbridge/labbridge/internal/domain/patient"
	"github.com/labbridge/labbridge/internal/domain/result"
	"github.com/labbridge/labbridge/internal/platform/fhir"
	"github.com/labbridge/labbridge/internal/platform/hl7v2"
	"github.com/labbridge/labbridge/internal/platform/metrics"
)

// APIKeyHeader carries the integration credential on inbound requests.
const APIKeyHeader = "X-API-Key"

// ContentTypeHL7 is the media type used for HL7v2 request and response
// bodies.
const ContentTypeHL7 = "application/hl7-v2; charset=utf-8"

// Authenticator resolves inbound API keys, failing closed.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*integration.Integration, error)
}

// OrderHandler processes decoded orders.
type OrderHandler interface {
	CreateFromHL7(ctx context.Context, tenantID string, payload *hl7v2.OrderPayload) (*order.LabOrder, error)
	CreateFromFHIR(ctx context.Context, tenantID string, req *fhir.ServiceRequestResource) (*order.LabOrder, error)
}

// PatientHandler processes decoded demographics.
type PatientHandler interface {
	Upsert(ctx context.Context, p *patient.Patient) error
}

// ResultHandler processes inbound reports and answers queries.
type ResultHandler interface {
	IngestFHIR(ctx context.Context, tenantID string, report *fhir.DiagnosticReportResource) (*result.LabResult, error)
	ResultStatus(ctx context.Context, tenantID, placerOrderID string) (string, error)
	PatientResults(ctx context.Context, tenantID, externalPatientID string, from, to *time.Time) ([]*result.LabResult, error)
}

// Handler routes inbound HL7v2 and FHIR traffic to the domain services.
type Handler struct {
	auth     Authenticator
	orders   OrderHandler
	patients PatientHandler
	results  ResultHandler
	log      zerolog.Logger
}

func NewHandler(auth Authenticator, orders OrderHandler, patients PatientHandler, results ResultHandler, log zerolog.Logger) *Handler {
	return &Handler{auth: auth, orders: orders, patients: patients, results: results, log: log}
}

// RegisterRoutes mounts the intake endpoints. They carry their own
// authentication and must not sit behind the JWT middleware.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/hl7", h.HandleHL7)
	e.POST("/fhir", h.HandleFHIR)
}

// HandleHL7 processes one HL7v2 message. Apart from authentication
// failures and unsupported message types, every outcome is acknowledged
// with an ACK or NACK message.
func (h *Handler) HandleHL7(c echo.Context) error {
	ctx := c.Request().Context()

	in, err := h.auth.Authenticate(ctx, c.Request().Header.Get(APIKeyHeader))
	if err != nil {
		if errors.Is(err, integration.ErrAuthentication) {
			metrics.InboundMessages.WithLabelValues("hl7", "unauthorized").Inc()
			return c.String(http.StatusUnauthorized, "Unauthorized")
		}
		return err
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}

	msg, err := hl7v2.Parse(body)
	if err != nil {
		metrics.InboundMessages.WithLabelValues("hl7", "malformed").Inc()
		nack := hl7v2.GenerateACK(hl7v2.RecoverControlID(body), "AE", "Malformed HL7 message", "")
		return c.Blob(http.StatusBadRequest, ContentTypeHL7, nack)
	}

	parsed, err := hl7v2.Decode(msg)
	if err != nil {
		metrics.InboundMessages.WithLabelValues("hl7", "malformed").Inc()
		nack := hl7v2.GenerateACK(msg.ControlID, "AE", err.Error(), msg.SendingApp)
		return c.Blob(http.StatusBadRequest, ContentTypeHL7, nack)
	}

	status, response := h.routeHL7(ctx, in, msg, parsed)
	if response == nil {
		return c.String(status, "Unsupported message type")
	}
	return c.Blob(status, ContentTypeHL7, response)
}

// routeHL7 dispatches a decoded message and builds the acknowledgment. A
// nil response body means the message type is unsupported and no
// acknowledgment is owed.
func (h *Handler) routeHL7(ctx context.Context, in *integration.Integration, msg *hl7v2.Message, parsed *hl7v2.ParsedMessage) (int, []byte) {
	switch parsed.Kind {
	case hl7v2.KindOrder:
		err := guard(func() error {
			_, err := h.orders.CreateFromHL7(ctx, in.TenantID, parsed.Order)
			return err
		})
		return h.ackHL7(msg, "order", err)

	case hl7v2.KindPatient:
		err := guard(func() error {
			return h.patients.Upsert(ctx, patient.FromHL7(in.TenantID, *parsed.Patient))
		})
		return h.ackHL7(msg, "patient", err)

	case hl7v2.KindQuery:
		return h.answerQuery(ctx, in, msg, parsed.Query)

	case hl7v2.KindAck:
		// Partner acknowledgment of something we sent; nothing to store.
		metrics.InboundMessages.WithLabelValues("hl7", "accepted").Inc()
		return http.StatusOK, hl7v2.GenerateACK(msg.ControlID, "AA", "", msg.SendingApp)

	default:
		metrics.InboundMessages.WithLabelValues("hl7", "unsupported").Inc()
		h.log.Warn().Str("type", msg.Type).Msg("unsupported hl7 message type")
		return http.StatusBadRequest, nil
	}
}

func (h *Handler) ackHL7(msg *hl7v2.Message, kind string, err error) (int, []byte) {
	if err != nil {
		metrics.InboundMessages.WithLabelValues("hl7", "error").Inc()
		h.log.Error().Err(err).Str("kind", kind).Str("control_id", msg.ControlID).Msg("hl7 handler failed")
		return http.StatusInternalServerError,
			hl7v2.GenerateACK(msg.ControlID, "AE", "Message processing failed", msg.SendingApp)
	}
	metrics.InboundMessages.WithLabelValues("hl7", "accepted").Inc()
	return http.StatusOK, hl7v2.GenerateACK(msg.ControlID, "AA", "", msg.SendingApp)
}

func (h *Handler) answerQuery(ctx context.Context, in *integration.Integration, msg *hl7v2.Message, q *hl7v2.QueryPayload) (int, []byte) {
	var results []hl7v2.ResultInfo
	err := guard(func() error {
		switch q.QueryType {
		case hl7v2.QueryResultStatus:
			status, err := h.results.ResultStatus(ctx, in.TenantID, q.OrderID)
			if err != nil {
				return err
			}
			results = []hl7v2.ResultInfo{{OrderID: q.OrderID, Status: status}}
			return nil

		case hl7v2.QueryPatientResults:
			from := parseQueryDate(q.Start)
			to := parseQueryDate(q.End)
			items, err := h.results.PatientResults(ctx, in.TenantID, q.PatientID, from, to)
			if err != nil {
				return err
			}
			for _, r := range items {
				results = append(results, r.ToHL7())
			}
			return nil

		default:
			return fmt.Errorf("unsupported query type %q", q.QueryType)
		}
	})

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, result.ErrOrderNotFound) || errors.Is(err, result.ErrNotFound) {
			status = http.StatusNotFound
		}
		metrics.InboundMessages.WithLabelValues("hl7", "error").Inc()
		h.log.Error().Err(err).Str("query_type", q.QueryType).Msg("query failed")
		return status, hl7v2.GenerateACK(msg.ControlID, "AE", "Query failed", msg.SendingApp)
	}

	metrics.InboundMessages.WithLabelValues("hl7", "accepted").Inc()
	return http.StatusOK, hl7v2.GenerateRSP(msg.ControlID, *q, results, msg.SendingApp)
}

// HandleFHIR processes one FHIR resource. Processed resources get a 201
// with an informational OperationOutcome; failures get an error outcome.
func (h *Handler) HandleFHIR(c echo.Context) error {
	ctx := c.Request().Context()

	in, err := h.auth.Authenticate(ctx, c.Request().Header.Get(APIKeyHeader))
	if err != nil {
		if errors.Is(err, integration.ErrAuthentication) {
			metrics.InboundMessages.WithLabelValues("fhir", "unauthorized").Inc()
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		return err
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}

	parsed, err := fhir.ParseResource(body)
	if err != nil {
		metrics.InboundMessages.WithLabelValues("fhir", "malformed").Inc()
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(fhir.CodeInvalid, "Malformed FHIR resource"))
	}

	var procErr error
	switch parsed.Type {
	case fhir.TypeServiceRequest:
		procErr = guard(func() error {
			_, err := h.orders.CreateFromFHIR(ctx, in.TenantID, parsed.ServiceRequest)
			return err
		})
	case fhir.TypePatient:
		procErr = guard(func() error {
			return h.patients.Upsert(ctx, patient.FromFHIR(in.TenantID, parsed.Patient))
		})
	case fhir.TypeDiagnosticReport:
		procErr = guard(func() error {
			_, err := h.results.IngestFHIR(ctx, in.TenantID, parsed.DiagnosticReport)
			return err
		})
	default:
		metrics.InboundMessages.WithLabelValues("fhir", "unsupported").Inc()
		h.log.Warn().Str("type", parsed.Type).Msg("unsupported fhir resource type")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Unsupported resource type"})
	}

	if procErr != nil {
		h.log.Error().Err(procErr).Str("type", parsed.Type).Msg("fhir handler failed")
		switch {
		case errors.Is(procErr, order.ErrValidation), errors.Is(procErr, patient.ErrValidation), errors.Is(procErr, result.ErrValidation):
			metrics.InboundMessages.WithLabelValues("fhir", "malformed").Inc()
			return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(fhir.CodeInvalid, procErr.Error()))
		case errors.Is(procErr, result.ErrOrderNotFound):
			metrics.InboundMessages.WithLabelValues("fhir", "error").Inc()
			return c.JSON(http.StatusNotFound, fhir.ErrorOutcome(fhir.CodeNotFound, procErr.Error()))
		}
		metrics.InboundMessages.WithLabelValues("fhir", "error").Inc()
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome(fhir.CodeException, "Resource processing failed"))
	}

	metrics.InboundMessages.WithLabelValues("fhir", "accepted").Inc()
	return c.JSON(http.StatusCreated, fhir.AcceptedOutcome(parsed.Type+" processed"))
}

// guard converts handler panics into errors so a misbehaving domain handler
// still produces a structured negative acknowledgment.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn()
}

func parseQueryDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := hl7v2.ParseTimestamp(value)
	if err != nil {
		return nil
	}
	return &t
}
