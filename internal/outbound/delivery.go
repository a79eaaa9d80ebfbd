// Package outbound delivers completed results to every active integration
// of a tenant and runs on-demand patient data synchronization.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/labbridge/labbridge/internal/domain/integration"
	"github.com/labbridge/labbridge/internal/domain/patient"
	"github.com/labbridge/labbridge/internal/domain/result"
	"github.com/labbridge/labbridge/internal/platform/hl7v2"
	"github.com/labbridge/labbridge/internal/platform/metrics"
)

// IntegrationSource lists a tenant's active integrations.
type IntegrationSource interface {
	ListActive(ctx context.Context, tenantID string) ([]*integration.Integration, error)
}

// DeliveryLog records failed delivery attempts.
type DeliveryLog interface {
	Append(ctx context.Context, entry *integration.DeliveryLogEntry) error
}

// Config tunes the delivery engine.
type Config struct {
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
	// RetryMax is the number of HTTP retries per attempt. Zero means a
	// single attempt, fire and forget.
	RetryMax int
}

// Engine fans completed results out to integration endpoints. Deliveries
// run in their own goroutines; one slow or failing endpoint never blocks
// the others, and failures are recorded without being retried across runs.
type Engine struct {
	integrations IntegrationSource
	deliveries   DeliveryLog
	client       *retryablehttp.Client
	timeout      time.Duration
	log          zerolog.Logger

	wg sync.WaitGroup
}

func NewEngine(integrations IntegrationSource, deliveries DeliveryLog, cfg Config, log zerolog.Logger) *Engine {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.Logger = nil
	client.HTTPClient.Timeout = cfg.Timeout

	return &Engine{
		integrations: integrations,
		deliveries:   deliveries,
		client:       client,
		timeout:      cfg.Timeout,
		log:          log,
	}
}

// ResultCompleted implements result.CompletionNotifier. It returns as soon
// as the fan-out goroutines are launched.
func (e *Engine) ResultCompleted(ctx context.Context, r *result.LabResult, p *patient.Patient) {
	targets, err := e.integrations.ListActive(ctx, r.TenantID)
	if err != nil {
		e.log.Error().Err(err).Str("tenant_id", r.TenantID).Msg("listing integrations for result fan-out")
		return
	}

	for _, in := range targets {
		if in.EndpointURL == "" {
			continue
		}
		in := in
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					e.log.Error().
						Str("integration_id", in.ID.String()).
						Interface("panic", rec).
						Msg("result delivery panicked")
				}
			}()
			e.deliverResult(in, r, p)
		}()
	}
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) deliverResult(in *integration.Integration, r *result.LabResult, p *patient.Patient) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	err := e.send(ctx, in, resultPayload(in, r, p))
	if err != nil {
		metrics.OutboundDeliveries.WithLabelValues("result", "failed").Inc()
		e.log.Error().Err(err).
			Str("integration_id", in.ID.String()).
			Str("result_id", r.ID.String()).
			Msg("result delivery failed")

		entry := &integration.DeliveryLogEntry{
			TenantID:      r.TenantID,
			IntegrationID: in.ID,
			Kind:          integration.DeliveryResult,
			ResultID:      &r.ID,
			Error:         err.Error(),
		}
		if p != nil {
			entry.PatientID = &p.ID
		}
		if logErr := e.deliveries.Append(context.Background(), entry); logErr != nil {
			e.log.Error().Err(logErr).Msg("recording delivery failure")
		}
		return
	}
	metrics.OutboundDeliveries.WithLabelValues("result", "delivered").Inc()
	e.log.Info().
		Str("integration_id", in.ID.String()).
		Str("result_id", r.ID.String()).
		Msg("result delivered")
}

// deliverPatient pushes one patient record to an integration endpoint.
// Used by the sync orchestrator.
func (e *Engine) deliverPatient(in *integration.Integration, p *patient.Patient) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	return e.send(ctx, in, patientPayload(in, p))
}

type payload struct {
	method      string
	url         string
	body        []byte
	contentType string
	err         error
}

func resultPayload(in *integration.Integration, r *result.LabResult, p *patient.Patient) payload {
	switch in.Type {
	case integration.TypeHL7:
		var info hl7v2.PatientInfo
		if p != nil {
			info = p.ToHL7()
		}
		return payload{
			body:        hl7v2.GenerateORU(info, r.ToHL7(), in.ReceivingApp),
			contentType: "application/hl7-v2",
		}
	case integration.TypeFHIR:
		body, err := json.Marshal(r.ToFHIR(p))
		return payload{body: body, contentType: "application/fhir+json", err: err}
	default:
		return payload{err: fmt.Errorf("unknown integration type %q", in.Type)}
	}
}

func patientPayload(in *integration.Integration, p *patient.Patient) payload {
	switch in.Type {
	case integration.TypeHL7:
		return payload{
			body:        hl7v2.GenerateADT("A08", p.ToHL7(), in.ReceivingApp),
			contentType: "application/hl7-v2",
		}
	case integration.TypeFHIR:
		// FHIR patient sync is an upsert keyed by the partner's MRN.
		body, err := json.Marshal(p.ToFHIR())
		return payload{
			method:      http.MethodPut,
			url:         strings.TrimRight(in.EndpointURL, "/") + "/Patient/" + url.PathEscape(p.ExternalID),
			body:        body,
			contentType: "application/fhir+json",
			err:         err,
		}
	default:
		return payload{err: fmt.Errorf("unknown integration type %q", in.Type)}
	}
}

func (e *Engine) send(ctx context.Context, in *integration.Integration, pl payload) error {
	if pl.err != nil {
		return pl.err
	}

	method := pl.method
	if method == "" {
		method = http.MethodPost
	}
	target := pl.url
	if target == "" {
		target = in.EndpointURL
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, bytes.NewReader(pl.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", pl.contentType)
	if in.OutboundAPIKey != "" {
		req.Header.Set("X-API-Key", in.OutboundAPIKey)
	}
	if in.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+in.BearerToken)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}
