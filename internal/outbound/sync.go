package outbound

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labbridge/labbridge/internal/domain/integration"
	"github.com/labbridge/labbridge/internal/domain/patient"
	"github.com/labbridge/labbridge/internal/platform/auth"
	"github.com/labbridge/labbridge/internal/platform/metrics"
)

// ErrPermissionDenied is returned when the caller lacks the role required
// to trigger a sync.
var ErrPermissionDenied = errors.New("outbound: permission denied")

// IntegrationGetter resolves a sync target within a tenant.
type IntegrationGetter interface {
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*integration.Integration, error)
}

// PatientSource lists the tenant's patients, the sync working set. Nil
// bounds mean no restriction on modification time.
type PatientSource interface {
	List(ctx context.Context, tenantID string, from, to *time.Time) ([]*patient.Patient, error)
}

// SyncLog records completed sync runs.
type SyncLog interface {
	Append(ctx context.Context, entry *integration.SyncLogEntry) error
}

// Orchestrator pushes a tenant's patient roster, optionally restricted to
// a modification window, to one integration endpoint through a bounded
// worker pool.
type Orchestrator struct {
	integrations IntegrationGetter
	patients     PatientSource
	syncs        SyncLog
	deliveries   DeliveryLog
	engine       *Engine
	workers      int
	log          zerolog.Logger
}

func NewOrchestrator(integrations IntegrationGetter, patients PatientSource, syncs SyncLog, deliveries DeliveryLog, engine *Engine, workers int, log zerolog.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		integrations: integrations,
		patients:     patients,
		syncs:        syncs,
		deliveries:   deliveries,
		engine:       engine,
		workers:      workers,
		log:          log,
	}
}

// SyncPatientData pushes the caller's tenant patients modified within
// [from, to] to the given integration; nil bounds select the full roster.
// It blocks until the run finishes and records exactly one sync log entry;
// totalRecords always equals syncedCount plus errorCount.
func (o *Orchestrator) SyncPatientData(ctx context.Context, principal auth.Principal, integrationID uuid.UUID, from, to *time.Time) (*integration.SyncLogEntry, error) {
	if !principal.HasRole(auth.RoleAdmin, auth.RoleIntegrationManager) {
		return nil, ErrPermissionDenied
	}

	in, err := o.integrations.Get(ctx, principal.TenantID, integrationID)
	if err != nil {
		return nil, err
	}

	patients, err := o.patients.List(ctx, principal.TenantID, from, to)
	if err != nil {
		return nil, err
	}

	started := time.Now().UTC()
	var (
		mu     sync.Mutex
		synced int
		failed int
	)

	jobs := make(chan *patient.Patient)
	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				if err := o.syncOne(in, p); err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
				} else {
					mu.Lock()
					synced++
					mu.Unlock()
				}
			}
		}()
	}
	for _, p := range patients {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	entry := &integration.SyncLogEntry{
		TenantID:      principal.TenantID,
		IntegrationID: in.ID,
		TotalRecords:  synced + failed,
		SyncedCount:   synced,
		ErrorCount:    failed,
		StartDate:     from,
		EndDate:       to,
		StartedAt:     started,
		FinishedAt:    time.Now().UTC(),
		PerformedBy:   principal.UserID,
	}
	if err := o.syncs.Append(ctx, entry); err != nil {
		return nil, err
	}

	o.log.Info().
		Str("integration_id", in.ID.String()).
		Int("total", entry.TotalRecords).
		Int("synced", entry.SyncedCount).
		Int("errors", entry.ErrorCount).
		Msg("patient sync finished")
	return entry, nil
}

func (o *Orchestrator) syncOne(in *integration.Integration, p *patient.Patient) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New("patient sync panicked")
		}
		if err == nil {
			metrics.OutboundDeliveries.WithLabelValues("patient_sync", "delivered").Inc()
			return
		}
		metrics.OutboundDeliveries.WithLabelValues("patient_sync", "failed").Inc()
		o.log.Warn().Err(err).
			Str("integration_id", in.ID.String()).
			Str("patient_id", p.ID.String()).
			Msg("patient sync delivery failed")

		entry := &integration.DeliveryLogEntry{
			TenantID:      p.TenantID,
			IntegrationID: in.ID,
			Kind:          integration.DeliverySync,
			PatientID:     &p.ID,
			Error:         err.Error(),
		}
		if logErr := o.deliveries.Append(context.Background(), entry); logErr != nil {
			o.log.Error().Err(logErr).Msg("recording sync failure")
		}
	}()
	return o.engine.deliverPatient(in, p)
}
