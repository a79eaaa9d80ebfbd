package patient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labbridge/labbridge/internal/platform/fhir"
	"github.com/labbridge/labbridge/internal/platform/hl7v2"
)

type mockRepo struct {
	byKey map[string]*Patient
}

func newMockRepo() *mockRepo {
	return &mockRepo{byKey: make(map[string]*Patient)}
}

func key(tenantID, externalID string) string { return tenantID + "/" + externalID }

func (m *mockRepo) Upsert(_ context.Context, p *Patient) error {
	if existing, ok := m.byKey[key(p.TenantID, p.ExternalID)]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		p.ID = uuid.New()
		p.CreatedAt = time.Now()
	}
	p.UpdatedAt = time.Now()
	cp := *p
	m.byKey[key(p.TenantID, p.ExternalID)] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, tenantID string, id uuid.UUID) (*Patient, error) {
	for _, p := range m.byKey {
		if p.TenantID == tenantID && p.ID == id {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) GetByExternalID(_ context.Context, tenantID, externalID string) (*Patient, error) {
	if p, ok := m.byKey[key(tenantID, externalID)]; ok {
		return p, nil
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListByTenant(_ context.Context, tenantID string, from, to *time.Time) ([]*Patient, error) {
	var out []*Patient
	for _, p := range m.byKey {
		if p.TenantID != tenantID {
			continue
		}
		if from != nil && p.UpdatedAt.Before(*from) {
			continue
		}
		if to != nil && p.UpdatedAt.After(*to) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func TestUpsertIsIdempotentOnExternalID(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	ctx := context.Background()

	first := &Patient{TenantID: "lab-a", ExternalID: "MRN12345", FamilyName: "Doe", GivenName: "Jane"}
	if err := svc.Upsert(ctx, first); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}

	second := &Patient{TenantID: "lab-a", ExternalID: "MRN12345", FamilyName: "Doe-Smith", GivenName: "Jane"}
	if err := svc.Upsert(ctx, second); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("upsert created a new record: %s != %s", second.ID, first.ID)
	}
	stored, err := svc.GetByExternalID(ctx, "lab-a", "MRN12345")
	if err != nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if stored.FamilyName != "Doe-Smith" {
		t.Errorf("FamilyName = %q, want updated value", stored.FamilyName)
	}
}

func TestUpsertSameExternalIDDifferentTenants(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, zerolog.Nop())
	ctx := context.Background()

	a := &Patient{TenantID: "lab-a", ExternalID: "MRN1"}
	b := &Patient{TenantID: "lab-b", ExternalID: "MRN1"}
	if err := svc.Upsert(ctx, a); err != nil {
		t.Fatalf("Upsert a: %v", err)
	}
	if err := svc.Upsert(ctx, b); err != nil {
		t.Fatalf("Upsert b: %v", err)
	}
	if a.ID == b.ID {
		t.Error("patients in different tenants share an ID")
	}
}

func TestUpsertValidation(t *testing.T) {
	svc := NewService(newMockRepo(), zerolog.Nop())
	ctx := context.Background()

	if err := svc.Upsert(ctx, &Patient{TenantID: "lab-a"}); !errors.Is(err, ErrValidation) {
		t.Errorf("missing externalId: error = %v, want ErrValidation", err)
	}
	if err := svc.Upsert(ctx, &Patient{ExternalID: "MRN1"}); !errors.Is(err, ErrValidation) {
		t.Errorf("missing tenantId: error = %v, want ErrValidation", err)
	}
}

func TestFromHL7(t *testing.T) {
	info := hl7v2.PatientInfo{
		ExternalID: "MRN12345",
		FamilyName: "Doe",
		GivenName:  "Jane",
		BirthDate:  "1985-03-12",
		Gender:     "f",
		Phone:      "555-0100",
		City:       "Springfield",
	}

	p := FromHL7("lab-a", info)
	if p.ExternalID != "MRN12345" || p.FamilyName != "Doe" {
		t.Errorf("unexpected patient %+v", p)
	}
	if p.BirthDate == nil || p.BirthDate.Year() != 1985 {
		t.Error("BirthDate not parsed")
	}
}

func TestFHIRRoundTrip(t *testing.T) {
	birth := time.Date(1985, 3, 12, 0, 0, 0, 0, time.UTC)
	p := &Patient{
		ID:         uuid.New(),
		TenantID:   "lab-a",
		ExternalID: "MRN12345",
		FamilyName: "Doe",
		GivenName:  "Jane",
		BirthDate:  &birth,
		Gender:     "female",
		Phone:      "555-0100",
		Street:     "123 Main St",
		City:       "Springfield",
	}

	res := p.ToFHIR()
	if res.ResourceType != fhir.TypePatient {
		t.Errorf("ResourceType = %q", res.ResourceType)
	}

	back := FromFHIR("lab-a", res)
	if back.ExternalID != p.ExternalID || back.FamilyName != p.FamilyName || back.GivenName != p.GivenName {
		t.Errorf("round trip lost identity fields: %+v", back)
	}
	if back.BirthDate == nil || !back.BirthDate.Equal(birth) {
		t.Error("round trip lost birth date")
	}
	if back.Street != p.Street || back.City != p.City {
		t.Error("round trip lost address")
	}
}
