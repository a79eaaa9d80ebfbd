package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labbridge/labbridge/internal/domain/integration"
	"github.com/labbridge/labbridge/internal/domain/order"
	"github.com/labbridge/labbridge/internal/domain/patient"
	"github.com/labbridge/labbridge/internal/domain/result"
	"github.com/labbridge/labbridge/internal/platform/fhir"
	"github.com/labbridge/labbridge/internal/platform/hl7v2"
)

const validKey = "key-valid"

const sampleORM = "MSH|^~\\&|LIS|HOSP|LABBRIDGE|LAB|20240115093000||ORM^O01|MSG00001|P|2.5.1\r" +
	"PID|1||MRN12345||Doe^Jane||19850312|F\r" +
	"ORC|NW|ORD-42\r" +
	"OBR|1|ORD-42||CBC^Complete Blood Count^LN|R|20240115093000"

const sampleADT = "MSH|^~\\&|HIS|HOSP|LABBRIDGE|LAB|20240115100000||ADT^A08|MSG00002|P|2.5.1\r" +
	"PID|1||MRN12345||Doe^Jane||19850312|F"

const sampleQRY = "MSH|^~\\&|LIS|HOSP|LABBRIDGE|LAB|20240115110000||QRY^R02|MSG00003|P|2.5.1\r" +
	"QPD|RESULT_STATUS|ORD-42"

type mockAuth struct {
	tenant string
	calls  int
}

func (m *mockAuth) Authenticate(_ context.Context, apiKey string) (*integration.Integration, error) {
	m.calls++
	if apiKey != validKey {
		return nil, integration.ErrAuthentication
	}
	return &integration.Integration{
		ID:       uuid.New(),
		TenantID: m.tenant,
		Name:     "LIS",
		Type:     integration.TypeHL7,
		Active:   true,
	}, nil
}

type mockOrders struct {
	hl7Calls   int
	fhirCalls  int
	lastTenant string
	err        error
	panics     bool
}

func (m *mockOrders) CreateFromHL7(_ context.Context, tenantID string, payload *hl7v2.OrderPayload) (*order.LabOrder, error) {
	if m.panics {
		panic("order handler blew up")
	}
	m.hl7Calls++
	m.lastTenant = tenantID
	if m.err != nil {
		return nil, m.err
	}
	return &order.LabOrder{ID: uuid.New(), TenantID: tenantID, PlacerOrderID: payload.PlacerOrderID}, nil
}

func (m *mockOrders) CreateFromFHIR(_ context.Context, tenantID string, req *fhir.ServiceRequestResource) (*order.LabOrder, error) {
	if m.panics {
		panic("order handler blew up")
	}
	m.fhirCalls++
	m.lastTenant = tenantID
	if m.err != nil {
		return nil, m.err
	}
	return &order.LabOrder{ID: uuid.New(), TenantID: tenantID, PlacerOrderID: req.PlacerOrderID()}, nil
}

type mockPatients struct {
	upserts int
	last    *patient.Patient
	err     error
}

func (m *mockPatients) Upsert(_ context.Context, p *patient.Patient) error {
	m.upserts++
	m.last = p
	return m.err
}

type mockResults struct {
	statuses map[string]string
	ingests  int
	err      error
}

func (m *mockResults) IngestFHIR(_ context.Context, tenantID string, report *fhir.DiagnosticReportResource) (*result.LabResult, error) {
	m.ingests++
	if m.err != nil {
		return nil, m.err
	}
	return &result.LabResult{ID: uuid.New(), TenantID: tenantID, PlacerOrderID: report.OrderID()}, nil
}

func (m *mockResults) ResultStatus(_ context.Context, _, placerOrderID string) (string, error) {
	if status, ok := m.statuses[placerOrderID]; ok {
		return status, nil
	}
	return "", result.ErrOrderNotFound
}

func (m *mockResults) PatientResults(_ context.Context, _, _ string, _, _ *time.Time) ([]*result.LabResult, error) {
	return nil, m.err
}

type routerFixture struct {
	handler  *Handler
	auth     *mockAuth
	orders   *mockOrders
	patients *mockPatients
	results  *mockResults
}

func newRouterFixture() *routerFixture {
	f := &routerFixture{
		auth:     &mockAuth{tenant: "lab-a"},
		orders:   &mockOrders{},
		patients: &mockPatients{},
		results:  &mockResults{statuses: map[string]string{"ORD-42": "completed"}},
	}
	f.handler = NewHandler(f.auth, f.orders, f.patients, f.results, zerolog.Nop())
	return f
}

func post(t *testing.T, h echo.HandlerFunc, path, apiKey, body string) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func parseAck(t *testing.T, body []byte) *hl7v2.AckPayload {
	t.Helper()
	msg, err := hl7v2.Parse(body)
	if err != nil {
		t.Fatalf("response is not HL7: %v", err)
	}
	parsed, err := hl7v2.Decode(msg)
	if err != nil || parsed.Ack == nil {
		t.Fatalf("response is not an ACK: %v", err)
	}
	return parsed.Ack
}

func TestHL7RejectsBadCredentialBeforeParsing(t *testing.T) {
	f := newRouterFixture()

	// The body is garbage; a parse attempt would produce a 400. Getting a
	// 401 instead proves the credential gate runs first.
	for _, key := range []string{"", "wrong-key"} {
		rec := post(t, f.handler.HandleHL7, "/hl7", key, "complete garbage")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("key %q: status = %d, want 401", key, rec.Code)
		}
	}
	if f.orders.hl7Calls != 0 || f.patients.upserts != 0 {
		t.Error("domain handlers were invoked for unauthenticated requests")
	}
}

func TestHL7OrderAccepted(t *testing.T) {
	f := newRouterFixture()

	rec := post(t, f.handler.HandleHL7, "/hl7", validKey, sampleORM)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	ack := parseAck(t, rec.Body.Bytes())
	if ack.Status != "AA" {
		t.Errorf("ack status = %q, want AA", ack.Status)
	}
	if ack.ControlID != "MSG00001" {
		t.Errorf("ack control ID = %q, want MSG00001", ack.ControlID)
	}
	if f.orders.hl7Calls != 1 {
		t.Errorf("order handler calls = %d, want 1", f.orders.hl7Calls)
	}
	if f.orders.lastTenant != "lab-a" {
		t.Errorf("tenant = %q, want lab-a from the API key", f.orders.lastTenant)
	}
}

func TestHL7PatientAccepted(t *testing.T) {
	f := newRouterFixture()

	rec := post(t, f.handler.HandleHL7, "/hl7", validKey, sampleADT)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ack := parseAck(t, rec.Body.Bytes()); ack.Status != "AA" {
		t.Errorf("ack status = %q, want AA", ack.Status)
	}
	if f.patients.upserts != 1 {
		t.Fatalf("patient upserts = %d, want 1", f.patients.upserts)
	}
	if f.patients.last.TenantID != "lab-a" || f.patients.last.ExternalID != "MRN12345" {
		t.Errorf("upserted patient = %+v", f.patients.last)
	}
}

func TestHL7MalformedGetsNACK(t *testing.T) {
	f := newRouterFixture()

	rec := post(t, f.handler.HandleHL7, "/hl7", validKey, "PID|no header here")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	ack := parseAck(t, rec.Body.Bytes())
	if ack.Status != "AE" {
		t.Errorf("ack status = %q, want AE", ack.Status)
	}
	if ack.ControlID != "UNKNOWN" {
		t.Errorf("ack control ID = %q, want UNKNOWN", ack.ControlID)
	}
}

func TestHL7MalformedKeepsRecoverableControlID(t *testing.T) {
	f := newRouterFixture()

	// Header parses, but the ORM is missing its OBR segment.
	body := "MSH|^~\\&|LIS|HOSP|LABBRIDGE|LAB|20240115||ORM^O01|CTRL-77|P|2.5.1\r" +
		"PID|1||MRN12345"
	rec := post(t, f.handler.HandleHL7, "/hl7", validKey, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if ack := parseAck(t, rec.Body.Bytes()); ack.ControlID != "CTRL-77" {
		t.Errorf("ack control ID = %q, want CTRL-77", ack.ControlID)
	}
}

func TestHL7UnsupportedTypeGetsNoAck(t *testing.T) {
	f := newRouterFixture()

	body := "MSH|^~\\&|LIS|HOSP|LABBRIDGE|LAB|20240115110000||SIU^S12|MSG00005|P|2.5.1"
	rec := post(t, f.handler.HandleHL7, "/hl7", validKey, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := rec.Body.String(); got != "Unsupported message type" {
		t.Errorf("body = %q, want plain rejection text", got)
	}
}

func TestHL7HandlerErrorGetsNACK(t *testing.T) {
	f := newRouterFixture()
	f.orders.err = errors.New("db down")

	rec := post(t, f.handler.HandleHL7, "/hl7", validKey, sampleORM)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	ack := parseAck(t, rec.Body.Bytes())
	if ack.Status != "AE" || ack.ControlID != "MSG00001" {
		t.Errorf("ack = %+v, want AE referencing MSG00001", ack)
	}
}

func TestHL7HandlerPanicGetsNACK(t *testing.T) {
	f := newRouterFixture()
	f.orders.panics = true

	rec := post(t, f.handler.HandleHL7, "/hl7", validKey, sampleORM)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if ack := parseAck(t, rec.Body.Bytes()); ack.Status != "AE" {
		t.Errorf("ack status = %q, want AE", ack.Status)
	}
}

func TestHL7QueryResultStatus(t *testing.T) {
	f := newRouterFixture()

	rec := post(t, f.handler.HandleHL7, "/hl7", validKey, sampleQRY)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	msg, err := hl7v2.Parse(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("response is not HL7: %v", err)
	}
	if msg.Type != "RSP^K11" {
		t.Errorf("response type = %q, want RSP^K11", msg.Type)
	}
	obx := msg.GetSegment("OBX")
	if obx == nil {
		t.Fatal("RSP has no OBX segment")
	}
	if got := obx.Field(5); got != "completed" {
		t.Errorf("status field = %q, want completed", got)
	}
}

func TestHL7QueryUnknownOrder(t *testing.T) {
	f := newRouterFixture()

	body := strings.Replace(sampleQRY, "ORD-42", "ORD-MISSING", 1)
	rec := post(t, f.handler.HandleHL7, "/hl7", validKey, body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ack := parseAck(t, rec.Body.Bytes()); ack.Status != "AE" {
		t.Errorf("ack status = %q, want AE", ack.Status)
	}
}

func TestFHIRRejectsBadCredentialBeforeParsing(t *testing.T) {
	f := newRouterFixture()

	rec := post(t, f.handler.HandleFHIR, "/fhir", "wrong-key", "{not even json")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("401 body is not JSON: %v", err)
	}
	if body["error"] != "Unauthorized" {
		t.Errorf(`body = %v, want {"error": "Unauthorized"}`, body)
	}
	if f.orders.fhirCalls != 0 || f.patients.upserts != 0 || f.results.ingests != 0 {
		t.Error("domain handlers were invoked for unauthenticated requests")
	}
}

func decodeOutcome(t *testing.T, body []byte) *fhir.OperationOutcome {
	t.Helper()
	var out fhir.OperationOutcome
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("response is not an OperationOutcome: %v", err)
	}
	return &out
}

func TestFHIRPatientAccepted(t *testing.T) {
	f := newRouterFixture()

	body := `{"resourceType": "Patient", "identifier": [{"value": "MRN12345"}], "name": [{"family": "Doe", "given": ["Jane"]}]}`
	rec := post(t, f.handler.HandleFHIR, "/fhir", validKey, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	out := decodeOutcome(t, rec.Body.Bytes())
	if out.ResourceType != "OperationOutcome" || out.Issue[0].Severity != fhir.SeverityInformation {
		t.Errorf("unexpected outcome %+v", out)
	}
	if f.patients.upserts != 1 {
		t.Errorf("patient upserts = %d, want 1", f.patients.upserts)
	}
}

func TestFHIRServiceRequestAccepted(t *testing.T) {
	f := newRouterFixture()

	body := `{"resourceType": "ServiceRequest", "identifier": [{"value": "ORD-42"}],
		"code": {"coding": [{"code": "CBC"}]}, "subject": {"reference": "Patient/MRN12345"}}`
	rec := post(t, f.handler.HandleFHIR, "/fhir", validKey, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if f.orders.fhirCalls != 1 {
		t.Errorf("order handler calls = %d, want 1", f.orders.fhirCalls)
	}
}

func TestFHIRDiagnosticReportAccepted(t *testing.T) {
	f := newRouterFixture()

	body := `{"resourceType": "DiagnosticReport", "identifier": [{"value": "ORD-42"}], "status": "final"}`
	rec := post(t, f.handler.HandleFHIR, "/fhir", validKey, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if f.results.ingests != 1 {
		t.Errorf("report ingests = %d, want 1", f.results.ingests)
	}
}

func TestFHIRMalformedGetsErrorOutcome(t *testing.T) {
	f := newRouterFixture()

	for _, body := range []string{"{not json", `{"id": "no-type"}`} {
		rec := post(t, f.handler.HandleFHIR, "/fhir", validKey, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		out := decodeOutcome(t, rec.Body.Bytes())
		if out.Issue[0].Severity != fhir.SeverityError || out.Issue[0].Code != fhir.CodeInvalid {
			t.Errorf("unexpected outcome %+v", out)
		}
	}
}

func TestFHIRUnsupportedTypeGetsPlainError(t *testing.T) {
	f := newRouterFixture()

	rec := post(t, f.handler.HandleFHIR, "/fhir", validKey, `{"resourceType": "Appointment"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] != "Unsupported resource type" {
		t.Errorf("error = %q, want unsupported resource message", resp["error"])
	}
}

func TestFHIRHandlerErrorGetsErrorOutcome(t *testing.T) {
	f := newRouterFixture()
	f.results.err = errors.New("db down")

	body := `{"resourceType": "DiagnosticReport", "identifier": [{"value": "ORD-42"}], "status": "final"}`
	rec := post(t, f.handler.HandleFHIR, "/fhir", validKey, body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	out := decodeOutcome(t, rec.Body.Bytes())
	if out.Issue[0].Code != fhir.CodeException {
		t.Errorf("issue code = %q, want exception", out.Issue[0].Code)
	}
}

func TestMLLPHandlerAcks(t *testing.T) {
	f := newRouterFixture()
	handle := f.handler.MLLPHandler(validKey)

	resp := handle([]byte(sampleORM))
	ack := parseAck(t, resp)
	if ack.Status != "AA" || ack.ControlID != "MSG00001" {
		t.Errorf("ack = %+v, want AA/MSG00001", ack)
	}

	// A listener bound to a revoked key NACKs instead of processing.
	badHandle := f.handler.MLLPHandler("revoked-key")
	resp = badHandle([]byte(sampleORM))
	if ack := parseAck(t, resp); ack.Status != "AE" {
		t.Errorf("ack status = %q, want AE", ack.Status)
	}
	if f.orders.hl7Calls != 1 {
		t.Errorf("order handler calls = %d, want 1 (authenticated message only)", f.orders.hl7Calls)
	}
}
