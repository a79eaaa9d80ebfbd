package fhir

import (
	"encoding/json"
	"errors"
	"testing"
)

const samplePatient = `{
	"resourceType": "Patient",
	"identifier": [{"system": "urn:mrn", "value": "MRN12345"}],
	"name": [{"family": "Doe", "given": ["Jane"]}],
	"gender": "female",
	"birthDate": "1985-03-12",
	"telecom": [{"system": "phone", "value": "555-0100"}],
	"address": [{"line": ["123 Main St"], "city": "Springfield", "state": "IL", "postalCode": "62704", "country": "USA"}]
}`

const sampleServiceRequest = `{
	"resourceType": "ServiceRequest",
	"identifier": [{"value": "ORD-42"}],
	"status": "active",
	"intent": "order",
	"priority": "routine",
	"code": {"coding": [{"system": "http://loinc.org", "code": "CBC", "display": "Complete Blood Count"}]},
	"subject": {"reference": "Patient/MRN12345"},
	"authoredOn": "2024-01-15T09:30:00Z"
}`

func TestParsePatient(t *testing.T) {
	parsed, err := ParseResource([]byte(samplePatient))
	if err != nil {
		t.Fatalf("ParseResource: %v", err)
	}
	if parsed.Type != TypePatient {
		t.Fatalf("Type = %q, want Patient", parsed.Type)
	}

	p := parsed.Patient
	if p == nil {
		t.Fatal("Patient payload is nil")
	}
	if p.ExternalID() != "MRN12345" {
		t.Errorf("ExternalID = %q, want MRN12345", p.ExternalID())
	}
	if p.FamilyName() != "Doe" || p.GivenName() != "Jane" {
		t.Errorf("name = %q %q, want Doe Jane", p.FamilyName(), p.GivenName())
	}
	if p.Phone() != "555-0100" {
		t.Errorf("Phone = %q, want 555-0100", p.Phone())
	}
	if got := p.PrimaryAddress().City; got != "Springfield" {
		t.Errorf("City = %q, want Springfield", got)
	}
}

func TestParsePatientIgnoresUnknownFields(t *testing.T) {
	raw := `{
		"resourceType": "Patient",
		"identifier": [{"value": "MRN12345"}],
		"nmae": [{"family": "Doe"}],
		"customExtension": {"nested": true}
	}`
	parsed, err := ParseResource([]byte(raw))
	if err != nil {
		t.Fatalf("ParseResource: %v", err)
	}
	if parsed.Patient == nil || parsed.Patient.ExternalID() != "MRN12345" {
		t.Error("known fields did not survive alongside unknown ones")
	}
	if parsed.Patient.FamilyName() != "" {
		t.Error("misspelled field should not populate the name")
	}
}

func TestParseServiceRequest(t *testing.T) {
	parsed, err := ParseResource([]byte(sampleServiceRequest))
	if err != nil {
		t.Fatalf("ParseResource: %v", err)
	}
	if parsed.Type != TypeServiceRequest {
		t.Fatalf("Type = %q, want ServiceRequest", parsed.Type)
	}

	s := parsed.ServiceRequest
	if s.PlacerOrderID() != "ORD-42" {
		t.Errorf("PlacerOrderID = %q, want ORD-42", s.PlacerOrderID())
	}
	coding := s.TestCoding()
	if coding.Code != "CBC" || coding.Display != "Complete Blood Count" {
		t.Errorf("coding = %q/%q, want CBC/Complete Blood Count", coding.Code, coding.Display)
	}
	if s.Subject.Reference != "Patient/MRN12345" {
		t.Errorf("Subject = %q, want Patient/MRN12345", s.Subject.Reference)
	}
}

func TestParseUnsupportedType(t *testing.T) {
	parsed, err := ParseResource([]byte(`{"resourceType": "Appointment", "id": "appt-1"}`))
	if err != nil {
		t.Fatalf("ParseResource: %v", err)
	}
	if parsed.Type != "Appointment" {
		t.Errorf("Type = %q, want Appointment", parsed.Type)
	}
	if parsed.Patient != nil || parsed.ServiceRequest != nil || parsed.DiagnosticReport != nil {
		t.Error("unsupported type should leave all payloads nil")
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{not json`},
		{"missing resourceType", `{"id": "x"}`},
		{"patient without identifier", `{"resourceType": "Patient", "name": [{"family": "Doe"}]}`},
		{"service request without subject", `{"resourceType": "ServiceRequest", "identifier": [{"value": "ORD-1"}]}`},
		{"report without identifier", `{"resourceType": "DiagnosticReport", "status": "final"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseResource([]byte(tc.raw)); !errors.Is(err, ErrMalformed) {
				t.Errorf("error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestOperationOutcomeShape(t *testing.T) {
	out := NewOperationOutcome(SeverityError, CodeNotSupported, "Unsupported resource type")

	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["resourceType"] != "OperationOutcome" {
		t.Errorf("resourceType = %v, want OperationOutcome", decoded["resourceType"])
	}
	issues := decoded["issue"].([]any)
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}
	issue := issues[0].(map[string]any)
	if issue["severity"] != "error" || issue["code"] != "not-supported" {
		t.Errorf("issue = %v", issue)
	}
}
