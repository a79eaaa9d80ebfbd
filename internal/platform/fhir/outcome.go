package fhir

// Issue severities.
const (
	SeverityFatal       = "fatal"
	SeverityError       = "error"
	SeverityWarning     = "warning"
	SeverityInformation = "information"
)

// Issue type codes.
const (
	CodeInvalid       = "invalid"
	CodeNotSupported  = "not-supported"
	CodeSecurity      = "security"
	CodeForbidden     = "forbidden"
	CodeNotFound      = "not-found"
	CodeException     = "exception"
	CodeProcessing    = "processing"
	CodeInformational = "informational"
)

// OperationOutcome reports the outcome of an operation back to a FHIR
// client.
type OperationOutcome struct {
	ResourceType string         `json:"resourceType"`
	Issue        []OutcomeIssue `json:"issue"`
}

// OutcomeIssue is a single issue within an OperationOutcome.
type OutcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// NewOperationOutcome builds an outcome with a single issue.
func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OutcomeIssue{
			{Severity: severity, Code: code, Diagnostics: diagnostics},
		},
	}
}

// AcceptedOutcome is the informational outcome returned when an inbound
// resource has been processed.
func AcceptedOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(SeverityInformation, CodeInformational, diagnostics)
}

// ErrorOutcome is the outcome returned when processing a resource failed.
func ErrorOutcome(code, diagnostics string) *OperationOutcome {
	return NewOperationOutcome(SeverityError, code, diagnostics)
}
