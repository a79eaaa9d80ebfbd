package hl7v2

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	sendingApplication = "LABBRIDGE"
	sendingFacility    = "LAB"
	hl7Version         = "2.5.1"
)

// ObservationInfo is one OBX line of a generated result message.
type ObservationInfo struct {
	Code           string
	Name           string
	ValueType      string
	Value          string
	Unit           string
	ReferenceRange string
	AbnormalFlag   string
	Status         string
}

// ResultInfo carries a lab result for ORU and RSP generation.
type ResultInfo struct {
	OrderID      string
	TestCode     string
	TestName     string
	Status       string
	ReportedAt   time.Time
	Observations []ObservationInfo
}

// GenerateACK builds an ACK message referencing the given control ID.
// code is "AA" for accept or "AE" for error; errText populates MSA-3 on
// error acknowledgments.
func GenerateACK(controlID, code, errText, receivingApp string) []byte {
	msa := joinFields("MSA", code, controlID)
	if errText != "" {
		msa = joinFields("MSA", code, controlID, escapeHL7(errText))
	}
	return assemble(
		buildMSH("ACK", receivingApp),
		msa,
	)
}

// GenerateORU builds an ORU^R01 result message for delivery to a downstream
// integration endpoint.
func GenerateORU(patient PatientInfo, result ResultInfo, receivingApp string) []byte {
	segments := []string{
		buildMSH("ORU^R01", receivingApp),
		buildPID(patient),
		buildOBR(1, result),
	}
	for i, obs := range result.Observations {
		segments = append(segments, buildOBX(i+1, obs))
	}
	return assemble(segments...)
}

// GenerateADT builds an ADT message carrying patient demographics. event is
// the trigger event, e.g. "A08" for a demographics update.
func GenerateADT(event string, patient PatientInfo, receivingApp string) []byte {
	now := time.Now().UTC().Format("20060102150405")
	return assemble(
		buildMSH("ADT^"+event, receivingApp),
		joinFields("EVN", event, now),
		buildPID(patient),
	)
}

// GenerateRSP builds an RSP^K11 response to a QRY message. controlID is the
// query's control ID, echoed in MSA-2; results are rendered as OBR/OBX
// groups with the result status in OBX-5.
func GenerateRSP(controlID string, query QueryPayload, results []ResultInfo, receivingApp string) []byte {
	tag := query.OrderID
	if tag == "" {
		tag = query.PatientID
	}

	segments := []string{
		buildMSH("RSP^K11", receivingApp),
		joinFields("MSA", "AA", controlID),
		joinFields("QAK", escapeHL7(tag), "OK", escapeHL7(query.QueryType)),
	}
	for i, r := range results {
		segments = append(segments, buildOBR(i+1, r))
		segments = append(segments, joinFields(
			"OBX", strconv.Itoa(i+1), "ST", "STATUS^Result Status", "", escapeHL7(r.Status), "", "", "", "", "", "F",
		))
	}
	return assemble(segments...)
}

func buildMSH(messageHeader, receivingApp string) string {
	now := time.Now().UTC()
	controlID := fmt.Sprintf("LB%s", now.Format("20060102150405.000"))
	return strings.Join([]string{
		"MSH",
		`^~\&`,
		sendingApplication,
		sendingFacility,
		escapeHL7(receivingApp),
		"",
		now.Format("20060102150405"),
		"",
		messageHeader,
		controlID,
		"P",
		hl7Version,
	}, "|")
}

func buildPID(p PatientInfo) string {
	name := escapeHL7(p.FamilyName) + "^" + escapeHL7(p.GivenName)
	address := strings.Join([]string{
		escapeHL7(p.Street), "", escapeHL7(p.City), escapeHL7(p.State),
		escapeHL7(p.PostalCode), escapeHL7(p.Country),
	}, "^")
	dob := strings.ReplaceAll(p.BirthDate, "-", "")
	return joinFields("PID",
		"1",
		"",
		escapeHL7(p.ExternalID),
		"",
		name,
		"",
		dob,
		mapGender(p.Gender),
		"",
		"",
		address,
		"",
		escapeHL7(p.Phone),
	)
}

func buildOBR(setID int, r ResultInfo) string {
	reported := ""
	if !r.ReportedAt.IsZero() {
		reported = r.ReportedAt.UTC().Format("20060102150405")
	}
	universalService := escapeHL7(r.TestCode) + "^" + escapeHL7(r.TestName)
	return joinFields("OBR",
		fmt.Sprintf("%d", setID),
		escapeHL7(r.OrderID),
		"",
		universalService,
		"", "",
		reported,
	)
}

func buildOBX(setID int, o ObservationInfo) string {
	valueType := o.ValueType
	if valueType == "" {
		valueType = "ST"
	}
	status := o.Status
	if status == "" {
		status = "F"
	}
	return joinFields("OBX",
		fmt.Sprintf("%d", setID),
		valueType,
		escapeHL7(o.Code)+"^"+escapeHL7(o.Name),
		"",
		escapeHL7(o.Value),
		escapeHL7(o.Unit),
		escapeHL7(o.ReferenceRange),
		escapeHL7(o.AbnormalFlag),
		"", "",
		status,
	)
}

func joinFields(name string, fields ...string) string {
	return name + "|" + strings.Join(fields, "|")
}

func assemble(segments ...string) []byte {
	return []byte(strings.Join(segments, "\r") + "\r")
}

// escapeHL7 escapes the five HL7 delimiter characters using the standard
// escape sequences.
func escapeHL7(s string) string {
	r := strings.NewReplacer(
		`\`, `\E\`,
		"|", `\F\`,
		"^", `\S\`,
		"~", `\R\`,
		"&", `\T\`,
	)
	return r.Replace(s)
}

func mapGender(gender string) string {
	switch strings.ToLower(gender) {
	case "male":
		return "M"
	case "female":
		return "F"
	case "other":
		return "O"
	case "m", "f", "o":
		return strings.ToUpper(gender)
	default:
		return "U"
	}
}
