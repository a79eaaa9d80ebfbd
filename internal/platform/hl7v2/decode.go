package hl7v2

import (
	"fmt"
	"strings"
)

// Kind classifies a decoded message by the processing it requires.
type Kind string

const (
	// KindOrder is an ORM order message.
	KindOrder Kind = "order"
	// KindPatient is an ADT demographics message.
	KindPatient Kind = "patient"
	// KindQuery is a QRY status or results query.
	KindQuery Kind = "query"
	// KindAck is an ACK acknowledgment.
	KindAck Kind = "ack"
	// KindUnknown covers message types the engine does not process.
	KindUnknown Kind = "unknown"
)

// Query types carried in QPD-1.
const (
	QueryResultStatus   = "RESULT_STATUS"
	QueryPatientResults = "PATIENT_RESULTS"
)

// ParsedMessage is the decoded form of an inbound message. Exactly one of
// the payload pointers is set, matching Kind; all are nil for KindUnknown.
type ParsedMessage struct {
	Kind       Kind
	Type       string
	ControlID  string
	SendingApp string

	Order   *OrderPayload
	Patient *PatientInfo
	Query   *QueryPayload
	Ack     *AckPayload
}

// OrderPayload holds the fields extracted from an ORM message.
type OrderPayload struct {
	PlacerOrderID string
	TestCode      string
	TestName      string
	CodingSystem  string
	Priority      string
	OrderedAt     string
	Patient       PatientInfo
}

// PatientInfo holds patient demographics, used both when decoding PID
// segments and when generating them.
type PatientInfo struct {
	ExternalID string
	FamilyName string
	GivenName  string
	// BirthDate is formatted YYYY-MM-DD, empty when absent.
	BirthDate  string
	Gender     string
	Phone      string
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
}

// QueryPayload holds the fields extracted from a QRY message. OrderID is set
// for RESULT_STATUS queries, PatientID for PATIENT_RESULTS queries.
type QueryPayload struct {
	QueryType string
	OrderID   string
	PatientID string
	// Start and End bound PATIENT_RESULTS queries, formatted YYYYMMDD.
	Start string
	End   string
}

// AckPayload holds the fields extracted from an ACK message.
type AckPayload struct {
	Status    string
	ControlID string
	ErrorText string
}

// Decode classifies a parsed message and extracts its payload. Messages the
// engine does not handle come back as KindUnknown with the envelope intact,
// so callers can still report the offending type.
func Decode(msg *Message) (*ParsedMessage, error) {
	out := &ParsedMessage{
		Kind:       KindUnknown,
		Type:       msg.Type,
		ControlID:  msg.ControlID,
		SendingApp: msg.SendingApp,
	}

	switch msg.MessageCode() {
	case "ORM":
		order, err := decodeOrder(msg)
		if err != nil {
			return nil, err
		}
		out.Kind = KindOrder
		out.Order = order
	case "ADT":
		patient, err := decodePatient(msg)
		if err != nil {
			return nil, err
		}
		out.Kind = KindPatient
		out.Patient = patient
	case "QRY":
		query, err := decodeQuery(msg)
		if err != nil {
			return nil, err
		}
		out.Kind = KindQuery
		out.Query = query
	case "ACK":
		out.Kind = KindAck
		out.Ack = decodeAck(msg)
	}

	return out, nil
}

func decodeOrder(msg *Message) (*OrderPayload, error) {
	obr := msg.GetSegment("OBR")
	if obr == nil {
		return nil, fmt.Errorf("%w: ORM message missing OBR segment", ErrMalformed)
	}

	order := &OrderPayload{
		TestCode:     obr.Component(4, 1),
		TestName:     obr.Component(4, 2),
		CodingSystem: obr.Component(4, 3),
		Priority:     obr.Field(5),
		OrderedAt:    obr.Field(6),
	}
	if order.TestCode == "" {
		return nil, fmt.Errorf("%w: ORM message missing test code in OBR-4", ErrMalformed)
	}

	if orc := msg.GetSegment("ORC"); orc != nil {
		order.PlacerOrderID = orc.Component(2, 1)
	}
	if order.PlacerOrderID == "" {
		order.PlacerOrderID = obr.Component(2, 1)
	}
	if order.PlacerOrderID == "" {
		return nil, fmt.Errorf("%w: ORM message missing placer order ID", ErrMalformed)
	}

	patient, err := decodePatient(msg)
	if err != nil {
		return nil, err
	}
	order.Patient = *patient
	return order, nil
}

func decodePatient(msg *Message) (*PatientInfo, error) {
	pid := msg.GetSegment("PID")
	if pid == nil {
		return nil, fmt.Errorf("%w: message missing PID segment", ErrMalformed)
	}

	p := &PatientInfo{
		ExternalID: pid.Component(3, 1),
		FamilyName: pid.Component(5, 1),
		GivenName:  pid.Component(5, 2),
		Gender:     strings.ToLower(pid.Field(8)),
		Street:     pid.Component(11, 1),
		City:       pid.Component(11, 3),
		State:      pid.Component(11, 4),
		PostalCode: pid.Component(11, 5),
		Country:    pid.Component(11, 6),
	}
	if p.ExternalID == "" {
		return nil, fmt.Errorf("%w: PID-3 patient identifier is empty", ErrMalformed)
	}

	if repeats := pid.FieldRepeats(13); len(repeats) > 0 {
		p.Phone = strings.SplitN(repeats[0], "^", 2)[0]
	}

	if dob := pid.Field(7); len(dob) >= 8 {
		if t, err := ParseTimestamp(dob[:8]); err == nil {
			p.BirthDate = t.Format("2006-01-02")
		}
	}
	return p, nil
}

func decodeQuery(msg *Message) (*QueryPayload, error) {
	qpd := msg.GetSegment("QPD")
	if qpd == nil {
		return nil, fmt.Errorf("%w: QRY message missing QPD segment", ErrMalformed)
	}

	q := &QueryPayload{QueryType: strings.ToUpper(qpd.Component(1, 1))}
	switch q.QueryType {
	case QueryResultStatus:
		q.OrderID = qpd.Field(2)
		if q.OrderID == "" {
			return nil, fmt.Errorf("%w: RESULT_STATUS query missing order ID in QPD-2", ErrMalformed)
		}
	case QueryPatientResults:
		q.PatientID = qpd.Field(2)
		if q.PatientID == "" {
			return nil, fmt.Errorf("%w: PATIENT_RESULTS query missing patient ID in QPD-2", ErrMalformed)
		}
		q.Start = qpd.Field(3)
		q.End = qpd.Field(4)
	}
	return q, nil
}

func decodeAck(msg *Message) *AckPayload {
	ack := &AckPayload{}
	if msa := msg.GetSegment("MSA"); msa != nil {
		ack.Status = msa.Field(1)
		ack.ControlID = msa.Field(2)
		ack.ErrorText = msa.Field(3)
	}
	return ack
}
