// Package hl7v2 implements parsing, decoding, and generation of HL7 v2.x
// messages, plus an MLLP transport listener. Messages are pipe-delimited
// with \r segment separators; the first segment must be MSH.
package hl7v2

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformed reports raw input that cannot be parsed as an HL7v2 message.
var ErrMalformed = errors.New("hl7v2: malformed message")

// Message is a parsed HL7v2 message. Envelope fields are lifted out of the
// MSH segment for convenience; Segments retains the full structure.
type Message struct {
	// Type is the raw MSH-9 value, e.g. "ORM^O01".
	Type string
	// TriggerEvent is the second component of MSH-9, e.g. "O01".
	TriggerEvent string
	// ControlID is MSH-10.
	ControlID string
	// Version is MSH-12.
	Version string

	SendingApp   string
	SendingFac   string
	ReceivingApp string
	ReceivingFac string
	Timestamp    time.Time

	Segments []Segment
}

// Segment is a single HL7v2 segment such as PID or OBR.
type Segment struct {
	Name   string
	Fields []Field
}

// Field is one field of a segment. Value is the raw field text; Components
// holds the ^-separated parts and Repeats the ~-separated repetitions.
type Field struct {
	Value      string
	Components []string
	Repeats    []string
}

// Parse parses raw HL7v2 bytes into a Message. Line endings are normalized,
// so \r, \n, and \r\n separated input are all accepted. The first segment
// must be MSH or ErrMalformed is returned.
func Parse(raw []byte) (*Message, error) {
	normalized := strings.ReplaceAll(string(raw), "\r\n", "\r")
	normalized = strings.ReplaceAll(normalized, "\n", "\r")
	normalized = strings.Trim(normalized, "\r \t")

	if normalized == "" {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}

	lines := strings.Split(normalized, "\r")
	if !strings.HasPrefix(lines[0], "MSH|") {
		return nil, fmt.Errorf("%w: first segment must be MSH", ErrMalformed)
	}

	msg := &Message{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		seg, err := parseSegment(line)
		if err != nil {
			return nil, err
		}
		msg.Segments = append(msg.Segments, seg)
	}

	if err := msg.readEnvelope(); err != nil {
		return nil, err
	}
	return msg, nil
}

// parseSegment splits a single segment line into fields. For MSH the field
// separator itself counts as MSH-1, so a synthetic "|" field is inserted to
// keep field numbering consistent with the standard.
func parseSegment(line string) (Segment, error) {
	parts := strings.Split(line, "|")
	if len(parts) < 2 {
		return Segment{}, fmt.Errorf("%w: segment %q has no fields", ErrMalformed, line)
	}

	name := parts[0]
	if len(name) != 3 {
		return Segment{}, fmt.Errorf("%w: invalid segment name %q", ErrMalformed, name)
	}

	seg := Segment{Name: name}
	if name == "MSH" {
		seg.Fields = append(seg.Fields, Field{Value: "|", Components: []string{"|"}})
	}
	for _, p := range parts[1:] {
		seg.Fields = append(seg.Fields, parseField(p))
	}
	return seg, nil
}

func parseField(value string) Field {
	f := Field{Value: value}
	f.Repeats = strings.Split(value, "~")
	// Components come from the first repetition.
	f.Components = strings.Split(f.Repeats[0], "^")
	return f
}

// readEnvelope lifts the MSH header fields onto the Message.
func (m *Message) readEnvelope() error {
	msh := m.GetSegment("MSH")
	if msh == nil {
		return fmt.Errorf("%w: missing MSH segment", ErrMalformed)
	}

	m.SendingApp = msh.Field(3)
	m.SendingFac = msh.Field(4)
	m.ReceivingApp = msh.Field(5)
	m.ReceivingFac = msh.Field(6)
	m.Type = msh.Field(9)
	m.ControlID = msh.Field(10)
	m.Version = msh.Field(12)

	if parts := strings.SplitN(m.Type, "^", 3); len(parts) >= 2 {
		m.TriggerEvent = parts[1]
	}
	if m.Type == "" {
		return fmt.Errorf("%w: MSH-9 message type is empty", ErrMalformed)
	}

	if ts := msh.Field(7); ts != "" {
		if t, err := ParseTimestamp(ts); err == nil {
			m.Timestamp = t
		}
	}
	return nil
}

// GetSegment returns the first segment with the given name, or nil.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// GetSegments returns every segment with the given name, in order.
func (m *Message) GetSegments(name string) []*Segment {
	var out []*Segment
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			out = append(out, &m.Segments[i])
		}
	}
	return out
}

// MessageCode returns the first component of MSH-9, e.g. "ORM" or "ADT".
func (m *Message) MessageCode() string {
	if idx := strings.Index(m.Type, "^"); idx >= 0 {
		return m.Type[:idx]
	}
	return m.Type
}

// Field returns the raw value of the n-th field (1-based, HL7 numbering).
// Out-of-range fields return "".
func (s *Segment) Field(n int) string {
	if n < 1 || n > len(s.Fields) {
		return ""
	}
	return s.Fields[n-1].Value
}

// Component returns component c (1-based) of field n, or "" when absent.
func (s *Segment) Component(n, c int) string {
	if n < 1 || n > len(s.Fields) {
		return ""
	}
	comps := s.Fields[n-1].Components
	if c < 1 || c > len(comps) {
		return ""
	}
	return comps[c-1]
}

// FieldRepeats returns the ~-separated repetitions of field n.
func (s *Segment) FieldRepeats(n int) []string {
	if n < 1 || n > len(s.Fields) {
		return nil
	}
	return s.Fields[n-1].Repeats
}

// ParseTimestamp parses an HL7 DTM value (YYYYMMDD[HHMM[SS]]) into a UTC time.
func ParseTimestamp(value string) (time.Time, error) {
	// Strip any timezone offset or fractional seconds.
	for _, cut := range []string{"+", "-", "."} {
		if idx := strings.Index(value, cut); idx > 8 {
			value = value[:idx]
		}
	}

	layouts := []string{"20060102150405", "200601021504", "20060102"}
	for _, layout := range layouts {
		if len(value) == len(layout) {
			if t, err := time.Parse(layout, value); err == nil {
				return t.UTC(), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("hl7v2: invalid timestamp %q", value)
}

// RecoverControlID performs a best-effort extraction of MSH-10 from raw
// bytes that may not parse as a full message, so that a NACK can still
// reference the sender's control ID. It returns "UNKNOWN" when the control
// ID cannot be located.
func RecoverControlID(raw []byte) string {
	normalized := bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\r"))
	normalized = bytes.ReplaceAll(normalized, []byte("\n"), []byte("\r"))

	for _, line := range bytes.Split(normalized, []byte("\r")) {
		if !bytes.HasPrefix(line, []byte("MSH|")) {
			continue
		}
		// MSH|^~\&|app|fac|rapp|rfac|ts|sec|type|ctrl -> split index 9.
		parts := strings.Split(string(line), "|")
		if len(parts) > 9 && strings.TrimSpace(parts[9]) != "" {
			return strings.TrimSpace(parts[9])
		}
	}
	return "UNKNOWN"
}
