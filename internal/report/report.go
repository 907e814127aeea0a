// Package report defines the intrusion/registration event exchanged between
// sensors and the collector, and the validation rules applied to inbound
// report bodies.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Protocol tags recognized by the collector. Any other value decodes but is
// rejected during classification.
const (
	Registration = "REGISTRATION"
	SSH          = "SSH"
	Telnet       = "TELNET"
	RDP          = "RDP"
)

var (
	// ErrInvalidJSON is returned when a report body is not a well-formed JSON
	// object.
	ErrInvalidJSON = errors.New("report: invalid JSON payload")

	// ErrMissingProtocol is returned when the protocol field is absent or not
	// a string.
	ErrMissingProtocol = errors.New("report: missing protocol field")

	// ErrMissingField is returned when the source_ip or timestamp field is
	// absent or mistyped.
	ErrMissingField = errors.New("report: missing required field")
)

// Report is one intrusion or registration event. A report is built fresh per
// accepted connection on a sensor, or per inbound request body on the
// collector, and is never modified after construction.
type Report struct {
	Protocol  string `json:"protocol"`
	SourceIP  string `json:"source_ip"`
	Timestamp int64  `json:"timestamp"`
}

// New builds a report for the given protocol and source address, stamped with
// the current time.
func New(protocol string, sourceIP string) Report {
	return Report{
		Protocol:  protocol,
		SourceIP:  sourceIP,
		Timestamp: time.Now().Unix(),
	}
}

// Parse decodes and validates a report body. The body must be a single JSON
// document whose protocol, source_ip, and timestamp fields are all present
// and correctly typed: protocol and source_ip as strings, timestamp as an
// integer. A missing or mistyped protocol takes precedence over the other
// fields when reporting failures. A missing field is a validation result,
// never a crash.
func Parse(body []byte) (Report, error) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return Report{}, ErrInvalidJSON
	}

	// Decode stops at the end of the first JSON value; anything after it
	// means the body is not a single document.
	if dec.More() {
		return Report{}, ErrInvalidJSON
	}

	protocol, ok := fields["protocol"].(string)
	if !ok {
		return Report{}, ErrMissingProtocol
	}

	sourceIP, ok := fields["source_ip"].(string)
	if !ok {
		return Report{}, ErrMissingField
	}

	number, ok := fields["timestamp"].(json.Number)
	if !ok {
		return Report{}, ErrMissingField
	}
	timestamp, err := number.Int64()
	if err != nil {
		return Report{}, ErrMissingField
	}

	return Report{Protocol: protocol, SourceIP: sourceIP, Timestamp: timestamp}, nil
}

// Valid reports whether the protocol tag is one the collector accepts.
func Valid(protocol string) bool {
	switch protocol {
	case Registration, SSH, Telnet, RDP:
		return true
	}
	return false
}

// EventType derives the audit event type for a protocol tag: "registration"
// for registration handshakes, "connection" for everything else, including
// tags that classification later rejects.
func EventType(protocol string) string {
	if protocol == Registration {
		return "registration"
	}
	return "connection"
}
