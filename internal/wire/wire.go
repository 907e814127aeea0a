// Package wire implements the minimal framing used between sensors and the
// collector: a CRLF-terminated header block containing a mandatory
// content-length header, followed by an exact-length JSON body. It is
// deliberately not a general HTTP implementation. Request lines and status
// lines follow HTTP conventions only so that captures read naturally in
// network tools.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// maxHeaderBytes caps how many bytes are accumulated while searching for
	// the end-of-headers terminator.
	maxHeaderBytes = 4096

	// maxBodyBytes caps the declared body length. Peers are untrusted; a
	// declared length is never used to size an allocation beyond this limit.
	maxBodyBytes = 1 << 20
)

// headerTerminator marks the end of the header block.
var headerTerminator = []byte("\r\n\r\n")

var (
	// ErrHeadersNotFound is returned when the stream ends or the read cap is
	// exhausted before the header terminator is found.
	ErrHeadersNotFound = errors.New("wire: header terminator not found")

	// ErrMissingContentLength is returned when the content-length header is
	// absent, non-numeric, or negative.
	ErrMissingContentLength = errors.New("wire: missing or invalid content-length header")

	// ErrTruncatedBody is returned when the stream closes before the full
	// declared body length is read.
	ErrTruncatedBody = errors.New("wire: stream closed before full body was read")

	// ErrBodyTooLarge is returned when the declared body length exceeds the
	// allowed maximum.
	ErrBodyTooLarge = errors.New("wire: declared body length exceeds limit")
)

// Message is a decoded wire message: the raw start line, the parsed header
// block, and the exact body bytes. Header keys are lowercased and values are
// trimmed during decoding.
type Message struct {
	StartLine string
	Headers   map[string]string
	Body      []byte
}

// Decode reads one framed message from the stream. It accumulates bytes into
// a bounded buffer until the header terminator is found, parses the header
// lines, then reads exactly content-length body bytes. Bytes captured past
// the terminator during the header read are counted toward the body. Any
// framing failure discards the message; a partially read message is never
// returned.
func Decode(r io.Reader) (*Message, error) {
	buf := make([]byte, 0, maxHeaderBytes)
	headerEnd := -1
	eof := false

	// Read until the terminator appears or the buffer limit is reached.
	for {
		if i := bytes.Index(buf, headerTerminator); i >= 0 {
			headerEnd = i
			break
		}
		if eof || len(buf) == maxHeaderBytes {
			return nil, ErrHeadersNotFound
		}

		n, err := r.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]
		if err != nil {
			// Process any bytes received alongside the error, then give the
			// terminator search one final pass.
			eof = true
		}
	}

	// The first line is the request or status line. The remaining lines are
	// "key: value" headers. Lines without a colon are skipped.
	m := &Message{Headers: make(map[string]string)}
	lines := strings.Split(string(buf[:headerEnd]), "\r\n")
	m.StartLine = lines[0]
	for _, line := range lines[1:] {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		m.Headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	length, err := contentLength(m.Headers)
	if err != nil {
		return nil, err
	}

	// Copy body bytes already captured during the header read, then read the
	// remainder directly from the stream.
	body := make([]byte, length)
	n := copy(body, buf[headerEnd+len(headerTerminator):])
	if n < length {
		if _, err := io.ReadFull(r, body[n:]); err != nil {
			return nil, ErrTruncatedBody
		}
	}
	m.Body = body

	return m, nil
}

// contentLength extracts and validates the mandatory content-length header.
func contentLength(headers map[string]string) (int, error) {
	raw, ok := headers["content-length"]
	if !ok {
		return 0, ErrMissingContentLength
	}

	length, err := strconv.Atoi(raw)
	if err != nil || length < 0 {
		return 0, ErrMissingContentLength
	}
	if length > maxBodyBytes {
		return 0, ErrBodyTooLarge
	}
	return length, nil
}

// StatusCode extracts the numeric status code from a response's status line,
// such as "HTTP/1.1 200 OK". It returns 0 when the start line does not carry
// a parsable code.
func (m *Message) StatusCode() int {
	fields := strings.Fields(m.StartLine)
	if len(fields) < 2 {
		return 0
	}

	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}

// EncodeRequest frames a write-style request carrying a JSON payload destined
// for the given path. The Content-Length header is always computed from the
// actual payload length.
func EncodeRequest(path string, host string, payload []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "POST %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", host)
	b.WriteString("Content-Type: application/json\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(payload))
	b.WriteString("\r\n")
	b.Write(payload)
	return b.Bytes()
}

// EncodeResponse frames a response with the given status code and JSON
// payload. The Content-Length header is always computed from the actual
// payload length.
func EncodeResponse(statusCode int, payload []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", statusCode, statusText(statusCode))
	b.WriteString("Content-Type: application/json\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(payload))
	b.WriteString("\r\n")
	b.Write(payload)
	return b.Bytes()
}

// SuccessResponse returns the canonical success response: status 200 with an
// empty JSON object as the body.
func SuccessResponse() []byte {
	return EncodeResponse(200, []byte("{}"))
}

// ErrorResponse returns the canonical error response: status 400 with the
// message wrapped in a JSON object. The message is JSON-escaped, never
// inserted by string concatenation.
func ErrorResponse(message string) []byte {
	payload, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: message})
	return EncodeResponse(400, payload)
}

// statusText returns the reason phrase for the status codes used by the wire
// protocol.
func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	default:
		return ""
	}
}
