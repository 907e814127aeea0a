package collector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/r-smith/decoywire/internal/auditlog"
	"github.com/r-smith/decoywire/internal/config"
	"github.com/r-smith/decoywire/internal/tracker"
	"github.com/r-smith/decoywire/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs a collector on an ephemeral loopback port and returns its
// address along with the audit log path.
func startServer(t *testing.T, trk *tracker.Tracker) (addr string, logPath string) {
	t.Helper()

	logPath = filepath.Join(t.TempDir(), "audit.txt")
	store := auditlog.Open(logPath)
	t.Cleanup(func() { _ = store.Close() })

	srv := &Server{
		Config:  config.Collector{MaxConnections: 4},
		Store:   store,
		Tracker: trk,
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	return l.Addr().String(), logPath
}

// exchange writes raw bytes to the collector, half-closes the write side, and
// returns everything the collector sends back before closing.
func exchange(t *testing.T, addr string, raw string) []byte {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	return resp
}

// frame builds a framed request whose content-length matches the body.
func frame(body string) string {
	return fmt.Sprintf("POST /report HTTP/1.1\r\ncontent-length: %d\r\n\r\n%s", len(body), body)
}

func auditLines(t *testing.T, path string) []string {
	t.Helper()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)

	trimmed := strings.TrimRight(string(data), "\n")
	if len(trimmed) == 0 {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func TestEndToEndReport(t *testing.T) {
	addr, logPath := startServer(t, nil)

	body := `{"protocol":"SSH","source_ip":"1.2.3.4","timestamp":1700000000}`
	resp := exchange(t, addr, frame(body))

	msg, err := wire.Decode(bytes.NewReader(resp))
	require.NoError(t, err)
	assert.Equal(t, 200, msg.StatusCode())
	assert.Equal(t, "{}", string(msg.Body))

	lines := auditLines(t, logPath)
	require.Len(t, lines, 1)
	assert.Equal(t,
		`{"timestamp":1700000000,"event_type":"connection","source_ip":"1.2.3.4","protocol":"SSH"}`,
		lines[0])
}

func TestAcceptedProtocols(t *testing.T) {
	addr, logPath := startServer(t, nil)

	tests := []struct {
		protocol  string
		eventType string
	}{
		{protocol: "SSH", eventType: "connection"},
		{protocol: "TELNET", eventType: "connection"},
		{protocol: "RDP", eventType: "connection"},
		{protocol: "REGISTRATION", eventType: "registration"},
	}

	for i, tc := range tests {
		body := fmt.Sprintf(`{"protocol":%q,"source_ip":"10.0.0.8","timestamp":%d}`, tc.protocol, 1700000000+i)
		resp := exchange(t, addr, frame(body))

		msg, err := wire.Decode(bytes.NewReader(resp))
		require.NoError(t, err, tc.protocol)
		assert.Equal(t, 200, msg.StatusCode(), tc.protocol)

		lines := auditLines(t, logPath)
		require.Len(t, lines, i+1, tc.protocol)

		var entry auditlog.Event
		require.NoError(t, json.Unmarshal([]byte(lines[i]), &entry))
		assert.Equal(t, tc.protocol, entry.Protocol)
		assert.Equal(t, tc.eventType, entry.EventType)
		assert.Equal(t, "10.0.0.8", entry.SourceIP)
		assert.Equal(t, int64(1700000000+i), entry.Timestamp)
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "malformed JSON", body: `{"protocol":`, want: "Invalid JSON payload"},
		{name: "trailing garbage", body: `{"protocol":"SSH","source_ip":"1.2.3.4","timestamp":1}garbage`, want: "Invalid JSON payload"},
		{name: "missing protocol", body: `{"source_ip":"1.2.3.4","timestamp":1}`, want: "Missing protocol field"},
		{name: "missing source_ip", body: `{"protocol":"SSH","timestamp":1}`, want: "Missing required field"},
		{name: "missing timestamp", body: `{"protocol":"SSH","source_ip":"1.2.3.4"}`, want: "Missing required field"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			addr, logPath := startServer(t, nil)

			resp := exchange(t, addr, frame(tc.body))

			msg, err := wire.Decode(bytes.NewReader(resp))
			require.NoError(t, err)
			assert.Equal(t, 400, msg.StatusCode())
			assert.JSONEq(t, fmt.Sprintf(`{"error":%q}`, tc.want), string(msg.Body))

			assert.Empty(t, auditLines(t, logPath), "validation failures must not be audited")
		})
	}
}

func TestInvalidProtocolStillAudited(t *testing.T) {
	addr, logPath := startServer(t, nil)

	body := `{"protocol":"FTP","source_ip":"1.2.3.4","timestamp":1700000000}`
	resp := exchange(t, addr, frame(body))

	msg, err := wire.Decode(bytes.NewReader(resp))
	require.NoError(t, err)
	assert.Equal(t, 400, msg.StatusCode())
	assert.Equal(t, `{"error":"Invalid protocol type"}`, string(msg.Body))

	// Logging precedes classification: the rejected report is still audited.
	lines := auditLines(t, logPath)
	require.Len(t, lines, 1)
	assert.Equal(t,
		`{"timestamp":1700000000,"event_type":"connection","source_ip":"1.2.3.4","protocol":"FTP"}`,
		lines[0])
}

func TestFramingFailuresDropSilently(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "missing content-length", raw: "POST /report HTTP/1.1\r\nhost: x\r\n\r\n{}"},
		{name: "truncated body", raw: "POST /report HTTP/1.1\r\ncontent-length: 100\r\n\r\n{\"proto"},
		{name: "no header terminator", raw: "POST /report HTTP/1.1\r\n"},
		{name: "garbage", raw: "\x00\x01\x02\x03"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			addr, logPath := startServer(t, nil)

			resp := exchange(t, addr, tc.raw)

			assert.Empty(t, resp, "framing failures must not produce a response")
			assert.Empty(t, auditLines(t, logPath), "framing failures must not be audited")
		})
	}
}

func TestStalledPeerDropped(t *testing.T) {
	oldTimeout := serverTimeout
	serverTimeout = 200 * time.Millisecond
	t.Cleanup(func() { serverTimeout = oldTimeout })

	addr, logPath := startServer(t, nil)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	// A partial header block with the write side left open: the peer is
	// stalled, not finished.
	_, err = conn.Write([]byte("POST /report HTTP/1.1\r\ncontent-length: 63\r\n"))
	require.NoError(t, err)

	// The deadline disconnects the peer with no response and no audit entry.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, resp)
	assert.Empty(t, auditLines(t, logPath))
}

func TestAdmissionCap(t *testing.T) {
	store := auditlog.Open(filepath.Join(t.TempDir(), "audit.txt"))
	t.Cleanup(func() { _ = store.Close() })

	srv := &Server{Config: config.Collector{MaxConnections: 2}, Store: store}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })
	addr := l.Addr().String()

	// Fill every handler slot with connections that never send a byte.
	first, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	second, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	// The next connection waits in the accept queue: its complete request
	// must get no response while the slots are held.
	third, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer third.Close()

	body := `{"protocol":"SSH","source_ip":"1.2.3.4","timestamp":1700000000}`
	_, err = third.Write([]byte(frame(body)))
	require.NoError(t, err)
	require.NoError(t, third.(*net.TCPConn).CloseWrite())

	_ = third.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
	_, err = third.Read(make([]byte, 1))
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)

	// Releasing the held slots lets the queued connection be served.
	require.NoError(t, first.Close())
	require.NoError(t, second.Close())

	_ = third.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := io.ReadAll(third)
	require.NoError(t, err)

	msg, err := wire.Decode(bytes.NewReader(resp))
	require.NoError(t, err)
	assert.Equal(t, 200, msg.StatusCode())
}

func TestConsoleEchoQuotesSourceIP(t *testing.T) {
	addr, _ := startServer(t, nil)

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	t.Cleanup(func() { os.Stdout = oldStdout })

	body := `{"protocol":"SSH","source_ip":"1.2.3.4\nINFO  | COLL | forged","timestamp":1}`
	resp := exchange(t, addr, frame(body))

	require.NoError(t, w.Close())
	os.Stdout = oldStdout
	out, err := io.ReadAll(r)
	require.NoError(t, err)

	msg, err := wire.Decode(bytes.NewReader(resp))
	require.NoError(t, err)
	assert.Equal(t, 200, msg.StatusCode())

	// The quoted form keeps the embedded newline escaped, so the payload
	// cannot start a console line of its own.
	output := string(out)
	assert.Contains(t, output, `"1.2.3.4\nINFO  | COLL | forged" reported by`)
	assert.NotContains(t, output, "\nINFO  | COLL | forged")
}

func TestTrackerObservesSources(t *testing.T) {
	trk := tracker.New(filepath.Join(t.TempDir(), "db.csv"))
	addr, _ := startServer(t, trk)

	exchange(t, addr, frame(`{"protocol":"REGISTRATION","source_ip":"10.0.0.8","timestamp":1}`))
	exchange(t, addr, frame(`{"protocol":"SSH","source_ip":"198.51.100.7","timestamp":2}`))
	exchange(t, addr, frame(`{"protocol":"SSH","source_ip":"198.51.100.7","timestamp":3}`))

	assert.Equal(t, 2, trk.Count())
}
