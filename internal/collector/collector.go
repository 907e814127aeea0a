// Package collector implements the central report collector: a TCP server
// that decodes framed reports from sensors, validates and classifies them,
// appends audit entries, and answers with canonical wire responses.
package collector

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/r-smith/decoywire/internal/auditlog"
	"github.com/r-smith/decoywire/internal/config"
	"github.com/r-smith/decoywire/internal/console"
	"github.com/r-smith/decoywire/internal/report"
	"github.com/r-smith/decoywire/internal/tracker"
	"github.com/r-smith/decoywire/internal/wire"
	"golang.org/x/net/netutil"
)

// serverTimeout defines the duration after which connected clients are
// automatically disconnected, set to 10 seconds. Sensors complete an
// exchange in a fraction of this; only slow or adversarial peers hit it.
var serverTimeout = 10 * time.Second

// Exact error strings returned to clients. Sensors and external tooling
// match on these values; do not reword them.
const (
	msgInvalidJSON     = "Invalid JSON payload"
	msgMissingProtocol = "Missing protocol field"
	msgMissingField    = "Missing required field"
	msgInvalidProtocol = "Invalid protocol type"
)

// Server is the central report collector.
type Server struct {
	// Config holds the collector's listening port and admission limit.
	Config config.Collector

	// Store receives one audit entry per report that passes field
	// validation.
	Store *auditlog.Store

	// Tracker, when set, is updated with the source address of every report
	// that passes field validation.
	Tracker *tracker.Tracker

	mu       sync.Mutex
	listener net.Listener
}

// ListenAndServe binds the collector's port on all interfaces and serves
// until Close is called.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", ":"+s.Config.Port)
	if err != nil {
		return fmt.Errorf("failed to start collector on port %s: %w", s.Config.Port, err)
	}
	console.Info(console.Coll, "Collector is active and listening on port %s", s.Config.Port)
	return s.Serve(l)
}

// Serve accepts connections on l until the listener is closed, handling each
// connection on its own goroutine. When the configured connection limit is
// positive, concurrent connections are capped at that limit; excess
// connections wait in the accept queue instead of spawning handlers.
func (s *Server) Serve(l net.Listener) error {
	if s.Config.MaxConnections > 0 {
		l = netutil.LimitListener(l, s.Config.MaxConnections)
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}

		go s.handleConnection(conn)
	}
}

// Close stops the server by closing its listener. Connections already being
// handled are not interrupted.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// handleConnection runs the report pipeline for one connection: decode,
// parse, validate, log, classify, respond. Framing failures drop the
// connection with no response. Validation and classification failures send a
// structured error response. The audit entry is written before
// classification, so a rejected protocol tag still leaves an audit trail.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(serverTimeout))

	remoteIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	msg, err := wire.Decode(conn)
	if err != nil {
		// Malformed or incomplete framing is not worth a structured error.
		console.Warning(console.Coll, "Dropped connection from %s: %v", remoteIP, err)
		return
	}

	rpt, err := report.Parse(msg.Body)
	if err != nil {
		_, _ = conn.Write(wire.ErrorResponse(rejectionMessage(err)))
		return
	}

	// The audit trail is unconditional once required fields are present.
	entry := auditlog.Event{
		Timestamp: rpt.Timestamp,
		EventType: report.EventType(rpt.Protocol),
		SourceIP:  rpt.SourceIP,
		Protocol:  rpt.Protocol,
	}
	if err := s.Store.Append(entry); err != nil {
		console.Error(console.Coll, "Failed to append audit entry: %v", err)
	}
	if s.Tracker != nil {
		s.Tracker.Update(rpt.SourceIP)
	}

	if !report.Valid(rpt.Protocol) {
		_, _ = conn.Write(wire.ErrorResponse(msgInvalidProtocol))
		return
	}

	// The reported address is client-supplied text; quoting keeps each echo
	// on a single console line.
	if rpt.Protocol == report.Registration {
		console.Info(console.Coll, "Sensor registered from %q", rpt.SourceIP)
	} else {
		fmt.Printf("[%s] %q reported by %s\n", rpt.Protocol, rpt.SourceIP, remoteIP)
	}

	_, _ = conn.Write(wire.SuccessResponse())
}

// rejectionMessage maps a report validation failure to the exact error
// string sent to the client.
func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, report.ErrMissingProtocol):
		return msgMissingProtocol
	case errors.Is(err, report.ErrMissingField):
		return msgMissingField
	default:
		return msgInvalidJSON
	}
}
