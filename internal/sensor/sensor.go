// Package sensor implements the sensor agent: a one-time registration
// handshake with the collector, followed by an independent accept loop on
// each monitored port that audits, reports, and forwards every connection
// attempt.
package sensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/r-smith/decoywire/internal/auditlog"
	"github.com/r-smith/decoywire/internal/config"
	"github.com/r-smith/decoywire/internal/console"
	"github.com/r-smith/decoywire/internal/report"
	"github.com/r-smith/decoywire/internal/wire"
	"golang.org/x/crypto/ssh"
)

const (
	// reportPath is the collector endpoint targeted by registration and
	// report submissions.
	reportPath = "/report"

	// dialTimeout bounds how long the sensor waits to reach the collector.
	dialTimeout = 10 * time.Second

	// sendTimeout bounds one full report exchange with the collector.
	sendTimeout = 10 * time.Second

	// serverTimeout defines the duration after which connected clients are
	// automatically disconnected, set to 30 seconds.
	serverTimeout = 30 * time.Second
)

// Sensor monitors a set of listeners and forwards connection reports to the
// collector.
type Sensor struct {
	// Config holds the collector address and the listener set.
	Config config.Sensor

	// Store receives one delivery entry per observed connection.
	Store *auditlog.Store

	bindings []*binding
	wg       sync.WaitGroup
}

// binding pairs a bound socket with its listener settings.
type binding struct {
	listener  net.Listener
	cfg       *config.Listener
	sshConfig *ssh.ServerConfig
}

// Run registers with the collector, binds the configured listeners, and
// monitors until Close is called. Registration failure and a fully failed
// bind are the only fatal conditions; every failure after startup is logged
// and contained.
func (s *Sensor) Run() error {
	if err := s.Register(); err != nil {
		return err
	}
	if err := s.Bind(); err != nil {
		return err
	}
	s.Start()
	s.Wait()
	return nil
}

// Register announces this sensor to the collector. The collector must answer
// with a success status before any monitoring begins; anything else is a
// fatal startup condition.
func (s *Sensor) Register() error {
	r := report.New(report.Registration, config.GetHostIP())

	status, err := s.send(r)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	if status/100 != 2 {
		return fmt.Errorf("registration failed: collector returned status %d", status)
	}

	console.Info(console.Sens, "Registered with collector at %s", s.Config.CollectorAddress)
	return nil
}

// Bind attempts to bind every enabled listener. Individual bind failures are
// logged and that listener is skipped. Bind fails only when zero listeners
// could be bound, which leaves the sensor with nothing to monitor.
func (s *Sensor) Bind() error {
	for i := range s.Config.Listeners {
		cfg := &s.Config.Listeners[i]
		if !cfg.Enabled {
			continue
		}

		l, err := net.Listen("tcp", ":"+cfg.Port)
		if err != nil {
			console.Warning(console.Sens, "Skipping %s listener on port %s: %v", cfg.Protocol, cfg.Port, err)
			continue
		}
		b := &binding{listener: l, cfg: cfg}

		// SSH listeners emulate an SSH server to capture credentials. A
		// listener that can't build its emulation still reports connections.
		if cfg.Protocol == config.SSH {
			sshConfig, err := s.newSSHConfig(cfg)
			if err != nil {
				console.Warning(console.Sens, "SSH capture disabled on port %s: %v", cfg.Port, err)
			} else {
				b.sshConfig = sshConfig
			}
		}

		s.bindings = append(s.bindings, b)
		console.Info(console.Sens, "%s listener active on port %s", cfg.Protocol, cfg.Port)
	}

	if len(s.bindings) == 0 {
		return errors.New("no listeners could be bound")
	}
	return nil
}

// Start launches one accept loop per bound listener. Each loop runs on its
// own goroutine so a blocked accept or a slow client on one port never
// delays another.
func (s *Sensor) Start() {
	for _, b := range s.bindings {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(b)
		}()
	}
}

// Wait blocks until every accept loop has exited.
func (s *Sensor) Wait() {
	s.wg.Wait()
}

// Close closes every bound listener, stopping the accept loops.
func (s *Sensor) Close() error {
	var errs []error
	for _, b := range s.bindings {
		if err := b.listener.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// serve accepts connections on one binding until its listener is closed.
func (s *Sensor) serve(b *binding) {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		go s.handleConnection(conn, b)
	}
}

// handleConnection processes one observed connection: build the report,
// audit it locally, forward it to the collector, then run the protocol's
// interaction capture. Forwarding is best-effort with no retry; failures
// never stop the listener.
func (s *Sensor) handleConnection(conn net.Conn, b *binding) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(serverTimeout))

	remoteIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	r := report.New(b.cfg.Protocol.String(), remoteIP)

	// The local audit entry is written before the forward attempt.
	if err := s.Store.Append(auditlog.Delivery{
		Timestamp: r.Timestamp,
		Protocol:  r.Protocol,
		SourceIP:  r.SourceIP,
		Status:    "sent",
	}); err != nil {
		console.Error(console.Sens, "Failed to append audit entry: %v", err)
	}

	fmt.Printf("[%s] %s Connection detected\n", b.cfg.Protocol, remoteIP)

	if status, err := s.send(r); err != nil {
		console.Warning(console.Sens, "Report not delivered to collector: %v", err)
	} else if status/100 != 2 {
		console.Warning(console.Sens, "Collector rejected %s report with status %d", r.Protocol, status)
	}

	// Keep the client engaged and capture interaction where the protocol is
	// emulated.
	switch b.cfg.Protocol {
	case config.SSH:
		if b.sshConfig != nil {
			captureSSH(conn, b.sshConfig)
		}
	case config.Telnet:
		capturePrompts(conn, b.cfg, remoteIP)
	}
}

// send frames and delivers one report to the collector, returning the status
// code from the collector's response.
func (s *Sensor) send(r report.Report) (int, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("can't encode report: %w", err)
	}

	conn, err := net.DialTimeout("tcp", s.Config.CollectorAddress, dialTimeout)
	if err != nil {
		return 0, fmt.Errorf("can't reach collector: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(sendTimeout))

	if _, err := conn.Write(wire.EncodeRequest(reportPath, s.Config.CollectorAddress, payload)); err != nil {
		return 0, fmt.Errorf("can't send report: %w", err)
	}

	resp, err := wire.Decode(conn)
	if err != nil {
		return 0, fmt.Errorf("can't decode collector response: %w", err)
	}
	return resp.StatusCode(), nil
}
