// Package auditlog implements the append-only JSON-lines audit log shared by
// the collector and sensors. Every record becomes exactly one JSON object on
// its own line. The running process never rewrites, truncates, or rotates the
// file; rotation is left to external tooling.
package auditlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Event is one collector audit entry, written once per inbound report that
// passes field validation, whether or not classification later accepts it.
type Event struct {
	Timestamp int64  `json:"timestamp"`
	EventType string `json:"event_type"`
	SourceIP  string `json:"source_ip"`
	Protocol  string `json:"protocol"`
}

// Delivery is one sensor audit entry, written for every connection a
// listener observes before the report is handed off to the collector.
type Delivery struct {
	Timestamp int64  `json:"timestamp"`
	Protocol  string `json:"protocol"`
	SourceIP  string `json:"source_ip"`
	Status    string `json:"status"`
}

// Store is an append-only audit log. The file is created on the first append
// and the handle is then owned by the store for the process lifetime. Store
// is safe for concurrent use; appends are serialized so lines are never
// interleaved or truncated mid-write.
type Store struct {
	name string
	mu   sync.Mutex
	file *os.File
}

// Open prepares an audit log at the given path. No file is opened or created
// until the first append.
func Open(name string) *Store {
	return &Store{name: name}
}

// Append serializes the record as one JSON object followed by a newline and
// writes it to the log. Failures are returned to the caller; there is no
// retry.
func (s *Store) Append(record any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		file, err := os.OpenFile(s.name, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("can't open audit log: %w", err)
		}
		s.file = file
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("can't encode audit entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("can't append to audit log: %w", err)
	}
	return nil
}

// Close closes the underlying file, if one was opened. The store can be
// reused after closing; the next append reopens the file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
