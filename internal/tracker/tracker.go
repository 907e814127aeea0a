// Package tracker maintains the collector's registry of observed peers:
// sensors that have registered and intrusion sources reported by sensors.
// Observations are kept in memory and persisted to a CSV database so the
// registry survives restarts.
package tracker

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/r-smith/decoywire/internal/console"
)

const (
	// dateFormat specifies the timestamp format used for database entries.
	dateFormat = time.RFC3339Nano

	// saveInterval represents how frequently the database is saved to disk.
	saveInterval = 20 * time.Second
)

// csvHeader defines the header row for the saved database.
var csvHeader = []string{"ip", "first_seen", "last_seen", "observations"}

// observation records what is known about one observed IP address.
type observation struct {
	// firstSeen records the time an IP address was first added.
	firstSeen time.Time

	// lastSeen records the most recent time an IP address was observed.
	lastSeen time.Time

	// count is the total number of observations of an IP address.
	count int
}

// Tracker is the registry of observed peers, keyed by IP address. It is safe
// for concurrent use. Updates mark the registry dirty; a background goroutine
// started by Start persists dirty data on a fixed interval.
type Tracker struct {
	databasePath string
	mu           sync.Mutex
	peers        map[string]*observation
	dataChanged  atomic.Bool
	done         chan struct{}
	closeOnce    sync.Once
}

// New creates a tracker backed by the given CSV database path.
func New(databasePath string) *Tracker {
	return &Tracker{
		databasePath: databasePath,
		peers:        make(map[string]*observation),
		done:         make(chan struct{}),
	}
}

// Update records an observation of the given IP address. New addresses are
// added to the registry; known addresses have their last-seen time refreshed
// and their observation count incremented. Strings that do not parse as IP
// addresses are ignored.
func (t *Tracker) Update(ip string) {
	if net.ParseIP(ip) == nil {
		return
	}

	now := time.Now()
	t.mu.Lock()
	if peer, exists := t.peers[ip]; exists {
		peer.lastSeen = now
		peer.count++
	} else {
		t.peers[ip] = &observation{firstSeen: now, lastSeen: now, count: 1}
	}
	t.mu.Unlock()

	t.dataChanged.Store(true)
}

// Count returns the number of distinct IP addresses in the registry.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// Start launches a background goroutine that saves the database whenever the
// registry has changed since the last save.
func (t *Tracker) Start() {
	go func() {
		ticker := time.NewTicker(saveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if t.dataChanged.CompareAndSwap(true, false) {
					if err := t.save(); err != nil {
						console.Error(console.Track, "Failed to save database '%s': %v", t.databasePath, err)
					}
				}
			case <-t.done:
				return
			}
		}
	}()
}

// Close stops the background saver and writes any unsaved changes to disk.
func (t *Tracker) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if t.dataChanged.CompareAndSwap(true, false) {
			err = t.save()
		}
	})
	return err
}

// Load populates the registry from the CSV database. A missing database file
// is not an error; the registry simply starts empty. This function should be
// called once before the tracker is updated.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.databasePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return err
	}
	if len(records) < 2 {
		return nil
	}

	for _, record := range records[1:] {
		if len(record) == 0 || len(record[0]) == 0 {
			continue
		}

		// Parse firstSeen and lastSeen, defaulting to the current time.
		firstSeen := time.Now()
		if len(record) > 1 && record[1] != "" {
			firstSeen, _ = time.Parse(dateFormat, record[1])
		}
		lastSeen := time.Now()
		if len(record) > 2 && record[2] != "" {
			lastSeen, _ = time.Parse(dateFormat, record[2])
		}

		// Parse the observation count, defaulting to 1.
		count := 1
		if len(record) > 3 && record[3] != "" {
			if parsed, err := strconv.Atoi(record[3]); err == nil {
				count = parsed
			}
		}

		t.peers[record[0]] = &observation{firstSeen: firstSeen, lastSeen: lastSeen, count: count}
	}
	return nil
}

// save writes the registry to the CSV database. The file is replaced on each
// save; the registry in memory remains authoritative while the process runs.
func (t *Tracker) save() error {
	f, err := os.OpenFile(t.databasePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 65536)
	if _, err := w.WriteString(strings.Join(csvHeader, ",") + "\n"); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for ip, peer := range t.peers {
		_, err := w.WriteString(fmt.Sprintf(
			"%s,%s,%s,%d\n",
			ip,
			peer.firstSeen.Format(dateFormat),
			peer.lastSeen.Format(dateFormat),
			peer.count,
		))
		if err != nil {
			return err
		}
	}

	return w.Flush()
}
