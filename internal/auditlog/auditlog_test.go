package auditlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.txt")
	store := Open(path)
	defer store.Close()

	// No file exists until the first append.
	_, err := os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	err = store.Append(Event{
		Timestamp: 1700000000,
		EventType: "connection",
		SourceIP:  "1.2.3.4",
		Protocol:  "SSH",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		`{"timestamp":1700000000,"event_type":"connection","source_ip":"1.2.3.4","protocol":"SSH"}`+"\n",
		string(data))
}

func TestAppendDelivery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.txt")
	store := Open(path)
	defer store.Close()

	err := store.Append(Delivery{
		Timestamp: 1700000000,
		Protocol:  "TELNET",
		SourceIP:  "203.0.113.9",
		Status:    "sent",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		`{"timestamp":1700000000,"protocol":"TELNET","source_ip":"203.0.113.9","status":"sent"}`+"\n",
		string(data))
}

func TestAppendNeverTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.txt")

	store := Open(path)
	require.NoError(t, store.Append(Event{Timestamp: 1, EventType: "connection", SourceIP: "1.1.1.1", Protocol: "SSH"}))
	require.NoError(t, store.Close())

	// A fresh store on the same path must append after the existing lines.
	store = Open(path)
	defer store.Close()
	require.NoError(t, store.Append(Event{Timestamp: 2, EventType: "connection", SourceIP: "2.2.2.2", Protocol: "RDP"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"timestamp":1`)
	assert.Contains(t, string(data), `"timestamp":2`)
}

func TestConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.txt")
	store := Open(path)
	defer store.Close()

	const writers = 10
	const perWriter = 25

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := range writers {
		go func() {
			defer wg.Done()
			for i := range perWriter {
				_ = store.Append(Event{
					Timestamp: int64(w*perWriter + i),
					EventType: "connection",
					SourceIP:  "1.2.3.4",
					Protocol:  "SSH",
				})
			}
		}()
	}
	wg.Wait()

	// Every line must be complete, parseable JSON. Interleaved or torn
	// writes would fail to parse.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, writers*perWriter, lines)
}
