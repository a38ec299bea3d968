package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MessageHistory is the global, cross-session append-only log of submitted
// user messages (spec.md §4.10's AddToHistory/GetHistoryEntryRequest),
// distinct from any single session's rollout file. Grounded on
// internal/rollout.Recorder's append-only ndjson file shape, reused here
// for a second, simpler log that isn't scoped to one conversation.
type MessageHistory struct {
	mu      sync.Mutex
	path    string
	logID   int64
	entries int64
}

type historyEntry struct {
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// OpenMessageHistory opens (creating if absent) CODEX_HOME/history.jsonl
// and counts its existing entries.
func OpenMessageHistory(codexHome string) (*MessageHistory, error) {
	path := filepath.Join(codexHome, "history.jsonl")
	if err := os.MkdirAll(codexHome, 0o755); err != nil {
		return nil, fmt.Errorf("session: create codex home: %w", err)
	}

	count, err := countLines(path)
	if err != nil {
		return nil, err
	}

	return &MessageHistory{path: path, logID: logIDFor(path), entries: count}, nil
}

func countLines(path string) (int64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("session: open history file: %w", err)
	}
	defer f.Close()

	var n int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

// logIDFor derives a stable identifier for this history file so
// GetHistoryEntryRequest can sanity-check the caller is asking about the
// same log it was told about in SessionConfigured.
func logIDFor(path string) int64 {
	var h int64 = 1469598103934665603 // FNV offset basis
	for _, b := range []byte(path) {
		h ^= int64(b)
		h *= 1099511628211 // FNV prime
	}
	if h < 0 {
		h = -h
	}
	return h
}

// Append adds text as a new entry and returns its 0-based line offset.
func (m *MessageHistory) Append(text string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("session: open history file for append: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(historyEntry{Text: text, Time: time.Now()})
	if err != nil {
		return 0, err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return 0, err
	}

	offset := m.entries
	m.entries++
	return offset, nil
}

// Lookup returns the text at offset if logID matches this file's id.
func (m *MessageHistory) Lookup(logID, offset int64) (string, bool, error) {
	m.mu.Lock()
	path, expected := m.path, m.logID
	m.mu.Unlock()

	if logID != expected {
		return "", false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", false, fmt.Errorf("session: open history file for lookup: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var i int64
	for scanner.Scan() {
		if i == offset {
			var entry historyEntry
			if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
				return "", false, fmt.Errorf("session: decode history entry: %w", err)
			}
			return entry.Text, true, nil
		}
		i++
	}
	return "", false, scanner.Err()
}

// LogID returns this file's stable identifier.
func (m *MessageHistory) LogID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logID
}

// EntryCount returns the number of entries recorded so far.
func (m *MessageHistory) EntryCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries
}
