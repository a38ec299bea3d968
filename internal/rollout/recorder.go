// Package rollout implements the Rollout Recorder (spec.md §4.2): the
// durable, append-only ndjson writer every session opens exactly once, and
// the reader that lets a resumed or forked session replay a prior file's
// prefix back through the Context Manager (internal/turnctx).
package rollout

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codexturn/codexturn/internal/codexlog"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// Recorder writes RolloutItems to a single per-session ndjson file, one
// JSON object per line, flushed and fsynced before every RecordItems call
// returns — matching the teacher's TracePlugin crash-safety guarantee.
type Recorder struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
	header protocol.RolloutHeader

	archiver Archiver // optional, nil disables S3 archival
}

// Path returns the file path backing this recorder, for the
// ConversationPath op response (spec.md §4.10).
func (r *Recorder) Path() string {
	return r.path
}

// ConversationID returns the id recorded in this file's header, for
// SessionConfigured (spec.md §4.9).
func (r *Recorder) ConversationID() protocol.ConversationId {
	return r.header.ConversationID
}

// sessionPath returns CODEX_HOME/sessions/<conversation_id>.jsonl.
func sessionPath(codexHome string, id protocol.ConversationId) string {
	return filepath.Join(codexHome, "sessions", string(id)+".jsonl")
}

// New creates a fresh rollout file and writes its header. The conversation
// ID is generated if empty.
func New(codexHome string, id protocol.ConversationId, userInstructions string, archiver Archiver) (*Recorder, error) {
	if id == "" {
		id = protocol.ConversationId(uuid.NewString())
	}
	path := sessionPath(codexHome, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("rollout: create session dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rollout: create rollout file: %w", err)
	}

	header := protocol.RolloutHeader{
		ConversationID:   id,
		UserInstructions: userInstructions,
		Timestamp:        time.Now(),
	}
	r := &Recorder{file: f, writer: bufio.NewWriter(f), path: path, header: header, archiver: archiver}
	if err := r.writeLine(header); err != nil {
		f.Close()
		return nil, err
	}
	if err := r.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Resume reopens an existing rollout file for append. The caller is
// responsible for reading the prior items (via Load) and replaying them
// through the Context Manager before accepting new turns.
func Resume(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("rollout: reopen for resume: %w", err)
	}
	header, _, err := Load(path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Recorder{file: f, writer: bufio.NewWriter(f), path: path, header: header}, nil
}

// Fork creates a new rollout file and persists every item of the source
// file verbatim into it before returning, so the forked file is
// self-describing (spec.md §4.2 fork protocol).
func Fork(codexHome string, sourcePath string, archiver Archiver) (*Recorder, error) {
	_, priorItems, err := LoadRaw(sourcePath)
	if err != nil {
		return nil, err
	}

	r, err := New(codexHome, "", "", archiver)
	if err != nil {
		return nil, err
	}
	if err := r.RecordItems(priorItems); err != nil {
		r.Shutdown()
		return nil, err
	}
	return r, nil
}

// RecordItems serializes each item as one ndjson line and fsyncs before
// returning, filtering out items excluded by Keep (spec.md §4.2). Writes
// are durable by the time this call returns.
func (r *Recorder) RecordItems(items []protocol.RolloutItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		if !Keep(item) {
			continue
		}
		if err := r.writeLine(item); err != nil {
			return err
		}
	}
	return r.flushLocked()
}

func (r *Recorder) writeLine(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("rollout: marshal record: %w", err)
	}
	if _, err := r.writer.Write(data); err != nil {
		return err
	}
	return r.writer.WriteByte('\n')
}

// Flush ensures all prior writes are visible to readers of the file.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("rollout: flush: %w", err)
	}
	return r.file.Sync()
}

// Shutdown flushes and closes the file, then archives it if an Archiver is
// configured (SPEC_FULL.md §4.2.A).
func (r *Recorder) Shutdown() error {
	r.mu.Lock()
	if err := r.flushLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	err := r.file.Close()
	path := r.path
	archiver := r.archiver
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("rollout: close: %w", err)
	}
	if archiver != nil {
		if archErr := archiver.Archive(path); archErr != nil {
			codexlog.For("rollout").Warn().Err(archErr).Str("path", path).Msg("rollout archive upload failed")
		}
	}
	return nil
}

// Load reads a rollout file's header and its recorded items verbatim. The
// caller feeds the returned items to turnctx.Reconstruct to fold Compacted
// records back into an in-memory history.
func Load(path string) (protocol.RolloutHeader, []protocol.RolloutItem, error) {
	return LoadRaw(path)
}

// LoadRaw reads every RolloutItem record verbatim (no folding), used by
// Fork to replay a prior file's prefix byte-for-byte.
func LoadRaw(path string) (protocol.RolloutHeader, []protocol.RolloutItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return protocol.RolloutHeader{}, nil, fmt.Errorf("rollout: open for load: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var header protocol.RolloutHeader
	var items []protocol.RolloutItem
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			if err := json.Unmarshal(line, &header); err != nil {
				return header, nil, fmt.Errorf("rollout: decode header: %w", err)
			}
			continue
		}
		var item protocol.RolloutItem
		if err := json.Unmarshal(line, &item); err != nil {
			return header, nil, fmt.Errorf("rollout: decode record: %w", err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return header, nil, fmt.Errorf("rollout: scan: %w", err)
	}
	return header, items, nil
}
