// Package state remembers which raw emails were already handled so repeated
// runs over the same mbox or mailbox do not post twice.
package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dhcgn/mail-receiver/model"
)

const fileName = "processed.jsonl"

type Tracker interface {
	AlreadyProcessed(hash string) bool
	MarkProcessed(rec Record) error
	Snapshot() Snapshot
}

// Record is the stored result of one email, keyed by the hash of its raw
// bytes.
type Record struct {
	Hash        string        `json:"hash"`
	MessageID   string        `json:"message_id"`
	Outcome     model.Outcome `json:"outcome"`
	ReplyKey    string        `json:"reply_key,omitempty"`
	ProcessedAt time.Time     `json:"processed_at"`
}

type Snapshot struct {
	Processed int
	Outcomes  map[model.Outcome]int
}

type MemoryTracker struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{records: make(map[string]Record)}
}

func (m *MemoryTracker) AlreadyProcessed(hash string) bool {
	if hash == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.records[hash]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryTracker) MarkProcessed(rec Record) error {
	m.put(rec)
	return nil
}

// put stores rec and reports whether the hash was new.
func (m *MemoryTracker) put(rec Record) bool {
	if rec.Hash == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[rec.Hash]; exists {
		return false
	}
	m.records[rec.Hash] = rec
	return true
}

// Lookup returns the stored record for hash.
func (m *MemoryTracker) Lookup(hash string) (Record, bool) {
	m.mu.RLock()
	rec, ok := m.records[hash]
	m.mu.RUnlock()
	return rec, ok
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{Processed: len(m.records), Outcomes: make(map[model.Outcome]int)}
	for _, rec := range m.records {
		snap.Outcomes[rec.Outcome]++
	}
	return snap
}

// DryRunTracker consults a base tracker for duplicates but keeps new
// records in memory only.
type DryRunTracker struct {
	base    Tracker
	pending *MemoryTracker
}

func NewDryRunTracker(base Tracker) *DryRunTracker {
	return &DryRunTracker{base: base, pending: NewMemoryTracker()}
}

func (d *DryRunTracker) AlreadyProcessed(hash string) bool {
	return d.pending.AlreadyProcessed(hash) || d.base.AlreadyProcessed(hash)
}

func (d *DryRunTracker) MarkProcessed(rec Record) error {
	if d.base.AlreadyProcessed(rec.Hash) {
		return nil
	}
	return d.pending.MarkProcessed(rec)
}

// Snapshot reports only the records of this run.
func (d *DryRunTracker) Snapshot() Snapshot {
	return d.pending.Snapshot()
}

// FileTracker persists processed records as JSON lines so future runs can
// skip them.
type FileTracker struct {
	*MemoryTracker
	path    string
	persist bool
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

func NewFileTracker(stateDir string, persist bool) (*FileTracker, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	tracker := &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		path:          filepath.Join(stateDir, fileName),
		persist:       persist,
	}

	if err := tracker.load(); err != nil {
		return nil, err
	}

	if persist {
		file, err := os.OpenFile(tracker.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open state file for append: %w", err)
		}
		tracker.file = file
		tracker.writer = bufio.NewWriterSize(file, 64*1024)
	}

	return tracker, nil
}

func (f *FileTracker) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(text, &rec); err != nil {
			return fmt.Errorf("parse state line %d: %w", line, err)
		}
		f.put(rec)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	return nil
}

func (f *FileTracker) MarkProcessed(rec Record) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	if !f.put(rec) || !f.persist {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	return nil
}

// Flush writes any buffered data to the underlying file.
func (f *FileTracker) Flush() error {
	if !f.persist || f.writer == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}
	return nil
}

func (f *FileTracker) Close() error {
	if !f.persist || f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var firstErr error
	if err := f.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync state file: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close state file: %w", err)
	}
	f.file = nil

	return firstErr
}
