package tools

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// AuditEntry is one permission-manager decision (spec §4.3): every ask,
// auto-approve, and deny is recorded, never edited or removed.
type AuditEntry struct {
	Time     time.Time `json:"time"`
	Tool     string    `json:"tool"`
	Scope    string    `json:"scope,omitempty"`
	Decision string    `json:"decision"` // auto_approved, user_approved, denied_by_policy, denied_by_user, failed_validation
	Risk     string    `json:"risk"`
}

// AuditLog is an append-only log of permission decisions: every entry is
// also written to a JSONL file, but only the last maxInMemory entries are
// kept in memory for the /permissions modal to display without
// re-reading the file on every render.
type AuditLog struct {
	mu         sync.Mutex
	entries    []AuditEntry
	maxInMemory int
	file       *os.File
}

// NewAuditLog opens path for append, creating it if needed. path == ""
// disables file persistence — useful for tests.
func NewAuditLog(path string, maxInMemory int) (*AuditLog, error) {
	if maxInMemory <= 0 {
		maxInMemory = 50
	}
	a := &AuditLog{maxInMemory: maxInMemory}

	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		a.file = f
	}
	return a, nil
}

// Record appends a decision, trimming the in-memory buffer to the last
// maxInMemory entries and, if a file is open, appending the JSON line.
func (a *AuditLog) Record(entry AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	a.entries = append(a.entries, entry)
	if len(a.entries) > a.maxInMemory {
		a.entries = a.entries[len(a.entries)-a.maxInMemory:]
	}

	if a.file != nil {
		if b, err := json.Marshal(entry); err == nil {
			a.file.Write(append(b, '\n'))
		}
	}
}

// Recent returns a copy of the in-memory buffer, oldest first.
func (a *AuditLog) Recent() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Close closes the backing file, if any.
func (a *AuditLog) Close() error {
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}
