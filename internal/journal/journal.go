// Package journal keeps an append-only record of finished analyses as JSON
// lines in a local file, one line per input. Batch runs and uploads write to
// it so a long run can be audited or resumed by hand.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Entry is a single journal line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Input     string    `json:"input"`
	ID        string    `json:"id,omitempty"`
	Status    string    `json:"status"`
	Class     string    `json:"class,omitempty"`
	Error     string    `json:"error,omitempty"`
	Seconds   float64   `json:"seconds"`
	Artifacts int       `json:"artifacts"`
}

// FileJournal appends entries to a file. Safe for concurrent use.
type FileJournal struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileJournal creates a FileJournal that writes to path. The file is
// created on the first Record.
func NewFileJournal(path string) *FileJournal {
	return &FileJournal{path: path, now: time.Now}
}

// Path returns the journal file.
func (j *FileJournal) Path() string { return j.path }

// Record appends e. A zero Timestamp is set to the current time.
func (j *FileJournal) Record(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = j.now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	return nil
}
