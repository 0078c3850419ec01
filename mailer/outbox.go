package mailer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one line in the auto-reply audit log.
type Record struct {
	At        time.Time `json:"at"`
	LeadID    string    `json:"leadId"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	Transport string    `json:"transport,omitempty"`
	Error     string    `json:"error,omitempty"`
	Text      string    `json:"text,omitempty"`
}

// Outbox appends delivery records to a JSONL file. Appends are
// serialized; the file is never read back by the service.
type Outbox struct {
	mu     sync.Mutex
	logger *slog.Logger
	path   string
}

// NewOutbox creates an Outbox writing to path.
func NewOutbox(path string, logger *slog.Logger) *Outbox {
	return &Outbox{path: path, logger: logger}
}

// Append writes one record. Failures are logged, not returned: the
// audit log never blocks lead processing.
func (o *Outbox) Append(rec Record) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.append(rec); err != nil {
		o.logger.Warn("Failed to append auto-reply record", "lead_id", rec.LeadID, "error", err)
	}
}

func (o *Outbox) append(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	if dir := filepath.Dir(o.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			o.logger.Warn("Failed to close log file", "error", closeErr)
		}
	}()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
