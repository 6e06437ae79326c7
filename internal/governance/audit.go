package governance

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Audit event types.
const (
	EventRunInitialized   = "RUN_INITIALIZED"
	EventStateTransition  = "STATE_TRANSITION"
	EventSnapshotVerified = "SNAPSHOT_VERIFIED"
	EventArtifactBound    = "ARTIFACT_BOUND"
	EventRunComplete      = "RUN_COMPLETE"
	EventFailed           = "FAILED"
	EventReset            = "RESET"
)

// AuditRecord is one JSON line in the audit log.
type AuditRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	From      string         `json:"from,omitempty"`
	To        string         `json:"to,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// AuditLog is an append-only JSON-lines log. Timestamps are UTC and
// non-decreasing within one log; a clock stepping backwards is clamped to
// the last written timestamp.
type AuditLog struct {
	path string
	last time.Time
	now  func() time.Time
}

// NewAuditLog opens (or creates) the audit log at dir/audit.log.
func NewAuditLog(dir string) (*AuditLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindStateCorruption, dir, "cannot create audit dir", err)
	}

	log := &AuditLog{
		path: filepath.Join(dir, "audit.log"),
		last: time.Time{},
		now:  func() time.Time { return time.Now().UTC() },
	}

	// Recover the last timestamp so appends stay monotonic across restarts.
	records, err := log.Read()
	if err != nil {
		return nil, err
	}

	if len(records) > 0 {
		log.last = records[len(records)-1].Timestamp
	}

	return log, nil
}

// Append writes one record. Failures surface as errors; the log is never
// partially written because each record is a single buffered line.
func (a *AuditLog) Append(event, from, to string, payload map[string]any) error {
	ts := a.now()
	if ts.Before(a.last) {
		ts = a.last
	}

	record := AuditRecord{
		Timestamp: ts,
		Event:     event,
		From:      from,
		To:        to,
		Payload:   payload,
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(errors.KindStateCorruption, a.path, "cannot render audit record", err)
	}

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(errors.KindStateCorruption, a.path, "cannot open audit log", err)
	}
	defer f.Close()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		return errors.Wrap(errors.KindStateCorruption, a.path, "cannot append audit record", err)
	}

	a.last = ts

	return nil
}

// Event appends a checkpoint record without state fields.
func (a *AuditLog) Event(event string, payload map[string]any) error {
	return a.Append(event, "", "", payload)
}

// Transition appends a STATE_TRANSITION record. Errors are swallowed by
// design at call sites inside the machine; the transition itself has already
// been persisted.
func (a *AuditLog) Transition(from, to string) {
	_ = a.Append(EventStateTransition, from, to, nil)
}

// Read returns all records in file order.
func (a *AuditLog) Read() ([]AuditRecord, error) {
	f, err := os.Open(a.path)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrap(errors.KindStateCorruption, a.path, "cannot open audit log", err)
	}
	defer f.Close()

	var records []AuditRecord

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record AuditRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, errors.Wrap(errors.KindStateCorruption, a.path, "corrupt audit line", err)
		}

		records = append(records, record)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(errors.KindStateCorruption, a.path, "cannot scan audit log", err)
	}

	return records, nil
}
