package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// auditLog is the only filesystem output of a run: an append-only NDJSON
// log of phase transitions and terminal outcomes under <project>/logs/.
type auditLog struct {
	mu   sync.Mutex
	file *os.File
}

type auditEntry struct {
	Time    time.Time `json:"time"`
	TraceID string    `json:"trace_id"`
	Phase   string    `json:"phase"`
	Message string    `json:"message"`
}

// openAuditLog creates <projectDir>/logs/audit.log if needed. A nil return
// with error means auditing is disabled for the run, never a fatal failure.
func openAuditLog(projectDir string) (*auditLog, error) {
	dir := filepath.Join(projectDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "audit.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &auditLog{file: f}, nil
}

func (a *auditLog) record(traceID, phase, message string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, err := json.Marshal(auditEntry{
		Time:    time.Now().UTC(),
		TraceID: traceID,
		Phase:   phase,
		Message: message,
	})
	if err != nil {
		return
	}
	a.file.Write(append(entry, '\n'))
}

func (a *auditLog) close() {
	if a == nil {
		return
	}
	a.file.Close()
}
