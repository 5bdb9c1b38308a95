package tools

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/dyike/TradingAgentsGo/models"
)

// AuditLog keeps tool invocations grouped by run.
type AuditLog struct {
	mu   sync.Mutex
	runs map[string][]models.ToolAudit
}

func NewAuditLog() *AuditLog {
	return &AuditLog{runs: make(map[string][]models.ToolAudit)}
}

func (a *AuditLog) Append(e models.ToolAudit) {
	a.mu.Lock()
	a.runs[e.RunID] = append(a.runs[e.RunID], e)
	a.mu.Unlock()
}

// Entries returns a copy of the run's records in call order.
func (a *AuditLog) Entries(runID string) []models.ToolAudit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.ToolAudit(nil), a.runs[runID]...)
}

func (a *AuditLog) Forget(runID string) {
	a.mu.Lock()
	delete(a.runs, runID)
	a.mu.Unlock()
}

// Render formats entries as JSON lines.
func Render(entries []models.ToolAudit) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, e := range entries {
		_ = enc.Encode(e)
	}
	return buf.Bytes()
}
