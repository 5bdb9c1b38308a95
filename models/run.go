package models

import (
	"time"

	"github.com/dyike/TradingAgentsGo/pkg/errors"
)

// Progress event types.
const (
	EventProgress  = "progress"
	EventHeartbeat = "heartbeat"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
	EventTimeout   = "timeout"
)

// ProgressEvent is one element of a run's progress stream.
type ProgressEvent struct {
	Type    string              `json:"type"`
	Seq     int                 `json:"seq"`
	Node    string              `json:"node,omitempty"`
	Message string              `json:"message,omitempty"`
	Time    time.Time           `json:"time"`
	Result  *AnalysisResult     `json:"result,omitempty"`
	Error   *errors.DomainError `json:"error,omitempty"`
}

// Terminal reports whether the event ends a stream.
func (e ProgressEvent) Terminal() bool {
	switch e.Type {
	case EventCompleted, EventFailed, EventCancelled, EventTimeout:
		return true
	}
	return false
}

// AnalysisResult is the outcome of a completed run.
type AnalysisResult struct {
	Decision       *Decision         `json:"decision"`
	Reports        map[string]string `json:"reports"`
	RiskAssessment string            `json:"risk_assessment,omitempty"`
	ResultsDir     string            `json:"results_dir,omitempty"`
}

// SubmitResponse is returned on an accepted submission.
type SubmitResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// RunView is an AnalysisRun without internal fields.
type RunView struct {
	RunID      string              `json:"run_id"`
	Request    AnalysisRequest     `json:"request"`
	Status     string              `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Progress   []string            `json:"progress"`
	Usage      UsageTotals         `json:"usage"`
	Result     *AnalysisResult     `json:"result,omitempty"`
	Error      *errors.DomainError `json:"error,omitempty"`
}

// NodeTiming records the wall time of one graph node.
type NodeTiming struct {
	Node       string    `json:"node" bson:"node"`
	StartedAt  time.Time `json:"started_at" bson:"started_at"`
	DurationMS int64     `json:"duration_ms" bson:"duration_ms"`
}
