package models

import "time"

// ReportBundle is the persisted output of a successful run.
type ReportBundle struct {
	RunID          string            `json:"run_id" bson:"run_id"`
	Ticker         string            `json:"ticker" bson:"ticker"`
	AnalysisDate   string            `json:"analysis_date" bson:"analysis_date"`
	Request        AnalysisRequest   `json:"request" bson:"request"`
	Decision       *Decision         `json:"decision" bson:"decision"`
	Reports        map[string]string `json:"-" bson:"reports"`
	RiskAssessment string            `json:"risk_assessment,omitempty" bson:"risk_assessment,omitempty"`
	Timings        []NodeTiming      `json:"timings" bson:"timings"`
	Usage          UsageTotals       `json:"usage" bson:"usage"`
	Cost           float64           `json:"cost" bson:"cost"`
	CreatedAt      time.Time         `json:"created_at" bson:"created_at"`
	CompletedAt    time.Time         `json:"completed_at" bson:"completed_at"`
	ToolLog        []ToolAudit       `json:"-" bson:"-"`
}
