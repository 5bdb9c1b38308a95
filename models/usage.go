package models

import "time"

// TokenUsage is the cost record of one LLM call.
type TokenUsage struct {
	Provider     string    `json:"provider" bson:"provider"`
	Model        string    `json:"model" bson:"model"`
	InputTokens  int       `json:"input_tokens" bson:"input_tokens"`
	OutputTokens int       `json:"output_tokens" bson:"output_tokens"`
	Cost         float64   `json:"cost" bson:"cost"`
	RunID        string    `json:"run_id" bson:"run_id"`
	Role         string    `json:"role" bson:"role"`
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
	Estimated    bool      `json:"estimated,omitempty" bson:"estimated,omitempty"`
	Failed       bool      `json:"failed,omitempty" bson:"failed,omitempty"`
}

// UsageTotals summarizes a run's usage records.
type UsageTotals struct {
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// ToolAudit is one line of message_tool.log.
type ToolAudit struct {
	Time     time.Time `json:"time"`
	RunID    string    `json:"run_id"`
	Role     string    `json:"role"`
	Tool     string    `json:"tool"`
	Args     string    `json:"args"`
	Status   string    `json:"status"`
	Chars    int       `json:"chars"`
	Duration int64     `json:"duration_ms"`
	Error    string    `json:"error,omitempty"`
}
