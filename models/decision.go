package models

const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Decision is the final recommendation of a run.
type Decision struct {
	Action      string   `json:"action" bson:"action"`
	Confidence  float64  `json:"confidence" bson:"confidence"`
	RiskScore   float64  `json:"risk_score" bson:"risk_score"`
	TargetPrice *float64 `json:"target_price,omitempty" bson:"target_price,omitempty"`
	Reasoning   string   `json:"reasoning" bson:"reasoning"`
	SessionID   string   `json:"session_id" bson:"session_id"`
}

// JudgeVerdict is what a judge role states at the end of its text.
type JudgeVerdict struct {
	Recommendation string   `json:"recommendation"`
	Confidence     *float64 `json:"confidence,omitempty"`
	RiskScore      *float64 `json:"risk_score,omitempty"`
}
