package models

import (
	"fmt"
	"strings"

	"github.com/dyike/TradingAgentsGo/consts"
)

// InvestDebateState represents the investment debate state
type InvestDebateState struct {
	BullHistory     string `json:"bull_history"`     // Bullish conversation history
	BearHistory     string `json:"bear_history"`     // Bearish conversation history
	History         string `json:"history"`          // Conversation history
	CurrentResponse string `json:"current_response"` // Latest response
	JudgeDecision   string `json:"judge_decision"`   // Final judge decision
	Count           int    `json:"count"`            // Length of current conversation
}

// RiskDebateState represents the risk management team debate state
type RiskDebateState struct {
	RiskyHistory           string `json:"risky_history"`            // Risky Agent's conversation history
	SafeHistory            string `json:"safe_history"`             // Safe Agent's conversation history
	NeutralHistory         string `json:"neutral_history"`          // Neutral Agent's conversation history
	History                string `json:"history"`                  // Overall conversation history
	LatestSpeaker          string `json:"latest_speaker"`           // Analyst that spoke last
	CurrentRiskyResponse   string `json:"current_risky_response"`   // Latest response by risky analyst
	CurrentSafeResponse    string `json:"current_safe_response"`    // Latest response by safe analyst
	CurrentNeutralResponse string `json:"current_neutral_response"` // Latest response by neutral analyst
	JudgeDecision          string `json:"judge_decision"`           // Judge's decision
	Count                  int    `json:"count"`                    // Length of current conversation
}

// AnalysisState is the working memory of one graph execution. Every report
// slot is written by exactly one node.
type AnalysisState struct {
	RunID     string          `json:"run_id"`
	Request   AnalysisRequest `json:"request"`
	Ticker    string          `json:"company_of_interest"`
	TradeDate string          `json:"trade_date"`

	MarketReport       string `json:"market_report"`
	FundamentalsReport string `json:"fundamentals_report"`
	NewsReport         string `json:"news_report"`
	SentimentReport    string `json:"sentiment_report"`

	InvestmentDebateState *InvestDebateState `json:"investment_debate_state"`
	InvestmentPlan        string             `json:"investment_plan"`
	TraderInvestmentPlan  string             `json:"trader_investment_plan"`
	RiskDebateState       *RiskDebateState   `json:"risk_debate_state"`

	FinalTradeDecision string    `json:"final_trade_decision"`
	RiskAssessment     string    `json:"risk_assessment,omitempty"`
	Decision           *Decision `json:"decision,omitempty"`

	// Goto is the node currently executing.
	Goto string `json:"goto"`
}

func NewAnalysisState(runID string, req AnalysisRequest) *AnalysisState {
	return &AnalysisState{
		RunID:                 runID,
		Request:               req,
		Ticker:                req.Ticker,
		TradeDate:             req.AnalysisDate,
		InvestmentDebateState: &InvestDebateState{},
		RiskDebateState:       &RiskDebateState{},
		Goto:                  consts.Validate,
	}
}

// AnalystSlot returns the slot name written by an analyst.
func AnalystSlot(analyst string) string {
	switch analyst {
	case consts.AnalystMarket:
		return consts.Slot_MarketReport
	case consts.AnalystSocial:
		return consts.Slot_SentimentReport
	case consts.AnalystNews:
		return consts.Slot_NewsReport
	case consts.AnalystFundamentals:
		return consts.Slot_FundamentalsReport
	}
	return ""
}

// AnalystReport returns the report written by an analyst.
func (s *AnalysisState) AnalystReport(analyst string) string {
	switch analyst {
	case consts.AnalystMarket:
		return s.MarketReport
	case consts.AnalystSocial:
		return s.SentimentReport
	case consts.AnalystNews:
		return s.NewsReport
	case consts.AnalystFundamentals:
		return s.FundamentalsReport
	}
	return ""
}

// SetAnalystReport writes an analyst slot. A second write to the same slot is
// an error.
func (s *AnalysisState) SetAnalystReport(analyst, text string) error {
	var slot *string
	switch analyst {
	case consts.AnalystMarket:
		slot = &s.MarketReport
	case consts.AnalystSocial:
		slot = &s.SentimentReport
	case consts.AnalystNews:
		slot = &s.NewsReport
	case consts.AnalystFundamentals:
		slot = &s.FundamentalsReport
	default:
		return fmt.Errorf("unknown analyst %q", analyst)
	}
	if *slot != "" {
		return fmt.Errorf("slot %s already written", AnalystSlot(analyst))
	}
	*slot = text
	return nil
}

// SkippedPlaceholder is the one-line text stored for analysts not requested.
func SkippedPlaceholder(analyst string) string {
	return consts.SkippedPrefix + analyst + " analyst not requested]"
}

// UnavailableMarker is the slot text stored when a role fails.
func UnavailableMarker(reason string) string {
	return consts.UnavailablePrefix + reason + "]"
}

// IsPlaceholder reports whether a slot holds the skip placeholder.
func IsPlaceholder(text string) bool {
	return strings.HasPrefix(text, consts.SkippedPrefix)
}

// ResearchTeamDecision renders the investment debate for persistence.
func (s *AnalysisState) ResearchTeamDecision() string {
	d := s.InvestmentDebateState
	if d == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Research Team Decision\n\n")
	b.WriteString("## Bull Researcher\n\n")
	b.WriteString(strings.TrimSpace(d.BullHistory))
	b.WriteString("\n\n## Bear Researcher\n\n")
	b.WriteString(strings.TrimSpace(d.BearHistory))
	b.WriteString("\n\n## Research Manager\n\n")
	b.WriteString(strings.TrimSpace(d.JudgeDecision))
	b.WriteString("\n")
	return b.String()
}

// RiskManagementDecision renders the risk debate for persistence.
func (s *AnalysisState) RiskManagementDecision() string {
	d := s.RiskDebateState
	if d == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Risk Management Decision\n\n")
	b.WriteString("## Risky Analyst\n\n")
	b.WriteString(strings.TrimSpace(d.RiskyHistory))
	b.WriteString("\n\n## Safe Analyst\n\n")
	b.WriteString(strings.TrimSpace(d.SafeHistory))
	b.WriteString("\n\n## Neutral Analyst\n\n")
	b.WriteString(strings.TrimSpace(d.NeutralHistory))
	b.WriteString("\n\n## Portfolio Manager\n\n")
	b.WriteString(strings.TrimSpace(d.JudgeDecision))
	b.WriteString("\n")
	return b.String()
}

// Reports returns every report slot that carries content worth persisting.
// Skip placeholders are left out.
func (s *AnalysisState) Reports() map[string]string {
	all := map[string]string{
		consts.Slot_MarketReport:           s.MarketReport,
		consts.Slot_FundamentalsReport:     s.FundamentalsReport,
		consts.Slot_NewsReport:             s.NewsReport,
		consts.Slot_SentimentReport:        s.SentimentReport,
		consts.Slot_InvestmentPlan:         s.InvestmentPlan,
		consts.Slot_TraderInvestmentPlan:   s.TraderInvestmentPlan,
		consts.Slot_ResearchTeamDecision:   s.ResearchTeamDecision(),
		consts.Slot_RiskManagementDecision: s.RiskManagementDecision(),
		consts.Slot_FinalTradeDecision:     s.FinalTradeDecision,
	}
	out := make(map[string]string, len(all))
	for k, v := range all {
		if strings.TrimSpace(v) == "" || IsPlaceholder(v) {
			continue
		}
		out[k] = v
	}
	return out
}
