package agents

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dyike/TradingAgentsGo/models"
)

const (
	DefaultConfidence = 0.5
	DefaultRiskScore  = 0.3
)

// Decide derives the final decision from the two judges and the trader:
// the action is BUY or SELL only when both judges agree on it, otherwise
// HOLD. Confidence is the mean of the judges' confidences and the risk
// score comes from the portfolio manager.
func Decide(st *models.AnalysisState, sessionID string) (*models.Decision, string) {
	research := ParseVerdict(st.InvestmentDebateState.JudgeDecision)
	portfolio := ParseVerdict(st.RiskDebateState.JudgeDecision)

	action := models.ActionHold
	if research.Recommendation == portfolio.Recommendation &&
		(research.Recommendation == models.ActionBuy || research.Recommendation == models.ActionSell) {
		action = research.Recommendation
	}

	conf := decimal.NewFromFloat(orDefault(research.Confidence, DefaultConfidence)).
		Add(decimal.NewFromFloat(orDefault(portfolio.Confidence, DefaultConfidence))).
		Div(decimal.NewFromInt(2)).Round(4).InexactFloat64()
	risk := orDefault(portfolio.RiskScore, DefaultRiskScore)

	var target *float64
	if !strings.HasPrefix(st.TraderInvestmentPlan, "[") {
		target = ParseTargetPrice(st.TraderInvestmentPlan)
	}

	d := &models.Decision{
		Action:      action,
		Confidence:  conf,
		RiskScore:   risk,
		TargetPrice: target,
		Reasoning:   strings.TrimSpace(st.RiskDebateState.JudgeDecision),
		SessionID:   sessionID,
	}
	return d, renderDecision(st, d, research, portfolio)
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func labelOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func renderDecision(st *models.AnalysisState, d *models.Decision, research, portfolio models.JudgeVerdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Final Trade Decision for %s (%s)\n\n", st.Ticker, st.TradeDate)
	fmt.Fprintf(&b, "**Action: %s**\n\n", d.Action)
	fmt.Fprintf(&b, "- Confidence: %.2f\n", d.Confidence)
	fmt.Fprintf(&b, "- Risk score: %.2f\n", d.RiskScore)
	if d.TargetPrice != nil {
		fmt.Fprintf(&b, "- Target price: $%.2f\n", *d.TargetPrice)
	} else {
		b.WriteString("- Target price: not stated\n")
	}
	fmt.Fprintf(&b, "- Research manager: %s\n", labelOr(research.Recommendation, "no clear recommendation"))
	fmt.Fprintf(&b, "- Portfolio manager: %s\n", labelOr(portfolio.Recommendation, "no clear recommendation"))
	fmt.Fprintf(&b, "- Trader proposal: %s\n", labelOr(ParseProposal(st.TraderInvestmentPlan), "none"))
	if d.Action == models.ActionHold && research.Recommendation != portfolio.Recommendation {
		b.WriteString("\nThe judges did not agree on a directional trade, so the position is held.\n")
	}
	b.WriteString("\n## Portfolio Manager Rationale\n\n")
	b.WriteString(slotText(d.Reasoning))
	b.WriteString("\n")
	return b.String()
}

// RiskAssessment is the derived risk view of a finished run.
func RiskAssessment(st *models.AnalysisState, d *models.Decision) string {
	level := "low"
	switch {
	case d.RiskScore >= 0.7:
		level = "high"
	case d.RiskScore >= 0.4:
		level = "medium"
	}
	r := st.RiskDebateState
	var b strings.Builder
	fmt.Fprintf(&b, "# Risk Assessment for %s\n\n", st.Ticker)
	fmt.Fprintf(&b, "Risk score %.2f (%s). Recommended action: %s.\n\n", d.RiskScore, level, d.Action)
	fmt.Fprintf(&b, "Debate turns: %d\n\n", r.Count)
	b.WriteString("## Aggressive view\n\n" + slotText(r.CurrentRiskyResponse) + "\n\n")
	b.WriteString("## Conservative view\n\n" + slotText(r.CurrentSafeResponse) + "\n\n")
	b.WriteString("## Neutral view\n\n" + slotText(r.CurrentNeutralResponse) + "\n")
	return b.String()
}
