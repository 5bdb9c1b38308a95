package graph

import (
	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/models"
)

// ConditionalLogic manages debate and risk discussion cycles
type ConditionalLogic struct {
	MaxDebateRounds      int
	MaxRiskDiscussRounds int
}

// NewConditionalLogic derives the round limits from the request's research depth.
func NewConditionalLogic(req models.AnalysisRequest) *ConditionalLogic {
	return &ConditionalLogic{
		MaxDebateRounds:      req.MaxDebateRounds(),
		MaxRiskDiscussRounds: req.MaxRiskRounds(),
	}
}

// ShouldContinueDebate reports whether another bull or bear turn is due.
// One round is a bull turn followed by a bear turn.
func (cl *ConditionalLogic) ShouldContinueDebate(state *models.AnalysisState) bool {
	return state.InvestmentDebateState.Count < 2*cl.MaxDebateRounds
}

// ShouldContinueRiskDiscussion reports whether another risk turn is due.
// One round is a risky, a safe and a neutral turn.
func (cl *ConditionalLogic) ShouldContinueRiskDiscussion(state *models.AnalysisState) bool {
	return state.RiskDebateState.Count < 3*cl.MaxRiskDiscussRounds
}

// NextDebater picks the next node of the investment debate.
func (cl *ConditionalLogic) NextDebater(state *models.AnalysisState) string {
	if !cl.ShouldContinueDebate(state) {
		return consts.ResearchManager
	}
	if state.InvestmentDebateState.Count%2 == 0 {
		return consts.BullResearcher
	}
	return consts.BearResearcher
}

// NextRiskDebater picks the next node of the risk discussion.
func (cl *ConditionalLogic) NextRiskDebater(state *models.AnalysisState) string {
	if !cl.ShouldContinueRiskDiscussion(state) {
		return consts.PortfolioManager
	}
	switch state.RiskDebateState.LatestSpeaker {
	case consts.RiskyAnalyst:
		return consts.SafeAnalyst
	case consts.SafeAnalyst:
		return consts.NeutralAnalyst
	default:
		return consts.RiskyAnalyst
	}
}
