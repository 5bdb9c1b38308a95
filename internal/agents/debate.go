package agents

import (
	"context"
	"strings"

	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
)

const debateInstruction = "Present your argument for this round."

// Argue produces one debate turn for a bull, bear, risky, safe or neutral
// role. It does not modify st; use RecordArgument for that.
func (r *Runtime) Argue(ctx context.Context, roleID string, st *models.AnalysisState) (string, error) {
	role, ok := Lookup(roleID)
	if !ok || role.Kind != KindDebater {
		return "", terrors.Internal(nil, "%q is not a debate role", roleID)
	}
	vars := promptVars(st)
	switch roleID {
	case consts.BullResearcher, consts.BearResearcher:
		d := st.InvestmentDebateState
		vars["history"] = d.History
		vars["current_response"] = d.CurrentResponse
	default:
		d := st.RiskDebateState
		vars["history"] = d.History
		vars["current_risky_response"] = d.CurrentRiskyResponse
		vars["current_safe_response"] = d.CurrentSafeResponse
		vars["current_neutral_response"] = d.CurrentNeutralResponse
	}
	return r.converse(ctx, role, vars, debateInstruction)
}

// RecordArgument appends a debate turn to the matching history and advances
// the turn counter.
func RecordArgument(st *models.AnalysisState, roleID, text string) {
	role, _ := Lookup(roleID)
	labeled := role.Name + ": " + strings.TrimSpace(text)

	switch roleID {
	case consts.BullResearcher, consts.BearResearcher:
		d := st.InvestmentDebateState
		d.History = joinTurn(d.History, labeled)
		if roleID == consts.BullResearcher {
			d.BullHistory = joinTurn(d.BullHistory, labeled)
		} else {
			d.BearHistory = joinTurn(d.BearHistory, labeled)
		}
		d.CurrentResponse = labeled
		d.Count++
	case consts.RiskyAnalyst, consts.SafeAnalyst, consts.NeutralAnalyst:
		d := st.RiskDebateState
		d.History = joinTurn(d.History, labeled)
		switch roleID {
		case consts.RiskyAnalyst:
			d.RiskyHistory = joinTurn(d.RiskyHistory, labeled)
			d.CurrentRiskyResponse = labeled
		case consts.SafeAnalyst:
			d.SafeHistory = joinTurn(d.SafeHistory, labeled)
			d.CurrentSafeResponse = labeled
		case consts.NeutralAnalyst:
			d.NeutralHistory = joinTurn(d.NeutralHistory, labeled)
			d.CurrentNeutralResponse = labeled
		}
		d.LatestSpeaker = roleID
		d.Count++
	}
}

func joinTurn(history, turn string) string {
	if history == "" {
		return turn
	}
	return history + "\n\n" + turn
}
