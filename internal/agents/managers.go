package agents

import (
	"context"

	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/models"
)

// ResearchManager judges the bull/bear debate and returns the investment plan.
func (r *Runtime) ResearchManager(ctx context.Context, st *models.AnalysisState) (string, error) {
	role, _ := Lookup(consts.ResearchManager)
	vars := promptVars(st)
	vars["history"] = st.InvestmentDebateState.History
	return r.converse(ctx, role, vars, "Evaluate the debate and give your investment plan.")
}

// Trader turns the investment plan into a concrete transaction proposal.
func (r *Runtime) Trader(ctx context.Context, st *models.AnalysisState) (string, error) {
	role, _ := Lookup(consts.Trader)
	return r.converse(ctx, role, promptVars(st), "Give your trading decision for {{.ticker}}.")
}

// PortfolioManager judges the risk debate.
func (r *Runtime) PortfolioManager(ctx context.Context, st *models.AnalysisState) (string, error) {
	role, _ := Lookup(consts.PortfolioManager)
	vars := promptVars(st)
	vars["history"] = st.RiskDebateState.History
	return r.converse(ctx, role, vars, "Evaluate the risk debate and give your final recommendation.")
}
