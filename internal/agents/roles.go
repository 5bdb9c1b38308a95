package agents

import (
	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/internal/tools"
)

type Kind int

const (
	KindAnalyst Kind = iota
	KindDebater
	KindTrader
	KindJudge
)

func (k Kind) String() string {
	switch k {
	case KindAnalyst:
		return "analyst"
	case KindDebater:
		return "debater"
	case KindTrader:
		return "trader"
	case KindJudge:
		return "judge"
	}
	return "unknown"
}

// Role describes one agent: its prompt, the tools it may call and the
// state slot it writes.
type Role struct {
	ID     string
	Name   string
	Prompt string
	Tools  []string
	Slot   string
	Kind   Kind
}

// Judge reports whether a failure of this role must fail the run.
func (r Role) Judge() bool { return r.Kind == KindJudge }

var roleTable = []Role{
	{
		ID: consts.MarketAnalyst, Name: consts.Agent_MarketAnalyst, Prompt: "market_analyst",
		Tools: []string{tools.MarketData, tools.StockIndicators},
		Slot:  consts.Slot_MarketReport, Kind: KindAnalyst,
	},
	{
		ID: consts.SocialMediaAnalyst, Name: consts.Agent_SocialAnalyst, Prompt: "social_media_analyst",
		Tools: []string{tools.SocialSentiment, tools.News},
		Slot:  consts.Slot_SentimentReport, Kind: KindAnalyst,
	},
	{
		ID: consts.NewsAnalyst, Name: consts.Agent_NewsAnalyst, Prompt: "news_analyst",
		Tools: []string{tools.News, tools.RealtimeNews},
		Slot:  consts.Slot_NewsReport, Kind: KindAnalyst,
	},
	{
		ID: consts.FundamentalsAnalyst, Name: consts.Agent_FundamentalsAnalyst, Prompt: "fundamentals_analyst",
		Tools: []string{tools.Fundamentals},
		Slot:  consts.Slot_FundamentalsReport, Kind: KindAnalyst,
	},
	{ID: consts.BullResearcher, Name: consts.Agent_BullResearcher, Prompt: "bull_researcher", Kind: KindDebater},
	{ID: consts.BearResearcher, Name: consts.Agent_BearResearcher, Prompt: "bear_researcher", Kind: KindDebater},
	{
		ID: consts.ResearchManager, Name: consts.Agent_ResearchManager, Prompt: "research_manager",
		Slot: consts.Slot_InvestmentPlan, Kind: KindJudge,
	},
	{
		ID: consts.Trader, Name: consts.Agent_Trader, Prompt: "trader",
		Slot: consts.Slot_TraderInvestmentPlan, Kind: KindTrader,
	},
	{ID: consts.RiskyAnalyst, Name: consts.Agent_RiskyAnalyst, Prompt: "risky_analyst", Kind: KindDebater},
	{ID: consts.SafeAnalyst, Name: consts.Agent_SafeAnalyst, Prompt: "safe_analyst", Kind: KindDebater},
	{ID: consts.NeutralAnalyst, Name: consts.Agent_NeutralAnalyst, Prompt: "neutral_analyst", Kind: KindDebater},
	{
		ID: consts.PortfolioManager, Name: consts.Agent_PortfolioManager, Prompt: "portfolio_manager",
		Slot: consts.Slot_RiskManagementDecision, Kind: KindJudge,
	},
}

var rolesByID = func() map[string]Role {
	m := make(map[string]Role, len(roleTable))
	for _, r := range roleTable {
		m[r.ID] = r
	}
	return m
}()

// Roles returns every role in pipeline order.
func Roles() []Role {
	return append([]Role(nil), roleTable...)
}

func Lookup(id string) (Role, bool) {
	r, ok := rolesByID[id]
	return r, ok
}

// AnalystRoleID maps a request analyst name to its role id.
func AnalystRoleID(analyst string) string {
	switch analyst {
	case consts.AnalystMarket:
		return consts.MarketAnalyst
	case consts.AnalystSocial:
		return consts.SocialMediaAnalyst
	case consts.AnalystNews:
		return consts.NewsAnalyst
	case consts.AnalystFundamentals:
		return consts.FundamentalsAnalyst
	}
	return ""
}
