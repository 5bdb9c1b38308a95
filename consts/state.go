package consts

const (
	// Analyst Team
	Agent_MarketAnalyst       = "Market Analyst"
	Agent_SocialAnalyst       = "Social Analyst"
	Agent_NewsAnalyst         = "News Analyst"
	Agent_FundamentalsAnalyst = "Fundamentals Analyst"
	// Research Team
	Agent_BullResearcher  = "Bull Analyst"
	Agent_BearResearcher  = "Bear Analyst"
	Agent_ResearchManager = "Research Manager"
	// Trading Team
	Agent_Trader = "Trader"
	// Risk Management Team
	Agent_RiskyAnalyst   = "Risky Analyst"
	Agent_NeutralAnalyst = "Neutral Analyst"
	Agent_SafeAnalyst    = "Safe Analyst"
	// Portfolio Management Team
	Agent_PortfolioManager = "Portfolio Manager"
)

// Run statuses.
const (
	State_Pending   = "pending"
	State_Running   = "running"
	State_Completed = "completed"
	State_Failed    = "failed"
	State_Cancelled = "cancelled"
)

// Report slot names, used as file stems and durable-store keys.
const (
	Slot_MarketReport           = "market_report"
	Slot_FundamentalsReport     = "fundamentals_report"
	Slot_NewsReport             = "news_report"
	Slot_SentimentReport        = "sentiment_report"
	Slot_InvestmentPlan         = "investment_plan"
	Slot_TraderInvestmentPlan   = "trader_investment_plan"
	Slot_ResearchTeamDecision   = "research_team_decision"
	Slot_RiskManagementDecision = "risk_management_decision"
	Slot_FinalTradeDecision     = "final_trade_decision"
)

// ReportFiles lists slots in the order they are written to disk.
var ReportFiles = []string{
	Slot_MarketReport,
	Slot_FundamentalsReport,
	Slot_NewsReport,
	Slot_SentimentReport,
	Slot_InvestmentPlan,
	Slot_TraderInvestmentPlan,
	Slot_ResearchTeamDecision,
	Slot_RiskManagementDecision,
	Slot_FinalTradeDecision,
}

// Cache categories.
const (
	Category_Bars         = "bars"
	Category_News         = "news"
	Category_Fundamentals = "fundamentals"
	Category_Sentiment    = "sentiment"
	Category_Indices      = "indices"
)

// Placeholder and marker prefixes written into report slots.
const (
	UnavailablePrefix = "[unavailable: "
	SkippedPrefix     = "[skipped: "
)
