package consts

// Graph node keys. Analyst and debater keys double as role ids.
const (
	Validate = "validate"
	PreWarm  = "prewarm_cache"
	Analysts = "analysts"

	MarketAnalyst       = "market_analyst"
	SocialMediaAnalyst  = "social_media_analyst"
	NewsAnalyst         = "news_analyst"
	FundamentalsAnalyst = "fundamentals_analyst"

	BullResearcher  = "bull_researcher"
	BearResearcher  = "bear_researcher"
	ResearchManager = "research_manager"

	Trader = "trader"

	RiskyAnalyst     = "risky_analyst"
	SafeAnalyst      = "safe_analyst"
	NeutralAnalyst   = "neutral_analyst"
	PortfolioManager = "portfolio_manager"

	Decision = "decision"
	Persist  = "persist"
)

// Analyst short names accepted in requests.
const (
	AnalystMarket       = "market"
	AnalystSocial       = "social"
	AnalystNews         = "news"
	AnalystFundamentals = "fundamentals"
)

// AnalystOrder is the fixed scheduling order of analyst roles.
var AnalystOrder = []string{AnalystMarket, AnalystSocial, AnalystNews, AnalystFundamentals}
