package tools

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/internal/dataflows"
)

// Standard tool names.
const (
	MarketData       = "get_stock_market_data_unified"
	News             = "get_stock_news_unified"
	Fundamentals     = "get_stock_fundamentals_unified"
	SocialSentiment  = "get_social_sentiment_unified"
	RealtimeNews     = "get_realtime_stock_news"
	StockIndicators  = "get_stock_indicator_window"
	defaultLookBack  = 7
	defaultRealtimeH = 6
)

// DataProvider is the subset of the data layer the tools call.
type DataProvider interface {
	MarketData(ctx context.Context, symbol string, start, end time.Time) (string, error)
	Indicator(ctx context.Context, symbol, name string, date time.Time, lookBack int) (string, error)
	GetCompanyNews(ctx context.Context, symbol string, start, end time.Time) (*dataflows.TextResult, error)
	GetFundamentals(ctx context.Context, symbol string, asOf time.Time) (*dataflows.TextResult, error)
	GetSocialSentiment(ctx context.Context, symbol string, date time.Time) (*dataflows.TextResult, error)
	GetRealtimeNews(ctx context.Context, symbol string, hours int) (*dataflows.TextResult, error)
}

type MarketDataInput struct {
	Ticker    string `json:"ticker" validate:"required,max=10"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type IndicatorInput struct {
	Ticker       string `json:"ticker" validate:"required,max=10"`
	Indicator    string `json:"indicator" validate:"required"`
	CurrDate     string `json:"curr_date" validate:"required,datetime=2006-01-02"`
	LookBackDays int    `json:"look_back_days" validate:"omitempty,min=1,max=365"`
}

type NewsInput struct {
	Ticker       string `json:"ticker" validate:"required,max=10"`
	CurrDate     string `json:"curr_date" validate:"required,datetime=2006-01-02"`
	LookBackDays int    `json:"look_back_days" validate:"omitempty,min=1,max=30"`
}

type DatedInput struct {
	Ticker   string `json:"ticker" validate:"required,max=10"`
	CurrDate string `json:"curr_date" validate:"required,datetime=2006-01-02"`
}

type RealtimeInput struct {
	Ticker string `json:"ticker" validate:"required,max=10"`
	Hours  int    `json:"hours" validate:"omitempty,min=1,max=72"`
}

func date(s string) time.Time {
	t, _ := dataflows.ParseDate(s)
	return t
}

func textOf(res *dataflows.TextResult) string {
	if res.Stale {
		return res.Text + "\n\nNote: remote source unavailable; data served from an expired cache copy."
	}
	return res.Text
}

var (
	tickerParam = &schema.ParameterInfo{Type: schema.String, Desc: "Ticker symbol of the company, e.g. AAPL", Required: true}
	currParam   = &schema.ParameterInfo{Type: schema.String, Desc: "The current trading date, yyyy-mm-dd", Required: true}
)

// RegisterStandard adds the data tools backed by dp.
func RegisterStandard(r *Registry, dp DataProvider) {
	r.Register(&Tool{
		Info: &schema.ToolInfo{
			Name: MarketData,
			Desc: "Daily OHLCV prices for a U.S. stock in a date range plus a technical summary (moving averages, MACD, RSI, Bollinger Bands, ATR, VWMA).",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"ticker":     tickerParam,
				"start_date": {Type: schema.String, Desc: "Start date, yyyy-mm-dd", Required: true},
				"end_date":   {Type: schema.String, Desc: "End date, yyyy-mm-dd", Required: true},
			}),
		},
		AllowedFor: []string{consts.MarketAnalyst},
		Handler: Typed(func(ctx context.Context, in MarketDataInput) (string, error) {
			return dp.MarketData(ctx, in.Ticker, date(in.StartDate), date(in.EndDate))
		}),
	})

	indicators := strings.Join(dataflows.IndicatorNames(), ", ")
	r.Register(&Tool{
		Info: &schema.ToolInfo{
			Name: StockIndicators,
			Desc: "Values of one technical indicator over a look-back window. Supported: " + indicators + ".",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"ticker":         tickerParam,
				"indicator":      {Type: schema.String, Desc: "Indicator name", Required: true},
				"curr_date":      currParam,
				"look_back_days": {Type: schema.Integer, Desc: "How many days to look back, default 30"},
			}),
		},
		AllowedFor: []string{consts.MarketAnalyst},
		Handler: Typed(func(ctx context.Context, in IndicatorInput) (string, error) {
			if in.LookBackDays == 0 {
				in.LookBackDays = 30
			}
			return dp.Indicator(ctx, in.Ticker, in.Indicator, date(in.CurrDate), in.LookBackDays)
		}),
	})

	r.Register(&Tool{
		Info: &schema.ToolInfo{
			Name: News,
			Desc: "Company news headlines and summaries for the days before the current date.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"ticker":         tickerParam,
				"curr_date":      currParam,
				"look_back_days": {Type: schema.Integer, Desc: "How many days to look back, default 7"},
			}),
		},
		AllowedFor: []string{consts.NewsAnalyst, consts.SocialMediaAnalyst},
		Handler: Typed(func(ctx context.Context, in NewsInput) (string, error) {
			if in.LookBackDays == 0 {
				in.LookBackDays = defaultLookBack
			}
			end := date(in.CurrDate)
			res, err := dp.GetCompanyNews(ctx, in.Ticker, end.AddDate(0, 0, -in.LookBackDays), end)
			if err != nil {
				return "", err
			}
			return textOf(res), nil
		}),
	})

	r.Register(&Tool{
		Info: &schema.ToolInfo{
			Name: Fundamentals,
			Desc: "Company profile, valuation ratios, profitability and balance sheet metrics as of the current date.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"ticker":    tickerParam,
				"curr_date": currParam,
			}),
		},
		AllowedFor: []string{consts.FundamentalsAnalyst},
		Handler: Typed(func(ctx context.Context, in DatedInput) (string, error) {
			res, err := dp.GetFundamentals(ctx, in.Ticker, date(in.CurrDate))
			if err != nil {
				return "", err
			}
			return textOf(res), nil
		}),
	})

	r.Register(&Tool{
		Info: &schema.ToolInfo{
			Name: SocialSentiment,
			Desc: "Social media mentions and insider sentiment for the week before the current date.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"ticker":    tickerParam,
				"curr_date": currParam,
			}),
		},
		AllowedFor: []string{consts.SocialMediaAnalyst},
		Handler: Typed(func(ctx context.Context, in DatedInput) (string, error) {
			res, err := dp.GetSocialSentiment(ctx, in.Ticker, date(in.CurrDate))
			if err != nil {
				return "", err
			}
			return textOf(res), nil
		}),
	})

	r.Register(&Tool{
		Info: &schema.ToolInfo{
			Name: RealtimeNews,
			Desc: "The freshest headlines about the stock published within the last few hours.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"ticker": tickerParam,
				"hours":  {Type: schema.Integer, Desc: "Look-back window in hours, default 6"},
			}),
		},
		AllowedFor: []string{consts.NewsAnalyst},
		Handler: Typed(func(ctx context.Context, in RealtimeInput) (string, error) {
			if in.Hours == 0 {
				in.Hours = defaultRealtimeH
			}
			res, err := dp.GetRealtimeNews(ctx, in.Ticker, in.Hours)
			if err != nil {
				return "", err
			}
			return textOf(res), nil
		}),
	})
}
