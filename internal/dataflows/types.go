package dataflows

import (
	"context"
	"time"

	"github.com/dyike/TradingAgentsGo/models"
)

// NewsArticle represents a news article
type NewsArticle struct {
	Headline  string    `json:"headline"`
	Summary   string    `json:"summary"`
	Source    string    `json:"source"`
	URL       string    `json:"url"`
	Published time.Time `json:"published"`
}

// SocialPost is one social media mention of a ticker.
type SocialPost struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Community string    `json:"community"`
	Score     int       `json:"score"`
	Comments  int       `json:"comments"`
	URL       string    `json:"url"`
	Created   time.Time `json:"created"`
}

// BarsSource returns daily OHLCV bars.
type BarsSource interface {
	Name() string
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error)
}

// QuoteSource returns profiles and snapshot quotes.
type QuoteSource interface {
	Name() string
	Info(ctx context.Context, symbol string) (*models.StockInfo, error)
	Quotes(ctx context.Context, symbols []string) ([]models.StockInfo, error)
}

// NewsSource returns company news in a date range.
type NewsSource interface {
	Name() string
	CompanyNews(ctx context.Context, symbol string, start, end time.Time) ([]NewsArticle, error)
}

// FundamentalsSource renders a fundamentals section as text.
type FundamentalsSource interface {
	Name() string
	Fundamentals(ctx context.Context, symbol string, asOf time.Time) (string, error)
}

// SentimentSource renders a sentiment section as text.
type SentimentSource interface {
	Name() string
	Sentiment(ctx context.Context, symbol string, date time.Time) (string, error)
}

// RealtimeNewsSource returns the latest headlines since a point in time.
type RealtimeNewsSource interface {
	Name() string
	LatestNews(ctx context.Context, symbol string, since time.Time) ([]NewsArticle, error)
}

// BarsResult is a tabular DAL answer.
type BarsResult struct {
	Symbol string       `json:"symbol"`
	Bars   []models.Bar `json:"bars"`
	Source string       `json:"source"`
	Stale  bool         `json:"stale"`
}

// TextResult is a text DAL answer.
type TextResult struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Stale  bool   `json:"stale"`
}
