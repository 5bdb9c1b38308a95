package dataflows

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubClient handles Finnhub API operations
type FinnhubClient struct {
	client  *resty.Client
	apiKey  string
	limiter *rate.Limiter
	retry   *RetryConfig
}

// NewFinnhubClient creates a new Finnhub client. The free tier allows 60
// calls per minute.
func NewFinnhubClient(apiKey string) *FinnhubClient {
	client := resty.New()
	client.SetBaseURL(finnhubBaseURL)
	client.SetTimeout(30 * time.Second)

	return &FinnhubClient{
		client:  client,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		retry:   DefaultRetryConfig(),
	}
}

// SetBaseURL points the client at another endpoint. Used by tests.
func (fc *FinnhubClient) SetBaseURL(u string) { fc.client.SetBaseURL(u) }

// SetRetry overrides the retry policy.
func (fc *FinnhubClient) SetRetry(cfg *RetryConfig) { fc.retry = cfg }

func (fc *FinnhubClient) Name() string { return "finnhub" }

// FinnhubNews represents news from Finnhub API
type FinnhubNews struct {
	Category string `json:"category"`
	DateTime int64  `json:"datetime"`
	Headline string `json:"headline"`
	ID       int64  `json:"id"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

// FinnhubProfile is the /stock/profile2 payload.
type FinnhubProfile struct {
	Country              string  `json:"country"`
	Currency             string  `json:"currency"`
	Exchange             string  `json:"exchange"`
	Industry             string  `json:"finnhubIndustry"`
	IPO                  string  `json:"ipo"`
	MarketCapitalization float64 `json:"marketCapitalization"`
	Name                 string  `json:"name"`
	ShareOutstanding     float64 `json:"shareOutstanding"`
	Ticker               string  `json:"ticker"`
	WebURL               string  `json:"weburl"`
}

// FinnhubInsiderSentiment represents insider sentiment data
type FinnhubInsiderSentiment struct {
	Symbol string  `json:"symbol"`
	Year   int     `json:"year"`
	Month  int     `json:"month"`
	Change int64   `json:"change"`
	MSPR   float64 `json:"mspr"`
}

// FinnhubInsiderTransaction represents insider transaction data
type FinnhubInsiderTransaction struct {
	Name             string  `json:"name"`
	Share            int64   `json:"share"`
	Change           int64   `json:"change"`
	FilingDate       string  `json:"filingDate"`
	TransactionDate  string  `json:"transactionDate"`
	TransactionCode  string  `json:"transactionCode"`
	TransactionPrice float64 `json:"transactionPrice"`
}

// selected ratios from /stock/metric
var finnhubMetricKeys = []struct{ key, label string }{
	{"peTTM", "P/E (TTM)"},
	{"pbQuarterly", "P/B"},
	{"psTTM", "P/S (TTM)"},
	{"epsTTM", "EPS (TTM)"},
	{"revenueGrowthTTMYoy", "Revenue growth YoY (%)"},
	{"epsGrowthTTMYoy", "EPS growth YoY (%)"},
	{"grossMarginTTM", "Gross margin (%)"},
	{"operatingMarginTTM", "Operating margin (%)"},
	{"netProfitMarginTTM", "Net margin (%)"},
	{"roeTTM", "ROE (%)"},
	{"roaTTM", "ROA (%)"},
	{"currentRatioQuarterly", "Current ratio"},
	{"totalDebt/totalEquityQuarterly", "Debt/Equity"},
	{"dividendYieldIndicatedAnnual", "Dividend yield (%)"},
	{"beta", "Beta"},
	{"52WeekHigh", "52-week high"},
	{"52WeekLow", "52-week low"},
}

func (fc *FinnhubClient) get(ctx context.Context, path string, params map[string]string, out any) error {
	if fc.apiKey == "" {
		return errors.New("finnhub API key not configured")
	}
	q := map[string]string{"token": fc.apiKey}
	for k, v := range params {
		q[k] = v
	}
	return WithRetry(ctx, fc.retry, func(ctx context.Context) error {
		if err := fc.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := fc.client.R().
			SetContext(ctx).
			SetQueryParams(q).
			SetResult(out).
			Get(path)
		if err != nil {
			return fmt.Errorf("finnhub %s: %w", path, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("finnhub %s: API error %d", path, resp.StatusCode())
		}
		return nil
	})
}

// CompanyNews gets news articles for a specific company
func (fc *FinnhubClient) CompanyNews(ctx context.Context, symbol string, start, end time.Time) ([]NewsArticle, error) {
	var raw []FinnhubNews
	err := fc.get(ctx, "/company-news", map[string]string{
		"symbol": symbol,
		"from":   start.Format(dateLayout),
		"to":     end.Format(dateLayout),
	}, &raw)
	if err != nil {
		return nil, err
	}

	out := make([]NewsArticle, 0, len(raw))
	for _, n := range raw {
		out = append(out, NewsArticle{
			Headline:  n.Headline,
			Summary:   n.Summary,
			Source:    n.Source,
			URL:       n.URL,
			Published: time.Unix(n.DateTime, 0).UTC(),
		})
	}
	return out, nil
}

// Fundamentals renders the company profile and key ratios.
func (fc *FinnhubClient) Fundamentals(ctx context.Context, symbol string, asOf time.Time) (string, error) {
	var profile FinnhubProfile
	if err := fc.get(ctx, "/stock/profile2", map[string]string{"symbol": symbol}, &profile); err != nil {
		return "", err
	}
	var metrics struct {
		Metric map[string]any `json:"metric"`
	}
	if err := fc.get(ctx, "/stock/metric", map[string]string{"symbol": symbol, "metric": "all"}, &metrics); err != nil {
		return "", err
	}
	if profile.Name == "" && len(metrics.Metric) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString(textHeader("Fundamentals", symbol, fc.Name(), asOf.AddDate(-1, 0, 0), asOf))
	b.WriteString("### Company Profile\n\n")
	fmt.Fprintf(&b, "- Name: %s\n", profile.Name)
	fmt.Fprintf(&b, "- Exchange: %s\n", profile.Exchange)
	fmt.Fprintf(&b, "- Industry: %s\n", profile.Industry)
	fmt.Fprintf(&b, "- Country: %s\n", profile.Country)
	fmt.Fprintf(&b, "- IPO: %s\n", profile.IPO)
	// Finnhub reports market cap and shares in millions
	fmt.Fprintf(&b, "- Market cap: $%s\n", humanNumber(profile.MarketCapitalization*1e6))
	fmt.Fprintf(&b, "- Shares outstanding: %s\n\n", humanNumber(profile.ShareOutstanding*1e6))

	b.WriteString("### Key Metrics\n\n| Metric | Value |\n|---|---|\n")
	for _, m := range finnhubMetricKeys {
		v, ok := metrics.Metric[m.key].(float64)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "| %s | %s |\n", m.label, decimal.NewFromFloat(v).Round(2).String())
	}
	return b.String(), nil
}

// Sentiment renders insider sentiment and recent insider transactions for
// the 90 days before date.
func (fc *FinnhubClient) Sentiment(ctx context.Context, symbol string, date time.Time) (string, error) {
	start := date.AddDate(0, 0, -90)
	params := map[string]string{
		"symbol": symbol,
		"from":   start.Format(dateLayout),
		"to":     date.Format(dateLayout),
	}

	var sentiment struct {
		Data []FinnhubInsiderSentiment `json:"data"`
	}
	if err := fc.get(ctx, "/stock/insider-sentiment", params, &sentiment); err != nil {
		return "", err
	}
	var transactions struct {
		Data []FinnhubInsiderTransaction `json:"data"`
	}
	if err := fc.get(ctx, "/stock/insider-transactions", params, &transactions); err != nil {
		return "", err
	}
	if len(sentiment.Data) == 0 && len(transactions.Data) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString(textHeader("Insider Sentiment", symbol, fc.Name(), start, date))
	if len(sentiment.Data) > 0 {
		sort.Slice(sentiment.Data, func(i, j int) bool {
			a, c := sentiment.Data[i], sentiment.Data[j]
			return a.Year*100+a.Month < c.Year*100+c.Month
		})
		total := decimal.Zero
		b.WriteString("| Month | Net change | MSPR |\n|---|---|---|\n")
		for _, s := range sentiment.Data {
			mspr := decimal.NewFromFloat(s.MSPR)
			total = total.Add(mspr)
			fmt.Fprintf(&b, "| %04d-%02d | %d | %s |\n", s.Year, s.Month, s.Change, mspr.Round(2).String())
		}
		avg := total.Div(decimal.NewFromInt(int64(len(sentiment.Data))))
		fmt.Fprintf(&b, "\nAverage MSPR: %s (positive means net insider buying)\n\n", avg.Round(2).String())
	}
	if len(transactions.Data) > 0 {
		b.WriteString("### Insider Transactions\n\n| Date | Insider | Code | Change | Price |\n|---|---|---|---|---|\n")
		for i, t := range transactions.Data {
			if i == 20 {
				break
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %s |\n", t.TransactionDate, t.Name, t.TransactionCode,
				t.Change, decimal.NewFromFloat(t.TransactionPrice).StringFixed(2))
		}
	}
	return b.String(), nil
}

func humanNumber(v float64) string {
	d := decimal.NewFromFloat(v)
	switch {
	case v >= 1e12:
		return d.Div(decimal.NewFromFloat(1e12)).StringFixed(2) + "T"
	case v >= 1e9:
		return d.Div(decimal.NewFromFloat(1e9)).StringFixed(2) + "B"
	case v >= 1e6:
		return d.Div(decimal.NewFromFloat(1e6)).StringFixed(2) + "M"
	default:
		return d.StringFixed(0)
	}
}
