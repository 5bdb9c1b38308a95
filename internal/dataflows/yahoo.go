package dataflows

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"

	"github.com/dyike/TradingAgentsGo/models"
)

// YahooFinanceClient reads bars, quotes and profiles from Yahoo Finance.
type YahooFinanceClient struct {
	retry *RetryConfig
}

func NewYahooFinanceClient() *YahooFinanceClient {
	return &YahooFinanceClient{retry: DefaultRetryConfig()}
}

func (yf *YahooFinanceClient) Name() string { return "yahoo" }

// Bars gets daily bars for [start, end].
func (yf *YahooFinanceClient) Bars(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error) {
	// the chart end bound is exclusive
	endExcl := end.AddDate(0, 0, 1)
	var bars []models.Bar
	err := WithRetry(ctx, yf.retry, func(ctx context.Context) error {
		var err error
		bars, err = yf.bars(ctx, symbol, start, endExcl)
		return err
	})
	if err != nil {
		return nil, err
	}
	return normalizeBars(bars, start, end), nil
}

func (yf *YahooFinanceClient) bars(ctx context.Context, symbol string, start, endExcl time.Time) ([]models.Bar, error) {
	return runCtx(ctx, func() ([]models.Bar, error) {
		params := &chart.Params{
			Symbol:   symbol,
			Start:    datetime.New(&start),
			End:      datetime.New(&endExcl),
			Interval: datetime.OneDay,
		}
		iter := chart.Get(params)

		bars := make([]models.Bar, 0, 32)
		for iter.Next() {
			b := iter.Bar()
			open, _ := b.Open.Float64()
			high, _ := b.High.Float64()
			low, _ := b.Low.Float64()
			closePx, _ := b.Close.Float64()
			bars = append(bars, models.Bar{
				Date:   time.Unix(int64(b.Timestamp), 0).UTC().Format(dateLayout),
				Open:   open,
				High:   high,
				Low:    low,
				Close:  closePx,
				Volume: int64(b.Volume),
			})
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("yahoo chart %s: %w", symbol, err)
		}
		return bars, nil
	})
}

// Info gets the basic profile of symbol.
func (yf *YahooFinanceClient) Info(ctx context.Context, symbol string) (*models.StockInfo, error) {
	return runCtx(ctx, func() (*models.StockInfo, error) {
		eq, err := equity.Get(symbol)
		if err != nil {
			return nil, fmt.Errorf("yahoo equity %s: %w", symbol, err)
		}
		if eq == nil {
			return nil, fmt.Errorf("yahoo equity %s: not found", symbol)
		}
		name := eq.LongName
		if name == "" {
			name = eq.ShortName
		}
		return &models.StockInfo{
			Symbol:        eq.Symbol,
			Name:          name,
			Exchange:      eq.FullExchangeName,
			Currency:      eq.CurrencyID,
			Price:         eq.RegularMarketPrice,
			Change:        eq.RegularMarketChange,
			ChangePercent: eq.RegularMarketChangePercent,
			Volume:        int64(eq.RegularMarketVolume),
			MarketCap:     eq.MarketCap,
		}, nil
	})
}

// Quotes gets snapshot quotes for several symbols in one request.
func (yf *YahooFinanceClient) Quotes(ctx context.Context, symbols []string) ([]models.StockInfo, error) {
	return runCtx(ctx, func() ([]models.StockInfo, error) {
		iter := quote.List(symbols)
		out := make([]models.StockInfo, 0, len(symbols))
		for iter.Next() {
			q := iter.Quote()
			out = append(out, models.StockInfo{
				Symbol:        q.Symbol,
				Name:          q.ShortName,
				Exchange:      q.FullExchangeName,
				Currency:      q.CurrencyID,
				Price:         q.RegularMarketPrice,
				Change:        q.RegularMarketChange,
				ChangePercent: q.RegularMarketChangePercent,
				Volume:        int64(q.RegularMarketVolume),
			})
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("yahoo quotes: %w", err)
		}
		return out, nil
	})
}

// runCtx runs a blocking client call and abandons it when ctx ends.
func runCtx[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

// normalizeBars sorts ascending by date, drops duplicates and keeps [start, end].
func normalizeBars(bars []models.Bar, start, end time.Time) []models.Bar {
	lo, hi := start.Format(dateLayout), end.Format(dateLayout)
	seen := make(map[string]bool, len(bars))
	out := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Date < lo || b.Date > hi || seen[b.Date] {
			continue
		}
		seen[b.Date] = true
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Fundamentals renders valuation data from the quote summary.
func (yf *YahooFinanceClient) Fundamentals(ctx context.Context, symbol string, asOf time.Time) (string, error) {
	eq, err := runCtx(ctx, func() (*finance.Equity, error) { return equity.Get(symbol) })
	if err != nil {
		return "", fmt.Errorf("yahoo equity %s: %w", symbol, err)
	}
	if eq == nil {
		return "", nil
	}

	var b strings.Builder
	b.WriteString(textHeader("Fundamentals", symbol, yf.Name(), asOf.AddDate(-1, 0, 0), asOf))
	fmt.Fprintf(&b, "- Name: %s\n- Exchange: %s\n- Currency: %s\n", eq.LongName, eq.FullExchangeName, eq.CurrencyID)
	fmt.Fprintf(&b, "- Market cap: $%s\n", humanNumber(float64(eq.MarketCap)))
	fmt.Fprintf(&b, "- Shares outstanding: %s\n\n", humanNumber(float64(eq.SharesOutstanding)))
	b.WriteString("| Metric | Value |\n|---|---|\n")
	rows := []struct {
		label string
		v     float64
	}{
		{"Price", eq.RegularMarketPrice},
		{"P/E (trailing)", eq.TrailingPE},
		{"P/E (forward)", eq.ForwardPE},
		{"EPS (TTM)", eq.EpsTrailingTwelveMonths},
		{"EPS (forward)", eq.EpsForward},
		{"Book value per share", eq.BookValue},
		{"P/B", eq.PriceToBook},
		{"Dividend rate", eq.TrailingAnnualDividendRate},
		{"Dividend yield", eq.TrailingAnnualDividendYield},
		{"50-day average", eq.FiftyDayAverage},
		{"200-day average", eq.TwoHundredDayAverage},
		{"52-week high", eq.FiftyTwoWeekHigh},
		{"52-week low", eq.FiftyTwoWeekLow},
	}
	for _, r := range rows {
		if r.v == 0 {
			continue
		}
		fmt.Fprintf(&b, "| %s | %s |\n", r.label, decimal.NewFromFloat(r.v).Round(2).String())
	}
	return b.String(), nil
}
