package dataflows

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/TradingAgentsGo/internal/cache"
	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
)

type fakeBars struct {
	name  string
	bars  []models.Bar
	err   error
	mu    sync.Mutex
	calls int
}

func (f *fakeBars) Name() string { return f.name }

func (f *fakeBars) Bars(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.bars, f.err
}

func (f *fakeBars) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeText struct {
	name  string
	text  string
	err   error
	calls int
}

func (f *fakeText) Name() string { return f.name }

func (f *fakeText) Fundamentals(ctx context.Context, symbol string, asOf time.Time) (string, error) {
	f.calls++
	return f.text, f.err
}

func (f *fakeText) Sentiment(ctx context.Context, symbol string, date time.Time) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeNews struct {
	name     string
	articles []NewsArticle
	err      error
}

func (f *fakeNews) Name() string { return f.name }

func (f *fakeNews) CompanyNews(ctx context.Context, symbol string, start, end time.Time) ([]NewsArticle, error) {
	return f.articles, f.err
}

func (f *fakeNews) LatestNews(ctx context.Context, symbol string, since time.Time) ([]NewsArticle, error) {
	return f.articles, f.err
}

type fakeQuotes struct {
	quotes []models.StockInfo
}

func (f *fakeQuotes) Name() string { return "fakequotes" }

func (f *fakeQuotes) Info(ctx context.Context, symbol string) (*models.StockInfo, error) {
	return &models.StockInfo{Symbol: symbol, Name: symbol + " Inc.", Price: 100}, nil
}

func (f *fakeQuotes) Quotes(ctx context.Context, symbols []string) ([]models.StockInfo, error) {
	return f.quotes, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func makeBars(start time.Time, n int) []models.Bar {
	bars := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		px := 100 + float64(i)
		bars = append(bars, models.Bar{
			Date:   start.AddDate(0, 0, i).Format(dateLayout),
			Open:   px - 0.5,
			High:   px + 1,
			Low:    px - 1,
			Close:  px,
			Volume: 1000 + int64(i),
		})
	}
	return bars
}

func newTestLayer(c *clock, opts ...Option) *DataLayer {
	cm := cache.NewManager(cache.WithClock(c.Now))
	return NewDataLayer(cm, append([]Option{WithClock(c.Now)}, opts...)...)
}

func day0() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }

func TestGetHistoricalBarsFallsBackAndCaches(t *testing.T) {
	c := &clock{now: day0()}
	start := day0().AddDate(0, 0, -10)
	primary := &fakeBars{name: "yahoo", err: errors.New("503")}
	secondary := &fakeBars{name: "longport", bars: makeBars(start, 5)}
	d := newTestLayer(c, WithBarsSources(primary, secondary))

	res, err := d.GetHistoricalBars(context.Background(), "aapl", start, day0())
	require.NoError(t, err)
	assert.Equal(t, "AAPL", res.Symbol)
	assert.Equal(t, "longport", res.Source)
	assert.Len(t, res.Bars, 5)
	assert.False(t, res.Stale)
	assert.Equal(t, int64(2), d.RemoteCalls())

	again, err := d.GetHistoricalBars(context.Background(), "AAPL", start, day0())
	require.NoError(t, err)
	assert.Equal(t, res.Bars, again.Bars)
	assert.Equal(t, "longport", again.Source)
	assert.Equal(t, int64(2), d.RemoteCalls(), "cache hit must not reach a remote source")
	assert.Equal(t, 1, primary.count())
	assert.Equal(t, 1, secondary.count())
}

func TestGetHistoricalBarsSortsAndDeduplicates(t *testing.T) {
	c := &clock{now: day0()}
	start := day0().AddDate(0, 0, -5)
	raw := makeBars(start, 3)
	shuffled := []models.Bar{raw[2], raw[0], raw[1], raw[0]}
	d := newTestLayer(c, WithBarsSources(&fakeBars{name: "yahoo", bars: shuffled}))

	res, err := d.GetHistoricalBars(context.Background(), "MSFT", start, day0())
	require.NoError(t, err)
	require.Len(t, res.Bars, 3)
	for i := 1; i < len(res.Bars); i++ {
		assert.Less(t, res.Bars[i-1].Date, res.Bars[i].Date)
	}
}

func TestGetHistoricalBarsServesStaleCopy(t *testing.T) {
	c := &clock{now: day0()}
	start := day0().AddDate(0, 0, -5)
	src := &fakeBars{name: "yahoo", bars: makeBars(start, 3)}
	d := newTestLayer(c, WithBarsSources(src))

	_, err := d.GetHistoricalBars(context.Background(), "NVDA", start, day0())
	require.NoError(t, err)

	c.Advance(3 * time.Hour)
	src.err = errors.New("timeout")
	res, err := d.GetHistoricalBars(context.Background(), "NVDA", start, day0())
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Len(t, res.Bars, 3)
}

func TestGetHistoricalBarsUnavailable(t *testing.T) {
	c := &clock{now: day0()}
	d := newTestLayer(c, WithBarsSources(&fakeBars{name: "yahoo"}))

	_, err := d.GetHistoricalBars(context.Background(), "ZZZZ", day0().AddDate(0, 0, -5), day0())
	require.Error(t, err)
	assert.Equal(t, terrors.CodeDataUnavailable, terrors.CodeOf(err))
}

func TestGetHistoricalBarsValidatesInput(t *testing.T) {
	c := &clock{now: day0()}
	d := newTestLayer(c, WithBarsSources(&fakeBars{name: "yahoo"}))

	_, err := d.GetHistoricalBars(context.Background(), "TOOLONG", day0(), day0())
	assert.Equal(t, terrors.CodeValidation, terrors.CodeOf(err))

	_, err = d.GetHistoricalBars(context.Background(), "AAPL", day0(), day0().AddDate(0, 0, -1))
	assert.Equal(t, terrors.CodeValidation, terrors.CodeOf(err))
	assert.Zero(t, d.RemoteCalls())
}

func TestGetCompanyNewsUsesFirstNonEmptySource(t *testing.T) {
	c := &clock{now: day0()}
	empty := &fakeNews{name: "finnhub"}
	google := &fakeNews{name: "google_news", articles: []NewsArticle{
		{Headline: "Older", Source: "Reuters", Published: day0().Add(-48 * time.Hour)},
		{Headline: "Newer", Source: "Bloomberg", Published: day0().Add(-2 * time.Hour), Summary: "<b>bold</b>"},
	}}
	d := newTestLayer(c, WithNewsSources(empty, google))

	res, err := d.GetCompanyNews(context.Background(), "AAPL", day0().AddDate(0, 0, -7), day0())
	require.NoError(t, err)
	assert.Equal(t, "google_news", res.Source)
	assert.Contains(t, res.Text, "## News for AAPL from google_news (2023-12-26 to 2024-01-02)")
	assert.Less(t, strings.Index(res.Text, "Newer"), strings.Index(res.Text, "Older"))
}

func TestGetSocialSentimentCombinesSources(t *testing.T) {
	c := &clock{now: day0()}
	reddit := &fakeText{name: "reddit", text: "reddit section"}
	insider := &fakeText{name: "finnhub", text: "insider section"}
	broken := &fakeText{name: "broken", err: errors.New("down")}
	d := newTestLayer(c, WithSentimentSources(reddit, broken, insider))

	res, err := d.GetSocialSentiment(context.Background(), "TSLA", day0())
	require.NoError(t, err)
	assert.Equal(t, "reddit+finnhub", res.Source)
	assert.Contains(t, res.Text, "reddit section")
	assert.Contains(t, res.Text, "insider section")
}

func TestGetStockBasicInfoAndTrending(t *testing.T) {
	c := &clock{now: day0()}
	quotes := &fakeQuotes{quotes: []models.StockInfo{
		{Symbol: "AAPL", Price: 190, ChangePercent: 2.5, Volume: 10},
		{Symbol: "MSFT", Price: 370, ChangePercent: -1.2, Volume: 30},
		{Symbol: "NVDA", Price: 480, ChangePercent: 4.1, Volume: 20},
		{Symbol: "DEAD", Price: 0},
	}}
	d := newTestLayer(c, WithQuoteSource(quotes))

	info, err := d.GetStockBasicInfo(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL Inc.", info.Name)

	tr, err := d.GetTrendingUniverse(context.Background())
	require.NoError(t, err)
	require.Len(t, tr.Gainers, 2)
	assert.Equal(t, "NVDA", tr.Gainers[0].Symbol)
	require.Len(t, tr.Losers, 1)
	assert.Equal(t, "MSFT", tr.Losers[0].Symbol)
	assert.Equal(t, "MSFT", tr.MostActive[0].Symbol)

	idx, err := d.GetIndicesSnapshot(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, idx, 4)
}

func TestMarketDataIncludesTechnicalSummary(t *testing.T) {
	c := &clock{now: day0()}
	end := day0()
	history := makeBars(end.Add(-IndicatorLookback), 366)
	d := newTestLayer(c, WithBarsSources(&fakeBars{name: "yahoo", bars: history}))

	text, err := d.MarketData(context.Background(), "AAPL", end.AddDate(0, 0, -5), end)
	require.NoError(t, err)
	assert.Contains(t, text, "## Daily prices for AAPL from yahoo")
	assert.Contains(t, text, "close_200_sma")
	assert.Contains(t, text, "RSI 100.0 is overbought")

	out, err := d.Indicator(context.Background(), "AAPL", "rsi", end, 3)
	require.NoError(t, err)
	assert.Contains(t, out, "## rsi values for AAPL")

	_, err = d.Indicator(context.Background(), "AAPL", "nope", end, 3)
	assert.Equal(t, terrors.CodeValidation, terrors.CodeOf(err))
}

func TestPreWarm(t *testing.T) {
	c := &clock{now: day0()}
	req := &models.AnalysisRequest{
		Ticker:           "AAPL",
		AnalysisDate:     day0().Format(dateLayout),
		Analysts:         []string{"market", "news", "fundamentals"},
		IncludeSentiment: true,
	}

	t.Run("bars missing fails", func(t *testing.T) {
		d := newTestLayer(c, WithBarsSources(&fakeBars{name: "yahoo", err: errors.New("404")}))
		err := d.PreWarm(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, terrors.CodeDataUnavailable, terrors.CodeOf(err))
	})

	t.Run("optional categories are best effort", func(t *testing.T) {
		fund := &fakeText{name: "finnhub", err: errors.New("quota")}
		d := newTestLayer(c,
			WithBarsSources(&fakeBars{name: "yahoo", bars: makeBars(day0().AddDate(0, 0, -20), 20)}),
			WithNewsSources(&fakeNews{name: "google_news", err: errors.New("blocked")}),
			WithFundamentalsSources(fund),
		)
		require.NoError(t, d.PreWarm(context.Background(), req))
		assert.Equal(t, 1, fund.calls)
	})
}

func TestMentionsSymbolAndPolarity(t *testing.T) {
	assert.True(t, mentionsSymbol("Loading up on $AAPL calls", "AAPL"))
	assert.True(t, mentionsSymbol("why is AAPL down today?", "AAPL"))
	assert.False(t, mentionsSymbol("AAPLE pie recipe", "AAPL"))

	assert.Greater(t, Polarity("very bullish, buying calls before the breakout"), 0.0)
	assert.Less(t, Polarity("bearish, buying puts, this will crash"), 0.0)
	assert.Zero(t, Polarity("earnings are on thursday"))
}

func TestNormalizeBars(t *testing.T) {
	bars := makeBars(day0(), 10)
	out := normalizeBars(bars, day0().AddDate(0, 0, 2), day0().AddDate(0, 0, 4))
	require.Len(t, out, 3)
	assert.Equal(t, day0().AddDate(0, 0, 2).Format(dateLayout), out[0].Date)
}
