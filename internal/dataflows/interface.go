package dataflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dyike/TradingAgentsGo/config"
	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/internal/cache"
	"github.com/dyike/TradingAgentsGo/internal/metrics"
	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

const (
	// IndicatorLookback is how much history the market tool loads so the
	// long moving averages have enough bars.
	IndicatorLookback = 365 * 24 * time.Hour
	defaultTimeout    = 30 * time.Second
)

// DataLayer is the single entry point to market data. Every fetcher goes
// through the cache manager, so a cached artifact never reaches a remote
// source twice.
type DataLayer struct {
	cache        *cache.Manager
	bars         []BarsSource
	quotes       QuoteSource
	news         []NewsSource
	fundamentals []FundamentalsSource
	sentiment    []SentimentSource
	realtime     RealtimeNewsSource

	timeout time.Duration
	now     func() time.Time
	remote  atomic.Int64
	log     *logger.Logger
}

type Option func(*DataLayer)

func WithBarsSources(s ...BarsSource) Option { return func(d *DataLayer) { d.bars = s } }
func WithQuoteSource(s QuoteSource) Option   { return func(d *DataLayer) { d.quotes = s } }
func WithNewsSources(s ...NewsSource) Option { return func(d *DataLayer) { d.news = s } }
func WithFundamentalsSources(s ...FundamentalsSource) Option {
	return func(d *DataLayer) { d.fundamentals = s }
}
func WithSentimentSources(s ...SentimentSource) Option {
	return func(d *DataLayer) { d.sentiment = s }
}
func WithRealtimeNews(s RealtimeNewsSource) Option { return func(d *DataLayer) { d.realtime = s } }

// WithTimeout bounds each remote call.
func WithTimeout(t time.Duration) Option { return func(d *DataLayer) { d.timeout = t } }

func WithClock(now func() time.Time) Option { return func(d *DataLayer) { d.now = now } }

func NewDataLayer(cm *cache.Manager, opts ...Option) *DataLayer {
	d := &DataLayer{
		cache:   cm,
		timeout: defaultTimeout,
		now:     time.Now,
		log:     logger.Named("dataflows"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewDefaultDataLayer wires the production sources available under cfg.
func NewDefaultDataLayer(cfg config.DataSourceConfig, cm *cache.Manager) *DataLayer {
	log := logger.Named("dataflows")
	yahoo := NewYahooFinanceClient()
	google := NewGoogleNewsClient()
	reddit := NewRedditClient()

	bars := []BarsSource{yahoo}
	if cfg.LongportEnabled() {
		lp, err := NewLongportClient(cfg)
		if err != nil {
			log.Warnw("longport disabled", "error", err)
		} else {
			bars = append(bars, lp)
		}
	}

	news := []NewsSource{google}
	fundamentals := []FundamentalsSource{yahoo}
	sentiment := []SentimentSource{reddit}
	if cfg.FinnhubAPIKey != "" {
		fh := NewFinnhubClient(cfg.FinnhubAPIKey)
		news = []NewsSource{fh, google}
		fundamentals = []FundamentalsSource{fh, yahoo}
		sentiment = append(sentiment, fh)
	}

	return NewDataLayer(cm,
		WithBarsSources(bars...),
		WithQuoteSource(yahoo),
		WithNewsSources(news...),
		WithFundamentalsSources(fundamentals...),
		WithSentimentSources(sentiment...),
		WithRealtimeNews(google),
		WithTimeout(cfg.RemoteTimeout),
	)
}

// RemoteCalls reports how many times a remote source was invoked.
func (d *DataLayer) RemoteCalls() int64 { return d.remote.Load() }

// Cache exposes the underlying cache manager.
func (d *DataLayer) Cache() *cache.Manager { return d.cache }

// call runs fn against one remote source with the per-call timeout.
func (d *DataLayer) call(ctx context.Context, category, source string, fn func(ctx context.Context) error) error {
	d.remote.Add(1)
	timeout := d.timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(cctx)
	status := "success"
	if err != nil {
		status = "error"
		d.log.Warnw("remote call failed", "category", category, "source", source,
			"elapsed", time.Since(start), "error", err)
	}
	metrics.RemoteCalls.WithLabelValues(category, source, status).Inc()
	return err
}

func sourceTag[T interface{ Name() string }](sources []T) string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

func checkSymbol(symbol string) (string, error) {
	symbol = NormalizeSymbol(symbol)
	if err := ValidateSymbol(symbol); err != nil {
		return "", terrors.Validation(terrors.FieldError{Field: "symbol", Reason: err.Error()})
	}
	return symbol, nil
}

func checkRange(start, end time.Time) error {
	if end.Before(start) {
		return terrors.Validation(terrors.FieldError{Field: "start_date", Reason: "start date is after end date"})
	}
	return nil
}

func day(t time.Time) string { return t.Format(dateLayout) }

// GetStockBasicInfo returns the profile of symbol as of today.
func (d *DataLayer) GetStockBasicInfo(ctx context.Context, symbol string) (*models.StockInfo, error) {
	symbol, err := checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if d.quotes == nil {
		return nil, terrors.DataUnavailable(nil, "no quote source configured")
	}
	today := day(d.now())
	spec := cache.Spec{Category: consts.Category_Fundamentals, Symbol: symbol, Start: today, End: today, Source: d.quotes.Name() + ":profile"}

	res, err := d.cache.Fetch(ctx, spec, models.FormatTabularJSON, func(ctx context.Context) (string, string, error) {
		var info *models.StockInfo
		err := d.call(ctx, spec.Category, d.quotes.Name(), func(ctx context.Context) error {
			var err error
			info, err = d.quotes.Info(ctx, symbol)
			return err
		})
		if err != nil {
			return "", "", err
		}
		raw, err := json.Marshal(info)
		return string(raw), d.quotes.Name(), err
	})
	if err != nil {
		return nil, err
	}
	var info models.StockInfo
	if err := json.Unmarshal([]byte(res.Payload), &info); err != nil {
		return nil, terrors.Internal(err, "decode cached profile for %s", symbol)
	}
	return &info, nil
}

// GetHistoricalBars returns daily bars for [start, end] sorted ascending.
// Sources are tried in order and the first non-empty answer wins.
func (d *DataLayer) GetHistoricalBars(ctx context.Context, symbol string, start, end time.Time) (*BarsResult, error) {
	symbol, err := checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	if len(d.bars) == 0 {
		return nil, terrors.DataUnavailable(nil, "no bars source configured")
	}
	spec := cache.Spec{Category: consts.Category_Bars, Symbol: symbol, Start: day(start), End: day(end), Source: sourceTag(d.bars)}

	res, err := d.cache.Fetch(ctx, spec, models.FormatTabularJSON, func(ctx context.Context) (string, string, error) {
		var errs []error
		for _, src := range d.bars {
			var bars []models.Bar
			err := d.call(ctx, spec.Category, src.Name(), func(ctx context.Context) error {
				var err error
				bars, err = src.Bars(ctx, symbol, start, end)
				return err
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
				continue
			}
			bars = normalizeBars(bars, start, end)
			if len(bars) == 0 {
				continue
			}
			raw, err := json.Marshal(bars)
			if err != nil {
				return "", "", err
			}
			return string(raw), src.Name(), nil
		}
		if len(errs) == 0 {
			return "", "", cache.ErrNoData
		}
		return "", "", errors.Join(errs...)
	})
	if err != nil {
		return nil, err
	}

	var bars []models.Bar
	if err := json.Unmarshal([]byte(res.Payload), &bars); err != nil {
		return nil, terrors.Internal(err, "decode cached bars for %s", symbol)
	}
	return &BarsResult{Symbol: symbol, Bars: bars, Source: res.Source, Stale: res.Stale}, nil
}

// firstText asks each source in order and keeps the first non-empty text.
func firstText[T interface{ Name() string }](ctx context.Context, d *DataLayer, category string, sources []T,
	fn func(ctx context.Context, src T) (string, error)) (string, string, error) {
	var errs []error
	for _, src := range sources {
		var text string
		err := d.call(ctx, category, src.Name(), func(ctx context.Context) error {
			var err error
			text, err = fn(ctx, src)
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		if strings.TrimSpace(text) != "" {
			return text, src.Name(), nil
		}
	}
	if len(errs) == 0 {
		return "", "", cache.ErrNoData
	}
	return "", "", errors.Join(errs...)
}

func (d *DataLayer) text(ctx context.Context, spec cache.Spec, fetch cache.FetchFunc) (*TextResult, error) {
	res, err := d.cache.Fetch(ctx, spec, models.FormatText, fetch)
	if err != nil {
		return nil, err
	}
	return &TextResult{Text: res.Payload, Source: res.Source, Stale: res.Stale}, nil
}

// GetCompanyNews returns a summarized news list for [start, end].
func (d *DataLayer) GetCompanyNews(ctx context.Context, symbol string, start, end time.Time) (*TextResult, error) {
	symbol, err := checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	spec := cache.Spec{Category: consts.Category_News, Symbol: symbol, Start: day(start), End: day(end), Source: sourceTag(d.news)}
	return d.text(ctx, spec, func(ctx context.Context) (string, string, error) {
		return firstText(ctx, d, spec.Category, d.news, func(ctx context.Context, src NewsSource) (string, error) {
			articles, err := src.CompanyNews(ctx, symbol, start, end)
			if err != nil {
				return "", err
			}
			return FormatNews(symbol, src.Name(), start, end, articles), nil
		})
	})
}

// GetSocialSentiment combines every sentiment source that answers for the
// week ending on date.
func (d *DataLayer) GetSocialSentiment(ctx context.Context, symbol string, date time.Time) (*TextResult, error) {
	symbol, err := checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	spec := cache.Spec{Category: consts.Category_Sentiment, Symbol: symbol, Start: day(date.AddDate(0, 0, -7)), End: day(date), Source: sourceTag(d.sentiment)}
	return d.text(ctx, spec, func(ctx context.Context) (string, string, error) {
		var sections, answered []string
		var errs []error
		for _, src := range d.sentiment {
			var text string
			err := d.call(ctx, spec.Category, src.Name(), func(ctx context.Context) error {
				var err error
				text, err = src.Sentiment(ctx, symbol, date)
				return err
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
				continue
			}
			if strings.TrimSpace(text) != "" {
				sections = append(sections, text)
				answered = append(answered, src.Name())
			}
		}
		if len(sections) == 0 {
			if len(errs) == 0 {
				return "", "", cache.ErrNoData
			}
			return "", "", errors.Join(errs...)
		}
		return strings.Join(sections, "\n"), strings.Join(answered, "+"), nil
	})
}

// GetFundamentals returns the fundamentals text as of asOf.
func (d *DataLayer) GetFundamentals(ctx context.Context, symbol string, asOf time.Time) (*TextResult, error) {
	symbol, err := checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	spec := cache.Spec{Category: consts.Category_Fundamentals, Symbol: symbol, Start: day(asOf), End: day(asOf), Source: sourceTag(d.fundamentals)}
	return d.text(ctx, spec, func(ctx context.Context) (string, string, error) {
		return firstText(ctx, d, spec.Category, d.fundamentals, func(ctx context.Context, src FundamentalsSource) (string, error) {
			return src.Fundamentals(ctx, symbol, asOf)
		})
	})
}

// GetRealtimeNews returns headlines from the last hours hours. Results are
// cached per clock hour.
func (d *DataLayer) GetRealtimeNews(ctx context.Context, symbol string, hours int) (*TextResult, error) {
	symbol, err := checkSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if d.realtime == nil {
		return nil, terrors.DataUnavailable(nil, "no realtime news source configured")
	}
	if hours <= 0 {
		hours = 6
	}
	now := d.now().UTC().Truncate(time.Hour)
	since := now.Add(-time.Duration(hours) * time.Hour)
	spec := cache.Spec{
		Category: consts.Category_News,
		Symbol:   symbol,
		Start:    since.Format(time.RFC3339),
		End:      now.Format(time.RFC3339),
		Source:   d.realtime.Name() + ":realtime",
	}
	return d.text(ctx, spec, func(ctx context.Context) (string, string, error) {
		var articles []NewsArticle
		err := d.call(ctx, spec.Category, d.realtime.Name(), func(ctx context.Context) error {
			var err error
			articles, err = d.realtime.LatestNews(ctx, symbol, since)
			return err
		})
		if err != nil {
			return "", "", err
		}
		return FormatNews(symbol, d.realtime.Name(), since, now, articles), d.realtime.Name(), nil
	})
}

func (d *DataLayer) quoteList(ctx context.Context, label string, symbols []string) ([]models.StockInfo, string, bool, error) {
	if d.quotes == nil {
		return nil, "", false, terrors.DataUnavailable(nil, "no quote source configured")
	}
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	today := day(d.now())
	spec := cache.Spec{Category: consts.Category_Indices, Symbol: label + ":" + strings.Join(sorted, ","), Start: today, End: today, Source: d.quotes.Name()}

	res, err := d.cache.Fetch(ctx, spec, models.FormatTabularJSON, func(ctx context.Context) (string, string, error) {
		var quotes []models.StockInfo
		err := d.call(ctx, spec.Category, d.quotes.Name(), func(ctx context.Context) error {
			var err error
			quotes, err = d.quotes.Quotes(ctx, sorted)
			return err
		})
		if err != nil {
			return "", "", err
		}
		if len(quotes) == 0 {
			return "", "", cache.ErrNoData
		}
		raw, err := json.Marshal(quotes)
		return string(raw), d.quotes.Name(), err
	})
	if err != nil {
		return nil, "", false, err
	}
	var quotes []models.StockInfo
	if err := json.Unmarshal([]byte(res.Payload), &quotes); err != nil {
		return nil, "", false, terrors.Internal(err, "decode cached quotes")
	}
	return quotes, res.Source, res.Stale, nil
}

// GetIndicesSnapshot returns quotes for index or ETF symbols; nil means the
// default index set.
func (d *DataLayer) GetIndicesSnapshot(ctx context.Context, symbols []string) ([]models.IndexQuote, error) {
	if len(symbols) == 0 {
		symbols = DefaultIndices
	}
	quotes, _, _, err := d.quoteList(ctx, "indices", symbols)
	if err != nil {
		return nil, err
	}
	out := make([]models.IndexQuote, 0, len(quotes))
	for _, q := range quotes {
		name := q.Name
		if sector, ok := SectorETFs[q.Symbol]; ok && name == "" {
			name = sector
		}
		out = append(out, models.IndexQuote{
			Symbol:        q.Symbol,
			Name:          name,
			Price:         q.Price,
			Change:        q.Change,
			ChangePercent: q.ChangePercent,
		})
	}
	return out, nil
}

// GetTrendingUniverse ranks the stock universe into gainers, losers and
// most active.
func (d *DataLayer) GetTrendingUniverse(ctx context.Context) (*models.Trending, error) {
	quotes, _, _, err := d.quoteList(ctx, "universe", StockUniverse)
	if err != nil {
		return nil, err
	}
	t := rankMovers(quotes)
	return &t, nil
}

// MarketData renders the bars in [start, end] plus a technical summary
// computed over a year of history ending at end.
func (d *DataLayer) MarketData(ctx context.Context, symbol string, start, end time.Time) (string, error) {
	if err := checkRange(start, end); err != nil {
		return "", err
	}
	history, err := d.GetHistoricalBars(ctx, symbol, end.Add(-IndicatorLookback), end)
	if err != nil {
		return "", err
	}
	shown := normalizeBars(history.Bars, start, end)
	if len(shown) == 0 {
		return "", terrors.DataUnavailable(nil, "no trading sessions for %s between %s and %s", history.Symbol, day(start), day(end))
	}

	var b strings.Builder
	b.WriteString(FormatBarsTable(history.Symbol, history.Source, shown))
	b.WriteString("\n")
	b.WriteString(TechnicalSummary(history.Bars))
	if history.Stale {
		b.WriteString("\nNote: remote source unavailable; data served from an expired cache copy.\n")
	}
	return b.String(), nil
}

// Indicator renders one indicator over the lookBack days ending at date.
func (d *DataLayer) Indicator(ctx context.Context, symbol, name string, date time.Time, lookBack int) (string, error) {
	ind, ok := LookupIndicator(name)
	if !ok {
		return "", terrors.Validation(terrors.FieldError{
			Field:  "indicator",
			Reason: fmt.Sprintf("unsupported indicator %q, choose one of %s", name, strings.Join(IndicatorNames(), ", ")),
		})
	}
	history, err := d.GetHistoricalBars(ctx, symbol, date.Add(-IndicatorLookback), date)
	if err != nil {
		return "", err
	}
	values := window(ind.calc(history.Bars), day(date.AddDate(0, 0, -lookBack)), day(date))
	return FormatIndicator(history.Symbol, ind, values), nil
}

// PreWarm loads the artifacts a run needs before any agent starts. Missing
// bars mean the ticker has no data on that date and fail the call; the
// other categories are best-effort.
func (d *DataLayer) PreWarm(ctx context.Context, req *models.AnalysisRequest) error {
	date, err := ParseDate(req.AnalysisDate)
	if err != nil {
		return terrors.Validation(terrors.FieldError{Field: "analysis_date", Reason: err.Error()})
	}
	bars, err := d.GetHistoricalBars(ctx, req.Ticker, date.Add(-IndicatorLookback), date)
	if err != nil {
		return err
	}
	if len(bars.Bars) == 0 {
		return terrors.DataUnavailable(cache.ErrNoData, "no price history for %s on or before %s", req.Ticker, req.AnalysisDate)
	}

	type warm struct {
		name string
		fn   func() error
	}
	var steps []warm
	for _, a := range req.ScheduledAnalysts() {
		switch a {
		case consts.AnalystNews:
			steps = append(steps, warm{"news", func() error {
				_, err := d.GetCompanyNews(ctx, req.Ticker, date.AddDate(0, 0, -7), date)
				return err
			}})
		case consts.AnalystFundamentals:
			steps = append(steps, warm{"fundamentals", func() error {
				_, err := d.GetFundamentals(ctx, req.Ticker, date)
				return err
			}})
		case consts.AnalystSocial:
			steps = append(steps, warm{"sentiment", func() error {
				_, err := d.GetSocialSentiment(ctx, req.Ticker, date)
				return err
			}})
		}
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.fn(); err != nil {
			d.log.Infow("prewarm skipped category", "symbol", req.Ticker, "category", s.name, "error", err)
		}
	}
	return nil
}
