package dataflows

import (
	"context"
	"errors"
	"sync"
	"time"

	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"

	"github.com/dyike/TradingAgentsGo/config"
	"github.com/dyike/TradingAgentsGo/models"
)

// maxCandles is the most candles one history request returns.
const maxCandles = 1000

// LongportClient is the secondary bars source. The quote context connects
// lazily on first use.
type LongportClient struct {
	conf *lpconfig.Config

	once     sync.Once
	quoteCtx *quote.QuoteContext
	initErr  error
}

func NewLongportClient(cfg config.DataSourceConfig) (*LongportClient, error) {
	if !cfg.LongportEnabled() {
		return nil, errors.New("longport API credentials not configured")
	}
	conf, err := lpconfig.New(lpconfig.WithConfigKey(cfg.LongportAppKey, cfg.LongportAppSecret, cfg.LongportAccessToken))
	if err != nil {
		return nil, err
	}
	return &LongportClient{conf: conf}, nil
}

func (lpc *LongportClient) Name() string { return "longport" }

func (lpc *LongportClient) quoteContext() (*quote.QuoteContext, error) {
	lpc.once.Do(func() {
		lpc.quoteCtx, lpc.initErr = quote.NewFromCfg(lpc.conf)
	})
	return lpc.quoteCtx, lpc.initErr
}

// Bars walks back from end far enough to cover [start, end] and trims the
// result to that window.
func (lpc *LongportClient) Bars(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error) {
	qc, err := lpc.quoteContext()
	if err != nil {
		return nil, err
	}
	offset := end.AddDate(0, 0, 1)
	sticks, err := qc.HistoryCandlesticksByOffset(ctx, symbol+".US", quote.PeriodDay, quote.AdjustTypeNo,
		false, &offset, candleCount(start, end))
	if err != nil {
		return nil, err
	}
	bars := make([]models.Bar, 0, len(sticks))
	for _, stick := range sticks {
		open, _ := stick.Open.Float64()
		high, _ := stick.High.Float64()
		low, _ := stick.Low.Float64()
		closePx, _ := stick.Close.Float64()
		bars = append(bars, models.Bar{
			Date:   time.Unix(stick.Timestamp, 0).UTC().Format(dateLayout),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePx,
			Volume: stick.Volume,
		})
	}
	return normalizeBars(bars, start, end), nil
}

// candleCount is the number of daily candles requested for [start, end].
// Calendar days over-count trading days, which normalizeBars trims.
func candleCount(start, end time.Time) int32 {
	if end.Before(start) {
		return 0
	}
	n := int(end.Sub(start).Hours()/24) + 1
	if n > maxCandles {
		n = maxCandles
	}
	return int32(n)
}
