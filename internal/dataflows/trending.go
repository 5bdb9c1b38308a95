package dataflows

import (
	"sort"

	"github.com/dyike/TradingAgentsGo/models"
)

// Major U.S. indices.
var DefaultIndices = []string{"^GSPC", "^DJI", "^IXIC", "^VIX"}

// SectorETFs maps the S&P 500 sector ETFs to their sector.
var SectorETFs = map[string]string{
	"XLK":  "Technology",
	"XLF":  "Financials",
	"XLE":  "Energy",
	"XLV":  "Health Care",
	"XLY":  "Consumer Discretionary",
	"XLP":  "Consumer Staples",
	"XLI":  "Industrials",
	"XLB":  "Materials",
	"XLU":  "Utilities",
	"XLRE": "Real Estate",
	"XLC":  "Communication Services",
}

// StockUniverse is the set of liquid names ranked in the trending view.
var StockUniverse = []string{
	"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA", "BRK-B",
	"JPM", "V", "UNH", "JNJ", "WMT", "PG", "MA", "HD", "DIS", "BAC",
	"XOM", "CVX", "PFE", "ABBV", "KO", "PEP", "MRK", "AVGO",
	"COST", "CSCO", "ACN", "ABT", "MCD", "NKE", "ORCL", "AMD", "INTC",
	"CRM", "ADBE", "NFLX", "QCOM", "TXN", "AMAT", "PYPL", "UBER",
	"COIN", "PLTR", "ARM", "SMCI", "MSTR", "SNOW",
}

const moversPerList = 10

// rankMovers builds the gainers, losers and most-active lists.
func rankMovers(quotes []models.StockInfo) models.Trending {
	movers := make([]models.Mover, 0, len(quotes))
	for _, q := range quotes {
		if q.Price == 0 {
			continue
		}
		dir := "flat"
		switch {
		case q.ChangePercent > 0:
			dir = "up"
		case q.ChangePercent < 0:
			dir = "down"
		}
		movers = append(movers, models.Mover{
			Symbol:        q.Symbol,
			Name:          q.Name,
			Price:         q.Price,
			ChangePercent: q.ChangePercent,
			Volume:        q.Volume,
			Direction:     dir,
		})
	}

	pick := func(less func(a, b models.Mover) bool, keep func(m models.Mover) bool) []models.Mover {
		sorted := make([]models.Mover, 0, len(movers))
		for _, m := range movers {
			if keep(m) {
				sorted = append(sorted, m)
			}
		}
		sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
		if len(sorted) > moversPerList {
			sorted = sorted[:moversPerList]
		}
		return sorted
	}

	return models.Trending{
		Gainers: pick(func(a, b models.Mover) bool { return a.ChangePercent > b.ChangePercent },
			func(m models.Mover) bool { return m.ChangePercent > 0 }),
		Losers: pick(func(a, b models.Mover) bool { return a.ChangePercent < b.ChangePercent },
			func(m models.Mover) bool { return m.ChangePercent < 0 }),
		MostActive: pick(func(a, b models.Mover) bool { return a.Volume > b.Volume },
			func(models.Mover) bool { return true }),
	}
}
