package models

// Bar is one daily OHLCV record.
type Bar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// StockInfo is the basic profile of a listed equity.
type StockInfo struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Exchange      string  `json:"exchange"`
	Currency      string  `json:"currency"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
	MarketCap     int64   `json:"market_cap"`
}

// IndexQuote is a snapshot of an index or ETF.
type IndexQuote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
}

// Mover is one entry of the trending universe.
type Mover struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
	Direction     string  `json:"direction"`
}

// Trending groups the movers shown in the hot-topics view.
type Trending struct {
	Gainers    []Mover `json:"gainers"`
	Losers     []Mover `json:"losers"`
	MostActive []Mover `json:"most_active"`
}

// MarketDataInput is the argument record of the market data tool.
type MarketDataInput struct {
	Symbol    string `json:"symbol"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// IndicatorValue represents a single indicator value at a specific date
type IndicatorValue struct {
	Date  string
	Value float64
}
