package dataflows

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dyike/TradingAgentsGo/models"
)

// Indicator describes one technical indicator the market tool can report.
type Indicator struct {
	Name        string
	Description string
	calc        func(bars []models.Bar) []models.IndicatorValue
}

// Indicators lists the supported indicators in report order.
var Indicators = []Indicator{
	{"close_10_ema", "10 EMA: a responsive short-term average. Use it to catch quick shifts in momentum.",
		func(b []models.Bar) []models.IndicatorValue { return calculateEMA(b, 10) }},
	{"close_50_sma", "50 SMA: medium-term trend and dynamic support/resistance.",
		func(b []models.Bar) []models.IndicatorValue { return calculateSMA(b, 50) }},
	{"close_200_sma", "200 SMA: long-term trend benchmark; golden/death cross setups.",
		func(b []models.Bar) []models.IndicatorValue { return calculateSMA(b, 200) }},
	{"macd", "MACD: difference of the 12 and 26 EMAs; crossovers and divergence signal momentum changes.",
		func(b []models.Bar) []models.IndicatorValue { m, _, _ := calculateMACD(b); return m }},
	{"macds", "MACD signal: 9 EMA of MACD; crossovers with MACD trigger trades.",
		func(b []models.Bar) []models.IndicatorValue { _, s, _ := calculateMACD(b); return s }},
	{"macdh", "MACD histogram: gap between MACD and its signal; shows momentum strength.",
		func(b []models.Bar) []models.IndicatorValue { _, _, h := calculateMACD(b); return h }},
	{"rsi", "RSI(14): momentum oscillator; 70/30 mark overbought/oversold.",
		func(b []models.Bar) []models.IndicatorValue { return calculateRSI(b, 14) }},
	{"boll", "Bollinger middle: 20 SMA basis of the bands.",
		func(b []models.Bar) []models.IndicatorValue { m, _, _ := calculateBollinger(b, 20, 2); return m }},
	{"boll_ub", "Bollinger upper band: 2 standard deviations above the middle; overbought zone.",
		func(b []models.Bar) []models.IndicatorValue { _, u, _ := calculateBollinger(b, 20, 2); return u }},
	{"boll_lb", "Bollinger lower band: 2 standard deviations below the middle; oversold zone.",
		func(b []models.Bar) []models.IndicatorValue { _, _, l := calculateBollinger(b, 20, 2); return l }},
	{"atr", "ATR(14): average true range; volatility for stops and position sizing.",
		func(b []models.Bar) []models.IndicatorValue { return calculateATR(b, 14) }},
	{"vwma", "VWMA(20): moving average weighted by volume; confirms trends with volume.",
		func(b []models.Bar) []models.IndicatorValue { return calculateVWMA(b, 20) }},
	{"mfi", "MFI(14): volume-weighted RSI; 80/20 mark overbought/oversold.",
		func(b []models.Bar) []models.IndicatorValue { return calculateMFI(b, 14) }},
}

// LookupIndicator finds an indicator by name.
func LookupIndicator(name string) (Indicator, bool) {
	for _, ind := range Indicators {
		if ind.Name == name {
			return ind, true
		}
	}
	return Indicator{}, false
}

// IndicatorNames returns the supported names.
func IndicatorNames() []string {
	names := make([]string, len(Indicators))
	for i, ind := range Indicators {
		names[i] = ind.Name
	}
	return names
}

// CalculateAllIndicators computes every indicator over bars and keeps the
// values dated within [start, end]. Bars must be sorted ascending.
func CalculateAllIndicators(bars []models.Bar, start, end string) map[string][]models.IndicatorValue {
	out := make(map[string][]models.IndicatorValue, len(Indicators))
	for _, ind := range Indicators {
		values := window(ind.calc(bars), start, end)
		if len(values) > 0 {
			out[ind.Name] = values
		}
	}
	return out
}

// TechnicalSummary renders the latest value of every indicator that has
// enough history, followed by a short trend read.
func TechnicalSummary(bars []models.Bar) string {
	if len(bars) == 0 {
		return ""
	}
	last := bars[len(bars)-1]
	latest := make(map[string]float64, len(Indicators))

	var b strings.Builder
	fmt.Fprintf(&b, "### Technical Indicators (as of %s)\n\n| Indicator | Value | Meaning |\n|---|---|---|\n", last.Date)
	for _, ind := range Indicators {
		values := ind.calc(bars)
		if len(values) == 0 {
			continue
		}
		v := values[len(values)-1].Value
		latest[ind.Name] = v
		fmt.Fprintf(&b, "| %s | %.2f | %s |\n", ind.Name, v, ind.Description)
	}

	b.WriteString("\n### Signals\n\n")
	if sma50, ok := latest["close_50_sma"]; ok {
		fmt.Fprintf(&b, "- Close %.2f is %s the 50 SMA (%.2f)\n", last.Close, aboveBelow(last.Close, sma50), sma50)
	}
	if sma200, ok := latest["close_200_sma"]; ok {
		fmt.Fprintf(&b, "- Close %.2f is %s the 200 SMA (%.2f)\n", last.Close, aboveBelow(last.Close, sma200), sma200)
	}
	if rsi, ok := latest["rsi"]; ok {
		state := "neutral"
		switch {
		case rsi >= 70:
			state = "overbought"
		case rsi <= 30:
			state = "oversold"
		}
		fmt.Fprintf(&b, "- RSI %.1f is %s\n", rsi, state)
	}
	if h, ok := latest["macdh"]; ok {
		dir := "bullish"
		if h < 0 {
			dir = "bearish"
		}
		fmt.Fprintf(&b, "- MACD histogram %.3f is %s\n", h, dir)
	}
	if ub, ok := latest["boll_ub"]; ok {
		lb := latest["boll_lb"]
		switch {
		case last.Close > ub:
			b.WriteString("- Close is above the upper Bollinger band\n")
		case last.Close < lb:
			b.WriteString("- Close is below the lower Bollinger band\n")
		default:
			b.WriteString("- Close is inside the Bollinger bands\n")
		}
	}
	if first := bars[0]; first.Close > 0 {
		fmt.Fprintf(&b, "- Change over window: %.2f%%\n", (last.Close-first.Close)/first.Close*100)
	}
	return b.String()
}

func aboveBelow(v, ref float64) string {
	if v >= ref {
		return "above"
	}
	return "below"
}

func window(values []models.IndicatorValue, start, end string) []models.IndicatorValue {
	if start == "" && end == "" {
		return values
	}
	out := make([]models.IndicatorValue, 0, len(values))
	for _, v := range values {
		if (start == "" || v.Date >= start) && (end == "" || v.Date <= end) {
			out = append(out, v)
		}
	}
	return out
}

func closes(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func dates(bars []models.Bar) []string {
	out := make([]string, len(bars))
	for i, b := range bars {
		out[i] = b.Date
	}
	return out
}

// calculateSMA calculates Simple Moving Average
func calculateSMA(bars []models.Bar, period int) []models.IndicatorValue {
	if len(bars) < period {
		return nil
	}
	var result []models.IndicatorValue
	sum := 0.0
	for i, b := range bars {
		sum += b.Close
		if i >= period {
			sum -= bars[i-period].Close
		}
		if i >= period-1 {
			result = append(result, models.IndicatorValue{Date: b.Date, Value: sum / float64(period)})
		}
	}
	return result
}

// emaSeries returns EMA values aligned with src[period-1:], seeded with the
// SMA of the first period values.
func emaSeries(src []float64, period int) []float64 {
	if len(src) < period {
		return nil
	}
	k := 2.0 / (float64(period) + 1.0)
	ema := 0.0
	for _, v := range src[:period] {
		ema += v
	}
	ema /= float64(period)

	out := make([]float64, 0, len(src)-period+1)
	out = append(out, ema)
	for _, v := range src[period:] {
		ema = v*k + ema*(1-k)
		out = append(out, ema)
	}
	return out
}

// calculateEMA calculates Exponential Moving Average
func calculateEMA(bars []models.Bar, period int) []models.IndicatorValue {
	values := emaSeries(closes(bars), period)
	d := dates(bars)
	result := make([]models.IndicatorValue, len(values))
	for i, v := range values {
		result[i] = models.IndicatorValue{Date: d[period-1+i], Value: v}
	}
	return result
}

// calculateRSI calculates Relative Strength Index with Wilder smoothing.
func calculateRSI(bars []models.Bar, period int) []models.IndicatorValue {
	if len(bars) < period+1 {
		return nil
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	rsi := func() float64 {
		if avgLoss == 0 {
			return 100
		}
		return 100 - 100/(1+avgGain/avgLoss)
	}

	result := []models.IndicatorValue{{Date: bars[period].Date, Value: rsi()}}
	for i := period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		result = append(result, models.IndicatorValue{Date: bars[i].Date, Value: rsi()})
	}
	return result
}

// calculateMACD returns the MACD line, its 9 EMA signal and the histogram.
func calculateMACD(bars []models.Bar) (macd, signal, hist []models.IndicatorValue) {
	c := closes(bars)
	ema12 := emaSeries(c, 12)
	ema26 := emaSeries(c, 26)
	if ema26 == nil {
		return nil, nil, nil
	}
	// ema12[i+14] and ema26[i] both end at bar 25+i
	line := make([]float64, len(ema26))
	for i := range ema26 {
		line[i] = ema12[i+14] - ema26[i]
		macd = append(macd, models.IndicatorValue{Date: bars[25+i].Date, Value: line[i]})
	}
	sig := emaSeries(line, 9)
	for i, s := range sig {
		m := macd[8+i]
		signal = append(signal, models.IndicatorValue{Date: m.Date, Value: s})
		hist = append(hist, models.IndicatorValue{Date: m.Date, Value: m.Value - s})
	}
	return macd, signal, hist
}

// calculateBollinger returns the middle, upper and lower bands.
func calculateBollinger(bars []models.Bar, period int, mult float64) (mid, upper, lower []models.IndicatorValue) {
	for i := period - 1; i < len(bars); i++ {
		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			sum += bars[j].Close
		}
		sma := sum / float64(period)

		var variance float64
		for j := i - period + 1; j <= i; j++ {
			diff := bars[j].Close - sma
			variance += diff * diff
		}
		std := math.Sqrt(variance / float64(period))

		d := bars[i].Date
		mid = append(mid, models.IndicatorValue{Date: d, Value: sma})
		upper = append(upper, models.IndicatorValue{Date: d, Value: sma + mult*std})
		lower = append(lower, models.IndicatorValue{Date: d, Value: sma - mult*std})
	}
	return mid, upper, lower
}

// calculateATR calculates Average True Range
func calculateATR(bars []models.Bar, period int) []models.IndicatorValue {
	if len(bars) < period+1 {
		return nil
	}
	tr := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		tr[i-1] = math.Max(bars[i].High-bars[i].Low,
			math.Max(math.Abs(bars[i].High-bars[i-1].Close), math.Abs(bars[i].Low-bars[i-1].Close)))
	}
	var result []models.IndicatorValue
	for i := period - 1; i < len(tr); i++ {
		atr := 0.0
		for j := i - period + 1; j <= i; j++ {
			atr += tr[j]
		}
		result = append(result, models.IndicatorValue{Date: bars[i+1].Date, Value: atr / float64(period)})
	}
	return result
}

// calculateVWMA calculates Volume Weighted Moving Average
func calculateVWMA(bars []models.Bar, period int) []models.IndicatorValue {
	var result []models.IndicatorValue
	for i := period - 1; i < len(bars); i++ {
		var pv, vol float64
		for j := i - period + 1; j <= i; j++ {
			pv += bars[j].Close * float64(bars[j].Volume)
			vol += float64(bars[j].Volume)
		}
		if vol == 0 {
			continue
		}
		result = append(result, models.IndicatorValue{Date: bars[i].Date, Value: pv / vol})
	}
	return result
}

// calculateMFI calculates Money Flow Index
func calculateMFI(bars []models.Bar, period int) []models.IndicatorValue {
	if len(bars) < period+1 {
		return nil
	}
	typical := func(b models.Bar) float64 { return (b.High + b.Low + b.Close) / 3 }

	var result []models.IndicatorValue
	for i := period; i < len(bars); i++ {
		var pos, neg float64
		for j := i - period + 1; j <= i; j++ {
			tp, prev := typical(bars[j]), typical(bars[j-1])
			flow := tp * float64(bars[j].Volume)
			if tp > prev {
				pos += flow
			} else if tp < prev {
				neg += flow
			}
		}
		mfi := 100.0
		if neg > 0 {
			mfi = 100 - 100/(1+pos/neg)
		}
		result = append(result, models.IndicatorValue{Date: bars[i].Date, Value: mfi})
	}
	return result
}

// sortedIndicatorKeys is used to render maps deterministically.
func sortedIndicatorKeys(m map[string][]models.IndicatorValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
