package agents

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dyike/TradingAgentsGo/models"
)

var (
	recommendationRe = regexp.MustCompile(`(?im)^[\s*#>-]*RECOMMENDATION\s*\**\s*[:：]\s*\**\s*(BUY|SELL|HOLD)\b`)
	confidenceRe     = regexp.MustCompile(`(?im)^[\s*#>-]*CONFIDENCE\s*\**\s*[:：]\s*\**\s*([0-9]+(?:\.[0-9]+)?)\s*(%?)`)
	riskScoreRe      = regexp.MustCompile(`(?im)^[\s*#>-]*RISK[_ ]SCORE\s*\**\s*[:：]\s*\**\s*([0-9]+(?:\.[0-9]+)?)\s*(%?)`)
	proposalRe       = regexp.MustCompile(`(?i)FINAL TRANSACTION PROPOSAL\s*[:：]\s*\**\s*(BUY|SELL|HOLD)\b`)
)

// A labelled "target price" takes any number; a bare "target" needs a dollar
// sign or a decimal price so horizons and counts are not read as prices.
var targetPriceRe = regexp.MustCompile(
	`(?i)\btarget\s+price\s*\**\s*[:：=]?\s*\**\s*(?:is\s+|of\s+)?(?:US)?\$?\s*([0-9][0-9,]*(?:\.[0-9]+)?)` +
		`|\btarget\b[^\n$0-9]{0,24}?(?:\$\s*([0-9][0-9,]*(?:\.[0-9]+)?)|([0-9][0-9,]*\.[0-9]+))`)

// ParseVerdict reads the trailing RECOMMENDATION / CONFIDENCE / RISK_SCORE
// lines of a judge. The last occurrence wins. Without a RECOMMENDATION line a
// FINAL TRANSACTION PROPOSAL is accepted instead.
func ParseVerdict(text string) models.JudgeVerdict {
	var v models.JudgeVerdict
	if m := lastMatch(recommendationRe, text); m != nil {
		v.Recommendation = strings.ToUpper(m[1])
	} else {
		v.Recommendation = ParseProposal(text)
	}
	if m := lastMatch(confidenceRe, text); m != nil {
		v.Confidence = unitScore(m[1], m[2] == "%")
	}
	if m := lastMatch(riskScoreRe, text); m != nil {
		v.RiskScore = unitScore(m[1], m[2] == "%")
	}
	return v
}

// ParseProposal returns the BUY/SELL/HOLD of a trader's closing line, or "".
func ParseProposal(text string) string {
	if m := lastMatch(proposalRe, text); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

// ParseTargetPrice returns the last positive "target" price stated in text.
func ParseTargetPrice(text string) *float64 {
	m := lastMatch(targetPriceRe, text)
	if m == nil {
		return nil
	}
	raw := m[1]
	for _, g := range m[2:] {
		if raw == "" {
			raw = g
		}
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil || !d.IsPositive() {
		return nil
	}
	f := d.Round(2).InexactFloat64()
	return &f
}

func lastMatch(re *regexp.Regexp, text string) []string {
	all := re.FindAllStringSubmatch(text, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// unitScore maps "0.7", "70%" and "70" onto [0,1]. Without a percent sign a
// value above 1 is read as a percentage only when it is a whole number from
// 10 to 100; "1.5" or "7" are ambiguous and dropped, as is anything else
// outside the range.
func unitScore(raw string, percent bool) *float64 {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	if !percent && d.GreaterThan(decimal.NewFromInt(1)) {
		if !d.IsInteger() || d.LessThan(decimal.NewFromInt(10)) {
			return nil
		}
		percent = true
	}
	if percent {
		d = d.Div(decimal.NewFromInt(100))
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}
