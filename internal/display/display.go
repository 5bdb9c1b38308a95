package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/models"
)

const wrapWidth = 78

// ResultsDisplay prints a finished analysis as plain wrapped text.
type ResultsDisplay struct {
	w io.Writer
}

func NewResultsDisplay(w io.Writer) *ResultsDisplay {
	return &ResultsDisplay{w: w}
}

type section struct {
	title string
	slot  string
}

var groups = []struct {
	name     string
	sections []section
}{
	{"ANALYST TEAM", []section{
		{"Market", consts.Slot_MarketReport},
		{"Social Sentiment", consts.Slot_SentimentReport},
		{"News", consts.Slot_NewsReport},
		{"Fundamentals", consts.Slot_FundamentalsReport},
	}},
	{"RESEARCH TEAM", []section{
		{"Debate Summary", consts.Slot_ResearchTeamDecision},
		{"Investment Plan", consts.Slot_InvestmentPlan},
	}},
	{"TRADING TEAM", []section{
		{"Trader Plan", consts.Slot_TraderInvestmentPlan},
	}},
	{"RISK MANAGEMENT", []section{
		{"Risk Debate", consts.Slot_RiskManagementDecision},
		{"Final Trade Decision", consts.Slot_FinalTradeDecision},
	}},
}

// DisplayBundle shows every report of b grouped by team. Slots without a
// report are omitted.
func (d *ResultsDisplay) DisplayBundle(b *models.ReportBundle) {
	d.showHeader(b)
	d.showSummary(b)
	for _, g := range groups {
		var present []section
		for _, s := range g.sections {
			if strings.TrimSpace(b.Reports[s.slot]) != "" {
				present = append(present, s)
			}
		}
		if len(present) == 0 {
			continue
		}
		d.rule(g.name)
		for _, s := range present {
			d.showSection(s.title, b.Reports[s.slot])
		}
	}
	if b.RiskAssessment != "" {
		d.rule("RISK ASSESSMENT")
		d.wrapped(b.RiskAssessment, "   ")
		fmt.Fprintln(d.w)
	}
	d.showFooter()
}

func (d *ResultsDisplay) showHeader(b *models.ReportBundle) {
	fmt.Fprintln(d.w)
	fmt.Fprintln(d.w, strings.Repeat("=", wrapWidth))
	fmt.Fprintf(d.w, "  ANALYSIS RESULTS FOR %s  (%s)\n", b.Ticker, b.AnalysisDate)
	fmt.Fprintln(d.w, strings.Repeat("=", wrapWidth))
	fmt.Fprintln(d.w)
}

func (d *ResultsDisplay) showSummary(b *models.ReportBundle) {
	d.rule("EXECUTIVE SUMMARY")
	if b.Decision == nil {
		fmt.Fprintln(d.w, "   (no decision recorded)")
		fmt.Fprintln(d.w)
		return
	}
	dec := b.Decision
	fmt.Fprintf(d.w, "   Recommendation: %s %s\n", recommendationMark(dec.Action), dec.Action)
	fmt.Fprintf(d.w, "   Confidence:     %.0f%%\n", dec.Confidence*100)
	fmt.Fprintf(d.w, "   Risk score:     %.0f%%\n", dec.RiskScore*100)
	if dec.TargetPrice != nil {
		fmt.Fprintf(d.w, "   Target price:   $%.2f\n", *dec.TargetPrice)
	}
	fmt.Fprintf(d.w, "   LLM usage:      %d calls, $%.4f\n", b.Usage.Calls, b.Cost)
	fmt.Fprintln(d.w)
}

func (d *ResultsDisplay) showFooter() {
	fmt.Fprintln(d.w, strings.Repeat("-", wrapWidth))
	fmt.Fprintln(d.w, "   Generated by LLM agents for research purposes. Not financial advice.")
	fmt.Fprintln(d.w, strings.Repeat("-", wrapWidth))
}

func (d *ResultsDisplay) rule(title string) {
	fmt.Fprintln(d.w, title)
	fmt.Fprintln(d.w, strings.Repeat("=", wrapWidth))
}

func (d *ResultsDisplay) showSection(title, content string) {
	fmt.Fprintf(d.w, "-- %s\n", title)
	for _, para := range strings.Split(content, "\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		d.wrapped(para, "   ")
	}
	fmt.Fprintln(d.w)
}

// wrapped prints text word-wrapped at wrapWidth with indent on every line.
func (d *ResultsDisplay) wrapped(text, indent string) {
	for _, line := range Wrap(text, indent, wrapWidth) {
		fmt.Fprintln(d.w, line)
	}
}

// Wrap splits text into lines no wider than width where words allow.
func Wrap(text, indent string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	line := indent + words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) > width {
			lines = append(lines, line)
			line = indent + w
		} else {
			line += " " + w
		}
	}
	return append(lines, line)
}

func recommendationMark(action string) string {
	switch action {
	case models.ActionBuy:
		return "[+]"
	case models.ActionSell:
		return "[-]"
	case models.ActionHold:
		return "[=]"
	}
	return "[?]"
}
