package storage

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/models"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatPDF      = "pdf"
	FormatDOCX     = "docx"
)

// Exporter renders a finished bundle into a downloadable document.
type Exporter interface {
	Format() string
	Extension() string
	Export(b *models.ReportBundle) ([]byte, error)
}

// NewExporter returns the exporter for a format name.
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatMarkdown, "md":
		return markdownExporter{}, nil
	case FormatHTML:
		return htmlExporter{}, nil
	case FormatPDF:
		return pdfExporter{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}

var sectionTitles = map[string]string{
	consts.Slot_MarketReport:           "Market Analysis",
	consts.Slot_FundamentalsReport:     "Fundamentals Analysis",
	consts.Slot_NewsReport:             "News Analysis",
	consts.Slot_SentimentReport:        "Social Sentiment",
	consts.Slot_InvestmentPlan:         "Investment Plan",
	consts.Slot_TraderInvestmentPlan:   "Trader Plan",
	consts.Slot_ResearchTeamDecision:   "Research Team Debate",
	consts.Slot_RiskManagementDecision: "Risk Management Debate",
	consts.Slot_FinalTradeDecision:     "Final Trade Decision",
}

// RenderMarkdown assembles the full report document.
func RenderMarkdown(b *models.ReportBundle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s Analysis Report\n\n", b.Ticker)
	fmt.Fprintf(&sb, "- Analysis date: %s\n", b.AnalysisDate)
	fmt.Fprintf(&sb, "- Run: %s\n", b.RunID)
	if !b.CompletedAt.IsZero() {
		fmt.Fprintf(&sb, "- Completed: %s\n", b.CompletedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	if b.Request.LLMProvider != "" {
		fmt.Fprintf(&sb, "- Model: %s/%s\n", b.Request.LLMProvider, b.Request.LLMModel)
	}
	fmt.Fprintf(&sb, "- LLM cost: $%.4f (%d calls)\n\n", b.Cost, b.Usage.Calls)

	if d := b.Decision; d != nil {
		sb.WriteString("## Decision\n\n")
		sb.WriteString("| Action | Confidence | Risk score | Target price |\n")
		sb.WriteString("|---|---|---|---|\n")
		target := "n/a"
		if d.TargetPrice != nil {
			target = fmt.Sprintf("$%.2f", *d.TargetPrice)
		}
		fmt.Fprintf(&sb, "| %s | %.0f%% | %.0f%% | %s |\n\n", d.Action, d.Confidence*100, d.RiskScore*100, target)
	}
	if b.RiskAssessment != "" {
		sb.WriteString("## Risk Assessment\n\n")
		sb.WriteString(strings.TrimSpace(b.RiskAssessment))
		sb.WriteString("\n\n")
	}

	for _, slot := range consts.ReportFiles {
		text := strings.TrimSpace(b.Reports[slot])
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", sectionTitles[slot], demoteHeadings(text))
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// demoteHeadings pushes report headings below the section heading.
func demoteHeadings(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "#") && len(l) < 200 {
			lines[i] = "##" + l
		}
	}
	return strings.Join(lines, "\n")
}

type markdownExporter struct{}

func (markdownExporter) Format() string    { return FormatMarkdown }
func (markdownExporter) Extension() string { return ".md" }
func (markdownExporter) Export(b *models.ReportBundle) ([]byte, error) {
	return []byte(RenderMarkdown(b)), nil
}

type htmlExporter struct{}

func (htmlExporter) Format() string    { return FormatHTML }
func (htmlExporter) Extension() string { return ".html" }

func (htmlExporter) Export(b *models.ReportBundle) ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var body bytes.Buffer
	if err := md.Convert([]byte(RenderMarkdown(b)), &body); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n", html.EscapeString(b.Ticker+" "+b.AnalysisDate))
	out.WriteString("<style>body{font-family:sans-serif;max-width:60rem;margin:auto;line-height:1.5}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:4px 8px}</style>\n")
	out.WriteString("</head>\n<body>\n")
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}
