package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
)

// UI styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1F2937")).
			Padding(0, 1).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 2).
			Width(80)

	decisionStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#10B981")).
			Padding(1, 2).
			Width(80)

	errorPanelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#EF4444")).
			Padding(0, 2).
			Width(80)

	// Status styles
	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	inProgressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B")).
			Bold(true)

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Width(14)

	infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
)

var actionStyles = map[string]lipgloss.Style{
	models.ActionBuy:  completedStyle,
	models.ActionSell: errorStyle,
	models.ActionHold: inProgressStyle,
}

// DisplayWelcomeBanner shows the welcome banner
func DisplayWelcomeBanner(w io.Writer) {
	fmt.Fprintln(w, titleStyle.Render("TradingAgents | multi-agent equity analysis"))
}

// DisplayAnalysisHeader shows what is about to run.
func DisplayAnalysisHeader(w io.Writer, req models.AnalysisRequest, runID string) {
	header := fmt.Sprintf("%s | %s | depth %d | %s/%s\nrun %s",
		req.Ticker, req.AnalysisDate, req.ResearchDepth, req.LLMProvider, req.LLMModel, runID)
	fmt.Fprintln(w, headerStyle.Render(header))
}

// renderEvent formats one progress stream element as a single line.
func renderEvent(e models.ProgressEvent) string {
	ts := e.Time.Format("15:04:05")
	switch e.Type {
	case models.EventHeartbeat:
		return pendingStyle.Render(fmt.Sprintf("[%s] ... still working", ts))
	case models.EventCompleted:
		return completedStyle.Render(fmt.Sprintf("[%s] analysis completed", ts))
	case models.EventFailed:
		msg := "analysis failed"
		if e.Error != nil {
			msg += ": " + string(e.Error.Code)
		}
		return errorStyle.Render(fmt.Sprintf("[%s] %s", ts, msg))
	case models.EventCancelled:
		return errorStyle.Render(fmt.Sprintf("[%s] analysis cancelled", ts))
	case models.EventTimeout:
		return inProgressStyle.Render(fmt.Sprintf("[%s] stream closed after timeout, run continues", ts))
	}

	style := lipgloss.NewStyle()
	switch {
	case strings.HasSuffix(e.Message, "started"):
		style = inProgressStyle
	case strings.HasPrefix(e.Message, "failed"), strings.HasPrefix(e.Message, "unavailable"):
		style = errorStyle
	case strings.HasSuffix(e.Message, "completed"), strings.HasPrefix(e.Message, "report ready"):
		style = completedStyle
	}
	line := fmt.Sprintf("[%s] %-22s %s", ts, e.Node, truncateString(e.Message, 48))
	return style.Render(line)
}

// RenderDecision draws the final recommendation panel.
func RenderDecision(view *models.RunView) string {
	if view == nil || view.Result == nil || view.Result.Decision == nil {
		return errorPanelStyle.Render("no decision available")
	}
	d := view.Result.Decision
	action := d.Action
	if st, ok := actionStyles[action]; ok {
		action = st.Render(action)
	}

	target := "n/a"
	if d.TargetPrice != nil {
		target = fmt.Sprintf("$%.2f", *d.TargetPrice)
	}

	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s  %s", view.Request.Ticker, view.Request.AnalysisDate)) + "\n")
	row("Action", action)
	row("Confidence", fmt.Sprintf("%.0f%%", d.Confidence*100))
	row("Risk score", fmt.Sprintf("%.0f%%", d.RiskScore*100))
	row("Target", target)
	row("LLM calls", fmt.Sprintf("%d (%d in / %d out tokens)", view.Usage.Calls, view.Usage.InputTokens, view.Usage.OutputTokens))
	row("Cost", fmt.Sprintf("$%.4f", view.Usage.Cost))
	if view.Result.ResultsDir != "" {
		row("Results", view.Result.ResultsDir)
	}
	if d.Reasoning != "" {
		b.WriteString("\n" + truncateString(strings.TrimSpace(d.Reasoning), 600))
	}
	return decisionStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// RenderError shows a structured error with its field list and hint.
func RenderError(err error) string {
	de, ok := terrors.As(err)
	if !ok {
		return errorStyle.Render("Error: " + err.Error())
	}
	var b strings.Builder
	b.WriteString(errorStyle.Render(fmt.Sprintf("%s: %s", de.Code, de.Message)))
	for _, f := range de.Fields {
		b.WriteString(fmt.Sprintf("\n  %s: %s", f.Field, f.Reason))
	}
	if de.Suggestion != "" {
		b.WriteString("\n" + pendingStyle.Render("hint: "+de.Suggestion))
	}
	return errorPanelStyle.Render(b.String())
}

// DisplayInfo shows an info message
func DisplayInfo(w io.Writer, message string) {
	fmt.Fprintln(w, infoStyle.Render(message))
}

// DisplaySuccess shows a success message
func DisplaySuccess(w io.Writer, message string) {
	fmt.Fprintln(w, completedStyle.Render(message))
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
