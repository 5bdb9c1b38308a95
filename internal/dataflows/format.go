package dataflows

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dyike/TradingAgentsGo/models"
)

const maxArticles = 30

// FormatBarsTable renders bars as a markdown table.
func FormatBarsTable(symbol, source string, bars []models.Bar) string {
	if len(bars) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Daily prices for %s from %s (%s to %s, %d sessions)\n\n",
		symbol, source, bars[0].Date, bars[len(bars)-1].Date, len(bars))
	b.WriteString("| Date | Open | High | Low | Close | Volume |\n|---|---|---|---|---|---|\n")
	for _, bar := range bars {
		fmt.Fprintf(&b, "| %s | %.2f | %.2f | %.2f | %.2f | %d |\n",
			bar.Date, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	}
	return b.String()
}

// FormatNews renders articles newest first under a provider header.
func FormatNews(symbol, provider string, start, end time.Time, articles []NewsArticle) string {
	if len(articles) == 0 {
		return ""
	}
	sortArticlesByDate(articles)
	var b strings.Builder
	b.WriteString(textHeader("News", symbol, provider, start, end))
	for i, a := range articles {
		if i == maxArticles {
			fmt.Fprintf(&b, "\n(%d older articles omitted)\n", len(articles)-maxArticles)
			break
		}
		published := "unknown date"
		if !a.Published.IsZero() {
			published = a.Published.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(&b, "### %s\n%s | %s\n", a.Headline, a.Source, published)
		if a.Summary != "" {
			b.WriteString(truncateText(a.Summary, 500))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatSocialPosts renders posts with a keyword polarity score.
func FormatSocialPosts(symbol, provider string, start, end time.Time, posts []SocialPost) string {
	if len(posts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(textHeader("Social Sentiment", symbol, provider, start, end))

	var total, weighted, weights float64
	var pos, neg int
	for _, p := range posts {
		s := Polarity(p.Title + " " + p.Body)
		total += s
		w := float64(max(p.Score, 1))
		weighted += s * w
		weights += w
		switch {
		case s > 0:
			pos++
		case s < 0:
			neg++
		}
	}
	fmt.Fprintf(&b, "Mentions: %d (positive %d, negative %d, neutral %d)\n", len(posts), pos, neg, len(posts)-pos-neg)
	fmt.Fprintf(&b, "Average polarity: %.2f, engagement-weighted: %.2f (range -1 to 1)\n\n", total/float64(len(posts)), weighted/weights)

	for i, p := range posts {
		if i == maxArticles {
			break
		}
		fmt.Fprintf(&b, "- [r/%s, score %d, %d comments, %s] %s\n",
			p.Community, p.Score, p.Comments, p.Created.Format(dateLayout), p.Title)
	}
	return b.String()
}

// FormatIndicator renders one indicator series with its description.
func FormatIndicator(symbol string, ind Indicator, values []models.IndicatorValue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s values for %s\n\n", ind.Name, symbol)
	for _, v := range values {
		fmt.Fprintf(&b, "%s: %.4f\n", v.Date, v.Value)
	}
	fmt.Fprintf(&b, "\n%s\n", ind.Description)
	return b.String()
}

// FormatIndicatorTable renders every series side by side, one row per date.
func FormatIndicatorTable(all map[string][]models.IndicatorValue) string {
	keys := sortedIndicatorKeys(all)
	if len(keys) == 0 {
		return ""
	}
	rows := map[string]map[string]float64{}
	var order []string
	for _, k := range keys {
		for _, v := range all[k] {
			if rows[v.Date] == nil {
				rows[v.Date] = map[string]float64{}
				order = append(order, v.Date)
			}
			rows[v.Date][k] = v.Value
		}
	}
	sort.Strings(order)

	var b strings.Builder
	b.WriteString("| Date | " + strings.Join(keys, " | ") + " |\n|---|" + strings.Repeat("---|", len(keys)) + "\n")
	for _, d := range order {
		b.WriteString("| " + d + " |")
		for _, k := range keys {
			if v, ok := rows[d][k]; ok {
				fmt.Fprintf(&b, " %.2f |", v)
			} else {
				b.WriteString(" - |")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
