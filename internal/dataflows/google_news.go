package dataflows

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

const googleNewsRSS = "https://news.google.com/rss/search"

// GoogleNewsClient reads the Google News RSS search feed.
type GoogleNewsClient struct {
	parser  *gofeed.Parser
	limiter *rate.Limiter
	baseURL string
}

func NewGoogleNewsClient() *GoogleNewsClient {
	parser := gofeed.NewParser()
	parser.UserAgent = "TradingAgentsGo/1.0"
	return &GoogleNewsClient{
		parser:  parser,
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
		baseURL: googleNewsRSS,
	}
}

// SetBaseURL overrides the feed endpoint. Used by tests.
func (gn *GoogleNewsClient) SetBaseURL(u string) { gn.baseURL = u }

func (gn *GoogleNewsClient) Name() string { return "google_news" }

func (gn *GoogleNewsClient) search(ctx context.Context, query string) ([]NewsArticle, error) {
	if err := gn.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("hl", "en-US")
	q.Set("gl", "US")
	q.Set("ceid", "US:en")

	feed, err := gn.parser.ParseURLWithContext(gn.baseURL+"?"+q.Encode(), ctx)
	if err != nil {
		return nil, fmt.Errorf("google news %q: %w", query, err)
	}

	out := make([]NewsArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		a := NewsArticle{
			Headline: strings.TrimSpace(item.Title),
			Summary:  cleanHTML(item.Description),
			Source:   gn.Name(),
			URL:      item.Link,
		}
		if item.PublishedParsed != nil {
			a.Published = item.PublishedParsed.UTC()
		}
		out = append(out, a)
	}
	sortArticlesByDate(out)
	return out, nil
}

// CompanyNews returns articles about symbol published in [start, end].
func (gn *GoogleNewsClient) CompanyNews(ctx context.Context, symbol string, start, end time.Time) ([]NewsArticle, error) {
	query := fmt.Sprintf("%s stock after:%s before:%s", symbol, start.Format(dateLayout), end.AddDate(0, 0, 1).Format(dateLayout))
	all, err := gn.search(ctx, query)
	if err != nil {
		return nil, err
	}
	hi := end.AddDate(0, 0, 1)
	out := all[:0]
	for _, a := range all {
		if !a.Published.IsZero() && (a.Published.Before(start) || !a.Published.Before(hi)) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// LatestNews returns articles about symbol published after since.
func (gn *GoogleNewsClient) LatestNews(ctx context.Context, symbol string, since time.Time) ([]NewsArticle, error) {
	all, err := gn.search(ctx, symbol+" stock when:1d")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if a.Published.IsZero() || a.Published.After(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

// cleanHTML strips tags and collapses whitespace.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// sortArticlesByDate sorts newest first.
func sortArticlesByDate(articles []NewsArticle) {
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].Published.After(articles[j].Published)
	})
}
