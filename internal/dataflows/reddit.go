package dataflows

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const redditSearchURL = "https://www.reddit.com/search.json"

// RedditClient searches public Reddit posts and scores them.
type RedditClient struct {
	client  *resty.Client
	limiter *rate.Limiter
	baseURL string
}

func NewRedditClient() *RedditClient {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetHeader("User-Agent", "TradingAgentsGo/1.0 (equity research)")
	return &RedditClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		baseURL: redditSearchURL,
	}
}

// SetBaseURL overrides the search endpoint. Used by tests.
func (rc *RedditClient) SetBaseURL(u string) { rc.baseURL = u }

func (rc *RedditClient) Name() string { return "reddit" }

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPostData `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPostData struct {
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Subreddit   string  `json:"subreddit"`
	Score       int     `json:"score"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Permalink   string  `json:"permalink"`
}

// Posts returns the week's posts mentioning symbol up to date.
func (rc *RedditClient) Posts(ctx context.Context, symbol string, date time.Time) ([]SocialPost, error) {
	if err := rc.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var listing redditListing
	resp, err := rc.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":     fmt.Sprintf("$%s OR %s stock", symbol, symbol),
			"sort":  "new",
			"t":     "week",
			"limit": "25",
		}).
		SetResult(&listing).
		Get(rc.baseURL)
	if err != nil {
		return nil, fmt.Errorf("reddit search %s: %w", symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("reddit search %s: status %d", symbol, resp.StatusCode())
	}

	cutoff := date.AddDate(0, 0, 1)
	posts := make([]SocialPost, 0, len(listing.Data.Children))
	for _, c := range listing.Data.Children {
		p := c.Data
		if !mentionsSymbol(p.Title+" "+p.Selftext, symbol) {
			continue
		}
		created := time.Unix(int64(p.CreatedUTC), 0).UTC()
		if created.After(cutoff) {
			continue
		}
		link, _ := url.JoinPath("https://www.reddit.com", p.Permalink)
		posts = append(posts, SocialPost{
			Title:     p.Title,
			Body:      truncateText(p.Selftext, 400),
			Community: p.Subreddit,
			Score:     p.Score,
			Comments:  p.NumComments,
			URL:       link,
			Created:   created,
		})
	}
	return posts, nil
}

// Sentiment renders a scored summary of the posts.
func (rc *RedditClient) Sentiment(ctx context.Context, symbol string, date time.Time) (string, error) {
	posts, err := rc.Posts(ctx, symbol, date)
	if err != nil {
		return "", err
	}
	if len(posts) == 0 {
		return "", nil
	}
	return FormatSocialPosts(symbol, rc.Name(), date.AddDate(0, 0, -7), date, posts), nil
}

func mentionsSymbol(text, symbol string) bool {
	upper := strings.ToUpper(text)
	if strings.Contains(upper, "$"+symbol) {
		return true
	}
	for _, f := range strings.FieldsFunc(upper, func(r rune) bool { return r < 'A' || r > 'Z' }) {
		if f == symbol {
			return true
		}
	}
	return false
}

var (
	positiveWords = []string{"buy", "bull", "bullish", "calls", "moon", "beat", "upgrade", "long", "undervalued", "breakout", "growth", "strong"}
	negativeWords = []string{"sell", "bear", "bearish", "puts", "crash", "miss", "downgrade", "short", "overvalued", "dump", "weak", "lawsuit"}
)

// Polarity scores text in [-1, 1] by counting sentiment keywords.
func Polarity(text string) float64 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return (r < 'a' || r > 'z') && r != '\''
	})
	var pos, neg int
	for _, w := range words {
		for _, p := range positiveWords {
			if w == p {
				pos++
			}
		}
		for _, n := range negativeWords {
			if w == n {
				neg++
			}
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}
