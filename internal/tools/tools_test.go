package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/internal/dataflows"
	"github.com/dyike/TradingAgentsGo/internal/llm"
	"github.com/dyike/TradingAgentsGo/models"
)

type fakeData struct {
	calls    []string
	newsFrom time.Time
	newsTo   time.Time
	hours    int
	stale    bool
	err      error
}

func (f *fakeData) MarketData(ctx context.Context, symbol string, start, end time.Time) (string, error) {
	f.calls = append(f.calls, "market:"+symbol+":"+start.Format("2006-01-02")+":"+end.Format("2006-01-02"))
	return "| Date | Close |\n|---|---|\n| 2024-06-03 | 194.03 |", f.err
}

func (f *fakeData) Indicator(ctx context.Context, symbol, name string, d time.Time, lookBack int) (string, error) {
	f.calls = append(f.calls, "indicator:"+name)
	return "rsi values", nil
}

func (f *fakeData) GetCompanyNews(ctx context.Context, symbol string, start, end time.Time) (*dataflows.TextResult, error) {
	f.newsFrom, f.newsTo = start, end
	return &dataflows.TextResult{Text: "news for " + symbol, Source: "finnhub", Stale: f.stale}, f.err
}

func (f *fakeData) GetFundamentals(ctx context.Context, symbol string, asOf time.Time) (*dataflows.TextResult, error) {
	return &dataflows.TextResult{Text: "P/E 29.4"}, nil
}

func (f *fakeData) GetSocialSentiment(ctx context.Context, symbol string, d time.Time) (*dataflows.TextResult, error) {
	return &dataflows.TextResult{Text: "Mentions: 12"}, nil
}

func (f *fakeData) GetRealtimeNews(ctx context.Context, symbol string, hours int) (*dataflows.TextResult, error) {
	f.hours = hours
	return &dataflows.TextResult{Text: "breaking"}, nil
}

func newTestRegistry(dp DataProvider) *Registry {
	r := NewRegistry(nil)
	RegisterStandard(r, dp)
	return r
}

func TestInvokeMarketData(t *testing.T) {
	fd := &fakeData{}
	r := newTestRegistry(fd)
	ctx := llm.WithRun(context.Background(), "run-1")

	out, err := r.Invoke(ctx, consts.MarketAnalyst, MarketData,
		`{"ticker":"AAPL","start_date":"2024-05-04","end_date":"2024-06-03"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "194.03")
	assert.Equal(t, []string{"market:AAPL:2024-05-04:2024-06-03"}, fd.calls)

	entries := r.Audit().Entries("run-1")
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries[0].Status)
	assert.Equal(t, consts.MarketAnalyst, entries[0].Role)
	assert.Equal(t, `{"end_date":"2024-06-03","start_date":"2024-05-04","ticker":"AAPL"}`, entries[0].Args)
}

func TestInvokeErrorsBecomeStrings(t *testing.T) {
	r := newTestRegistry(&fakeData{err: errors.New("upstream down")})
	ctx := llm.WithRun(context.Background(), "run-2")

	cases := []struct {
		name, role, tool, args, want string
	}{
		{"bad json", consts.MarketAnalyst, MarketData, `{"ticker":`, "invalid arguments"},
		{"missing field", consts.MarketAnalyst, MarketData, `{"ticker":"AAPL"}`, "startdate must satisfy required"},
		{"bad date", consts.NewsAnalyst, News, `{"ticker":"AAPL","curr_date":"06/03/2024"}`, "currdate must satisfy datetime"},
		{"unknown tool", consts.MarketAnalyst, "rm_rf", `{}`, `unknown tool "rm_rf"`},
		{"forbidden", consts.Trader, MarketData, `{"ticker":"AAPL","start_date":"2024-05-04","end_date":"2024-06-03"}`, "not available to trader"},
		{"source failure", consts.MarketAnalyst, MarketData, `{"ticker":"AAPL","start_date":"2024-05-04","end_date":"2024-06-03"}`, "upstream down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := r.Invoke(ctx, tc.role, tc.tool, tc.args)
			require.Error(t, err)
			assert.True(t, strings.HasPrefix(out, "tool_error: "), out)
			assert.Contains(t, strings.ToLower(out), strings.ToLower(tc.want))
		})
	}
	entries := r.Audit().Entries("run-2")
	require.Len(t, entries, len(cases))
	for _, e := range entries {
		assert.Equal(t, "error", e.Status)
	}
}

func TestNewsDefaultsAndStaleNote(t *testing.T) {
	fd := &fakeData{stale: true}
	r := newTestRegistry(fd)

	out, err := r.Invoke(context.Background(), consts.NewsAnalyst, News, `{"ticker":"MSFT","curr_date":"2024-06-03"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "news for MSFT")
	assert.Contains(t, out, "expired cache copy")
	assert.Equal(t, "2024-05-27", fd.newsFrom.Format("2006-01-02"))
	assert.Equal(t, "2024-06-03", fd.newsTo.Format("2006-01-02"))

	_, err = r.Invoke(context.Background(), consts.NewsAnalyst, RealtimeNews, `{"ticker":"MSFT"}`)
	require.NoError(t, err)
	assert.Equal(t, 6, fd.hours)
}

func TestForBindsRole(t *testing.T) {
	r := newTestRegistry(&fakeData{})

	infos := r.Infos(consts.SocialMediaAnalyst, []string{SocialSentiment, News, MarketData})
	require.Len(t, infos, 2)
	assert.Equal(t, SocialSentiment, infos[0].Name)
	assert.Equal(t, News, infos[1].Name)

	bound := r.For(consts.FundamentalsAnalyst, []string{Fundamentals})
	require.Len(t, bound, 1)
	info, err := bound[0].Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Fundamentals, info.Name)

	out, err := bound[0].InvokableRun(context.Background(), `{"ticker":"AAPL","curr_date":"2024-06-03"}`)
	require.NoError(t, err)
	assert.Equal(t, "P/E 29.4", out)

	out, err = bound[0].InvokableRun(context.Background(), `{}`)
	require.NoError(t, err, "tool errors are handed to the model, not raised")
	assert.True(t, strings.HasPrefix(out, "tool_error: "))
}

func TestCompact(t *testing.T) {
	assert.Equal(t, "a\n\nb", Compact("a  \n\n\n\nb\n\n"))

	long := strings.Repeat("é", MaxOutputBytes)
	out := Compact(long)
	assert.LessOrEqual(t, len(out), MaxOutputBytes)
	assert.True(t, strings.HasSuffix(out, truncatedSuffix))
	assert.True(t, strings.HasPrefix(out, "é"))
	trimmed := strings.TrimSuffix(out, truncatedSuffix)
	assert.Equal(t, 0, len(trimmed)%2, "cut on a rune boundary")
}

func TestRenderAuditLines(t *testing.T) {
	a := NewAuditLog()
	a.Append(modelsEntry("r", "t1"))
	a.Append(modelsEntry("r", "t2"))
	lines := strings.Split(strings.TrimSpace(string(Render(a.Entries("r")))), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"tool":"t2"`)

	a.Forget("r")
	assert.Empty(t, a.Entries("r"))
}

func modelsEntry(runID, tool string) models.ToolAudit {
	return models.ToolAudit{RunID: runID, Tool: tool, Status: "ok"}
}
