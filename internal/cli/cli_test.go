package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/TradingAgentsGo/config"
	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/internal/cache"
	"github.com/dyike/TradingAgentsGo/internal/dataflows"
	"github.com/dyike/TradingAgentsGo/internal/llm"
	"github.com/dyike/TradingAgentsGo/internal/storage"
	"github.com/dyike/TradingAgentsGo/models"
	"github.com/dyike/TradingAgentsGo/pkg/app"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	cfg.Mongo = config.MongoConfig{}
	cfg.Redis = config.RedisConfig{}
	cfg.Debug = config.DebugConfig{}
	cfg.Runner.SettingsPath = ""
	return cfg
}

func execute(t *testing.T, args []string, opts ...RootOption) (string, error) {
	t.Helper()
	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := Execute(ctx, args, append(opts, WithOutput(&out))...)
	return out.String(), err
}

func sampleBundle() *models.ReportBundle {
	target := 180.0
	return &models.ReportBundle{
		RunID:        "run-1",
		Ticker:       "NVDA",
		AnalysisDate: "2024-05-10",
		Decision:     &models.Decision{Action: models.ActionHold, Confidence: 0.55, RiskScore: 0.3, TargetPrice: &target},
		Reports: map[string]string{
			consts.Slot_MarketReport:       "# Market\n\nSideways.",
			consts.Slot_FinalTradeDecision: "Hold for now.",
		},
		Usage:       models.UsageTotals{Calls: 4, Cost: 0.01},
		CompletedAt: time.Date(2024, 5, 10, 20, 0, 0, 0, time.UTC),
	}
}

func TestExportCommand(t *testing.T) {
	cfg := testConfig(t)
	dir, err := storage.NewResultsWriter(cfg.Paths.ResultsDir).Write(sampleBundle())
	require.NoError(t, err)

	out, err := execute(t, []string{"export", dir, "-f", "html"}, WithConfig(cfg))
	require.NoError(t, err)
	assert.Contains(t, out, "report.html")

	html, err := os.ReadFile(filepath.Join(dir, "report.html"))
	require.NoError(t, err)
	assert.Contains(t, string(html), "NVDA")

	target := filepath.Join(t.TempDir(), "nvda.md")
	_, err = execute(t, []string{"export", dir, "--out", target}, WithConfig(cfg))
	require.NoError(t, err)
	assert.FileExists(t, target)
}

func TestExportRejectsDocx(t *testing.T) {
	cfg := testConfig(t)
	dir, err := storage.NewResultsWriter(cfg.Paths.ResultsDir).Write(sampleBundle())
	require.NoError(t, err)

	_, err = execute(t, []string{"export", dir, "-f", "docx"}, WithConfig(cfg))
	assert.True(t, errors.Is(err, storage.ErrUnsupportedFormat))
}

func TestShowCommand(t *testing.T) {
	cfg := testConfig(t)
	dir, err := storage.NewResultsWriter(cfg.Paths.ResultsDir).Write(sampleBundle())
	require.NoError(t, err)

	out, err := execute(t, []string{"show", dir}, WithConfig(cfg))
	require.NoError(t, err)
	assert.Contains(t, out, "ANALYSIS RESULTS FOR NVDA")
	assert.Contains(t, out, "[=] HOLD")
	assert.Contains(t, out, "Sideways.")
}

func TestResultsListsDisk(t *testing.T) {
	cfg := testConfig(t)
	_, err := storage.NewResultsWriter(cfg.Paths.ResultsDir).Write(sampleBundle())
	require.NoError(t, err)

	out, err := execute(t, []string{"results"}, WithConfig(cfg))
	require.NoError(t, err)
	assert.Contains(t, out, "NVDA")
	assert.Contains(t, out, "HOLD")
	assert.Contains(t, out, "55%")
}

func TestSettingsSetAndShow(t *testing.T) {
	cfg := testConfig(t)

	_, err := execute(t, []string{"settings", "set", "max_concurrent_runs=2", "parallel_analysts=true"}, WithConfig(cfg))
	require.NoError(t, err)

	out, err := execute(t, []string{"settings", "show"}, WithConfig(cfg))
	require.NoError(t, err)
	assert.Contains(t, out, `"max_concurrent_runs": 2`)
	assert.Contains(t, out, `"parallel_analysts": true`)
}

func TestApplyAssignments(t *testing.T) {
	base := config.Settings{MaxConcurrentRuns: 3, MaxTrackedRuns: 100, DefaultProvider: "openai"}

	got, err := applyAssignments(base, []string{"default_provider=deepseek", "max_tracked_runs=50"})
	require.NoError(t, err)
	assert.Equal(t, "deepseek", got.DefaultProvider)
	assert.Equal(t, 50, got.MaxTrackedRuns)

	_, err = applyAssignments(base, []string{"nope=1"})
	assert.Error(t, err)
	_, err = applyAssignments(base, []string{"max_tracked_runs"})
	assert.Error(t, err)
	_, err = applyAssignments(base, []string{"max_tracked_runs=lots"})
	assert.Error(t, err)
}

func TestPromptHelpers(t *testing.T) {
	assert.NoError(t, validateTicker("nvda"))
	assert.Error(t, validateTicker(""))
	assert.Error(t, validateTicker("TOOLONG"))
	assert.Error(t, validateTicker("BRK.B"))

	now := func() time.Time { return time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC) }
	assert.NoError(t, validateDate(now)("2024-05-10"))
	assert.Error(t, validateDate(now)("2024-05-11"))
	assert.Error(t, validateDate(now)("05/10/2024"))

	assert.Equal(t, []string{consts.AnalystMarket, consts.AnalystNews},
		analystsFromLabels([]string{"Market Analyst", "News Analyst"}))
	assert.Equal(t, 4, depthFromLabel(depthLabels[3]))
	assert.Equal(t, 1, depthFromLabel("garbage"))
}

func TestRenderError(t *testing.T) {
	err := terrors.Validation(
		terrors.FieldError{Field: "ticker", Reason: "must be 1-5 letters"},
		terrors.FieldError{Field: "research_depth", Reason: "must be between 1 and 5"},
	)
	out := RenderError(err)
	assert.Contains(t, out, "ticker")
	assert.Contains(t, out, "research_depth")

	assert.Contains(t, RenderError(errors.New("boom")), "boom")
}

// stubModel answers every prompt with the same verdict.
type stubModel struct{}

const stubReply = "Recommendation: BUY\nConfidence: 70%\nRisk score: 0.4\nTarget price: $950\nFINAL TRANSACTION PROPOSAL: **BUY**"

func (stubModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	msg := schema.AssistantMessage(stubReply, nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}}
	return msg, nil
}

func (stubModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func (m stubModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

type stubBars struct{}

func (stubBars) Name() string { return "yahoo" }

func (stubBars) Bars(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error) {
	var bars []models.Bar
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		px := 900 + float64(d.Day())
		bars = append(bars, models.Bar{Date: d.Format("2006-01-02"), Open: px, High: px + 5, Low: px - 5, Close: px, Volume: 2_000_000})
	}
	return bars, nil
}

func stubEngine(ctx context.Context, cfg *config.Config) (*app.Engine, error) {
	dl := dataflows.NewDataLayer(cache.NewManager(), dataflows.WithBarsSources(stubBars{}))
	return app.BuildEngine(ctx, cfg,
		app.WithDataLayer(dl),
		app.WithoutExternalStores(),
		app.WithModelFactory(func(ctx context.Context, p llm.Provider, m llm.ModelInfo, opts llm.Options) (model.ToolCallingChatModel, error) {
			return stubModel{}, nil
		}),
	)
}

func TestAnalyzeEndToEnd(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	cfg := testConfig(t)

	out, err := execute(t, []string{
		"analyze", "nvda",
		"--date", "2024-05-10",
		"--analysts", "market",
		"--sentiment=false",
		"--provider", "openai",
		"--model", "gpt-4o-mini",
	}, WithConfig(cfg), WithEngineBuilder(stubEngine))
	require.NoError(t, err)

	assert.Contains(t, out, "NVDA")
	assert.Contains(t, out, "BUY")
	assert.Contains(t, out, "70%")
	assert.Contains(t, out, "analysis completed")

	dir := storage.NewResultsWriter(cfg.Paths.ResultsDir).Dir("NVDA", "2024-05-10")
	b, err := storage.LoadBundle(dir)
	require.NoError(t, err)
	assert.Equal(t, models.ActionBuy, b.Decision.Action)
	assert.True(t, strings.HasPrefix(b.Reports[consts.Slot_SentimentReport], consts.SkippedPrefix) || b.Reports[consts.Slot_SentimentReport] == "")
}

func TestAnalyzeValidationError(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	cfg := testConfig(t)

	_, err := execute(t, []string{
		"analyze", "TOOLONG",
		"--date", "2024-05-10",
		"--provider", "openai",
		"--model", "gpt-4o-mini",
		"--depth", "9",
	}, WithConfig(cfg), WithEngineBuilder(stubEngine))
	require.Error(t, err)
	de, ok := terrors.As(err)
	require.True(t, ok)
	assert.Equal(t, terrors.CodeValidation, de.Code)
	assert.True(t, de.HasField("ticker"))
	assert.True(t, de.HasField("research_depth"))
}

func TestDataBarsUsesCache(t *testing.T) {
	cfg := testConfig(t)
	args := []string{"data", "bars", "nvda", "--date", "2024-05-10", "--days", "5"}

	out, err := execute(t, args, WithConfig(cfg), WithEngineBuilder(stubEngine))
	require.NoError(t, err)
	assert.Contains(t, out, `"symbol": "NVDA"`)
	assert.Contains(t, out, `"date": "2024-05-10"`)
	assert.Contains(t, out, `"source": "yahoo"`)
}
