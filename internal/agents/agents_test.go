package agents

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/internal/llm"
	"github.com/dyike/TradingAgentsGo/internal/tools"
	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
)

// fakeModel answers through fn and records every call.
type fakeModel struct {
	mu    sync.Mutex
	calls []fakeCall
	fn    func(role string, n int, msgs []*schema.Message, tools []*schema.ToolInfo) *schema.Message
}

type fakeCall struct {
	role  string
	msgs  []*schema.Message
	tools []*schema.ToolInfo
}

func (f *fakeModel) Generate(ctx context.Context, msgs []*schema.Message, ts []*schema.ToolInfo, stop []string) (*llm.Reply, error) {
	f.mu.Lock()
	role := llm.RoleFrom(ctx)
	f.calls = append(f.calls, fakeCall{role: role, msgs: msgs, tools: ts})
	n := len(f.calls)
	f.mu.Unlock()
	return &llm.Reply{Message: f.fn(role, n, msgs, ts)}, nil
}

func toolCall(id, name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{ID: id, Function: schema.FunctionCall{Name: name, Arguments: args}}})
}

func testState() *models.AnalysisState {
	req := models.AnalysisRequest{
		Ticker: "AAPL", AnalysisDate: "2024-06-03", ResearchDepth: 1,
		Analysts: []string{"market"}, LLMProvider: "openai", LLMModel: "gpt-4o-mini",
	}
	return models.NewAnalysisState("run-1", req)
}

func marketRegistry(calls *int32) *tools.Registry {
	reg := tools.NewRegistry(nil)
	reg.Register(&tools.Tool{
		Info:       &schema.ToolInfo{Name: tools.MarketData, Desc: "bars"},
		AllowedFor: []string{consts.MarketAnalyst},
		Handler: func(ctx context.Context, args string) (string, error) {
			atomic.AddInt32(calls, 1)
			return "AAPL close 194.03", nil
		},
	})
	return reg
}

func TestAnalyzeRunsToolLoop(t *testing.T) {
	var toolCalls int32
	fm := &fakeModel{fn: func(role string, n int, msgs []*schema.Message, ts []*schema.ToolInfo) *schema.Message {
		if n == 1 {
			return toolCall("c1", tools.MarketData, `{"ticker":"AAPL","start_date":"2024-05-04","end_date":"2024-06-03"}`)
		}
		return schema.AssistantMessage("  Uptrend intact.  ", nil)
	}}
	rt := NewRuntime(fm, marketRegistry(&toolCalls))

	report, err := rt.Analyze(context.Background(), consts.AnalystMarket, testState())
	require.NoError(t, err)
	assert.Equal(t, "Uptrend intact.", report)
	assert.Equal(t, int32(1), toolCalls)

	require.Len(t, fm.calls, 2)
	assert.Equal(t, consts.MarketAnalyst, fm.calls[0].role)
	require.Len(t, fm.calls[0].tools, 1, "only tools the registry knows are offered")
	assert.Contains(t, fm.calls[0].msgs[0].Content, "2024-05-04", "look-back start rendered")
	assert.NotContains(t, fm.calls[0].msgs[0].Content, "<no value>")

	second := fm.calls[1].msgs
	last := second[len(second)-1]
	assert.Equal(t, schema.Tool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Equal(t, "AAPL close 194.03", last.Content)
}

func TestAnalyzeStopsAtToolCap(t *testing.T) {
	var toolCalls int32
	fm := &fakeModel{fn: func(role string, n int, msgs []*schema.Message, ts []*schema.ToolInfo) *schema.Message {
		if len(ts) > 0 {
			return toolCall("c", tools.MarketData, `{}`)
		}
		return schema.AssistantMessage("final after budget", nil)
	}}
	rt := NewRuntime(fm, marketRegistry(&toolCalls), WithMaxToolIterations(3))

	report, err := rt.Analyze(context.Background(), consts.AnalystMarket, testState())
	require.NoError(t, err)
	assert.Equal(t, "final after budget", report)
	assert.Len(t, fm.calls, 4)
	assert.Equal(t, int32(3), toolCalls)
	assert.Nil(t, fm.calls[3].tools)
}

func TestAnalyzeUnknownToolBecomesToolError(t *testing.T) {
	var toolCalls int32
	fm := &fakeModel{fn: func(role string, n int, msgs []*schema.Message, ts []*schema.ToolInfo) *schema.Message {
		if n == 1 {
			return toolCall("c1", "delete_everything", `{}`)
		}
		return schema.AssistantMessage("done", nil)
	}}
	rt := NewRuntime(fm, marketRegistry(&toolCalls))

	_, err := rt.Analyze(context.Background(), consts.AnalystMarket, testState())
	require.NoError(t, err)
	msgs := fm.calls[1].msgs
	assert.True(t, strings.HasPrefix(msgs[len(msgs)-1].Content, "tool_error:"))
	assert.Zero(t, toolCalls)
}

func TestAnalyzeHonoursCancelFlag(t *testing.T) {
	var toolCalls int32
	var stop atomic.Bool
	fm := &fakeModel{fn: func(role string, n int, msgs []*schema.Message, ts []*schema.ToolInfo) *schema.Message {
		stop.Store(true)
		return toolCall("c", tools.MarketData, `{}`)
	}}
	rt := NewRuntime(fm, marketRegistry(&toolCalls))
	ctx := WithInterrupt(context.Background(), stop.Load)

	_, err := rt.Analyze(ctx, consts.AnalystMarket, testState())
	require.Error(t, err)
	assert.Equal(t, terrors.CodeCancelled, terrors.CodeOf(err))
	assert.Len(t, fm.calls, 1, "the in-flight call finishes, the loop does not continue")
}

func TestEmptyReplyIsProviderError(t *testing.T) {
	fm := &fakeModel{fn: func(string, int, []*schema.Message, []*schema.ToolInfo) *schema.Message {
		return schema.AssistantMessage("   ", nil)
	}}
	rt := NewRuntime(fm, tools.NewRegistry(nil))
	_, err := rt.Trader(context.Background(), testState())
	assert.Equal(t, terrors.CodeProvider, terrors.CodeOf(err))
}

func TestDebateTurnsAccumulate(t *testing.T) {
	fm := &fakeModel{fn: func(role string, n int, msgs []*schema.Message, ts []*schema.ToolInfo) *schema.Message {
		return schema.AssistantMessage("argument from "+role, nil)
	}}
	rt := NewRuntime(fm, tools.NewRegistry(nil))
	st := testState()
	ctx := context.Background()

	for _, id := range []string{consts.BullResearcher, consts.BearResearcher} {
		text, err := rt.Argue(ctx, id, st)
		require.NoError(t, err)
		RecordArgument(st, id, text)
	}
	d := st.InvestmentDebateState
	assert.Equal(t, 2, d.Count)
	assert.Equal(t, "Bull Analyst: argument from bull_researcher", d.BullHistory)
	assert.Equal(t, "Bear Analyst: argument from bear_researcher", d.CurrentResponse)
	assert.Contains(t, d.History, "Bull Analyst:")
	assert.Contains(t, fm.calls[1].msgs[0].Content, "Bull Analyst: argument from bull_researcher",
		"the bear sees the bull's last argument")

	for _, id := range []string{consts.RiskyAnalyst, consts.SafeAnalyst, consts.NeutralAnalyst} {
		text, err := rt.Argue(ctx, id, st)
		require.NoError(t, err)
		RecordArgument(st, id, text)
	}
	r := st.RiskDebateState
	assert.Equal(t, 3, r.Count)
	assert.Equal(t, consts.NeutralAnalyst, r.LatestSpeaker)
	assert.Equal(t, "Safe Analyst: argument from safe_analyst", r.CurrentSafeResponse)

	_, err := rt.Argue(ctx, consts.Trader, st)
	assert.Error(t, err)
}

func TestJudgesUseDeepModel(t *testing.T) {
	quick := &fakeModel{fn: func(string, int, []*schema.Message, []*schema.ToolInfo) *schema.Message {
		return schema.AssistantMessage("quick", nil)
	}}
	deep := &fakeModel{fn: func(string, int, []*schema.Message, []*schema.ToolInfo) *schema.Message {
		return schema.AssistantMessage("deep\nRECOMMENDATION: BUY", nil)
	}}
	rt := NewRuntime(quick, tools.NewRegistry(nil), WithDeepModel(deep))
	st := testState()

	plan, err := rt.ResearchManager(context.Background(), st)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plan, "deep"))
	out, err := rt.Trader(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "quick", out)
	_, err = rt.PortfolioManager(context.Background(), st)
	require.NoError(t, err)
	assert.Len(t, deep.calls, 2)
}

func TestEveryPromptRenders(t *testing.T) {
	st := testState()
	st.Request.CustomPrompt = "Focus on services revenue."
	for _, role := range Roles() {
		tpl, err := LoadPrompt(role.Prompt)
		require.NoError(t, err, role.ID)
		msgs, err := renderPrompt(context.Background(), tpl, "go", promptVars(st))
		require.NoError(t, err, role.ID)
		assert.Contains(t, msgs[0].Content, "AAPL", role.ID)
		assert.NotContains(t, msgs[0].Content, "<no value>", role.ID)
	}

	common, err := LoadPrompt("analyst_common")
	require.NoError(t, err)
	msgs, err := renderPrompt(context.Background(), common, "go", promptVars(st))
	require.NoError(t, err)
	assert.Contains(t, msgs[0].Content, "Focus on services revenue.")
}
