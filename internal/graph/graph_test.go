package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/internal/agents"
	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
)

const (
	researchVerdict  = "Bulls win.\nRECOMMENDATION: BUY\nCONFIDENCE: 0.8"
	traderPlan       = "Scale in.\nTarget price: 200\nFINAL TRANSACTION PROPOSAL: **BUY**"
	portfolioVerdict = "Approve with limits.\nRECOMMENDATION: BUY\nCONFIDENCE: 0.6\nRISK_SCORE: 0.4"
)

type fakeAgents struct {
	mu    sync.Mutex
	order []string

	analyzeErr map[string]error
	judgeErr   error
	onCall     func(role string)
}

func (f *fakeAgents) record(role string) {
	f.mu.Lock()
	f.order = append(f.order, role)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(role)
	}
}

func (f *fakeAgents) turns(role string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.order {
		if r == role {
			n++
		}
	}
	return n
}

func (f *fakeAgents) Analyze(ctx context.Context, analyst string, st *models.AnalysisState) (string, error) {
	f.record(agents.AnalystRoleID(analyst))
	if err := f.analyzeErr[analyst]; err != nil {
		return "", err
	}
	return analyst + " report", nil
}

func (f *fakeAgents) Argue(ctx context.Context, roleID string, st *models.AnalysisState) (string, error) {
	f.record(roleID)
	return "argument from " + roleID, nil
}

func (f *fakeAgents) ResearchManager(ctx context.Context, st *models.AnalysisState) (string, error) {
	f.record(consts.ResearchManager)
	if f.judgeErr != nil {
		return "", f.judgeErr
	}
	return researchVerdict, nil
}

func (f *fakeAgents) Trader(ctx context.Context, st *models.AnalysisState) (string, error) {
	f.record(consts.Trader)
	return traderPlan, nil
}

func (f *fakeAgents) PortfolioManager(ctx context.Context, st *models.AnalysisState) (string, error) {
	f.record(consts.PortfolioManager)
	return portfolioVerdict, nil
}

type countingPrewarmer struct{ calls int32 }

func (p *countingPrewarmer) PreWarm(ctx context.Context, req *models.AnalysisRequest) error {
	atomic.AddInt32(&p.calls, 1)
	return nil
}

func request(depth int) models.AnalysisRequest {
	return models.AnalysisRequest{
		Ticker:        "AAPL",
		AnalysisDate:  "2024-06-03",
		ResearchDepth: depth,
		Analysts:      []string{"market", "social", "news", "fundamentals"},
		LLMProvider:   "openai",
		LLMModel:      "gpt-4o-mini",
	}
}

func newEngine(t *testing.T, parallel bool) (*Engine, *countingPrewarmer) {
	t.Helper()
	pw := &countingPrewarmer{}
	e, err := NewEngine(context.Background(), Options{ParallelAnalysts: parallel, Data: pw})
	require.NoError(t, err)
	return e, pw
}

func TestRunDepthOne(t *testing.T) {
	e, pw := newEngine(t, false)
	fa := &fakeAgents{}
	var persisted *models.AnalysisState
	var timings []models.NodeTiming
	scope := &Scope{
		Agents:  fa,
		Timing:  func(nt models.NodeTiming) { timings = append(timings, nt) },
		Persist: func(ctx context.Context, st *models.AnalysisState) error { persisted = st; return nil },
	}

	req := request(1)
	req.IncludeRiskAssessment = true
	out, err := e.Run(context.Background(), models.NewAnalysisState("run-1", req), scope)
	require.NoError(t, err)

	assert.EqualValues(t, 1, pw.calls)
	assert.Equal(t, 1, fa.turns(consts.BullResearcher))
	assert.Equal(t, 1, fa.turns(consts.BearResearcher))
	assert.Equal(t, 2, out.InvestmentDebateState.Count)
	assert.Equal(t, 1, fa.turns(consts.RiskyAnalyst))
	assert.Equal(t, 1, fa.turns(consts.SafeAnalyst))
	assert.Equal(t, 1, fa.turns(consts.NeutralAnalyst))
	assert.Equal(t, 3, out.RiskDebateState.Count)

	// include_sentiment is off, so the social analyst never runs.
	assert.Equal(t, 0, fa.turns(consts.SocialMediaAnalyst))
	assert.True(t, models.IsPlaceholder(out.SentimentReport))
	assert.Equal(t, "market report", out.MarketReport)

	require.NotNil(t, out.Decision)
	assert.Equal(t, models.ActionBuy, out.Decision.Action)
	assert.InDelta(t, 0.7, out.Decision.Confidence, 1e-9)
	assert.InDelta(t, 0.4, out.Decision.RiskScore, 1e-9)
	require.NotNil(t, out.Decision.TargetPrice)
	assert.InDelta(t, 200.0, *out.Decision.TargetPrice, 1e-9)
	assert.Equal(t, "run-1", out.Decision.SessionID)
	assert.Equal(t, researchVerdict, out.InvestmentPlan)
	assert.Equal(t, traderPlan, out.TraderInvestmentPlan)
	assert.NotEmpty(t, out.FinalTradeDecision)
	assert.NotEmpty(t, out.RiskAssessment)

	assert.Same(t, out, persisted)
	nodes := map[string]bool{}
	for _, nt := range timings {
		nodes[nt.Node] = true
	}
	for _, key := range []string{consts.Validate, consts.PreWarm, consts.Analysts, consts.MarketAnalyst, consts.Decision, consts.Persist} {
		assert.True(t, nodes[key], key)
	}
}

func TestRunDepthFiveAlternatesSpeakers(t *testing.T) {
	e, _ := newEngine(t, false)
	fa := &fakeAgents{}
	out, err := e.Run(context.Background(), models.NewAnalysisState("run-5", request(5)), &Scope{Agents: fa})
	require.NoError(t, err)

	assert.Equal(t, 6, out.InvestmentDebateState.Count)
	assert.Equal(t, 9, out.RiskDebateState.Count)
	assert.Empty(t, out.RiskAssessment)

	var debate []string
	for _, r := range fa.order {
		switch r {
		case consts.BullResearcher, consts.BearResearcher, consts.RiskyAnalyst, consts.SafeAnalyst, consts.NeutralAnalyst:
			debate = append(debate, r)
		}
	}
	require.Len(t, debate, 15)
	for i := 0; i < 6; i++ {
		want := consts.BullResearcher
		if i%2 == 1 {
			want = consts.BearResearcher
		}
		assert.Equal(t, want, debate[i])
	}
	risk := []string{consts.RiskyAnalyst, consts.SafeAnalyst, consts.NeutralAnalyst}
	for i := 6; i < 15; i++ {
		assert.Equal(t, risk[(i-6)%3], debate[i])
	}
	assert.Equal(t, consts.PortfolioManager, fa.order[len(fa.order)-1])
}

func TestRunIsDeterministic(t *testing.T) {
	req := request(5)
	req.IncludeSentiment = true
	req.IncludeRiskAssessment = true

	var outs []*models.AnalysisState
	for _, parallel := range []bool{false, false, true, true} {
		e, _ := newEngine(t, parallel)
		out, err := e.Run(context.Background(), models.NewAnalysisState("run-d", req), &Scope{Agents: &fakeAgents{}})
		require.NoError(t, err)
		outs = append(outs, out)
	}
	for i, out := range outs[1:] {
		assert.Equal(t, outs[0], out, "run %d", i+1)
	}
	assert.Equal(t, "social report", outs[0].SentimentReport)
}

type failingPrewarmer struct{}

func (failingPrewarmer) PreWarm(ctx context.Context, req *models.AnalysisRequest) error {
	return terrors.DataUnavailable(nil, "no price history for %s on or before %s", req.Ticker, req.AnalysisDate)
}

func TestPrewarmFailureStopsBeforeAgents(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		e, err := NewEngine(context.Background(), Options{ParallelAnalysts: parallel, Data: failingPrewarmer{}})
		require.NoError(t, err)
		fa := &fakeAgents{}
		_, err = e.Run(context.Background(), models.NewAnalysisState("run-p", request(1)), &Scope{Agents: fa})
		require.Error(t, err)
		assert.Equal(t, terrors.CodeDataUnavailable, terrors.CodeOf(err))
		assert.Empty(t, fa.order)
	}
}

func TestAnalystFailureDegrades(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		e, _ := newEngine(t, parallel)
		fa := &fakeAgents{analyzeErr: map[string]error{
			consts.AnalystMarket: terrors.Provider(errors.New("boom"), "openai/gpt-4o-mini failed after 5 attempts"),
		}}
		req := request(1)
		req.IncludeSentiment = true
		out, err := e.Run(context.Background(), models.NewAnalysisState("run-x", req), &Scope{Agents: fa})
		require.NoError(t, err)
		assert.Equal(t, "[unavailable: provider_error]", out.MarketReport)
		assert.Equal(t, "social report", out.SentimentReport)
		assert.Equal(t, "news report", out.NewsReport)
		assert.Equal(t, "fundamentals report", out.FundamentalsReport)
		require.NotNil(t, out.Decision)
	}
}

func TestJudgeFailureFailsRun(t *testing.T) {
	e, _ := newEngine(t, false)
	fa := &fakeAgents{judgeErr: terrors.Provider(errors.New("429"), "deep model failed")}
	persisted := false
	_, err := e.Run(context.Background(), models.NewAnalysisState("run-j", request(1)), &Scope{
		Agents:  fa,
		Persist: func(context.Context, *models.AnalysisState) error { persisted = true; return nil },
	})
	require.Error(t, err)
	assert.Equal(t, terrors.CodeProvider, terrors.CodeOf(err))
	assert.False(t, persisted)
	assert.Zero(t, fa.turns(consts.Trader))
}

func TestCancelFlagStopsBeforeNextNode(t *testing.T) {
	e, _ := newEngine(t, false)
	var cancelled atomic.Bool
	fa := &fakeAgents{onCall: func(role string) {
		if role == consts.ResearchManager {
			cancelled.Store(true)
		}
	}}
	persisted := false
	ctx := agents.WithInterrupt(context.Background(), cancelled.Load)
	_, err := e.Run(ctx, models.NewAnalysisState("run-c", request(1)), &Scope{
		Agents:  fa,
		Persist: func(context.Context, *models.AnalysisState) error { persisted = true; return nil },
	})
	require.Error(t, err)
	assert.Equal(t, terrors.CodeCancelled, terrors.CodeOf(err))
	assert.False(t, persisted)
	assert.Zero(t, fa.turns(consts.Trader))
}

func TestValidateRejectsBadState(t *testing.T) {
	e, _ := newEngine(t, false)
	req := request(1)
	req.Ticker = "aapl1"
	_, err := e.Run(context.Background(), models.NewAnalysisState("run-v", req), &Scope{Agents: &fakeAgents{}})
	require.Error(t, err)
	assert.Equal(t, terrors.CodeValidation, terrors.CodeOf(err))
}

func TestProgressMessages(t *testing.T) {
	e, _ := newEngine(t, true)
	var mu sync.Mutex
	var msgs []string
	scope := &Scope{
		Agents: &fakeAgents{},
		Progress: func(node, message string) {
			mu.Lock()
			msgs = append(msgs, node+": "+message)
			mu.Unlock()
		},
	}
	_, err := e.Run(context.Background(), models.NewAnalysisState("run-p", request(2)), scope)
	require.NoError(t, err)
	joined := strings.Join(msgs, "\n")
	assert.Contains(t, joined, "validate: started")
	assert.Contains(t, joined, "market_analyst: report ready")
	assert.Contains(t, joined, "persist: completed")
}

func TestConditionalLogic(t *testing.T) {
	cl := NewConditionalLogic(request(3))
	st := models.NewAnalysisState("r", request(3))

	assert.Equal(t, consts.BullResearcher, cl.NextDebater(st))
	st.InvestmentDebateState.Count = 1
	assert.Equal(t, consts.BearResearcher, cl.NextDebater(st))
	st.InvestmentDebateState.Count = 2
	assert.Equal(t, consts.ResearchManager, cl.NextDebater(st))

	assert.Equal(t, consts.RiskyAnalyst, cl.NextRiskDebater(st))
	st.RiskDebateState.LatestSpeaker = consts.RiskyAnalyst
	st.RiskDebateState.Count = 1
	assert.Equal(t, consts.SafeAnalyst, cl.NextRiskDebater(st))
	st.RiskDebateState.LatestSpeaker = consts.SafeAnalyst
	assert.Equal(t, consts.NeutralAnalyst, cl.NextRiskDebater(st))
	st.RiskDebateState.Count = 6
	assert.Equal(t, consts.PortfolioManager, cl.NextRiskDebater(st))
}
