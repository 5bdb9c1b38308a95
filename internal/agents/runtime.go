package agents

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/dyike/TradingAgentsGo/internal/llm"
	"github.com/dyike/TradingAgentsGo/internal/tools"
	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

// DefaultMaxToolIterations caps the tool-use loop of an analyst.
const DefaultMaxToolIterations = 8

// ChatModel is the LLM surface agents need. *llm.Client implements it.
type ChatModel interface {
	Generate(ctx context.Context, messages []*schema.Message, tools []*schema.ToolInfo, stop []string) (*llm.Reply, error)
}

// Runtime executes roles against a chat model and the tool registry.
type Runtime struct {
	quick    ChatModel
	deep     ChatModel
	tools    *tools.Registry
	maxIters int
	log      *logger.Logger
}

type RuntimeOption func(*Runtime)

// WithDeepModel sets the model used by judges. Defaults to the quick model.
func WithDeepModel(m ChatModel) RuntimeOption {
	return func(r *Runtime) { r.deep = m }
}

func WithMaxToolIterations(n int) RuntimeOption {
	return func(r *Runtime) { r.maxIters = n }
}

func NewRuntime(quick ChatModel, reg *tools.Registry, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		quick:    quick,
		tools:    reg,
		maxIters: DefaultMaxToolIterations,
		log:      logger.Named("agents"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.deep == nil {
		r.deep = r.quick
	}
	return r
}

func (r *Runtime) model(role Role) ChatModel {
	if role.Judge() {
		return r.deep
	}
	return r.quick
}

// converse runs a single tool-less turn for role.
func (r *Runtime) converse(ctx context.Context, role Role, vars map[string]any, instruction string) (string, error) {
	if err := Interrupted(ctx); err != nil {
		return "", err
	}
	tpl, err := LoadPrompt(role.Prompt)
	if err != nil {
		return "", terrors.Internal(err, "load prompt for %s", role.ID)
	}
	msgs, err := renderPrompt(ctx, tpl, instruction, vars)
	if err != nil {
		return "", terrors.Internal(err, "render prompt for %s", role.ID)
	}
	ctx = llm.WithRole(ctx, role.ID)
	reply, err := r.model(role).Generate(ctx, msgs, nil, nil)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(reply.Message.Content)
	if text == "" {
		return "", terrors.Provider(nil, "%s returned an empty reply", role.ID)
	}
	return text, nil
}

const notAvailable = "Not available."

func slotText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || models.IsPlaceholder(s) {
		return notAvailable
	}
	return s
}

// promptVars exposes the state to templates. Every key any template uses is
// present so that text/template never renders "<no value>".
func promptVars(st *models.AnalysisState) map[string]any {
	lookBack := st.TradeDate
	if d, err := time.Parse("2006-01-02", st.TradeDate); err == nil {
		lookBack = d.AddDate(0, 0, -30).Format("2006-01-02")
	}
	v := map[string]any{
		"ticker":                   st.Ticker,
		"trade_date":               st.TradeDate,
		"look_back_start":          lookBack,
		"custom_prompt":            st.Request.CustomPrompt,
		"market_report":            slotText(st.MarketReport),
		"sentiment_report":         slotText(st.SentimentReport),
		"news_report":              slotText(st.NewsReport),
		"fundamentals_report":      slotText(st.FundamentalsReport),
		"investment_plan":          slotText(st.InvestmentPlan),
		"trader_plan":              slotText(st.TraderInvestmentPlan),
		"history":                  "",
		"current_response":         "",
		"current_risky_response":   "",
		"current_safe_response":    "",
		"current_neutral_response": "",
	}
	return v
}
