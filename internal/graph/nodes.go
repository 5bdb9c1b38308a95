package graph

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/internal/agents"
	"github.com/dyike/TradingAgentsGo/internal/dataflows"
	"github.com/dyike/TradingAgentsGo/internal/metrics"
	"github.com/dyike/TradingAgentsGo/internal/trace"
	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
)

type nodeFunc func(ctx context.Context, sc *Scope, st *models.AnalysisState) error

type nodes struct {
	opts Options
}

// wrap adds the behaviour shared by every node: interruption checks, a
// span, progress and timing records.
func (n *nodes) wrap(key string, fn nodeFunc) func(context.Context, *models.AnalysisState) (*models.AnalysisState, error) {
	return func(ctx context.Context, st *models.AnalysisState) (*models.AnalysisState, error) {
		sc := scopeFrom(ctx)
		if err := agents.Interrupted(ctx); err != nil {
			return nil, sc.fail(err)
		}
		st.Goto = key

		ctx, span := trace.StartSpan(ctx, "graph."+key,
			attribute.String("run_id", st.RunID),
			attribute.String("ticker", st.Ticker))
		sc.progress(key, "started")
		start := time.Now()
		err := fn(ctx, sc, st)
		elapsed := time.Since(start)
		trace.End(span, err)
		metrics.ObserveNode(key, elapsed)
		sc.timing(key, start, elapsed)
		if err != nil {
			sc.progress(key, "failed: "+string(terrors.CodeOf(err)))
			return nil, sc.fail(err)
		}
		sc.progress(key, "completed")
		return st, nil
	}
}

// degrade turns a role failure into the slot marker. Cancellation is never
// degraded.
func degrade(err error) (string, error) {
	code := terrors.CodeOf(err)
	if code == terrors.CodeCancelled {
		return "", err
	}
	return models.UnavailableMarker(string(code)), nil
}

func (n *nodes) validate(ctx context.Context, sc *Scope, st *models.AnalysisState) error {
	var fields []terrors.FieldError
	if err := dataflows.ValidateSymbol(st.Ticker); err != nil {
		fields = append(fields, terrors.FieldError{Field: "ticker", Reason: err.Error()})
	}
	if _, err := dataflows.ParseDate(st.TradeDate); err != nil {
		fields = append(fields, terrors.FieldError{Field: "analysis_date", Reason: "expected YYYY-MM-DD"})
	}
	if len(fields) > 0 {
		return terrors.Validation(fields...)
	}
	if st.InvestmentDebateState == nil {
		st.InvestmentDebateState = &models.InvestDebateState{}
	}
	if st.RiskDebateState == nil {
		st.RiskDebateState = &models.RiskDebateState{}
	}
	return nil
}

func (n *nodes) prewarm(ctx context.Context, sc *Scope, st *models.AnalysisState) error {
	if n.opts.Data == nil {
		return nil
	}
	return n.opts.Data.PreWarm(ctx, &st.Request)
}

func (n *nodes) analysts(ctx context.Context, sc *Scope, st *models.AnalysisState) error {
	scheduled := st.Request.ScheduledAnalysts()
	wanted := make(map[string]bool, len(scheduled))
	for _, a := range scheduled {
		wanted[a] = true
	}
	for _, a := range consts.AnalystOrder {
		if !wanted[a] {
			if err := st.SetAnalystReport(a, models.SkippedPlaceholder(a)); err != nil {
				return terrors.Wrap(err, terrors.CodeInternal, "write analyst slot")
			}
		}
	}

	parallel := n.opts.ParallelAnalysts
	if sc.ParallelAnalysts != nil {
		parallel = *sc.ParallelAnalysts
	}
	if !parallel {
		for _, a := range scheduled {
			text, err := n.runAnalyst(ctx, sc, st, a)
			if err != nil {
				return err
			}
			if err := st.SetAnalystReport(a, text); err != nil {
				return terrors.Wrap(err, terrors.CodeInternal, "write analyst slot")
			}
		}
		return nil
	}

	// Analysts only read the request while running; slots are written after
	// all of them return.
	results := make([]string, len(scheduled))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range scheduled {
		g.Go(func() error {
			text, err := n.runAnalyst(gctx, sc, st, a)
			results[i] = text
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, a := range scheduled {
		if err := st.SetAnalystReport(a, results[i]); err != nil {
			return terrors.Wrap(err, terrors.CodeInternal, "write analyst slot")
		}
	}
	return nil
}

func (n *nodes) runAnalyst(ctx context.Context, sc *Scope, st *models.AnalysisState, analyst string) (string, error) {
	roleID := agents.AnalystRoleID(analyst)
	start := time.Now()
	text, err := sc.Agents.Analyze(ctx, analyst, st)
	elapsed := time.Since(start)
	metrics.ObserveNode(roleID, elapsed)
	sc.timing(roleID, start, elapsed)
	if err != nil {
		marker, derr := degrade(err)
		if derr != nil {
			return "", derr
		}
		n.opts.Logger.Warnw("analyst unavailable", "run_id", st.RunID, "analyst", analyst, "error", err)
		sc.progress(roleID, "unavailable: "+string(terrors.CodeOf(err)))
		return marker, nil
	}
	sc.progress(roleID, fmt.Sprintf("report ready (%d chars)", len(text)))
	return text, nil
}

func (n *nodes) debater(roleID string) nodeFunc {
	return func(ctx context.Context, sc *Scope, st *models.AnalysisState) error {
		text, err := sc.Agents.Argue(ctx, roleID, st)
		if err != nil {
			if text, err = degrade(err); err != nil {
				return err
			}
			n.opts.Logger.Warnw("debater unavailable", "run_id", st.RunID, "role", roleID)
		}
		agents.RecordArgument(st, roleID, text)
		return nil
	}
}

func (n *nodes) researchManager(ctx context.Context, sc *Scope, st *models.AnalysisState) error {
	text, err := sc.Agents.ResearchManager(ctx, st)
	if err != nil {
		return err
	}
	st.InvestmentDebateState.JudgeDecision = text
	st.InvestmentPlan = text
	return nil
}

func (n *nodes) trader(ctx context.Context, sc *Scope, st *models.AnalysisState) error {
	text, err := sc.Agents.Trader(ctx, st)
	if err != nil {
		if text, err = degrade(err); err != nil {
			return err
		}
		n.opts.Logger.Warnw("trader unavailable", "run_id", st.RunID)
	}
	st.TraderInvestmentPlan = text
	return nil
}

func (n *nodes) portfolioManager(ctx context.Context, sc *Scope, st *models.AnalysisState) error {
	text, err := sc.Agents.PortfolioManager(ctx, st)
	if err != nil {
		return err
	}
	st.RiskDebateState.JudgeDecision = text
	return nil
}

func (n *nodes) decision(ctx context.Context, sc *Scope, st *models.AnalysisState) error {
	d, prose := agents.Decide(st, st.RunID)
	st.Decision = d
	st.FinalTradeDecision = prose
	if st.Request.IncludeRiskAssessment {
		st.RiskAssessment = agents.RiskAssessment(st, d)
	}
	return nil
}

func (n *nodes) persist(ctx context.Context, sc *Scope, st *models.AnalysisState) error {
	if sc.Persist == nil {
		return nil
	}
	return sc.Persist(ctx, st)
}
