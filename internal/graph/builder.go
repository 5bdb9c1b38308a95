package graph

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/compose"
	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

// GraphName is the name registered with the eino runtime and debugger.
const GraphName = "TradingAgents"

// maxRunSteps bounds a Pregel run. The deepest request executes 23 nodes.
const maxRunSteps = 64

// Options configures the compiled graph.
type Options struct {
	// ParallelAnalysts runs the scheduled analysts concurrently.
	ParallelAnalysts bool
	Data             Prewarmer
	Logger           *logger.Logger
}

// Engine is a compiled analysis graph. It is safe for concurrent runs; all
// per-run collaborators travel in a Scope.
type Engine struct {
	runnable compose.Runnable[*models.AnalysisState, *models.AnalysisState]
	opts     Options
	log      *logger.Logger
}

func debateHandOff(ctx context.Context, st *models.AnalysisState) (string, error) {
	return NewConditionalLogic(st.Request).NextDebater(st), nil
}

func riskHandOff(ctx context.Context, st *models.AnalysisState) (string, error) {
	return NewConditionalLogic(st.Request).NextRiskDebater(st), nil
}

// NewGraph wires the analysis pipeline without compiling it.
func NewGraph(opts Options) (*compose.Graph[*models.AnalysisState, *models.AnalysisState], error) {
	n := &nodes{opts: opts}
	g := compose.NewGraph[*models.AnalysisState, *models.AnalysisState]()

	var addErr error
	add := func(key string, fn nodeFunc) {
		if addErr != nil {
			return
		}
		addErr = g.AddLambdaNode(key, compose.InvokableLambda(n.wrap(key, fn)), compose.WithNodeName(key))
	}
	add(consts.Validate, n.validate)
	add(consts.PreWarm, n.prewarm)
	add(consts.Analysts, n.analysts)
	add(consts.BullResearcher, n.debater(consts.BullResearcher))
	add(consts.BearResearcher, n.debater(consts.BearResearcher))
	add(consts.ResearchManager, n.researchManager)
	add(consts.Trader, n.trader)
	add(consts.RiskyAnalyst, n.debater(consts.RiskyAnalyst))
	add(consts.SafeAnalyst, n.debater(consts.SafeAnalyst))
	add(consts.NeutralAnalyst, n.debater(consts.NeutralAnalyst))
	add(consts.PortfolioManager, n.portfolioManager)
	add(consts.Decision, n.decision)
	add(consts.Persist, n.persist)
	if addErr != nil {
		return nil, addErr
	}

	edges := [][2]string{
		{compose.START, consts.Validate},
		{consts.Validate, consts.PreWarm},
		{consts.PreWarm, consts.Analysts},
		{consts.Analysts, consts.BullResearcher},
		{consts.ResearchManager, consts.Trader},
		{consts.Trader, consts.RiskyAnalyst},
		{consts.PortfolioManager, consts.Decision},
		{consts.Decision, consts.Persist},
		{consts.Persist, compose.END},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}

	debateOut := map[string]bool{
		consts.BullResearcher:  true,
		consts.BearResearcher:  true,
		consts.ResearchManager: true,
	}
	for _, key := range []string{consts.BullResearcher, consts.BearResearcher} {
		if err := g.AddBranch(key, compose.NewGraphBranch(debateHandOff, debateOut)); err != nil {
			return nil, err
		}
	}

	riskOut := map[string]bool{
		consts.RiskyAnalyst:     true,
		consts.SafeAnalyst:      true,
		consts.NeutralAnalyst:   true,
		consts.PortfolioManager: true,
	}
	for _, key := range []string{consts.RiskyAnalyst, consts.SafeAnalyst, consts.NeutralAnalyst} {
		if err := g.AddBranch(key, compose.NewGraphBranch(riskHandOff, riskOut)); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// NewEngine builds and compiles the analysis graph.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	g, err := NewGraph(opts)
	if err != nil {
		return nil, terrors.Wrap(err, terrors.CodeInternal, "build graph")
	}
	r, err := g.Compile(ctx,
		compose.WithGraphName(GraphName),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
		compose.WithMaxRunSteps(maxRunSteps),
	)
	if err != nil {
		return nil, terrors.Wrap(err, terrors.CodeInternal, "compile graph")
	}
	return &Engine{runnable: r, opts: opts, log: opts.Logger.Named("graph")}, nil
}

// Run executes the graph for one state. The returned error carries the
// domain code of the node that failed.
func (e *Engine) Run(ctx context.Context, st *models.AnalysisState, scope *Scope) (*models.AnalysisState, error) {
	if scope == nil {
		scope = &Scope{}
	}
	if scope.Agents == nil {
		return nil, terrors.New(terrors.CodeInternal, "graph run without agents")
	}
	ctx = withScope(ctx, scope)
	cb := NewLoggerCallback(e.log.With("run_id", st.RunID))

	out, err := e.runnable.Invoke(ctx, st, compose.WithCallbacks(cb))
	if err == nil {
		return out, nil
	}
	if cause := scope.cause(); cause != nil {
		return nil, cause
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, terrors.Wrap(err, terrors.CodeCancelled, "analysis interrupted")
	}
	return nil, terrors.Wrap(err, terrors.CodeInternal, "graph execution failed")
}
