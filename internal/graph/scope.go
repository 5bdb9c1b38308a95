package graph

import (
	"context"
	"sync"
	"time"

	"github.com/dyike/TradingAgentsGo/models"
)

// Agents runs the LLM-backed roles. *agents.Runtime implements it.
type Agents interface {
	Analyze(ctx context.Context, analyst string, st *models.AnalysisState) (string, error)
	Argue(ctx context.Context, roleID string, st *models.AnalysisState) (string, error)
	ResearchManager(ctx context.Context, st *models.AnalysisState) (string, error)
	Trader(ctx context.Context, st *models.AnalysisState) (string, error)
	PortfolioManager(ctx context.Context, st *models.AnalysisState) (string, error)
}

// Prewarmer loads the data a request needs before the agents start.
type Prewarmer interface {
	PreWarm(ctx context.Context, req *models.AnalysisRequest) error
}

// Scope carries the per-run collaborators of one graph execution.
type Scope struct {
	Agents   Agents
	Progress func(node, message string)
	Timing   func(t models.NodeTiming)
	Persist  func(ctx context.Context, st *models.AnalysisState) error
	// ParallelAnalysts overrides the engine default when set.
	ParallelAnalysts *bool

	mu  sync.Mutex
	err error
}

// progress and timing may be called from concurrent analysts.
func (s *Scope) progress(node, message string) {
	if s.Progress == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Progress(node, message)
}

func (s *Scope) timing(node string, start time.Time, d time.Duration) {
	if s.Timing == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Timing(models.NodeTiming{Node: node, StartedAt: start, DurationMS: d.Milliseconds()})
}

// fail keeps the first node error. The graph runtime wraps node errors, so
// the original is recovered from here.
func (s *Scope) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
	return err
}

func (s *Scope) cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

type scopeKey struct{}

func withScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

func scopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	if s == nil {
		return &Scope{}
	}
	return s
}
