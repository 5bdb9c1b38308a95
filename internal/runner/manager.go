package runner

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dyike/TradingAgentsGo/config"
	"github.com/dyike/TradingAgentsGo/consts"
	"github.com/dyike/TradingAgentsGo/internal/agents"
	"github.com/dyike/TradingAgentsGo/internal/graph"
	"github.com/dyike/TradingAgentsGo/internal/llm"
	"github.com/dyike/TradingAgentsGo/internal/metrics"
	"github.com/dyike/TradingAgentsGo/internal/storage"
	"github.com/dyike/TradingAgentsGo/internal/tools"
	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

const (
	DefaultMaxConcurrent = 3
	DefaultMaxTracked    = 100
	DefaultHeartbeat     = 30 * time.Second
	DefaultStreamTimeout = 30 * time.Minute
	DefaultListLimit     = 20
)

// GraphRunner executes one analysis. *graph.Engine implements it.
type GraphRunner interface {
	Run(ctx context.Context, st *models.AnalysisState, scope *graph.Scope) (*models.AnalysisState, error)
}

// ModelChecker validates a provider and model pair at submit time.
type ModelChecker interface {
	Check(provider, model string) error
}

// AgentsBuilder creates the agents of one run.
type AgentsBuilder func(ctx context.Context, req models.AnalysisRequest) (graph.Agents, error)

type run struct {
	id        string
	req       models.AnalysisRequest
	createdAt time.Time

	// Guarded by Manager.mu.
	status     string
	startedAt  *time.Time
	finishedAt *time.Time
	result     *models.AnalysisResult
	err        *terrors.DomainError
	evicted    bool
	timings    []models.NodeTiming

	cancelled atomic.Bool
	ctx       context.Context
	stop      context.CancelFunc
	broker    *Broker
	done      chan struct{}
}

func terminal(status string) bool {
	switch status {
	case consts.State_Completed, consts.State_Failed, consts.State_Cancelled:
		return true
	}
	return false
}

// Manager owns every AnalysisRun of the process. A single mutex guards the
// registry; progress logs carry their own locks.
type Manager struct {
	mu      sync.Mutex
	runs    map[string]*run
	order   []string
	running int

	maxConcurrent int
	maxTracked    int
	parallel      *bool
	heartbeat     time.Duration
	streamTimeout time.Duration

	graph    GraphRunner
	build    AgentsBuilder
	checker  ModelChecker
	ledger   *llm.UsageLedger
	audit    *tools.AuditLog
	results  *storage.ResultsWriter
	reports  storage.ReportStore
	validate *validator.Validate
	log      *logger.Logger
	now      func() time.Time
	newID    func() string

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Manager)

func WithLimits(maxConcurrent, maxTracked int) Option {
	return func(m *Manager) {
		if maxConcurrent > 0 {
			m.maxConcurrent = maxConcurrent
		}
		if maxTracked > 0 {
			m.maxTracked = maxTracked
		}
	}
}

func WithStreamTiming(heartbeat, streamTimeout time.Duration) Option {
	return func(m *Manager) {
		if heartbeat > 0 {
			m.heartbeat = heartbeat
		}
		if streamTimeout > 0 {
			m.streamTimeout = streamTimeout
		}
	}
}

func WithModelChecker(c ModelChecker) Option            { return func(m *Manager) { m.checker = c } }
func WithLedger(l *llm.UsageLedger) Option              { return func(m *Manager) { m.ledger = l } }
func WithAuditLog(a *tools.AuditLog) Option             { return func(m *Manager) { m.audit = a } }
func WithResultsWriter(w *storage.ResultsWriter) Option { return func(m *Manager) { m.results = w } }
func WithReportStore(s storage.ReportStore) Option      { return func(m *Manager) { m.reports = s } }
func WithLogger(l *logger.Logger) Option                { return func(m *Manager) { m.log = l } }
func WithClock(now func() time.Time) Option             { return func(m *Manager) { m.now = now } }
func WithIDGenerator(fn func() string) Option           { return func(m *Manager) { m.newID = fn } }

// WithParallelAnalysts overrides the graph's analyst scheduling.
func WithParallelAnalysts(on bool) Option {
	return func(m *Manager) { m.parallel = &on }
}

// WithConfig applies the runner section of the static configuration.
func WithConfig(cfg config.RunnerConfig) Option {
	return func(m *Manager) {
		WithLimits(cfg.MaxConcurrentRuns, cfg.MaxTrackedRuns)(m)
		WithStreamTiming(cfg.Heartbeat, cfg.StreamTimeout)(m)
		WithParallelAnalysts(cfg.ParallelAnalysts)(m)
	}
}

func NewManager(g GraphRunner, build AgentsBuilder, opts ...Option) *Manager {
	m := &Manager{
		runs:          make(map[string]*run),
		maxConcurrent: DefaultMaxConcurrent,
		maxTracked:    DefaultMaxTracked,
		heartbeat:     DefaultHeartbeat,
		streamTimeout: DefaultStreamTimeout,
		graph:         g,
		build:         build,
		validate:      newValidator(),
		log:           logger.Named("runner"),
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ledger == nil {
		m.ledger = llm.NewUsageLedger(nil)
	}
	if m.audit == nil {
		m.audit = tools.NewAuditLog()
	}
	if m.heartbeat > DefaultHeartbeat {
		m.heartbeat = DefaultHeartbeat
	}
	m.baseCtx, m.stop = context.WithCancel(context.Background())
	return m
}

// ApplySettings updates the hot-reloadable limits. Runs already admitted
// are unaffected.
func (m *Manager) ApplySettings(s config.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.MaxConcurrentRuns > 0 {
		m.maxConcurrent = s.MaxConcurrentRuns
	}
	if s.MaxTrackedRuns > 0 {
		m.maxTracked = s.MaxTrackedRuns
	}
	parallel := s.ParallelAnalysts
	m.parallel = &parallel
	m.log.Infow("runner settings applied", "max_concurrent", m.maxConcurrent, "max_tracked", m.maxTracked, "parallel_analysts", parallel)
}

// Submit validates a request and starts it in the background. Rejected
// submissions never consume a run id.
func (m *Manager) Submit(ctx context.Context, req models.AnalysisRequest) (*models.SubmitResponse, error) {
	req = req.Normalize()
	fields := validateRequest(m.validate, req)
	if m.checker != nil && req.LLMProvider != "" {
		if err := m.checker.Check(req.LLMProvider, req.LLMModel); err != nil {
			de, ok := terrors.As(err)
			if !ok || de.Code != terrors.CodeValidation {
				return nil, terrors.Sanitize(err, "")
			}
			fields = append(fields, de.Fields...)
		}
	}
	if len(fields) > 0 {
		return nil, terrors.Validation(fields...)
	}

	m.mu.Lock()
	if m.running >= m.maxConcurrent {
		limit := m.maxConcurrent
		m.mu.Unlock()
		return nil, terrors.Backpressure(limit)
	}
	r := &run{
		id:        m.newID(),
		req:       req,
		createdAt: m.now(),
		status:    consts.State_Pending,
		broker:    NewBroker(m.now),
		done:      make(chan struct{}),
	}
	r.ctx, r.stop = context.WithCancel(m.baseCtx)
	m.evictLocked()
	m.runs[r.id] = r
	m.order = append(m.order, r.id)
	m.running++
	parallel := m.parallel
	m.mu.Unlock()

	metrics.RunsActive.Inc()
	m.log.Infow("analysis submitted", "run_id", r.id, "ticker", req.Ticker, "date", req.AnalysisDate,
		"provider", req.LLMProvider, "model", req.LLMModel, "depth", req.ResearchDepth)

	m.wg.Add(1)
	go m.execute(r, parallel)
	return &models.SubmitResponse{RunID: r.id, Status: consts.State_Pending}, nil
}

// evictLocked makes room for one more run, dropping the oldest terminal run
// or, failing that, the oldest run.
func (m *Manager) evictLocked() {
	for len(m.runs) >= m.maxTracked && len(m.order) > 0 {
		victim := -1
		for i, id := range m.order {
			if terminal(m.runs[id].status) {
				victim = i
				break
			}
		}
		if victim < 0 {
			victim = 0
		}
		id := m.order[victim]
		r := m.runs[id]
		m.order = append(m.order[:victim], m.order[victim+1:]...)
		delete(m.runs, id)
		if !terminal(r.status) {
			r.evicted = true
			m.running--
			r.cancelled.Store(true)
			r.stop()
		}
		m.ledger.Forget(id)
		m.audit.Forget(id)
		m.log.Infow("run evicted", "run_id", id, "status", r.status)
	}
}

func (m *Manager) lookup(runID string) (*run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, terrors.NotFound("run %s not found", runID)
	}
	return r, nil
}

func (m *Manager) execute(r *run, parallel *bool) {
	defer m.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			m.log.Errorw("analysis panicked", "run_id", r.id, "panic", p)
			m.finish(r, consts.State_Failed, nil, terrors.Internal(nil, "panic: %v", p))
		}
	}()

	defer r.stop()

	ctx := agents.WithInterrupt(r.ctx, r.cancelled.Load)
	ctx = llm.WithRun(ctx, r.id)

	m.mu.Lock()
	started := m.now()
	r.status = consts.State_Running
	r.startedAt = &started
	m.mu.Unlock()
	r.broker.Publish(models.ProgressEvent{Type: models.EventProgress, Message: "analysis started for " + r.req.Ticker})

	ag, err := m.build(ctx, r.req)
	if err != nil {
		m.finish(r, consts.State_Failed, nil, err)
		return
	}

	var resultsDir string
	scope := &graph.Scope{
		Agents: ag,
		Progress: func(node, message string) {
			r.broker.Publish(models.ProgressEvent{Type: models.EventProgress, Node: node, Message: message})
		},
		Timing: func(t models.NodeTiming) {
			m.mu.Lock()
			r.timings = append(r.timings, t)
			m.mu.Unlock()
		},
		Persist: func(ctx context.Context, st *models.AnalysisState) error {
			dir, err := m.persist(ctx, r, st)
			resultsDir = dir
			return err
		},
		ParallelAnalysts: parallel,
	}

	out, err := m.graph.Run(ctx, models.NewAnalysisState(r.id, r.req), scope)
	if err != nil {
		if terrors.CodeOf(err) == terrors.CodeCancelled || r.cancelled.Load() {
			m.finish(r, consts.State_Cancelled, nil, err)
			return
		}
		m.finish(r, consts.State_Failed, nil, err)
		return
	}
	m.finish(r, consts.State_Completed, &models.AnalysisResult{
		Decision:       out.Decision,
		Reports:        out.Reports(),
		RiskAssessment: out.RiskAssessment,
		ResultsDir:     resultsDir,
	}, nil)
}

// persist writes the bundle to disk and mirrors it to the durable store.
// A disk failure fails the run; a store failure is only logged.
func (m *Manager) persist(ctx context.Context, r *run, st *models.AnalysisState) (string, error) {
	totals := m.ledger.Totals(r.id)
	m.mu.Lock()
	timings := append([]models.NodeTiming(nil), r.timings...)
	m.mu.Unlock()

	b := &models.ReportBundle{
		RunID:          r.id,
		Ticker:         st.Ticker,
		AnalysisDate:   st.TradeDate,
		Request:        r.req,
		Decision:       st.Decision,
		Reports:        st.Reports(),
		RiskAssessment: st.RiskAssessment,
		Timings:        timings,
		Usage:          totals,
		Cost:           totals.Cost,
		CreatedAt:      r.createdAt,
		CompletedAt:    m.now(),
		ToolLog:        m.audit.Entries(r.id),
	}

	var dir string
	if m.results != nil {
		var err error
		if dir, err = m.results.Write(b); err != nil {
			return "", terrors.Internal(err, "write results for %s", r.id)
		}
	}
	if m.reports != nil {
		if err := m.reports.Save(ctx, b); err != nil {
			m.log.Warnw("report store save failed", "run_id", r.id, "error", err)
		}
	}
	return dir, nil
}

func (m *Manager) finish(r *run, status string, result *models.AnalysisResult, err error) {
	m.mu.Lock()
	if terminal(r.status) {
		m.mu.Unlock()
		return
	}
	finished := m.now()
	r.status = status
	r.finishedAt = &finished
	r.result = result
	if err != nil {
		r.err = terrors.Sanitize(err, r.id)
	}
	if !r.evicted {
		m.running--
	}
	derr := r.err
	m.mu.Unlock()

	metrics.RunsActive.Dec()
	metrics.RunsTotal.WithLabelValues(status).Inc()
	totals := m.ledger.Totals(r.id)

	ev := models.ProgressEvent{Type: models.EventCompleted, Result: result}
	switch status {
	case consts.State_Failed:
		ev = models.ProgressEvent{Type: models.EventFailed, Message: derr.Message, Error: derr}
		m.log.Errorw("analysis failed", "run_id", r.id, "code", derr.Code, "error", err)
	case consts.State_Cancelled:
		ev = models.ProgressEvent{Type: models.EventCancelled, Message: "analysis cancelled", Error: derr}
		m.log.Infow("analysis cancelled", "run_id", r.id)
	default:
		m.log.Infow("analysis completed", "run_id", r.id, "action", result.Decision.Action,
			"llm_calls", totals.Calls, "cost", totals.Cost)
	}
	r.broker.Publish(ev)
	close(r.done)
}

// Get returns the public view of a run.
func (m *Manager) Get(runID string) (*models.RunView, error) {
	r, err := m.lookup(runID)
	if err != nil {
		return nil, err
	}
	return m.view(r), nil
}

func (m *Manager) view(r *run) *models.RunView {
	m.mu.Lock()
	v := &models.RunView{
		RunID:      r.id,
		Request:    r.req,
		Status:     r.status,
		CreatedAt:  r.createdAt,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
		Result:     r.result,
		Error:      r.err,
	}
	m.mu.Unlock()
	v.Progress = r.broker.Messages()
	v.Usage = m.ledger.Totals(r.id)
	return v
}

// List returns the most recent runs ordered by creation time, oldest first.
func (m *Manager) List(limit int) []*models.RunView {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.Lock()
	rs := make([]*run, 0, len(m.runs))
	for _, id := range m.order {
		rs = append(rs, m.runs[id])
	}
	m.mu.Unlock()

	sort.SliceStable(rs, func(i, j int) bool { return rs[i].createdAt.Before(rs[j].createdAt) })
	if len(rs) > limit {
		rs = rs[len(rs)-limit:]
	}
	out := make([]*models.RunView, 0, len(rs))
	for _, r := range rs {
		out = append(out, m.view(r))
	}
	return out
}

// Cancel raises the run's cancel flag. The graph stops at the next node
// boundary; calls already in flight finish and keep their usage records.
func (m *Manager) Cancel(runID string) error {
	r, err := m.lookup(runID)
	if err != nil {
		return err
	}
	if r.cancelled.CompareAndSwap(false, true) {
		m.log.Infow("cancel requested", "run_id", runID)
	}
	return nil
}

// Wait blocks until the run is terminal or ctx ends.
func (m *Manager) Wait(ctx context.Context, runID string) (*models.RunView, error) {
	r, err := m.lookup(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-r.done:
		return m.view(r), nil
	case <-ctx.Done():
		return nil, terrors.Wrap(ctx.Err(), terrors.CodeCancelled, "wait interrupted")
	}
}

// Running reports how many admitted runs count against the cap.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Limits returns the current admission limits.
func (m *Manager) Limits() (maxConcurrent, maxTracked int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxConcurrent, m.maxTracked
}

// Ledger exposes usage accounting for reporting.
func (m *Manager) Ledger() *llm.UsageLedger { return m.ledger }

// Shutdown cancels every active run and waits for the workers to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, r := range m.runs {
		if !terminal(r.status) {
			r.cancelled.Store(true)
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.stop()
		return nil
	case <-ctx.Done():
		m.stop()
		return ctx.Err()
	}
}
