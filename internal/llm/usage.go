package llm

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/dyike/TradingAgentsGo/models"
	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	roleKey
)

// WithRun tags ctx with the run that LLM calls are billed to.
func WithRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithRole tags ctx with the agent role making LLM calls.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

func RunIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

func RoleFrom(ctx context.Context) string {
	v, _ := ctx.Value(roleKey).(string)
	return v
}

var thousand = decimal.NewFromInt(1000)

// EstimateCost prices a call against the model's rate card.
func EstimateCost(m ModelInfo, nIn, nOut int) float64 {
	return costOf(m, nIn, nOut).InexactFloat64()
}

func costOf(m ModelInfo, nIn, nOut int) decimal.Decimal {
	in := decimal.NewFromInt(int64(nIn)).Div(thousand).Mul(decimal.NewFromFloat(m.PriceIn))
	out := decimal.NewFromInt(int64(nOut)).Div(thousand).Mul(decimal.NewFromFloat(m.PriceOut))
	return in.Add(out)
}

// EstimateCost prices a call for pre-flight budgeting.
func (r *Registry) EstimateCost(provider, model string, nIn, nOut int) (float64, error) {
	_, m, err := r.ResolveModel(provider, model)
	if err != nil {
		return 0, err
	}
	return EstimateCost(m, nIn, nOut), nil
}

// UsageSink persists usage records outside the process.
type UsageSink interface {
	RecordUsage(ctx context.Context, u models.TokenUsage) error
}

// MongoUsageSink appends usage records to a collection.
type MongoUsageSink struct {
	coll *mongo.Collection
}

func NewMongoUsageSink(coll *mongo.Collection) *MongoUsageSink {
	return &MongoUsageSink{coll: coll}
}

func (s *MongoUsageSink) RecordUsage(ctx context.Context, u models.TokenUsage) error {
	_, err := s.coll.InsertOne(ctx, u)
	return err
}

type runUsage struct {
	records []models.TokenUsage
	cost    decimal.Decimal
}

// UsageLedger is the append-only store of usage records, grouped by run.
type UsageLedger struct {
	mu     sync.Mutex
	runs   map[string]*runUsage
	global models.UsageTotals
	cost   decimal.Decimal
	sink   UsageSink
	log    *logger.Logger
}

func NewUsageLedger(sink UsageSink) *UsageLedger {
	return &UsageLedger{
		runs: make(map[string]*runUsage),
		sink: sink,
		log:  logger.Named("usage"),
	}
}

// Record appends u. Sink failures are logged and never fail the call.
func (l *UsageLedger) Record(ctx context.Context, u models.TokenUsage) {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}
	cost := decimal.NewFromFloat(u.Cost)

	l.mu.Lock()
	r := l.runs[u.RunID]
	if r == nil {
		r = &runUsage{}
		l.runs[u.RunID] = r
	}
	r.records = append(r.records, u)
	r.cost = r.cost.Add(cost)
	l.global.Calls++
	l.global.InputTokens += u.InputTokens
	l.global.OutputTokens += u.OutputTokens
	l.cost = l.cost.Add(cost)
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.RecordUsage(context.WithoutCancel(ctx), u); err != nil {
			l.log.Warnw("usage sink write failed", "run_id", u.RunID, "error", err)
		}
	}
}

// Records returns a copy of the run's records.
func (l *UsageLedger) Records(runID string) []models.TokenUsage {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.runs[runID]
	if r == nil {
		return nil
	}
	return append([]models.TokenUsage(nil), r.records...)
}

// Totals sums the run's records.
func (l *UsageLedger) Totals(runID string) models.UsageTotals {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.runs[runID]
	if r == nil {
		return models.UsageTotals{}
	}
	t := models.UsageTotals{Calls: len(r.records), Cost: r.cost.InexactFloat64()}
	for _, u := range r.records {
		t.InputTokens += u.InputTokens
		t.OutputTokens += u.OutputTokens
	}
	return t
}

// Global sums every record since start.
func (l *UsageLedger) Global() models.UsageTotals {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.global
	t.Cost = l.cost.InexactFloat64()
	return t
}

// Forget drops a run's records once it has been evicted.
func (l *UsageLedger) Forget(runID string) {
	l.mu.Lock()
	delete(l.runs, runID)
	l.mu.Unlock()
}
