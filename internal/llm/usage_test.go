package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/TradingAgentsGo/models"
)

type recordingSink struct {
	mu      sync.Mutex
	records []models.TokenUsage
	err     error
}

func (s *recordingSink) RecordUsage(ctx context.Context, u models.TokenUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, u)
	return s.err
}

func TestEstimateCost(t *testing.T) {
	m := ModelInfo{Name: "x", PriceIn: 0.0025, PriceOut: 0.01}
	assert.InDelta(t, 0.0025+0.005, EstimateCost(m, 1000, 500), 1e-12)
	assert.Zero(t, EstimateCost(ModelInfo{}, 1000, 1000))

	reg, err := NewRegistry()
	require.NoError(t, err)
	c, err := reg.EstimateCost("openai", "gpt-4o", 2000, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 0.005+0.01, c, 1e-12)

	_, err = reg.EstimateCost("openai", "unknown-model", 1, 1)
	assert.Error(t, err)
}

func TestUsageLedgerTotals(t *testing.T) {
	sink := &recordingSink{}
	l := NewUsageLedger(sink)
	ctx := context.Background()

	l.Record(ctx, models.TokenUsage{RunID: "r1", Role: "market", InputTokens: 100, OutputTokens: 50, Cost: 0.1})
	l.Record(ctx, models.TokenUsage{RunID: "r1", Role: "trader", InputTokens: 10, OutputTokens: 5, Cost: 0.2})
	l.Record(ctx, models.TokenUsage{RunID: "r2", Role: "market", InputTokens: 1, OutputTokens: 1, Cost: 0.05})

	t1 := l.Totals("r1")
	assert.Equal(t, 2, t1.Calls)
	assert.Equal(t, 110, t1.InputTokens)
	assert.Equal(t, 55, t1.OutputTokens)
	assert.InDelta(t, 0.3, t1.Cost, 1e-12)

	g := l.Global()
	assert.Equal(t, 3, g.Calls)
	assert.InDelta(t, 0.35, g.Cost, 1e-12)

	recs := l.Records("r1")
	require.Len(t, recs, 2)
	assert.False(t, recs[0].Timestamp.IsZero())
	assert.Len(t, sink.records, 3)

	l.Forget("r1")
	assert.Empty(t, l.Records("r1"))
	assert.Equal(t, 3, l.Global().Calls, "global totals outlive eviction")
}

func TestUsageLedgerSinkErrorIgnored(t *testing.T) {
	l := NewUsageLedger(&recordingSink{err: errors.New("mongo down")})
	l.Record(context.Background(), models.TokenUsage{RunID: "r1", InputTokens: 1})
	assert.Equal(t, 1, l.Totals("r1").Calls)
}

func TestContextTags(t *testing.T) {
	ctx := WithRole(WithRun(context.Background(), "run-1"), "bull_researcher")
	assert.Equal(t, "run-1", RunIDFrom(ctx))
	assert.Equal(t, "bull_researcher", RoleFrom(ctx))
	assert.Empty(t, RunIDFrom(context.Background()))
}
