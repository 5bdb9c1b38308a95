package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

// mapStore is an in-memory stand-in for the Redis and Mongo tiers.
type mapStore struct {
	name    string
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
	failPut bool
}

func newMapStore(name string) *mapStore {
	return &mapStore{name: name, entries: map[string]*models.CacheEntry{}}
}

func (s *mapStore) Name() string { return s.name }

func (s *mapStore) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	return e, nil
}

func (s *mapStore) Put(_ context.Context, e *models.CacheEntry) error {
	if s.failPut {
		return errors.New("write refused")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key] = e
	return nil
}

func (s *mapStore) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.entries {
		if e.CreatedAt.Before(olderThan) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *mapStore) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

func (s *mapStore) drop(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var barsSpec = Spec{Category: "bars", Symbol: "AAPL", Start: "2024-05-04", End: "2024-06-03", Source: "yahoo"}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *mapStore, *mapStore, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)}
	redis := newMapStore("redis")
	mongo := newMapStore("mongo")
	base := []Option{WithRedis(redis), WithMongo(mongo), WithClock(clk.Now), WithLogger(logger.Nop())}
	return NewManager(append(base, opts...)...), redis, mongo, clk
}

func TestKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, Key(barsSpec), Key(barsSpec))
	lower := barsSpec
	lower.Symbol = "aapl"
	assert.Equal(t, Key(barsSpec), Key(lower))

	other := barsSpec
	other.Source = "longport"
	assert.NotEqual(t, Key(barsSpec), Key(other))
	assert.Len(t, Key(barsSpec), 64)
}

func TestSaveThenLoadIsIdentity(t *testing.T) {
	m, redis, mongo, _ := newTestManager(t)
	ctx := context.Background()

	key, err := m.Save(ctx, barsSpec, models.FormatTabularJSON, `[{"date":"2024-06-03","close":194.03}]`)
	require.NoError(t, err)

	e, ok := m.Load(ctx, key)
	require.True(t, ok)
	assert.Equal(t, `[{"date":"2024-06-03","close":194.03}]`, e.Payload)
	assert.Equal(t, int64(7200), e.TTLSeconds)

	_, inRedis := redis.entries[key]
	_, inMongo := mongo.entries[key]
	assert.True(t, inRedis)
	assert.True(t, inMongo)
}

func TestLoadHonoursTTL(t *testing.T) {
	m, _, _, clk := newTestManager(t)
	ctx := context.Background()
	key, err := m.Save(ctx, Spec{Category: "indices", Symbol: "^GSPC", Source: "yahoo"}, models.FormatTabularJSON, "[]")
	require.NoError(t, err)

	clk.Advance(9 * time.Minute)
	_, ok := m.Load(ctx, key)
	assert.True(t, ok)

	clk.Advance(2 * time.Minute)
	_, ok = m.Load(ctx, key)
	assert.False(t, ok)
}

func TestUnknownCategoryGetsOneHour(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	assert.Equal(t, time.Hour, m.TTL("options"))
	e := &models.CacheEntry{}
	assert.Equal(t, time.Hour, e.TTL())
}

func TestMongoHitRehydratesRedis(t *testing.T) {
	m, redis, mongo, _ := newTestManager(t)
	ctx := context.Background()
	key, err := m.Save(ctx, barsSpec, models.FormatTabularJSON, "[1]")
	require.NoError(t, err)

	redis.drop(key)
	m.memo.lru.Purge()

	hit, ok := m.Read(ctx, key, false)
	require.True(t, ok)
	assert.Equal(t, "mongo", hit.Tier)
	_, back := redis.entries[key]
	assert.True(t, back)
	assert.Len(t, mongo.entries, 1)
}

func TestExpiredMongoEntryServedStale(t *testing.T) {
	m, redis, _, clk := newTestManager(t)
	ctx := context.Background()
	key, err := m.Save(ctx, barsSpec, models.FormatTabularJSON, "[1]")
	require.NoError(t, err)
	redis.drop(key)

	clk.Advance(3 * time.Hour)
	_, ok := m.Read(ctx, key, false)
	assert.False(t, ok)

	hit, ok := m.Read(ctx, key, true)
	require.True(t, ok)
	assert.True(t, hit.Stale)
}

func TestFetchCachesAndCoalesces(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (string, string, error) {
		calls.Add(1)
		<-release
		return "payload", "yahoo", nil
	}

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := m.Fetch(ctx, barsSpec, models.FormatText, fetch)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "payload", r.Payload)
	}

	r, err := m.Fetch(ctx, barsSpec, models.FormatText, fetch)
	require.NoError(t, err)
	assert.True(t, r.Cached)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchFallsBackToStale(t *testing.T) {
	m, _, _, clk := newTestManager(t)
	ctx := context.Background()
	_, err := m.Save(ctx, barsSpec, models.FormatText, "old")
	require.NoError(t, err)
	clk.Advance(5 * time.Hour)

	r, err := m.Fetch(ctx, barsSpec, models.FormatText, func(context.Context) (string, string, error) {
		return "", "", errors.New("503")
	})
	require.NoError(t, err)
	assert.True(t, r.Stale)
	assert.Equal(t, "old", r.Payload)
	assert.Equal(t, int64(1), m.Stats(ctx).StaleServed)
}

func TestFetchWithNothingCachedIsDataUnavailable(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	_, err := m.Fetch(context.Background(), barsSpec, models.FormatText, func(context.Context) (string, string, error) {
		return "", "yahoo", nil
	})
	require.Error(t, err)
	assert.True(t, terrors.Is(err, terrors.ErrDataUnavailable))
}

func TestMongoWriteFailureIsReported(t *testing.T) {
	m, redis, mongo, _ := newTestManager(t)
	mongo.failPut = true

	key, err := m.Save(context.Background(), barsSpec, models.FormatText, "x")
	require.Error(t, err)
	_, inRedis := redis.entries[key]
	assert.True(t, inRedis)
}

func TestOfflineReadsFileTierOnly(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	online, _, _, clk := newTestManager(t, WithFile(fs))
	ctx := context.Background()
	_, err = online.Save(ctx, barsSpec, models.FormatText, "from-disk")
	require.NoError(t, err)

	offline := NewManager(WithFile(fs), WithOffline(true), WithClock(clk.Now), WithLogger(logger.Nop()))
	var called bool
	r, err := offline.Fetch(ctx, barsSpec, models.FormatText, func(context.Context) (string, string, error) {
		called = true
		return "remote", "yahoo", nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, "from-disk", r.Payload)
}

func TestFindAndPurge(t *testing.T) {
	m, _, _, clk := newTestManager(t)
	ctx := context.Background()
	key, err := m.Save(ctx, barsSpec, models.FormatText, "x")
	require.NoError(t, err)

	got, ok := m.Find(ctx, barsSpec, time.Hour)
	require.True(t, ok)
	assert.Equal(t, key, got)

	clk.Advance(3 * time.Hour)
	_, ok = m.Find(ctx, barsSpec, time.Hour)
	assert.False(t, ok)
	_, ok = m.Find(ctx, barsSpec, Forever)
	assert.True(t, ok)

	n, err := m.Purge(ctx, clk.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	_, ok = m.Find(ctx, barsSpec, Forever)
	assert.False(t, ok)
}
