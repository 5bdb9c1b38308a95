package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dyike/TradingAgentsGo/internal/metrics"
	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

// DefaultTTLs are the per-category lifetimes.
var DefaultTTLs = map[string]time.Duration{
	"bars":         2 * time.Hour,
	"news":         6 * time.Hour,
	"fundamentals": 24 * time.Hour,
	"sentiment":    6 * time.Hour,
	"indices":      10 * time.Minute,
}

// ErrNoData is returned by fetchers that reached the source but got nothing.
var ErrNoData = errors.New("source returned no data")

// Hit is a successful read.
type Hit struct {
	Entry *models.CacheEntry
	Stale bool
	Tier  string
}

// Result is what Fetch hands back to the data layer.
type Result struct {
	Key     string
	Payload string
	Source  string
	Stale   bool
	Cached  bool
	Created time.Time
}

// FetchFunc calls the remote source and returns the payload plus the tag of
// the source that actually answered.
type FetchFunc func(ctx context.Context) (payload string, source string, err error)

type tierCounters struct {
	hits, misses, errors atomic.Int64
}

// Manager fronts every tier. Reads go memory, Redis, Mongo, file; writes go
// Mongo, Redis, file and memory.
type Manager struct {
	memo  *MemoryStore
	redis Store
	mongo Store
	file  Store

	mu      sync.RWMutex
	ttls    map[string]time.Duration
	offline bool
	now     func() time.Time

	group    singleflight.Group
	counters map[string]*tierCounters
	remote   atomic.Int64
	stale    atomic.Int64
	log      *logger.Logger
}

type Option func(*Manager)

func WithRedis(s Store) Option { return func(m *Manager) { m.redis = s } }
func WithMongo(s Store) Option { return func(m *Manager) { m.mongo = s } }
func WithFile(s Store) Option  { return func(m *Manager) { m.file = s } }

func WithMemoSize(n int) Option {
	return func(m *Manager) { m.memo = NewMemoryStore(n) }
}

// WithOffline restricts reads to the file tier and disables remote fetches.
func WithOffline(offline bool) Option {
	return func(m *Manager) { m.offline = offline }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithTTLs(ttls map[string]time.Duration) Option {
	return func(m *Manager) {
		for k, v := range ttls {
			m.ttls[k] = v
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		memo:     NewMemoryStore(512),
		ttls:     make(map[string]time.Duration, len(DefaultTTLs)),
		now:      time.Now,
		counters: make(map[string]*tierCounters),
		log:      logger.Named("cache"),
	}
	for k, v := range DefaultTTLs {
		m.ttls[k] = v
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, s := range m.tiers() {
		m.counters[s.Name()] = &tierCounters{}
	}
	return m
}

func (m *Manager) tiers() []Store {
	out := []Store{m.memo}
	for _, s := range []Store{m.redis, m.mongo, m.file} {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// SetTTLs replaces category TTLs at runtime.
func (m *Manager) SetTTLs(ttls map[string]time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range ttls {
		if v > 0 {
			m.ttls[k] = v
		}
	}
}

// TTL returns the lifetime of a category; unknown categories get one hour.
func (m *Manager) TTL(category string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ttl, ok := m.ttls[category]; ok && ttl > 0 {
		return ttl
	}
	return time.Hour
}

func (m *Manager) Offline() bool { return m.offline }

func (m *Manager) record(tier, result string) {
	metrics.CacheLookups.WithLabelValues(tier, result).Inc()
	c := m.counters[tier]
	if c == nil {
		return
	}
	switch result {
	case "hit":
		c.hits.Add(1)
	case "miss":
		c.misses.Add(1)
	default:
		c.errors.Add(1)
	}
}

func (m *Manager) get(ctx context.Context, s Store, key string) *models.CacheEntry {
	e, err := s.Get(ctx, key)
	switch {
	case err == nil:
		m.record(s.Name(), "hit")
		return e
	case errors.Is(err, ErrMiss):
		m.record(s.Name(), "miss")
	default:
		m.record(s.Name(), "error")
		m.log.Warnw("cache tier read failed", "tier", s.Name(), "key", key, "error", err)
	}
	return nil
}

// Read is the single read path. A fresh entry is returned from the first
// tier that holds one. With allowStale, the freshest expired copy is
// returned when no tier is fresh.
func (m *Manager) Read(ctx context.Context, key string, allowStale bool) (*Hit, bool) {
	now := m.now()
	var candidate *Hit
	consider := func(e *models.CacheEntry, tier string) {
		if candidate == nil || e.CreatedAt.After(candidate.Entry.CreatedAt) {
			candidate = &Hit{Entry: e, Stale: true, Tier: tier}
		}
	}

	if m.offline {
		if m.file == nil {
			return nil, false
		}
		if e := m.get(ctx, m.file, key); e != nil {
			if e.Fresh(now) {
				return &Hit{Entry: e, Tier: m.file.Name()}, true
			}
			if allowStale {
				return &Hit{Entry: e, Stale: true, Tier: m.file.Name()}, true
			}
		}
		return nil, false
	}

	if e := m.get(ctx, m.memo, key); e != nil {
		if e.Fresh(now) {
			return &Hit{Entry: e, Tier: m.memo.Name()}, true
		}
		consider(e, m.memo.Name())
	}

	if m.redis != nil {
		if e := m.get(ctx, m.redis, key); e != nil {
			if e.Fresh(now) {
				_ = m.memo.Put(ctx, e)
				return &Hit{Entry: e, Tier: m.redis.Name()}, true
			}
			consider(e, m.redis.Name())
		}
	}

	if m.mongo != nil {
		if e := m.get(ctx, m.mongo, key); e != nil {
			if e.Fresh(now) {
				if m.redis != nil {
					if err := m.redis.Put(ctx, e); err != nil {
						m.log.Warnw("redis rehydrate failed", "key", key, "error", err)
					}
				}
				_ = m.memo.Put(ctx, e)
				return &Hit{Entry: e, Tier: m.mongo.Name()}, true
			}
			consider(e, m.mongo.Name())
		}
	}

	if m.file != nil {
		if e := m.get(ctx, m.file, key); e != nil {
			if e.Fresh(now) {
				return &Hit{Entry: e, Tier: m.file.Name()}, true
			}
			consider(e, m.file.Name())
		}
	}

	if allowStale && candidate != nil {
		return candidate, true
	}
	return nil, false
}

// Save writes a new entry to every tier and returns its key. Only a Mongo
// failure is returned; other tier failures are logged.
func (m *Manager) Save(ctx context.Context, spec Spec, format, payload string) (string, error) {
	return m.save(ctx, spec, spec.Source, format, payload)
}

// save records tag as the answering source; the key always uses spec.Source.
func (m *Manager) save(ctx context.Context, spec Spec, tag, format, payload string) (string, error) {
	key := Key(spec)
	entry := &models.CacheEntry{
		Key:        key,
		Category:   spec.Category,
		Symbol:     spec.Symbol,
		Start:      spec.Start,
		End:        spec.End,
		SourceTag:  tag,
		Format:     format,
		Payload:    payload,
		CreatedAt:  m.now().UTC(),
		TTLSeconds: int64(m.TTL(spec.Category) / time.Second),
		Version:    SchemaVersion,
	}
	return key, m.put(ctx, entry)
}

func (m *Manager) put(ctx context.Context, entry *models.CacheEntry) error {
	var durableErr error
	if m.mongo != nil {
		if err := m.mongo.Put(ctx, entry); err != nil {
			durableErr = terrors.Wrap(err, terrors.CodeInternal, "mongo cache write failed")
		}
	}
	if m.redis != nil {
		if err := m.redis.Put(ctx, entry); err != nil {
			m.log.Warnw("redis cache write failed", "key", entry.Key, "error", err)
		}
	}
	if m.file != nil {
		if err := m.file.Put(ctx, entry); err != nil {
			m.log.Warnw("file cache write failed", "key", entry.Key, "error", err)
		}
	}
	_ = m.memo.Put(ctx, entry)
	return durableErr
}

// Load returns the payload of a fresh entry.
func (m *Manager) Load(ctx context.Context, key string) (*models.CacheEntry, bool) {
	hit, ok := m.Read(ctx, key, false)
	if !ok {
		return nil, false
	}
	return hit.Entry, true
}

// Find returns the key of an entry for spec no older than maxAge.
func (m *Manager) Find(ctx context.Context, spec Spec, maxAge time.Duration) (string, bool) {
	key := Key(spec)
	hit, ok := m.Read(ctx, key, true)
	if !ok {
		return "", false
	}
	if maxAge != Forever && m.now().Sub(hit.Entry.CreatedAt) > maxAge {
		return "", false
	}
	return key, true
}

// Fetch returns the cached payload for spec, calling fetch on a miss. Misses
// for the same key are coalesced into one fetch. When fetch fails the
// freshest stale copy is returned; with nothing cached the error is
// data_unavailable.
func (m *Manager) Fetch(ctx context.Context, spec Spec, format string, fetch FetchFunc) (*Result, error) {
	key := Key(spec)
	if hit, ok := m.Read(ctx, key, false); ok {
		return resultFrom(key, hit), nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		if hit, ok := m.Read(ctx, key, false); ok {
			return resultFrom(key, hit), nil
		}

		var fetchErr error
		if m.offline {
			fetchErr = errors.New("offline mode")
		} else {
			m.remote.Add(1)
			payload, source, err := fetch(ctx)
			if err == nil && payload == "" {
				err = ErrNoData
			}
			if err == nil {
				if source == "" {
					source = spec.Source
				}
				if _, err := m.save(ctx, spec, source, format, payload); err != nil {
					m.log.Warnw("durable cache write failed", "key", key, "error", err)
				}
				return &Result{Key: key, Payload: payload, Source: source, Created: m.now()}, nil
			}
			fetchErr = err
		}

		if hit, ok := m.Read(ctx, key, true); ok {
			m.stale.Add(1)
			m.log.Infow("serving stale cache entry", "key", key, "category", spec.Category,
				"symbol", spec.Symbol, "tier", hit.Tier, "error", fetchErr)
			return resultFrom(key, hit), nil
		}
		return nil, terrors.DataUnavailable(fetchErr, "no %s data for %s", spec.Category, spec.Symbol)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func resultFrom(key string, hit *Hit) *Result {
	return &Result{
		Key:     key,
		Payload: hit.Entry.Payload,
		Source:  hit.Entry.SourceTag,
		Stale:   hit.Stale,
		Cached:  true,
		Created: hit.Entry.CreatedAt,
	}
}

// Stats summarizes every tier.
func (m *Manager) Stats(ctx context.Context) models.CacheStats {
	out := models.CacheStats{
		RemoteFetches: m.remote.Load(),
		StaleServed:   m.stale.Load(),
	}
	for _, s := range m.tiers() {
		n, err := s.Count(ctx)
		if err != nil {
			m.log.Warnw("cache tier count failed", "tier", s.Name(), "error", err)
			n = -1
		}
		c := m.counters[s.Name()]
		out.Tiers = append(out.Tiers, models.TierStats{
			Tier:    s.Name(),
			Entries: n,
			Hits:    c.hits.Load(),
			Misses:  c.misses.Load(),
			Errors:  c.errors.Load(),
		})
	}
	return out
}

// Purge removes entries created before olderThan from every tier.
func (m *Manager) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	var total int64
	var errs []error
	for _, s := range m.tiers() {
		n, err := s.Purge(ctx, olderThan)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}
