package models

import "time"

const (
	FormatText        = "text"
	FormatTabularJSON = "tabular_json"
)

// CacheEntry is one immutable cached artifact.
type CacheEntry struct {
	Key        string    `json:"key" bson:"_id"`
	Category   string    `json:"category" bson:"category"`
	Symbol     string    `json:"symbol" bson:"symbol"`
	Start      string    `json:"start,omitempty" bson:"start,omitempty"`
	End        string    `json:"end,omitempty" bson:"end,omitempty"`
	SourceTag  string    `json:"source_tag" bson:"source_tag"`
	Format     string    `json:"format" bson:"format"`
	Payload    string    `json:"payload" bson:"payload"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
	TTLSeconds int64     `json:"ttl_seconds" bson:"ttl_seconds"`
	Version    int       `json:"schema_version" bson:"schema_version"`
}

// TTL returns the entry lifetime; unknown or missing TTLs count as one hour.
func (e *CacheEntry) TTL() time.Duration {
	if e.TTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(e.TTLSeconds) * time.Second
}

// ExpiresAt is created_at plus the TTL.
func (e *CacheEntry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL())
}

// Fresh reports whether the entry is within its TTL at now.
func (e *CacheEntry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt())
}

// TierStats is the per-tier summary returned by Cache stats.
type TierStats struct {
	Tier    string `json:"tier"`
	Entries int64  `json:"entries"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Errors  int64  `json:"errors"`
}

// CacheStats aggregates tier statistics.
type CacheStats struct {
	Tiers         []TierStats `json:"tiers"`
	RemoteFetches int64       `json:"remote_fetches"`
	StaleServed   int64       `json:"stale_served"`
}
