package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dyike/TradingAgentsGo/models"
)

// SchemaVersion participates in every key; bump it when payload layouts change.
const SchemaVersion = 1

// ErrMiss is returned by a Store that does not hold the key.
var ErrMiss = errors.New("cache miss")

// Forever disables the age bound in Find.
const Forever = time.Duration(1<<63 - 1)

// Store is one cache tier.
type Store interface {
	Name() string
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Put(ctx context.Context, entry *models.CacheEntry) error
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// Spec identifies a cached artifact.
type Spec struct {
	Category string
	Symbol   string
	Start    string
	End      string
	Source   string
}

// Key derives the content address of spec.
func Key(spec Spec) string {
	parts := []string{
		spec.Category,
		strings.ToUpper(spec.Symbol),
		spec.Start,
		spec.End,
		spec.Source,
		strconv.Itoa(SchemaVersion),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "||")))
	return hex.EncodeToString(sum[:])
}
