package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/TradingAgentsGo/models"
)

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	e := &models.CacheEntry{Key: Key(barsSpec), Payload: "hello", CreatedAt: time.Now()}
	require.NoError(t, fs.Put(ctx, e))

	got, err := fs.Get(ctx, e.Key)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Payload)

	matches, _ := filepath.Glob(filepath.Join(dir, "*", "*.tmp"))
	assert.Empty(t, matches)

	_, err = fs.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	n, err := fs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = os.Stat(fs.path(e.Key))
	assert.NoError(t, err)
}
