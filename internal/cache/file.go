package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dyike/TradingAgentsGo/models"
)

// FileStore keeps one JSON blob per key under dir. It serves as the offline
// fallback tier and is never promoted from.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) Name() string { return "file" }

func (f *FileStore) path(key string) string {
	shard := "00"
	if len(key) >= 2 {
		shard = key[:2]
	}
	return filepath.Join(f.dir, shard, key+".json")
}

func (f *FileStore) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrMiss
		}
		return nil, err
	}
	var e models.CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode cache blob %s: %w", key, err)
	}
	return &e, nil
}

// Put writes to a temp file and renames it into place so readers never see
// a partial blob.
func (f *FileStore) Put(_ context.Context, entry *models.CacheEntry) error {
	target := f.path(entry.Key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "blob-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (f *FileStore) walk(fn func(path string, e *models.CacheEntry) error) error {
	return filepath.WalkDir(f.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var e models.CacheEntry
		if json.Unmarshal(data, &e) != nil {
			return nil
		}
		return fn(path, &e)
	})
}

func (f *FileStore) Purge(_ context.Context, olderThan time.Time) (int64, error) {
	var n int64
	err := f.walk(func(path string, e *models.CacheEntry) error {
		if e.CreatedAt.Before(olderThan) {
			if err := os.Remove(path); err == nil {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (f *FileStore) Count(context.Context) (int64, error) {
	var n int64
	err := f.walk(func(string, *models.CacheEntry) error {
		n++
		return nil
	})
	return n, err
}
