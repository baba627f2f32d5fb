package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sw33tLie/spacescope/internal/utils"
)

const DefaultCacheKey = "spacescope-history"

// MemoryCache keeps the blob in process memory.
type MemoryCache struct {
	mu      sync.Mutex
	entries []Entry
	// LoadErr and SaveErr, when set, are returned instead of touching the blob.
	LoadErr error
	SaveErr error
}

func (c *MemoryCache) Load(context.Context) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LoadErr != nil {
		return nil, c.LoadErr
	}
	return cloneEntries(c.entries), nil
}

func (c *MemoryCache) Save(_ context.Context, entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SaveErr != nil {
		return c.SaveErr
	}
	c.entries = cloneEntries(entries)
	return nil
}

// FileCache stores the blob as <dir>/<key>.json. A file lock serializes
// writers across processes.
type FileCache struct {
	mu   sync.Mutex
	path string
	lock *utils.FileLock
}

func NewFileCache(dir, key string) (*FileCache, error) {
	if key == "" {
		key = DefaultCacheKey
	}
	dir, err := utils.DataDir(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	path := filepath.Join(dir, key+".json")
	lock, err := utils.NewFileLock(path)
	if err != nil {
		return nil, err
	}
	return &FileCache{path: path, lock: lock}, nil
}

// Path returns the blob location.
func (c *FileCache) Path() string { return c.path }

func (c *FileCache) Load(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := c.locked(ctx, func() error {
		var err error
		out, err = c.read()
		return err
	})
	return out, err
}

func (c *FileCache) Save(ctx context.Context, entries []Entry) error {
	return c.locked(ctx, func() error { return c.write(entries) })
}

// Update applies fn to the stored entries under a single lock.
func (c *FileCache) Update(ctx context.Context, fn func([]Entry) []Entry) error {
	return c.locked(ctx, func() error {
		entries, err := c.read()
		if err != nil {
			return err
		}
		return c.write(fn(entries))
	})
}

func (c *FileCache) locked(ctx context.Context, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.lock.Lock(ctx); err != nil {
		return err
	}
	defer c.lock.Unlock()
	return fn()
}

func (c *FileCache) read() ([]Entry, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("corrupt history cache %s: %w", c.path, err)
	}
	return entries, nil
}

func (c *FileCache) write(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path)
}

// RedisCache stores the blob under one redis key.
type RedisCache struct {
	rdb *redis.Client
	key string
}

// NewRedisCache parses a redis:// URL and returns a cache bound to key.
func NewRedisCache(redisURL, key string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisCacheWithClient(redis.NewClient(opts), key), nil
}

func NewRedisCacheWithClient(rdb *redis.Client, key string) *RedisCache {
	if key == "" {
		key = DefaultCacheKey
	}
	return &RedisCache{rdb: rdb, key: key}
}

func (c *RedisCache) Load(ctx context.Context) ([]Entry, error) {
	data, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("corrupt history cache %s: %w", c.key, err)
	}
	return entries, nil
}

func (c *RedisCache) Save(ctx context.Context, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key, data, 0).Err()
}

// Update runs a WATCH/MULTI transaction so concurrent writers do not lose
// each other's changes.
func (c *RedisCache) Update(ctx context.Context, fn func([]Entry) []Entry) error {
	txf := func(tx *redis.Tx) error {
		var entries []Entry
		data, err := tx.Get(ctx, c.key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &entries); err != nil {
				return fmt.Errorf("corrupt history cache %s: %w", c.key, err)
			}
		}
		next := fn(entries)
		if next == nil {
			next = []Entry{}
		}
		out, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < 5; i++ {
		err := c.rdb.Watch(ctx, txf, c.key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("history cache %s: too much write contention", c.key)
}

// Close releases the redis connection pool.
func (c *RedisCache) Close() error { return c.rdb.Close() }

// CacheBackend turns a Cache into a Backend for local-only operation.
type CacheBackend struct {
	Cache Cache
}

func (b CacheBackend) Append(ctx context.Context, e Entry) error {
	return b.update(ctx, func(entries []Entry) []Entry { return append(entries, e) })
}

func (b CacheBackend) Remove(ctx context.Context, id string) error {
	found := false
	err := b.update(ctx, func(entries []Entry) []Entry {
		out := entries[:0]
		for _, e := range entries {
			if e.ID == id {
				found = true
				continue
			}
			out = append(out, e)
		}
		return out
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (b CacheBackend) Clear(ctx context.Context) error {
	return b.Cache.Save(ctx, nil)
}

func (b CacheBackend) List(ctx context.Context, page, pageSize int) (Page, error) {
	entries, err := b.Cache.Load(ctx)
	if err != nil {
		return Page{}, err
	}
	return Paginate(entries, page, pageSize), nil
}

func (b CacheBackend) update(ctx context.Context, fn func([]Entry) []Entry) error {
	if u, ok := b.Cache.(updater); ok {
		return u.Update(ctx, fn)
	}
	entries, err := b.Cache.Load(ctx)
	if err != nil {
		return err
	}
	return b.Cache.Save(ctx, fn(entries))
}

// updater is implemented by caches that can read-modify-write atomically.
type updater interface {
	Update(ctx context.Context, fn func([]Entry) []Entry) error
}

func cloneEntries(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}
