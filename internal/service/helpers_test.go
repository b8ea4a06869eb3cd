package service

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/labroster/pkg/database"
	appErrors "github.com/noah-isme/labroster/pkg/errors"
)

// memoryCache is an in-process CacheRepository keyed like Redis.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deletes []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
		c.deletes = append(c.deletes, key)
	}
	return nil
}

func (c *memoryCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(c.entries, key)
			removed++
		}
	}
	c.deletes = append(c.deletes, pattern)
	return removed, nil
}

func (c *memoryCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// fakeHasher tags passwords instead of hashing them. Hashes prefixed with
// "legacy:" verify but report NeedsRehash.
type fakeHasher struct {
	mu       sync.Mutex
	hashes   int
	verifies int
}

func (h *fakeHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h.mu.Lock()
	h.hashes++
	h.mu.Unlock()
	return "hashed:" + password, nil
}

func (h *fakeHasher) Verify(ctx context.Context, password, encoded string) error {
	h.mu.Lock()
	h.verifies++
	h.mu.Unlock()
	var plain string
	switch {
	case strings.HasPrefix(encoded, "hashed:"):
		plain = strings.TrimPrefix(encoded, "hashed:")
	case strings.HasPrefix(encoded, "legacy:"):
		plain = strings.TrimPrefix(encoded, "legacy:")
	default:
		return appErrors.ErrInvalidHash
	}
	if plain != password {
		return appErrors.ErrMismatch
	}
	return nil
}

func (h *fakeHasher) NeedsRehash(encoded string) bool {
	return strings.HasPrefix(encoded, "legacy:")
}

func (h *fakeHasher) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hashes, h.verifies
}

// newMockHandle returns a handle over sqlmock for exercising transactions.
func newMockHandle(t *testing.T) (database.Handle, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return database.Fixed(sqlx.NewDb(db, "sqlmock")), mock
}

func strPtr(v string) *string {
	return &v
}
