package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCacheMiss is returned when an entity is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache holds the locally rendered copy of server entities. Writers are the
// refresh/refetch handlers; everything else reads.
type Cache interface {
	PutMemo(ctx context.Context, memo Memo) error
	GetMemo(ctx context.Context, memoID string) (Memo, error)
	DeleteMemo(ctx context.Context, memoID string) error
	PutComments(ctx context.Context, memoID string, comments []Comment) error
	GetComments(ctx context.Context, memoID string) ([]Comment, error)
	Ping(ctx context.Context) error
	Close() error
}

type memoryEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e memoryEntry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is the in-process Cache used when Redis is not configured.
type MemoryCache struct {
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	memos    map[string]memoryEntry[Memo]
	comments map[string]memoryEntry[[]Comment]
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:      ttl,
		now:      time.Now,
		memos:    make(map[string]memoryEntry[Memo]),
		comments: make(map[string]memoryEntry[[]Comment]),
	}
}

func (c *MemoryCache) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

func (c *MemoryCache) PutMemo(_ context.Context, memo Memo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memos[memo.ID] = memoryEntry[Memo]{value: memo, expiresAt: c.expiry()}
	return nil
}

func (c *MemoryCache) GetMemo(_ context.Context, memoID string) (Memo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.memos[memoID]
	if !ok || entry.expired(c.now()) {
		return Memo{}, ErrCacheMiss
	}
	return entry.value.WithoutDerived(), nil
}

func (c *MemoryCache) DeleteMemo(_ context.Context, memoID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.memos, memoID)
	delete(c.comments, memoID)
	return nil
}

func (c *MemoryCache) PutComments(_ context.Context, memoID string, comments []Comment) error {
	copied := append([]Comment(nil), comments...)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.comments[memoID] = memoryEntry[[]Comment]{value: copied, expiresAt: c.expiry()}
	return nil
}

func (c *MemoryCache) GetComments(_ context.Context, memoID string) ([]Comment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.comments[memoID]
	if !ok || entry.expired(c.now()) {
		return nil, ErrCacheMiss
	}
	return append([]Comment(nil), entry.value...), nil
}

func (c *MemoryCache) Ping(context.Context) error { return nil }

func (c *MemoryCache) Close() error { return nil }
