// Package options caches the suggested-action menu per session. Each
// session has one live menu keyed by a fingerprint of the timeline state;
// concurrent fetches for the same fingerprint are coalesced into a single
// collaborator call.
package options

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"taleweaver/internal/game"
	"taleweaver/internal/logging"
	"taleweaver/internal/store"
)

// Fetcher produces a fresh action menu. Typically ai.Suggester bound to a
// session snapshot.
type Fetcher func(ctx context.Context) ([]string, error)

// Cache is the two-tier action options cache: an in-memory map mirroring
// the durable copy in the store.
type Cache struct {
	store store.Gateway

	mu     sync.RWMutex
	byID   map[string]*game.CachedActionOptions
	flight singleflight.Group
}

// NewCache creates a cache backed by the given store.
func NewCache(st store.Gateway) *Cache {
	return &Cache{
		store: st,
		byID:  make(map[string]*game.CachedActionOptions),
	}
}

// Get returns the cached menu for a session, consulting memory first and
// falling back to the store. Returns nil when nothing is cached.
func (c *Cache) Get(sessionID string) *game.CachedActionOptions {
	c.mu.RLock()
	cached := c.byID[sessionID]
	c.mu.RUnlock()
	if cached != nil {
		return cached
	}

	stored, err := c.store.LoadOptions(sessionID)
	if err != nil {
		logging.Options("load for %s failed: %v", sessionID, err)
		return nil
	}
	if stored == nil {
		return nil
	}
	c.mu.Lock()
	c.byID[sessionID] = stored
	c.mu.Unlock()
	return stored
}

// FetchWithCache returns the menu for (sessionID, fingerprint). A cache hit
// with a matching fingerprint and non-empty options returns immediately.
// On a miss, concurrent callers with the same key share one fetcher call;
// a non-empty result is written through to memory and the store.
func (c *Cache) FetchWithCache(ctx context.Context, sessionID, fingerprint, lastMessageID string, fetch Fetcher) ([]string, error) {
	if cached := c.Get(sessionID); cached != nil &&
		cached.CacheKey == fingerprint && len(cached.Options) > 0 {
		logging.Options("hit for %s (%s)", sessionID, fingerprint)
		return cached.Options, nil
	}

	key := sessionID + "\x00" + fingerprint
	v, err, shared := c.flight.Do(key, func() (interface{}, error) {
		logging.Options("miss for %s (%s), fetching", sessionID, fingerprint)
		opts, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if len(opts) > 0 {
			c.put(&game.CachedActionOptions{
				SessionID:     sessionID,
				CacheKey:      fingerprint,
				LastMessageID: lastMessageID,
				Options:       opts,
			})
		}
		return opts, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logging.Options("coalesced fetch for %s (%s)", sessionID, fingerprint)
	}
	return v.([]string), nil
}

// Invalidate drops the cached menu for a session from memory. The durable
// copy is overwritten on the next successful fetch.
func (c *Cache) Invalidate(sessionID string) {
	c.mu.Lock()
	delete(c.byID, sessionID)
	c.mu.Unlock()
}

func (c *Cache) put(opts *game.CachedActionOptions) {
	c.mu.Lock()
	c.byID[opts.SessionID] = opts
	c.mu.Unlock()
	if err := c.store.SaveOptions(opts); err != nil {
		logging.Options("persisting options for %s failed: %v", opts.SessionID, err)
	}
}
