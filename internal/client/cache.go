package client

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Cache keys shared by the controller and the connection manager
const (
	KeyMessages    = "messages"
	KeyContacts    = "contacts"
	KeyUnreadCount = "unread-count"
)

// Notification keys are refetched on every push event. Nothing in this
// package registers them; a host app with a notification feed registers its
// fetchers under these keys and gets them refreshed for free.
const (
	KeyNotifications       = "notifications"
	KeyNotificationsUnread = "notifications-unread"
)

// ConversationKey is the cache key of the conversation with contactID
func ConversationKey(contactID int64) string {
	return "conversation:" + strconv.FormatInt(contactID, 10)
}

// FetchFunc loads the current value of a cache entry
type FetchFunc func(ctx context.Context) (any, error)

type entry struct {
	fetch   FetchFunc
	value   any
	loaded  bool
	version uint64
	// done closes when the fetch of version has settled
	done chan struct{}
}

// Cache holds query results by key. Invalidation always refetches the truth
// rather than patching cached values, so repeated or reordered invalidations
// converge on the same state.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	subs    map[int]func(key string, value any)
	nextSub int
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		subs:    make(map[int]func(string, any)),
	}
}

// Register sets the fetcher of key. Re-registering keeps the cached value.
func (c *Cache) Register(key string, fetch FetchFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.fetch = fetch
		return
	}
	c.entries[key] = &entry{fetch: fetch}
}

// Peek returns the cached value without fetching
func (c *Cache) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.loaded {
		return nil, false
	}
	return e.value, true
}

// Get returns the cached value, fetching it on first use
func (c *Cache) Get(ctx context.Context, key string) (any, error) {
	if v, ok := c.Peek(key); ok {
		return v, nil
	}
	if err := c.refetch(ctx, key); err != nil {
		return nil, err
	}
	v, _ := c.Peek(key)
	return v, nil
}

// Invalidate refetches every registered key concurrently and returns once all
// have finished. Keys without a fetcher are ignored.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	var g errgroup.Group
	for _, key := range keys {
		key := key
		g.Go(func() error { return c.refetch(ctx, key) })
	}
	return g.Wait()
}

// refetch stores the result only if no newer fetch of the same key started
// meanwhile, so a slow stale response cannot overwrite a fresh one. A
// superseded fetch waits for the newer one so callers still observe fresh data.
func (c *Cache) refetch(ctx context.Context, key string) error {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.fetch == nil {
		c.mu.Unlock()
		return nil
	}
	e.version++
	version := e.version
	done := make(chan struct{})
	e.done = done
	fetch := e.fetch
	c.mu.Unlock()
	defer close(done)

	value, err := fetch(ctx)

	c.mu.Lock()
	if e.version != version {
		newer := e.done
		c.mu.Unlock()
		select {
		case <-newer:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	e.value = value
	e.loaded = true
	subs := make([]func(string, any), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(key, value)
	}
	return nil
}

// Subscribe calls fn after every stored refetch. The returned func unsubscribes.
func (c *Cache) Subscribe(fn func(key string, value any)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}
