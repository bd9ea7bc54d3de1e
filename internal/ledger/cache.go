package ledger

import (
	"container/list"
	"sync"
	"time"
)

// SeenCache is a thread-safe, TTL-based, size-limited cache of recently seen
// idempotency keys. It is a fast path in front of the database's unique
// constraint, never the authority: a miss here still hits the constraint.
type SeenCache struct {
	mu      sync.Mutex
	seen    map[string]*seenEntry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
}

type seenEntry struct {
	at      time.Time
	element *list.Element
}

// NewSeenCache creates a cache with the given TTL and maximum size
func NewSeenCache(ttl time.Duration, maxSize int) *SeenCache {
	return &SeenCache{
		seen:    make(map[string]*seenEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// CheckAndMark atomically checks whether a key has been seen and records it
// if not. Returns true when the key was already present and unexpired.
func (c *SeenCache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if entry, ok := c.seen[key]; ok {
		if now.Sub(entry.at) < c.ttl {
			return true
		}
		// Expired entry: refresh in place
		entry.at = now
		c.order.MoveToBack(entry.element)
		return false
	}

	c.evictLocked(now)
	c.seen[key] = &seenEntry{at: now, element: c.order.PushBack(key)}
	return false
}

// Forget drops a key so the next delivery is not short-circuited. Called
// when the ledger insert behind a freshly marked key fails: the provider's
// retry must reach the database again.
func (c *SeenCache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of cached keys, expired entries included
func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evictLocked drops expired entries from the front, then enforces maxSize.
// Must be called with mu held.
func (c *SeenCache) evictLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key := front.Value.(string)
		entry := c.seen[key]
		if now.Sub(entry.at) < c.ttl {
			break
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}

	for c.maxSize > 0 && len(c.seen) >= c.maxSize {
		front := c.order.Front()
		if front == nil {
			break
		}
		key := front.Value.(string)
		c.order.Remove(front)
		delete(c.seen, key)
	}
}
