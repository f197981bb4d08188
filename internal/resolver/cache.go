package resolver

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nbrennan/segproxy/internal/domain"
)

const (
	minTTL = 5
	maxTTL = 3600
)

type cacheKey struct {
	host string
	port int
}

type cacheEntry struct {
	addrs     []domain.ResolvedAddress
	expiresAt time.Time
	elem      *list.Element
}

// Caching wraps an inner Resolver with a bounded, TTL-aware cache keyed by
// (lowercased host, port). Eviction is FIFO on insertion order; PromoteOnHit
// switches eviction order to LRU by moving an entry to the back of the
// insertion list on every hit.
type Caching struct {
	inner        Resolver
	maxEntries   int
	PromoteOnHit bool

	mu      sync.Mutex
	order   *list.List
	entries map[cacheKey]*cacheEntry
}

// NewCaching wraps inner with a cache capped at maxEntries. maxEntries==0
// makes every resolve pass straight through with no caching at all.
func NewCaching(inner Resolver, maxEntries int) *Caching {
	return &Caching{
		inner:      inner,
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    make(map[cacheKey]*cacheEntry),
	}
}

func (c *Caching) Resolve(ctx context.Context, host string, port int) (domain.ResolveResult, error) {
	if c.maxEntries == 0 {
		return c.inner.Resolve(ctx, host, port)
	}

	key := cacheKey{host: strings.ToLower(host), port: port}
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if now.Before(e.expiresAt) {
			remaining := int(e.expiresAt.Sub(now).Seconds())
			if c.PromoteOnHit {
				c.order.MoveToBack(e.elem)
			}
			addrs := append([]domain.ResolvedAddress(nil), e.addrs...)
			c.mu.Unlock()
			return domain.ResolveResult{
				Addresses:  addrs,
				TTLSeconds: remaining,
				Trace:      domain.TraceInfo{Transport: "cache", CacheHit: true},
			}, nil
		}
		c.removeLocked(key, e)
	}
	c.mu.Unlock()

	result, err := c.inner.Resolve(ctx, host, port)
	if err != nil {
		return domain.ResolveResult{}, err
	}

	if result.TTLSeconds > 0 {
		ttl := result.TTLSeconds
		if ttl < minTTL {
			ttl = minTTL
		}
		if ttl > maxTTL {
			ttl = maxTTL
		}
		result.TTLSeconds = ttl

		c.mu.Lock()
		if _, exists := c.entries[key]; !exists {
			c.evictOldestLocked()
		}
		entry := &cacheEntry{
			addrs:     append([]domain.ResolvedAddress(nil), result.Addresses...),
			expiresAt: now.Add(time.Duration(ttl) * time.Second),
		}
		entry.elem = c.order.PushBack(key)
		c.entries[key] = entry
		c.mu.Unlock()
	}

	return result, nil
}

// removeLocked removes an entry. Callers must hold c.mu.
func (c *Caching) removeLocked(key cacheKey, e *cacheEntry) {
	c.order.Remove(e.elem)
	delete(c.entries, key)
}

func (c *Caching) evictOldestLocked() {
	if len(c.entries) < c.maxEntries {
		return
	}
	front := c.order.Front()
	if front == nil {
		return
	}
	k := front.Value.(cacheKey)
	c.order.Remove(front)
	delete(c.entries, k)
}
