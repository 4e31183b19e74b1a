// Package cache implements the fingerprint-keyed decision cache: TTL per
// entry, bounded LRU fallback, policy-set-version stamping, and singleflight
// coalescing so at most one evaluation is in flight per fingerprint.
package cache

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

const defaultCapacity = 4096

// DecisionCache stores past decisions keyed by request fingerprint. Entries
// are stamped with the policy set version they were computed under; Get
// compares the stamp against the caller's current version so a decision
// cached under version N is never served after an invalidation to N+1, with
// no global lock around evaluations.
type DecisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element

	group singleflight.Group
}

type cacheItem struct {
	key       string
	decision  domain.Decision
	version   string
	expiresAt time.Time
}

// New constructs a cache bounded to capacity entries. Zero selects the
// default capacity.
func New(capacity int) *DecisionCache {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &DecisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached decision for the fingerprint when it is unexpired
// and was computed under the given policy set version. Expired or
// stale-version entries are evicted and reported as misses.
func (c *DecisionCache) Get(fingerprint, version string, now time.Time) (domain.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fingerprint]
	if !ok {
		return domain.Decision{}, false
	}
	item := elem.Value.(cacheItem)
	if now.After(item.expiresAt) || item.version != version {
		c.removeLocked(elem)
		return domain.Decision{}, false
	}

	c.order.MoveToFront(elem)
	return item.decision.Clone(), true
}

// Put stores a decision under the version it was evaluated against. The TTL
// comes from the decision itself.
func (c *DecisionCache) Put(fingerprint string, decision domain.Decision, version string, now time.Time) {
	if decision.TTLSeconds <= 0 {
		return
	}
	item := cacheItem{
		key:       fingerprint,
		decision:  decision.Clone(),
		version:   version,
		expiresAt: now.Add(time.Duration(decision.TTLSeconds) * time.Second),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[fingerprint]; ok {
		elem.Value = item
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(item)
	c.entries[fingerprint] = elem

	if c.order.Len() <= c.max {
		return
	}
	if tail := c.order.Back(); tail != nil {
		c.removeLocked(tail)
	}
}

// InvalidateAll drops every entry. Called whenever the active policy set
// version changes; the version stamp check in Get covers the race where a
// Put under the old version lands after invalidation has started.
func (c *DecisionCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.max)
}

// Len reports the current number of entries.
func (c *DecisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Coalesce runs fn at most once concurrently per fingerprint. Concurrent
// callers for the same fingerprint block on the in-flight evaluation and
// share its result, so N simultaneous identical requests trigger exactly one
// context resolution and evaluation.
func (c *DecisionCache) Coalesce(fingerprint string, fn func() (domain.Decision, error)) (domain.Decision, bool, error) {
	v, err, shared := c.group.Do(fingerprint, func() (any, error) {
		return fn()
	})
	if err != nil {
		return domain.Decision{}, shared, err
	}
	return v.(domain.Decision), shared, nil
}

func (c *DecisionCache) removeLocked(elem *list.Element) {
	c.order.Remove(elem)
	item := elem.Value.(cacheItem)
	delete(c.entries, item.key)
}
