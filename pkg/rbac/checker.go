package rbac

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/schoolwelfare/caseboard/pkg/catalog"
	"github.com/schoolwelfare/caseboard/pkg/notify"
	"github.com/schoolwelfare/caseboard/pkg/observability"
)

const (
	DefaultCheckerSize = 4096
	DefaultCheckerTTL  = 5 * time.Minute
)

type checkKey struct {
	userID string
	perm   catalog.Permission
}

type cachedCheck struct {
	allowed    bool
	generation uint64
}

// Checker answers permission checks from a bounded, expiring cache in front
// of the Service. Entries are tagged with the service generation they were
// computed at, so a result never outlives the state it was read from. Watch
// additionally drops the whole cache on change events to free memory.
type Checker struct {
	service *Service
	cache   *expirable.LRU[checkKey, cachedCheck]
	metrics *observability.Metrics
}

// NewChecker creates a checker. Non-positive size or ttl use the defaults.
func NewChecker(service *Service, size int, ttl time.Duration) *Checker {
	if size <= 0 {
		size = DefaultCheckerSize
	}
	if ttl <= 0 {
		ttl = DefaultCheckerTTL
	}
	return &Checker{
		service: service,
		cache:   expirable.NewLRU[checkKey, cachedCheck](size, nil, ttl),
		metrics: service.metrics,
	}
}

// Check reports whether the user holds (module, action)
func (c *Checker) Check(userID string, module catalog.ModuleID, action catalog.ActionID) bool {
	key := checkKey{userID: userID, perm: catalog.Permission{Module: module, Action: action}}
	// read the generation first: a change racing the lookup below leaves the
	// entry tagged older and the next check misses
	gen := c.service.Generation()
	if cached, ok := c.cache.Get(key); ok && cached.generation == gen {
		c.metrics.RecordCheck(cached.allowed, true)
		return cached.allowed
	}

	allowed := c.service.HasPermission(userID, module, action)
	c.cache.Add(key, cachedCheck{allowed: allowed, generation: gen})
	c.metrics.RecordCheck(allowed, false)
	return allowed
}

// Purge drops every cached result
func (c *Checker) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached results
func (c *Checker) Len() int {
	return c.cache.Len()
}

// Watch purges the cache on every hub event until ctx is done
func (c *Checker) Watch(ctx context.Context, hub *notify.Hub) {
	events, cancel := hub.Subscribe()
	defer cancel()
	defer observability.RecoverPanic(c.service.logger, "permission checker watch")

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			c.Purge()
		}
	}
}
