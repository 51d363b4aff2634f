package expand

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 32

// PlanCache keeps the most recently used plans of one node.
//
// Building a plan is collective, so a miss on one node must coincide with
// the same miss on every node. Callers guarantee this by requesting the
// same keys in the same order everywhere and by sizing the cache equally;
// the cache itself cannot detect a violation, which shows up as a hang or
// an InvariantError in the negotiation.
type PlanCache struct {
	lru     *lru.Cache[CommPlanKey, *CommPlan]
	metrics *Metrics
	node    int
}

func NewPlanCache(size int) (*PlanCache, error) {
	c, err := lru.New[CommPlanKey, *CommPlan](size)
	if err != nil {
		return nil, fmt.Errorf("plan cache of size %d: %w", size, err)
	}
	return &PlanCache{lru: c}, nil
}

// Get returns the cached plan for key or builds, stores and returns a new
// one. Failed builds are not cached.
func (c *PlanCache) Get(key CommPlanKey, build func() (*CommPlan, error)) (*CommPlan, error) {
	if p, ok := c.lru.Get(key); ok {
		c.metrics.recordLookup(c.node, true)
		return p, nil
	}
	c.metrics.recordLookup(c.node, false)
	p, err := build()
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, p)
	return p, nil
}

func (c *PlanCache) Len() int {
	return c.lru.Len()
}

func (c *PlanCache) Contains(key CommPlanKey) bool {
	return c.lru.Contains(key)
}

func (c *PlanCache) Purge() {
	c.lru.Purge()
}
