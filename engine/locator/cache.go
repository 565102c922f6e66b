package locator

import (
	"context"
	"time"

	commonredis "github.com/schemaflow/schemaflow/common/redis"
)

// Healed selectors stay useful until the target site changes its markup;
// a week balances staleness against re-running the AI path on every start.
const selectorTTL = 7 * 24 * time.Hour

// SelectorCache remembers healed selectors across executions, keyed by
// SelectorKey. A nil cache is valid and disables the feature.
type SelectorCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Put(ctx context.Context, key, selector string)
}

// RedisSelectorCache stores healed selectors in Redis so every engine
// instance benefits from a heal performed by any of them.
type RedisSelectorCache struct {
	client *commonredis.Client
}

// NewRedisSelectorCache creates a cache on the shared client.
func NewRedisSelectorCache(client *commonredis.Client) *RedisSelectorCache {
	return &RedisSelectorCache{client: client}
}

func (c *RedisSelectorCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, "selector:"+key)
	if err != nil || val == "" {
		return "", false
	}
	return val, true
}

func (c *RedisSelectorCache) Put(ctx context.Context, key, selector string) {
	// Best-effort: a failed write only costs a future re-locate.
	c.client.SetWithExpiry(ctx, "selector:"+key, selector, selectorTTL)
}
