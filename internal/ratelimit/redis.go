package ratelimit

import (
	"fmt"

	"github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// KeyPrefix namespaces limiter counters in a shared Redis.
const KeyPrefix = "quest:ratelimit"

// Redis is a fixed-window limiter whose counters live in Redis, so every
// replica behind a load balancer sees the same budget. Each counter key
// expires one window after its first hit.
type Redis struct {
	*storeLimiter
}

var _ Limiter = (*Redis)(nil)

// NewRedis creates a limiter on client. prefix may be empty, in which case
// KeyPrefix is used. The store loads its scripts here, so an unreachable
// server fails construction.
func NewRedis(client sredis.Client, p Policy, prefix string) (*Redis, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = KeyPrefix
	}
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: creating redis store: %w", err)
	}
	return &Redis{newStoreLimiter(store, p, "redis")}, nil
}
