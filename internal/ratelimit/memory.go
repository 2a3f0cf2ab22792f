package ratelimit

import (
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Memory is an in-process fixed-window limiter. It is safe for concurrent
// use. Expired windows are swept on an interval equal to the policy window.
type Memory struct {
	*storeLimiter
}

var _ Limiter = (*Memory)(nil)

func NewMemory(p Policy) (*Memory, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	store := memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          "login",
		CleanUpInterval: p.Window,
	})
	return &Memory{newStoreLimiter(store, p, "memory")}, nil
}
