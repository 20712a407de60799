// Package capabilities caches the external system's capability snapshot for
// the lifetime of a widget session.
package capabilities

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dharsanguruparan/ChartSnap/internal/model"
)

// Fetcher retrieves a fresh snapshot. clinical.Client satisfies it.
type Fetcher interface {
	Capabilities(ctx context.Context) (*model.Capabilities, error)
}

// Cache fetches once and serves the same snapshot afterwards. A failed fetch
// is not cached; the next Get tries again.
type Cache struct {
	fetcher Fetcher

	mu   sync.Mutex
	snap *model.Capabilities
}

// NewCache constructs a Cache.
func NewCache(fetcher Fetcher) *Cache {
	return &Cache{fetcher: fetcher}
}

// Static returns a Cache pre-filled with caps.
func Static(caps model.Capabilities) *Cache {
	return &Cache{snap: &caps}
}

// Get returns the cached snapshot, fetching it on first use. The returned
// value is a copy; slices are shared and must be treated as read-only.
func (c *Cache) Get(ctx context.Context) (model.Capabilities, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap != nil {
		return *c.snap, nil
	}
	if c.fetcher == nil {
		return model.Capabilities{}, errors.New("capabilities: no fetcher configured")
	}
	snap, err := c.fetcher.Capabilities(ctx)
	if err != nil {
		return model.Capabilities{}, fmt.Errorf("fetch capabilities: %w", err)
	}
	if snap == nil {
		return model.Capabilities{}, errors.New("fetch capabilities: empty response")
	}
	c.snap = snap
	return *snap, nil
}

// Loaded reports whether a snapshot is cached.
func (c *Cache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap != nil
}
