// Package memorydir is an in-memory directory.Client, suitable for a
// single-process deployment or tests. Grounded on the teacher's
// broker/memory and sessions/memory packages.
package memorydir

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/objectbus/objectbus/directory"
)

// Client is an in-memory directory.Client.
type Client struct {
	nextID atomic.Uint32

	mu    sync.Mutex
	byID  map[uint32]directory.ServiceInfo
	ready map[uint32]bool
}

// New constructs an empty Client.
func New() *Client {
	return &Client{byID: make(map[uint32]directory.ServiceInfo), ready: make(map[uint32]bool)}
}

// Register implements directory.Client.
func (c *Client) Register(ctx context.Context, info directory.ServiceInfo) (uint32, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	id := c.nextID.Add(1)
	c.mu.Lock()
	c.byID[id] = info
	c.mu.Unlock()
	return id, nil
}

// Unregister implements directory.Client.
func (c *Client) Unregister(ctx context.Context, id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[id]; !ok {
		return fmt.Errorf("memorydir: unknown service id %d", id)
	}
	delete(c.byID, id)
	delete(c.ready, id)
	return nil
}

// ServiceReady implements directory.Client.
func (c *Client) ServiceReady(ctx context.Context, id uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[id]; !ok {
		return fmt.Errorf("memorydir: unknown service id %d", id)
	}
	c.ready[id] = true
	return nil
}

// Lookup returns the registered info for id, for tests.
func (c *Client) Lookup(id uint32) (directory.ServiceInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.byID[id]
	return info, ok
}
