// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package discovery implements the TTL-bounded tool catalog cache
// (spec §2 component C, §4.4 Discovery).
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/agentcore/pkg/agenterrors"
	"github.com/kadirpekel/agentcore/pkg/mcp"
	"github.com/kadirpekel/agentcore/pkg/mcp/pool"
)

// TransportResolver acquires a live transport for h (typically backed by
// a pool.Pool).
type TransportResolver func(ctx context.Context, h *mcp.Handle) (transport mcp.Transport, release func(), err error)

// FromPool adapts a pool.Pool into a TransportResolver.
func FromPool(p *pool.Pool) TransportResolver {
	return func(ctx context.Context, h *mcp.Handle) (mcp.Transport, func(), error) {
		lease, err := p.Acquire(ctx, h)
		if err != nil {
			return nil, func() {}, err
		}
		return lease.Transport, lease.Release, nil
	}
}

type cacheEntry struct {
	tools     []mcp.ToolDefinition
	cachedAt  time.Time
}

// Cache is the TTL-bounded, per-endpoint tool catalog cache.
type Cache struct {
	resolve TransportResolver
	ttl     time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry // keyed by handle id
}

// New builds a Cache with the given TTL and transport resolver.
func New(resolve TransportResolver, ttl time.Duration) *Cache {
	return &Cache{
		resolve: resolve,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Discover returns the qualified tool catalog across all handles,
// serving cached entries within TTL and refreshing expired/missing ones.
// A failure on any handle invalidates that handle's cache entry and
// raises a retryable MCPConnectionError (spec §4.4 Discovery).
func (c *Cache) Discover(ctx context.Context, handles []*mcp.Handle) ([]mcp.ToolDefinition, error) {
	var all []mcp.ToolDefinition
	for _, h := range handles {
		tools, err := c.discoverOne(ctx, h)
		if err != nil {
			return nil, err
		}
		all = append(all, tools...)
	}
	return all, nil
}

func (c *Cache) discoverOne(ctx context.Context, h *mcp.Handle) ([]mcp.ToolDefinition, error) {
	c.mu.RLock()
	entry, ok := c.entries[h.ID]
	c.mu.RUnlock()
	if ok && time.Since(entry.cachedAt) < c.ttl {
		return entry.tools, nil
	}

	transport, release, err := c.resolve(ctx, h)
	if err != nil {
		c.invalidate(h.ID)
		return nil, agenterrors.NewMCPConnectionError(agenterrors.Meta{Provider: h.ProviderTag()}, err)
	}
	defer release()

	raw, err := transport.ListTools(ctx)
	if err != nil {
		c.invalidate(h.ID)
		return nil, agenterrors.NewMCPConnectionError(agenterrors.Meta{Provider: h.ProviderTag()}, fmt.Errorf("list tools: %w", err))
	}

	tools := make([]mcp.ToolDefinition, 0, len(raw))
	for _, rt := range raw {
		tools = append(tools, mcp.ToolDefinition{
			Name:        mcp.Qualify(h.ID, rt.Name),
			Description: rt.Description,
			Parameters:  rt.InputSchema,
			Handle:      h,
		})
	}

	c.mu.Lock()
	c.entries[h.ID] = cacheEntry{tools: tools, cachedAt: time.Now()}
	c.mu.Unlock()

	return tools, nil
}

func (c *Cache) invalidate(handleID string) {
	c.mu.Lock()
	delete(c.entries, handleID)
	c.mu.Unlock()
}

