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

// Package pool implements the MCP connection pool (spec §2 component A,
// §3 Pool entry, §4.4 Pool, §5 Shared state, §8 invariants 5 & 6).
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/agentcore/pkg/mcp"
)

// Connector constructs and connects a Transport for a handle. Called at
// most once per pool entry — subsequent Acquire calls for the same key
// reuse the live connection.
type Connector func(ctx context.Context, h *mcp.Handle) (mcp.Transport, error)

type entry struct {
	transport mcp.Transport
	lastUsed  time.Time
	busyCount int
}

// Pool owns reusable MCP transport connections keyed by (endpoint
// descriptor, auth-class). It is process-wide and concurrency-safe.
type Pool struct {
	connect Connector
	max     int
	idleTTL time.Duration

	mu      sync.Mutex // guards entries map + busyCount/lastUsed bookkeeping
	entries map[mcp.PoolKey]*entry

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// Option configures a Pool.
type Option func(*Pool)

// WithMaxEntries caps the number of distinct live pool entries.
func WithMaxEntries(n int) Option { return func(p *Pool) { p.max = n } }

// WithIdleTTL sets how long an idle (busyCount==0) entry may sit before
// the background sweep closes it.
func WithIdleTTL(d time.Duration) Option { return func(p *Pool) { p.idleTTL = d } }

// New builds a Pool. connect is called to establish a fresh transport
// whenever Acquire needs one.
func New(connect Connector, opts ...Option) *Pool {
	p := &Pool{
		connect: connect,
		max:     32,
		idleTTL: 5 * time.Minute,
		entries: make(map[mcp.PoolKey]*entry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Lease is a handle to an acquired pool entry; callers must call
// Release exactly once.
type Lease struct {
	pool      *Pool
	key       mcp.PoolKey
	Transport mcp.Transport
}

// Release returns the lease to the pool. Guaranteed to run via defer in
// every call site that acquires — this is what keeps busyCount correct
// across success, timeout, or panic-recovered failure (spec §8 invariant 6).
func (l *Lease) Release() {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	if e, ok := l.pool.entries[l.key]; ok {
		e.busyCount--
		e.lastUsed = time.Now()
	}
}

// Acquire returns a live, reusable transport for h, constructing one if
// necessary. If the pool is at capacity, the least-recently-used idle
// entry is evicted first (busy entries are never evicted — spec §8
// invariant 5).
func (p *Pool) Acquire(ctx context.Context, h *mcp.Handle) (*Lease, error) {
	key := h.Key()

	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		e.busyCount++
		p.mu.Unlock()
		return &Lease{pool: p, key: key, Transport: e.transport}, nil
	}

	if len(p.entries) >= p.max {
		if !p.evictOneIdleLocked() {
			p.mu.Unlock()
			return nil, fmt.Errorf("mcp pool: at capacity (%d) with no idle entry to evict", p.max)
		}
	}
	p.mu.Unlock()

	transport, err := p.connect(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("mcp pool: connect %s: %w", key.Descriptor, err)
	}

	p.mu.Lock()
	// Another goroutine may have raced us to create this entry; prefer
	// the winner and discard our connection to avoid a leaked duplicate.
	if e, ok := p.entries[key]; ok {
		e.busyCount++
		p.mu.Unlock()
		_ = transport.Close()
		return &Lease{pool: p, key: key, Transport: e.transport}, nil
	}
	p.entries[key] = &entry{transport: transport, lastUsed: time.Now(), busyCount: 1}
	p.mu.Unlock()

	return &Lease{pool: p, key: key, Transport: transport}, nil
}

// evictOneIdleLocked evicts the least-recently-used idle (busyCount==0)
// entry. Caller must hold p.mu. Returns false if no idle entry exists.
func (p *Pool) evictOneIdleLocked() bool {
	var oldestKey mcp.PoolKey
	var oldest *entry
	for k, e := range p.entries {
		if e.busyCount != 0 {
			continue
		}
		if oldest == nil || e.lastUsed.Before(oldest.lastUsed) {
			oldest = e
			oldestKey = k
		}
	}
	if oldest == nil {
		return false
	}
	delete(p.entries, oldestKey)
	_ = oldest.transport.Close()
	return true
}

// Size reports the current number of live entries.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// StartSweeper launches the background idle sweep on interval, closing
// any entry with busyCount==0 idle longer than idleTTL.
func (p *Pool) StartSweeper(interval time.Duration) {
	if p.sweepStop != nil {
		return // already running
	}
	p.sweepStop = make(chan struct{})
	p.sweepDone = make(chan struct{})

	go func() {
		defer close(p.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.sweep()
			case <-p.sweepStop:
				return
			}
		}
	}()
}

func (p *Pool) sweep() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.entries {
		if e.busyCount == 0 && now.Sub(e.lastUsed) > p.idleTTL {
			_ = e.transport.Close()
			delete(p.entries, k)
		}
	}
}

// Shutdown stops the sweeper (if running) and closes every entry,
// regardless of busy state. Close errors are logged by the caller and
// swallowed here — shutdown must complete (spec §7).
func (p *Pool) Shutdown() []error {
	if p.sweepStop != nil {
		close(p.sweepStop)
		<-p.sweepDone
		p.sweepStop = nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for k, e := range p.entries {
		if err := e.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", k.Descriptor, err))
		}
		delete(p.entries, k)
	}
	return errs
}
