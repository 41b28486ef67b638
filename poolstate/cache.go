// Package poolstate holds the live AMM state of every known pool. It is
// the single source of truth consulted by swap simulation and mutated
// by the event ingestion loop.
package poolstate

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/arb-engine-go/engine"
)

const defaultShardCount = 64

var (
	// ErrPoolNotFound is returned for lookups and updates against a pool
	// the cache has never seen.
	ErrPoolNotFound = errors.New("pool not found in state cache")
	// ErrKindMismatch is returned when an event's family does not match
	// the pool it targets.
	ErrKindMismatch = errors.New("event kind does not match pool kind")
	// ErrIncompleteEvent is returned when an event is missing the fields
	// its family requires.
	ErrIncompleteEvent = errors.New("event is missing required state fields")
)

type shard struct {
	mu    sync.RWMutex
	pools map[common.Address]*engine.PoolState
}

// Cache is a lock-striped map from pool address to its current state.
// Each entry is an immutable *PoolState record; an update builds a new
// record and swaps the pointer under the shard lock, so a concurrent
// reader observes either the pre- or post-update state, never a torn
// mix of fields.
type Cache struct {
	shards []shard
	mask   uint64
}

// New creates a cache with the default shard count.
func New() *Cache {
	return NewWithShards(defaultShardCount)
}

// NewWithShards creates a cache with the given shard count, rounded up
// to a power of two.
func NewWithShards(n int) *Cache {
	size := 1
	for size < n {
		size <<= 1
	}
	c := &Cache{
		shards: make([]shard, size),
		mask:   uint64(size - 1),
	}
	for i := range c.shards {
		c.shards[i].pools = make(map[common.Address]*engine.PoolState)
	}
	return c
}

func (c *Cache) shardFor(addr common.Address) *shard {
	return &c.shards[xxhash.Sum64(addr[:])&c.mask]
}

// Get returns the current state record for a pool. The returned record
// is shared and must not be mutated.
func (c *Cache) Get(addr common.Address) (*engine.PoolState, bool) {
	s := c.shardFor(addr)
	s.mu.RLock()
	state, ok := s.pools[addr]
	s.mu.RUnlock()
	return state, ok
}

// Put publishes a full state record for a pool, copying it so the
// caller's big.Ints are never shared with the cache.
func (c *Cache) Put(addr common.Address, state *engine.PoolState) {
	record := state.Copy()
	if record.LastUpdated == 0 {
		record.LastUpdated = time.Now().UnixNano()
	}
	s := c.shardFor(addr)
	s.mu.Lock()
	s.pools[addr] = record
	s.mu.Unlock()
}

// Apply folds a decoded state-change event into the cache: it replaces
// only the fields the event's family carries and refreshes the
// timestamp, publishing a fresh record in one atomic pointer swap.
// It returns the state the pool had before the event.
func (c *Cache) Apply(ev engine.PoolEvent) (prev *engine.PoolState, err error) {
	s := c.shardFor(ev.Pool)
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.pools[ev.Pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, ev.Pool.Hex())
	}
	if prev.Kind != ev.Kind {
		return nil, fmt.Errorf("%w: pool %s is %s, event is %s",
			ErrKindMismatch, ev.Pool.Hex(), prev.Kind, ev.Kind)
	}

	next := prev.Copy()
	switch ev.Kind {
	case engine.KindConstantProduct:
		if ev.Reserve0 == nil || ev.Reserve1 == nil {
			return nil, fmt.Errorf("%w: reserve event for %s", ErrIncompleteEvent, ev.Pool.Hex())
		}
		next.Reserve0 = new(big.Int).Set(ev.Reserve0)
		next.Reserve1 = new(big.Int).Set(ev.Reserve1)
	case engine.KindConcentratedLiquidity:
		if ev.SqrtPriceX96 == nil || ev.Liquidity == nil {
			return nil, fmt.Errorf("%w: price event for %s", ErrIncompleteEvent, ev.Pool.Hex())
		}
		next.SqrtPriceX96 = new(big.Int).Set(ev.SqrtPriceX96)
		next.Liquidity = new(big.Int).Set(ev.Liquidity)
		next.Tick = ev.Tick
	}
	next.LastUpdated = time.Now().UnixNano()

	s.pools[ev.Pool] = next
	return prev, nil
}

// Len reports the number of pools in the cache.
func (c *Cache) Len() int {
	total := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		total += len(s.pools)
		s.mu.RUnlock()
	}
	return total
}

// ForEach calls fn for every pool until fn returns false. Iteration
// order is unspecified and the snapshot is per-shard, not global.
func (c *Cache) ForEach(fn func(addr common.Address, state *engine.PoolState) bool) {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for addr, state := range s.pools {
			if !fn(addr, state) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}
