package routes

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/arb-engine-go/bitset"
	"github.com/defistate/arb-engine-go/engine"
	"github.com/defistate/arb-engine-go/tokenindex"
	"github.com/defistate/arb-engine-go/tokentax"
)

// DefaultMaxHops bounds cycle length to the 2-hop and 3-hop routes the
// detector evaluates.
const DefaultMaxHops = 3

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// BuilderConfig holds everything the route-cache builder needs.
type BuilderConfig struct {
	Index      *tokenindex.Index
	Pools      []engine.PoolMeta
	BaseTokens []common.Address
	Tax        *tokentax.Table
	Logger     Logger

	// MaxHops bounds cycle length; zero means DefaultMaxHops.
	MaxHops int
	// Workers bounds the number of base tokens enumerated concurrently;
	// zero means GOMAXPROCS.
	Workers int
}

func (c *BuilderConfig) validate() error {
	if c.Index == nil {
		return errors.New("config: Index is required")
	}
	if len(c.Pools) == 0 {
		return errors.New("config: Pools is required")
	}
	if len(c.BaseTokens) == 0 {
		return errors.New("config: BaseTokens is required")
	}
	if c.Tax == nil {
		return errors.New("config: Tax is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.MaxHops < 0 {
		return errors.New("config: MaxHops must not be negative")
	}
	return nil
}

// Cache maps a token id to every precomputed cycle that passes through
// it as an intermediate hop. Read-only after Build returns.
type Cache struct {
	byToken map[engine.TokenID][]RoutePath
	total   int
}

// Routes returns the cycles indexed under a token id. The returned
// slice is shared and must not be mutated.
func (c *Cache) Routes(id engine.TokenID) []RoutePath {
	return c.byToken[id]
}

// TokenCount reports how many distinct tokens index at least one route.
func (c *Cache) TokenCount() int { return len(c.byToken) }

// RouteCount reports the number of distinct cycles in the cache.
func (c *Cache) RouteCount() int { return c.total }

type edge struct {
	to   engine.TokenID
	pool common.Address
	kind engine.PoolKind
}

// Build enumerates all bounded-length cycles through the configured
// base tokens and indexes them by intermediate token. Enumeration is
// parallel across base tokens; it is the dominant start-up cost for
// networks with thousands of tokens.
func Build(cfg BuilderConfig) (*Cache, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	maxHops := cfg.MaxHops
	if maxHops == 0 {
		maxHops = DefaultMaxHops
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	b := &builder{
		cfg:     cfg,
		maxHops: maxHops,
		graph:   buildGraph(cfg.Index, cfg.Pools),
		cache:   &Cache{byToken: make(map[engine.TokenID][]RoutePath)},
	}

	// Buffered so an early worker failure can never block the send loop.
	bases := make(chan engine.TokenID, len(cfg.BaseTokens))
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for base := range bases {
				if err := b.enumerateBase(base); err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	enqueued := 0
	seenBases := make(map[engine.TokenID]struct{}, len(cfg.BaseTokens))
	for _, addr := range cfg.BaseTokens {
		id, ok := cfg.Index.Lookup(addr)
		if !ok {
			cfg.Logger.Warn("base token absent from pool set, skipping", "token", addr.Hex())
			continue
		}
		// A base listed twice would enumerate twice and double-index
		// every one of its cycles.
		if _, dup := seenBases[id]; dup {
			continue
		}
		seenBases[id] = struct{}{}
		bases <- id
		enqueued++
	}
	close(bases)
	wg.Wait()
	close(errs)
	if err := <-errs; err != nil {
		return nil, err
	}

	cfg.Logger.Info("route cache built",
		"base_tokens", enqueued,
		"indexed_tokens", b.cache.TokenCount(),
		"routes", b.cache.RouteCount(),
	)
	return b.cache, nil
}

type builder struct {
	cfg     BuilderConfig
	maxHops int
	graph   map[engine.TokenID][]edge

	mu    sync.Mutex
	cache *Cache
}

func buildGraph(idx *tokenindex.Index, pools []engine.PoolMeta) map[engine.TokenID][]edge {
	graph := make(map[engine.TokenID][]edge)
	for _, p := range pools {
		id0, ok0 := idx.Lookup(p.Token0)
		id1, ok1 := idx.Lookup(p.Token1)
		if !ok0 || !ok1 || id0 == id1 {
			continue
		}
		graph[id0] = append(graph[id0], edge{to: id1, pool: p.Address, kind: p.Kind})
		graph[id1] = append(graph[id1], edge{to: id0, pool: p.Address, kind: p.Kind})
	}
	return graph
}

// routable reports whether a token may serve as an intermediate hop.
func (b *builder) routable(id engine.TokenID) bool {
	addr, ok := b.cfg.Index.Resolve(id)
	if !ok {
		return false
	}
	return b.cfg.Tax.Routable(addr)
}

type frame struct {
	token engine.TokenID
	next  int
}

// enumerateBase walks every simple cycle of length 2..maxHops starting
// and ending at base, using an explicit stack so depth stays bounded by
// configuration rather than recursion.
func (b *builder) enumerateBase(base engine.TokenID) error {
	var (
		stack = []frame{{token: base}}
		hops  = []engine.TokenID{base}
		pools []common.Address
		kinds []engine.PoolKind

		onPath  = bitset.New(uint32(b.cfg.Index.Len()))
		onPools = make(map[common.Address]struct{}, b.maxHops)

		seen    = mapset.NewThreadUnsafeSet[string]()
		found   []RoutePath
		byToken = make(map[engine.TokenID][]RoutePath)
	)

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		edges := b.graph[top.token]

		if top.next >= len(edges) {
			popped := *top
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				onPath.Unset(uint32(popped.token))
				delete(onPools, pools[len(pools)-1])
				hops = hops[:len(hops)-1]
				pools = pools[:len(pools)-1]
				kinds = kinds[:len(kinds)-1]
			}
			continue
		}

		e := edges[top.next]
		top.next++
		depth := len(stack) - 1 // hops taken so far

		if _, used := onPools[e.pool]; used {
			continue
		}

		if e.to == base {
			if depth+1 < 2 {
				continue
			}
			route := RoutePath{
				Hops:  append(append([]engine.TokenID{}, hops...), base),
				Pools: append(append([]common.Address{}, pools...), e.pool),
				Kinds: append(append([]engine.PoolKind{}, kinds...), e.kind),
			}
			if err := route.Validate(); err != nil {
				return fmt.Errorf("route builder produced %v", err)
			}
			if seen.Add(route.Key()) {
				found = append(found, route)
				for _, mid := range route.Hops[1 : len(route.Hops)-1] {
					byToken[mid] = append(byToken[mid], route)
				}
			}
			continue
		}

		if depth+1 >= b.maxHops {
			continue // no room left to return to base
		}
		if onPath.IsSet(uint32(e.to)) {
			continue
		}
		if !b.routable(e.to) {
			continue
		}

		onPath.Set(uint32(e.to))
		onPools[e.pool] = struct{}{}
		stack = append(stack, frame{token: e.to})
		hops = append(hops, e.to)
		pools = append(pools, e.pool)
		kinds = append(kinds, e.kind)
	}

	b.mu.Lock()
	for id, list := range byToken {
		b.cache.byToken[id] = append(b.cache.byToken[id], list...)
	}
	b.cache.total += len(found)
	b.mu.Unlock()

	b.cfg.Logger.Debug("base token enumerated", "base", base, "routes", len(found))
	return nil
}
