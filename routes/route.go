// Package routes precomputes the bounded-length cyclic trade paths used
// by arbitrage detection: every 2-hop and 3-hop (configurable) cycle
// that starts and ends at a configured base token, indexed by the
// intermediate tokens it passes through.
package routes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/arb-engine-go/engine"
)

var (
	// ErrInvalidRoute is returned by Validate for a route whose parallel
	// slices are inconsistent. This is a build-time bug, never tolerated
	// at run time.
	ErrInvalidRoute = errors.New("invalid route")
	// ErrTokenNotOnRoute is returned by SplitAroundToken when the pivot
	// token does not appear on the route.
	ErrTokenNotOnRoute = errors.New("token not on route")
)

// RoutePath is an ordered trade cycle: k+1 hop token ids (first == last,
// the base token), with one pool address and one pool family tag per
// hop. Immutable once built; shared read-only across detections.
type RoutePath struct {
	Hops  []engine.TokenID
	Pools []common.Address
	Kinds []engine.PoolKind
}

// Validate checks the structural invariants the builder must uphold:
// matching slice lengths and a closed cycle.
func (r RoutePath) Validate() error {
	if len(r.Hops) < 3 {
		return fmt.Errorf("%w: %d hops", ErrInvalidRoute, len(r.Hops))
	}
	if len(r.Pools) != len(r.Hops)-1 {
		return fmt.Errorf("%w: %d hop tokens but %d pools", ErrInvalidRoute, len(r.Hops), len(r.Pools))
	}
	if len(r.Kinds) != len(r.Pools) {
		return fmt.Errorf("%w: %d pools but %d kind tags", ErrInvalidRoute, len(r.Pools), len(r.Kinds))
	}
	if r.Hops[0] != r.Hops[len(r.Hops)-1] {
		return fmt.Errorf("%w: cycle does not return to its base token", ErrInvalidRoute)
	}
	return nil
}

// Base returns the route's base token id.
func (r RoutePath) Base() engine.TokenID { return r.Hops[0] }

// ContainsPool reports whether the route trades through the given pool.
func (r RoutePath) ContainsPool(pool common.Address) bool {
	for _, p := range r.Pools {
		if p == pool {
			return true
		}
	}
	return false
}

// Key is a stable identity for deduplication: the full (hops, pools)
// tuple.
func (r RoutePath) Key() string {
	var b strings.Builder
	b.Grow(len(r.Hops)*9 + len(r.Pools)*41)
	for _, h := range r.Hops {
		fmt.Fprintf(&b, "%d/", h)
	}
	for _, p := range r.Pools {
		b.WriteByte('|')
		b.Write(p[:])
	}
	return b.String()
}

// SplitAroundToken slices the cycle at the first occurrence of token
// into a buy leg (prefix ending at token) and a sell leg (suffix
// starting at token). Both legs share the pivot token:
// buy.Hops[last] == sell.Hops[0] == token, and the pool sequences
// partition the route's pools exactly.
func (r RoutePath) SplitAroundToken(token engine.TokenID) (buy, sell RoutePath, err error) {
	pos := -1
	for i, h := range r.Hops {
		if h == token {
			pos = i
			break
		}
	}
	if pos < 0 {
		return RoutePath{}, RoutePath{}, fmt.Errorf("%w: token %d", ErrTokenNotOnRoute, token)
	}

	buy = RoutePath{
		Hops:  r.Hops[:pos+1],
		Pools: r.Pools[:pos],
		Kinds: r.Kinds[:pos],
	}
	sell = RoutePath{
		Hops:  r.Hops[pos:],
		Pools: r.Pools[pos:],
		Kinds: r.Kinds[pos:],
	}
	return buy, sell, nil
}
