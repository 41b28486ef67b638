// Package tokenindex assigns dense integer identities to token
// addresses. Everything downstream of pool discovery works on IDs
// instead of 20-byte addresses for cheap equality and cache locality.
package tokenindex

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/arb-engine-go/engine"
)

// ErrUnknownToken is returned when an address or id was never assigned.
var ErrUnknownToken = errors.New("token not indexed")

// Index is a bijection between token addresses and dense TokenIDs.
// It is mutable only during the build phase; once shared it must be
// treated as read-only (no internal locking).
type Index struct {
	byAddress map[common.Address]engine.TokenID
	byID      []common.Address
}

// New returns an empty index.
func New() *Index {
	return &Index{
		byAddress: make(map[common.Address]engine.TokenID),
	}
}

// Build scans the discovered pool list and assigns an id to every
// distinct token, in first-sighting order.
func Build(pools []engine.PoolMeta) *Index {
	idx := &Index{
		byAddress: make(map[common.Address]engine.TokenID, 2*len(pools)),
		byID:      make([]common.Address, 0, 2*len(pools)),
	}
	for _, pool := range pools {
		idx.GetOrAssign(pool.Token0)
		idx.GetOrAssign(pool.Token1)
	}
	return idx
}

// GetOrAssign returns the id for addr, assigning the next dense id on
// first sighting. It is idempotent but not safe for concurrent use.
func (idx *Index) GetOrAssign(addr common.Address) engine.TokenID {
	if id, ok := idx.byAddress[addr]; ok {
		return id
	}
	id := engine.TokenID(len(idx.byID))
	idx.byAddress[addr] = id
	idx.byID = append(idx.byID, addr)
	return id
}

// Lookup returns the id previously assigned to addr.
func (idx *Index) Lookup(addr common.Address) (engine.TokenID, bool) {
	id, ok := idx.byAddress[addr]
	return id, ok
}

// Resolve returns the address for an assigned id. It is total for every
// id GetOrAssign ever returned.
func (idx *Index) Resolve(id engine.TokenID) (common.Address, bool) {
	if int(id) >= len(idx.byID) {
		return common.Address{}, false
	}
	return idx.byID[id], true
}

// Len reports how many tokens have been assigned.
func (idx *Index) Len() int {
	return len(idx.byID)
}
