package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenID is a dense process-local identifier for a token address.
// IDs are assigned on first sighting and never reused within a process.
type TokenID uint32

// PoolKind tags the pricing family of a pool.
type PoolKind uint8

const (
	// KindConstantProduct is an x*y=k pool with a flat basis-point fee.
	KindConstantProduct PoolKind = iota
	// KindConcentratedLiquidity is a tick-indexed sqrt-price pool
	// (Uniswap-V3 style) with a fee scaled by 1e-6.
	KindConcentratedLiquidity
)

func (k PoolKind) String() string {
	switch k {
	case KindConstantProduct:
		return "constant-product"
	case KindConcentratedLiquidity:
		return "concentrated-liquidity"
	default:
		return "unknown"
	}
}

// PoolMeta is one record of the pool discovery feed: the static facts
// about a pool that never change after deployment.
type PoolMeta struct {
	Address common.Address `json:"pairAddress"`
	Token0  common.Address `json:"token0"`
	Token1  common.Address `json:"token1"`
	Kind    PoolKind       `json:"kind"`
	Factory common.Address `json:"factoryAddress,omitempty"`

	// FeeBps applies to constant-product pools (i.e. 25 for 0.25%).
	FeeBps uint32 `json:"feeBps,omitempty"`
	// FeePpm applies to concentrated-liquidity pools (i.e. 3000 for 0.3%).
	FeePpm uint32 `json:"feePpm,omitempty"`
}

// PoolState is the live pricing state of a single pool. Exactly one of
// the reserve pair or the sqrt-price/liquidity group is populated,
// matching Kind. A PoolState is immutable once published to the state
// cache; updates replace the whole record.
type PoolState struct {
	Kind   PoolKind
	Token0 common.Address
	Token1 common.Address

	// Constant-product state.
	Reserve0 *big.Int
	Reserve1 *big.Int
	FeeBps   uint32

	// Concentrated-liquidity state.
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int32
	FeePpm       uint32
	TickSpacing  int32

	// LastUpdated is the Unix nanosecond timestamp of the last applied event.
	LastUpdated int64
}

// Copy returns a PoolState with its own memory for the pointer fields,
// so a published record never shares big.Ints with its successor.
func (s *PoolState) Copy() *PoolState {
	out := *s
	if s.Reserve0 != nil {
		out.Reserve0 = new(big.Int).Set(s.Reserve0)
	}
	if s.Reserve1 != nil {
		out.Reserve1 = new(big.Int).Set(s.Reserve1)
	}
	if s.SqrtPriceX96 != nil {
		out.SqrtPriceX96 = new(big.Int).Set(s.SqrtPriceX96)
	}
	if s.Liquidity != nil {
		out.Liquidity = new(big.Int).Set(s.Liquidity)
	}
	return &out
}

// PoolEvent is one decoded state-change notification. Reserve events
// populate Reserve0/Reserve1; price events populate SqrtPriceX96,
// Liquidity and Tick. The transport that decoded the event may attach
// the bought token and its magnitude when it knows them; sources that
// only see price updates leave them zero.
type PoolEvent struct {
	Pool common.Address
	Kind PoolKind

	Reserve0 *big.Int
	Reserve1 *big.Int

	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int32

	// Token and Amount describe the swap behind the event when the
	// source decoded them (token withdrawn from the pool, and how much).
	Token  common.Address
	Amount *big.Int

	BlockNumber uint64
	// ReceivedAt is the Unix nanosecond timestamp when the event entered
	// the ingestion loop.
	ReceivedAt int64
}
