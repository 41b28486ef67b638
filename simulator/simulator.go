// Package simulator prices whole route legs against live pool state.
// Given a route and a trade size it produces router-style amounts
// arrays, dispatching each hop to the pricing family recorded in the
// pool state and adjusting amounts for per-token transfer taxes.
package simulator

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/arb-engine-go/calculator/clpool"
	"github.com/defistate/arb-engine-go/calculator/constproduct"
	"github.com/defistate/arb-engine-go/engine"
	"github.com/defistate/arb-engine-go/poolstate"
	"github.com/defistate/arb-engine-go/routes"
	"github.com/defistate/arb-engine-go/tokenindex"
	"github.com/defistate/arb-engine-go/tokentax"
)

var (
	// ErrTokenMismatch reports a hop whose tokens are not the two tokens
	// of the pool it crosses. Routes are validated at build time, so this
	// only fires when pool state and route data disagree.
	ErrTokenMismatch = errors.New("hop tokens do not match pool tokens")
	// ErrTaxProhibitive reports an exact-output walk through a token
	// taxed at 100% or more, for which no finite input suffices.
	ErrTaxProhibitive = errors.New("token tax of 100% or more")

	taxDenominator = big.NewInt(10_000)
)

// Simulator walks route legs against the current pool state. It holds
// no mutable state of its own and is safe for concurrent use.
type Simulator struct {
	states *poolstate.Cache
	index  *tokenindex.Index
	taxes  *tokentax.Table
}

func New(states *poolstate.Cache, index *tokenindex.Index, taxes *tokentax.Table) *Simulator {
	return &Simulator{states: states, index: index, taxes: taxes}
}

// SellPathAmounts walks the route forward from amountIn, returning the
// router-style amounts array: amounts[0] is the input and amounts[i]
// the output of hop i. Tax adjustments reduce what each pool actually
// receives and what the trader actually keeps.
func (s *Simulator) SellPathAmounts(route routes.RoutePath, amountIn *big.Int) ([]*big.Int, error) {
	if amountIn == nil {
		return nil, constproduct.ErrNilAmount
	}
	amounts := make([]*big.Int, 0, len(route.Hops))
	amounts = append(amounts, new(big.Int).Set(amountIn))

	current := amountIn
	for i, pool := range route.Pools {
		hop, err := s.resolveHop(pool, route.Hops[i], route.Hops[i+1])
		if err != nil {
			return nil, err
		}

		deposited := applyTax(current, hop.sellTaxIn)
		out, err := s.hopAmountOut(hop, deposited)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", pool.Hex(), err)
		}
		received := applyTax(out, hop.buyTaxOut)

		amounts = append(amounts, received)
		current = received
	}
	return amounts, nil
}

// BuyPathAmounts walks the route in reverse from the desired output
// amountOut, returning the amounts array in forward hop order:
// amounts[0] is the required input and amounts[last] the requested
// output. Taxes gross the required amounts up, rounding toward the
// trader paying more, so the forward swap covers the target.
func (s *Simulator) BuyPathAmounts(route routes.RoutePath, amountOut *big.Int) ([]*big.Int, error) {
	if amountOut == nil {
		return nil, constproduct.ErrNilAmount
	}
	amounts := make([]*big.Int, len(route.Hops))
	amounts[len(amounts)-1] = new(big.Int).Set(amountOut)

	current := amountOut
	for i := len(route.Pools) - 1; i >= 0; i-- {
		hop, err := s.resolveHop(route.Pools[i], route.Hops[i], route.Hops[i+1])
		if err != nil {
			return nil, err
		}

		grossOut, err := grossUpTax(current, hop.buyTaxOut)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", route.Pools[i].Hex(), err)
		}
		in, err := s.hopAmountIn(hop, grossOut)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", route.Pools[i].Hex(), err)
		}
		nominal, err := grossUpTax(in, hop.sellTaxIn)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", route.Pools[i].Hex(), err)
		}

		amounts[i] = nominal
		current = nominal
	}
	return amounts, nil
}

// hop carries the resolved per-hop pricing context.
type hop struct {
	state      *engine.PoolState
	zeroForOne bool
	sellTaxIn  int64
	buyTaxOut  int64
}

func (s *Simulator) resolveHop(pool common.Address, tokenIn, tokenOut engine.TokenID) (hop, error) {
	addrIn, ok := s.index.Resolve(tokenIn)
	if !ok {
		return hop{}, fmt.Errorf("%w: id %d", tokenindex.ErrUnknownToken, tokenIn)
	}
	addrOut, ok := s.index.Resolve(tokenOut)
	if !ok {
		return hop{}, fmt.Errorf("%w: id %d", tokenindex.ErrUnknownToken, tokenOut)
	}
	state, ok := s.states.Get(pool)
	if !ok {
		return hop{}, fmt.Errorf("%w: %s", poolstate.ErrPoolNotFound, pool.Hex())
	}

	var zeroForOne bool
	switch {
	case addrIn == state.Token0 && addrOut == state.Token1:
		zeroForOne = true
	case addrIn == state.Token1 && addrOut == state.Token0:
		zeroForOne = false
	default:
		return hop{}, fmt.Errorf("%w: pool %s", ErrTokenMismatch, pool.Hex())
	}

	h := hop{state: state, zeroForOne: zeroForOne}
	if s.taxes != nil {
		if info, ok := s.taxes.Get(addrIn); ok {
			h.sellTaxIn = info.SellTaxBps()
		}
		if info, ok := s.taxes.Get(addrOut); ok {
			h.buyTaxOut = info.BuyTaxBps()
		}
	}
	return h, nil
}

func (s *Simulator) hopAmountOut(h hop, amountIn *big.Int) (*big.Int, error) {
	switch h.state.Kind {
	case engine.KindConstantProduct:
		rIn, rOut := h.state.Reserve0, h.state.Reserve1
		if !h.zeroForOne {
			rIn, rOut = rOut, rIn
		}
		return constproduct.GetAmountOut(amountIn, rIn, rOut, h.state.FeeBps)
	case engine.KindConcentratedLiquidity:
		return clpool.GetAmountOut(amountIn, h.state.SqrtPriceX96, h.state.Liquidity, h.state.FeePpm, h.zeroForOne)
	default:
		return nil, fmt.Errorf("%w: kind %d", poolstate.ErrKindMismatch, h.state.Kind)
	}
}

func (s *Simulator) hopAmountIn(h hop, amountOut *big.Int) (*big.Int, error) {
	switch h.state.Kind {
	case engine.KindConstantProduct:
		rIn, rOut := h.state.Reserve0, h.state.Reserve1
		if !h.zeroForOne {
			rIn, rOut = rOut, rIn
		}
		return constproduct.GetAmountIn(amountOut, rIn, rOut, h.state.FeeBps)
	case engine.KindConcentratedLiquidity:
		return clpool.GetAmountIn(amountOut, h.state.SqrtPriceX96, h.state.Liquidity, h.state.FeePpm, h.zeroForOne)
	default:
		return nil, fmt.Errorf("%w: kind %d", poolstate.ErrKindMismatch, h.state.Kind)
	}
}

// applyTax reduces amount by taxBps. A tax at or above 100% leaves
// nothing rather than going negative.
func applyTax(amount *big.Int, taxBps int64) *big.Int {
	if taxBps <= 0 {
		return new(big.Int).Set(amount)
	}
	if taxBps >= 10_000 {
		return new(big.Int)
	}
	kept := new(big.Int).Mul(amount, big.NewInt(10_000-taxBps))
	return kept.Div(kept, taxDenominator)
}

// grossUpTax computes the nominal amount that leaves the target after
// taxBps is withheld, rounding up.
func grossUpTax(amount *big.Int, taxBps int64) (*big.Int, error) {
	if taxBps <= 0 {
		return new(big.Int).Set(amount), nil
	}
	if taxBps >= 10_000 {
		return nil, ErrTaxProhibitive
	}
	gross := new(big.Int).Mul(amount, taxDenominator)
	keep := big.NewInt(10_000 - taxBps)
	rem := new(big.Int)
	gross.DivMod(gross, keep, rem)
	if rem.Sign() > 0 {
		gross.Add(gross, one)
	}
	return gross, nil
}

var one = big.NewInt(1)
