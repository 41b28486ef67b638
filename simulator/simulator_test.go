package simulator

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/arb-engine-go/engine"
	"github.com/defistate/arb-engine-go/poolstate"
	"github.com/defistate/arb-engine-go/routes"
	"github.com/defistate/arb-engine-go/tokenindex"
	"github.com/defistate/arb-engine-go/tokentax"
)

var (
	tokenA = common.BytesToAddress([]byte{0x0A})
	tokenB = common.BytesToAddress([]byte{0x0B})
	poolP1 = common.BytesToAddress([]byte{0xF1, 0x01})
	poolP2 = common.BytesToAddress([]byte{0xF1, 0x02})
)

func newFixture(t *testing.T, taxes *tokentax.Table) (*Simulator, *tokenindex.Index) {
	t.Helper()
	metas := []engine.PoolMeta{
		{Address: poolP1, Token0: tokenA, Token1: tokenB, Kind: engine.KindConstantProduct, FeeBps: 25},
		{Address: poolP2, Token0: tokenA, Token1: tokenB, Kind: engine.KindConstantProduct, FeeBps: 25},
	}
	idx := tokenindex.Build(metas)

	cache := poolstate.New()
	cache.Put(poolP1, &engine.PoolState{
		Kind: engine.KindConstantProduct, Token0: tokenA, Token1: tokenB,
		Reserve0: big.NewInt(1_000_000), Reserve1: big.NewInt(2_000_000), FeeBps: 25,
	})
	cache.Put(poolP2, &engine.PoolState{
		Kind: engine.KindConstantProduct, Token0: tokenA, Token1: tokenB,
		Reserve0: big.NewInt(1_050_000), Reserve1: big.NewInt(2_000_000), FeeBps: 25,
	})
	return New(cache, idx, taxes), idx
}

func idOf(t *testing.T, idx *tokenindex.Index, addr common.Address) engine.TokenID {
	t.Helper()
	id, ok := idx.Lookup(addr)
	require.True(t, ok)
	return id
}

func twoHopRoute(t *testing.T, idx *tokenindex.Index) routes.RoutePath {
	t.Helper()
	a, b := idOf(t, idx, tokenA), idOf(t, idx, tokenB)
	return routes.RoutePath{
		Hops:  []engine.TokenID{a, b, a},
		Pools: []common.Address{poolP1, poolP2},
		Kinds: []engine.PoolKind{engine.KindConstantProduct, engine.KindConstantProduct},
	}
}

func oneHopLeg(t *testing.T, idx *tokenindex.Index) routes.RoutePath {
	t.Helper()
	a, b := idOf(t, idx, tokenA), idOf(t, idx, tokenB)
	return routes.RoutePath{
		Hops:  []engine.TokenID{a, b},
		Pools: []common.Address{poolP1},
		Kinds: []engine.PoolKind{engine.KindConstantProduct},
	}
}

func amountStrings(amounts []*big.Int) []string {
	out := make([]string, len(amounts))
	for i, a := range amounts {
		out[i] = a.String()
	}
	return out
}

func TestSellPathAmounts(t *testing.T) {
	sim, idx := newFixture(t, nil)

	amounts, err := sim.SellPathAmounts(twoHopRoute(t, idx), big.NewInt(10_000))
	require.NoError(t, err)
	assert.Equal(t, []string{"10000", "19752", "10242"}, amountStrings(amounts))
}

func TestBuyPathAmounts(t *testing.T) {
	sim, idx := newFixture(t, nil)

	amounts, err := sim.BuyPathAmounts(oneHopLeg(t, idx), big.NewInt(19_700))
	require.NoError(t, err)
	assert.Equal(t, []string{"9973", "19700"}, amountStrings(amounts))

	amounts, err = sim.BuyPathAmounts(twoHopRoute(t, idx), big.NewInt(9_000))
	require.NoError(t, err)
	assert.Equal(t, []string{"8766", "17335", "9000"}, amountStrings(amounts))
}

func TestSellTaxReducesDeposit(t *testing.T) {
	taxes := tokentax.NewTable(map[common.Address]tokentax.Info{
		tokenA: {SellTax: 10, SimulationSuccess: true},
	})
	sim, idx := newFixture(t, taxes)

	amounts, err := sim.SellPathAmounts(oneHopLeg(t, idx), big.NewInt(10_000))
	require.NoError(t, err)
	assert.Equal(t, []string{"10000", "17795"}, amountStrings(amounts))
}

func TestBuyTaxOfFullAmountZeroesOutput(t *testing.T) {
	taxes := tokentax.NewTable(map[common.Address]tokentax.Info{
		tokenB: {BuyTax: 100, SimulationSuccess: true},
	})
	sim, idx := newFixture(t, taxes)

	amounts, err := sim.SellPathAmounts(oneHopLeg(t, idx), big.NewInt(10_000))
	require.NoError(t, err)
	assert.Equal(t, "0", amounts[1].String())
}

func TestBuyPathGrossesUpTaxes(t *testing.T) {
	taxes := tokentax.NewTable(map[common.Address]tokentax.Info{
		tokenA: {SellTax: 10, SimulationSuccess: true},
	})
	sim, idx := newFixture(t, taxes)

	amounts, err := sim.BuyPathAmounts(oneHopLeg(t, idx), big.NewInt(19_700))
	require.NoError(t, err)
	assert.Equal(t, []string{"11082", "19700"}, amountStrings(amounts))

	withBuyTax := tokentax.NewTable(map[common.Address]tokentax.Info{
		tokenB: {BuyTax: 5, SimulationSuccess: true},
	})
	sim, idx = newFixture(t, withBuyTax)
	amounts, err = sim.BuyPathAmounts(oneHopLeg(t, idx), big.NewInt(19_700))
	require.NoError(t, err)
	assert.Equal(t, []string{"10504", "19700"}, amountStrings(amounts))
}

func TestBuyPathFullTaxInfeasible(t *testing.T) {
	taxes := tokentax.NewTable(map[common.Address]tokentax.Info{
		tokenB: {BuyTax: 100, SimulationSuccess: true},
	})
	sim, idx := newFixture(t, taxes)

	_, err := sim.BuyPathAmounts(oneHopLeg(t, idx), big.NewInt(19_700))
	require.ErrorIs(t, err, ErrTaxProhibitive)
}

func TestMissingPool(t *testing.T) {
	sim, idx := newFixture(t, nil)
	a, b := idOf(t, idx, tokenA), idOf(t, idx, tokenB)

	route := routes.RoutePath{
		Hops:  []engine.TokenID{a, b},
		Pools: []common.Address{common.BytesToAddress([]byte{0xDE, 0xAD})},
		Kinds: []engine.PoolKind{engine.KindConstantProduct},
	}
	_, err := sim.SellPathAmounts(route, big.NewInt(1))
	require.ErrorIs(t, err, poolstate.ErrPoolNotFound)
}

func TestTokenMismatch(t *testing.T) {
	sim, idx := newFixture(t, nil)
	a := idOf(t, idx, tokenA)

	route := routes.RoutePath{
		Hops:  []engine.TokenID{a, a},
		Pools: []common.Address{poolP1},
		Kinds: []engine.PoolKind{engine.KindConstantProduct},
	}
	_, err := sim.SellPathAmounts(route, big.NewInt(1))
	require.ErrorIs(t, err, ErrTokenMismatch)
}

func TestInsufficientLiquidityFailsLeg(t *testing.T) {
	sim, idx := newFixture(t, nil)

	_, err := sim.BuyPathAmounts(oneHopLeg(t, idx), big.NewInt(2_000_000))
	require.Error(t, err)
}
