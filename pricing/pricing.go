// Package pricing converts raw token amounts to USD so detected
// opportunities can be filtered by a dollar threshold. Prices come from
// a static table of well-known tokens; anything unlisted values to
// unknown rather than zero.
package pricing

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Lookup resolves the USD price of one whole token.
type Lookup interface {
	USDPrice(token common.Address) (decimal.Decimal, bool)
}

// StaticTable is an immutable address-to-price map.
type StaticTable struct {
	prices map[common.Address]decimal.Decimal
}

func NewStaticTable(prices map[common.Address]decimal.Decimal) *StaticTable {
	m := make(map[common.Address]decimal.Decimal, len(prices))
	for addr, p := range prices {
		m[addr] = p
	}
	return &StaticTable{prices: m}
}

func (t *StaticTable) USDPrice(token common.Address) (decimal.Decimal, bool) {
	p, ok := t.prices[token]
	return p, ok
}

// DefaultTable lists the BSC majors. Prices are point-in-time snapshots
// and only meant for order-of-magnitude opportunity filtering.
func DefaultTable() *StaticTable {
	return NewStaticTable(map[common.Address]decimal.Decimal{
		common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"): decimal.NewFromFloat(689.93),    // WBNB
		common.HexToAddress("0x2170Ed0880ac9A755fd29B2688956BD959F933F8"): decimal.NewFromFloat(2961.19),   // ETH
		common.HexToAddress("0x7130d2A12B9BCbFAe4f2634d864A1Ee1Ce3Ead9c"): decimal.NewFromFloat(117970.0),  // BTCB
		common.HexToAddress("0x55d398326f99059fF775485246999027B3197955"): decimal.NewFromInt(1),           // USDT
		common.HexToAddress("0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"): decimal.NewFromInt(1),           // USDC
		common.HexToAddress("0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56"): decimal.NewFromInt(1),           // BUSD
		common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82"): decimal.NewFromFloat(2.37),      // CAKE
	})
}

// ValueUSD prices a raw token amount, scaling by the token's decimals.
// The second return is false when the token has no listed price.
func ValueUSD(l Lookup, token common.Address, amount *big.Int, decimals int32) (decimal.Decimal, bool) {
	price, ok := l.USDPrice(token)
	if !ok || amount == nil {
		return decimal.Zero, false
	}
	units := decimal.NewFromBigInt(amount, -decimals)
	return units.Mul(price), true
}
