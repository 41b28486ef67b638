package pricing

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	wbnb = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	usdt = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
)

func TestStaticTableLookup(t *testing.T) {
	table := NewStaticTable(map[common.Address]decimal.Decimal{
		usdt: decimal.NewFromInt(1),
	})

	p, ok := table.USDPrice(usdt)
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(1)))

	_, ok = table.USDPrice(common.BytesToAddress([]byte{0x01}))
	assert.False(t, ok)
}

func TestDefaultTableHasMajors(t *testing.T) {
	table := DefaultTable()
	for _, addr := range []common.Address{wbnb, usdt} {
		_, ok := table.USDPrice(addr)
		assert.True(t, ok, addr.Hex())
	}
}

func TestValueUSD(t *testing.T) {
	table := DefaultTable()

	// 0.5 WBNB at 689.93.
	half := new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)
	half.Mul(half, big.NewInt(5))
	v, ok := ValueUSD(table, wbnb, half, 18)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromFloat(344.965)), v.String())

	// 1,500,000 raw USDT units at 18 decimals is dust.
	v, ok = ValueUSD(table, usdt, big.NewInt(1_500_000), 18)
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.RequireFromString("0.0000000000015")), v.String())

	_, ok = ValueUSD(table, common.BytesToAddress([]byte{0x01}), big.NewInt(1), 18)
	assert.False(t, ok)

	_, ok = ValueUSD(table, wbnb, nil, 18)
	assert.False(t, ok)
}
