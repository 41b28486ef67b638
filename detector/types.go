package detector

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/arb-engine-go/routes"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Event is a pool state change that may open an arbitrage window: the
// pool that moved, the token whose balance changed, and by how much.
type Event struct {
	Pool        common.Address
	Token       common.Address
	Amount      *big.Int
	BlockNumber uint64
	ReceivedAt  time.Time
}

// SimulatedRoute is one candidate route priced at the event's trade
// size. Amounts are router-style: element 0 is the leg input, the last
// element the leg output. MergedAmounts joins both legs end to end.
type SimulatedRoute struct {
	BuyPath  routes.RoutePath
	SellPath routes.RoutePath

	BuyAmounts    []*big.Int
	SellAmounts   []*big.Int
	MergedAmounts []*big.Int

	// Profit is SellAmounts[last] - BuyAmounts[0], floored at zero.
	Profit *big.Int
	// ProfitPercent is Profit relative to BuyAmounts[0], for ranking
	// and reporting only.
	ProfitPercent float64
}

// Opportunity pairs a triggering event with every profitable route
// found and the best of them by profit percentage.
type Opportunity struct {
	Event Event

	Profitable []SimulatedRoute
	Best       SimulatedRoute

	// RoutesConsidered counts the candidates that survived the pool
	// filter, including those that failed simulation.
	RoutesConsidered int
}
