// Package clpool implements single-step swap math for concentrated
// liquidity pools, operating on the pool's current sqrt price (Q64.96)
// and in-range liquidity. Fees are expressed in parts per million and
// applied to the input amount before the price step.
//
// The math deliberately stays within one price step: tick crossings are
// out of scope, so results are only meaningful for swaps small relative
// to in-range liquidity. The implausibility bound guards against feeding
// the formulas state they cannot represent.
package clpool

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// Q96 is the UQ64.96 fixed-point number representing 1.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

	ErrNilAmount             = errors.New("nil pointer passed as amount")
	ErrInvalidAmount         = errors.New("amount must be non-negative")
	ErrZeroLiquidity         = errors.New("liquidity must be greater than zero")
	ErrZeroSqrtPrice         = errors.New("sqrt price must be greater than zero")
	ErrOperandTooLarge       = errors.New("pool state exceeds 128 bits")
	ErrInvalidFee            = errors.New("fee must be below 1000000 ppm")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for swap")
	ErrPriceExhausted        = errors.New("swap would exhaust the price range")
	ErrImplausibleResult     = errors.New("result implausibly large relative to counterpart")

	one = big.NewInt(1)
	// implausibilityFactor bounds output against 1000x of the input (and
	// vice versa on the exact-output path).
	implausibilityFactor = big.NewInt(1000)

	feeDenominatorPpm = big.NewInt(1_000_000)
)

// maxOperandBits bounds sqrt price and liquidity the same way a uint128
// representation would.
const maxOperandBits = 128

// Calculator holds reusable big.Int objects to avoid memory allocations.
// Instances are managed by a sync.Pool for safe concurrent use.
type Calculator struct {
	feeMultiplier   *big.Int
	amountInWithFee *big.Int
	liquidityQ96    *big.Int
	sqrtPriceNew    *big.Int
	deltaSqrt       *big.Int
	numerator       *big.Int
	denominator     *big.Int
	bound           *big.Int
	rem             *big.Int
}

// divRoundingUp writes ceil(a / b) into dest.
func (c *Calculator) divRoundingUp(dest, a, b *big.Int) {
	dest.Div(a, b)
	if c.rem.Rem(a, b).Sign() > 0 {
		dest.Add(dest, one)
	}
}

var pool = sync.Pool{
	New: func() any {
		return &Calculator{
			feeMultiplier:   new(big.Int),
			amountInWithFee: new(big.Int),
			liquidityQ96:    new(big.Int),
			sqrtPriceNew:    new(big.Int),
			deltaSqrt:       new(big.Int),
			numerator:       new(big.Int),
			denominator:     new(big.Int),
			bound:           new(big.Int),
			rem:             new(big.Int),
		}
	},
}

// GetAmountOut computes the output of an exact-input swap against the
// pool's current sqrt price and liquidity. The fee (in ppm) is deducted
// from amountIn before the price moves. zeroForOne selects the swap
// direction: token0 in, token1 out when true.
func GetAmountOut(amountIn, sqrtPriceX96, liquidity *big.Int, feePpm uint32, zeroForOne bool) (*big.Int, error) {
	if err := checkArgs(amountIn, sqrtPriceX96, liquidity, feePpm); err != nil {
		return nil, err
	}
	c := pool.Get().(*Calculator)
	defer pool.Put(c)
	return c.getAmountOut(amountIn, sqrtPriceX96, liquidity, feePpm, zeroForOne)
}

// GetAmountIn computes the input required for an exact-output swap. The
// result is rounded up by one unit so that simulating the swap forward
// with it yields at least amountOut. zeroForOne has the same meaning as
// in GetAmountOut: when true the caller pays token0 to receive token1.
func GetAmountIn(amountOut, sqrtPriceX96, liquidity *big.Int, feePpm uint32, zeroForOne bool) (*big.Int, error) {
	if err := checkArgs(amountOut, sqrtPriceX96, liquidity, feePpm); err != nil {
		return nil, err
	}
	if amountOut.Cmp(liquidity) > 0 {
		return nil, ErrInsufficientLiquidity
	}
	c := pool.Get().(*Calculator)
	defer pool.Put(c)
	return c.getAmountIn(amountOut, sqrtPriceX96, liquidity, feePpm, zeroForOne)
}

func checkArgs(amount, sqrtPriceX96, liquidity *big.Int, feePpm uint32) error {
	if amount == nil || sqrtPriceX96 == nil || liquidity == nil {
		return ErrNilAmount
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if liquidity.Sign() <= 0 {
		return ErrZeroLiquidity
	}
	if sqrtPriceX96.Sign() <= 0 {
		return ErrZeroSqrtPrice
	}
	if sqrtPriceX96.BitLen() > maxOperandBits || liquidity.BitLen() > maxOperandBits {
		return ErrOperandTooLarge
	}
	if feePpm >= 1_000_000 {
		return ErrInvalidFee
	}
	return nil
}

func (c *Calculator) getAmountOut(amountIn, sqrtPriceX96, liquidity *big.Int, feePpm uint32, zeroForOne bool) (*big.Int, error) {
	c.feeMultiplier.SetUint64(uint64(1_000_000 - feePpm))
	c.amountInWithFee.Mul(amountIn, c.feeMultiplier)
	c.amountInWithFee.Div(c.amountInWithFee, feeDenominatorPpm)

	amountOut := new(big.Int)

	if zeroForOne {
		// Price decreases:
		//   sqrtP' = L*Q96*sqrtP / (L*Q96 + in*sqrtP)
		//   out    = L * (sqrtP - sqrtP') / Q96
		c.liquidityQ96.Mul(liquidity, Q96)
		c.numerator.Mul(c.liquidityQ96, sqrtPriceX96)
		c.denominator.Mul(c.amountInWithFee, sqrtPriceX96)
		c.denominator.Add(c.liquidityQ96, c.denominator)
		c.sqrtPriceNew.Div(c.numerator, c.denominator)

		c.deltaSqrt.Sub(sqrtPriceX96, c.sqrtPriceNew)
		amountOut.Mul(liquidity, c.deltaSqrt)
		amountOut.Div(amountOut, Q96)
	} else {
		// Price increases:
		//   sqrtP' = sqrtP + in*Q96/L
		//   out    = L * (sqrtP' - sqrtP) * Q96 / (sqrtP' * sqrtP)
		c.deltaSqrt.Mul(c.amountInWithFee, Q96)
		c.deltaSqrt.Div(c.deltaSqrt, liquidity)
		c.sqrtPriceNew.Add(sqrtPriceX96, c.deltaSqrt)

		c.numerator.Mul(liquidity, c.deltaSqrt)
		c.numerator.Mul(c.numerator, Q96)
		c.denominator.Mul(c.sqrtPriceNew, sqrtPriceX96)
		amountOut.Div(c.numerator, c.denominator)
	}

	c.bound.Mul(amountIn, implausibilityFactor)
	if amountOut.Cmp(c.bound) > 0 {
		return nil, ErrImplausibleResult
	}
	return amountOut, nil
}

func (c *Calculator) getAmountIn(amountOut, sqrtPriceX96, liquidity *big.Int, feePpm uint32, zeroForOne bool) (*big.Int, error) {
	c.feeMultiplier.SetUint64(uint64(1_000_000 - feePpm))

	amountIn := new(big.Int)

	if zeroForOne {
		// Invert the price-down step: find sqrtP' delivering amountOut of
		// token1, then solve for the token0 input producing that price.
		// Rounding toward a larger price move keeps the forward swap from
		// undershooting the requested output.
		c.numerator.Mul(amountOut, Q96)
		c.divRoundingUp(c.deltaSqrt, c.numerator, liquidity)
		if c.deltaSqrt.Cmp(sqrtPriceX96) >= 0 {
			return nil, ErrPriceExhausted
		}
		c.sqrtPriceNew.Sub(sqrtPriceX96, c.deltaSqrt)

		// in = L*Q96*(sqrtP - sqrtP') / (sqrtP' * sqrtP)
		c.liquidityQ96.Mul(liquidity, Q96)
		c.numerator.Mul(c.liquidityQ96, c.deltaSqrt)
		c.denominator.Mul(c.sqrtPriceNew, sqrtPriceX96)
		c.divRoundingUp(amountIn, c.numerator, c.denominator)
	} else {
		// Invert the price-up step: sqrtP' = L*sqrtP / (L - out*sqrtP/Q96).
		c.numerator.Mul(amountOut, sqrtPriceX96)
		c.divRoundingUp(c.denominator, c.numerator, Q96)
		c.denominator.Sub(liquidity, c.denominator)
		if c.denominator.Sign() <= 0 {
			return nil, ErrInsufficientLiquidity
		}
		c.numerator.Mul(liquidity, sqrtPriceX96)
		c.divRoundingUp(c.sqrtPriceNew, c.numerator, c.denominator)

		// in = (sqrtP' - sqrtP) * L / Q96
		c.deltaSqrt.Sub(c.sqrtPriceNew, sqrtPriceX96)
		c.numerator.Mul(c.deltaSqrt, liquidity)
		c.divRoundingUp(amountIn, c.numerator, Q96)
	}

	// Undo the fee, then round up so the forward swap covers amountOut.
	amountIn.Mul(amountIn, feeDenominatorPpm)
	amountIn.Div(amountIn, c.feeMultiplier)
	amountIn.Add(amountIn, one)

	c.bound.Mul(amountOut, implausibilityFactor)
	if amountIn.Cmp(c.bound) > 0 {
		return nil, ErrImplausibleResult
	}
	return amountIn, nil
}
