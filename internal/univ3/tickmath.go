// Package univ3 implements the concentrated-liquidity math needed to value
// LP positions: tick to sqrt-price conversion, liquidity to token amounts,
// and fee-growth delta accounting. All fixed-point arithmetic follows the
// pool contracts (Q64.96 sqrt prices, Q128.128 fee growth, mod 2^256).
package univ3

import (
	"fmt"
	"math/big"
)

const (
	// MinTick is the lowest tick a position can span
	MinTick = -887272
	// MaxTick is the highest tick a position can span
	MaxTick = 887272
)

var (
	// Q96 is 2^96, the sqrt-price fixed-point scale
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)
	// Q128 is 2^128, the fee-growth fixed-point scale
	Q128 = new(big.Int).Lsh(big.NewInt(1), 128)

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	// per-bit multipliers for the tick exponentiation, Q128 fixed point
	tickRatios = []string{
		"fffcb933bd6fad37aa2d162d1a594001",
		"fff97272373d413259a46990580e213a",
		"fff2e50f5f656932ef12357cf3c7fdcc",
		"ffe5caca7e10e4e61c3624eaa0941cd0",
		"ffcb9843d60f6159c9db58835c926644",
		"ff973b41fa98c081472e6896dfb254c0",
		"ff2ea16466c96a3843ec78b326b52861",
		"fe5dee046a99a2a811c461f1969c3053",
		"fcbe86c7900a88aedcffc83b479aa3a4",
		"f987a7253ac413176f2b074cf7815e54",
		"f3392b0822b70005940c7a398e4b70f3",
		"e7159475a2c29b7443b29c7fa6e889d9",
		"d097f3bdfd2022b8845ad8f792aa5825",
		"a9f746462d870fdf8a65dc1f90e061e5",
		"70d869a156d2a1b890bb3df62baf32f7",
		"31be135f97d08fd981231505542fcfa6",
		"9aa508b5b7a84e1c677de54f3e99bc9",
		"5d6af8dedb81196699c329225ee604",
		"2216e584f5fa1ea926041bedfe98",
		"48a170391f7dc42444e8fa2",
	}

	tickRatioInts []*big.Int
)

func init() {
	tickRatioInts = make([]*big.Int, len(tickRatios))
	for i, s := range tickRatios {
		v, ok := new(big.Int).SetString(s, 16)
		if !ok {
			panic("univ3: bad tick ratio constant " + s)
		}
		tickRatioInts[i] = v
	}
}

// SqrtRatioAtTick returns the Q64.96 sqrt price for a tick, matching the
// pool contract's TickMath.getSqrtRatioAtTick.
func SqrtRatioAtTick(tick int32) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("tick %d out of range [%d, %d]", tick, MinTick, MaxTick)
	}

	absTick := int64(tick)
	if absTick < 0 {
		absTick = -absTick
	}

	var ratio *big.Int
	if absTick&1 != 0 {
		ratio = new(big.Int).Set(tickRatioInts[0])
	} else {
		ratio = new(big.Int).Set(Q128)
	}
	for i := 1; i < len(tickRatioInts); i++ {
		if absTick&(1<<uint(i)) != 0 {
			ratio.Mul(ratio, tickRatioInts[i])
			ratio.Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio = new(big.Int).Div(maxUint256, ratio)
	}

	// downcast Q128.128 to Q64.96, rounding up
	rem := new(big.Int).And(ratio, new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 32), big.NewInt(1)))
	ratio.Rsh(ratio, 32)
	if rem.Sign() != 0 {
		ratio.Add(ratio, big.NewInt(1))
	}
	return ratio, nil
}

// AmountsForLiquidity converts a position's liquidity into principal token
// amounts at the current price. The split depends on whether the price is
// below, inside or above the position's bounds.
func AmountsForLiquidity(sqrtPriceX96 *big.Int, tickLower, tickUpper int32, liquidity *big.Int) (amount0, amount1 *big.Int, err error) {
	if tickLower >= tickUpper {
		return nil, nil, fmt.Errorf("tickLower %d must be below tickUpper %d", tickLower, tickUpper)
	}
	sqrtLower, err := SqrtRatioAtTick(tickLower)
	if err != nil {
		return nil, nil, err
	}
	sqrtUpper, err := SqrtRatioAtTick(tickUpper)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case sqrtPriceX96.Cmp(sqrtLower) <= 0:
		// price below range: all principal in token0
		return amount0ForLiquidity(sqrtLower, sqrtUpper, liquidity), big.NewInt(0), nil
	case sqrtPriceX96.Cmp(sqrtUpper) < 0:
		// price inside range: split
		return amount0ForLiquidity(sqrtPriceX96, sqrtUpper, liquidity),
			amount1ForLiquidity(sqrtLower, sqrtPriceX96, liquidity), nil
	default:
		// price above range: all principal in token1
		return big.NewInt(0), amount1ForLiquidity(sqrtLower, sqrtUpper, liquidity), nil
	}
}

// amount0 = liquidity * (sqrtB - sqrtA) * Q96 / (sqrtB * sqrtA)
func amount0ForLiquidity(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	num := new(big.Int).Sub(sqrtB, sqrtA)
	num.Mul(num, liquidity)
	num.Lsh(num, 96)
	den := new(big.Int).Mul(sqrtB, sqrtA)
	return num.Div(num, den)
}

// amount1 = liquidity * (sqrtB - sqrtA) / Q96
func amount1ForLiquidity(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	num := new(big.Int).Sub(sqrtB, sqrtA)
	num.Mul(num, liquidity)
	return num.Rsh(num, 96)
}
