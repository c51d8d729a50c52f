package univ3

import "math/big"

// FeeGrowthOutside is the pair of per-tick fee-growth-outside accumulators.
type FeeGrowthOutside struct {
	Fee0X128 *big.Int
	Fee1X128 *big.Int
}

// subMod256 computes a - b mod 2^256. The pool contracts rely on uint256
// wraparound for fee-growth deltas, so underflow here is expected and must
// wrap rather than go negative.
func subMod256(a, b *big.Int) *big.Int {
	result := new(big.Int).Sub(a, b)
	if result.Sign() < 0 {
		result.Add(result, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return result
}

// FeeGrowthInside computes the fee growth inside a position's tick range from
// the global accumulators and the bounds' fee-growth-outside values, matching
// the pool contract's getFeeGrowthInside.
func FeeGrowthInside(
	global0, global1 *big.Int,
	lower, upper FeeGrowthOutside,
	tickLower, tickUpper, tickCurrent int32,
) (inside0, inside1 *big.Int) {
	var below0, below1 *big.Int
	if tickCurrent >= tickLower {
		below0, below1 = lower.Fee0X128, lower.Fee1X128
	} else {
		below0 = subMod256(global0, lower.Fee0X128)
		below1 = subMod256(global1, lower.Fee1X128)
	}

	var above0, above1 *big.Int
	if tickCurrent < tickUpper {
		above0, above1 = upper.Fee0X128, upper.Fee1X128
	} else {
		above0 = subMod256(global0, upper.Fee0X128)
		above1 = subMod256(global1, upper.Fee1X128)
	}

	inside0 = subMod256(subMod256(global0, below0), above0)
	inside1 = subMod256(subMod256(global1, below1), above1)
	return inside0, inside1
}

// FeesOwed computes the uncollected fees accrued since the position's last
// recorded fee-growth checkpoint: liquidity * (inside - insideLast) / 2^128.
func FeesOwed(liquidity, insideNow, insideLast *big.Int) *big.Int {
	delta := subMod256(insideNow, insideLast)
	owed := new(big.Int).Mul(liquidity, delta)
	return owed.Rsh(owed, 128)
}
