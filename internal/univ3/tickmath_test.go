package univ3

import (
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqrtRatioAtTick_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		tick int32
		want string
	}{
		// reference values from the pool contract's TickMath
		{"zero tick is Q96", 0, "79228162514264337593543950336"},
		{"min tick", MinTick, "4295128739"},
		{"max tick", MaxTick, "1461446703485210103287273052203988822378723970342"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SqrtRatioAtTick(tt.tick)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestSqrtRatioAtTick_OutOfRange(t *testing.T) {
	_, err := SqrtRatioAtTick(MinTick - 1)
	assert.Error(t, err)
	_, err = SqrtRatioAtTick(MaxTick + 1)
	assert.Error(t, err)
}

func TestSqrtRatioAtTick_Monotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	properties.Property("sqrt ratio strictly increases with tick", prop.ForAll(
		func(tick int32) bool {
			a, err := SqrtRatioAtTick(tick)
			if err != nil {
				return false
			}
			b, err := SqrtRatioAtTick(tick + 1)
			if err != nil {
				return false
			}
			return b.Cmp(a) > 0
		},
		gen.Int32Range(MinTick, MaxTick-1),
	))
	properties.TestingRun(t)
}

func TestAmountsForLiquidity(t *testing.T) {
	liquidity := big.NewInt(1_000_000_000)

	sqrtAt := func(tick int32) *big.Int {
		v, err := SqrtRatioAtTick(tick)
		require.NoError(t, err)
		return v
	}

	t.Run("price below range is all token0", func(t *testing.T) {
		a0, a1, err := AmountsForLiquidity(sqrtAt(-100), 0, 100, liquidity)
		require.NoError(t, err)
		assert.Positive(t, a0.Sign())
		assert.Zero(t, a1.Sign())
	})

	t.Run("price above range is all token1", func(t *testing.T) {
		a0, a1, err := AmountsForLiquidity(sqrtAt(200), 0, 100, liquidity)
		require.NoError(t, err)
		assert.Zero(t, a0.Sign())
		assert.Positive(t, a1.Sign())
	})

	t.Run("price inside range splits both tokens", func(t *testing.T) {
		a0, a1, err := AmountsForLiquidity(sqrtAt(50), 0, 100, liquidity)
		require.NoError(t, err)
		assert.Positive(t, a0.Sign())
		assert.Positive(t, a1.Sign())
	})

	t.Run("inverted bounds rejected", func(t *testing.T) {
		_, _, err := AmountsForLiquidity(sqrtAt(0), 100, 100, liquidity)
		assert.Error(t, err)
	})
}

func TestAmountsForLiquidity_ConservedAcrossSplit(t *testing.T) {
	// the split at the current price never exceeds the single-sided totals
	liquidity := big.NewInt(5_000_000_000)
	lowerSqrt, err := SqrtRatioAtTick(-1000)
	require.NoError(t, err)
	upperSqrt, err := SqrtRatioAtTick(1000)
	require.NoError(t, err)

	all0, _, err := AmountsForLiquidity(lowerSqrt, -1000, 1000, liquidity)
	require.NoError(t, err)
	_, all1, err := AmountsForLiquidity(upperSqrt, -1000, 1000, liquidity)
	require.NoError(t, err)

	mid, err := SqrtRatioAtTick(0)
	require.NoError(t, err)
	a0, a1, err := AmountsForLiquidity(mid, -1000, 1000, liquidity)
	require.NoError(t, err)

	assert.True(t, a0.Cmp(all0) < 0, "split amount0 below single-sided total")
	assert.True(t, a1.Cmp(all1) < 0, "split amount1 below single-sided total")
}
