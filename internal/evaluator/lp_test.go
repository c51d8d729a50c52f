package evaluator

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/position-sentinel/internal/chain"
	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/types"
	"github.com/position-sentinel/internal/univ3"
)

type fakeLpSource struct {
	position   *chain.PositionData
	posErr     error
	slot0      *chain.Slot0
	slot0Err   error
	collect0   *big.Int
	collect1   *big.Int
	collectErr error
	global0    *big.Int
	global1    *big.Int
	lowerTick  *chain.TickInfo
	upperTick  *chain.TickInfo

	factoryCalls int
	poolCalls    int
}

func (f *fakeLpSource) Position(context.Context, *big.Int) (*chain.PositionData, error) {
	return f.position, f.posErr
}

func (f *fakeLpSource) Factory(context.Context) (common.Address, error) {
	f.factoryCalls++
	return common.HexToAddress("0xfac"), nil
}

func (f *fakeLpSource) PoolAddress(context.Context, common.Address, common.Address, common.Address, uint32) (common.Address, error) {
	f.poolCalls++
	return common.HexToAddress("0xp001"), nil
}

func (f *fakeLpSource) PoolSlot0(context.Context, common.Address) (*chain.Slot0, error) {
	return f.slot0, f.slot0Err
}

func (f *fakeLpSource) FeeGrowthGlobal(context.Context, common.Address) (*big.Int, *big.Int, error) {
	return f.global0, f.global1, nil
}

func (f *fakeLpSource) Tick(_ context.Context, _ common.Address, tick int32) (*chain.TickInfo, error) {
	if tick == f.position.TickLower {
		return f.lowerTick, nil
	}
	return f.upperTick, nil
}

func (f *fakeLpSource) SimulateCollect(context.Context, *big.Int, common.Address) (*big.Int, *big.Int, error) {
	return f.collect0, f.collect1, f.collectErr
}

func (f *fakeLpSource) TokenMeta(_ context.Context, token common.Address) (*chain.TokenMeta, error) {
	if token == common.HexToAddress("0xa0") {
		return &chain.TokenMeta{Symbol: "WETH", Decimals: 18}, nil
	}
	return &chain.TokenMeta{Symbol: "USDC", Decimals: 6}, nil
}

func lpFixture(tickLower, tickUpper int32, liquidity *big.Int) (*models.Contract, *models.OwnedToken, *fakeLpSource) {
	contract := &models.Contract{
		Chain:    types.ChainEthereum,
		Address:  "0xnpm",
		Kind:     types.KindLpPosition,
		Protocol: "uniswap-v3",
	}
	token := &models.OwnedToken{
		Chain:           types.ChainEthereum,
		ContractAddress: "0xnpm",
		TokenID:         "42",
		Owner:           "0xwallet",
	}
	source := &fakeLpSource{
		position: &chain.PositionData{
			Token0:                   common.HexToAddress("0xa0"),
			Token1:                   common.HexToAddress("0xa1"),
			Fee:                      3000,
			TickLower:                tickLower,
			TickUpper:                tickUpper,
			Liquidity:                liquidity,
			FeeGrowthInside0LastX128: big.NewInt(0),
			FeeGrowthInside1LastX128: big.NewInt(0),
			TokensOwed0:              big.NewInt(0),
			TokensOwed1:              big.NewInt(0),
		},
		collect0: new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)),
		collect1: big.NewInt(3_000_000),
	}
	return contract, token, source
}

func sqrtAtTick(t *testing.T, tick int32) *big.Int {
	t.Helper()
	v, err := univ3.SqrtRatioAtTick(tick)
	require.NoError(t, err)
	return v
}

func TestLpEvaluator_InRange(t *testing.T) {
	contract, token, source := lpFixture(100, 200, big.NewInt(1_000_000_000))
	source.slot0 = &chain.Slot0{SqrtPriceX96: sqrtAtTick(t, 150), Tick: 150}
	eval := NewLpEvaluator(source, testThresholds())

	summary, err := eval.Evaluate(context.Background(), contract, token, "user-1")
	require.NoError(t, err)

	assert.Equal(t, types.RangeInRange, summary.RangeStatus)
	assert.InDelta(t, 0.5, summary.RangeFrac, 1e-9)
	assert.Equal(t, types.TierLow, summary.RangeTier)
	assert.Equal(t, "WETH", summary.Token0)
	assert.Equal(t, "USDC", summary.Token1)
	assert.Positive(t, summary.Amount0)
	assert.Positive(t, summary.Amount1)
	assert.InDelta(t, 2.0, summary.UncollectedFee0, 1e-9)
	assert.InDelta(t, 3.0, summary.UncollectedFee1, 1e-9)
}

func TestLpEvaluator_NearEdge(t *testing.T) {
	contract, token, source := lpFixture(100, 200, big.NewInt(1_000_000_000))
	// tick 195 is 5% of the width from the upper bound
	source.slot0 = &chain.Slot0{SqrtPriceX96: sqrtAtTick(t, 195), Tick: 195}
	eval := NewLpEvaluator(source, testThresholds())

	summary, err := eval.Evaluate(context.Background(), contract, token, "user-1")
	require.NoError(t, err)
	assert.Equal(t, types.RangeInRange, summary.RangeStatus)
	assert.Equal(t, types.TierHigh, summary.RangeTier)
}

func TestLpEvaluator_OutOfRange(t *testing.T) {
	contract, token, source := lpFixture(100, 200, big.NewInt(1_000_000_000))
	// 50% of the width past the upper bound
	source.slot0 = &chain.Slot0{SqrtPriceX96: sqrtAtTick(t, 250), Tick: 250}
	eval := NewLpEvaluator(source, testThresholds())

	summary, err := eval.Evaluate(context.Background(), contract, token, "user-1")
	require.NoError(t, err)
	assert.Equal(t, types.RangeOutOfRange, summary.RangeStatus)
	assert.Equal(t, types.TierHigh, summary.RangeTier)
	// price above range holds only token1
	assert.Zero(t, summary.Amount0)
	assert.Positive(t, summary.Amount1)
}

func TestLpEvaluator_InactivePosition(t *testing.T) {
	contract, token, source := lpFixture(100, 200, big.NewInt(0))
	eval := NewLpEvaluator(source, testThresholds())

	summary, err := eval.Evaluate(context.Background(), contract, token, "user-1")
	require.NoError(t, err)
	assert.Equal(t, types.RangeInactive, summary.RangeStatus)
	assert.Equal(t, types.TierLow, summary.RangeTier)
}

func TestLpEvaluator_PoolStateUnavailable(t *testing.T) {
	contract, token, source := lpFixture(100, 200, big.NewInt(1_000_000_000))
	source.slot0Err = errors.New("rpc down")
	eval := NewLpEvaluator(source, testThresholds())

	summary, err := eval.Evaluate(context.Background(), contract, token, "user-1")
	require.NoError(t, err)
	assert.Equal(t, types.RangeUnknown, summary.RangeStatus)
	assert.Equal(t, types.TierUnknown, summary.RangeTier)
}

func TestLpEvaluator_FeeFallbackFromAccumulators(t *testing.T) {
	contract, token, source := lpFixture(100, 200, new(big.Int).Lsh(big.NewInt(1), 64))
	source.slot0 = &chain.Slot0{SqrtPriceX96: sqrtAtTick(t, 150), Tick: 150}
	source.collectErr = errors.New("execution reverted")
	// growth of 1 << 128 inside the range since the checkpoint
	source.global0 = new(big.Int).Lsh(big.NewInt(1), 128)
	source.global1 = big.NewInt(0)
	source.lowerTick = &chain.TickInfo{FeeGrowthOutside0X128: big.NewInt(0), FeeGrowthOutside1X128: big.NewInt(0)}
	source.upperTick = &chain.TickInfo{FeeGrowthOutside0X128: big.NewInt(0), FeeGrowthOutside1X128: big.NewInt(0)}
	eval := NewLpEvaluator(source, testThresholds())

	summary, err := eval.Evaluate(context.Background(), contract, token, "user-1")
	require.NoError(t, err)
	// liquidity 2^64 times growth 2^128 >> 128 is 2^64 raw, scaled by 1e18
	assert.InDelta(t, 18.446744, summary.UncollectedFee0, 1e-5)
	assert.Zero(t, summary.UncollectedFee1)
}

func TestLpEvaluator_FeeFallbackWhenCollectReturnsZero(t *testing.T) {
	contract, token, source := lpFixture(100, 200, new(big.Int).Lsh(big.NewInt(1), 64))
	source.slot0 = &chain.Slot0{SqrtPriceX96: sqrtAtTick(t, 150), Tick: 150}
	// simulation succeeds but reports nothing owed; the accumulators disagree
	source.collect0 = big.NewInt(0)
	source.collect1 = big.NewInt(0)
	source.global0 = new(big.Int).Lsh(big.NewInt(1), 128)
	source.global1 = big.NewInt(0)
	source.lowerTick = &chain.TickInfo{FeeGrowthOutside0X128: big.NewInt(0), FeeGrowthOutside1X128: big.NewInt(0)}
	source.upperTick = &chain.TickInfo{FeeGrowthOutside0X128: big.NewInt(0), FeeGrowthOutside1X128: big.NewInt(0)}
	eval := NewLpEvaluator(source, testThresholds())

	summary, err := eval.Evaluate(context.Background(), contract, token, "user-1")
	require.NoError(t, err)
	assert.InDelta(t, 18.446744, summary.UncollectedFee0, 1e-5)
	assert.Zero(t, summary.UncollectedFee1)
}

func TestLpEvaluator_PoolLookupCached(t *testing.T) {
	contract, token, source := lpFixture(100, 200, big.NewInt(1_000_000_000))
	source.slot0 = &chain.Slot0{SqrtPriceX96: sqrtAtTick(t, 150), Tick: 150}
	eval := NewLpEvaluator(source, testThresholds())

	_, err := eval.Evaluate(context.Background(), contract, token, "user-1")
	require.NoError(t, err)
	_, err = eval.Evaluate(context.Background(), contract, token, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, source.factoryCalls)
	assert.Equal(t, 1, source.poolCalls)
}
