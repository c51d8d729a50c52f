package sampler

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/position-sentinel/internal/config"
	"github.com/position-sentinel/internal/types"
)

type fakeQueue struct {
	head      int64
	next      map[int64]int64
	debts     map[int64]*big.Int
	rates     map[int64]*big.Int
	total     *big.Int
	debtErrs  map[int64]error
	walkCount int
}

func (f *fakeQueue) QueueFirst(context.Context) (*big.Int, error) {
	f.walkCount++
	return big.NewInt(f.head), nil
}

func (f *fakeQueue) QueueNext(_ context.Context, troveID *big.Int) (*big.Int, error) {
	return big.NewInt(f.next[troveID.Int64()]), nil
}

func (f *fakeQueue) TroveDebt(_ context.Context, troveID *big.Int) (*big.Int, error) {
	if err := f.debtErrs[troveID.Int64()]; err != nil {
		return nil, err
	}
	return f.debts[troveID.Int64()], nil
}

func (f *fakeQueue) TroveAnnualInterestRate(_ context.Context, troveID *big.Int) (*big.Int, error) {
	return f.rates[troveID.Int64()], nil
}

func (f *fakeQueue) TotalDebt(context.Context) (*big.Int, error) {
	return f.total, nil
}

func wadInt(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(1e18))
}

func rateWad(bps int64) *big.Int {
	// basis points to 1e18 fixed point
	return new(big.Int).Mul(big.NewInt(bps), big.NewInt(1e14))
}

// four troves from the high-rate end: debts 100, 200, 300, 400 of a 1000 total
func testQueue() *fakeQueue {
	return &fakeQueue{
		head:  1,
		next:  map[int64]int64{1: 2, 2: 3, 3: 4, 4: 0},
		debts: map[int64]*big.Int{1: wadInt(100), 2: wadInt(200), 3: wadInt(300), 4: wadInt(400)},
		rates: map[int64]*big.Int{1: rateWad(1000), 2: rateWad(800), 3: rateWad(500), 4: rateWad(200)},
		total: wadInt(1000),
	}
}

func testSamplerConfig() config.SamplerConfig {
	return config.SamplerConfig{
		MaxSteps:            100,
		MinResampleInterval: 10 * time.Minute,
		DebtDeltaGate:       0.02,
	}
}

func testThresholds() config.ThresholdsConfig {
	return config.ThresholdsConfig{
		RedemptionLow:    0.50,
		RedemptionMedium: 0.25,
		RedemptionHigh:   0.10,
	}
}

func TestSampler_Walk(t *testing.T) {
	queue := testQueue()
	s := New(queue, types.ChainEthereum, testSamplerConfig(), testThresholds())

	result, err := s.Sample(context.Background(), []string{"3"})
	require.NoError(t, err)

	assert.Equal(t, 4, result.Steps)
	assert.InDelta(t, 1000.0, result.TotalDebt, 1e-9)

	// trove 1 crosses 10%, trove 2 crosses 25%, trove 3 crosses 50%
	assert.InDelta(t, 0.10, result.TierTargets[types.TierHigh], 1e-9)
	assert.InDelta(t, 0.08, result.TierTargets[types.TierMedium], 1e-9)
	assert.InDelta(t, 0.05, result.TierTargets[types.TierLow], 1e-9)

	// 100 + 200 of debt sit ahead of trove 3
	frac, ok := result.DebtAheadFrac("3")
	require.True(t, ok)
	assert.InDelta(t, 0.3, frac, 1e-9)
}

func TestSampler_CacheReuse(t *testing.T) {
	queue := testQueue()
	s := New(queue, types.ChainEthereum, testSamplerConfig(), testThresholds())

	first, err := s.Sample(context.Background(), []string{"3"})
	require.NoError(t, err)
	second, err := s.Sample(context.Background(), []string{"3"})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, queue.walkCount)
}

func TestSampler_ForcedWalkForUntrackedPosition(t *testing.T) {
	queue := testQueue()
	s := New(queue, types.ChainEthereum, testSamplerConfig(), testThresholds())

	_, err := s.Sample(context.Background(), []string{"3"})
	require.NoError(t, err)

	// trove 2 has no entry in the cached sample, so the cache cannot serve it
	result, err := s.Sample(context.Background(), []string{"3", "2"})
	require.NoError(t, err)
	assert.Equal(t, 2, queue.walkCount)

	frac, ok := result.DebtAheadFrac("2")
	require.True(t, ok)
	assert.InDelta(t, 0.1, frac, 1e-9)
}

func TestSampler_SkipsUnreadableNode(t *testing.T) {
	queue := testQueue()
	queue.debtErrs = map[int64]error{2: errors.New("bad node")}
	s := New(queue, types.ChainEthereum, testSamplerConfig(), testThresholds())

	result, err := s.Sample(context.Background(), []string{"3"})
	require.NoError(t, err)

	// trove 2's debt is missing from the accumulation but the walk continues
	assert.Equal(t, 4, result.Steps)
	frac, ok := result.DebtAheadFrac("3")
	require.True(t, ok)
	assert.InDelta(t, 0.1, frac, 1e-9)
}

func TestSampler_StepCeiling(t *testing.T) {
	queue := testQueue()
	cfg := testSamplerConfig()
	cfg.MaxSteps = 2
	s := New(queue, types.ChainEthereum, cfg, testThresholds())

	result, err := s.Sample(context.Background(), []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Steps)

	// trove 3 was never reached
	_, ok := result.DebtAheadFrac("3")
	assert.False(t, ok)
}
