package evaluator

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/position-sentinel/internal/config"
	"github.com/position-sentinel/internal/types"
)

func testThresholds() config.ThresholdsConfig {
	return config.ThresholdsConfig{
		LiquidationWarn:     0.10,
		LiquidationHigh:     0.05,
		LiquidationCritical: 0.02,
		RedemptionLow:       0.50,
		RedemptionMedium:    0.25,
		RedemptionHigh:      0.10,
		RangeEdgeWarn:       0.25,
		RangeEdgeHigh:       0.10,
		RangeEdgeCritical:   0.03,
		RangeOutMedium:      0.05,
		RangeOutHigh:        0.25,
		RangeOutCritical:    1.0,
	}
}

func TestLiquidationTier(t *testing.T) {
	th := testThresholds()
	tests := []struct {
		name   string
		buffer float64
		want   types.Tier
	}{
		{"comfortable buffer", 0.50, types.TierLow},
		{"just above warn boundary", 0.101, types.TierLow},
		{"at warn boundary", 0.10, types.TierMedium},
		{"below warn", 0.09, types.TierMedium},
		{"at high boundary", 0.05, types.TierHigh},
		{"between high and critical", 0.049, types.TierHigh},
		{"at critical boundary", 0.02, types.TierCritical},
		{"nearly underwater", 0.01, types.TierCritical},
		{"underwater", -0.10, types.TierCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LiquidationTier(tt.buffer, th))
		})
	}
}

func TestRedemptionTier(t *testing.T) {
	th := testThresholds()
	tests := []struct {
		name string
		frac float64
		want types.Tier
	}{
		{"half the system ahead", 0.60, types.TierLow},
		{"at low boundary", 0.50, types.TierLow},
		{"quarter ahead", 0.30, types.TierMedium},
		{"near the front", 0.12, types.TierHigh},
		{"front of the queue", 0.01, types.TierCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RedemptionTier(tt.frac, th))
		})
	}
}

func TestRangeTiers(t *testing.T) {
	th := testThresholds()

	assert.Equal(t, types.TierLow, InRangeTier(0.5, th))
	assert.Equal(t, types.TierMedium, InRangeTier(0.15, th))
	assert.Equal(t, types.TierHigh, InRangeTier(0.05, th))
	assert.Equal(t, types.TierCritical, InRangeTier(0.01, th))

	assert.Equal(t, types.TierLow, OutOfRangeTier(0.01, th))
	assert.Equal(t, types.TierMedium, OutOfRangeTier(0.10, th))
	assert.Equal(t, types.TierHigh, OutOfRangeTier(0.50, th))
	assert.Equal(t, types.TierCritical, OutOfRangeTier(1.5, th))
}

// Every classifier must be monotone: moving the metric in the risky direction
// can never produce a safer tier.
func TestTiers_Monotone(t *testing.T) {
	th := testThresholds()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	fracPair := gopter.CombineGens(
		gen.Float64Range(-1, 2),
		gen.Float64Range(-1, 2),
	).Map(func(vs []interface{}) [2]float64 {
		a, b := vs[0].(float64), vs[1].(float64)
		if a > b {
			a, b = b, a
		}
		return [2]float64{a, b}
	})

	properties.Property("smaller liquidation buffer never safer", prop.ForAll(
		func(p [2]float64) bool {
			return LiquidationTier(p[0], th).Rank() >= LiquidationTier(p[1], th).Rank()
		}, fracPair))

	properties.Property("less debt ahead never safer", prop.ForAll(
		func(p [2]float64) bool {
			return RedemptionTier(p[0], th).Rank() >= RedemptionTier(p[1], th).Rank()
		}, fracPair))

	properties.Property("smaller edge distance never safer", prop.ForAll(
		func(p [2]float64) bool {
			return InRangeTier(p[0], th).Rank() >= InRangeTier(p[1], th).Rank()
		}, fracPair))

	properties.Property("further past bound never safer", prop.ForAll(
		func(p [2]float64) bool {
			return OutOfRangeTier(p[1], th).Rank() >= OutOfRangeTier(p[0], th).Rank()
		}, fracPair))

	properties.TestingRun(t)
}
