// Package evaluator computes per-position risk summaries: liquidation and
// redemption tiers for loan positions, range tiers for LP positions. A metric
// that cannot be computed yields TierUnknown rather than a guessed bucket.
package evaluator

import (
	"github.com/position-sentinel/internal/config"
	"github.com/position-sentinel/internal/types"
)

// LiquidationTier classifies a loan's price buffer fraction: the relative
// distance between the current price and the liquidation price. The function
// is a monotone step: a smaller buffer never maps to a safer tier. A buffer
// sitting exactly on a threshold belongs to the riskier side.
func LiquidationTier(bufferFrac float64, t config.ThresholdsConfig) types.Tier {
	switch {
	case bufferFrac > t.LiquidationWarn:
		return types.TierLow
	case bufferFrac > t.LiquidationHigh:
		return types.TierMedium
	case bufferFrac > t.LiquidationCritical:
		return types.TierHigh
	default:
		return types.TierCritical
	}
}

// RedemptionTier classifies the fraction of system debt queued ahead of a
// position. The scale is inverted relative to the liquidation one: more debt
// ahead is safer, so the boundaries descend.
func RedemptionTier(debtAheadFrac float64, t config.ThresholdsConfig) types.Tier {
	switch {
	case debtAheadFrac >= t.RedemptionLow:
		return types.TierLow
	case debtAheadFrac >= t.RedemptionMedium:
		return types.TierMedium
	case debtAheadFrac >= t.RedemptionHigh:
		return types.TierHigh
	default:
		return types.TierCritical
	}
}

// InRangeTier classifies an in-range LP position by the distance from the
// current tick to the nearest bound, as a fraction of the position width.
func InRangeTier(edgeDistFrac float64, t config.ThresholdsConfig) types.Tier {
	switch {
	case edgeDistFrac >= t.RangeEdgeWarn:
		return types.TierLow
	case edgeDistFrac >= t.RangeEdgeHigh:
		return types.TierMedium
	case edgeDistFrac >= t.RangeEdgeCritical:
		return types.TierHigh
	default:
		return types.TierCritical
	}
}

// OutOfRangeTier classifies an out-of-range LP position by how far past the
// bound the current tick sits, as a fraction of the position width. A tick
// that barely grazed out stays LOW since the price may re-enter immediately.
func OutOfRangeTier(pastBoundFrac float64, t config.ThresholdsConfig) types.Tier {
	switch {
	case pastBoundFrac >= t.RangeOutCritical:
		return types.TierCritical
	case pastBoundFrac >= t.RangeOutHigh:
		return types.TierHigh
	case pastBoundFrac >= t.RangeOutMedium:
		return types.TierMedium
	default:
		return types.TierLow
	}
}
