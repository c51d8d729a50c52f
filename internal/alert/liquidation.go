package alert

import (
	"fmt"
	"time"

	"github.com/position-sentinel/internal/config"
	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/types"
)

// LiquidationVariant alerts on a loan's shrinking price buffer. Loan holders
// watch these as a status feed, so the first notification arrives as an
// UPDATED line rather than a NEW announcement.
type LiquidationVariant struct {
	debounce config.DebounceConfig
}

// NewLiquidationVariant creates the liquidation-buffer alert variant.
func NewLiquidationVariant(debounce config.DebounceConfig) *LiquidationVariant {
	return &LiquidationVariant{debounce: debounce}
}

// Type implements Variant.
func (v *LiquidationVariant) Type() types.AlertType { return types.AlertLiquidation }

// Evaluate implements Variant.
func (v *LiquidationVariant) Evaluate(summary *models.PositionSummary) Condition {
	tier := summary.LiquidationTier
	return Condition{
		Known:  tier.Known(),
		Active: activeAt(tier),
		Tier:   tier,
	}
}

// Debounce implements Variant.
func (v *LiquidationVariant) Debounce(direction types.DebounceDirection) time.Duration {
	if direction == types.DirectionWorsening {
		return v.debounce.LiquidationWorsening
	}
	return v.debounce.LiquidationImproving
}

// CriticalBypass implements Variant. A CRITICAL buffer cannot wait out a
// debounce window.
func (v *LiquidationVariant) CriticalBypass() bool { return true }

// AnnounceNew implements Variant.
func (v *LiquidationVariant) AnnounceNew() bool { return false }

// AnnounceResolved implements Variant.
func (v *LiquidationVariant) AnnounceResolved() bool { return true }

// Signature implements Variant. The buffer is bucketed in 1% steps so price
// noise does not defeat dedup.
func (v *LiquidationVariant) Signature(summary *models.PositionSummary, phase types.AlertPhase, tier types.Tier) string {
	return signature(
		string(types.AlertLiquidation),
		string(phase),
		string(tier),
		bucketFloat(summary.BufferFrac, 0.01),
	)
}

// Render implements Variant.
func (v *LiquidationVariant) Render(summary *models.PositionSummary, phase types.AlertPhase, tier types.Tier, _ bool) (string, map[string]interface{}) {
	meta := map[string]interface{}{
		"bufferFrac":       summary.BufferFrac,
		"currentPrice":     summary.CurrentPrice,
		"liquidationPrice": summary.LiquidationPrice,
		"debt":             summary.Debt,
		"collateral":       summary.Collateral,
	}

	var msg string
	switch phase {
	case types.PhaseResolved:
		msg = fmt.Sprintf("%s loan %s on %s: liquidation risk cleared, buffer back to %.1f%%",
			summary.Protocol, summary.TokenID, summary.Chain.DisplayName(), summary.BufferFrac*100)
	default:
		msg = fmt.Sprintf("%s loan %s on %s: liquidation risk %s, price %.4f is %.1f%% above liquidation price %.4f",
			summary.Protocol, summary.TokenID, summary.Chain.DisplayName(), tier,
			summary.CurrentPrice, summary.BufferFrac*100, summary.LiquidationPrice)
	}
	return msg, meta
}
