package alert

import (
	"fmt"
	"time"

	"github.com/position-sentinel/internal/config"
	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/types"
)

// RedemptionVariant alerts on a loan nearing the front of the redemption
// queue. Like the liquidation variant it opens with an UPDATED status line.
type RedemptionVariant struct {
	debounce config.DebounceConfig
}

// NewRedemptionVariant creates the redemption-queue alert variant.
func NewRedemptionVariant(debounce config.DebounceConfig) *RedemptionVariant {
	return &RedemptionVariant{debounce: debounce}
}

// Type implements Variant.
func (v *RedemptionVariant) Type() types.AlertType { return types.AlertRedemption }

// Evaluate implements Variant.
func (v *RedemptionVariant) Evaluate(summary *models.PositionSummary) Condition {
	tier := summary.RedemptionTier
	return Condition{
		Known:  tier.Known(),
		Active: activeAt(tier),
		Tier:   tier,
	}
}

// Debounce implements Variant.
func (v *RedemptionVariant) Debounce(direction types.DebounceDirection) time.Duration {
	if direction == types.DirectionWorsening {
		return v.debounce.RedemptionWorsening
	}
	return v.debounce.RedemptionImproving
}

// CriticalBypass implements Variant.
func (v *RedemptionVariant) CriticalBypass() bool { return true }

// AnnounceNew implements Variant.
func (v *RedemptionVariant) AnnounceNew() bool { return false }

// AnnounceResolved implements Variant.
func (v *RedemptionVariant) AnnounceResolved() bool { return true }

// Signature implements Variant. Debt-ahead moves in coarse steps as other
// positions adjust, so a 5% bucket is enough.
func (v *RedemptionVariant) Signature(summary *models.PositionSummary, phase types.AlertPhase, tier types.Tier) string {
	return signature(
		string(types.AlertRedemption),
		string(phase),
		string(tier),
		bucketFloat(summary.DebtAheadFrac, 0.05),
	)
}

// Render implements Variant.
func (v *RedemptionVariant) Render(summary *models.PositionSummary, phase types.AlertPhase, tier types.Tier, _ bool) (string, map[string]interface{}) {
	meta := map[string]interface{}{
		"debtAheadFrac":      summary.DebtAheadFrac,
		"annualInterestRate": summary.AnnualInterestRate,
		"debt":               summary.Debt,
	}

	var msg string
	switch phase {
	case types.PhaseResolved:
		msg = fmt.Sprintf("%s loan %s on %s: redemption risk cleared, %.0f%% of system debt queued ahead",
			summary.Protocol, summary.TokenID, summary.Chain.DisplayName(), summary.DebtAheadFrac*100)
	default:
		msg = fmt.Sprintf("%s loan %s on %s: redemption risk %s, only %.0f%% of system debt ahead at %.2f%% interest",
			summary.Protocol, summary.TokenID, summary.Chain.DisplayName(), tier,
			summary.DebtAheadFrac*100, summary.AnnualInterestRate*100)
	}
	return msg, meta
}
