package alert

import (
	"fmt"
	"time"

	"github.com/position-sentinel/internal/config"
	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/types"
)

// LpRangeVariant alerts on an LP position drifting toward or past its range
// bounds. Range exits are announced as NEW since LP holders act on them.
type LpRangeVariant struct {
	debounce config.DebounceConfig
}

// NewLpRangeVariant creates the LP range alert variant.
func NewLpRangeVariant(debounce config.DebounceConfig) *LpRangeVariant {
	return &LpRangeVariant{debounce: debounce}
}

// Type implements Variant.
func (v *LpRangeVariant) Type() types.AlertType { return types.AlertLpRange }

// Evaluate implements Variant. Out-of-range always holds the condition; in
// range it holds only once the tick is pressed against an edge. Inactive
// positions carry no condition.
func (v *LpRangeVariant) Evaluate(summary *models.PositionSummary) Condition {
	switch summary.RangeStatus {
	case types.RangeUnknown, "":
		return Condition{Known: false}
	case types.RangeInactive:
		return Condition{Known: true, Active: false, Tier: types.TierLow}
	case types.RangeOutOfRange:
		return Condition{Known: summary.RangeTier.Known(), Active: true, Tier: summary.RangeTier}
	default:
		tier := summary.RangeTier
		return Condition{
			Known:  tier.Known(),
			Active: tier.Rank() >= types.TierHigh.Rank(),
			Tier:   tier,
		}
	}
}

// Debounce implements Variant.
func (v *LpRangeVariant) Debounce(direction types.DebounceDirection) time.Duration {
	if direction == types.DirectionWorsening {
		return v.debounce.LpRangeWorsening
	}
	return v.debounce.LpRangeImproving
}

// CriticalBypass implements Variant. Ticks cross bounds and come straight
// back; LP alerts always wait out the debounce.
func (v *LpRangeVariant) CriticalBypass() bool { return false }

// AnnounceNew implements Variant.
func (v *LpRangeVariant) AnnounceNew() bool { return true }

// AnnounceResolved implements Variant.
func (v *LpRangeVariant) AnnounceResolved() bool { return true }

// Signature implements Variant.
func (v *LpRangeVariant) Signature(summary *models.PositionSummary, phase types.AlertPhase, tier types.Tier) string {
	return signature(
		string(types.AlertLpRange),
		string(phase),
		string(tier),
		string(summary.RangeStatus),
		bucketFloat(summary.RangeFrac, 0.05),
	)
}

// Render implements Variant. Status-only wallets get the range status without
// tier or tick detail.
func (v *LpRangeVariant) Render(summary *models.PositionSummary, phase types.AlertPhase, tier types.Tier, statusOnly bool) (string, map[string]interface{}) {
	pair := summary.Token0 + "/" + summary.Token1
	meta := map[string]interface{}{
		"rangeStatus": summary.RangeStatus,
		"rangeFrac":   summary.RangeFrac,
		"currentTick": summary.CurrentTick,
		"tickLower":   summary.TickLower,
		"tickUpper":   summary.TickUpper,
	}

	if statusOnly {
		var msg string
		switch phase {
		case types.PhaseResolved:
			msg = fmt.Sprintf("%s LP %s (%s) on %s is back in range",
				summary.Protocol, summary.TokenID, pair, summary.Chain.DisplayName())
		default:
			msg = fmt.Sprintf("%s LP %s (%s) on %s is %s",
				summary.Protocol, summary.TokenID, pair, summary.Chain.DisplayName(), summary.RangeStatus)
		}
		return msg, meta
	}

	var msg string
	switch {
	case phase == types.PhaseResolved:
		msg = fmt.Sprintf("%s LP %s (%s) on %s is back in range at tick %d [%d, %d)",
			summary.Protocol, summary.TokenID, pair, summary.Chain.DisplayName(),
			summary.CurrentTick, summary.TickLower, summary.TickUpper)
	case summary.RangeStatus == types.RangeOutOfRange:
		msg = fmt.Sprintf("%s LP %s (%s) on %s is OUT_OF_RANGE (%s): tick %d outside [%d, %d)",
			summary.Protocol, summary.TokenID, pair, summary.Chain.DisplayName(), tier,
			summary.CurrentTick, summary.TickLower, summary.TickUpper)
	default:
		msg = fmt.Sprintf("%s LP %s (%s) on %s is near its range edge (%s): tick %d in [%d, %d)",
			summary.Protocol, summary.TokenID, pair, summary.Chain.DisplayName(), tier,
			summary.CurrentTick, summary.TickLower, summary.TickUpper)
	}
	return msg, meta
}
