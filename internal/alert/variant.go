package alert

import (
	"time"

	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/types"
)

// Condition is a variant's reading of one position summary.
type Condition struct {
	// Known is false when the underlying metric could not be computed this
	// run. Unknown conditions never activate and never resolve anything.
	Known bool
	// Active reports whether the alert condition holds
	Active bool
	// Tier is the severity while active
	Tier types.Tier
}

// Variant defines the behavior of one alert type. The engine owns the
// lifecycle; variants own classification, timing policy and rendering.
type Variant interface {
	// Type identifies the variant
	Type() types.AlertType
	// Evaluate reads the condition off a position summary
	Evaluate(summary *models.PositionSummary) Condition
	// Debounce returns the confirmation window for a direction of change
	Debounce(direction types.DebounceDirection) time.Duration
	// CriticalBypass reports whether a CRITICAL condition skips the
	// worsening debounce entirely
	CriticalBypass() bool
	// AnnounceNew reports whether activation emits a NEW notification;
	// when false the first notification is an UPDATED status line
	AnnounceNew() bool
	// AnnounceResolved reports whether resolution emits a notification
	AnnounceResolved() bool
	// Signature returns the dedup token for a notification
	Signature(summary *models.PositionSummary, phase types.AlertPhase, tier types.Tier) string
	// Render produces the human message and structured metadata
	Render(summary *models.PositionSummary, phase types.AlertPhase, tier types.Tier, statusOnly bool) (string, map[string]interface{})
}

// activeAt is the shared activation rule: a tier of MEDIUM or worse holds
// the alert condition.
func activeAt(tier types.Tier) bool {
	return tier.Rank() >= types.TierMedium.Rank()
}
