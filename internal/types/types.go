// Package types provides common type definitions for the position sentinel system.
package types

// ChainID represents supported blockchain networks
type ChainID string

const (
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum ChainID = "ethereum"
	// ChainArbitrum represents the Arbitrum network
	ChainArbitrum ChainID = "arbitrum"
)

// DisplayName returns a human-readable chain name
func (c ChainID) DisplayName() string {
	switch c {
	case ChainEthereum:
		return "Ethereum"
	case ChainArbitrum:
		return "Arbitrum"
	default:
		return string(c)
	}
}

// ContractKind represents the kind of tracked NFT position contract
type ContractKind string

const (
	// KindLpPosition represents a concentrated-liquidity LP position NFT contract
	KindLpPosition ContractKind = "LP_POSITION"
	// KindLoanPosition represents a collateralized-loan position NFT contract
	KindLoanPosition ContractKind = "LOAN_POSITION"
)

// Tier represents an ordered risk bucket for a specific risk metric
type Tier string

const (
	// TierUnknown is reported when the underlying metric could not be computed
	TierUnknown Tier = "UNKNOWN"
	// TierLow represents low risk
	TierLow Tier = "LOW"
	// TierMedium represents medium risk
	TierMedium Tier = "MEDIUM"
	// TierHigh represents high risk
	TierHigh Tier = "HIGH"
	// TierCritical represents critical risk
	TierCritical Tier = "CRITICAL"
)

// tierRank orders tiers from safest to most severe. UNKNOWN ranks below LOW
// so that comparisons against it never count as a worsening.
var tierRank = map[Tier]int{
	TierUnknown:  0,
	TierLow:      1,
	TierMedium:   2,
	TierHigh:     3,
	TierCritical: 4,
}

// Rank returns the severity rank of the tier (higher is more severe)
func (t Tier) Rank() int {
	return tierRank[t]
}

// WorseThan reports whether t is more severe than other
func (t Tier) WorseThan(other Tier) bool {
	return t.Rank() > other.Rank()
}

// Known reports whether the tier carries a real classification
func (t Tier) Known() bool {
	return t != TierUnknown && t != ""
}

// RangeStatus represents whether a pool's current tick lies within an LP
// position's tick bounds
type RangeStatus string

const (
	// RangeInRange means the current tick is within the position bounds
	RangeInRange RangeStatus = "IN_RANGE"
	// RangeOutOfRange means the current tick is outside the position bounds
	RangeOutOfRange RangeStatus = "OUT_OF_RANGE"
	// RangeInactive means the position holds zero liquidity
	RangeInactive RangeStatus = "INACTIVE"
	// RangeUnknown means pool state could not be read
	RangeUnknown RangeStatus = "UNKNOWN"
)

// AlertType identifies one of the closed set of alert variants
type AlertType string

const (
	// AlertLiquidation covers loan liquidation-buffer risk
	AlertLiquidation AlertType = "liquidation"
	// AlertRedemption covers loan redemption-queue risk
	AlertRedemption AlertType = "redemption"
	// AlertLpRange covers LP range risk
	AlertLpRange AlertType = "lp_range"
)

// AlertPhase represents the lifecycle phase of an emitted notification
type AlertPhase string

const (
	// PhaseNew announces a newly confirmed alert
	PhaseNew AlertPhase = "NEW"
	// PhaseUpdated announces a tier change on a live alert
	PhaseUpdated AlertPhase = "UPDATED"
	// PhaseResolved announces a confirmed resolution
	PhaseResolved AlertPhase = "RESOLVED"
)

// DebounceDirection selects which debounce window applies to a candidate change
type DebounceDirection string

const (
	// DirectionWorsening applies to activation and tier increases
	DirectionWorsening DebounceDirection = "worsening"
	// DirectionImproving applies to resolution and tier decreases
	DirectionImproving DebounceDirection = "improving"
)
