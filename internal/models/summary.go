package models

import (
	"time"

	"github.com/position-sentinel/internal/types"
)

// PositionSummary is the denormalized snapshot of one position's economic and
// risk state produced by an evaluator. Summaries are ephemeral: regenerated
// each scan cycle and pruned once the position is no longer owned or tracked.
// Fields that could not be resolved are left at their zero value and the
// corresponding tier is UNKNOWN.
type PositionSummary struct {
	Chain           types.ChainID      `json:"chain"`
	Kind            types.ContractKind `json:"kind"`
	Protocol        string             `json:"protocol"`
	ContractAddress string             `json:"contractAddress"`
	TokenID         string             `json:"tokenId"`
	Owner           string             `json:"owner"`
	UserID          string             `json:"userId"`

	// Loan fields
	Debt               float64    `json:"debt,omitempty"`
	Collateral         float64    `json:"collateral,omitempty"`
	AnnualInterestRate float64    `json:"annualInterestRate,omitempty"`
	CurrentPrice       float64    `json:"currentPrice,omitempty"`
	LiquidationPrice   float64    `json:"liquidationPrice,omitempty"`
	BufferFrac         float64    `json:"bufferFrac,omitempty"`
	DebtAheadFrac      float64    `json:"debtAheadFrac,omitempty"`
	LiquidationTier    types.Tier `json:"liquidationTier,omitempty"`
	RedemptionTier     types.Tier `json:"redemptionTier,omitempty"`

	// LP fields
	Token0          string            `json:"token0,omitempty"`
	Token1          string            `json:"token1,omitempty"`
	FeeTier         uint32            `json:"feeTier,omitempty"`
	TickLower       int32             `json:"tickLower,omitempty"`
	TickUpper       int32             `json:"tickUpper,omitempty"`
	CurrentTick     int32             `json:"currentTick,omitempty"`
	Liquidity       string            `json:"liquidity,omitempty"`
	Amount0         float64           `json:"amount0,omitempty"`
	Amount1         float64           `json:"amount1,omitempty"`
	UncollectedFee0 float64           `json:"uncollectedFee0,omitempty"`
	UncollectedFee1 float64           `json:"uncollectedFee1,omitempty"`
	RangeStatus     types.RangeStatus `json:"rangeStatus,omitempty"`
	RangeFrac       float64           `json:"rangeFrac,omitempty"` // position of current tick within bounds, 0..1
	RangeTier       types.Tier        `json:"rangeTier,omitempty"`

	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Key returns the cache identity of the summary.
func (s *PositionSummary) Key() string {
	return string(s.Chain) + ":" + s.ContractAddress + ":" + s.TokenID + ":" + s.UserID
}
