package evaluator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/position-sentinel/internal/chain"
	"github.com/position-sentinel/internal/config"
	"github.com/position-sentinel/internal/logging"
	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/sampler"
	"github.com/position-sentinel/internal/types"
)

// wadFloat is the 1e18 fixed-point scale as a big.Float.
var wadFloat = new(big.Float).SetFloat64(1e18)

// LoanSource is the chain access the loan evaluator needs. Satisfied by
// chain.LoanReader.
type LoanSource interface {
	TroveData(ctx context.Context, troveID *big.Int) (*chain.TroveData, error)
	MCR(ctx context.Context) (*big.Int, error)
	FetchPrice(ctx context.Context) (*big.Int, error)
	LastGoodPrice(ctx context.Context) (*big.Int, error)
	RedemptionPrice(ctx context.Context) (*big.Int, error)
}

// LoanEvaluator produces risk summaries for collateralized loan positions.
type LoanEvaluator struct {
	source     LoanSource
	thresholds config.ThresholdsConfig
	log        *zap.Logger
}

// NewLoanEvaluator creates an evaluator for one loan protocol deployment.
func NewLoanEvaluator(source LoanSource, thresholds config.ThresholdsConfig) *LoanEvaluator {
	return &LoanEvaluator{
		source:     source,
		thresholds: thresholds,
		log:        logging.Named("evaluator.loan"),
	}
}

// Evaluate builds the summary for one loan position. Partial chain failures
// degrade the affected tier to UNKNOWN instead of failing the whole summary;
// only an unreadable trove is a hard error.
func (e *LoanEvaluator) Evaluate(ctx context.Context, contract *models.Contract, token *models.OwnedToken, userID string, queue *sampler.Result) (*models.PositionSummary, error) {
	troveID, ok := new(big.Int).SetString(token.TokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid trove id %q", token.TokenID)
	}

	trove, err := e.source.TroveData(ctx, troveID)
	if err != nil {
		return nil, fmt.Errorf("failed to read trove %s: %w", token.TokenID, err)
	}

	summary := &models.PositionSummary{
		Chain:              contract.Chain,
		Kind:               contract.Kind,
		Protocol:           contract.Protocol,
		ContractAddress:    contract.Address,
		TokenID:            token.TokenID,
		Owner:              token.Owner,
		UserID:             userID,
		Debt:               wadToFloat(trove.EntireDebt),
		Collateral:         wadToFloat(trove.EntireColl),
		AnnualInterestRate: wadToFloat(trove.AnnualInterestRate),
		LiquidationTier:    types.TierUnknown,
		RedemptionTier:     types.TierUnknown,
		EvaluatedAt:        time.Now().UTC(),
	}

	// A fully repaid trove carries no risk on either axis.
	if summary.Debt == 0 {
		summary.BufferFrac = 1
		summary.LiquidationTier = types.TierLow
		summary.RedemptionTier = types.TierLow
		return summary, nil
	}

	e.evaluateLiquidation(ctx, summary)
	e.evaluateRedemption(summary, queue)
	return summary, nil
}

// evaluateLiquidation computes the liquidation price from the protocol's
// minimum collateral ratio and classifies the price buffer.
func (e *LoanEvaluator) evaluateLiquidation(ctx context.Context, summary *models.PositionSummary) {
	price, err := e.collateralPrice(ctx)
	if err != nil {
		e.log.Warn("no usable collateral price, liquidation tier unknown",
			zap.String("token", summary.TokenID), zap.Error(err))
		return
	}
	summary.CurrentPrice = price

	mcr, err := e.source.MCR(ctx)
	if err != nil {
		e.log.Warn("failed to read MCR, liquidation tier unknown",
			zap.String("token", summary.TokenID), zap.Error(err))
		return
	}

	if summary.Collateral <= 0 || price <= 0 {
		return
	}

	// liquidation price: collateral value falls below debt * MCR
	summary.LiquidationPrice = summary.Debt * wadToFloat(mcr) / summary.Collateral
	summary.BufferFrac = (price - summary.LiquidationPrice) / price
	summary.LiquidationTier = LiquidationTier(summary.BufferFrac, e.thresholds)
}

// evaluateRedemption classifies the position by the share of system debt
// ahead of it in the redemption queue.
func (e *LoanEvaluator) evaluateRedemption(summary *models.PositionSummary, queue *sampler.Result) {
	if queue == nil {
		return
	}
	frac, ok := queue.DebtAheadFrac(summary.TokenID)
	if !ok {
		e.log.Warn("position missing from queue sample, redemption tier unknown",
			zap.String("token", summary.TokenID))
		return
	}
	summary.DebtAheadFrac = frac
	summary.RedemptionTier = RedemptionTier(frac, e.thresholds)
}

// collateralPrice resolves the collateral price with a three-step fallback:
// the oracle's fetchPrice simulation, then its last-known-good price, then
// the protocol's redemption price.
func (e *LoanEvaluator) collateralPrice(ctx context.Context) (float64, error) {
	price, err := e.source.FetchPrice(ctx)
	if err == nil && price.Sign() > 0 {
		return wadToFloat(price), nil
	}
	if err != nil {
		e.log.Debug("fetchPrice failed, falling back to lastGoodPrice", zap.Error(err))
	}

	price, err = e.source.LastGoodPrice(ctx)
	if err == nil && price.Sign() > 0 {
		return wadToFloat(price), nil
	}
	if err != nil {
		e.log.Debug("lastGoodPrice failed, falling back to redemptionPrice", zap.Error(err))
	}

	price, err = e.source.RedemptionPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("all price sources failed: %w", err)
	}
	if price.Sign() <= 0 {
		return 0, fmt.Errorf("all price sources returned zero")
	}
	return wadToFloat(price), nil
}

// wadToFloat converts a 1e18 fixed-point value to float64.
func wadToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), wadFloat).Float64()
	return f
}
