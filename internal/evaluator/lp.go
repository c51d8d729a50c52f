package evaluator

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/position-sentinel/internal/chain"
	"github.com/position-sentinel/internal/config"
	"github.com/position-sentinel/internal/logging"
	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/types"
	"github.com/position-sentinel/internal/univ3"
)

// LpSource is the chain access the LP evaluator needs. Satisfied by
// chain.UniswapReader.
type LpSource interface {
	Position(ctx context.Context, tokenID *big.Int) (*chain.PositionData, error)
	Factory(ctx context.Context) (common.Address, error)
	PoolAddress(ctx context.Context, factory, token0, token1 common.Address, fee uint32) (common.Address, error)
	PoolSlot0(ctx context.Context, pool common.Address) (*chain.Slot0, error)
	FeeGrowthGlobal(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error)
	Tick(ctx context.Context, pool common.Address, tick int32) (*chain.TickInfo, error)
	SimulateCollect(ctx context.Context, tokenID *big.Int, owner common.Address) (*big.Int, *big.Int, error)
	TokenMeta(ctx context.Context, token common.Address) (*chain.TokenMeta, error)
}

type poolKey struct {
	token0 common.Address
	token1 common.Address
	fee    uint32
}

// LpEvaluator produces risk summaries for concentrated-liquidity positions.
// Pool addresses and token metadata are immutable on chain, so both are
// cached for the evaluator's lifetime.
type LpEvaluator struct {
	source     LpSource
	thresholds config.ThresholdsConfig
	log        *zap.Logger

	mu      sync.Mutex
	factory common.Address
	pools   map[poolKey]common.Address
	tokens  map[common.Address]*chain.TokenMeta
}

// NewLpEvaluator creates an evaluator for one position manager deployment.
func NewLpEvaluator(source LpSource, thresholds config.ThresholdsConfig) *LpEvaluator {
	return &LpEvaluator{
		source:     source,
		thresholds: thresholds,
		log:        logging.Named("evaluator.lp"),
		pools:      make(map[poolKey]common.Address),
		tokens:     make(map[common.Address]*chain.TokenMeta),
	}
}

// Evaluate builds the summary for one LP position. Pool-state failures
// degrade the range tier to UNKNOWN; fee computation failures only blank the
// fee fields. An unreadable position is a hard error.
func (e *LpEvaluator) Evaluate(ctx context.Context, contract *models.Contract, token *models.OwnedToken, userID string) (*models.PositionSummary, error) {
	tokenID, ok := new(big.Int).SetString(token.TokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", token.TokenID)
	}

	pos, err := e.source.Position(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to read position %s: %w", token.TokenID, err)
	}

	summary := &models.PositionSummary{
		Chain:           contract.Chain,
		Kind:            contract.Kind,
		Protocol:        contract.Protocol,
		ContractAddress: contract.Address,
		TokenID:         token.TokenID,
		Owner:           token.Owner,
		UserID:          userID,
		FeeTier:         pos.Fee,
		TickLower:       pos.TickLower,
		TickUpper:       pos.TickUpper,
		Liquidity:       pos.Liquidity.String(),
		RangeStatus:     types.RangeUnknown,
		RangeTier:       types.TierUnknown,
		EvaluatedAt:     time.Now().UTC(),
	}

	meta0 := e.tokenMeta(ctx, pos.Token0)
	meta1 := e.tokenMeta(ctx, pos.Token1)
	summary.Token0 = meta0.Symbol
	summary.Token1 = meta1.Symbol

	// Zero liquidity means the position was emptied; the NFT usually lingers
	// until burned. No range risk to report.
	if pos.Liquidity.Sign() == 0 {
		summary.RangeStatus = types.RangeInactive
		summary.RangeTier = types.TierLow
		return summary, nil
	}

	pool, err := e.poolFor(ctx, pos)
	if err != nil {
		e.log.Warn("failed to resolve pool, range tier unknown",
			zap.String("token", token.TokenID), zap.Error(err))
		return summary, nil
	}

	slot0, err := e.source.PoolSlot0(ctx, pool)
	if err != nil {
		e.log.Warn("failed to read pool state, range tier unknown",
			zap.String("token", token.TokenID), zap.Error(err))
		return summary, nil
	}
	summary.CurrentTick = slot0.Tick

	e.evaluateRange(summary, pos, slot0.Tick)
	e.evaluateAmounts(summary, pos, slot0, meta0, meta1)
	e.evaluateFees(ctx, summary, pos, pool, tokenID, token, slot0.Tick, meta0, meta1)
	return summary, nil
}

// evaluateRange classifies the current tick against the position bounds.
// The upper bound is exclusive, matching the pool's in-range accounting.
func (e *LpEvaluator) evaluateRange(summary *models.PositionSummary, pos *chain.PositionData, tick int32) {
	width := float64(pos.TickUpper - pos.TickLower)
	if width <= 0 {
		return
	}
	frac := float64(tick-pos.TickLower) / width

	if tick >= pos.TickLower && tick < pos.TickUpper {
		summary.RangeStatus = types.RangeInRange
		summary.RangeFrac = frac
		edgeDist := math.Min(frac, 1-frac)
		summary.RangeTier = InRangeTier(edgeDist, e.thresholds)
		return
	}

	summary.RangeStatus = types.RangeOutOfRange
	summary.RangeFrac = frac
	var past float64
	if tick < pos.TickLower {
		past = float64(pos.TickLower-tick) / width
	} else {
		past = float64(tick-pos.TickUpper) / width
	}
	summary.RangeTier = OutOfRangeTier(past, e.thresholds)
}

// evaluateAmounts converts liquidity into principal token amounts at the
// current price.
func (e *LpEvaluator) evaluateAmounts(summary *models.PositionSummary, pos *chain.PositionData, slot0 *chain.Slot0, meta0, meta1 *chain.TokenMeta) {
	amount0, amount1, err := univ3.AmountsForLiquidity(slot0.SqrtPriceX96, pos.TickLower, pos.TickUpper, pos.Liquidity)
	if err != nil {
		e.log.Warn("failed to compute principal amounts",
			zap.String("token", summary.TokenID), zap.Error(err))
		return
	}
	summary.Amount0 = scaleAmount(amount0, meta0.Decimals)
	summary.Amount1 = scaleAmount(amount1, meta1.Decimals)
}

// evaluateFees resolves uncollected fees, preferring the simulated collect
// call. When the provider rejects the simulation, or the simulation reports
// zero on both legs, the fees are recomputed from the pool's fee-growth
// accumulators plus the position's checkpoint. A zero/zero result usually
// means the node ignored the caller override rather than that nothing
// accrued.
func (e *LpEvaluator) evaluateFees(ctx context.Context, summary *models.PositionSummary, pos *chain.PositionData, pool common.Address, tokenID *big.Int, token *models.OwnedToken, tick int32, meta0, meta1 *chain.TokenMeta) {
	fee0, fee1, err := e.source.SimulateCollect(ctx, tokenID, common.HexToAddress(token.Owner))
	if err != nil || (fee0.Sign() == 0 && fee1.Sign() == 0) {
		e.log.Debug("collect simulation unusable, computing fees from accumulators",
			zap.String("token", summary.TokenID), zap.Error(err))
		fee0, fee1, err = e.feesFromAccumulators(ctx, pos, pool, tick)
		if err != nil {
			e.log.Warn("failed to compute uncollected fees",
				zap.String("token", summary.TokenID), zap.Error(err))
			return
		}
	}
	summary.UncollectedFee0 = scaleAmount(fee0, meta0.Decimals)
	summary.UncollectedFee1 = scaleAmount(fee1, meta1.Decimals)
}

// feesFromAccumulators replays the pool's getFeeGrowthInside computation and
// adds the position's already-checkpointed tokensOwed.
func (e *LpEvaluator) feesFromAccumulators(ctx context.Context, pos *chain.PositionData, pool common.Address, tick int32) (*big.Int, *big.Int, error) {
	global0, global1, err := e.source.FeeGrowthGlobal(ctx, pool)
	if err != nil {
		return nil, nil, fmt.Errorf("fee growth globals: %w", err)
	}
	lowerInfo, err := e.source.Tick(ctx, pool, pos.TickLower)
	if err != nil {
		return nil, nil, fmt.Errorf("lower tick: %w", err)
	}
	upperInfo, err := e.source.Tick(ctx, pool, pos.TickUpper)
	if err != nil {
		return nil, nil, fmt.Errorf("upper tick: %w", err)
	}

	inside0, inside1 := univ3.FeeGrowthInside(
		global0, global1,
		univ3.FeeGrowthOutside{Fee0X128: lowerInfo.FeeGrowthOutside0X128, Fee1X128: lowerInfo.FeeGrowthOutside1X128},
		univ3.FeeGrowthOutside{Fee0X128: upperInfo.FeeGrowthOutside0X128, Fee1X128: upperInfo.FeeGrowthOutside1X128},
		pos.TickLower, pos.TickUpper, tick,
	)

	fee0 := univ3.FeesOwed(pos.Liquidity, inside0, pos.FeeGrowthInside0LastX128)
	fee1 := univ3.FeesOwed(pos.Liquidity, inside1, pos.FeeGrowthInside1LastX128)
	fee0.Add(fee0, pos.TokensOwed0)
	fee1.Add(fee1, pos.TokensOwed1)
	return fee0, fee1, nil
}

// poolFor resolves the position's pool address, caching the factory and per
// pair+fee lookups.
func (e *LpEvaluator) poolFor(ctx context.Context, pos *chain.PositionData) (common.Address, error) {
	key := poolKey{token0: pos.Token0, token1: pos.Token1, fee: pos.Fee}

	e.mu.Lock()
	pool, ok := e.pools[key]
	factory := e.factory
	e.mu.Unlock()
	if ok {
		return pool, nil
	}

	if factory == (common.Address{}) {
		var err error
		factory, err = e.source.Factory(ctx)
		if err != nil {
			return common.Address{}, fmt.Errorf("factory: %w", err)
		}
		e.mu.Lock()
		e.factory = factory
		e.mu.Unlock()
	}

	pool, err := e.source.PoolAddress(ctx, factory, pos.Token0, pos.Token1, pos.Fee)
	if err != nil {
		return common.Address{}, err
	}

	e.mu.Lock()
	e.pools[key] = pool
	e.mu.Unlock()
	return pool, nil
}

// tokenMeta returns cached token metadata, falling back to a truncated
// address and 18 decimals when the token does not answer.
func (e *LpEvaluator) tokenMeta(ctx context.Context, token common.Address) *chain.TokenMeta {
	e.mu.Lock()
	meta, ok := e.tokens[token]
	e.mu.Unlock()
	if ok {
		return meta
	}

	meta, err := e.source.TokenMeta(ctx, token)
	if err != nil {
		e.log.Warn("failed to read token metadata", zap.String("token", token.Hex()), zap.Error(err))
		meta = &chain.TokenMeta{Symbol: token.Hex()[:10], Decimals: 18}
	}

	e.mu.Lock()
	e.tokens[token] = meta
	e.mu.Unlock()
	return meta
}

// scaleAmount converts a raw token amount to a float in whole-token units.
func scaleAmount(raw *big.Int, decimals uint8) float64 {
	if raw == nil {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), scale).Float64()
	return f
}
