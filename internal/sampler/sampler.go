// Package sampler walks the protocol's descending-interest-rate sorted list
// of loan positions to measure redemption exposure: the interest rate at
// which each configured debt fraction is crossed, and the debt ahead of
// specific tracked positions.
package sampler

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/position-sentinel/internal/chain"
	"github.com/position-sentinel/internal/config"
	"github.com/position-sentinel/internal/logging"
	"github.com/position-sentinel/internal/metrics"
	"github.com/position-sentinel/internal/retry"
	"github.com/position-sentinel/internal/types"
)

// wad is the protocol's 1e18 fixed-point scale.
var wad = new(big.Float).SetFloat64(1e18)

// QueueSource is the chain access the sampler needs. Satisfied by
// chain.LoanReader.
type QueueSource interface {
	QueueFirst(ctx context.Context) (*big.Int, error)
	QueueNext(ctx context.Context, troveID *big.Int) (*big.Int, error)
	TroveDebt(ctx context.Context, troveID *big.Int) (*big.Int, error)
	TroveAnnualInterestRate(ctx context.Context, troveID *big.Int) (*big.Int, error)
	TotalDebt(ctx context.Context) (*big.Int, error)
}

// Result is one queue sample.
type Result struct {
	// TierTargets maps each redemption tier boundary to the annual interest
	// rate at which the cumulative debt fraction crossed it.
	TierTargets map[types.Tier]float64
	// DebtAhead maps tracked trove ids to the debt accumulated strictly
	// ahead of them in the walk.
	DebtAhead map[string]float64
	// TotalDebt is the entire system debt at sample time.
	TotalDebt float64
	// Steps is the number of nodes visited.
	Steps     int
	SampledAt time.Time
}

// DebtAheadFrac returns the debt-ahead fraction for a tracked trove.
// The second return is false when the trove was not seen in the walk.
func (r *Result) DebtAheadFrac(troveID string) (float64, bool) {
	ahead, ok := r.DebtAhead[troveID]
	if !ok || r.TotalDebt <= 0 {
		return 0, false
	}
	return ahead / r.TotalDebt, true
}

// Covers reports whether every given trove id has a sample entry.
func (r *Result) Covers(troveIDs []string) bool {
	for _, id := range troveIDs {
		if _, ok := r.DebtAhead[id]; !ok {
			return false
		}
	}
	return true
}

// Sampler caches queue samples per protocol deployment. Re-walks are gated
// by a minimum interval and a material total-debt change, except when a newly
// tracked position has no prior sample, which always forces a fresh walk.
type Sampler struct {
	source     QueueSource
	chainID    types.ChainID
	cfg        config.SamplerConfig
	thresholds config.ThresholdsConfig
	policy     retry.Policy
	log        *zap.Logger

	mu   sync.Mutex
	last *Result
}

// New creates a sampler for one loan protocol deployment.
func New(source QueueSource, chainID types.ChainID, cfg config.SamplerConfig, thresholds config.ThresholdsConfig) *Sampler {
	policy := retry.Policy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Retryable:    chain.IsRetryable,
	}
	return &Sampler{
		source:     source,
		chainID:    chainID,
		cfg:        cfg,
		thresholds: thresholds,
		policy:     policy,
		log:        logging.Named("sampler").With(zap.String("chain", string(chainID))),
	}
}

// Sample returns a queue sample covering the tracked troves, reusing the
// cached walk when it is fresh enough and the debt picture has not
// materially changed.
func (s *Sampler) Sample(ctx context.Context, trackedIDs []string) (*Result, error) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	if last != nil && last.Covers(trackedIDs) {
		age := time.Since(last.SampledAt)
		if age < s.cfg.MinResampleInterval {
			return last, nil
		}
		if !s.debtChangedMaterially(ctx, last) {
			return last, nil
		}
	}

	result, err := s.walk(ctx, trackedIDs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()
	return result, nil
}

// debtChangedMaterially compares the current total debt against the cached
// sample's. Read failures count as changed so stale data is not trusted
// forever.
func (s *Sampler) debtChangedMaterially(ctx context.Context, last *Result) bool {
	var totalWad *big.Int
	err := s.policy.Do(ctx, "total debt", func(ctx context.Context) error {
		var err error
		totalWad, err = s.source.TotalDebt(ctx)
		return err
	})
	if err != nil {
		s.log.Warn("failed to read total debt for delta gate", zap.Error(err))
		return true
	}

	total := wadToFloat(totalWad)
	if last.TotalDebt <= 0 {
		return true
	}
	delta := math.Abs(total-last.TotalDebt) / last.TotalDebt
	return delta >= s.cfg.DebtDeltaGate
}

// walk traverses the sorted list from the highest-rate end, accumulating
// debt. Nodes that fail to read after retries are skipped and logged, never
// fatal; a hard step ceiling bounds the worst case.
func (s *Sampler) walk(ctx context.Context, trackedIDs []string) (*Result, error) {
	tracked := make(map[string]bool, len(trackedIDs))
	for _, id := range trackedIDs {
		tracked[id] = true
	}

	var totalWad *big.Int
	err := s.policy.Do(ctx, "total debt", func(ctx context.Context) error {
		var err error
		totalWad, err = s.source.TotalDebt(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read total debt: %w", err)
	}
	totalDebt := wadToFloat(totalWad)

	result := &Result{
		TierTargets: make(map[types.Tier]float64),
		DebtAhead:   make(map[string]float64),
		TotalDebt:   totalDebt,
		SampledAt:   time.Now().UTC(),
	}

	// boundaries in descending fraction order: LOW is crossed first
	boundaries := []struct {
		tier types.Tier
		frac float64
	}{
		{types.TierLow, s.thresholds.RedemptionLow},
		{types.TierMedium, s.thresholds.RedemptionMedium},
		{types.TierHigh, s.thresholds.RedemptionHigh},
	}
	crossed := make(map[types.Tier]bool, len(boundaries))

	var cur *big.Int
	err = s.policy.Do(ctx, "queue head", func(ctx context.Context) error {
		var err error
		cur, err = s.source.QueueFirst(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read queue head: %w", err)
	}

	cumulative := 0.0
	for cur != nil && cur.Sign() != 0 {
		if result.Steps >= s.cfg.MaxSteps {
			s.log.Warn("queue walk hit step ceiling", zap.Int("steps", result.Steps))
			break
		}
		result.Steps++

		id := cur.String()
		if tracked[id] {
			result.DebtAhead[id] = cumulative
		}

		node, err := s.readNode(ctx, cur)
		if err != nil {
			s.log.Warn("skipping unreadable queue node",
				zap.String("trove", id), zap.Error(err))
		} else {
			cumulative += node.debt
			if totalDebt > 0 {
				frac := cumulative / totalDebt
				for _, b := range boundaries {
					if !crossed[b.tier] && frac >= b.frac {
						crossed[b.tier] = true
						result.TierTargets[b.tier] = node.rate
					}
				}
			}
		}

		next, err := s.nextNode(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("queue walk broken at trove %s: %w", id, err)
		}
		cur = next
	}

	metrics.QueueWalkSteps.WithLabelValues(string(s.chainID)).Observe(float64(result.Steps))
	s.log.Info("queue walk complete",
		zap.Int("steps", result.Steps),
		zap.Float64("total_debt", totalDebt),
		zap.Int("tracked_found", len(result.DebtAhead)))
	return result, nil
}

type nodeData struct {
	debt float64
	rate float64
}

func (s *Sampler) readNode(ctx context.Context, troveID *big.Int) (*nodeData, error) {
	var debtWad, rateWad *big.Int
	err := s.policy.Do(ctx, "read queue node", func(ctx context.Context) error {
		var err error
		debtWad, err = s.source.TroveDebt(ctx, troveID)
		if err != nil {
			return err
		}
		rateWad, err = s.source.TroveAnnualInterestRate(ctx, troveID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &nodeData{debt: wadToFloat(debtWad), rate: wadToFloat(rateWad)}, nil
}

func (s *Sampler) nextNode(ctx context.Context, troveID *big.Int) (*big.Int, error) {
	var next *big.Int
	err := s.policy.Do(ctx, "queue next", func(ctx context.Context) error {
		var err error
		next, err = s.source.QueueNext(ctx, troveID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// wadToFloat converts a 1e18 fixed-point value to float64.
func wadToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), wad).Float64()
	return f
}
