package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/position-sentinel/internal/alert"
	"github.com/position-sentinel/internal/chain"
	"github.com/position-sentinel/internal/config"
	"github.com/position-sentinel/internal/evaluator"
	"github.com/position-sentinel/internal/logging"
	"github.com/position-sentinel/internal/metrics"
	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/sampler"
	"github.com/position-sentinel/internal/scanner"
	"github.com/position-sentinel/internal/storage"
	"github.com/position-sentinel/internal/types"
)

// Contract settings keys for loan protocol wiring.
const (
	settingTroveManager = "trove_manager"
	settingPriceFeed    = "price_feed"
	settingSortedTroves = "sorted_troves"
)

// Runner executes full monitoring cycles. Chains run concurrently; within a
// chain everything is sequential and ownership is always scanned before any
// position is evaluated.
type Runner struct {
	cfg       *config.Config
	providers map[types.ChainID]*chain.Provider
	contracts *storage.ContractRepository
	wallets   *storage.WalletRepository
	ownership *storage.OwnershipRepository
	ledger    *storage.TransferLedger
	summaries *storage.SummaryCache
	engine    *alert.Engine
	lock      *FileLock
	log       *zap.Logger

	liquidation alert.Variant
	redemption  alert.Variant
	lpRange     alert.Variant

	// per-contract evaluation state survives across runs so pool/token
	// caches and queue samples are reused
	mu       sync.Mutex
	samplers map[string]*sampler.Sampler
	lpEvals  map[string]*evaluator.LpEvaluator
}

// New creates a runner.
func New(
	cfg *config.Config,
	providers map[types.ChainID]*chain.Provider,
	contracts *storage.ContractRepository,
	wallets *storage.WalletRepository,
	ownership *storage.OwnershipRepository,
	ledger *storage.TransferLedger,
	summaries *storage.SummaryCache,
	engine *alert.Engine,
) *Runner {
	return &Runner{
		cfg:         cfg,
		providers:   providers,
		contracts:   contracts,
		wallets:     wallets,
		ownership:   ownership,
		ledger:      ledger,
		summaries:   summaries,
		engine:      engine,
		lock:        NewFileLock(cfg.Lock.Path, cfg.Lock.StaleAfter),
		log:         logging.Named("runner"),
		liquidation: alert.NewLiquidationVariant(cfg.Debounce),
		redemption:  alert.NewRedemptionVariant(cfg.Debounce),
		lpRange:     alert.NewLpRangeVariant(cfg.Debounce),
		samplers:    make(map[string]*sampler.Sampler),
		lpEvals:     make(map[string]*evaluator.LpEvaluator),
	}
}

// chainResult carries one chain's summaries back to the aggregator.
type chainResult struct {
	chain     types.ChainID
	summaries []*models.PositionSummary
	err       error
}

// RunOnce executes one full cycle. A held lock is a clean skip. Snapshot
// publication happens only when every chain completed, so a failed chain
// never silently evicts its summaries from the cache.
func (r *Runner) RunOnce(ctx context.Context) error {
	if err := r.lock.Acquire(); err != nil {
		if errors.Is(err, ErrLockHeld) {
			r.log.Info("another run in progress, skipping")
			return nil
		}
		return err
	}
	defer r.lock.Release()

	started := time.Now()
	results := make(chan chainResult, len(r.providers))
	var wg sync.WaitGroup
	for chainID := range r.providers {
		wg.Add(1)
		go func(chainID types.ChainID) {
			defer wg.Done()
			summaries, err := r.runChain(ctx, chainID)
			results <- chainResult{chain: chainID, summaries: summaries, err: err}
		}(chainID)
	}
	wg.Wait()
	close(results)

	var loans, lps []*models.PositionSummary
	var errs []error
	for res := range results {
		if res.err != nil {
			errs = append(errs, fmt.Errorf("chain %s: %w", res.chain, res.err))
			continue
		}
		for _, s := range res.summaries {
			if s.Kind == types.KindLoanPosition {
				loans = append(loans, s)
			} else {
				lps = append(lps, s)
			}
		}
	}

	if len(errs) > 0 {
		r.log.Error("run failed, keeping previous snapshots", zap.Int("failed_chains", len(errs)))
		return errors.Join(errs...)
	}

	if err := r.publish(ctx, types.KindLoanPosition, loans); err != nil {
		return err
	}
	if err := r.publish(ctx, types.KindLpPosition, lps); err != nil {
		return err
	}

	metrics.LastRunUnix.SetToCurrentTime()
	r.log.Info("run complete",
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("loan_summaries", len(loans)),
		zap.Int("lp_summaries", len(lps)))
	return nil
}

// publish replaces one kind's snapshot and retires alert state for positions
// that left the tracked set since the previous snapshot.
func (r *Runner) publish(ctx context.Context, kind types.ContractKind, summaries []*models.PositionSummary) error {
	previous, err := r.summaries.List(ctx, kind, "")
	if err != nil {
		r.log.Warn("failed to read previous snapshot, skipping retirement", zap.Error(err))
		previous = nil
	}

	current := make(map[string]bool, len(summaries))
	for _, s := range summaries {
		current[s.Key()] = true
	}
	for _, prev := range previous {
		if current[prev.Key()] {
			continue
		}
		key := models.AlertKey{
			UserID:          prev.UserID,
			Chain:           prev.Chain,
			WalletAddress:   prev.Owner,
			ContractAddress: prev.ContractAddress,
			TokenID:         prev.TokenID,
		}
		if err := r.engine.Retire(ctx, key); err != nil {
			r.log.Warn("failed to retire alert state",
				zap.String("key", prev.Key()), zap.Error(err))
		}
	}

	if err := r.summaries.ReplaceKind(ctx, kind, summaries); err != nil {
		return fmt.Errorf("failed to publish %s snapshot: %w", kind, err)
	}
	return nil
}

// runChain scans and evaluates everything on one chain.
func (r *Runner) runChain(ctx context.Context, chainID types.ChainID) ([]*models.PositionSummary, error) {
	log := r.log.With(zap.String("chain", string(chainID)))
	provider := r.providers[chainID]

	contracts, err := r.contracts.ListEnabled(ctx, chainID)
	if err != nil {
		return nil, err
	}
	wallets, err := r.wallets.ListByChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	ignores, err := r.wallets.ListIgnores(ctx, chainID)
	if err != nil {
		return nil, err
	}

	ownerWallets := make(map[string][]*models.TrackedWallet)
	var ownerAddrs []string
	for _, w := range wallets {
		addr := strings.ToLower(w.Address)
		if len(ownerWallets[addr]) == 0 {
			ownerAddrs = append(ownerAddrs, addr)
		}
		ownerWallets[addr] = append(ownerWallets[addr], w)
	}

	sc := scanner.New(provider, r.ledger, r.ownership, r.cfg.Scanner)

	var summaries []*models.PositionSummary
	for _, contract := range contracts {
		if _, err := sc.Scan(ctx, contract); err != nil {
			return nil, fmt.Errorf("scan %s: %w", contract.Address, err)
		}

		tokens, err := r.ownership.ListOwnedTokens(ctx, chainID, contract.Address, ownerAddrs)
		if err != nil {
			return nil, err
		}
		if len(tokens) == 0 {
			continue
		}

		var contractSummaries []*models.PositionSummary
		switch contract.Kind {
		case types.KindLoanPosition:
			contractSummaries, err = r.evaluateLoans(ctx, provider, contract, tokens, ownerWallets, ignores)
		case types.KindLpPosition:
			contractSummaries, err = r.evaluateLps(ctx, provider, contract, tokens, ownerWallets, ignores)
		default:
			log.Warn("unknown contract kind, skipping",
				zap.String("contract", contract.Address), zap.String("kind", string(contract.Kind)))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", contract.Address, err)
		}
		summaries = append(summaries, contractSummaries...)
	}
	return summaries, nil
}

// holders returns the tracked wallets watching one token after ignore rules.
func holders(token *models.OwnedToken, contract *models.Contract, ownerWallets map[string][]*models.TrackedWallet, ignores []*models.PositionIgnore) []*models.TrackedWallet {
	candidates := ownerWallets[token.Owner]
	if len(candidates) == 0 {
		return nil
	}

	var out []*models.TrackedWallet
	for _, w := range candidates {
		ignored := false
		for _, ig := range ignores {
			if ig.UserID == w.UserID &&
				strings.EqualFold(ig.WalletAddress, w.Address) &&
				strings.EqualFold(ig.ContractAddress, contract.Address) &&
				ig.Matches(token.TokenID) {
				ignored = true
				break
			}
		}
		if !ignored {
			out = append(out, w)
		}
	}
	return out
}

// evaluateLoans evaluates every watched loan position of one contract and
// drives the liquidation and redemption alert machines.
func (r *Runner) evaluateLoans(ctx context.Context, provider *chain.Provider, contract *models.Contract, tokens []*models.OwnedToken, ownerWallets map[string][]*models.TrackedWallet, ignores []*models.PositionIgnore) ([]*models.PositionSummary, error) {
	troveManager := contract.Setting(settingTroveManager)
	priceFeed := contract.Setting(settingPriceFeed)
	sortedTroves := contract.Setting(settingSortedTroves)
	if troveManager == "" || priceFeed == "" || sortedTroves == "" {
		return nil, fmt.Errorf("loan contract %s missing protocol settings", contract.Address)
	}

	reader := chain.NewLoanReader(provider,
		common.HexToAddress(troveManager),
		common.HexToAddress(priceFeed),
		common.HexToAddress(sortedTroves),
	)
	eval := evaluator.NewLoanEvaluator(reader, r.cfg.Thresholds)
	smp := r.samplerFor(contract, reader)

	type watched struct {
		token   *models.OwnedToken
		wallets []*models.TrackedWallet
	}
	var watchedTokens []watched
	var trackedIDs []string
	for _, token := range tokens {
		ws := holders(token, contract, ownerWallets, ignores)
		if len(ws) == 0 {
			continue
		}
		watchedTokens = append(watchedTokens, watched{token: token, wallets: ws})
		trackedIDs = append(trackedIDs, token.TokenID)
	}
	if len(watchedTokens) == 0 {
		return nil, nil
	}

	queue, err := smp.Sample(ctx, trackedIDs)
	if err != nil {
		// redemption tiers degrade to UNKNOWN; liquidation still works
		r.log.Warn("queue sample failed",
			zap.String("contract", contract.Address), zap.Error(err))
		queue = nil
	}

	var summaries []*models.PositionSummary
	for _, wt := range watchedTokens {
		base, err := eval.Evaluate(ctx, contract, wt.token, "", queue)
		if err != nil {
			metrics.EvaluationFailures.WithLabelValues(string(contract.Chain), string(contract.Kind)).Inc()
			r.log.Warn("loan evaluation failed",
				zap.String("contract", contract.Address),
				zap.String("token", wt.token.TokenID), zap.Error(err))
			continue
		}
		metrics.PositionsEvaluated.WithLabelValues(string(contract.Chain), string(contract.Kind)).Inc()

		for _, w := range wt.wallets {
			summary := *base
			summary.UserID = w.UserID
			summaries = append(summaries, &summary)

			for _, variant := range []alert.Variant{r.liquidation, r.redemption} {
				key := models.AlertKey{
					UserID:          w.UserID,
					Chain:           contract.Chain,
					WalletAddress:   strings.ToLower(w.Address),
					ContractAddress: contract.Address,
					TokenID:         wt.token.TokenID,
					Type:            variant.Type(),
				}
				if err := r.engine.Process(ctx, key, variant, &summary, w.StatusOnly); err != nil {
					r.log.Error("alert processing failed",
						zap.String("token", wt.token.TokenID),
						zap.String("type", string(variant.Type())), zap.Error(err))
				}
			}
		}
	}
	return summaries, nil
}

// evaluateLps evaluates every watched LP position of one contract and drives
// the range alert machine.
func (r *Runner) evaluateLps(ctx context.Context, provider *chain.Provider, contract *models.Contract, tokens []*models.OwnedToken, ownerWallets map[string][]*models.TrackedWallet, ignores []*models.PositionIgnore) ([]*models.PositionSummary, error) {
	eval := r.lpEvaluatorFor(contract, provider)

	var summaries []*models.PositionSummary
	for _, token := range tokens {
		ws := holders(token, contract, ownerWallets, ignores)
		if len(ws) == 0 {
			continue
		}

		base, err := eval.Evaluate(ctx, contract, token, "")
		if err != nil {
			metrics.EvaluationFailures.WithLabelValues(string(contract.Chain), string(contract.Kind)).Inc()
			r.log.Warn("lp evaluation failed",
				zap.String("contract", contract.Address),
				zap.String("token", token.TokenID), zap.Error(err))
			continue
		}
		metrics.PositionsEvaluated.WithLabelValues(string(contract.Chain), string(contract.Kind)).Inc()

		for _, w := range ws {
			summary := *base
			summary.UserID = w.UserID
			summaries = append(summaries, &summary)

			key := models.AlertKey{
				UserID:          w.UserID,
				Chain:           contract.Chain,
				WalletAddress:   strings.ToLower(w.Address),
				ContractAddress: contract.Address,
				TokenID:         token.TokenID,
				Type:            r.lpRange.Type(),
			}
			if err := r.engine.Process(ctx, key, r.lpRange, &summary, w.StatusOnly); err != nil {
				r.log.Error("alert processing failed",
					zap.String("token", token.TokenID),
					zap.String("type", string(r.lpRange.Type())), zap.Error(err))
			}
		}
	}
	return summaries, nil
}

func contractKey(c *models.Contract) string {
	return string(c.Chain) + ":" + c.Address
}

func (r *Runner) samplerFor(contract *models.Contract, reader *chain.LoanReader) *sampler.Sampler {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := contractKey(contract)
	if s, ok := r.samplers[key]; ok {
		return s
	}
	s := sampler.New(reader, contract.Chain, r.cfg.Sampler, r.cfg.Thresholds)
	r.samplers[key] = s
	return s
}

func (r *Runner) lpEvaluatorFor(contract *models.Contract, provider *chain.Provider) *evaluator.LpEvaluator {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := contractKey(contract)
	if e, ok := r.lpEvals[key]; ok {
		return e
	}
	reader := chain.NewUniswapReader(provider, common.HexToAddress(contract.Address))
	e := evaluator.NewLpEvaluator(reader, r.cfg.Thresholds)
	r.lpEvals[key] = e
	return e
}
