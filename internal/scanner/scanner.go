// Package scanner implements the incremental ownership scanner: it advances a
// per-contract cursor through fixed-size block windows, extracts Transfer
// events and maintains the token ownership index with crash-safe resumability.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/position-sentinel/internal/chain"
	"github.com/position-sentinel/internal/config"
	"github.com/position-sentinel/internal/logging"
	"github.com/position-sentinel/internal/metrics"
	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/retry"
	"github.com/position-sentinel/internal/storage"
	"github.com/position-sentinel/internal/types"
)

// deadAddress is treated as a burn target alongside the zero address.
var deadAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// ChainSource is the chain access the scanner needs.
type ChainSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterTransferLogs(ctx context.Context, contract common.Address, fromBlock, toBlock uint64) ([]ethtypes.Log, error)
}

// TransferSink receives the append-only transfer facts.
type TransferSink interface {
	Insert(ctx context.Context, events []*models.TransferEvent) error
}

// OwnershipStore persists cursors and the ownership index.
type OwnershipStore interface {
	GetCursor(ctx context.Context, chainID types.ChainID, contractAddress string) (*models.ScanCursor, error)
	ApplyWindow(ctx context.Context, contract *models.Contract, toBlock uint64, updates []*models.OwnedToken) error
}

// Scanner walks Transfer logs for tracked contracts and projects them into
// the ownership index.
type Scanner struct {
	source ChainSource
	ledger TransferSink
	store  OwnershipStore
	cfg    config.ScannerConfig
	policy retry.Policy
	log    *zap.Logger
}

// New creates a scanner for one chain's provider.
func New(source ChainSource, ledger TransferSink, store OwnershipStore, cfg config.ScannerConfig) *Scanner {
	policy := retry.DefaultPolicy()
	policy.Retryable = chain.IsRetryable
	return &Scanner{
		source: source,
		ledger: ledger,
		store:  store,
		cfg:    cfg,
		policy: policy,
		log:    logging.Named("scanner"),
	}
}

// Scan advances the contract's cursor toward the chain head. It returns the
// block the cursor ended at. A hard failure mid-scan stops the loop and
// returns the error together with the last durably applied block; progress up
// to that point is committed and never re-counted.
func (s *Scanner) Scan(ctx context.Context, contract *models.Contract) (uint64, error) {
	log := s.log.With(
		zap.String("chain", string(contract.Chain)),
		zap.String("contract", contract.Address),
	)

	var head uint64
	err := s.policy.Do(ctx, "get chain head", func(ctx context.Context) error {
		var err error
		head, err = s.source.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to resolve chain head: %w", err)
	}

	from := s.resumeBlock(ctx, contract)
	if from > head {
		log.Debug("cursor at head, nothing to scan", zap.Uint64("head", head))
		return from - 1, nil
	}

	applied := from - 1
	for from <= head {
		to := from + s.cfg.WindowSize - 1
		if to > head {
			to = head
		}

		if err := s.scanWindow(ctx, contract, from, to); err != nil {
			log.Error("window scan failed, stopping",
				zap.Uint64("from", from), zap.Uint64("to", to), zap.Error(err))
			return applied, fmt.Errorf("window %d-%d: %w", from, to, err)
		}

		metrics.WindowsScanned.WithLabelValues(string(contract.Chain)).Inc()
		applied = to
		from = to + 1

		if s.cfg.InterWindowPause > 0 && from <= head {
			select {
			case <-time.After(s.cfg.InterWindowPause):
			case <-ctx.Done():
				return applied, ctx.Err()
			}
		}
	}

	log.Info("scan complete", zap.Uint64("head", head), zap.Uint64("applied", applied))
	return applied, nil
}

// resumeBlock computes where to resume: overlap blocks behind the cursor to
// tolerate short reorgs, never before the contract's start block.
func (s *Scanner) resumeBlock(ctx context.Context, contract *models.Contract) uint64 {
	cursor, err := s.store.GetCursor(ctx, contract.Chain, contract.Address)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("failed to read cursor, resuming from start block", zap.Error(err))
		}
		return contract.StartBlock
	}

	resume := cursor.LastScannedBlock
	if resume > s.cfg.OverlapBlocks {
		resume -= s.cfg.OverlapBlocks
	} else {
		resume = 0
	}
	if resume < contract.StartBlock {
		resume = contract.StartBlock
	}
	return resume
}

// scanWindow fetches one window's Transfer logs and applies them: the ledger
// insert is idempotent, the ownership upserts and the cursor advance commit
// in one transaction. The cursor only moves once the apply succeeds.
func (s *Scanner) scanWindow(ctx context.Context, contract *models.Contract, from, to uint64) error {
	var logs []ethtypes.Log
	err := s.policy.Do(ctx, "fetch transfer logs", func(ctx context.Context) error {
		var err error
		logs, err = s.source.FilterTransferLogs(ctx, common.HexToAddress(contract.Address), from, to)
		return err
	})
	if err != nil {
		return err
	}

	events, updates := s.extractEvents(contract, logs)

	if err := s.ledger.Insert(ctx, events); err != nil {
		return fmt.Errorf("ledger insert: %w", err)
	}
	if err := s.store.ApplyWindow(ctx, contract, to, updates); err != nil {
		return fmt.Errorf("apply window: %w", err)
	}

	metrics.TransfersApplied.WithLabelValues(string(contract.Chain)).Add(float64(len(events)))
	return nil
}

// extractEvents decodes Transfer logs into ledger facts and ownership
// updates. Events without a usable (tx hash, log index) identity are dropped
// and counted rather than silently merged.
func (s *Scanner) extractEvents(contract *models.Contract, logs []ethtypes.Log) ([]*models.TransferEvent, []*models.OwnedToken) {
	now := time.Now().UTC()
	seen := make(map[string]bool, len(logs))

	var events []*models.TransferEvent
	var updates []*models.OwnedToken

	for _, l := range logs {
		if l.Removed {
			metrics.EventsDropped.WithLabelValues(string(contract.Chain), "removed").Inc()
			continue
		}
		// topics: [signature, from, to, tokenId]
		if len(l.Topics) < 4 {
			metrics.EventsDropped.WithLabelValues(string(contract.Chain), "malformed").Inc()
			continue
		}
		if l.TxHash == (common.Hash{}) {
			metrics.EventsDropped.WithLabelValues(string(contract.Chain), "no_identity").Inc()
			continue
		}

		identity := fmt.Sprintf("%s/%d", l.TxHash.Hex(), l.Index)
		if seen[identity] {
			metrics.EventsDropped.WithLabelValues(string(contract.Chain), "duplicate_index").Inc()
			s.log.Warn("duplicate log index in window, dropping event",
				zap.String("contract", contract.Address), zap.String("identity", identity))
			continue
		}
		seen[identity] = true

		fromAddr := common.BytesToAddress(l.Topics[1].Bytes())
		toAddr := common.BytesToAddress(l.Topics[2].Bytes())
		tokenID := l.Topics[3].Big().String()

		events = append(events, &models.TransferEvent{
			Chain:           contract.Chain,
			ContractAddress: contract.Address,
			BlockNumber:     l.BlockNumber,
			TxHash:          l.TxHash.Hex(),
			LogIndex:        uint32(l.Index), // #nosec G115 - log indexes fit in 32 bits
			FromAddress:     strings.ToLower(fromAddr.Hex()),
			ToAddress:       strings.ToLower(toAddr.Hex()),
			TokenID:         tokenID,
			ObservedAt:      now,
		})

		burned := toAddr == (common.Address{}) || toAddr == deadAddress
		updates = append(updates, &models.OwnedToken{
			Chain:           contract.Chain,
			ContractAddress: contract.Address,
			TokenID:         tokenID,
			Owner:           strings.ToLower(toAddr.Hex()),
			Burned:          burned,
			LastBlock:       l.BlockNumber,
			LastTxHash:      l.TxHash.Hex(),
			LastLogIndex:    uint32(l.Index), // #nosec G115
		})
	}

	return events, updates
}
