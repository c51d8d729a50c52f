package storage

import (
	"context"
	"fmt"

	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/types"
)

// TransferLedger appends Transfer facts to ClickHouse. The table is a
// ReplacingMergeTree keyed on (contract, tx hash, log index), so re-inserting
// the same event from an overlap re-scan collapses to a single row.
type TransferLedger struct {
	db *ClickHouseDB
}

// NewTransferLedger creates a new transfer ledger
func NewTransferLedger(db *ClickHouseDB) *TransferLedger {
	return &TransferLedger{db: db}
}

// Insert appends a batch of transfer events. Duplicates are absorbed by the
// table engine rather than rejected, which keeps replays idempotent.
func (l *TransferLedger) Insert(ctx context.Context, events []*models.TransferEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := l.db.Conn().PrepareBatch(ctx, `
		INSERT INTO transfer_events (
			chain, contract_address, block_number, tx_hash, log_index,
			from_address, to_address, token_id, observed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare transfer batch: %w", err)
	}

	for _, e := range events {
		err := batch.Append(
			string(e.Chain), e.ContractAddress, e.BlockNumber, e.TxHash, e.LogIndex,
			e.FromAddress, e.ToAddress, e.TokenID, e.ObservedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append transfer %s/%d: %w", e.TxHash, e.LogIndex, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send transfer batch: %w", err)
	}
	return nil
}

// CountForContract returns the number of distinct ledger rows for a contract.
func (l *TransferLedger) CountForContract(ctx context.Context, chain types.ChainID, contractAddress string) (uint64, error) {
	query := `
		SELECT count()
		FROM transfer_events FINAL
		WHERE chain = ? AND contract_address = ?
	`

	var count uint64
	row := l.db.Conn().QueryRow(ctx, query, string(chain), contractAddress)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transfers: %w", err)
	}
	return count, nil
}

// History returns the most recent transfers of one token, newest first.
func (l *TransferLedger) History(ctx context.Context, chain types.ChainID, contractAddress, tokenID string, limit int) ([]*models.TransferEvent, error) {
	query := `
		SELECT chain, contract_address, block_number, tx_hash, log_index,
		       from_address, to_address, token_id, observed_at
		FROM transfer_events FINAL
		WHERE chain = ? AND contract_address = ? AND token_id = ?
		ORDER BY block_number DESC, log_index DESC
		LIMIT ?
	`

	rows, err := l.db.Conn().Query(ctx, query, string(chain), contractAddress, tokenID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer history: %w", err)
	}
	defer rows.Close()

	var events []*models.TransferEvent
	for rows.Next() {
		var e models.TransferEvent
		var chainStr string
		if err := rows.Scan(&chainStr, &e.ContractAddress, &e.BlockNumber, &e.TxHash, &e.LogIndex,
			&e.FromAddress, &e.ToAddress, &e.TokenID, &e.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		e.Chain = types.ChainID(chainStr)
		events = append(events, &e)
	}
	return events, rows.Err()
}
