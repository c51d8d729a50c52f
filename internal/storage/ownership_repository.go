package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/types"
)

// OwnershipRepository persists the token ownership projection and the scan
// cursors. The ownership index and the cursor advance are written in one
// transaction so the cursor never points past unapplied events.
type OwnershipRepository struct {
	db *PostgresDB
}

// NewOwnershipRepository creates a new ownership repository
func NewOwnershipRepository(db *PostgresDB) *OwnershipRepository {
	return &OwnershipRepository{db: db}
}

// GetCursor returns the scan cursor for a contract, or ErrNotFound when the
// contract has never been scanned.
func (r *OwnershipRepository) GetCursor(ctx context.Context, chain types.ChainID, contractAddress string) (*models.ScanCursor, error) {
	query := `
		SELECT chain, contract_address, start_block, last_scanned_block, last_scanned_at
		FROM scan_cursors
		WHERE chain = $1 AND contract_address = $2
	`

	var c models.ScanCursor
	err := r.db.Pool().QueryRow(ctx, query, chain, contractAddress).Scan(
		&c.Chain, &c.ContractAddress, &c.StartBlock, &c.LastScannedBlock, &c.LastScannedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("cursor for %s on %s: %w", contractAddress, chain, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get scan cursor: %w", err)
	}
	return &c, nil
}

// lwwUpsertQuery applies a last-writer-wins merge: a row is only overwritten
// by a causally newer event (block, then log index).
const lwwUpsertQuery = `
	INSERT INTO owned_tokens (
		chain, contract_address, token_id, owner, burned,
		last_block, last_tx_hash, last_log_index, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (chain, contract_address, token_id) DO UPDATE SET
		owner = EXCLUDED.owner,
		burned = EXCLUDED.burned,
		last_block = EXCLUDED.last_block,
		last_tx_hash = EXCLUDED.last_tx_hash,
		last_log_index = EXCLUDED.last_log_index,
		updated_at = EXCLUDED.updated_at
	WHERE EXCLUDED.last_block > owned_tokens.last_block
	   OR (EXCLUDED.last_block = owned_tokens.last_block
	       AND EXCLUDED.last_log_index > owned_tokens.last_log_index)
`

const advanceCursorQuery = `
	INSERT INTO scan_cursors (chain, contract_address, start_block, last_scanned_block, last_scanned_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (chain, contract_address) DO UPDATE SET
		last_scanned_block = EXCLUDED.last_scanned_block,
		last_scanned_at = EXCLUDED.last_scanned_at
`

// ApplyWindow applies one scanned window atomically: every ownership update
// and the cursor advance commit together or not at all. Events must already
// be deduplicated per (tx hash, log index) by the caller.
func (r *OwnershipRepository) ApplyWindow(
	ctx context.Context,
	contract *models.Contract,
	toBlock uint64,
	updates []*models.OwnedToken,
) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin window transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	for _, u := range updates {
		_, err := tx.Exec(ctx, lwwUpsertQuery,
			u.Chain, u.ContractAddress, u.TokenID, u.Owner, u.Burned,
			u.LastBlock, u.LastTxHash, u.LastLogIndex, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert token %s: %w", u.TokenID, err)
		}
	}

	_, err = tx.Exec(ctx, advanceCursorQuery,
		contract.Chain, contract.Address, contract.StartBlock, toBlock, now,
	)
	if err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit window: %w", err)
	}
	return nil
}

// ListOwnedTokens returns all live (not burned) tokens of a contract held by
// any of the given owner addresses. An empty owners slice returns every live
// token of the contract.
func (r *OwnershipRepository) ListOwnedTokens(ctx context.Context, chain types.ChainID, contractAddress string, owners []string) ([]*models.OwnedToken, error) {
	query := `
		SELECT chain, contract_address, token_id, owner, burned,
		       last_block, last_tx_hash, last_log_index, updated_at
		FROM owned_tokens
		WHERE chain = $1 AND contract_address = $2 AND burned = false
	`
	args := []interface{}{chain, contractAddress}
	if len(owners) > 0 {
		query += ` AND owner = ANY($3)`
		args = append(args, owners)
	}
	query += ` ORDER BY token_id`

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list owned tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.OwnedToken
	for rows.Next() {
		var t models.OwnedToken
		if err := rows.Scan(&t.Chain, &t.ContractAddress, &t.TokenID, &t.Owner, &t.Burned,
			&t.LastBlock, &t.LastTxHash, &t.LastLogIndex, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan owned token: %w", err)
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

// GetOwnedToken returns one ownership row.
func (r *OwnershipRepository) GetOwnedToken(ctx context.Context, chain types.ChainID, contractAddress, tokenID string) (*models.OwnedToken, error) {
	query := `
		SELECT chain, contract_address, token_id, owner, burned,
		       last_block, last_tx_hash, last_log_index, updated_at
		FROM owned_tokens
		WHERE chain = $1 AND contract_address = $2 AND token_id = $3
	`

	var t models.OwnedToken
	err := r.db.Pool().QueryRow(ctx, query, chain, contractAddress, tokenID).Scan(
		&t.Chain, &t.ContractAddress, &t.TokenID, &t.Owner, &t.Burned,
		&t.LastBlock, &t.LastTxHash, &t.LastLogIndex, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("token %s of %s: %w", tokenID, contractAddress, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get owned token: %w", err)
	}
	return &t, nil
}
