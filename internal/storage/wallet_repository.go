package storage

import (
	"context"
	"fmt"

	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/types"
)

// WalletRepository reads tracked wallets and position ignores. Both are
// configuration written by external management tooling.
type WalletRepository struct {
	db *PostgresDB
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *PostgresDB) *WalletRepository {
	return &WalletRepository{db: db}
}

// ListByChain returns all tracked wallets on a chain.
func (r *WalletRepository) ListByChain(ctx context.Context, chain types.ChainID) ([]*models.TrackedWallet, error) {
	query := `
		SELECT user_id, chain, address, status_only, created_at
		FROM tracked_wallets
		WHERE chain = $1
		ORDER BY user_id, address
	`

	rows, err := r.db.Pool().Query(ctx, query, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*models.TrackedWallet
	for rows.Next() {
		var w models.TrackedWallet
		if err := rows.Scan(&w.UserID, &w.Chain, &w.Address, &w.StatusOnly, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tracked wallet: %w", err)
		}
		wallets = append(wallets, &w)
	}
	return wallets, rows.Err()
}

// ListIgnores returns every ignore rule for a chain. Token id comes back
// empty for contract-wide rules.
func (r *WalletRepository) ListIgnores(ctx context.Context, chain types.ChainID) ([]*models.PositionIgnore, error) {
	query := `
		SELECT user_id, chain, wallet_address, contract_address, COALESCE(token_id, ''), created_at
		FROM position_ignores
		WHERE chain = $1
	`

	rows, err := r.db.Pool().Query(ctx, query, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to list position ignores: %w", err)
	}
	defer rows.Close()

	var ignores []*models.PositionIgnore
	for rows.Next() {
		var ig models.PositionIgnore
		if err := rows.Scan(&ig.UserID, &ig.Chain, &ig.WalletAddress, &ig.ContractAddress, &ig.TokenID, &ig.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position ignore: %w", err)
		}
		ignores = append(ignores, &ig)
	}
	return ignores, rows.Err()
}
