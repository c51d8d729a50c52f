package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/types"
)

// ErrNotFound indicates the requested row does not exist
var ErrNotFound = fmt.Errorf("not found")

// ContractRepository reads the tracked-contract reference data. Contracts are
// written by external management tooling; the core only reads them.
type ContractRepository struct {
	db *PostgresDB
}

// NewContractRepository creates a new contract repository
func NewContractRepository(db *PostgresDB) *ContractRepository {
	return &ContractRepository{db: db}
}

// ListEnabled returns all enabled contracts for a chain.
func (r *ContractRepository) ListEnabled(ctx context.Context, chain types.ChainID) ([]*models.Contract, error) {
	query := `
		SELECT chain, address, kind, protocol, start_block, enabled, settings, created_at
		FROM contracts
		WHERE chain = $1 AND enabled = true
		ORDER BY address
	`

	rows, err := r.db.Pool().Query(ctx, query, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	defer rows.Close()

	var contracts []*models.Contract
	for rows.Next() {
		var c models.Contract
		if err := rows.Scan(&c.Chain, &c.Address, &c.Kind, &c.Protocol, &c.StartBlock, &c.Enabled, &c.Settings, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		contracts = append(contracts, &c)
	}
	return contracts, rows.Err()
}

// Get returns one contract by identity.
func (r *ContractRepository) Get(ctx context.Context, chain types.ChainID, address string) (*models.Contract, error) {
	query := `
		SELECT chain, address, kind, protocol, start_block, enabled, settings, created_at
		FROM contracts
		WHERE chain = $1 AND address = $2
	`

	var c models.Contract
	err := r.db.Pool().QueryRow(ctx, query, chain, address).Scan(
		&c.Chain, &c.Address, &c.Kind, &c.Protocol, &c.StartBlock, &c.Enabled, &c.Settings, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("contract %s on %s: %w", address, chain, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return &c, nil
}
