package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/position-sentinel/internal/models"
)

// AlertStateRepository persists the alert engine's per-tuple state machine
// memory. The engine commits its decision here before any notification goes
// out, so delivery failures can never desync state from what was decided.
type AlertStateRepository struct {
	db *PostgresDB
}

// NewAlertStateRepository creates a new alert state repository
func NewAlertStateRepository(db *PostgresDB) *AlertStateRepository {
	return &AlertStateRepository{db: db}
}

// Get returns the persisted state for one alert tuple, or ErrNotFound.
func (r *AlertStateRepository) Get(ctx context.Context, key models.AlertKey) (*models.AlertState, error) {
	query := `
		SELECT user_id, chain, wallet_address, contract_address, token_id, alert_type,
		       active, signature, state_blob, created_at, updated_at
		FROM alert_states
		WHERE user_id = $1 AND chain = $2 AND wallet_address = $3
		  AND contract_address = $4 AND token_id = $5 AND alert_type = $6
	`

	var s models.AlertState
	err := r.db.Pool().QueryRow(ctx, query,
		key.UserID, key.Chain, key.WalletAddress, key.ContractAddress, key.TokenID, key.Type,
	).Scan(
		&s.Key.UserID, &s.Key.Chain, &s.Key.WalletAddress, &s.Key.ContractAddress,
		&s.Key.TokenID, &s.Key.Type, &s.Active, &s.Signature, &s.StateBlob,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("alert state for %s/%s/%s: %w", key.UserID, key.TokenID, key.Type, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get alert state: %w", err)
	}
	return &s, nil
}

// Upsert writes the state machine decision. The unique constraint on the
// tuple serializes concurrent writers.
func (r *AlertStateRepository) Upsert(ctx context.Context, state *models.AlertState) error {
	query := `
		INSERT INTO alert_states (
			user_id, chain, wallet_address, contract_address, token_id, alert_type,
			active, signature, state_blob, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (user_id, chain, wallet_address, contract_address, token_id, alert_type)
		DO UPDATE SET
			active = EXCLUDED.active,
			signature = EXCLUDED.signature,
			state_blob = EXCLUDED.state_blob,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	_, err := r.db.Pool().Exec(ctx, query,
		state.Key.UserID, state.Key.Chain, state.Key.WalletAddress,
		state.Key.ContractAddress, state.Key.TokenID, state.Key.Type,
		state.Active, state.Signature, state.StateBlob, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alert state: %w", err)
	}
	return nil
}

// DeleteForToken removes all alert state of a token that is no longer owned
// or tracked.
func (r *AlertStateRepository) DeleteForToken(ctx context.Context, key models.AlertKey) error {
	query := `
		DELETE FROM alert_states
		WHERE user_id = $1 AND chain = $2 AND wallet_address = $3
		  AND contract_address = $4 AND token_id = $5
	`

	_, err := r.db.Pool().Exec(ctx, query,
		key.UserID, key.Chain, key.WalletAddress, key.ContractAddress, key.TokenID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete alert state: %w", err)
	}
	return nil
}
