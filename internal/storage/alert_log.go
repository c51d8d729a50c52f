package storage

import (
	"context"
	"fmt"

	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/types"
)

// AlertLog appends every phase transition to ClickHouse for audit and
// history. Entries are immutable.
type AlertLog struct {
	db *ClickHouseDB
}

// NewAlertLog creates a new alert log
func NewAlertLog(db *ClickHouseDB) *AlertLog {
	return &AlertLog{db: db}
}

// Append records one phase transition.
func (l *AlertLog) Append(ctx context.Context, entry *models.AlertLogEntry) error {
	query := `
		INSERT INTO alert_log (
			id, user_id, chain, wallet_address, contract_address, token_id,
			alert_type, phase, tier, message, meta, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := l.db.Exec(ctx, query,
		entry.ID, entry.Key.UserID, string(entry.Key.Chain), entry.Key.WalletAddress,
		entry.Key.ContractAddress, entry.Key.TokenID, string(entry.Key.Type),
		string(entry.Phase), string(entry.Tier), entry.Message, entry.Meta, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append alert log entry: %w", err)
	}
	return nil
}

// Recent returns a user's most recent alert log entries, newest first.
func (l *AlertLog) Recent(ctx context.Context, userID string, limit int) ([]*models.AlertLogEntry, error) {
	query := `
		SELECT id, user_id, chain, wallet_address, contract_address, token_id,
		       alert_type, phase, tier, message, meta, created_at
		FROM alert_log
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := l.db.Conn().Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert log: %w", err)
	}
	defer rows.Close()

	var entries []*models.AlertLogEntry
	for rows.Next() {
		var e models.AlertLogEntry
		var chain, alertType, phase, tier string
		if err := rows.Scan(&e.ID, &e.Key.UserID, &chain, &e.Key.WalletAddress,
			&e.Key.ContractAddress, &e.Key.TokenID, &alertType, &phase, &tier,
			&e.Message, &e.Meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert log entry: %w", err)
		}
		e.Key.Chain = types.ChainID(chain)
		e.Key.Type = types.AlertType(alertType)
		e.Phase = types.AlertPhase(phase)
		e.Tier = types.Tier(tier)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
