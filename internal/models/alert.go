package models

import (
	"time"

	"github.com/position-sentinel/internal/types"
)

// AlertKey identifies one alert state machine instance.
type AlertKey struct {
	UserID          string          `json:"userId"`
	Chain           types.ChainID   `json:"chain"`
	WalletAddress   string          `json:"walletAddress"`
	ContractAddress string          `json:"contractAddress"`
	TokenID         string          `json:"tokenId"`
	Type            types.AlertType `json:"type"`
}

// AlertState is the persisted memory of one alert state machine.
// StateBlob holds the per-type tagged state (debounce candidates, last tier)
// encoded at the storage boundary.
type AlertState struct {
	Key       AlertKey  `json:"key"`
	Active    bool      `json:"active"`
	Signature string    `json:"signature"`
	StateBlob []byte    `json:"stateBlob"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AlertLogEntry is an immutable append-only record of one phase transition.
type AlertLogEntry struct {
	ID        string           `json:"id"`
	Key       AlertKey         `json:"key"`
	Phase     types.AlertPhase `json:"phase"`
	Tier      types.Tier       `json:"tier"`
	Message   string           `json:"message"`
	Meta      string           `json:"meta"` // JSON-encoded structured metadata
	CreatedAt time.Time        `json:"createdAt"`
}
