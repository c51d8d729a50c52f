// Package models defines the persistent data model for the position sentinel.
package models

import (
	"time"

	"github.com/position-sentinel/internal/types"
)

// Contract represents one tracked NFT position contract.
// Identity is (Chain, Address).
// Settings carries protocol wiring that varies by kind: loan contracts store
// the trove manager, price feed and sorted-troves addresses under the keys
// "trove_manager", "price_feed" and "sorted_troves".
type Contract struct {
	Chain      types.ChainID      `json:"chain"`
	Address    string             `json:"address"`
	Kind       types.ContractKind `json:"kind"`
	Protocol   string             `json:"protocol"`
	StartBlock uint64             `json:"startBlock"`
	Enabled    bool               `json:"enabled"`
	Settings   map[string]string  `json:"settings"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// Setting returns a settings value, empty when absent.
func (c *Contract) Setting(key string) string {
	if c.Settings == nil {
		return ""
	}
	return c.Settings[key]
}

// ScanCursor tracks scan progress for one contract. LastScannedBlock only
// advances after a window's events are durably applied.
type ScanCursor struct {
	Chain            types.ChainID `json:"chain"`
	ContractAddress  string        `json:"contractAddress"`
	StartBlock       uint64        `json:"startBlock"`
	LastScannedBlock uint64        `json:"lastScannedBlock"`
	LastScannedAt    time.Time     `json:"lastScannedAt"`
}

// TransferEvent is an immutable fact row for one Transfer log.
// Uniqueness is (contract, tx hash, log index).
type TransferEvent struct {
	Chain           types.ChainID `json:"chain"`
	ContractAddress string        `json:"contractAddress"`
	BlockNumber     uint64        `json:"blockNumber"`
	TxHash          string        `json:"txHash"`
	LogIndex        uint32        `json:"logIndex"`
	FromAddress     string        `json:"fromAddress"`
	ToAddress       string        `json:"toAddress"`
	TokenID         string        `json:"tokenId"`
	ObservedAt      time.Time     `json:"observedAt"`
}

// OwnedToken is the current-owner projection keyed by (contract, token id).
// It is updated only by causally newer events (block, then log index).
type OwnedToken struct {
	Chain           types.ChainID `json:"chain"`
	ContractAddress string        `json:"contractAddress"`
	TokenID         string        `json:"tokenId"`
	Owner           string        `json:"owner"`
	Burned          bool          `json:"burned"`
	LastBlock       uint64        `json:"lastBlock"`
	LastTxHash      string        `json:"lastTxHash"`
	LastLogIndex    uint32        `json:"lastLogIndex"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// NewerThan reports whether the event at (block, logIndex) is causally newer
// than the token's last applied event.
func (t *OwnedToken) NewerThan(block uint64, logIndex uint32) bool {
	if block != t.LastBlock {
		return block > t.LastBlock
	}
	return logIndex > t.LastLogIndex
}
