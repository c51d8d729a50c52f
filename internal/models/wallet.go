package models

import (
	"time"

	"github.com/position-sentinel/internal/types"
)

// TrackedWallet is a user's monitored address on a chain.
type TrackedWallet struct {
	UserID     string        `json:"userId"`
	Chain      types.ChainID `json:"chain"`
	Address    string        `json:"address"`
	StatusOnly bool          `json:"statusOnly"` // suppress tier detail in LP notifications
	CreatedAt  time.Time     `json:"createdAt"`
}

// PositionIgnore suppresses monitoring for a (wallet, contract, token) tuple.
// An empty TokenID means every token in the contract is ignored for the wallet.
type PositionIgnore struct {
	UserID          string        `json:"userId"`
	Chain           types.ChainID `json:"chain"`
	WalletAddress   string        `json:"walletAddress"`
	ContractAddress string        `json:"contractAddress"`
	TokenID         string        `json:"tokenId"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// Matches reports whether the ignore rule covers the given token.
func (p *PositionIgnore) Matches(tokenID string) bool {
	return p.TokenID == "" || p.TokenID == tokenID
}
