package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// TroveData holds the protocol-native fixed-point state of one loan position.
type TroveData struct {
	EntireDebt         *big.Int
	EntireColl         *big.Int
	AnnualInterestRate *big.Int
}

// LoanReader reads loan protocol state: trove manager getters, price feed and
// the sorted redemption list.
type LoanReader struct {
	provider     *Provider
	troveManager common.Address
	priceFeed    common.Address
	sortedTroves common.Address
}

// NewLoanReader creates a reader bound to one protocol deployment.
func NewLoanReader(provider *Provider, troveManager, priceFeed, sortedTroves common.Address) *LoanReader {
	return &LoanReader{
		provider:     provider,
		troveManager: troveManager,
		priceFeed:    priceFeed,
		sortedTroves: sortedTroves,
	}
}

// TroveData fetches the entire debt, entire collateral and annual interest
// rate for one trove.
func (r *LoanReader) TroveData(ctx context.Context, troveID *big.Int) (*TroveData, error) {
	debt, err := r.uintCall(ctx, r.troveManager, troveManagerABI, "getTroveEntireDebt", troveID)
	if err != nil {
		return nil, fmt.Errorf("trove %s debt: %w", troveID, err)
	}
	coll, err := r.uintCall(ctx, r.troveManager, troveManagerABI, "getTroveEntireColl", troveID)
	if err != nil {
		return nil, fmt.Errorf("trove %s coll: %w", troveID, err)
	}
	ir, err := r.uintCall(ctx, r.troveManager, troveManagerABI, "getTroveAnnualInterestRate", troveID)
	if err != nil {
		return nil, fmt.Errorf("trove %s interest rate: %w", troveID, err)
	}
	return &TroveData{EntireDebt: debt, EntireColl: coll, AnnualInterestRate: ir}, nil
}

// TroveDebt fetches only the entire debt of one trove. Used by the queue
// walk, which does not need collateral.
func (r *LoanReader) TroveDebt(ctx context.Context, troveID *big.Int) (*big.Int, error) {
	return r.uintCall(ctx, r.troveManager, troveManagerABI, "getTroveEntireDebt", troveID)
}

// TroveAnnualInterestRate fetches only the annual interest rate of one trove.
func (r *LoanReader) TroveAnnualInterestRate(ctx context.Context, troveID *big.Int) (*big.Int, error) {
	return r.uintCall(ctx, r.troveManager, troveManagerABI, "getTroveAnnualInterestRate", troveID)
}

// MCR returns the protocol's minimum collateral ratio (1e18 fixed point).
func (r *LoanReader) MCR(ctx context.Context) (*big.Int, error) {
	return r.uintCall(ctx, r.troveManager, troveManagerABI, "MCR")
}

// TotalDebt returns the entire system debt (1e18 fixed point).
func (r *LoanReader) TotalDebt(ctx context.Context) (*big.Int, error) {
	return r.uintCall(ctx, r.troveManager, troveManagerABI, "getEntireSystemDebt")
}

// FetchPrice simulates the oracle's fetchPrice call without mutating state.
func (r *LoanReader) FetchPrice(ctx context.Context) (*big.Int, error) {
	return r.uintCall(ctx, r.priceFeed, priceFeedABI, "fetchPrice")
}

// LastGoodPrice returns the oracle's last-known-good price.
func (r *LoanReader) LastGoodPrice(ctx context.Context) (*big.Int, error) {
	return r.uintCall(ctx, r.priceFeed, priceFeedABI, "lastGoodPrice")
}

// RedemptionPrice returns the protocol's redemption price.
func (r *LoanReader) RedemptionPrice(ctx context.Context) (*big.Int, error) {
	return r.uintCall(ctx, r.priceFeed, priceFeedABI, "redemptionPrice")
}

// QueueFirst returns the head of the sorted trove list (highest interest rate).
// Zero means the list is empty.
func (r *LoanReader) QueueFirst(ctx context.Context) (*big.Int, error) {
	return r.uintCall(ctx, r.sortedTroves, sortedTrovesABI, "getFirst")
}

// QueueNext returns the successor of a trove in the sorted list.
// Zero means the end of the list.
func (r *LoanReader) QueueNext(ctx context.Context, troveID *big.Int) (*big.Int, error) {
	return r.uintCall(ctx, r.sortedTroves, sortedTrovesABI, "getNext", troveID)
}

// QueueSize returns the number of troves in the sorted list.
func (r *LoanReader) QueueSize(ctx context.Context) (*big.Int, error) {
	return r.uintCall(ctx, r.sortedTroves, sortedTrovesABI, "getSize")
}

func (r *LoanReader) uintCall(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	values, err := r.provider.call(ctx, to, contractABI, method, args...)
	if err != nil {
		return nil, err
	}
	result, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected return type %T from %s", values[0], method)
	}
	return result, nil
}
