// Package chain provides the per-chain JSON-RPC data provider: block height,
// Transfer log queries and typed read-only contract calls, with provider
// errors classified into retryable and hard failures.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/position-sentinel/internal/types"
)

// Client is the subset of ethclient.Client the provider depends on.
// Narrowed for testability.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Provider is one chain's JSON-RPC access point. All calls are paced through
// a single rate limiter so positions evaluated sequentially against the same
// provider respect its request budget.
type Provider struct {
	chain   types.ChainID
	client  Client
	limiter *rate.Limiter
}

// NewProvider dials the RPC endpoint and wraps it with request pacing.
func NewProvider(chain types.ChainID, rpcURL string, requestsPerSecond float64) (*Provider, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url cannot be empty for chain %s", chain)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s rpc: %w", chain, err)
	}
	return NewProviderWithClient(chain, client, requestsPerSecond), nil
}

// NewProviderWithClient wraps an existing client. Used by tests.
func NewProviderWithClient(chain types.ChainID, client Client, requestsPerSecond float64) *Provider {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 4
	}
	return &Provider{
		chain:   chain,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// Chain returns the chain this provider serves.
func (p *Provider) Chain() types.ChainID { return p.chain }

// BlockNumber returns the current chain head.
func (p *Provider) BlockNumber(ctx context.Context) (uint64, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		return 0, Classify(err)
	}
	return head, nil
}

// FilterTransferLogs fetches ERC-721 Transfer logs for one contract over a
// block window, inclusive on both ends.
func (p *Provider) FilterTransferLogs(ctx context.Context, contract common.Address, fromBlock, toBlock uint64) ([]ethtypes.Log, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{{TransferTopic}},
	}
	logs, err := p.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, Classify(err)
	}
	return logs, nil
}

// call packs a method call, executes it as eth_call and unpacks the outputs.
// Works for view getters and for state-mutating methods simulated without a
// transaction (e.g. fee collection).
func (p *Provider) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: input}
	output, err := p.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, Classify(err)
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("%w: empty return from %s.%s", ErrNotFound, to.Hex(), method)
	}
	values, err := contractABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return values, nil
}
