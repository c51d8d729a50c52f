package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PositionData is the geometry and fee checkpoint of one LP position NFT.
type PositionData struct {
	Token0                   common.Address
	Token1                   common.Address
	Fee                      uint32
	TickLower                int32
	TickUpper                int32
	Liquidity                *big.Int
	FeeGrowthInside0LastX128 *big.Int
	FeeGrowthInside1LastX128 *big.Int
	TokensOwed0              *big.Int
	TokensOwed1              *big.Int
}

// Slot0 is the pool's current price state.
type Slot0 struct {
	SqrtPriceX96 *big.Int
	Tick         int32
}

// TickInfo holds the per-tick fee-growth-outside accumulators.
type TickInfo struct {
	FeeGrowthOutside0X128 *big.Int
	FeeGrowthOutside1X128 *big.Int
	Initialized           bool
}

// collectParams mirrors the position manager's collect((...)) tuple.
type collectParams struct {
	TokenId    *big.Int
	Recipient  common.Address
	Amount0Max *big.Int
	Amount1Max *big.Int
}

// UniswapReader reads concentrated-liquidity position and pool state.
type UniswapReader struct {
	provider        *Provider
	positionManager common.Address
}

// NewUniswapReader creates a reader bound to one position manager deployment.
func NewUniswapReader(provider *Provider, positionManager common.Address) *UniswapReader {
	return &UniswapReader{provider: provider, positionManager: positionManager}
}

// Position fetches the geometry, liquidity and fee checkpoint of a position.
func (r *UniswapReader) Position(ctx context.Context, tokenID *big.Int) (*PositionData, error) {
	values, err := r.provider.call(ctx, r.positionManager, positionManagerABI, "positions", tokenID)
	if err != nil {
		return nil, fmt.Errorf("positions(%s): %w", tokenID, err)
	}
	if len(values) != 12 {
		return nil, fmt.Errorf("positions(%s): expected 12 outputs, got %d", tokenID, len(values))
	}
	return &PositionData{
		Token0:                   values[2].(common.Address),
		Token1:                   values[3].(common.Address),
		Fee:                      uint32(values[4].(*big.Int).Uint64()),
		TickLower:                int32(values[5].(*big.Int).Int64()),
		TickUpper:                int32(values[6].(*big.Int).Int64()),
		Liquidity:                values[7].(*big.Int),
		FeeGrowthInside0LastX128: values[8].(*big.Int),
		FeeGrowthInside1LastX128: values[9].(*big.Int),
		TokensOwed0:              values[10].(*big.Int),
		TokensOwed1:              values[11].(*big.Int),
	}, nil
}

// Factory returns the pool factory address used by the position manager.
func (r *UniswapReader) Factory(ctx context.Context) (common.Address, error) {
	values, err := r.provider.call(ctx, r.positionManager, positionManagerABI, "factory")
	if err != nil {
		return common.Address{}, err
	}
	return values[0].(common.Address), nil
}

// PoolAddress resolves the pool for a token pair and fee tier.
func (r *UniswapReader) PoolAddress(ctx context.Context, factory, token0, token1 common.Address, fee uint32) (common.Address, error) {
	values, err := r.provider.call(ctx, factory, factoryABI, "getPool", token0, token1, big.NewInt(int64(fee)))
	if err != nil {
		return common.Address{}, err
	}
	pool := values[0].(common.Address)
	if pool == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: no pool for %s/%s fee %d", ErrNotFound, token0.Hex(), token1.Hex(), fee)
	}
	return pool, nil
}

// PoolSlot0 fetches the pool's current sqrt price and tick.
func (r *UniswapReader) PoolSlot0(ctx context.Context, pool common.Address) (*Slot0, error) {
	values, err := r.provider.call(ctx, pool, poolABI, "slot0")
	if err != nil {
		return nil, fmt.Errorf("slot0(%s): %w", pool.Hex(), err)
	}
	return &Slot0{
		SqrtPriceX96: values[0].(*big.Int),
		Tick:         int32(values[1].(*big.Int).Int64()),
	}, nil
}

// FeeGrowthGlobal fetches both global fee-growth accumulators.
func (r *UniswapReader) FeeGrowthGlobal(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	g0, err := r.provider.call(ctx, pool, poolABI, "feeGrowthGlobal0X128")
	if err != nil {
		return nil, nil, err
	}
	g1, err := r.provider.call(ctx, pool, poolABI, "feeGrowthGlobal1X128")
	if err != nil {
		return nil, nil, err
	}
	return g0[0].(*big.Int), g1[0].(*big.Int), nil
}

// Tick fetches the fee-growth-outside accumulators of one tick.
func (r *UniswapReader) Tick(ctx context.Context, pool common.Address, tick int32) (*TickInfo, error) {
	values, err := r.provider.call(ctx, pool, poolABI, "ticks", big.NewInt(int64(tick)))
	if err != nil {
		return nil, fmt.Errorf("ticks(%d): %w", tick, err)
	}
	return &TickInfo{
		FeeGrowthOutside0X128: values[2].(*big.Int),
		FeeGrowthOutside1X128: values[3].(*big.Int),
		Initialized:           values[7].(bool),
	}, nil
}

// TokenMeta is display metadata for an ERC-20 token.
type TokenMeta struct {
	Symbol   string
	Decimals uint8
}

// TokenMeta reads a token's symbol and decimals.
func (r *UniswapReader) TokenMeta(ctx context.Context, token common.Address) (*TokenMeta, error) {
	symVals, err := r.provider.call(ctx, token, erc20ABI, "symbol")
	if err != nil {
		return nil, fmt.Errorf("symbol(%s): %w", token.Hex(), err)
	}
	decVals, err := r.provider.call(ctx, token, erc20ABI, "decimals")
	if err != nil {
		return nil, fmt.Errorf("decimals(%s): %w", token.Hex(), err)
	}
	return &TokenMeta{
		Symbol:   symVals[0].(string),
		Decimals: decVals[0].(uint8),
	}, nil
}

// maxUint128 caps the simulated collect so the full owed amounts come back.
var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// SimulateCollect runs the position manager's collect as an eth_call, which
// returns the uncollected fees without mutating state. The owner address is
// used as recipient; it is never charged since no transaction is sent.
func (r *UniswapReader) SimulateCollect(ctx context.Context, tokenID *big.Int, owner common.Address) (*big.Int, *big.Int, error) {
	params := collectParams{
		TokenId:    tokenID,
		Recipient:  owner,
		Amount0Max: maxUint128,
		Amount1Max: maxUint128,
	}
	values, err := r.provider.call(ctx, r.positionManager, positionManagerABI, "collect", params)
	if err != nil {
		return nil, nil, fmt.Errorf("collect(%s): %w", tokenID, err)
	}
	return values[0].(*big.Int), values[1].(*big.Int), nil
}
