package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/position-sentinel/internal/config"
	"github.com/position-sentinel/internal/models"
	"github.com/position-sentinel/internal/storage"
	"github.com/position-sentinel/internal/types"
)

type fakeChain struct {
	head     uint64
	logs     map[uint64][]ethtypes.Log // keyed by window from-block
	failFrom map[uint64]error
	calls    [][2]uint64
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeChain) FilterTransferLogs(_ context.Context, _ common.Address, from, to uint64) ([]ethtypes.Log, error) {
	f.calls = append(f.calls, [2]uint64{from, to})
	if err := f.failFrom[from]; err != nil {
		return nil, err
	}
	return f.logs[from], nil
}

type fakeLedger struct {
	batches [][]*models.TransferEvent
}

func (f *fakeLedger) Insert(_ context.Context, events []*models.TransferEvent) error {
	f.batches = append(f.batches, events)
	return nil
}

func (f *fakeLedger) all() []*models.TransferEvent {
	var out []*models.TransferEvent
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

type fakeStore struct {
	cursor   *models.ScanCursor
	applied  []uint64
	updates  [][]*models.OwnedToken
	applyErr map[uint64]error
}

func (f *fakeStore) GetCursor(_ context.Context, _ types.ChainID, _ string) (*models.ScanCursor, error) {
	if f.cursor == nil {
		return nil, storage.ErrNotFound
	}
	return f.cursor, nil
}

func (f *fakeStore) ApplyWindow(_ context.Context, _ *models.Contract, toBlock uint64, updates []*models.OwnedToken) error {
	if err := f.applyErr[toBlock]; err != nil {
		return err
	}
	f.applied = append(f.applied, toBlock)
	f.updates = append(f.updates, updates)
	return nil
}

func (f *fakeStore) allUpdates() []*models.OwnedToken {
	var out []*models.OwnedToken
	for _, u := range f.updates {
		out = append(out, u...)
	}
	return out
}

func testContract() *models.Contract {
	return &models.Contract{
		Chain:      types.ChainEthereum,
		Address:    "0xabc0000000000000000000000000000000000001",
		Kind:       types.KindLpPosition,
		Protocol:   "uniswap-v3",
		StartBlock: 100,
		Enabled:    true,
	}
}

func testScannerConfig() config.ScannerConfig {
	return config.ScannerConfig{
		WindowSize:    100,
		OverlapBlocks: 10,
	}
}

var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

func transferLog(block uint64, idx uint, from, to common.Address, tokenID int64) ethtypes.Log {
	return ethtypes.Log{
		BlockNumber: block,
		TxHash:      common.HexToHash(fmt.Sprintf("0x%064x", block*1000+uint64(idx)+1)),
		Index:       idx,
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
			common.BigToHash(big.NewInt(tokenID)),
		},
	}
}

func TestScanner_ResumesWithOverlap(t *testing.T) {
	source := &fakeChain{head: 600}
	ledger := &fakeLedger{}
	store := &fakeStore{cursor: &models.ScanCursor{LastScannedBlock: 500}}
	s := New(source, ledger, store, testScannerConfig())

	applied, err := s.Scan(context.Background(), testContract())
	require.NoError(t, err)
	assert.Equal(t, uint64(600), applied)

	// cursor 500 minus 10 overlap blocks, then fixed 100-block windows
	require.Equal(t, [][2]uint64{{490, 589}, {590, 600}}, source.calls)
	assert.Equal(t, []uint64{589, 600}, store.applied)
}

func TestScanner_FreshContractStartsAtStartBlock(t *testing.T) {
	source := &fakeChain{head: 150}
	ledger := &fakeLedger{}
	store := &fakeStore{}
	s := New(source, ledger, store, testScannerConfig())

	applied, err := s.Scan(context.Background(), testContract())
	require.NoError(t, err)
	assert.Equal(t, uint64(150), applied)
	require.Equal(t, [][2]uint64{{100, 150}}, source.calls)
}

func TestScanner_OverlapNeverBeforeStartBlock(t *testing.T) {
	source := &fakeChain{head: 150}
	ledger := &fakeLedger{}
	store := &fakeStore{cursor: &models.ScanCursor{LastScannedBlock: 105}}
	s := New(source, ledger, store, testScannerConfig())

	_, err := s.Scan(context.Background(), testContract())
	require.NoError(t, err)
	require.Equal(t, [][2]uint64{{100, 150}}, source.calls)
}

func TestScanner_CursorBeyondHead(t *testing.T) {
	source := &fakeChain{head: 600}
	ledger := &fakeLedger{}
	store := &fakeStore{cursor: &models.ScanCursor{LastScannedBlock: 700}}
	s := New(source, ledger, store, testScannerConfig())

	applied, err := s.Scan(context.Background(), testContract())
	require.NoError(t, err)
	assert.Equal(t, uint64(689), applied)
	assert.Empty(t, source.calls)
	assert.Empty(t, store.applied)
}

func TestScanner_ExtractsTransfers(t *testing.T) {
	owner1 := common.HexToAddress("0xAA00000000000000000000000000000000000001")
	owner2 := common.HexToAddress("0xBB00000000000000000000000000000000000002")
	source := &fakeChain{
		head: 150,
		logs: map[uint64][]ethtypes.Log{
			100: {
				transferLog(110, 0, common.Address{}, owner1, 7), // mint
				transferLog(120, 3, owner1, owner2, 7),           // transfer
			},
		},
	}
	ledger := &fakeLedger{}
	store := &fakeStore{}
	s := New(source, ledger, store, testScannerConfig())

	_, err := s.Scan(context.Background(), testContract())
	require.NoError(t, err)

	events := ledger.all()
	require.Len(t, events, 2)
	assert.Equal(t, "7", events[0].TokenID)
	assert.Equal(t, "0x0000000000000000000000000000000000000000", events[0].FromAddress)
	assert.Equal(t, "0xaa00000000000000000000000000000000000001", events[0].ToAddress)
	assert.Equal(t, uint64(110), events[0].BlockNumber)

	updates := store.allUpdates()
	require.Len(t, updates, 2)
	assert.Equal(t, "0xbb00000000000000000000000000000000000002", updates[1].Owner)
	assert.False(t, updates[1].Burned)
	assert.Equal(t, uint64(120), updates[1].LastBlock)
	assert.Equal(t, uint32(3), updates[1].LastLogIndex)
}

func TestScanner_DropsUnusableLogs(t *testing.T) {
	owner := common.HexToAddress("0xAA00000000000000000000000000000000000001")

	removed := transferLog(110, 0, common.Address{}, owner, 1)
	removed.Removed = true

	short := transferLog(110, 1, common.Address{}, owner, 2)
	short.Topics = short.Topics[:2]

	noIdentity := transferLog(110, 2, common.Address{}, owner, 3)
	noIdentity.TxHash = common.Hash{}

	good := transferLog(110, 4, common.Address{}, owner, 4)
	duplicate := transferLog(110, 5, common.Address{}, owner, 5)
	duplicate.TxHash = good.TxHash
	duplicate.Index = good.Index

	source := &fakeChain{
		head: 150,
		logs: map[uint64][]ethtypes.Log{
			100: {removed, short, noIdentity, good, duplicate},
		},
	}
	ledger := &fakeLedger{}
	store := &fakeStore{}
	s := New(source, ledger, store, testScannerConfig())

	_, err := s.Scan(context.Background(), testContract())
	require.NoError(t, err)

	events := ledger.all()
	require.Len(t, events, 1)
	assert.Equal(t, "4", events[0].TokenID)
}

func TestScanner_BurnTargets(t *testing.T) {
	owner := common.HexToAddress("0xAA00000000000000000000000000000000000001")
	source := &fakeChain{
		head: 150,
		logs: map[uint64][]ethtypes.Log{
			100: {
				transferLog(110, 0, owner, common.Address{}, 1),
				transferLog(110, 1, owner, deadAddress, 2),
				transferLog(110, 2, owner, common.HexToAddress("0xCC03"), 3),
			},
		},
	}
	ledger := &fakeLedger{}
	store := &fakeStore{}
	s := New(source, ledger, store, testScannerConfig())

	_, err := s.Scan(context.Background(), testContract())
	require.NoError(t, err)

	updates := store.allUpdates()
	require.Len(t, updates, 3)
	assert.True(t, updates[0].Burned)
	assert.True(t, updates[1].Burned)
	assert.False(t, updates[2].Burned)
}

func TestScanner_StopsAtFailedWindow(t *testing.T) {
	source := &fakeChain{
		head:     350,
		failFrom: map[uint64]error{200: errors.New("rpc exploded")},
	}
	ledger := &fakeLedger{}
	store := &fakeStore{}
	s := New(source, ledger, store, testScannerConfig())

	applied, err := s.Scan(context.Background(), testContract())
	require.Error(t, err)

	// the first window committed; the failed one advanced nothing
	assert.Equal(t, uint64(199), applied)
	assert.Equal(t, []uint64{199}, store.applied)
}

func TestScanner_ApplyFailureDoesNotAdvance(t *testing.T) {
	source := &fakeChain{head: 350}
	ledger := &fakeLedger{}
	store := &fakeStore{applyErr: map[uint64]error{299: errors.New("db down")}}
	s := New(source, ledger, store, testScannerConfig())

	applied, err := s.Scan(context.Background(), testContract())
	require.Error(t, err)
	assert.Equal(t, uint64(199), applied)
	assert.Equal(t, []uint64{199}, store.applied)
}

type ownershipEvent struct {
	block uint64
	index uint32
	owner string
}

func applyLastWriteWins(events []ownershipEvent) *models.OwnedToken {
	var cur *models.OwnedToken
	for _, e := range events {
		if cur != nil && !cur.NewerThan(e.block, e.index) {
			continue
		}
		cur = &models.OwnedToken{
			Owner:        e.owner,
			LastBlock:    e.block,
			LastLogIndex: e.index,
		}
	}
	return cur
}

// The ownership projection must converge to the same owner no matter what
// order a window's events are applied or re-applied in.
func TestOwnership_LastWriteWinsOrderIndependent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	eventGen := gopter.CombineGens(
		gen.UInt64Range(1, 40),
		gen.UInt32Range(0, 6),
	).Map(func(vs []interface{}) ownershipEvent {
		block := vs[0].(uint64)
		index := vs[1].(uint32)
		return ownershipEvent{
			block: block,
			index: index,
			owner: fmt.Sprintf("0x%040x", block*100+uint64(index)),
		}
	})

	properties.Property("apply order does not change the final owner", prop.ForAll(
		func(raw []ownershipEvent) bool {
			// distinct (block, index) identities only; duplicates are dropped
			// upstream before the projection sees them
			seen := make(map[[2]uint64]bool)
			var events []ownershipEvent
			for _, e := range raw {
				k := [2]uint64{e.block, uint64(e.index)}
				if seen[k] {
					continue
				}
				seen[k] = true
				events = append(events, e)
			}
			if len(events) == 0 {
				return true
			}

			forward := applyLastWriteWins(events)

			reversed := make([]ownershipEvent, len(events))
			for i, e := range events {
				reversed[len(events)-1-i] = e
			}
			backward := applyLastWriteWins(reversed)

			ordered := make([]ownershipEvent, len(events))
			copy(ordered, events)
			sort.Slice(ordered, func(i, j int) bool {
				if ordered[i].block != ordered[j].block {
					return ordered[i].block < ordered[j].block
				}
				return ordered[i].index < ordered[j].index
			})
			canonical := applyLastWriteWins(ordered)

			return forward.Owner == canonical.Owner &&
				backward.Owner == canonical.Owner &&
				forward.LastBlock == canonical.LastBlock &&
				forward.LastLogIndex == canonical.LastLogIndex
		},
		gen.SliceOf(eventGen)))

	properties.TestingRun(t)
}
