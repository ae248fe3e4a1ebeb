// Copyright 2025 The go-lucid Authors
// This file is part of the go-lucid library.
//
// The go-lucid library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-lucid library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-lucid library. If not, see <http://www.gnu.org/licenses/>.

package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/luciddb"
)

// memStore backs both the chain and the pool in tests.
type memStore struct {
	mu        sync.Mutex
	blocks    map[uint64]*types.Block
	headers   int
	metadata  int
	confirmed map[string]*types.Transaction
	mempool   map[string]*types.Transaction
	balances  map[common.Address]int64
}

func newMemStore() *memStore {
	return &memStore{
		blocks:    map[uint64]*types.Block{},
		confirmed: map[string]*types.Transaction{},
		mempool:   map[string]*types.Transaction{},
		balances:  map[common.Address]int64{},
	}
}

func (m *memStore) InsertBlock(_ context.Context, b *types.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[b.Height]; ok {
		return fmt.Errorf("height %d: %w", b.Height, luciddb.ErrDuplicateKey)
	}
	m.blocks[b.Height] = b.Copy()
	return nil
}

func (m *memStore) InsertHeader(_ context.Context, _ *types.BlockHeader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headers++
	return nil
}

func (m *memStore) InsertBlockMetadata(_ context.Context, _ *luciddb.BlockMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata++
	return nil
}

func (m *memStore) InsertTransactions(_ context.Context, txs []*types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		m.confirmed[tx.ID] = tx.Copy()
	}
	return nil
}

func (m *memStore) BlockByHeight(_ context.Context, height uint64) (*types.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[height]
	if !ok {
		return nil, lucerr.Newf(lucerr.NotFound, "block %d", height)
	}
	return b.Copy(), nil
}

func (m *memStore) BlockByHash(_ context.Context, hash common.Hash) (*types.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.blocks {
		if b.Hash == hash {
			return b.Copy(), nil
		}
	}
	return nil, lucerr.Newf(lucerr.NotFound, "block %s", hash)
}

func (m *memStore) LatestBlock(_ context.Context) (*types.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *types.Block
	for _, b := range m.blocks {
		if latest == nil || b.Height > latest.Height {
			latest = b
		}
	}
	if latest == nil {
		return nil, lucerr.New(lucerr.NotFound, "chain is empty")
	}
	return latest.Copy(), nil
}

func (m *memStore) TransactionSeen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, inConfirmed := m.confirmed[id]
	_, inMempool := m.mempool[id]
	return inConfirmed || inMempool, nil
}

func (m *memStore) TransactionByID(_ context.Context, id string) (*types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.confirmed[id]
	if !ok {
		return nil, lucerr.Newf(lucerr.NotFound, "transaction %s", id)
	}
	return tx.Copy(), nil
}

func (m *memStore) Balance(_ context.Context, addr common.Address) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[addr], nil
}

func (m *memStore) InsertMempoolTransaction(_ context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mempool[tx.ID]; ok {
		return fmt.Errorf("id %s: %w", tx.ID, luciddb.ErrDuplicateKey)
	}
	m.mempool[tx.ID] = tx.Copy()
	return nil
}

func (m *memStore) SetMempoolStatus(_ context.Context, id string, status types.TxStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.mempool[id]
	if !ok {
		return lucerr.Newf(lucerr.NotFound, "mempool transaction %s", id)
	}
	tx.Status = status
	return nil
}

func (m *memStore) DeleteMempoolTransaction(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mempool, id)
	return nil
}

func (m *memStore) PendingMempoolTransactions(_ context.Context) ([]*types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Transaction
	for _, tx := range m.mempool {
		if tx.Status == types.TxStatusPending {
			out = append(out, tx.Copy())
		}
	}
	return out, nil
}

func (m *memStore) mempoolStatus(id string) types.TxStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.mempool[id]; ok {
		return tx.Status
	}
	return ""
}

func newTestChain(t *testing.T) (*BlockChain, *memStore) {
	t.Helper()
	store := newMemStore()
	bc, err := NewBlockChain(context.Background(), store, Config{StoragePath: t.TempDir()})
	require.NoError(t, err)
	return bc, store
}

func addr(last byte) common.Address {
	var a common.Address
	a[19] = last
	return a
}

func TestNewBlockChainCreatesGenesis(t *testing.T) {
	bc, store := newTestChain(t)

	assert.Equal(t, uint64(0), bc.CurrentHeight())
	assert.False(t, bc.LatestHash().IsZero())
	assert.Equal(t, bc.LatestHash(), bc.GenesisHash())

	g, err := store.BlockByHeight(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, g.PreviousHash.IsZero())
	require.Len(t, g.Transactions, 1)
	tx := g.Transactions[0]
	assert.True(t, tx.From.IsZero())
	assert.True(t, tx.To.IsZero())
	assert.Zero(t, tx.Value)
	assert.Equal(t, "genesis_signature", tx.Signature)
	assert.Equal(t, "genesis", g.Producer)
	// One transaction: the root is the BLAKE3 of its id.
	assert.Equal(t, crypto.Blake3Hash([]byte(tx.ID)), g.MerkleRoot)
	assert.Equal(t, g.ComputeHash(), g.Hash)
}

func TestNewBlockChainReloadsExisting(t *testing.T) {
	store := newMemStore()
	first, err := NewBlockChain(context.Background(), store, Config{StoragePath: t.TempDir()})
	require.NoError(t, err)
	genesisHash := first.GenesisHash()

	second, err := NewBlockChain(context.Background(), store, Config{StoragePath: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, genesisHash, second.GenesisHash())
	assert.Len(t, store.blocks, 1, "restart must not mint a second genesis")
}

func signedTx(t *testing.T, from, to common.Address, value uint64, fee float64) *types.Transaction {
	t.Helper()
	return types.NewTransaction(from, to, value, nil, fee)
}

func TestCreateAndAddBlock(t *testing.T) {
	bc, store := newTestChain(t)
	ctx := context.Background()

	txs := types.Transactions{
		signedTx(t, addr(1), addr(2), 0, 0.002),
		signedTx(t, addr(1), addr(3), 0, 0.003),
	}
	b, err := bc.CreateBlock(txs, "node_001")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), b.Height)
	assert.Equal(t, bc.GenesisHash(), b.PreviousHash)
	assert.Equal(t, b.ComputeHash(), b.Hash)

	b.Signature = "node_001-sig"
	require.NoError(t, bc.AddBlock(ctx, b))
	assert.Equal(t, uint64(1), bc.CurrentHeight())
	assert.Equal(t, b.Hash, bc.LatestHash())

	stored, err := store.BlockByHeight(ctx, 1)
	require.NoError(t, err)
	for _, tx := range stored.Transactions {
		assert.Equal(t, types.TxStatusConfirmed, tx.Status)
		require.NotNil(t, tx.BlockHeight)
		assert.Equal(t, uint64(1), *tx.BlockHeight)
	}
	for _, tx := range txs {
		got, err := store.TransactionByID(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, types.TxStatusConfirmed, got.Status)
	}
	assert.Equal(t, 2, store.headers, "genesis and block 1 headers")
	assert.Equal(t, 2, store.metadata)
}

func TestAddBlockWritesMirror(t *testing.T) {
	store := newMemStore()
	dir := t.TempDir()
	bc, err := NewBlockChain(context.Background(), store, Config{StoragePath: dir})
	require.NoError(t, err)

	b, err := bc.CreateBlock(nil, "node_001")
	require.NoError(t, err)
	b.Signature = "sig"
	require.NoError(t, bc.AddBlock(context.Background(), b))

	raw, err := os.ReadFile(filepath.Join(dir, "block_0000000001.json"))
	require.NoError(t, err)
	var mirrored types.Block
	require.NoError(t, json.Unmarshal(raw, &mirrored))
	assert.Equal(t, b.Hash, mirrored.Hash)
	assert.Equal(t, uint64(1), mirrored.Height)
}

func TestValidateBlockTamperedTransactions(t *testing.T) {
	bc, _ := newTestChain(t)
	ctx := context.Background()

	// Grow the chain to height 4 so the tampered block sits at height 5.
	for i := 0; i < 4; i++ {
		b, err := bc.CreateBlock(nil, "node_001")
		require.NoError(t, err)
		b.Signature = "sig"
		require.NoError(t, bc.AddBlock(ctx, b))
	}

	txs := types.Transactions{
		signedTx(t, addr(1), addr(2), 0, 0.002),
		signedTx(t, addr(1), addr(3), 0, 0.002),
		signedTx(t, addr(2), addr(3), 0, 0.002),
		signedTx(t, addr(3), addr(1), 0, 0.002),
	}
	b, err := bc.CreateBlock(txs, "node_001")
	require.NoError(t, err)
	require.Equal(t, uint64(5), b.Height)
	b.Signature = "sig"

	b.Transactions[2].ID = "tampered"
	res := bc.ValidateBlock(ctx, b)
	assert.False(t, res.Valid)
	joined := strings.Join(res.Errors, "\n")
	assert.Contains(t, joined, "Merkle root mismatch")
	assert.Contains(t, joined, "Block hash mismatch")
}

func TestValidateBlockChainLinkage(t *testing.T) {
	bc, _ := newTestChain(t)
	ctx := context.Background()

	orphan, err := bc.CreateBlock(nil, "node_001")
	require.NoError(t, err)
	orphan.Height = 7
	orphan.Hash = orphan.ComputeHash()
	orphan.Signature = "sig"
	res := bc.ValidateBlock(ctx, orphan)
	assert.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Errors, "\n"), "previous block at height 6 not found")

	wrongPrev, err := bc.CreateBlock(nil, "node_001")
	require.NoError(t, err)
	wrongPrev.PreviousHash = crypto.Blake3Hash([]byte("not-the-tip"))
	wrongPrev.Hash = wrongPrev.ComputeHash()
	wrongPrev.Signature = "sig"
	res = bc.ValidateBlock(ctx, wrongPrev)
	assert.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Errors, "\n"), "previous hash mismatch")
}

func TestValidateBlockRejectsFutureTimestamp(t *testing.T) {
	bc, _ := newTestChain(t)

	b, err := bc.CreateBlock(nil, "node_001")
	require.NoError(t, err)
	b.Timestamp = time.Now().UTC().Add(10 * time.Minute)
	b.Hash = b.ComputeHash()
	b.Signature = "sig"

	res := bc.ValidateBlock(context.Background(), b)
	assert.False(t, res.Valid)
	assert.Contains(t, strings.Join(res.Errors, "\n"), "timestamp too far in the future")
}

func TestValidateBlockRequiresHashAndSignature(t *testing.T) {
	bc, _ := newTestChain(t)

	b, err := bc.CreateBlock(nil, "node_001")
	require.NoError(t, err)
	b.Hash = common.Hash{}
	res := bc.ValidateBlock(context.Background(), b)
	assert.False(t, res.Valid)
	joined := strings.Join(res.Errors, "\n")
	assert.Contains(t, joined, "block hash is missing")
	assert.Contains(t, joined, "signature is missing")
}

func TestAddBlockDuplicateHeightIsNoOp(t *testing.T) {
	bc, store := newTestChain(t)
	ctx := context.Background()

	ours, err := bc.CreateBlock(nil, "node_001")
	require.NoError(t, err)
	ours.Signature = "sig"
	theirs := ours.Copy()
	theirs.Producer = "node_002"
	theirs.Hash = theirs.ComputeHash()
	theirs.Signature = "sig"

	require.NoError(t, bc.AddBlock(ctx, ours))
	require.NoError(t, bc.AddBlock(ctx, theirs), "losing the height race is not an error")

	stored, err := store.BlockByHeight(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "node_001", stored.Producer, "first writer wins")
	assert.Equal(t, uint64(1), bc.CurrentHeight())
}

func TestGetBlockServesCacheAndStore(t *testing.T) {
	bc, store := newTestChain(t)
	ctx := context.Background()

	b, err := bc.CreateBlock(nil, "node_001")
	require.NoError(t, err)
	b.Signature = "sig"
	require.NoError(t, bc.AddBlock(ctx, b))

	byHash, err := bc.GetBlockByHash(ctx, b.Hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), byHash.Height)

	byHeight, err := bc.GetBlockByHeight(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, b.Hash, byHeight.Hash)

	// Unknown lookups surface NotFound from the store.
	_, err = bc.GetBlockByHash(ctx, crypto.Blake3Hash([]byte("missing")))
	assert.True(t, lucerr.Is(err, lucerr.NotFound))
	_, err = bc.GetBlockByHeight(ctx, 99)
	assert.True(t, lucerr.Is(err, lucerr.NotFound))

	// A cold cache still resolves via the store.
	bc2, err := NewBlockChain(ctx, store, Config{StoragePath: t.TempDir()})
	require.NoError(t, err)
	warm, err := bc2.GetBlockByHeight(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, b.Hash, warm.Hash)
}

func TestAddBlockRejectsInvalid(t *testing.T) {
	bc, _ := newTestChain(t)

	b, err := bc.CreateBlock(nil, "node_001")
	require.NoError(t, err)
	// no signature
	err = bc.AddBlock(context.Background(), b)
	require.Error(t, err)
	assert.True(t, lucerr.Is(err, lucerr.Validation))
	assert.Equal(t, uint64(0), bc.CurrentHeight())
}

func TestCreateBlockLimits(t *testing.T) {
	bc, _ := newTestChain(t)

	over := make(types.Transactions, 1001)
	for i := range over {
		over[i] = signedTx(t, addr(1), addr(2), 0, 0.002)
	}
	_, err := bc.CreateBlock(over, "node_001")
	assert.True(t, lucerr.Is(err, lucerr.Validation))

	_, err = bc.CreateBlock(nil, "")
	assert.True(t, lucerr.Is(err, lucerr.Validation))
}
