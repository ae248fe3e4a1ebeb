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

// Package core implements the primary chain: block creation and validation,
// the chain state with its block caches, and the fee-ordered mempool feeding
// block producers.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/luciddb"
	"github.com/lucid-rdp/go-lucid/merkle"
	"github.com/lucid-rdp/go-lucid/metrics"
	"github.com/lucid-rdp/go-lucid/params"
)

// blockCacheSize bounds the in-memory block cache.
const blockCacheSize = 100

var (
	blocksAdded        = metrics.NewCounter("chain", "blocks_added_total", "Blocks appended to the chain")
	validationFailures = metrics.NewCounter("chain", "block_validation_failures_total", "Blocks rejected by validation")
)

// ChainStore is the persistence surface of the block manager.
type ChainStore interface {
	InsertBlock(ctx context.Context, b *types.Block) error
	InsertHeader(ctx context.Context, h *types.BlockHeader) error
	InsertBlockMetadata(ctx context.Context, m *luciddb.BlockMetadata) error
	InsertTransactions(ctx context.Context, txs []*types.Transaction) error
	BlockByHeight(ctx context.Context, height uint64) (*types.Block, error)
	BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error)
	LatestBlock(ctx context.Context) (*types.Block, error)
}

// Config tunes the block manager.
type Config struct {
	StoragePath string // directory for the JSON block mirror
}

// BlockChain creates, validates and stores blocks and serves them from an
// ARC cache backed by the store.
type BlockChain struct {
	store ChainStore
	dir   string
	log   *logrus.Entry

	mu            sync.RWMutex
	currentHeight uint64
	latestHash    common.Hash
	genesisHash   common.Hash
	heightToHash  map[uint64]common.Hash

	cache *lru.ARCCache // block hash -> *types.Block
}

// NewBlockChain opens the chain, creating the genesis block on first start.
func NewBlockChain(ctx context.Context, store ChainStore, cfg Config) (*BlockChain, error) {
	if cfg.StoragePath == "" {
		return nil, lucerr.New(lucerr.Validation, "storage path is required")
	}
	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return nil, lucerr.Wrap(lucerr.StoreUnavailable, err, "creating block storage directory")
	}
	cache, err := lru.NewARC(blockCacheSize)
	if err != nil {
		return nil, err
	}
	bc := &BlockChain{
		store:        store,
		dir:          cfg.StoragePath,
		log:          logrus.WithField("component", "blockchain"),
		heightToHash: make(map[uint64]common.Hash),
		cache:        cache,
	}

	latest, err := store.LatestBlock(ctx)
	switch {
	case lucerr.Is(err, lucerr.NotFound):
		genesis := NewGenesisBlock()
		if err := bc.AddBlock(ctx, genesis); err != nil {
			return nil, fmt.Errorf("creating genesis block: %w", err)
		}
		bc.log.WithField("hash", genesis.Hash).Info("genesis block created")
	case err != nil:
		return nil, fmt.Errorf("loading chain tip: %w", err)
	default:
		bc.currentHeight = latest.Height
		bc.latestHash = latest.Hash
		bc.heightToHash[latest.Height] = latest.Hash
		bc.cache.Add(latest.Hash, latest)
		genesis, err := store.BlockByHeight(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("loading genesis block: %w", err)
		}
		bc.genesisHash = genesis.Hash
		bc.log.WithFields(logrus.Fields{
			"height": latest.Height,
			"hash":   latest.Hash,
		}).Info("chain loaded")
	}
	return bc, nil
}

// CurrentHeight returns the height of the chain tip.
func (bc *BlockChain) CurrentHeight() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.currentHeight
}

// LatestHash returns the hash of the chain tip.
func (bc *BlockChain) LatestHash() common.Hash {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.latestHash
}

// GenesisHash returns the hash of the height-zero block.
func (bc *BlockChain) GenesisHash() common.Hash {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.genesisHash
}

// txRoot computes the transaction merkle root of a block. A block with no
// transactions commits to the zero hash.
func txRoot(txs types.Transactions) common.Hash {
	if len(txs) == 0 {
		return common.Hash{}
	}
	root, err := merkle.RootFromLeaves(txs.LeafHashes())
	if err != nil {
		return common.Hash{}
	}
	return root
}

// CreateBlock assembles the next block over the given transactions. The
// signature is left empty; the producer signs after assembly. The block is
// not persisted until AddBlock.
func (bc *BlockChain) CreateBlock(txs types.Transactions, producer string) (*types.Block, error) {
	if len(txs) > params.MaxBlockTransactions {
		return nil, lucerr.Newf(lucerr.Validation, "%d transactions exceed the %d per-block limit", len(txs), params.MaxBlockTransactions)
	}
	if producer == "" {
		return nil, lucerr.New(lucerr.Validation, "producer is required")
	}
	bc.mu.RLock()
	height := bc.currentHeight + 1
	prev := bc.latestHash
	bc.mu.RUnlock()

	b := &types.Block{
		Height:       height,
		PreviousHash: prev,
		Timestamp:    time.Now().UTC().Truncate(time.Millisecond),
		Transactions: txs,
		MerkleRoot:   txRoot(txs),
		Producer:     producer,
	}
	b.Hash = b.ComputeHash()
	return b, nil
}

// ValidateBlock runs the full block check ordering and never short-circuits:
// all findings are reported together.
func (bc *BlockChain) ValidateBlock(ctx context.Context, b *types.Block) *ValidationResult {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.validateLocked(ctx, b)
}

func (bc *BlockChain) validateLocked(ctx context.Context, b *types.Block) *ValidationResult {
	res := &ValidationResult{}
	if b == nil {
		res.addError("block is nil")
		return res.finish()
	}
	if b.Hash.IsZero() {
		res.addError("block hash is missing")
	}
	if b.Signature == "" {
		res.addError("signature is missing")
	}
	if b.Height == 0 {
		if !b.PreviousHash.IsZero() {
			res.addError("genesis block must have a zero previous hash")
		}
	} else {
		prev := bc.blockByHeightLocked(ctx, b.Height-1)
		if prev == nil {
			res.addError("previous block at height %d not found", b.Height-1)
		} else if prev.Hash != b.PreviousHash {
			res.addError("previous hash mismatch: chain has %s", prev.Hash)
		}
	}
	if len(b.Transactions) > params.MaxBlockTransactions {
		res.addError("%d transactions exceed the %d per-block limit", len(b.Transactions), params.MaxBlockTransactions)
	}
	for i, tx := range b.Transactions {
		txRes := ValidateTransaction(tx)
		for _, msg := range txRes.Errors {
			res.addError("Transaction %d: %s", i, msg)
		}
	}

	// The recomputed root also feeds the hash check, so a tampered
	// transaction set surfaces as both mismatches.
	recomputedRoot := txRoot(b.Transactions)
	if recomputedRoot != b.MerkleRoot {
		res.addError("Merkle root mismatch")
	}
	shadow := *b
	shadow.MerkleRoot = recomputedRoot
	if shadow.ComputeHash() != b.Hash {
		res.addError("Block hash mismatch")
	}
	if b.Timestamp.After(time.Now().UTC().Add(params.MaxClockSkew)) {
		res.addError("timestamp too far in the future")
	}
	if size := b.SerializedSize(); size > params.MaxBlockSize {
		res.addError("serialized size %d exceeds %d", size, params.MaxBlockSize)
	}
	if len(b.Transactions) == 0 && b.Height > 0 {
		res.addWarning("block carries no transactions")
	}
	return res.finish()
}

// AddBlock validates and appends a block. Losing a height race to another
// producer is a no-op; every other failure is returned. Each accepted block
// is persisted to the store, mirrored to disk and cached.
func (bc *BlockChain) AddBlock(ctx context.Context, b *types.Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if res := bc.validateLocked(ctx, b); !res.Valid {
		validationFailures.Inc()
		return lucerr.Newf(lucerr.Validation, "invalid block %d: %s", b.Height, strings.Join(res.Errors, "; "))
	}

	stored := b.Copy()
	for _, tx := range stored.Transactions {
		tx.Status = types.TxStatusConfirmed
		h := stored.Height
		tx.BlockHeight = &h
	}

	if err := bc.store.InsertBlock(ctx, stored); err != nil {
		if errors.Is(err, luciddb.ErrDuplicateKey) {
			bc.log.WithField("height", stored.Height).Warn("block height already taken, dropping ours")
			return nil
		}
		return fmt.Errorf("storing block %d: %w", stored.Height, err)
	}
	if err := bc.store.InsertHeader(ctx, stored.Header()); err != nil {
		return fmt.Errorf("storing header %d: %w", stored.Height, err)
	}
	if len(stored.Transactions) > 0 {
		if err := bc.store.InsertTransactions(ctx, stored.Transactions); err != nil {
			return fmt.Errorf("storing block %d transactions: %w", stored.Height, err)
		}
	}
	meta := &luciddb.BlockMetadata{
		Height:    stored.Height,
		Hash:      stored.Hash,
		Status:    "CONFIRMED",
		SizeBytes: stored.SerializedSize(),
		TxCount:   len(stored.Transactions),
		CreatedAt: time.Now().UTC(),
	}
	if err := bc.store.InsertBlockMetadata(ctx, meta); err != nil {
		return fmt.Errorf("storing block %d metadata: %w", stored.Height, err)
	}

	// The JSON mirror is an operator convenience; its failure must not
	// unwind a block the store already accepted.
	if err := bc.writeMirror(stored); err != nil {
		bc.log.WithError(err).WithField("height", stored.Height).Warn("block mirror write failed")
	}

	bc.cache.Add(stored.Hash, stored)
	bc.heightToHash[stored.Height] = stored.Hash
	bc.currentHeight = stored.Height
	bc.latestHash = stored.Hash
	if stored.Height == 0 {
		bc.genesisHash = stored.Hash
	}
	blocksAdded.Inc()
	bc.log.WithFields(logrus.Fields{
		"height": stored.Height,
		"hash":   stored.Hash,
		"txs":    len(stored.Transactions),
	}).Info("block added")
	return nil
}

// GetBlockByHash serves a block from the cache or the store.
func (bc *BlockChain) GetBlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	if cached, ok := bc.cache.Get(hash); ok {
		return cached.(*types.Block), nil
	}
	b, err := bc.store.BlockByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	bc.cache.Add(b.Hash, b)
	return b, nil
}

// GetBlockByHeight serves a block by height via the height index.
func (bc *BlockChain) GetBlockByHeight(ctx context.Context, height uint64) (*types.Block, error) {
	bc.mu.RLock()
	hash, ok := bc.heightToHash[height]
	bc.mu.RUnlock()
	if ok {
		if cached, found := bc.cache.Get(hash); found {
			return cached.(*types.Block), nil
		}
	}
	b, err := bc.store.BlockByHeight(ctx, height)
	if err != nil {
		return nil, err
	}
	bc.cache.Add(b.Hash, b)
	bc.mu.Lock()
	bc.heightToHash[b.Height] = b.Hash
	bc.mu.Unlock()
	return b, nil
}

// blockByHeightLocked resolves a block for validation with bc.mu held.
func (bc *BlockChain) blockByHeightLocked(ctx context.Context, height uint64) *types.Block {
	if hash, ok := bc.heightToHash[height]; ok {
		if cached, found := bc.cache.Get(hash); found {
			return cached.(*types.Block)
		}
	}
	b, err := bc.store.BlockByHeight(ctx, height)
	if err != nil {
		return nil
	}
	bc.cache.Add(b.Hash, b)
	return b
}

// writeMirror writes the block's JSON mirror atomically.
func (bc *BlockChain) writeMirror(b *types.Block) error {
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(bc.dir, fmt.Sprintf(params.BlockFilePattern, b.Height))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
