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
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/luciddb"
	"github.com/lucid-rdp/go-lucid/metrics"
	"github.com/lucid-rdp/go-lucid/params"
)

var (
	mempoolSize     = metrics.NewGauge("mempool", "size", "Transactions currently pending")
	mempoolAdmitted = metrics.NewCounter("mempool", "admitted_total", "Transactions admitted")
	mempoolEvicted  = metrics.NewCounter("mempool", "evicted_total", "Transactions evicted under capacity pressure")
	mempoolExpired  = metrics.NewCounter("mempool", "expired_total", "Transactions dropped by the TTL sweep")
)

// PoolStore is the persistence surface of the mempool: duplicate tracking,
// balances over confirmed transactions, and the mempool mirror collection.
type PoolStore interface {
	TransactionSeen(ctx context.Context, id string) (bool, error)
	TransactionByID(ctx context.Context, id string) (*types.Transaction, error)
	Balance(ctx context.Context, addr common.Address) (int64, error)
	InsertMempoolTransaction(ctx context.Context, tx *types.Transaction) error
	SetMempoolStatus(ctx context.Context, id string, status types.TxStatus) error
	DeleteMempoolTransaction(ctx context.Context, id string) error
	PendingMempoolTransactions(ctx context.Context) ([]*types.Transaction, error)
}

// HeightReader reports the chain tip height, the basis for confirmation
// counts.
type HeightReader interface {
	CurrentHeight() uint64
}

// TxPoolConfig tunes the mempool.
type TxPoolConfig struct {
	Capacity      int           // pending slots before eviction, zero means params.MempoolCapacity
	TTL           time.Duration // pending lifetime, zero means params.MempoolTxTTL
	SweepInterval time.Duration // TTL sweep cadence, zero means one minute
}

func (c TxPoolConfig) sanitize() TxPoolConfig {
	if c.Capacity <= 0 {
		c.Capacity = params.MempoolCapacity
	}
	if c.TTL <= 0 {
		c.TTL = params.MempoolTxTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// TxPool holds pending transactions, orders them by fee for block producers
// and evicts under capacity pressure. State is mirrored to the store so a
// restart reloads the pending set.
type TxPool struct {
	cfg   TxPoolConfig
	store PoolStore
	chain HeightReader
	log   *logrus.Entry

	mu      sync.Mutex
	pending map[string]*types.Transaction
	byFrom  map[common.Address]mapset.Set[string]

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewTxPool builds the pool, reloads pending transactions from the store and
// starts the TTL sweep. Stop must be called to release the sweep goroutine.
func NewTxPool(ctx context.Context, cfg TxPoolConfig, store PoolStore, chain HeightReader) (*TxPool, error) {
	pool := &TxPool{
		cfg:     cfg.sanitize(),
		store:   store,
		chain:   chain,
		log:     logrus.WithField("component", "txpool"),
		pending: make(map[string]*types.Transaction),
		byFrom:  make(map[common.Address]mapset.Set[string]),
		quit:    make(chan struct{}),
	}
	reloaded, err := store.PendingMempoolTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reloading mempool: %w", err)
	}
	for _, tx := range reloaded {
		pool.insertLocked(tx)
	}
	if len(reloaded) > 0 {
		pool.log.WithField("count", len(reloaded)).Info("mempool reloaded")
	}
	mempoolSize.Set(float64(len(pool.pending)))

	pool.wg.Add(1)
	go pool.sweepLoop()
	return pool, nil
}

// Stop terminates the TTL sweep.
func (p *TxPool) Stop() {
	close(p.quit)
	p.wg.Wait()
}

// Size returns the number of pending transactions.
func (p *TxPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Get returns a copy of a pending transaction, or nil.
func (p *TxPool) Get(id string) *types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tx, ok := p.pending[id]; ok {
		return tx.Copy()
	}
	return nil
}

// TxIDsByAddress lists the pending transaction ids sent from one address.
func (p *TxPool) TxIDsByAddress(from common.Address) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.byFrom[from]
	if !ok {
		return nil
	}
	ids := set.ToSlice()
	sort.Strings(ids)
	return ids
}

// Add validates and admits one transaction. At capacity the strictly
// lowest-fee transaction is evicted (ties break to the earliest timestamp);
// an incoming transaction that would itself be the victim is rejected.
func (p *TxPool) Add(ctx context.Context, tx *types.Transaction) error {
	if res := ValidateTransaction(tx); !res.Valid {
		return lucerr.Newf(lucerr.Validation, "invalid transaction: %s", strings.Join(res.Errors, "; "))
	}

	p.mu.Lock()
	_, inPool := p.pending[tx.ID]
	p.mu.Unlock()
	if inPool {
		return lucerr.Newf(lucerr.DuplicateTransaction, "transaction %s already pending", tx.ID)
	}
	seen, err := p.store.TransactionSeen(ctx, tx.ID)
	if err != nil {
		return err
	}
	if seen {
		return lucerr.Newf(lucerr.DuplicateTransaction, "transaction %s already known", tx.ID)
	}

	if minFee := MinimumFee(tx); tx.Fee < minFee {
		return lucerr.Newf(lucerr.Validation, "fee %.6f below minimum %.6f", tx.Fee, minFee)
	}
	if tx.Value > 0 {
		balance, err := p.store.Balance(ctx, tx.From)
		if err != nil {
			return err
		}
		if float64(balance) < float64(tx.Value)+tx.Fee {
			return lucerr.Newf(lucerr.InsufficientBalance, "balance %d cannot cover value %d plus fee %.6f", balance, tx.Value, tx.Fee)
		}
	}

	p.mu.Lock()
	var victim *types.Transaction
	if len(p.pending) >= p.cfg.Capacity {
		victim = p.victimLocked(tx)
		if victim == tx {
			p.mu.Unlock()
			return lucerr.Newf(lucerr.Validation, "transaction underpriced: fee %.6f would be evicted immediately", tx.Fee)
		}
		p.removeLocked(victim.ID)
	}
	admitted := tx.Copy()
	admitted.Status = types.TxStatusPending
	p.insertLocked(admitted)
	size := len(p.pending)
	p.mu.Unlock()

	if victim != nil {
		if err := p.store.SetMempoolStatus(ctx, victim.ID, types.TxStatusEvicted); err != nil {
			p.log.WithError(err).WithField("id", victim.ID).Warn("persisting eviction failed")
		}
		mempoolEvicted.Inc()
		p.log.WithFields(logrus.Fields{"id": victim.ID, "fee": victim.Fee}).Info("transaction evicted")
	}
	if err := p.store.InsertMempoolTransaction(ctx, admitted); err != nil {
		p.mu.Lock()
		p.removeLocked(admitted.ID)
		p.mu.Unlock()
		if errors.Is(err, luciddb.ErrDuplicateKey) {
			return lucerr.Newf(lucerr.DuplicateTransaction, "transaction %s already known", tx.ID)
		}
		return err
	}
	mempoolAdmitted.Inc()
	mempoolSize.Set(float64(size))
	return nil
}

// PendingForBlock returns up to limit transactions ordered by descending fee
// and ascending timestamp, as copies safe to pack into a block.
func (p *TxPool) PendingForBlock(limit int) types.Transactions {
	p.mu.Lock()
	defer p.mu.Unlock()
	ordered := make(types.Transactions, 0, len(p.pending))
	for _, tx := range p.pending {
		ordered = append(ordered, tx)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Fee != ordered[j].Fee {
			return ordered[i].Fee > ordered[j].Fee
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}
	out := make(types.Transactions, len(ordered))
	for i, tx := range ordered {
		out[i] = tx.Copy()
	}
	return out
}

// OnBlockCommitted removes included transactions from the pool and its
// mirror. The block manager owns writing them to the confirmed collection,
// so a transaction is never in both at once.
func (p *TxPool) OnBlockCommitted(ctx context.Context, txs types.Transactions, blockHeight uint64) {
	p.mu.Lock()
	removed := 0
	for _, tx := range txs {
		if _, ok := p.pending[tx.ID]; ok {
			p.removeLocked(tx.ID)
			removed++
		}
	}
	size := len(p.pending)
	p.mu.Unlock()

	for _, tx := range txs {
		if err := p.store.DeleteMempoolTransaction(ctx, tx.ID); err != nil {
			p.log.WithError(err).WithField("id", tx.ID).Warn("clearing mempool mirror failed")
		}
	}
	mempoolSize.Set(float64(size))
	if removed > 0 {
		p.log.WithFields(logrus.Fields{"count": removed, "height": blockHeight}).Debug("mempool pruned after block")
	}
}

// Confirmations reports how deep a transaction is buried: tip height minus
// inclusion height plus one, and zero while unconfirmed.
func (p *TxPool) Confirmations(ctx context.Context, id string) (uint64, error) {
	p.mu.Lock()
	_, inPool := p.pending[id]
	p.mu.Unlock()
	if inPool {
		return 0, nil
	}
	tx, err := p.store.TransactionByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if tx.Status != types.TxStatusConfirmed || tx.BlockHeight == nil {
		return 0, nil
	}
	tip := p.chain.CurrentHeight()
	if tip < *tx.BlockHeight {
		return 0, nil
	}
	return tip - *tx.BlockHeight + 1, nil
}

// MinimumFee returns the fee floor of a transaction: the base fee plus the
// per-byte rate applied to the serialized size and again to the payload.
func MinimumFee(tx *types.Transaction) float64 {
	return params.BaseFee + float64(tx.SerializedSize())*params.FeePerByte + float64(len(tx.Data))*params.FeePerByte
}

// victimLocked picks the eviction victim among the pending set and the
// incoming transaction: strictly lowest fee, ties to the earliest timestamp.
func (p *TxPool) victimLocked(incoming *types.Transaction) *types.Transaction {
	victim := incoming
	for _, tx := range p.pending {
		if tx.Fee < victim.Fee || (tx.Fee == victim.Fee && tx.Timestamp.Before(victim.Timestamp)) {
			victim = tx
		}
	}
	return victim
}

func (p *TxPool) insertLocked(tx *types.Transaction) {
	p.pending[tx.ID] = tx
	set, ok := p.byFrom[tx.From]
	if !ok {
		set = mapset.NewSet[string]()
		p.byFrom[tx.From] = set
	}
	set.Add(tx.ID)
}

func (p *TxPool) removeLocked(id string) {
	tx, ok := p.pending[id]
	if !ok {
		return
	}
	delete(p.pending, id)
	if set, ok := p.byFrom[tx.From]; ok {
		set.Remove(id)
		if set.Cardinality() == 0 {
			delete(p.byFrom, tx.From)
		}
	}
}

// sweepLoop expires pending transactions older than the TTL.
func (p *TxPool) sweepLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.ExpireStale(context.Background())
		}
	}
}

// ExpireStale drops pending transactions older than the TTL and records them
// as expired. Returns how many were dropped.
func (p *TxPool) ExpireStale(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-p.cfg.TTL)

	p.mu.Lock()
	var stale []string
	for id, tx := range p.pending {
		if tx.Timestamp.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		p.removeLocked(id)
	}
	size := len(p.pending)
	p.mu.Unlock()

	for _, id := range stale {
		if err := p.store.SetMempoolStatus(ctx, id, types.TxStatusExpired); err != nil {
			p.log.WithError(err).WithField("id", id).Warn("persisting expiry failed")
		}
		mempoolExpired.Inc()
	}
	if len(stale) > 0 {
		mempoolSize.Set(float64(size))
		p.log.WithField("count", len(stale)).Info("expired stale transactions")
	}
	return len(stale)
}
