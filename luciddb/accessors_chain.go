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

package luciddb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/core/types"
)

// BlockMetadata is the bookkeeping record written next to every block.
type BlockMetadata struct {
	Height    uint64      `bson:"height"`
	Hash      common.Hash `bson:"hash"`
	Status    string      `bson:"status"`
	SizeBytes int         `bson:"sizeBytes"`
	TxCount   int         `bson:"txCount"`
	CreatedAt time.Time   `bson:"createdAt"`
}

// InsertBlock stores a full block. A height or hash collision returns
// ErrDuplicateKey; concurrent producers treat that as losing the race.
func (s *Store) InsertBlock(ctx context.Context, b *types.Block) error {
	_, err := s.db.Collection(ColBlocks).InsertOne(ctx, b)
	return mapWriteErr(err, "inserting block")
}

// InsertHeader stores the light header of a block.
func (s *Store) InsertHeader(ctx context.Context, h *types.BlockHeader) error {
	_, err := s.db.Collection(ColBlockHeaders).InsertOne(ctx, h)
	return mapWriteErr(err, "inserting block header")
}

// InsertBlockMetadata stores the per-block bookkeeping record.
func (s *Store) InsertBlockMetadata(ctx context.Context, m *BlockMetadata) error {
	_, err := s.db.Collection(ColBlockMetadata).InsertOne(ctx, m)
	return mapWriteErr(err, "inserting block metadata")
}

// BlockByHeight fetches the block at the given height.
func (s *Store) BlockByHeight(ctx context.Context, height uint64) (*types.Block, error) {
	var b types.Block
	err := s.db.Collection(ColBlocks).FindOne(ctx, bson.D{{Key: "height", Value: height}}).Decode(&b)
	if err != nil {
		return nil, mapReadErr(err, "block by height")
	}
	return &b, nil
}

// BlockByHash fetches the block with the given hash.
func (s *Store) BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	var b types.Block
	err := s.db.Collection(ColBlocks).FindOne(ctx, bson.D{{Key: "hash", Value: hash.Hex()}}).Decode(&b)
	if err != nil {
		return nil, mapReadErr(err, "block by hash")
	}
	return &b, nil
}

// LatestBlock returns the block at the current chain head, or NotFound on a
// virgin store.
func (s *Store) LatestBlock(ctx context.Context) (*types.Block, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "height", Value: -1}})
	var b types.Block
	err := s.db.Collection(ColBlocks).FindOne(ctx, bson.D{}, opts).Decode(&b)
	if err != nil {
		return nil, mapReadErr(err, "latest block")
	}
	return &b, nil
}

// InsertTransactions stores confirmed transactions in one batch.
func (s *Store) InsertTransactions(ctx context.Context, txs []*types.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	docs := make([]interface{}, len(txs))
	for i, tx := range txs {
		docs[i] = tx
	}
	_, err := s.db.Collection(ColTransactions).InsertMany(ctx, docs)
	return mapWriteErr(err, "inserting transactions")
}

// TransactionByID fetches a confirmed transaction.
func (s *Store) TransactionByID(ctx context.Context, id string) (*types.Transaction, error) {
	var tx types.Transaction
	err := s.db.Collection(ColTransactions).FindOne(ctx, bson.D{{Key: "id", Value: id}}).Decode(&tx)
	if err != nil {
		return nil, mapReadErr(err, "transaction by id")
	}
	return &tx, nil
}

// TransactionSeen reports whether the id exists in either the confirmed
// collection or the mempool mirror (any status). Backs global duplicate
// rejection.
func (s *Store) TransactionSeen(ctx context.Context, id string) (bool, error) {
	filter := bson.D{{Key: "id", Value: id}}
	n, err := s.db.Collection(ColTransactions).CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, mapReadErr(err, "checking confirmed transactions")
	}
	if n > 0 {
		return true, nil
	}
	n, err = s.db.Collection(ColMempool).CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, mapReadErr(err, "checking mempool mirror")
	}
	return n > 0, nil
}

// Balance computes received minus sent over confirmed transactions via a
// server-side aggregation.
func (s *Store) Balance(ctx context.Context, addr common.Address) (int64, error) {
	received, err := s.sumTransactionValues(ctx, "toAddress", addr)
	if err != nil {
		return 0, err
	}
	sent, err := s.sumTransactionValues(ctx, "fromAddress", addr)
	if err != nil {
		return 0, err
	}
	return received - sent, nil
}

func (s *Store) sumTransactionValues(ctx context.Context, field string, addr common.Address) (int64, error) {
	pipe := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: field, Value: addr.Hex()},
			{Key: "status", Value: types.TxStatusConfirmed},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$value"}}},
		}}},
	}
	cur, err := s.db.Collection(ColTransactions).Aggregate(ctx, pipe)
	if err != nil {
		return 0, mapReadErr(err, "aggregating balance")
	}
	defer cur.Close(ctx)

	var rows []struct {
		Total int64 `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, mapReadErr(err, "decoding balance aggregation")
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

// InsertMempoolTransaction mirrors a newly admitted transaction. A
// duplicate id returns ErrDuplicateKey atomically.
func (s *Store) InsertMempoolTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := s.db.Collection(ColMempool).InsertOne(ctx, tx)
	return mapWriteErr(err, "inserting mempool transaction")
}

// SetMempoolStatus marks a mirrored transaction, leaving a tombstone for
// evicted and expired entries.
func (s *Store) SetMempoolStatus(ctx context.Context, id string, status types.TxStatus) error {
	_, err := s.db.Collection(ColMempool).UpdateOne(ctx,
		bson.D{{Key: "id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: status}}}},
	)
	return mapWriteErr(err, "updating mempool status")
}

// DeleteMempoolTransaction removes a mirrored transaction entirely; used on
// block commit so a transaction never exists in both the mempool mirror and
// the confirmed collection.
func (s *Store) DeleteMempoolTransaction(ctx context.Context, id string) error {
	_, err := s.db.Collection(ColMempool).DeleteOne(ctx, bson.D{{Key: "id", Value: id}})
	return mapWriteErr(err, "deleting mempool transaction")
}

// PendingMempoolTransactions loads the pending mirror, oldest first; the
// pool replays it after a restart.
func (s *Store) PendingMempoolTransactions(ctx context.Context) ([]*types.Transaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := s.db.Collection(ColMempool).Find(ctx, bson.D{{Key: "status", Value: types.TxStatusPending}}, opts)
	if err != nil {
		return nil, mapReadErr(err, "loading pending mempool")
	}
	defer cur.Close(ctx)

	var txs []*types.Transaction
	if err := cur.All(ctx, &txs); err != nil {
		return nil, mapReadErr(err, "decoding pending mempool")
	}
	return txs, nil
}

// TransactionCountsByStatus groups the confirmed collection by status.
func (s *Store) TransactionCountsByStatus(ctx context.Context) (map[string]int64, error) {
	return s.countByStatus(ctx, ColTransactions)
}

func (s *Store) countByStatus(ctx context.Context, col string) (map[string]int64, error) {
	pipe := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := s.db.Collection(col).Aggregate(ctx, pipe)
	if err != nil {
		return nil, mapReadErr(err, "grouping by status")
	}
	defer cur.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, mapReadErr(err, "decoding status groups")
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
