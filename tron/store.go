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

package tron

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/luciddb"
)

// MongoStore persists payout documents in the shared document store. The
// payout collections have exactly one writer, this store.
type MongoStore struct {
	payouts *mongo.Collection
	batches *mongo.Collection
}

// NewMongoStore binds the payout collections of an open store.
func NewMongoStore(db *luciddb.Store) *MongoStore {
	return &MongoStore{
		payouts: db.Collection(luciddb.ColPayouts),
		batches: db.Collection(luciddb.ColPayoutBatches),
	}
}

func (s *MongoStore) InsertPayout(ctx context.Context, p *PayoutRequest) error {
	_, err := s.payouts.InsertOne(ctx, p)
	return mapWriteErr(err, "inserting payout")
}

func (s *MongoStore) UpdatePayouts(ctx context.Context, payoutIDs []string, u PayoutUpdate) error {
	_, err := s.payouts.UpdateMany(ctx,
		bson.D{{Key: "payoutId", Value: bson.D{{Key: "$in", Value: payoutIDs}}}},
		bson.D{{Key: "$set", Value: updateDoc(u)}},
	)
	return mapWriteErr(err, "updating payouts")
}

func (s *MongoStore) PayoutByID(ctx context.Context, payoutID string) (*PayoutRequest, error) {
	var p PayoutRequest
	err := s.payouts.FindOne(ctx, bson.D{{Key: "payoutId", Value: payoutID}}).Decode(&p)
	if err != nil {
		return nil, mapReadErr(err, fmt.Sprintf("payout %s", payoutID))
	}
	return &p, nil
}

func (s *MongoStore) PayoutsByRecipient(ctx context.Context, recipient Address) ([]*PayoutRequest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cur, err := s.payouts.Find(ctx, bson.D{{Key: "recipientAddress", Value: recipient}}, opts)
	if err != nil {
		return nil, mapReadErr(err, "payouts by recipient")
	}
	defer cur.Close(ctx)

	var out []*PayoutRequest
	if err := cur.All(ctx, &out); err != nil {
		return nil, mapReadErr(err, "decoding payouts")
	}
	return out, nil
}

// PendingPayouts returns every pending request, oldest first. Dispatch
// order is submission order.
func (s *MongoStore) PendingPayouts(ctx context.Context) ([]*PayoutRequest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cur, err := s.payouts.Find(ctx, bson.D{{Key: "status", Value: PayoutPending}}, opts)
	if err != nil {
		return nil, mapReadErr(err, "pending payouts")
	}
	defer cur.Close(ctx)

	var out []*PayoutRequest
	if err := cur.All(ctx, &out); err != nil {
		return nil, mapReadErr(err, "decoding pending payouts")
	}
	return out, nil
}

func (s *MongoStore) InsertBatch(ctx context.Context, b *PayoutBatch) error {
	_, err := s.batches.InsertOne(ctx, b)
	return mapWriteErr(err, "inserting payout batch")
}

func (s *MongoStore) UpdateBatch(ctx context.Context, batchID string, u PayoutUpdate) error {
	_, err := s.batches.UpdateOne(ctx,
		bson.D{{Key: "batchId", Value: batchID}},
		bson.D{{Key: "$set", Value: updateDoc(u)}},
	)
	return mapWriteErr(err, "updating payout batch")
}

func (s *MongoStore) BatchByID(ctx context.Context, batchID string) (*PayoutBatch, error) {
	var b PayoutBatch
	err := s.batches.FindOne(ctx, bson.D{{Key: "batchId", Value: batchID}}).Decode(&b)
	if err != nil {
		return nil, mapReadErr(err, fmt.Sprintf("payout batch %s", batchID))
	}
	return &b, nil
}

// updateDoc flattens a PayoutUpdate into a $set document, skipping the
// zero-valued fields.
func updateDoc(u PayoutUpdate) bson.D {
	d := bson.D{}
	if u.Status != "" {
		d = append(d, bson.E{Key: "status", Value: u.Status})
	}
	if u.BatchID != "" {
		d = append(d, bson.E{Key: "batchId", Value: u.BatchID})
	}
	if u.TxID != "" {
		d = append(d, bson.E{Key: "txid", Value: u.TxID})
	}
	if u.ErrorMessage != "" {
		d = append(d, bson.E{Key: "errorMessage", Value: u.ErrorMessage})
	}
	if u.ProcessedAt != nil {
		d = append(d, bson.E{Key: "processedAt", Value: u.ProcessedAt.UTC()})
	}
	return d
}

// Error mapping matches the shared store layer: unique violations surface
// as luciddb.ErrDuplicateKey, missing documents as the NotFound kind.
func mapWriteErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", op, luciddb.ErrDuplicateKey)
	}
	return lucerr.Wrap(lucerr.StoreUnavailable, err, op)
}

func mapReadErr(err error, op string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return lucerr.New(lucerr.NotFound, op)
	}
	return lucerr.Wrap(lucerr.StoreUnavailable, err, op)
}
