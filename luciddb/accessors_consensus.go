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

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lucid-rdp/go-lucid/core/types"
)

// InsertTaskProof appends one work proof. The ledger validates signatures
// before calling; the store stays append-only.
func (s *Store) InsertTaskProof(ctx context.Context, p *types.TaskProof) error {
	_, err := s.db.Collection(ColTaskProofs).InsertOne(ctx, p)
	return mapWriteErr(err, "inserting task proof")
}

// ProofsInWindow returns every proof with slot in [fromSlot, toSlot],
// ordered by slot.
func (s *Store) ProofsInWindow(ctx context.Context, fromSlot, toSlot uint64) ([]*types.TaskProof, error) {
	filter := bson.D{{Key: "slot", Value: bson.D{
		{Key: "$gte", Value: fromSlot},
		{Key: "$lte", Value: toSlot},
	}}}
	opts := options.Find().SetSort(bson.D{{Key: "slot", Value: 1}})
	cur, err := s.db.Collection(ColTaskProofs).Find(ctx, filter, opts)
	if err != nil {
		return nil, mapReadErr(err, "proofs in window")
	}
	defer cur.Close(ctx)

	var proofs []*types.TaskProof
	if err := cur.All(ctx, &proofs); err != nil {
		return nil, mapReadErr(err, "decoding task proofs")
	}
	return proofs, nil
}

// ReplaceWorkCredits swaps the derived ranking for a window: stale rows of
// the same window are dropped before the fresh top-k lands.
func (s *Store) ReplaceWorkCredits(ctx context.Context, windowStart, windowEnd uint64, credits []*types.WorkCredit) error {
	col := s.db.Collection(ColWorkCredits)
	_, err := col.DeleteMany(ctx, bson.D{
		{Key: "windowStart", Value: windowStart},
		{Key: "windowEnd", Value: windowEnd},
	})
	if err != nil {
		return mapWriteErr(err, "clearing stale work credits")
	}
	if len(credits) == 0 {
		return nil
	}
	docs := make([]interface{}, len(credits))
	for i, c := range credits {
		docs[i] = c
	}
	_, err = col.InsertMany(ctx, docs)
	return mapWriteErr(err, "inserting work credits")
}

// WorkCreditsForWindow returns the persisted ranking of a window ordered by
// rank.
func (s *Store) WorkCreditsForWindow(ctx context.Context, windowStart, windowEnd uint64) ([]*types.WorkCredit, error) {
	filter := bson.D{
		{Key: "windowStart", Value: windowStart},
		{Key: "windowEnd", Value: windowEnd},
	}
	opts := options.Find().SetSort(bson.D{{Key: "rank", Value: 1}})
	cur, err := s.db.Collection(ColWorkCredits).Find(ctx, filter, opts)
	if err != nil {
		return nil, mapReadErr(err, "work credits for window")
	}
	defer cur.Close(ctx)

	var credits []*types.WorkCredit
	if err := cur.All(ctx, &credits); err != nil {
		return nil, mapReadErr(err, "decoding work credits")
	}
	return credits, nil
}

// InsertLeaderSchedule persists a slot's schedule. The unique slot index
// guarantees single-writer semantics; a duplicate means the slot was
// already decided.
func (s *Store) InsertLeaderSchedule(ctx context.Context, sched *types.LeaderSchedule) error {
	_, err := s.db.Collection(ColLeaderSchedules).InsertOne(ctx, sched)
	return mapWriteErr(err, "inserting leader schedule")
}

// LeaderScheduleBySlot fetches the schedule decided for a slot.
func (s *Store) LeaderScheduleBySlot(ctx context.Context, slot uint64) (*types.LeaderSchedule, error) {
	var sched types.LeaderSchedule
	err := s.db.Collection(ColLeaderSchedules).FindOne(ctx, bson.D{{Key: "slot", Value: slot}}).Decode(&sched)
	if err != nil {
		return nil, mapReadErr(err, "leader schedule by slot")
	}
	return &sched, nil
}

// SchedulesInRange returns schedules with slot in [fromSlot, toSlot]
// ordered by slot; the cooldown view derives from it.
func (s *Store) SchedulesInRange(ctx context.Context, fromSlot, toSlot uint64) ([]*types.LeaderSchedule, error) {
	filter := bson.D{{Key: "slot", Value: bson.D{
		{Key: "$gte", Value: fromSlot},
		{Key: "$lte", Value: toSlot},
	}}}
	opts := options.Find().SetSort(bson.D{{Key: "slot", Value: 1}})
	cur, err := s.db.Collection(ColLeaderSchedules).Find(ctx, filter, opts)
	if err != nil {
		return nil, mapReadErr(err, "schedules in range")
	}
	defer cur.Close(ctx)

	var scheds []*types.LeaderSchedule
	if err := cur.All(ctx, &scheds); err != nil {
		return nil, mapReadErr(err, "decoding leader schedules")
	}
	return scheds, nil
}
