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
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names. Every collection has exactly one writer component;
// readers are unrestricted. Shard keys are noted where the deployment
// shards the collection.
const (
	// ColSessions holds SessionManifest records, written by the anchor
	// service. Shard key (ownerAddress, startedAt).
	ColSessions = "sessions"

	// ColChunks holds ChunkMetadata records, written by the session
	// orchestrator. Shard key (sessionId, sequenceIndex).
	ColChunks = "chunks"

	// ColAnchors holds SessionAnchor records, written by the anchor
	// service.
	ColAnchors = "session_anchorings"

	// ColPipelineStates holds PipelineState records, written by the
	// session orchestrator.
	ColPipelineStates = "pipeline_states"

	// ColBlocks holds full blocks, written by the block manager. Shard
	// key height.
	ColBlocks = "blocks"

	// ColBlockHeaders holds light headers, written by the block manager
	// in lockstep with ColBlocks.
	ColBlockHeaders = "block_headers"

	// ColTransactions holds confirmed transactions, written by the
	// transaction processor on block commit.
	ColTransactions = "transactions"

	// ColBlockMetadata holds per-block bookkeeping records, written by
	// the block manager.
	ColBlockMetadata = "block_metadata"

	// ColMempool durably mirrors the in-memory mempool, including
	// evicted and expired tombstones. Written by the transaction
	// processor.
	ColMempool = "mempool"

	// ColTaskProofs holds TaskProof records, written by the node work
	// ledger. Shard key (slot, nodeId).
	ColTaskProofs = "task_proofs"

	// ColWorkCredits holds the derived per-window rankings, written by
	// the consensus engine.
	ColWorkCredits = "work_credits"

	// ColLeaderSchedules holds one LeaderSchedule per slot, written by
	// the consensus engine.
	ColLeaderSchedules = "leader_schedules"

	// ColPayouts and ColPayoutBatches belong exclusively to the TRON
	// payout router. No consensus or chain component touches them.
	ColPayouts       = "payouts"
	ColPayoutBatches = "payout_batches"
)

func index(unique bool, keys ...string) mongo.IndexModel {
	d := make(bson.D, len(keys))
	for i, k := range keys {
		d[i] = bson.E{Key: k, Value: 1}
	}
	opts := options.Index()
	if unique {
		opts = opts.SetUnique(true)
	}
	return mongo.IndexModel{Keys: d, Options: opts}
}

// collectionIndexes declares the index set EnsureIndexes creates on
// startup. Creation is idempotent.
var collectionIndexes = map[string][]mongo.IndexModel{
	ColSessions: {
		index(true, "sessionId"),
		index(false, "ownerAddress", "startedAt"),
	},
	ColChunks: {
		index(true, "sessionId", "sequenceIndex"),
		index(false, "createdAt"),
	},
	ColAnchors: {
		index(true, "sessionId"),
		index(true, "anchoringId"),
		index(false, "status"),
		index(false, "transactionId"),
		index(false, "submittedAt"),
		index(false, "sessionId", "status"),
	},
	ColPipelineStates: {
		index(true, "sessionId"),
		index(false, "stage"),
	},
	ColBlocks: {
		index(true, "height"),
		index(true, "hash"),
		index(false, "timestamp"),
		index(false, "producer"),
		index(false, "previousHash"),
	},
	ColBlockHeaders: {
		index(true, "height"),
		index(true, "hash"),
	},
	ColTransactions: {
		index(true, "id"),
		index(false, "fromAddress"),
		index(false, "toAddress"),
		index(false, "timestamp"),
		index(false, "status"),
		index(false, "blockHeight"),
	},
	ColBlockMetadata: {
		index(true, "height"),
		index(false, "status"),
	},
	ColMempool: {
		index(true, "id"),
		index(false, "fromAddress"),
		index(false, "timestamp"),
		index(false, "status"),
		index(false, "fee"),
	},
	ColTaskProofs: {
		index(false, "slot", "nodeId"),
		index(false, "type"),
	},
	ColWorkCredits: {
		index(false, "windowStart", "windowEnd", "rank"),
		index(false, "entityId"),
	},
	ColLeaderSchedules: {
		index(true, "slot"),
		index(false, "primary"),
	},
	ColPayouts: {
		index(true, "payoutId"),
		index(false, "recipientAddress"),
		index(false, "status"),
		index(false, "createdAt"),
	},
	ColPayoutBatches: {
		index(true, "batchId"),
		index(false, "status"),
		index(false, "createdAt"),
	},
}
