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

// Package ledger is the write path for operational work proofs. Node
// software appends signed proofs here; the consensus engine only ever reads
// the resulting collection.
package ledger

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/metrics"
)

var proofsAccepted = metrics.NewCounter("ledger", "proofs_total", "Task proofs accepted")

// Store is the persistence surface of the ledger. The collection is
// append-only; proofs are never updated or removed.
type Store interface {
	InsertTaskProof(ctx context.Context, p *types.TaskProof) error
}

// Ledger validates and records task proofs.
type Ledger struct {
	store Store
	log   *logrus.Entry
}

// New returns a ledger writing to store.
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		log:   logrus.WithField("component", "ledger"),
	}
}

// Append validates one proof and records it. Multiple proofs per
// (node, slot, type) are accepted; they aggregate in the value dimension
// when credits are computed.
func (l *Ledger) Append(ctx context.Context, p *types.TaskProof) error {
	if p == nil {
		return lucerr.New(lucerr.Validation, "proof is nil")
	}
	if p.NodeID == "" {
		return lucerr.New(lucerr.Validation, "proof node id is missing")
	}
	if !p.Type.Valid() {
		return lucerr.Newf(lucerr.Validation, "unknown proof type %q", p.Type)
	}
	if !p.VerifySignature() {
		return lucerr.Newf(lucerr.Validation, "proof signature verification failed for node %s slot %d", p.NodeID, p.Slot)
	}
	if err := l.store.InsertTaskProof(ctx, p); err != nil {
		return err
	}
	proofsAccepted.Inc()
	l.log.WithFields(logrus.Fields{
		"node":  p.NodeID,
		"slot":  p.Slot,
		"type":  p.Type,
		"value": p.Value,
	}).Debug("task proof recorded")
	return nil
}

// NewProof assembles a signed proof for the given work. Node software calls
// this with its own identity; the signature binds every field.
func NewProof(nodeID, poolID string, slot uint64, proofType types.ProofType, value uint64) *types.TaskProof {
	p := &types.TaskProof{
		NodeID:    nodeID,
		PoolID:    poolID,
		Slot:      slot,
		Type:      proofType,
		Value:     value,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
	p.Signature = crypto.TaskProofSignature(p.NodeID, p.PoolID, p.Slot, string(p.Type), p.Value, p.Timestamp)
	return p
}
