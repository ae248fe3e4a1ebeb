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

// Package types contains the data model shared across the chain, session
// and consensus components. Every struct here round-trips through both the
// document store and the JSON file mirrors without losing hash stability.
package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/params"
)

// TxStatus tracks a transaction through the mempool and into a block.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusEvicted   TxStatus = "evicted"
	TxStatusExpired   TxStatus = "expired"
	TxStatusFailed    TxStatus = "failed"
)

// Transaction is a primary-chain transaction: opaque payload bytes plus the
// routing and fee fields the mempool orders by.
type Transaction struct {
	ID        string         `bson:"id" json:"id"`
	From      common.Address `bson:"fromAddress" json:"fromAddress"`
	To        common.Address `bson:"toAddress" json:"toAddress"`
	Value     uint64         `bson:"value" json:"value"`
	Data      []byte         `bson:"data,omitempty" json:"data,omitempty"`
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
	Signature string         `bson:"signature" json:"signature"`
	Fee       float64        `bson:"fee" json:"fee"`

	// Set once the transaction is included in a block.
	BlockHeight *uint64  `bson:"blockHeight,omitempty" json:"blockHeight,omitempty"`
	Status      TxStatus `bson:"status" json:"status"`
}

// NewTransaction assembles a signed transaction. The timestamp is truncated
// to millisecond precision: the store holds milliseconds, and the signature
// preimage must survive a store round trip bit for bit.
func NewTransaction(from, to common.Address, value uint64, data []byte, fee float64) *Transaction {
	tx := &Transaction{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Value:     value,
		Data:      common.CopyBytes(data),
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Fee:       fee,
		Status:    TxStatusPending,
	}
	tx.Signature = crypto.TransactionSignature(tx.ID, tx.From, tx.To, tx.Value, tx.Data, tx.Timestamp)
	return tx
}

// VerifySignature reports whether the carried signature matches the
// transaction fields. Pure: no state beyond the receiver is consulted.
func (tx *Transaction) VerifySignature() bool {
	return crypto.VerifyTransactionSignature(tx.Signature, tx.ID, tx.From, tx.To, tx.Value, tx.Data, tx.Timestamp)
}

// IsGenesis reports whether this is the one genesis transaction: zero
// addresses and the fixed literal signature. Genesis skips signature and
// timestamp validation.
func (tx *Transaction) IsGenesis() bool {
	return tx.From.IsZero() && tx.To.IsZero() && tx.Signature == params.GenesisSignature
}

// SerializedSize returns the JSON-serialized size in bytes, the measure all
// size limits apply to.
func (tx *Transaction) SerializedSize() int {
	raw, err := json.Marshal(tx)
	if err != nil {
		return 0
	}
	return len(raw)
}

// LeafHash returns the Merkle leaf of the transaction inside a block tree:
// the BLAKE3 hash of the transaction id string.
func (tx *Transaction) LeafHash() common.Hash {
	return crypto.Blake3Hash([]byte(tx.ID))
}

// Copy returns a deep copy safe to mutate independently.
func (tx *Transaction) Copy() *Transaction {
	cpy := *tx
	cpy.Data = common.CopyBytes(tx.Data)
	if tx.BlockHeight != nil {
		h := *tx.BlockHeight
		cpy.BlockHeight = &h
	}
	return &cpy
}

// Transactions implements sort-friendly helpers over a transaction slice.
type Transactions []*Transaction

// LeafHashes returns the ordered Merkle leaves of the set.
func (txs Transactions) LeafHashes() []common.Hash {
	leaves := make([]common.Hash, len(txs))
	for i, tx := range txs {
		leaves[i] = tx.LeafHash()
	}
	return leaves
}
