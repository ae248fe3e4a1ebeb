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

package types

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/params"
)

// Block is a primary-chain block produced by the slot leader.
type Block struct {
	Height       uint64       `bson:"height" json:"height"`
	PreviousHash common.Hash  `bson:"previousHash" json:"previousHash"`
	Timestamp    time.Time    `bson:"timestamp" json:"timestamp"`
	Transactions Transactions `bson:"transactions" json:"transactions"`
	MerkleRoot   common.Hash  `bson:"merkleRoot" json:"merkleRoot"`
	Producer     string       `bson:"producer" json:"producer"`
	Hash         common.Hash  `bson:"hash" json:"hash"`
	Signature    string       `bson:"signature" json:"signature"`
}

// BlockHeader carries the block identity fields for light consumers. Kept
// in sync with its block on every write.
type BlockHeader struct {
	Height       uint64      `bson:"height" json:"height"`
	PreviousHash common.Hash `bson:"previousHash" json:"previousHash"`
	Timestamp    time.Time   `bson:"timestamp" json:"timestamp"`
	MerkleRoot   common.Hash `bson:"merkleRoot" json:"merkleRoot"`
	Producer     string      `bson:"producer" json:"producer"`
	TxCount      int         `bson:"txCount" json:"txCount"`
	Hash         common.Hash `bson:"hash" json:"hash"`
}

// Header derives the light header of the block.
func (b *Block) Header() *BlockHeader {
	return &BlockHeader{
		Height:       b.Height,
		PreviousHash: b.PreviousHash,
		Timestamp:    b.Timestamp,
		MerkleRoot:   b.MerkleRoot,
		Producer:     b.Producer,
		TxCount:      len(b.Transactions),
		Hash:         b.Hash,
	}
}

// HashPreimage returns the exact byte sequence the block hash commits to:
// decimal height, 64-char previous hash, fixed-width UTC timestamp, 64-char
// merkle root, producer id and decimal transaction count, with no
// delimiters. Any change here is a chain fork.
func (b *Block) HashPreimage() []byte {
	buf := make([]byte, 0, 192)
	buf = strconv.AppendUint(buf, b.Height, 10)
	buf = append(buf, b.PreviousHash.Hex()...)
	buf = append(buf, b.Timestamp.UTC().Format(params.TimestampLayout)...)
	buf = append(buf, b.MerkleRoot.Hex()...)
	buf = append(buf, b.Producer...)
	buf = strconv.AppendInt(buf, int64(len(b.Transactions)), 10)
	return buf
}

// ComputeHash recomputes the block hash from the preimage fields. It does
// not modify the receiver.
func (b *Block) ComputeHash() common.Hash {
	return crypto.Blake3Hash(b.HashPreimage())
}

// SerializedSize returns the JSON-serialized size in bytes; blocks above
// params.MaxBlockSize are invalid.
func (b *Block) SerializedSize() int {
	raw, err := json.Marshal(b)
	if err != nil {
		return 0
	}
	return len(raw)
}

// Copy returns a deep copy of the block.
func (b *Block) Copy() *Block {
	cpy := *b
	cpy.Transactions = make(Transactions, len(b.Transactions))
	for i, tx := range b.Transactions {
		cpy.Transactions[i] = tx.Copy()
	}
	return &cpy
}
