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
	"time"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/params"
)

// NewGenesisBlock builds the height-zero block: a zero previous hash and one
// genesis transaction between zero addresses carrying the network payload.
// The timestamp is the fixed network launch instant, so every node derives
// the same genesis hash and peers can link block one against it.
func NewGenesisBlock() *types.Block {
	now := time.Unix(params.GenesisUnixSec, 0).UTC()
	height := uint64(0)
	tx := &types.Transaction{
		ID:          "genesis",
		From:        common.Address{},
		To:          common.Address{},
		Value:       0,
		Data:        []byte(params.GenesisPayload),
		Timestamp:   now,
		Signature:   params.GenesisSignature,
		Status:      types.TxStatusConfirmed,
		BlockHeight: &height,
	}
	b := &types.Block{
		Height:       0,
		PreviousHash: common.Hash{},
		Timestamp:    now,
		Transactions: types.Transactions{tx},
		MerkleRoot:   txRoot(types.Transactions{tx}),
		Producer:     params.GenesisProducer,
		Signature:    params.GenesisSignature,
	}
	b.Hash = b.ComputeHash()
	return b
}
