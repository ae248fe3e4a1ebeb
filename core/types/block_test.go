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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-rdp/go-lucid/common"
)

func TestBlockHashPreimageExactLayout(t *testing.T) {
	b := &Block{
		Height:       5,
		PreviousHash: common.HexToHash("aa00000000000000000000000000000000000000000000000000000000000001"),
		Timestamp:    time.Date(2025, 3, 14, 9, 26, 53, 123000000, time.UTC),
		MerkleRoot:   common.HexToHash("bb00000000000000000000000000000000000000000000000000000000000002"),
		Producer:     "node_001",
		Transactions: Transactions{&Transaction{ID: "a"}, &Transaction{ID: "b"}},
	}

	want := "5" +
		"aa00000000000000000000000000000000000000000000000000000000000001" +
		"2025-03-14T09:26:53.123000000Z" +
		"bb00000000000000000000000000000000000000000000000000000000000002" +
		"node_001" +
		"2"
	assert.Equal(t, want, string(b.HashPreimage()))
}

func TestBlockHashPreimageIsZoneIndependent(t *testing.T) {
	instant := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	a := &Block{Height: 1, Timestamp: instant, Producer: "p"}
	b := &Block{Height: 1, Timestamp: instant.In(time.FixedZone("CET", 3600)), Producer: "p"}
	assert.Equal(t, a.ComputeHash(), b.ComputeHash())
}

func TestComputeHashChangesWithFields(t *testing.T) {
	base := &Block{
		Height:    9,
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Producer:  "node_001",
	}
	h := base.ComputeHash()

	mutated := base.Copy()
	mutated.Height = 10
	assert.NotEqual(t, h, mutated.ComputeHash())

	mutated = base.Copy()
	mutated.Producer = "node_002"
	assert.NotEqual(t, h, mutated.ComputeHash())

	mutated = base.Copy()
	mutated.Transactions = Transactions{&Transaction{ID: "x"}}
	assert.NotEqual(t, h, mutated.ComputeHash())
}

func TestBlockHashSurvivesJSONRoundTrip(t *testing.T) {
	b := &Block{
		Height:    3,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Producer:  "node_001",
	}
	b.Hash = b.ComputeHash()

	raw, err := json.Marshal(b)
	require.NoError(t, err)

	var back Block
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, b.Hash, back.ComputeHash())
}

func TestHeaderDerivation(t *testing.T) {
	b := &Block{
		Height:       7,
		PreviousHash: common.HexToHash("01"),
		Timestamp:    time.Date(2025, 5, 5, 5, 5, 5, 0, time.UTC),
		MerkleRoot:   common.HexToHash("02"),
		Producer:     "node_003",
		Transactions: Transactions{&Transaction{ID: "a"}},
	}
	b.Hash = b.ComputeHash()

	h := b.Header()
	assert.Equal(t, b.Height, h.Height)
	assert.Equal(t, b.PreviousHash, h.PreviousHash)
	assert.Equal(t, b.MerkleRoot, h.MerkleRoot)
	assert.Equal(t, b.Producer, h.Producer)
	assert.Equal(t, 1, h.TxCount)
	assert.Equal(t, b.Hash, h.Hash)
}

func TestBlockCopyIsDeep(t *testing.T) {
	b := &Block{Transactions: Transactions{&Transaction{ID: "a", Data: []byte{1}}}}
	cpy := b.Copy()
	cpy.Transactions[0].ID = "changed"
	cpy.Transactions[0].Data[0] = 9
	assert.Equal(t, "a", b.Transactions[0].ID)
	assert.Equal(t, byte(1), b.Transactions[0].Data[0])
}

func TestSerializedSizeGrowsWithPayload(t *testing.T) {
	small := &Block{Producer: "p"}
	big := &Block{Producer: "p", Transactions: Transactions{
		{ID: "a", Data: []byte(strings.Repeat("x", 4096))},
	}}
	assert.Greater(t, big.SerializedSize(), small.SerializedSize())
}
