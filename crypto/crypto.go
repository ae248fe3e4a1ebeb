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

// Package crypto bundles the hash primitives of the platform: BLAKE3 for all
// content addressing (chunks, Merkle nodes, block hashes), Keccak256 for
// EVM ABI selectors, and the field-bound signature scheme used by chain
// transactions and task proofs.
package crypto

import (
	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"

	"github.com/lucid-rdp/go-lucid/common"
)

// Blake3 calculates and returns the BLAKE3-256 hash of the input data.
func Blake3(data ...[]byte) []byte {
	h := blake3.New(common.HashLength, nil)
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}

// Blake3Hash calculates and returns the BLAKE3-256 hash of the input data,
// converting it to an internal Hash.
func Blake3Hash(data ...[]byte) common.Hash {
	return common.BytesToHash(Blake3(data...))
}

// Blake3Hex returns the BLAKE3-256 hash of the input data as lowercase hex.
func Blake3Hex(data ...[]byte) string {
	return common.Bytes2Hex(Blake3(data...))
}

// Keccak256 calculates and returns the legacy Keccak256 hash of the input
// data. Only used to derive 4-byte EVM function selectors.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}
