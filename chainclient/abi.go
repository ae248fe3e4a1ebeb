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

package chainclient

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/crypto"
)

// Contract method and event signatures of the LucidAnchors and LucidChunkStore
// contracts. Session identifiers travel on chain as their BLAKE3 digest so the
// calldata stays fixed-width.
const (
	registerSessionSig    = "registerSession(bytes32,bytes32,uint256,address,bytes32,uint256)"
	storeChunkMetadataSig = "storeChunkMetadata(bytes32,uint256,bytes32,uint256)"
	sessionRegisteredSig  = "SessionRegistered(bytes32,address,bytes32,uint256)"
)

// selector returns the 4-byte EVM function selector for a canonical signature.
func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// eventTopic returns the 32-byte topic hash for an event signature.
func eventTopic(sig string) common.Hash {
	return common.BytesToHash(crypto.Keccak256([]byte(sig)))
}

// sessionDigest maps a session identifier string to its on-chain bytes32 form.
func sessionDigest(sessionID string) common.Hash {
	return crypto.Blake3Hash([]byte(sessionID))
}

// packBytes32 appends a bytes32 word.
func packBytes32(buf []byte, h common.Hash) []byte {
	return append(buf, h.Bytes()...)
}

// packAddress appends an address left-padded to a 32-byte word.
func packAddress(buf []byte, a common.Address) []byte {
	var word [32]byte
	copy(word[12:], a.Bytes())
	return append(buf, word[:]...)
}

// packUint64 appends an unsigned integer as a big-endian uint256 word.
func packUint64(buf []byte, v uint64) []byte {
	var word [32]byte
	binary.BigEndian.PutUint64(word[24:], v)
	return append(buf, word[:]...)
}

// registerSessionData builds the calldata for registerSession. The parameter
// order is part of the contract ABI and must not change.
func registerSessionData(sessionID string, manifestHash common.Hash, startedAtUnix uint64, owner common.Address, merkleRoot common.Hash, chunkCount uint64) []byte {
	data := make([]byte, 0, 4+6*32)
	data = append(data, selector(registerSessionSig)...)
	data = packBytes32(data, sessionDigest(sessionID))
	data = packBytes32(data, manifestHash)
	data = packUint64(data, startedAtUnix)
	data = packAddress(data, owner)
	data = packBytes32(data, merkleRoot)
	data = packUint64(data, chunkCount)
	return data
}

// storeChunkMetadataData builds the calldata for storeChunkMetadata.
func storeChunkMetadataData(sessionID string, chunkIdx uint64, ciphertextHash common.Hash, sizeBytes uint64) []byte {
	data := make([]byte, 0, 4+4*32)
	data = append(data, selector(storeChunkMetadataSig)...)
	data = packBytes32(data, sessionDigest(sessionID))
	data = packUint64(data, chunkIdx)
	data = packBytes32(data, ciphertextHash)
	data = packUint64(data, sizeBytes)
	return data
}

// hexQuantity formats an integer as an EVM JSON-RPC quantity ("0x0", no
// leading zeroes).
func hexQuantity(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

// parseQuantity decodes an EVM JSON-RPC quantity string.
func parseQuantity(s string) (uint64, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, fmt.Errorf("quantity %q lacks 0x prefix", s)
	}
	v, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("quantity %q: %w", s, err)
	}
	return v, nil
}

// hexData formats calldata as a 0x-prefixed hex string.
func hexData(b []byte) string {
	return "0x" + common.Bytes2Hex(b)
}
