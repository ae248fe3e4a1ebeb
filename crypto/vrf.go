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

package crypto

import (
	"bytes"
	"encoding/binary"

	"github.com/lucid-rdp/go-lucid/common"
)

// VRFScore derives the deterministic tie-break score of an entity for a
// slot. All nodes sharing the seed compute identical scores, so ranking by
// score needs no coordination. Higher scores win.
func VRFScore(seed []byte, slot uint64, entityID string) common.Hash {
	var slotBytes [8]byte
	binary.BigEndian.PutUint64(slotBytes[:], slot)
	return Blake3Hash(seed, slotBytes[:], []byte(entityID))
}

// VRFCompare orders two scores; it returns a positive value when a beats b,
// zero when equal.
func VRFCompare(a, b common.Hash) int {
	return bytes.Compare(a[:], b[:])
}

// VRFWinner picks the entity with the highest score for the slot from the
// candidate set. Ties on identical scores (only possible for duplicate
// entity ids) resolve to the lexicographically smallest id to stay
// deterministic. An empty candidate list returns "".
func VRFWinner(seed []byte, slot uint64, candidates []string) string {
	winner := ""
	var best common.Hash
	for _, id := range candidates {
		score := VRFScore(seed, slot, id)
		switch c := VRFCompare(score, best); {
		case winner == "" || c > 0:
			winner, best = id, score
		case c == 0 && id < winner:
			winner = id
		}
	}
	return winner
}
