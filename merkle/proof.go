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

package merkle

import (
	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/lucerr"
)

// Proof is an inclusion proof for one leaf. ProofPath holds the sibling
// hash at every level from the leaf up.
type Proof struct {
	LeafHash  common.Hash   `json:"leafHash"`
	ProofPath []common.Hash `json:"proofPath"`
	LeafIndex int           `json:"leafIndex"`
	RootHash  common.Hash   `json:"rootHash"`
}

// GenerateProof rebuilds the tree over the encrypted chunks and collects
// the sibling path for the chunk at index.
func (b *Builder) GenerateProof(root *Root, index int, encryptedChunks [][]byte) (*Proof, error) {
	if len(encryptedChunks) == 0 {
		return nil, lucerr.New(lucerr.Validation, "cannot prove membership in an empty tree")
	}
	if index < 0 || index >= len(encryptedChunks) {
		return nil, lucerr.Newf(lucerr.Validation, "leaf index %d out of range [0,%d)", index, len(encryptedChunks))
	}

	leaves := HashLeaves(encryptedChunks)
	lvls := levels(leaves)
	if root != nil && root.RootHash != lvls[len(lvls)-1][0] {
		return nil, lucerr.Newf(lucerr.Integrity, "chunks no longer match persisted root for session %s", root.SessionID)
	}

	path := make([]common.Hash, 0, len(lvls)-1)
	idx := index
	for _, lvl := range lvls[:len(lvls)-1] {
		sib := idx ^ 1
		if sib >= len(lvl) {
			sib = idx // odd tail duplicates itself
		}
		path = append(path, lvl[sib])
		idx /= 2
	}

	return &Proof{
		LeafHash:  leaves[index],
		ProofPath: path,
		LeafIndex: index,
		RootHash:  lvls[len(lvls)-1][0],
	}, nil
}

// VerifyProof folds the proof path from the leaf and compares against the
// claimed root. Pure: no builder state or persisted roots are consulted.
func VerifyProof(p *Proof) bool {
	if p == nil || p.LeafIndex < 0 {
		return false
	}
	cur := p.LeafHash
	idx := p.LeafIndex
	for _, sib := range p.ProofPath {
		if idx%2 == 0 {
			cur = crypto.Blake3Hash(cur.Bytes(), sib.Bytes())
		} else {
			cur = crypto.Blake3Hash(sib.Bytes(), cur.Bytes())
		}
		idx /= 2
	}
	return cur == p.RootHash
}
