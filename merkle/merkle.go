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

// Package merkle builds binary BLAKE3 Merkle trees over ordered leaves.
// Leaves are H(data); inner nodes are H(left || right); an odd node at any
// level is paired with a copy of itself. The same tree shape backs two leaf
// domains that must never mix: encrypted chunk bytes for sessions and
// transaction-id strings for blocks.
package merkle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/lucerr"
)

// Root is the persisted summary of one built tree.
type Root struct {
	SessionID  string      `json:"sessionId"`
	RootHash   common.Hash `json:"rootHash"`
	TreeDepth  int         `json:"treeDepth"`
	LeafCount  int         `json:"leafCount"`
	TotalNodes int         `json:"totalNodes"`
	Timestamp  time.Time   `json:"timestamp"`
}

// HashLeaves maps raw leaf data to leaf hashes.
func HashLeaves(data [][]byte) []common.Hash {
	leaves := make([]common.Hash, len(data))
	for i, d := range data {
		leaves[i] = crypto.Blake3Hash(d)
	}
	return leaves
}

// levels computes every tree level bottom-up, level 0 being the leaves.
func levels(leaves []common.Hash) [][]common.Hash {
	lvls := [][]common.Hash{leaves}
	cur := leaves
	for len(cur) > 1 {
		next := make([]common.Hash, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			right := cur[i] // odd tail pairs with itself
			if i+1 < len(cur) {
				right = cur[i+1]
			}
			next = append(next, crypto.Blake3Hash(cur[i].Bytes(), right.Bytes()))
		}
		lvls = append(lvls, next)
		cur = next
	}
	return lvls
}

// RootFromLeaves folds leaf hashes up to the root. A single leaf is its own
// root; an empty set is a validation error.
func RootFromLeaves(leaves []common.Hash) (common.Hash, error) {
	if len(leaves) == 0 {
		return common.Hash{}, lucerr.New(lucerr.Validation, "cannot build a merkle tree over zero leaves")
	}
	lvls := levels(leaves)
	return lvls[len(lvls)-1][0], nil
}

// Builder constructs trees over encrypted session chunks and persists the
// root summary under <dir>/<sessionId>_merkle.json.
type Builder struct {
	dir string
	log *log.Entry
}

// NewBuilder returns a builder writing root files below dir. The directory
// is created lazily on the first build.
func NewBuilder(dir string) *Builder {
	return &Builder{
		dir: dir,
		log: log.WithField("component", "merkle"),
	}
}

// Build hashes the encrypted chunks in index order, folds the tree and
// persists the root summary. Empty input is rejected.
func (b *Builder) Build(sessionID string, encryptedChunks [][]byte) (*Root, error) {
	if len(encryptedChunks) == 0 {
		return nil, lucerr.Newf(lucerr.Validation, "session %s has no chunks to build a tree over", sessionID)
	}
	return b.BuildFromLeaves(sessionID, HashLeaves(encryptedChunks))
}

// BuildFromLeaves is Build for callers that already hold the leaf hashes,
// sparing a second pass over the chunk bytes.
func (b *Builder) BuildFromLeaves(sessionID string, leaves []common.Hash) (*Root, error) {
	if len(leaves) == 0 {
		return nil, lucerr.Newf(lucerr.Validation, "session %s has no chunks to build a tree over", sessionID)
	}
	lvls := levels(leaves)

	total := 0
	for _, lvl := range lvls {
		total += len(lvl)
	}
	root := &Root{
		SessionID:  sessionID,
		RootHash:   lvls[len(lvls)-1][0],
		TreeDepth:  len(lvls) - 1,
		LeafCount:  len(leaves),
		TotalNodes: total,
		Timestamp:  time.Now().UTC(),
	}
	if err := b.persist(root); err != nil {
		return nil, err
	}
	b.log.WithFields(log.Fields{
		"session": sessionID,
		"root":    root.RootHash.Hex(),
		"leaves":  root.LeafCount,
		"depth":   root.TreeDepth,
	}).Info("built merkle tree")
	return root, nil
}

func (b *Builder) persist(root *Root) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("creating merkle dir: %w", err)
	}
	raw, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.rootPath(root.SessionID), raw, 0o644)
}

func (b *Builder) rootPath(sessionID string) string {
	return filepath.Join(b.dir, sessionID+"_merkle.json")
}

// LoadRoot reads a previously persisted root summary.
func (b *Builder) LoadRoot(sessionID string) (*Root, error) {
	raw, err := os.ReadFile(b.rootPath(sessionID))
	if os.IsNotExist(err) {
		return nil, lucerr.Newf(lucerr.NotFound, "no merkle root for session %s", sessionID)
	}
	if err != nil {
		return nil, err
	}
	var root Root
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("decoding merkle root file: %w", err)
	}
	return &root, nil
}
