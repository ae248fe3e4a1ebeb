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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/lucerr"
)

func chunksOf(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func TestBuildRejectsEmptyInput(t *testing.T) {
	b := NewBuilder(t.TempDir())
	_, err := b.Build("sess-1", nil)
	require.Error(t, err)
	assert.True(t, lucerr.Is(err, lucerr.Validation))
}

func TestSingleLeafRootEqualsLeaf(t *testing.T) {
	b := NewBuilder(t.TempDir())
	root, err := b.Build("sess-1", chunksOf("only"))
	require.NoError(t, err)

	assert.Equal(t, crypto.Blake3Hash([]byte("only")), root.RootHash)
	assert.Equal(t, 0, root.TreeDepth)
	assert.Equal(t, 1, root.LeafCount)
	assert.Equal(t, 1, root.TotalNodes)
}

func TestThreeLeavesShape(t *testing.T) {
	b := NewBuilder(t.TempDir())
	root, err := b.Build("sess-1", chunksOf("a", "b", "c"))
	require.NoError(t, err)

	// Level sizes 3, 2, 1.
	assert.Equal(t, 2, root.TreeDepth)
	assert.Equal(t, 3, root.LeafCount)
	assert.Equal(t, 6, root.TotalNodes)

	// The odd tail is combined with a copy of itself.
	ha := crypto.Blake3Hash([]byte("a"))
	hb := crypto.Blake3Hash([]byte("b"))
	hc := crypto.Blake3Hash([]byte("c"))
	hab := crypto.Blake3Hash(ha.Bytes(), hb.Bytes())
	hcc := crypto.Blake3Hash(hc.Bytes(), hc.Bytes())
	want := crypto.Blake3Hash(hab.Bytes(), hcc.Bytes())
	assert.Equal(t, want, root.RootHash)
}

func TestRootFromLeavesMatchesBuild(t *testing.T) {
	b := NewBuilder(t.TempDir())
	chunks := chunksOf("a", "b", "c", "d", "e")
	root, err := b.Build("sess-1", chunks)
	require.NoError(t, err)

	fromLeaves, err := RootFromLeaves(HashLeaves(chunks))
	require.NoError(t, err)
	assert.Equal(t, root.RootHash, fromLeaves)

	_, err = RootFromLeaves(nil)
	assert.Error(t, err)
}

func TestRootDiffersWhenLeafOrderDiffers(t *testing.T) {
	a, _ := RootFromLeaves(HashLeaves(chunksOf("x", "y")))
	b, _ := RootFromLeaves(HashLeaves(chunksOf("y", "x")))
	assert.NotEqual(t, a, b)
}

func TestProofRoundTripAllIndices(t *testing.T) {
	b := NewBuilder(t.TempDir())
	for _, n := range []int{1, 2, 3, 4, 5, 8, 9} {
		names := make([]string, n)
		for i := range names {
			names[i] = string(rune('a' + i))
		}
		chunks := chunksOf(names...)
		root, err := b.Build("sess-n", chunks)
		require.NoError(t, err)

		for i := 0; i < n; i++ {
			proof, err := b.GenerateProof(root, i, chunks)
			require.NoError(t, err, "n=%d i=%d", n, i)
			assert.True(t, VerifyProof(proof), "n=%d i=%d", n, i)
			assert.Equal(t, root.RootHash, proof.RootHash)
		}
	}
}

func TestProofRejectsBadIndex(t *testing.T) {
	b := NewBuilder(t.TempDir())
	chunks := chunksOf("a", "b")
	root, err := b.Build("sess-1", chunks)
	require.NoError(t, err)

	_, err = b.GenerateProof(root, 2, chunks)
	assert.True(t, lucerr.Is(err, lucerr.Validation))
	_, err = b.GenerateProof(root, -1, chunks)
	assert.True(t, lucerr.Is(err, lucerr.Validation))
}

func TestProofDetectsChangedChunks(t *testing.T) {
	b := NewBuilder(t.TempDir())
	chunks := chunksOf("a", "b", "c")
	root, err := b.Build("sess-1", chunks)
	require.NoError(t, err)

	chunks[1] = []byte("tampered")
	_, err = b.GenerateProof(root, 1, chunks)
	assert.True(t, lucerr.Is(err, lucerr.Integrity))
}

func TestVerifyProofRejectsWrongRoot(t *testing.T) {
	b := NewBuilder(t.TempDir())
	chunks := chunksOf("a", "b", "c", "d")
	root, err := b.Build("sess-1", chunks)
	require.NoError(t, err)

	proof, err := b.GenerateProof(root, 2, chunks)
	require.NoError(t, err)

	proof.RootHash = common.HexToHash("ff")
	assert.False(t, VerifyProof(proof))
	assert.False(t, VerifyProof(nil))
}

func TestRootFilePersistedAndReloadable(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(dir)
	root, err := b.Build("sess-42", chunksOf("a", "b", "c"))
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "sess-42_merkle.json"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{"sessionId", "rootHash", "treeDepth", "leafCount", "totalNodes", "timestamp"} {
		assert.Contains(t, decoded, key)
	}

	loaded, err := b.LoadRoot("sess-42")
	require.NoError(t, err)
	assert.Equal(t, root.RootHash, loaded.RootHash)
	assert.Equal(t, root.LeafCount, loaded.LeafCount)

	_, err = b.LoadRoot("missing")
	assert.True(t, lucerr.Is(err, lucerr.NotFound))
}
