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

package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/lucerr"
)

type recordingStore struct {
	proofs []*types.TaskProof
}

func (s *recordingStore) InsertTaskProof(_ context.Context, p *types.TaskProof) error {
	s.proofs = append(s.proofs, p)
	return nil
}

func TestAppendRecordsSignedProof(t *testing.T) {
	store := &recordingStore{}
	l := New(store)

	p := NewProof("node_001", "", 42, types.ProofRelayBandwidth, 1<<20)
	require.True(t, p.VerifySignature())
	require.NoError(t, l.Append(context.Background(), p))

	require.Len(t, store.proofs, 1)
	assert.Equal(t, "node_001", store.proofs[0].NodeID)
	assert.Equal(t, uint64(42), store.proofs[0].Slot)
}

func TestAppendRejectsBadProofs(t *testing.T) {
	store := &recordingStore{}
	l := New(store)
	ctx := context.Background()

	err := l.Append(ctx, nil)
	assert.True(t, lucerr.Is(err, lucerr.Validation))

	missing := NewProof("", "", 1, types.ProofUptimeBeacon, 120)
	err = l.Append(ctx, missing)
	assert.True(t, lucerr.Is(err, lucerr.Validation))

	unknown := NewProof("node_001", "", 1, types.ProofType("mystery"), 1)
	err = l.Append(ctx, unknown)
	assert.True(t, lucerr.Is(err, lucerr.Validation))

	forged := NewProof("node_001", "", 1, types.ProofUptimeBeacon, 120)
	forged.Value = 999999
	err = l.Append(ctx, forged)
	require.Error(t, err)
	assert.True(t, lucerr.Is(err, lucerr.Validation))
	assert.Contains(t, err.Error(), "signature verification failed")

	assert.Empty(t, store.proofs)
}

func TestAppendAllowsRepeatedTuples(t *testing.T) {
	store := &recordingStore{}
	l := New(store)
	ctx := context.Background()

	// Two bandwidth proofs for the same node and slot aggregate later; the
	// ledger accepts both.
	first := NewProof("node_001", "", 7, types.ProofRelayBandwidth, 100)
	second := NewProof("node_001", "", 7, types.ProofRelayBandwidth, 250)
	require.NoError(t, l.Append(ctx, first))
	require.NoError(t, l.Append(ctx, second))
	assert.Len(t, store.proofs, 2)
}

func TestAppendCreditsPoolWhenSet(t *testing.T) {
	store := &recordingStore{}
	l := New(store)

	p := NewProof("node_001", "pool_a", 9, types.ProofValidationSignature, 3)
	require.NoError(t, l.Append(context.Background(), p))
	assert.Equal(t, "pool_a", store.proofs[0].EntityID())

	solo := NewProof("node_002", "", 9, types.ProofValidationSignature, 1)
	assert.Equal(t, "node_002", solo.EntityID())
}
