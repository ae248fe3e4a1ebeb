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

package anchor

import (
	"context"
	"strings"

	"github.com/lucid-rdp/go-lucid/chainclient"
	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/lucerr"
)

// VerificationResult is the outcome of an anchoring check.
type VerificationResult struct {
	SessionID   string             `json:"sessionId"`
	Verified    bool               `json:"verified"`
	Status      types.AnchorStatus `json:"status"`
	BlockNumber *uint64            `json:"blockNumber,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

// VerifyAnchoring checks that a session's anchor is confirmed on chain and,
// when expectedMerkleRoot is non-empty, that the stored root matches it.
// If the chain cannot be reached the locally stored status decides.
func (s *Service) VerifyAnchoring(ctx context.Context, sessionID, expectedMerkleRoot string) (*VerificationResult, error) {
	a, err := s.store.AnchorBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	res := &VerificationResult{
		SessionID:   sessionID,
		Status:      a.Status,
		BlockNumber: a.BlockNumber,
	}
	rootOK := rootsEqual(a.MerkleRoot.Hex(), expectedMerkleRoot)

	st, err := s.chain.TransactionStatus(ctx, a.TransactionID)
	if err != nil {
		res.Verified = a.Status == types.AnchorStatusConfirmed && rootOK
		res.Reason = "primary chain unreachable, using stored status"
		if !rootOK {
			res.Reason = "merkle root mismatch"
		}
		return res, nil
	}
	switch st.Status {
	case chainclient.StatusSuccess:
		res.Status = types.AnchorStatusConfirmed
		if st.BlockNumber > 0 {
			n := st.BlockNumber
			res.BlockNumber = &n
		}
	case chainclient.StatusFailed:
		res.Status = types.AnchorStatusFailed
	default:
		res.Status = types.AnchorStatusPending
	}
	res.Verified = res.Status == types.AnchorStatusConfirmed && rootOK
	if !rootOK {
		res.Reason = "merkle root mismatch"
	} else if res.Status != types.AnchorStatusConfirmed {
		res.Reason = "transaction not confirmed"
	}
	return res, nil
}

// VerifyTransaction reports the chain status of one transaction.
func (s *Service) VerifyTransaction(ctx context.Context, txID string) (*chainclient.TxStatus, error) {
	if txID == "" {
		return nil, lucerr.New(lucerr.Validation, "txID is required")
	}
	return s.chain.TransactionStatus(ctx, txID)
}

// VerifyMerkleRoot compares a session's stored merkle root to an expected
// value, case-insensitively and ignoring a 0x prefix.
func (s *Service) VerifyMerkleRoot(ctx context.Context, sessionID, expectedRoot string) (bool, error) {
	m, err := s.store.ManifestBySession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return rootsEqual(m.MerkleRoot.Hex(), expectedRoot), nil
}

// rootsEqual treats an empty expectation as a match.
func rootsEqual(stored, expected string) bool {
	if expected == "" {
		return true
	}
	return strings.EqualFold(strings.TrimPrefix(stored, "0x"), strings.TrimPrefix(strings.ToLower(expected), "0x"))
}
