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
	"strconv"
	"time"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/params"
)

// The signature scheme binds a record to its fields through two BLAKE3
// rounds:
//
//	inner    = BLAKE3(field1 || field2 || ... || fieldN)
//	expected = BLAKE3(signer || ":" || hex(inner))
//
// Verification is a pure function of the record fields; no key material or
// external state is consulted. The scheme is a stand-in for an asymmetric
// signature: swapping in Ed25519 only requires replacing this file while
// keeping FieldSignature's signature and the hex-encoded output form.

// FieldSignature computes the canonical signature of signer over the ordered
// fields, returned as 64 lowercase hex characters.
func FieldSignature(signer string, fields ...string) string {
	h := make([]byte, 0, 256)
	for _, f := range fields {
		h = append(h, f...)
	}
	inner := Blake3Hex(h)
	return Blake3Hex([]byte(signer + ":" + inner))
}

// TransactionSignature computes the signature a transaction must carry.
// Fields enter the preimage in wire order: id, from, to, decimal value,
// payload bytes, fixed-layout UTC timestamp.
func TransactionSignature(txID string, from, to common.Address, value uint64, data []byte, timestamp time.Time) string {
	return FieldSignature(from.Hex(),
		txID,
		from.Hex(),
		to.Hex(),
		strconv.FormatUint(value, 10),
		string(data),
		timestamp.UTC().Format(params.TimestampLayout),
	)
}

// VerifyTransactionSignature reports whether sig matches the transaction
// fields under the canonical scheme.
func VerifyTransactionSignature(sig, txID string, from, to common.Address, value uint64, data []byte, timestamp time.Time) bool {
	return sig != "" && sig == TransactionSignature(txID, from, to, value, data, timestamp)
}

// ComplianceSignature computes the signature a KYC-gated payout request
// must carry: the compliance desk signs the recipient and its KYC document
// hash.
func ComplianceSignature(recipientAddress, kycHash string) string {
	return FieldSignature(recipientAddress, recipientAddress, kycHash)
}

// VerifyComplianceSignature reports whether sig matches the recipient and
// KYC hash under the canonical scheme.
func VerifyComplianceSignature(sig, recipientAddress, kycHash string) bool {
	return sig != "" && sig == ComplianceSignature(recipientAddress, kycHash)
}

// TaskProofSignature computes the signature a task proof must carry. The
// pool id may be empty for solo nodes.
func TaskProofSignature(nodeID, poolID string, slot uint64, proofType string, value uint64, timestamp time.Time) string {
	return FieldSignature(nodeID,
		nodeID,
		poolID,
		strconv.FormatUint(slot, 10),
		proofType,
		strconv.FormatUint(value, 10),
		timestamp.UTC().Format(params.TimestampLayout),
	)
}

// VerifyTaskProofSignature reports whether sig matches the proof fields
// under the canonical scheme.
func VerifyTaskProofSignature(sig, nodeID, poolID string, slot uint64, proofType string, value uint64, timestamp time.Time) bool {
	return sig != "" && sig == TaskProofSignature(nodeID, poolID, slot, proofType, value, timestamp)
}
