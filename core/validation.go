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

package core

import (
	"fmt"
	"time"

	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/params"
)

// ValidationResult collects the findings of a block or transaction check.
// Valid is true iff Errors is empty; warnings never invalidate.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *ValidationResult) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) finish() *ValidationResult {
	r.Valid = len(r.Errors) == 0
	return r
}

// ValidateTransaction runs the stateless transaction checks: field presence,
// size and timestamp bounds, and signature verification. Stateful admission
// rules (duplicates, balance, fee floor) live on the pool.
func ValidateTransaction(tx *types.Transaction) *ValidationResult {
	res := &ValidationResult{}
	if tx == nil {
		res.addError("transaction is nil")
		return res.finish()
	}
	if tx.ID == "" {
		res.addError("transaction id is missing")
	}
	if tx.Signature == "" {
		res.addError("signature is missing")
	}
	if size := tx.SerializedSize(); size > params.MaxTransactionSize {
		res.addError("serialized size %d exceeds %d", size, params.MaxTransactionSize)
	}
	if tx.IsGenesis() {
		return res.finish()
	}
	now := time.Now().UTC()
	if tx.Timestamp.After(now.Add(params.MaxClockSkew)) {
		res.addError("timestamp too far in the future")
	}
	if tx.Timestamp.Before(now.Add(-params.MaxTransactionAge)) {
		res.addError("timestamp older than %s", params.MaxTransactionAge)
	}
	if tx.Signature != "" && !tx.VerifySignature() {
		res.addError("signature verification failed")
	}
	return res.finish()
}
