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

/*
Package lucerr provides the standardised error taxonomy shared by every
component. Each error carries a Kind from a closed set; kinds map to the
stable LUCID_ERR_* codes and HTTP statuses any outer shell must emit.

Errors interoperate with the standard errors package:

	err := lucerr.Wrap(lucerr.Integrity, cause, "chunk hash mismatch")
	lucerr.Is(err, lucerr.Integrity) // true
	errors.Is(err, cause)            // true
*/
package lucerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into the platform taxonomy.
type Kind int

const (
	Unknown Kind = iota

	// Validation covers structural or semantic invariant violations: bad
	// address, size limit, stale timestamp, malformed fields.
	Validation

	// Integrity covers checksum, tag and Merkle verification failures.
	Integrity

	// GasLimitExceeded marks a primary-chain gas estimate above the
	// configured circuit breaker; the call was never submitted.
	GasLimitExceeded

	// KycRejected marks a kyc_gated payout request lacking or failing its
	// compliance material.
	KycRejected

	// InsufficientEnergy marks TRON account resources too low for a batch.
	InsufficientEnergy

	// InsufficientBalance marks a transaction whose value+fee exceeds the
	// sender's computed balance.
	InsufficientBalance

	// DuplicateTransaction marks a transaction id already seen in the
	// mempool or the confirmed collection.
	DuplicateTransaction

	// ChainUnavailable marks a primary-chain RPC endpoint unreachable
	// after retries.
	ChainUnavailable

	// StoreUnavailable marks a document-store driver connection loss.
	StoreUnavailable

	// PipelineCanceled marks cooperative cancellation mid-stage.
	PipelineCanceled

	// NotFound marks a lookup for a record that does not exist.
	NotFound
)

// codes maps each kind to its stable wire code. The shell must never invent
// codes outside this table.
var codes = map[Kind]string{
	Unknown:              "LUCID_ERR_0000",
	Validation:           "LUCID_ERR_1000",
	DuplicateTransaction: "LUCID_ERR_1001",
	InsufficientBalance:  "LUCID_ERR_1002",
	NotFound:             "LUCID_ERR_1404",
	Integrity:            "LUCID_ERR_2000",
	GasLimitExceeded:     "LUCID_ERR_3000",
	ChainUnavailable:     "LUCID_ERR_3001",
	KycRejected:          "LUCID_ERR_4000",
	InsufficientEnergy:   "LUCID_ERR_4001",
	StoreUnavailable:     "LUCID_ERR_5000",
	PipelineCanceled:     "LUCID_ERR_5100",
}

var names = map[Kind]string{
	Unknown:              "unknown",
	Validation:           "validation",
	DuplicateTransaction: "duplicate transaction",
	InsufficientBalance:  "insufficient balance",
	NotFound:             "not found",
	Integrity:            "integrity",
	GasLimitExceeded:     "gas limit exceeded",
	ChainUnavailable:     "chain unavailable",
	KycRejected:          "kyc rejected",
	InsufficientEnergy:   "insufficient energy",
	StoreUnavailable:     "store unavailable",
	PipelineCanceled:     "pipeline canceled",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return "unknown"
}

// Code returns the stable LUCID_ERR_* identifier of the kind.
func (k Kind) Code() string {
	if c, ok := codes[k]; ok {
		return c
	}
	return codes[Unknown]
}

// Error is the concrete error type carried across component boundaries.
type Error struct {
	kind    Kind
	msg     string
	details map[string]string
	err     error
}

// New returns an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Newf returns an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause. A nil cause
// yields nil so call sites can wrap unconditionally.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, msg: msg, err: err}
}

// Error implements the error interface, printing as
// "kind: message: cause".
func (e *Error) Error() string {
	s := e.kind.String()
	if e.msg != "" {
		s += ": " + e.msg
	}
	if e.err != nil {
		s += ": " + e.err.Error()
	}
	return s
}

// Unwrap exposes the wrapped cause to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.err }

// Kind returns the taxonomy kind of the error.
func (e *Error) Kind() Kind { return e.kind }

// Code returns the stable wire code of the error's kind.
func (e *Error) Code() string { return e.kind.Code() }

// WithDetail attaches one key of structured context (offending field, txid)
// and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.details == nil {
		e.details = make(map[string]string)
	}
	e.details[key] = value
	return e
}

// Details returns the structured context attached to the error, never nil.
func (e *Error) Details() map[string]string {
	if e.details == nil {
		return map[string]string{}
	}
	return e.details
}

// KindOf extracts the kind of err, walking the wrap chain. Non-taxonomy
// errors report Unknown.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.kind
	}
	return Unknown
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to the status an HTTP shell should answer with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation, KycRejected, InsufficientBalance, InsufficientEnergy, GasLimitExceeded:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case DuplicateTransaction:
		return http.StatusConflict
	case Integrity:
		return http.StatusUnprocessableEntity
	case ChainUnavailable, StoreUnavailable:
		return http.StatusServiceUnavailable
	case PipelineCanceled:
		return 499 // client closed request, nginx convention
	default:
		return http.StatusInternalServerError
	}
}
