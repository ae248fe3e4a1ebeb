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

package tron

import (
	"time"
)

// RouterType selects the payout contract a request is dispatched through.
type RouterType string

const (
	// RouterV0 is the plain payout router for non-KYC flows.
	RouterV0 RouterType = "non_kyc"
	// RouterKYC is the compliance-gated router; requests carry a KYC hash
	// and a compliance signature.
	RouterKYC RouterType = "kyc_gated"
)

// Valid reports whether r is a known router type.
func (r RouterType) Valid() bool {
	return r == RouterV0 || r == RouterKYC
}

// PayoutStatus is the lifecycle state of a payout request or batch.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
	PayoutCancelled  PayoutStatus = "cancelled"
)

// PaymentStatus is the chain-side state of a submitted payment transaction.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
)

// PayoutRequest is one routable payout. Requests are created pending,
// collected into batches and inherit the batch outcome: a completed batch
// stamps its txid and processing time onto every member, a failed batch its
// error message.
type PayoutRequest struct {
	PayoutID         string       `bson:"payoutId" json:"payoutId"`
	RecipientAddress Address      `bson:"recipientAddress" json:"recipientAddress"`
	AmountUSDT       float64      `bson:"amountUsdt" json:"amountUsdt"`
	Router           RouterType   `bson:"routerType" json:"routerType"`
	ReasonCode       string       `bson:"reasonCode" json:"reasonCode"`
	KYCHash          string       `bson:"kycHash,omitempty" json:"kycHash,omitempty"`
	ComplianceSig    string       `bson:"complianceSig,omitempty" json:"complianceSig,omitempty"`
	Status           PayoutStatus `bson:"status" json:"status"`
	BatchID          string       `bson:"batchId,omitempty" json:"batchId,omitempty"`
	TxID             string       `bson:"txid,omitempty" json:"txid,omitempty"`
	ErrorMessage     string       `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CreatedAt        time.Time    `bson:"createdAt" json:"createdAt"`
	ProcessedAt      *time.Time   `bson:"processedAt,omitempty" json:"processedAt,omitempty"`
}

// PayoutBatch is one on-chain submission covering up to the configured
// number of requests of a single router type. Its status is atomic: every
// member request ends in the batch's final state.
type PayoutBatch struct {
	BatchID      string       `bson:"batchId" json:"batchId"`
	Router       RouterType   `bson:"routerType" json:"routerType"`
	PayoutIDs    []string     `bson:"payoutIds" json:"payoutIds"`
	TotalUSDT    float64      `bson:"totalUsdt" json:"totalUsdt"`
	Status       PayoutStatus `bson:"status" json:"status"`
	TxID         string       `bson:"txid,omitempty" json:"txid,omitempty"`
	ErrorMessage string       `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CreatedAt    time.Time    `bson:"createdAt" json:"createdAt"`
	ProcessedAt  *time.Time   `bson:"processedAt,omitempty" json:"processedAt,omitempty"`
}

// PayoutRecord is the chain-facing view of a submitted payout, the handle
// status polling operates on.
type PayoutRecord struct {
	PayoutID string `json:"payoutId"`
	TxID     string `json:"txid"`
}

// Record derives the polling handle of a processed request.
func (p *PayoutRequest) Record() PayoutRecord {
	return PayoutRecord{PayoutID: p.PayoutID, TxID: p.TxID}
}
