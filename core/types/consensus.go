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

package types

import (
	"time"

	"github.com/lucid-rdp/go-lucid/crypto"
)

// ProofType enumerates the operational work a node can prove.
type ProofType string

const (
	ProofRelayBandwidth      ProofType = "relay_bandwidth"
	ProofStorageAvailability ProofType = "storage_availability"
	ProofValidationSignature ProofType = "validation_signature"
	ProofUptimeBeacon        ProofType = "uptime_beacon"
)

// Valid reports whether t is one of the known proof types.
func (t ProofType) Valid() bool {
	switch t {
	case ProofRelayBandwidth, ProofStorageAvailability, ProofValidationSignature, ProofUptimeBeacon:
		return true
	}
	return false
}

// TaskProof is one operational-work proof appended by node software. The
// value dimension depends on the type: bytes transferred, chunks stored,
// sessions validated, or uptime seconds.
type TaskProof struct {
	NodeID    string    `bson:"nodeId" json:"nodeId"`
	PoolID    string    `bson:"poolId,omitempty" json:"poolId,omitempty"`
	Slot      uint64    `bson:"slot" json:"slot"`
	Type      ProofType `bson:"type" json:"type"`
	Value     uint64    `bson:"value" json:"value"`
	Signature string    `bson:"signature" json:"signature"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// EntityID returns the credit-earning identity of the proof: the pool when
// the node works for one, otherwise the node itself.
func (p *TaskProof) EntityID() string {
	if p.PoolID != "" {
		return p.PoolID
	}
	return p.NodeID
}

// VerifySignature reports whether the proof signature matches its fields.
func (p *TaskProof) VerifySignature() bool {
	return crypto.VerifyTaskProofSignature(p.Signature, p.NodeID, p.PoolID, p.Slot, string(p.Type), p.Value, p.Timestamp)
}

// WorkCredit is the derived standing of one entity over a leader window.
type WorkCredit struct {
	EntityID    string    `bson:"entityId" json:"entityId"`
	WindowStart uint64    `bson:"windowStart" json:"windowStart"`
	WindowEnd   uint64    `bson:"windowEnd" json:"windowEnd"`
	Credits     uint64    `bson:"credits" json:"credits"`
	LiveScore   float64   `bson:"liveScore" json:"liveScore"`
	Rank        int       `bson:"rank" json:"rank"`
	ComputedAt  time.Time `bson:"computedAt" json:"computedAt"`
}

// SelectionReason explains how a slot's schedule was decided.
type SelectionReason string

const (
	ReasonHighestCredits  SelectionReason = "highest_credits"
	ReasonCooldownSkip    SelectionReason = "cooldown_skip"
	ReasonVRFTieBreak     SelectionReason = "vrf_tie_break"
	ReasonDensityBelowMin SelectionReason = "density_threshold_not_met"
)

// LeaderSchedule is the persisted outcome of leader selection for one slot.
// An empty Primary means no entity qualified; Fallbacks then lists the
// cooldown-skipped candidates in rank order for the slot driver.
type LeaderSchedule struct {
	Slot      uint64          `bson:"slot" json:"slot"`
	Primary   string          `bson:"primary,omitempty" json:"primary,omitempty"`
	Fallbacks []string        `bson:"fallbacks,omitempty" json:"fallbacks,omitempty"`
	Reason    SelectionReason `bson:"reason" json:"reason"`
	CreatedAt time.Time       `bson:"createdAt" json:"createdAt"`
}

// HasPrimary reports whether a leader was elected for the slot.
func (s *LeaderSchedule) HasPrimary() bool { return s.Primary != "" }
