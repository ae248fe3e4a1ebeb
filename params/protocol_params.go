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

// Package params holds the frozen protocol constants of the platform.
// Consensus parameters are fixed at compile time; configuration may surface
// them for visibility but never mutates them at runtime.
package params

import "time"

const (
	// MiB is the unit every size limit in this package is expressed in.
	MiB = 1 << 20
)

// Consensus (PoOT) parameters. Changing any of these is a network fork.
const (
	SlotDuration  = 120 * time.Second // Wall time covered by one leader slot
	SlotTimeout   = 5 * time.Second   // Budget for leader selection within a slot
	CooldownSlots = uint64(16)        // Slots a primary stays ineligible after leading

	LeaderWindowDays  = 7                                        // Sliding work-credit window length
	SlotsPerDay       = uint64(24 * time.Hour / SlotDuration)    // 720 with 120s slots
	LeaderWindowSlots = uint64(LeaderWindowDays) * SlotsPerDay   // 5040 with 120s slots

	MinLiveScore     = 0.2       // Density threshold below which no primary is declared
	BaseMBPerSession = uint64(5) // Relay bytes equivalent to one session of work
)

// Block and transaction limits.
const (
	MaxBlockTransactions = 1000       // Hard cap on transactions per block
	MaxBlockSize         = 1 * MiB    // Serialized block size limit
	MaxTransactionSize   = 1 * MiB    // Serialized transaction size limit

	BaseFee    = 0.001 // Minimum fee floor per transaction
	FeePerByte = 1e-6  // Marginal fee per serialized byte and per payload byte

	MaxClockSkew     = 5 * time.Minute // Tolerated future drift for block and tx timestamps
	MaxTransactionAge = time.Hour      // Oldest admissible tx timestamp relative to now
)

// Mempool parameters.
const (
	MempoolCapacity = 10000          // Default transaction slots before eviction kicks in
	MempoolTxTTL    = 24 * time.Hour // Pending transactions older than this expire
)

// Session pipeline parameters.
const (
	MinChunkSize     = 8 * MiB  // Lower clamp for the chunk target size
	MaxChunkSize     = 16 * MiB // Upper clamp for the chunk target size
	DefaultChunkSize = 8 * MiB

	// ChunkFileHeaderSize is the fixed prefix of every encrypted chunk file:
	// salt(32) || nonce(24) || tag(16).
	ChunkFileHeaderSize = 32 + 24 + 16
)

// Primary chain interaction parameters.
const (
	GasCircuitBreaker = uint64(180000)   // Refuse submission above this gas estimate
	RPCTimeout        = 20 * time.Second // Default remote call deadline for chain and wallet clients
	SyncTimeout       = 30 * time.Second // Default chain synchronizer HTTP deadline
)

// Payout (TRON, isolated) parameters.
const (
	PayoutBatchSize = 50      // Default requests per on-chain batch
	MinPayoutUSDT   = 1.0     // Smallest routable amount
	MaxPayoutUSDT   = 10000.0 // Largest routable amount

	USDTDecimals = 6 // TRC-20 USDT fixed-point scale

	// DefaultFeeLimitSun caps the TRX spent on a payout contract call.
	// 1 TRX = 1e6 sun.
	DefaultFeeLimitSun = int64(100_000_000)
)

// Genesis block identity. The signature is a fixed literal, not a computed
// signature; validation special-cases it. The launch instant is part of the
// genesis hash preimage and must be identical on every node.
const (
	GenesisProducer  = "genesis"
	GenesisSignature = "genesis_signature"
	GenesisPayload   = `{"network":"lucid","chain":"primary","consensus":"poot"}`
	GenesisUnixSec   = int64(1704067200) // 2024-01-01T00:00:00Z
)

// TimestampLayout is the exact serialization of timestamps inside hash
// preimages: UTC RFC3339 at fixed nanosecond width. Both block hashes and
// transaction signatures depend on it byte for byte.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// BlockFilePattern names the on-disk JSON mirror of a block, keyed by a ten
// digit zero padded height.
const BlockFilePattern = "block_%010d.json"
