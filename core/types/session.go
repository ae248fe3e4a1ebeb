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
	"fmt"
	"strconv"
	"time"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/params"
)

// ChunkMetadata describes one chunk of a recorded session across its whole
// life: raw, compressed, encrypted. The three digests are distinct on
// purpose; each verifies a different stage boundary.
type ChunkMetadata struct {
	SessionID     string `bson:"sessionId" json:"sessionId"`
	SequenceIndex uint32 `bson:"sequenceIndex" json:"sequenceIndex"`

	// PlaintextSHA256 is the SHA-256 of the raw bytes before compression;
	// readChunk re-verifies against it.
	PlaintextSHA256 common.Hash `bson:"plaintextSha256" json:"plaintextSha256"`

	// CompressedBlake3 is the BLAKE3 of the compressed artifact, i.e. the
	// plaintext the encryptor seals.
	CompressedBlake3 common.Hash `bson:"compressedBlake3" json:"compressedBlake3"`

	// EncryptedBlake3 is the BLAKE3 of the encrypted artifact bytes and is
	// the chunk's Merkle leaf. Zero until the chunk is encrypted.
	EncryptedBlake3 common.Hash `bson:"encryptedBlake3,omitempty" json:"encryptedBlake3,omitempty"`

	OriginalSize     int64   `bson:"originalSize" json:"originalSize"`
	CompressedSize   int64   `bson:"compressedSize" json:"compressedSize"`
	EncryptedSize    int64   `bson:"encryptedSize,omitempty" json:"encryptedSize,omitempty"`
	CompressionRatio float64 `bson:"compressionRatio" json:"compressionRatio"`

	LocalPath     string    `bson:"localPath" json:"localPath"`
	EncryptedPath string    `bson:"encryptedPath,omitempty" json:"encryptedPath,omitempty"`
	CreatedAt     time.Time `bson:"createdAt" json:"createdAt"`
}

// ChunkID returns the canonical chunk identifier used in artifact names and
// key derivation: <sessionId>_chunk_<6-digit index>.
func (c *ChunkMetadata) ChunkID() string {
	return fmt.Sprintf("%s_chunk_%06d", c.SessionID, c.SequenceIndex)
}

// ChunkRef is the light reference a manifest embeds per chunk: enough to
// recompute the session Merkle root without touching artifact files.
type ChunkRef struct {
	SequenceIndex uint32      `bson:"sequenceIndex" json:"sequenceIndex"`
	EncryptedHash common.Hash `bson:"encryptedHash" json:"encryptedHash"`
	EncryptedSize int64       `bson:"encryptedSize" json:"encryptedSize"`
}

// SessionMetadata is the closed set of descriptive fields a session may
// carry. Unknown keys are rejected at the boundary by typed decoding.
type SessionMetadata struct {
	Project     string   `bson:"project,omitempty" json:"project,omitempty"`
	Environment string   `bson:"environment,omitempty" json:"environment,omitempty"`
	Tags        []string `bson:"tags,omitempty" json:"tags,omitempty"`
	Description string   `bson:"description,omitempty" json:"description,omitempty"`
	Owner       string   `bson:"owner,omitempty" json:"owner,omitempty"`
	Priority    int      `bson:"priority,omitempty" json:"priority,omitempty"`
}

// SessionManifest is the root descriptor of one recorded session.
type SessionManifest struct {
	SessionID    string          `bson:"sessionId" json:"sessionId"`
	OwnerAddress common.Address  `bson:"ownerAddress" json:"ownerAddress"`
	StartedAt    time.Time       `bson:"startedAt" json:"startedAt"`
	EndedAt      *time.Time      `bson:"endedAt,omitempty" json:"endedAt,omitempty"`
	ManifestHash common.Hash     `bson:"manifestHash" json:"manifestHash"`
	MerkleRoot   common.Hash     `bson:"merkleRoot" json:"merkleRoot"`
	ChunkCount   int             `bson:"chunkCount" json:"chunkCount"`
	Chunks       []ChunkRef      `bson:"chunks" json:"chunks"`
	Codec        string          `bson:"codec,omitempty" json:"codec,omitempty"`
	DeviceID     string          `bson:"deviceFingerprint,omitempty" json:"deviceFingerprint,omitempty"`
	Metadata     SessionMetadata `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// ComputeManifestHash derives the manifest commitment: BLAKE3 over the
// session id, owner, start time, Merkle root and chunk count in that order.
func (m *SessionManifest) ComputeManifestHash() common.Hash {
	buf := make([]byte, 0, 192)
	buf = append(buf, m.SessionID...)
	buf = append(buf, m.OwnerAddress.Hex()...)
	buf = append(buf, m.StartedAt.UTC().Format(params.TimestampLayout)...)
	buf = append(buf, m.MerkleRoot.Hex()...)
	buf = strconv.AppendInt(buf, int64(m.ChunkCount), 10)
	return crypto.Blake3Hash(buf)
}

// LeafHashes returns the ordered Merkle leaves of the manifest's chunks.
func (m *SessionManifest) LeafHashes() []common.Hash {
	leaves := make([]common.Hash, len(m.Chunks))
	for i, c := range m.Chunks {
		leaves[i] = c.EncryptedHash
	}
	return leaves
}

// AnchorStatus tracks an anchoring attempt on the primary chain.
type AnchorStatus string

const (
	AnchorStatusPending   AnchorStatus = "pending"
	AnchorStatusConfirmed AnchorStatus = "confirmed"
	AnchorStatusFailed    AnchorStatus = "failed"
)

// SessionAnchor is one anchoring attempt of a session manifest. Created on
// submission; only the confirmation poller mutates it afterwards.
type SessionAnchor struct {
	AnchoringID   string       `bson:"anchoringId" json:"anchoringId"`
	SessionID     string       `bson:"sessionId" json:"sessionId"`
	TransactionID string       `bson:"transactionId" json:"transactionId"`
	BlockNumber   *uint64      `bson:"blockNumber,omitempty" json:"blockNumber,omitempty"`
	Status        AnchorStatus `bson:"status" json:"status"`
	MerkleRoot    common.Hash  `bson:"merkleRoot" json:"merkleRoot"`
	SubmittedAt   time.Time    `bson:"submittedAt" json:"submittedAt"`
	ConfirmedAt   *time.Time   `bson:"confirmedAt,omitempty" json:"confirmedAt,omitempty"`
	GasUsed       uint64       `bson:"gasUsed,omitempty" json:"gasUsed,omitempty"`
	ErrorMessage  string       `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
}

// PipelineStage enumerates the session pipeline state machine.
type PipelineStage string

const (
	StageInitialized PipelineStage = "INITIALIZED"
	StageChunking    PipelineStage = "CHUNKING"
	StageEncrypting  PipelineStage = "ENCRYPTING"
	StageMerkleBuild PipelineStage = "MERKLE_BUILDING"
	StageAnchoring   PipelineStage = "ANCHORING"
	StageCompleted   PipelineStage = "COMPLETED"
	StageFailed      PipelineStage = "FAILED"
)

// PipelineState is the persisted progress record of one session run,
// written after every stage transition (at-least-once).
type PipelineState struct {
	SessionID  string        `bson:"sessionId" json:"sessionId"`
	Stage      PipelineStage `bson:"stage" json:"stage"`
	ChunkCount int           `bson:"chunkCount" json:"chunkCount"`
	MerkleRoot common.Hash   `bson:"merkleRoot,omitempty" json:"merkleRoot,omitempty"`
	Error      string        `bson:"error,omitempty" json:"error,omitempty"`
	UpdatedAt  time.Time     `bson:"updatedAt" json:"updatedAt"`
}
