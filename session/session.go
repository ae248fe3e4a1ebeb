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

// Package session drives one recorded session through the pipeline:
// chunk, encrypt, build the Merkle tree, anchor. Progress is persisted
// after every stage transition so an interrupted run can resume from its
// last stage by session id.
package session

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/merkle"
	"github.com/lucid-rdp/go-lucid/metrics"
	"github.com/lucid-rdp/go-lucid/session/chunker"
	"github.com/lucid-rdp/go-lucid/session/encryptor"
)

var (
	sessionsCompleted = metrics.NewCounter("session", "completed_total", "Sessions driven to COMPLETED")
	sessionsFailed    = metrics.NewCounter("session", "failed_total", "Sessions driven to FAILED")
	stageSeconds      = metrics.NewHistogram("session", "stage_seconds", "Wall time per pipeline stage")
)

// Store is the slice of the persistence layer the orchestrator needs.
type Store interface {
	UpsertChunk(ctx context.Context, c *types.ChunkMetadata) error
	ChunksBySession(ctx context.Context, sessionID string) ([]*types.ChunkMetadata, error)
	UpsertPipelineState(ctx context.Context, st *types.PipelineState) error
	PipelineStateBySession(ctx context.Context, sessionID string) (*types.PipelineState, error)
	ManifestBySession(ctx context.Context, sessionID string) (*types.SessionManifest, error)
	AnchorBySession(ctx context.Context, sessionID string) (*types.SessionAnchor, error)
}

// Anchorer submits a finished manifest for on-chain registration. The
// returned record reflects the submission, not the confirmation.
type Anchorer interface {
	AnchorManifest(ctx context.Context, m *types.SessionManifest) (*types.SessionAnchor, error)
}

// Request describes one session run. Source supplies the raw recording
// bytes; it may be nil when resuming a session that is already chunked.
type Request struct {
	SessionID string
	Owner     common.Address
	StartedAt time.Time
	Source    io.Reader
	Codec     string
	DeviceID  string
	Metadata  types.SessionMetadata
}

// Result summarizes a completed pipeline run.
type Result struct {
	SessionID   string
	ChunkCount  int
	MerkleRoot  common.Hash
	AnchoringID string
	Manifest    *types.SessionManifest
}

// Config holds the orchestrator knobs.
type Config struct {
	// EncryptWorkers bounds chunk-level parallelism during ENCRYPTING.
	// Zero means 4.
	EncryptWorkers int
}

// Orchestrator owns the pipeline state machine for sessions.
type Orchestrator struct {
	chunker  *chunker.Chunker
	enc      *encryptor.Encryptor
	builder  *merkle.Builder
	anchorer Anchorer
	store    Store
	workers  int
	log      *log.Entry
}

// New wires the pipeline components together.
func New(ch *chunker.Chunker, enc *encryptor.Encryptor, mb *merkle.Builder, an Anchorer, st Store, cfg Config) *Orchestrator {
	workers := cfg.EncryptWorkers
	if workers <= 0 {
		workers = 4
	}
	return &Orchestrator{
		chunker:  ch,
		enc:      enc,
		builder:  mb,
		anchorer: an,
		store:    st,
		workers:  workers,
		log:      log.WithField("component", "session"),
	}
}

// Run drives a fresh session through every stage perfectly once. On error
// the state record is moved to FAILED; on cancellation it is left at the
// last persisted stage so Resume can pick it up.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req, true); err != nil {
		return nil, err
	}
	if err := o.persistStage(ctx, req.SessionID, types.StageInitialized, 0, common.Hash{}); err != nil {
		return nil, err
	}

	metas, err := o.runChunking(ctx, req)
	if err != nil {
		return nil, o.abort(req.SessionID, len(metas), err)
	}
	return o.finishFrom(ctx, req, metas)
}

// Resume continues a session from its last persisted stage. Sessions that
// never progressed past chunking are re-run from scratch; completed
// sessions return their stored result.
func (o *Orchestrator) Resume(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req, false); err != nil {
		return nil, err
	}
	st, err := o.store.PipelineStateBySession(ctx, req.SessionID)
	if err != nil {
		if lucerr.Is(err, lucerr.NotFound) {
			return o.Run(ctx, req)
		}
		return nil, err
	}

	switch st.Stage {
	case types.StageCompleted:
		m, err := o.store.ManifestBySession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		res := &Result{
			SessionID:  req.SessionID,
			ChunkCount: m.ChunkCount,
			MerkleRoot: m.MerkleRoot,
			Manifest:   m,
		}
		if a, err := o.store.AnchorBySession(ctx, req.SessionID); err == nil {
			res.AnchoringID = a.AnchoringID
		}
		return res, nil

	case types.StageInitialized, types.StageChunking, types.StageFailed:
		// Chunk artifacts are rewritten idempotently on a fresh run.
		return o.Run(ctx, req)

	default:
		metas, err := o.store.ChunksBySession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if len(metas) == 0 {
			return o.Run(ctx, req)
		}
		return o.finishFrom(ctx, req, metas)
	}
}

// finishFrom runs the stages after CHUNKING. Encryption skips chunks whose
// artifacts already exist, which is what makes resumption idempotent.
func (o *Orchestrator) finishFrom(ctx context.Context, req Request, metas []*types.ChunkMetadata) (*Result, error) {
	if err := o.runEncrypting(ctx, req.SessionID, metas); err != nil {
		return nil, o.abort(req.SessionID, len(metas), err)
	}
	root, err := o.runMerkle(ctx, req.SessionID, metas)
	if err != nil {
		return nil, o.abort(req.SessionID, len(metas), err)
	}
	anchoring, manifest, err := o.runAnchoring(ctx, req, metas, root)
	if err != nil {
		return nil, o.abort(req.SessionID, len(metas), err)
	}

	if err := o.persistStage(ctx, req.SessionID, types.StageCompleted, len(metas), root.RootHash); err != nil {
		return nil, err
	}
	sessionsCompleted.Inc()
	o.log.WithFields(log.Fields{
		"session": req.SessionID,
		"chunks":  len(metas),
		"root":    root.RootHash.Hex(),
	}).Info("session pipeline completed")

	return &Result{
		SessionID:   req.SessionID,
		ChunkCount:  len(metas),
		MerkleRoot:  root.RootHash,
		AnchoringID: anchoring.AnchoringID,
		Manifest:    manifest,
	}, nil
}

func (o *Orchestrator) runChunking(ctx context.Context, req Request) ([]*types.ChunkMetadata, error) {
	if err := o.persistStage(ctx, req.SessionID, types.StageChunking, 0, common.Hash{}); err != nil {
		return nil, err
	}
	defer observeStage(time.Now())

	// A private cancel unblocks the stream goroutine if a store write
	// makes us bail mid-stream.
	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()

	out, errs := o.chunker.ChunkStream(streamCtx, req.SessionID, req.Source)
	var metas []*types.ChunkMetadata
	for meta := range out {
		if err := o.store.UpsertChunk(ctx, meta); err != nil {
			return metas, err
		}
		metas = append(metas, meta)
	}
	if err := <-errs; err != nil {
		return metas, err
	}
	return metas, nil
}

func (o *Orchestrator) runEncrypting(ctx context.Context, sessionID string, metas []*types.ChunkMetadata) error {
	if err := o.persistStage(ctx, sessionID, types.StageEncrypting, len(metas), common.Hash{}); err != nil {
		return err
	}
	defer observeStage(time.Now())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, meta := range metas {
		meta := meta
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return lucerr.Wrap(lucerr.PipelineCanceled, err, "encryption canceled")
			}
			if meta.EncryptedPath != "" {
				if _, err := os.Stat(meta.EncryptedPath); err == nil {
					return nil
				}
			}
			compressed, err := o.chunker.ReadCompressed(meta)
			if err != nil {
				return err
			}
			ref, err := o.enc.EncryptChunk(compressed, meta.ChunkID(), sessionID, "")
			if err != nil {
				return err
			}
			meta.EncryptedPath = ref.FilePath
			meta.EncryptedSize = ref.Size
			return o.store.UpsertChunk(gctx, meta)
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return lucerr.Wrap(lucerr.PipelineCanceled, err, "encryption canceled")
		}
		return err
	}
	return nil
}

// runMerkle hashes the encrypted artifacts strictly in sequence order and
// folds the tree. Each chunk's leaf hash is persisted on its metadata.
func (o *Orchestrator) runMerkle(ctx context.Context, sessionID string, metas []*types.ChunkMetadata) (*merkle.Root, error) {
	if err := o.persistStage(ctx, sessionID, types.StageMerkleBuild, len(metas), common.Hash{}); err != nil {
		return nil, err
	}
	defer observeStage(time.Now())

	leaves := make([]common.Hash, len(metas))
	for i, meta := range metas {
		if err := ctx.Err(); err != nil {
			return nil, lucerr.Wrap(lucerr.PipelineCanceled, err, "merkle build canceled")
		}
		encBytes, err := os.ReadFile(meta.EncryptedPath)
		if err != nil {
			return nil, lucerr.Wrap(lucerr.Integrity, err, "reading encrypted chunk for merkle build")
		}
		leaves[i] = crypto.Blake3Hash(encBytes)
		if meta.EncryptedBlake3 != leaves[i] {
			meta.EncryptedBlake3 = leaves[i]
			if err := o.store.UpsertChunk(ctx, meta); err != nil {
				return nil, err
			}
		}
	}
	return o.builder.BuildFromLeaves(sessionID, leaves)
}

func (o *Orchestrator) runAnchoring(ctx context.Context, req Request, metas []*types.ChunkMetadata, root *merkle.Root) (*types.SessionAnchor, *types.SessionManifest, error) {
	if err := o.persistStage(ctx, req.SessionID, types.StageAnchoring, len(metas), root.RootHash); err != nil {
		return nil, nil, err
	}
	defer observeStage(time.Now())

	if err := ctx.Err(); err != nil {
		return nil, nil, lucerr.Wrap(lucerr.PipelineCanceled, err, "anchoring canceled")
	}

	endedAt := time.Now().UTC().Truncate(time.Millisecond)
	// Millisecond truncation keeps ComputeManifestHash stable across a
	// store round trip; BSON datetimes carry no finer precision.
	manifest := &types.SessionManifest{
		SessionID:    req.SessionID,
		OwnerAddress: req.Owner,
		StartedAt:    req.StartedAt.UTC().Truncate(time.Millisecond),
		EndedAt:      &endedAt,
		MerkleRoot:   root.RootHash,
		ChunkCount:   len(metas),
		Chunks:       make([]types.ChunkRef, len(metas)),
		Codec:        req.Codec,
		DeviceID:     req.DeviceID,
		Metadata:     req.Metadata,
	}
	for i, meta := range metas {
		manifest.Chunks[i] = types.ChunkRef{
			SequenceIndex: meta.SequenceIndex,
			EncryptedHash: meta.EncryptedBlake3,
			EncryptedSize: meta.EncryptedSize,
		}
	}
	manifest.ManifestHash = manifest.ComputeManifestHash()

	anchoring, err := o.anchorer.AnchorManifest(ctx, manifest)
	if err != nil {
		return nil, nil, err
	}
	return anchoring, manifest, nil
}

// persistStage writes the state record for a transition. FAILED records go
// through abort instead.
func (o *Orchestrator) persistStage(ctx context.Context, sessionID string, stage types.PipelineStage, chunks int, root common.Hash) error {
	return o.store.UpsertPipelineState(ctx, &types.PipelineState{
		SessionID:  sessionID,
		Stage:      stage,
		ChunkCount: chunks,
		MerkleRoot: root,
		UpdatedAt:  time.Now().UTC(),
	})
}

// abort resolves a stage error: cancellation leaves the record at its last
// stage for later resumption, anything else is persisted as FAILED. State
// writes use a detached context since the run context may be dead.
func (o *Orchestrator) abort(sessionID string, chunks int, cause error) error {
	canceled := lucerr.Is(cause, lucerr.PipelineCanceled) ||
		errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)
	if canceled {
		o.log.WithField("session", sessionID).Warn("pipeline canceled, state left for resume")
		return cause
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.UpsertPipelineState(ctx, &types.PipelineState{
		SessionID:  sessionID,
		Stage:      types.StageFailed,
		ChunkCount: chunks,
		Error:      cause.Error(),
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		o.log.WithError(err).Error("persisting FAILED state")
	}
	sessionsFailed.Inc()
	return cause
}

func validateRequest(req Request, needSource bool) error {
	if req.SessionID == "" {
		return lucerr.New(lucerr.Validation, "session id is required")
	}
	if req.Owner.IsZero() {
		return lucerr.New(lucerr.Validation, "owner address is required")
	}
	if req.StartedAt.IsZero() {
		return lucerr.New(lucerr.Validation, "session start time is required")
	}
	if needSource && req.Source == nil {
		return lucerr.New(lucerr.Validation, "byte source is required")
	}
	return nil
}

func observeStage(start time.Time) {
	stageSeconds.Observe(time.Since(start).Seconds())
}
