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

// Package anchor submits session manifests to the primary chain and tracks
// the resulting transactions to confirmation. Every submission leaves a
// SessionAnchor record; a periodic sweep promotes pending anchors to
// confirmed or failed based on their receipts.
package anchor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lucid-rdp/go-lucid/chainclient"
	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/metrics"
)

var (
	anchorsSubmitted = metrics.NewCounter("anchor", "submitted_total", "Manifests submitted to the primary chain")
	anchorsConfirmed = metrics.NewCounter("anchor", "confirmed_total", "Anchors promoted to confirmed")
	anchorsFailed    = metrics.NewCounter("anchor", "failed_total", "Anchors promoted to failed")
)

// ChainBackend is the slice of the primary-chain client the service uses.
type ChainBackend interface {
	RegisterSession(ctx context.Context, sessionID string, manifestHash common.Hash, startedAt time.Time, owner common.Address, merkleRoot common.Hash, chunkCount uint64) (*chainclient.Result, error)
	TransactionStatus(ctx context.Context, txID string) (*chainclient.TxStatus, error)
}

// Store is the persistence surface for manifests and anchors.
type Store interface {
	UpsertManifest(ctx context.Context, m *types.SessionManifest) error
	ManifestBySession(ctx context.Context, sessionID string) (*types.SessionManifest, error)
	UpsertAnchor(ctx context.Context, a *types.SessionAnchor) error
	AnchorBySession(ctx context.Context, sessionID string) (*types.SessionAnchor, error)
	PendingAnchors(ctx context.Context, limit int64) ([]*types.SessionAnchor, error)
	MarkAnchorConfirmed(ctx context.Context, anchoringID string, blockNumber uint64, confirmedAt time.Time) error
	MarkAnchorFailed(ctx context.Context, anchoringID, errorMessage string) error
}

// Config tunes the service.
type Config struct {
	SweepBatch    int64 // pending anchors examined per sweep, zero means 100
	SweepOnStatus bool  // AnchoringStatus triggers a background sweep for pending anchors
}

// Service anchors session manifests and confirms them.
type Service struct {
	chain ChainBackend
	store Store
	cfg   Config
	log   *logrus.Entry

	sweepMu sync.Mutex // one sweep at a time
}

// New builds a Service. SweepOnStatus defaults to enabled through NewDefault;
// passing a zero Config here leaves it off, which tests rely on.
func New(chain ChainBackend, store Store, cfg Config) *Service {
	if cfg.SweepBatch == 0 {
		cfg.SweepBatch = 100
	}
	return &Service{
		chain: chain,
		store: store,
		cfg:   cfg,
		log:   logrus.WithField("component", "anchor"),
	}
}

// NewDefault builds a Service with the production defaults.
func NewDefault(chain ChainBackend, store Store) *Service {
	return New(chain, store, Config{SweepOnStatus: true})
}

// AnchorManifest submits a completed manifest to the primary chain and
// persists a pending anchor record. Re-anchoring a session whose anchor is
// pending or confirmed returns the existing record without resubmitting;
// a failed anchor is retried.
func (s *Service) AnchorManifest(ctx context.Context, m *types.SessionManifest) (*types.SessionAnchor, error) {
	if m == nil || m.SessionID == "" {
		return nil, lucerr.New(lucerr.Validation, "manifest with sessionId is required")
	}
	if existing, err := s.store.AnchorBySession(ctx, m.SessionID); err == nil && existing.Status != types.AnchorStatusFailed {
		return existing, nil
	}
	if err := s.store.UpsertManifest(ctx, m); err != nil {
		return nil, fmt.Errorf("persisting manifest %s: %w", m.SessionID, err)
	}

	res, err := s.chain.RegisterSession(ctx, m.SessionID, m.ManifestHash, m.StartedAt, m.OwnerAddress, m.MerkleRoot, uint64(m.ChunkCount))
	if err != nil {
		return nil, err
	}
	anchorsSubmitted.Inc()

	a := &types.SessionAnchor{
		AnchoringID:   "anch-" + uuid.NewString(),
		SessionID:     m.SessionID,
		TransactionID: res.TxID,
		Status:        types.AnchorStatusPending,
		MerkleRoot:    m.MerkleRoot,
		SubmittedAt:   time.Now().UTC().Truncate(time.Millisecond),
		GasUsed:       res.GasUsed,
	}
	if err := s.store.UpsertAnchor(ctx, a); err != nil {
		return nil, fmt.Errorf("persisting anchor for %s: %w", m.SessionID, err)
	}
	s.log.WithFields(logrus.Fields{
		"sessionId":   m.SessionID,
		"anchoringId": a.AnchoringID,
		"txid":        a.TransactionID,
	}).Info("manifest anchored")
	return a, nil
}

// AnchorSession anchors a session by its identifying fields. A previously
// stored manifest is reused; otherwise a minimal one is built from the
// arguments.
func (s *Service) AnchorSession(ctx context.Context, sessionID string, owner common.Address, merkleRoot common.Hash, chunkCount int, metadata *types.SessionMetadata) (*types.SessionAnchor, error) {
	if sessionID == "" {
		return nil, lucerr.New(lucerr.Validation, "sessionID is required")
	}
	m, err := s.store.ManifestBySession(ctx, sessionID)
	if lucerr.Is(err, lucerr.NotFound) {
		m = &types.SessionManifest{
			SessionID:    sessionID,
			OwnerAddress: owner,
			StartedAt:    time.Now().UTC().Truncate(time.Millisecond),
			MerkleRoot:   merkleRoot,
			ChunkCount:   chunkCount,
		}
		if metadata != nil {
			m.Metadata = *metadata
		}
		m.ManifestHash = m.ComputeManifestHash()
	} else if err != nil {
		return nil, err
	}
	return s.AnchorManifest(ctx, m)
}

// AnchoringStatus returns the anchor record of a session. A pending record
// triggers a background confirmation sweep when enabled.
func (s *Service) AnchoringStatus(ctx context.Context, sessionID string) (*types.SessionAnchor, error) {
	a, err := s.store.AnchorBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if a.Status == types.AnchorStatusPending && s.cfg.SweepOnStatus {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, _, err := s.SweepOnce(ctx); err != nil {
				s.log.WithError(err).Warn("background confirmation sweep failed")
			}
		}()
	}
	return a, nil
}

// SweepOnce examines pending anchors and promotes those with final receipts.
// Per-anchor chain failures are logged and skipped so one bad transaction
// cannot stall the rest.
func (s *Service) SweepOnce(ctx context.Context) (confirmed, failed int, err error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	pending, err := s.store.PendingAnchors(ctx, s.cfg.SweepBatch)
	if err != nil {
		return 0, 0, fmt.Errorf("listing pending anchors: %w", err)
	}
	for _, a := range pending {
		st, err := s.chain.TransactionStatus(ctx, a.TransactionID)
		if err != nil {
			s.log.WithError(err).WithField("anchoringId", a.AnchoringID).Warn("skipping anchor, receipt unavailable")
			continue
		}
		switch st.Status {
		case chainclient.StatusSuccess:
			if err := s.store.MarkAnchorConfirmed(ctx, a.AnchoringID, st.BlockNumber, time.Now().UTC().Truncate(time.Millisecond)); err != nil {
				return confirmed, failed, err
			}
			anchorsConfirmed.Inc()
			confirmed++
		case chainclient.StatusFailed:
			if err := s.store.MarkAnchorFailed(ctx, a.AnchoringID, "transaction failed on chain"); err != nil {
				return confirmed, failed, err
			}
			anchorsFailed.Inc()
			failed++
		}
	}
	return confirmed, failed, nil
}

// Run sweeps on a fixed interval until the context ends. Sweep failures back
// off exponentially and a successful sweep resets the cadence.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.MaxInterval = 10 * interval
	bo.MaxElapsedTime = 0
	bo.Reset()

	wait := interval
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if confirmed, failed, err := s.SweepOnce(ctx); err != nil {
			s.log.WithError(err).Warn("confirmation sweep failed")
			wait = bo.NextBackOff()
		} else {
			if confirmed+failed > 0 {
				s.log.WithFields(logrus.Fields{"confirmed": confirmed, "failed": failed}).Info("confirmation sweep")
			}
			bo.Reset()
			wait = interval
		}
		timer.Reset(wait)
	}
}
