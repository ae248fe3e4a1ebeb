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

// Package chainsync backfills the local chain from a peer node. It only ever
// moves the local tip forward: a peer behind us or a diverged tip is
// reported, never rolled back.
package chainsync

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/lucid-rdp/go-lucid/common"
	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/metrics"
	"github.com/lucid-rdp/go-lucid/params"
)

var (
	blocksSynced = metrics.NewCounter("chainsync", "blocks_total", "Blocks backfilled from peers")
	syncRounds   = metrics.NewCounter("chainsync", "rounds_total", "Synchronization rounds completed")
	syncDiverged = metrics.NewCounter("chainsync", "diverged_total", "Rounds that found local and remote state diverged")
)

// RemoteStatus is a peer's view of its own chain tip.
type RemoteStatus struct {
	Height     uint64      `json:"height"`
	LatestHash common.Hash `json:"latestHash"`
}

// RemoteClient reads chain state from a peer node.
type RemoteClient interface {
	ChainStatus(ctx context.Context) (*RemoteStatus, error)
	BlockByHeight(ctx context.Context, height uint64) (*types.Block, error)
}

// Chain is the local chain surface the synchronizer applies blocks to.
type Chain interface {
	CurrentHeight() uint64
	LatestHash() common.Hash
	AddBlock(ctx context.Context, b *types.Block) error
}

// Result summarizes one synchronization round.
type Result struct {
	LocalHeight  uint64 `json:"localHeight"`
	RemoteHeight uint64 `json:"remoteHeight"`
	SyncedBlocks int    `json:"syncedBlocks"`
	Synchronized bool   `json:"synchronized"`
}

// Config tunes the synchronizer.
type Config struct {
	Timeout time.Duration // deadline per round, zero means params.SyncTimeout
}

// Synchronizer pulls missing blocks from one peer.
type Synchronizer struct {
	cfg    Config
	remote RemoteClient
	chain  Chain
	log    *logrus.Entry
}

// New returns a synchronizer reading from remote and applying to chain.
func New(remote RemoteClient, chain Chain, cfg Config) *Synchronizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = params.SyncTimeout
	}
	return &Synchronizer{
		cfg:    cfg,
		remote: remote,
		chain:  chain,
		log:    logrus.WithField("component", "chainsync"),
	}
}

// Synchronize runs one round: compare tips, then fetch and validate the
// missing heights in order. Divergence (peer behind us, tip hash mismatch,
// or a peer block failing validation) yields Synchronized=false with a nil
// error; transport and store failures return the error alongside the partial
// result.
func (s *Synchronizer) Synchronize(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	status, err := s.remote.ChainStatus(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{
		LocalHeight:  s.chain.CurrentHeight(),
		RemoteHeight: status.Height,
	}

	if status.Height < res.LocalHeight {
		s.log.WithFields(logrus.Fields{
			"local":  res.LocalHeight,
			"remote": status.Height,
		}).Warn("peer is behind local chain")
		syncDiverged.Inc()
		return res, nil
	}
	if status.Height == res.LocalHeight {
		if status.LatestHash != s.chain.LatestHash() {
			s.log.WithFields(logrus.Fields{
				"height":     res.LocalHeight,
				"localHash":  s.chain.LatestHash(),
				"remoteHash": status.LatestHash,
			}).Warn("tip hash diverges from peer")
			syncDiverged.Inc()
			return res, nil
		}
		res.Synchronized = true
		syncRounds.Inc()
		return res, nil
	}

	for height := res.LocalHeight + 1; height <= status.Height; height++ {
		block, err := s.remote.BlockByHeight(ctx, height)
		if err != nil {
			return res, err
		}
		if err := s.chain.AddBlock(ctx, block); err != nil {
			if lucerr.Is(err, lucerr.Validation) {
				s.log.WithError(err).WithField("height", height).Warn("peer block failed validation")
				syncDiverged.Inc()
				return res, nil
			}
			return res, err
		}
		res.SyncedBlocks++
		blocksSynced.Inc()
	}

	if s.chain.LatestHash() != status.LatestHash {
		s.log.WithField("height", status.Height).Warn("tip hash diverges after backfill")
		syncDiverged.Inc()
		return res, nil
	}
	res.Synchronized = true
	syncRounds.Inc()
	s.log.WithFields(logrus.Fields{
		"synced": res.SyncedBlocks,
		"height": status.Height,
	}).Info("chain synchronized")
	return res, nil
}

// Run synchronizes on a fixed cadence until the context ends. Transport
// failures back off exponentially and reset on the next clean round.
func (s *Synchronizer) Run(ctx context.Context, interval time.Duration) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = interval
	policy.MaxInterval = 10 * interval
	policy.MaxElapsedTime = 0

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if _, err := s.Synchronize(ctx); err != nil {
			s.log.WithError(err).Warn("synchronization round failed")
			timer.Reset(policy.NextBackOff())
			continue
		}
		policy.Reset()
		timer.Reset(interval)
	}
}
