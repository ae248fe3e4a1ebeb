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

// Package poot implements proof-of-operational-tasks consensus: work credits
// over a sliding proof window and per-slot leader selection under cooldown
// and density constraints. The engine is a pure scheduler; it never produces
// blocks itself.
package poot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/crypto"
	"github.com/lucid-rdp/go-lucid/luciddb"
	"github.com/lucid-rdp/go-lucid/metrics"
	"github.com/lucid-rdp/go-lucid/params"
)

var (
	slotsDecided    = metrics.NewCounter("poot", "slots_total", "Slots decided by the engine")
	slotsLeaderless = metrics.NewCounter("poot", "slots_without_leader_total", "Slots decided with a null primary")
	rankedEntities  = metrics.NewGauge("poot", "ranked_entities", "Entities in the current work-credit ranking")
)

// Store is the persistence surface of the engine: the proof window it reads,
// and the credit and schedule collections it writes.
type Store interface {
	ProofsInWindow(ctx context.Context, fromSlot, toSlot uint64) ([]*types.TaskProof, error)
	ReplaceWorkCredits(ctx context.Context, windowStart, windowEnd uint64, credits []*types.WorkCredit) error
	InsertLeaderSchedule(ctx context.Context, sched *types.LeaderSchedule) error
	LeaderScheduleBySlot(ctx context.Context, slot uint64) (*types.LeaderSchedule, error)
	SchedulesInRange(ctx context.Context, fromSlot, toSlot uint64) ([]*types.LeaderSchedule, error)
}

// Config carries the non-frozen engine knobs. The consensus parameters
// themselves (slot timing, cooldown, window, density floor) live in params
// and are not configurable.
type Config struct {
	ClusterSize int    // entities persisted per ranking, zero keeps all
	VRFSeed     []byte // shared tie-break seed, must agree across the cluster
}

// Engine computes work credits and decides leader schedules. RunSlot is
// single-writer: the slot driver invokes it once per slot.
type Engine struct {
	cfg   Config
	store Store
	log   *logrus.Entry

	mu   sync.Mutex
	snap *Snapshot // cooldown cache, rebuilt from the store when stale
}

// New returns an engine over store.
func New(store Store, cfg Config) *Engine {
	return &Engine{
		cfg:   cfg,
		store: store,
		log:   logrus.WithField("component", "poot"),
	}
}

// SlotAt maps wall time to the slot containing it.
func SlotAt(t time.Time) uint64 {
	return uint64(t.Unix()) / uint64(params.SlotDuration/time.Second)
}

// SlotStart returns the wall-clock start of a slot.
func SlotStart(slot uint64) time.Time {
	return time.Unix(int64(slot)*int64(params.SlotDuration/time.Second), 0).UTC()
}

// RunSlot decides the leader schedule for one slot: recompute the credit
// ranking for the window ending at slot-1, apply cooldown and density rules,
// persist the outcome. Selection is bounded by the slot timeout. A slot that
// was already decided elsewhere is returned as-is.
func (e *Engine) RunSlot(ctx context.Context, slot uint64) (*types.LeaderSchedule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, params.SlotTimeout)
	defer cancel()

	credits, err := e.computeCreditsLocked(ctx, slot)
	if err != nil {
		return nil, err
	}
	snap, err := e.snapshotLocked(ctx, slot)
	if err != nil {
		return nil, err
	}

	sched := e.selectLeader(slot, credits, snap)
	if err := e.store.InsertLeaderSchedule(ctx, sched); err != nil {
		if errors.Is(err, luciddb.ErrDuplicateKey) {
			existing, lerr := e.store.LeaderScheduleBySlot(ctx, slot)
			if lerr != nil {
				return nil, lerr
			}
			e.log.WithField("slot", slot).Warn("slot already decided, keeping existing schedule")
			return existing, nil
		}
		return nil, err
	}
	snap.observe(sched)
	e.snap = snap

	slotsDecided.Inc()
	if !sched.HasPrimary() {
		slotsLeaderless.Inc()
	}
	e.log.WithFields(logrus.Fields{
		"slot":    slot,
		"primary": sched.Primary,
		"reason":  sched.Reason,
	}).Info("slot decided")
	return sched, nil
}

// ComputeWorkCredits recomputes and persists the ranking for the window
// ending at slot-1, returning it in rank order.
func (e *Engine) ComputeWorkCredits(ctx context.Context, slot uint64) ([]*types.WorkCredit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.computeCreditsLocked(ctx, slot)
}

func (e *Engine) computeCreditsLocked(ctx context.Context, slot uint64) ([]*types.WorkCredit, error) {
	if slot == 0 {
		return nil, nil
	}
	windowEnd := slot - 1
	windowStart := uint64(0)
	if slot > params.LeaderWindowSlots {
		windowStart = slot - params.LeaderWindowSlots
	}
	proofs, err := e.store.ProofsInWindow(ctx, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	credits := rankCredits(aggregateWork(proofs), windowStart, windowEnd, e.cfg.ClusterSize)
	if err := e.store.ReplaceWorkCredits(ctx, windowStart, windowEnd, credits); err != nil {
		return nil, err
	}
	rankedEntities.Set(float64(len(credits)))
	return credits, nil
}

// snapshotLocked returns the cooldown state for slot: the cached snapshot
// when it is positioned there, otherwise a rebuild from the schedules in the
// lookback.
func (e *Engine) snapshotLocked(ctx context.Context, slot uint64) (*Snapshot, error) {
	if e.snap != nil && e.snap.Slot == slot {
		return e.snap, nil
	}
	var scheds []*types.LeaderSchedule
	if slot > 0 {
		var err error
		scheds, err = e.store.SchedulesInRange(ctx, cooldownStart(slot), slot-1)
		if err != nil {
			return nil, err
		}
	}
	return newSnapshot(slot, scheds), nil
}

// selectLeader walks the ranking for the slot. Cooling entities are skipped
// into the fallback list in the order encountered; ties among eligible
// entities at the first open rank resolve through the VRF; a primary below
// the density floor voids the slot.
func (e *Engine) selectLeader(slot uint64, ranking []*types.WorkCredit, snap *Snapshot) *types.LeaderSchedule {
	sched := &types.LeaderSchedule{
		Slot:      slot,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	var (
		fallbacks []string
		primary   *types.WorkCredit
		tied      bool
	)
	for i := 0; i < len(ranking); i++ {
		c := ranking[i]
		if snap.inCooldown(c.EntityID) {
			fallbacks = append(fallbacks, c.EntityID)
			continue
		}
		primary = c
		for j := i + 1; j < len(ranking); j++ {
			n := ranking[j]
			if n.Credits != c.Credits || n.LiveScore != c.LiveScore {
				break
			}
			if snap.inCooldown(n.EntityID) {
				continue
			}
			tied = true
			score := crypto.VRFScore(e.cfg.VRFSeed, slot, n.EntityID)
			if crypto.VRFCompare(score, crypto.VRFScore(e.cfg.VRFSeed, slot, primary.EntityID)) > 0 {
				primary = n
			}
		}
		break
	}
	sched.Fallbacks = fallbacks

	switch {
	case primary == nil && len(fallbacks) > 0:
		// Every ranked entity is cooling down; the slot driver may still
		// fall through to fallbacks[0].
		sched.Reason = types.ReasonCooldownSkip
	case primary == nil:
		sched.Reason = types.ReasonDensityBelowMin
	case primary.LiveScore < params.MinLiveScore:
		sched.Reason = types.ReasonDensityBelowMin
	case tied:
		sched.Primary = primary.EntityID
		sched.Reason = types.ReasonVRFTieBreak
	case len(fallbacks) > 0:
		sched.Primary = primary.EntityID
		sched.Reason = types.ReasonCooldownSkip
	default:
		sched.Primary = primary.EntityID
		sched.Reason = types.ReasonHighestCredits
	}
	return sched
}
