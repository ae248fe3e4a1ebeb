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

package poot

import (
	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/params"
)

// Snapshot is the cooldown state positioned to decide one slot: the primaries
// of the schedules inside the lookback [slot-CooldownSlots, slot-1]. The
// leader_schedules collection is the source of truth; a snapshot is a cache
// rebuilt from it whenever the engine cannot advance the previous one.
type Snapshot struct {
	Slot    uint64            // slot the snapshot decides
	Recents map[uint64]string // decided slot -> primary inside the lookback
}

// cooldownStart returns the first slot of the lookback for deciding slot.
func cooldownStart(slot uint64) uint64 {
	if slot <= params.CooldownSlots {
		return 0
	}
	return slot - params.CooldownSlots
}

// newSnapshot builds the cooldown state for slot from previously decided
// schedules. Schedules outside the lookback and undecided slots (null
// primary) are ignored.
func newSnapshot(slot uint64, scheds []*types.LeaderSchedule) *Snapshot {
	snap := &Snapshot{
		Slot:    slot,
		Recents: make(map[uint64]string),
	}
	start := cooldownStart(slot)
	for _, s := range scheds {
		if s.Primary == "" || s.Slot < start || s.Slot >= slot {
			continue
		}
		snap.Recents[s.Slot] = s.Primary
	}
	return snap
}

// inCooldown reports whether entity led any slot inside the lookback.
func (s *Snapshot) inCooldown(entity string) bool {
	for _, primary := range s.Recents {
		if primary == entity {
			return true
		}
	}
	return false
}

// observe advances the snapshot past a decided schedule: the outcome enters
// the recents, entries that fell out of the next slot's lookback drop.
func (s *Snapshot) observe(sched *types.LeaderSchedule) {
	if sched.Slot != s.Slot {
		return
	}
	if sched.Primary != "" {
		s.Recents[sched.Slot] = sched.Primary
	}
	s.Slot = sched.Slot + 1
	start := cooldownStart(s.Slot)
	for slot := range s.Recents {
		if slot < start {
			delete(s.Recents, slot)
		}
	}
}

// copy returns an independent snapshot.
func (s *Snapshot) copy() *Snapshot {
	cpy := &Snapshot{
		Slot:    s.Slot,
		Recents: make(map[uint64]string, len(s.Recents)),
	}
	for slot, primary := range s.Recents {
		cpy.Recents[slot] = primary
	}
	return cpy
}
