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
	"sort"
	"time"

	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/params"
)

// entityWork accumulates one entity's proofs over a window before the credit
// formula collapses them into a single standing.
type entityWork struct {
	sessions  uint64              // session-equivalent work across proof types
	bytes     uint64              // relay bandwidth in bytes
	liveSlots map[uint64]struct{} // distinct slots with at least one proof
}

// aggregateWork folds the window's proofs per entity. Proofs credit the pool
// when the node works for one, otherwise the node itself.
func aggregateWork(proofs []*types.TaskProof) map[string]*entityWork {
	work := make(map[string]*entityWork)
	for _, p := range proofs {
		entity := p.EntityID()
		w, ok := work[entity]
		if !ok {
			w = &entityWork{liveSlots: make(map[uint64]struct{})}
			work[entity] = w
		}
		switch p.Type {
		case types.ProofRelayBandwidth:
			w.bytes += p.Value
		case types.ProofValidationSignature, types.ProofStorageAvailability:
			w.sessions += p.Value
		case types.ProofUptimeBeacon:
			// Uptime seconds normalize to sessions at one session per slot
			// of continuous uptime.
			w.sessions += p.Value / uint64(params.SlotDuration/time.Second)
		default:
			continue
		}
		w.liveSlots[p.Slot] = struct{}{}
	}
	return work
}

// creditsOf applies the work-credit formula: the larger of the
// session-equivalent total and the bandwidth total expressed in
// base-session units.
func (w *entityWork) creditsOf() uint64 {
	unit := params.BaseMBPerSession * params.MiB
	fromBandwidth := (w.bytes + unit - 1) / unit
	if fromBandwidth > w.sessions {
		return fromBandwidth
	}
	return w.sessions
}

// rankCredits turns per-entity work into the persisted ranking: credits
// descending, live score descending, entity id ascending for a stable order.
func rankCredits(work map[string]*entityWork, windowStart, windowEnd uint64, topK int) []*types.WorkCredit {
	windowSlots := windowEnd - windowStart + 1
	credits := make([]*types.WorkCredit, 0, len(work))
	now := time.Now().UTC().Truncate(time.Millisecond)
	for entity, w := range work {
		credits = append(credits, &types.WorkCredit{
			EntityID:    entity,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			Credits:     w.creditsOf(),
			LiveScore:   float64(len(w.liveSlots)) / float64(windowSlots),
			ComputedAt:  now,
		})
	}
	sort.Slice(credits, func(i, j int) bool {
		if credits[i].Credits != credits[j].Credits {
			return credits[i].Credits > credits[j].Credits
		}
		if credits[i].LiveScore != credits[j].LiveScore {
			return credits[i].LiveScore > credits[j].LiveScore
		}
		return credits[i].EntityID < credits[j].EntityID
	})
	if topK > 0 && len(credits) > topK {
		credits = credits[:topK]
	}
	for i, c := range credits {
		c.Rank = i + 1
	}
	return credits
}
