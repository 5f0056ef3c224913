// Package allocator computes the deterministic Equal-Share-With-Minimums
// allocation map described in spec.md §4.4.
package allocator

import (
	"sort"

	"loadsharing/internal/deci"
	"loadsharing/internal/groupconfig"
	"loadsharing/internal/peertypes"
)

// Peer is one input row to Compute: a peer's identity, online flag and
// status snapshot. The "self" peer uses peertypes.SelfID as DeviceID.
type Peer struct {
	DeviceID string
	Online   bool
	Status   peertypes.Status
}

// Result is the full allocation map plus the availability accounting
// that spec.md §8's "Offline accounting" property checks.
type Result struct {
	Allocations map[string]peertypes.Allocation // keyed by DeviceID
	Order       []string                        // DeviceID order used for the computation
	Available   deci.Amps                       // I_avail
	Reserved    deci.Amps                       // Σ offline reserve
}

// Compute runs the allocation algorithm over peers (including "self")
// given cfg. It is a pure function: identical inputs produce a
// byte-identical Result on every node (spec.md §8 determinism property).
func Compute(cfg groupconfig.Config, peers []Peer) Result {
	sorted := append([]Peer(nil), peers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DeviceID < sorted[j].DeviceID })

	groupMax := deci.FromFloat(cfg.GroupMaxA * cfg.SafetyFactor)
	minA := deci.FromFloat(cfg.MinCurrentA)

	var offlineCount int
	for _, p := range sorted {
		if !p.Online {
			offlineCount++
		}
	}
	reserve := deci.FromFloat(cfg.FailsafePeerAssumedCurrentA).Mul(offlineCount)
	avail := deci.MaxZero(groupMax - reserve)

	res := Result{
		Allocations: make(map[string]peertypes.Allocation, len(sorted)),
		Order:       make([]string, 0, len(sorted)),
		Available:   avail,
		Reserved:    reserve,
	}
	for _, p := range sorted {
		res.Order = append(res.Order, p.DeviceID)
	}

	// Offline peers always read 0 with their reservation reason,
	// regardless of branch below.
	var demanding []Peer
	for _, p := range sorted {
		if !p.Online {
			res.Allocations[p.DeviceID] = peertypes.Allocation{
				PeerID: p.DeviceID, TargetCurrentA: 0, Reason: peertypes.ReasonOfflineReserve,
			}
			continue
		}
		if demands(p) {
			demanding = append(demanding, p)
		} else {
			res.Allocations[p.DeviceID] = peertypes.Allocation{
				PeerID: p.DeviceID, TargetCurrentA: 0, Reason: peertypes.ReasonNoDemand,
			}
		}
	}

	if len(demanding) == 0 {
		return res
	}

	maxOf := func(p Peer) deci.Amps {
		if p.Status.Pilot > 0 {
			return deci.FromFloat(p.Status.Pilot)
		}
		if cfg.PerNodeCapA > 0 {
			return deci.FromFloat(cfg.PerNodeCapA)
		}
		return groupMax
	}

	sumMin := minA.Mul(len(demanding))

	if avail >= sumMin {
		grant := equalShareWithCaps(demanding, avail, minA, maxOf)
		for id, amt := range grant.amounts {
			reason := peertypes.ReasonEqualShare
			if grant.capped[id] {
				reason = peertypes.ReasonCappedAtMax
			}
			res.Allocations[id] = peertypes.Allocation{PeerID: id, TargetCurrentA: amt.Float(), Reason: reason}
		}
	} else {
		remaining := avail
		for _, p := range demanding {
			if remaining >= minA {
				res.Allocations[p.DeviceID] = peertypes.Allocation{
					PeerID: p.DeviceID, TargetCurrentA: minA.Float(), Reason: peertypes.ReasonEqualShare,
				}
				remaining -= minA
			} else {
				res.Allocations[p.DeviceID] = peertypes.Allocation{
					PeerID: p.DeviceID, TargetCurrentA: 0, Reason: peertypes.ReasonStarvedBySort,
				}
			}
		}
	}

	enforceBudget(&res, groupMax, sorted)
	return res
}

func demands(p Peer) bool {
	return p.Status.Vehicle == 1 && peertypes.ChargePermittingStates(p.Status.State)
}

type shareResult struct {
	amounts map[string]deci.Amps
	capped  map[string]bool
}

// equalShareWithCaps implements spec.md §4.4 step 2: give each peer its
// minimum, distribute the remainder equally, cap at max_i, redistribute
// any surplus produced by capping, iterating until stable.
func equalShareWithCaps(demanding []Peer, avail, minA deci.Amps, maxOf func(Peer) deci.Amps) shareResult {
	amounts := make(map[string]deci.Amps, len(demanding))
	capped := make(map[string]bool, len(demanding))
	uncapped := make(map[string]bool, len(demanding))
	caps := make(map[string]deci.Amps, len(demanding))

	for _, p := range demanding {
		amounts[p.DeviceID] = minA
		caps[p.DeviceID] = maxOf(p)
		uncapped[p.DeviceID] = true
	}
	remainder := avail - minA.Mul(len(demanding))

	for {
		numUncapped := 0
		for id := range uncapped {
			if uncapped[id] {
				numUncapped++
			}
		}
		if numUncapped == 0 || remainder <= 0 {
			break
		}
		share := remainder / deci.Amps(numUncapped)
		leftover := remainder - share*deci.Amps(numUncapped)

		var surplus deci.Amps
		changed := false
		// Stable iteration order for determinism.
		ids := make([]string, 0, len(demanding))
		for _, p := range demanding {
			ids = append(ids, p.DeviceID)
		}
		firstUncapped := ""
		for _, id := range ids {
			if uncapped[id] {
				firstUncapped = id
				break
			}
		}
		for _, id := range ids {
			if !uncapped[id] {
				continue
			}
			add := share
			if id == firstUncapped {
				add += leftover // assign rounding leftover to the lex-first uncapped peer
			}
			newAmt := amounts[id] + add
			if newAmt > caps[id] {
				surplus += newAmt - caps[id]
				amounts[id] = caps[id]
				uncapped[id] = false
				capped[id] = true
				changed = true
			} else {
				amounts[id] = newAmt
			}
		}
		remainder = surplus
		if !changed {
			break
		}
	}
	return shareResult{amounts: amounts, capped: capped}
}

// enforceBudget shaves 0.1 A from the lex-last peer if rounding pushed
// the sum over budget (spec.md §4.4's "Numeric semantics").
func enforceBudget(res *Result, groupMax deci.Amps, sorted []Peer) {
	var total deci.Amps
	for _, a := range res.Allocations {
		total += deci.FromFloat(a.TargetCurrentA)
	}
	if total <= groupMax {
		return
	}
	for i := len(sorted) - 1; i >= 0 && total > groupMax; i-- {
		id := sorted[i].DeviceID
		a, ok := res.Allocations[id]
		if !ok {
			continue
		}
		amt := deci.FromFloat(a.TargetCurrentA)
		if amt <= 0 {
			continue
		}
		a.TargetCurrentA = (amt - 1).Float()
		res.Allocations[id] = a
		total--
	}
}
