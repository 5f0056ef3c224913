// Package failsafe overrides the allocator's self-allocation when
// conditions warrant — spec.md §4.5.
package failsafe

import (
	"loadsharing/internal/deci"
	"loadsharing/internal/groupconfig"
	"loadsharing/internal/peertypes"
)

// PeerView is the minimal per-peer input the supervisor needs: whether
// a joined peer is currently online.
type PeerView struct {
	DeviceID string
	Online   bool
}

// Evaluation is the supervisor's verdict for one computation cycle.
type Evaluation struct {
	Engaged        bool
	SelfAllocation deci.Amps // possibly overridden
	Reason         string
}

// Evaluate applies spec.md §4.5's rules. selfAlloc is the allocator's
// unmodified self-allocation; selfSensorsValid reflects the external
// collaborator signal for the node's own sensors.
func Evaluate(cfg groupconfig.Config, joined []PeerView, selfAlloc deci.Amps, selfSensorsValid bool) Evaluation {
	if len(joined) == 0 {
		// "group of one" — failsafe never engages.
		return Evaluation{Engaged: false, SelfAllocation: selfAlloc}
	}

	allOffline := true
	for _, p := range joined {
		if p.Online {
			allOffline = false
			break
		}
	}

	engage := allOffline || !selfSensorsValid
	if !engage {
		return Evaluation{Engaged: false, SelfAllocation: selfAlloc}
	}

	switch cfg.FailsafeMode {
	case groupconfig.FailsafeDisable:
		return Evaluation{Engaged: true, SelfAllocation: deci.Zero, Reason: peertypes.ReasonFailsafe}
	case groupconfig.FailsafeSafeCurrent:
		safe := deci.FromFloat(cfg.FailsafeSafeCurrentA)
		return Evaluation{Engaged: true, SelfAllocation: deci.Min(safe, selfAlloc), Reason: peertypes.ReasonFailsafe}
	default:
		// Unknown mode: be conservative.
		return Evaluation{Engaged: true, SelfAllocation: deci.Zero, Reason: peertypes.ReasonFailsafe}
	}
}
