// Package peertypes holds the shared data model for peers, their
// status snapshots, and computed allocations — spec.md §3.
package peertypes

import "time"

// EVSE state codes reported by a peer's /status. Unknown values are
// treated as non-demanding per spec.md §9's open question.
const (
	StateIdle      = "idle"
	StateConnected = "connected"
	StateCharging  = "charging"
)

// ChargePermittingStates returns true if state permits the allocator to
// consider the peer as demanding.
func ChargePermittingStates(state string) bool {
	switch state {
	case StateConnected, StateCharging:
		return true
	default:
		return false
	}
}

// Status is the live snapshot reported by a peer (spec.md §3's
// "status" sub-object), plus the config fingerprint carried in every
// message per spec.md §4.6.
type Status struct {
	DeviceID      string  `json:"device_id,omitempty"`
	Amp           float64 `json:"amp"`
	Voltage       float64 `json:"voltage"`
	Pilot         float64 `json:"pilot"`
	Vehicle       int     `json:"vehicle"`
	State         string  `json:"state"`
	ConfigVersion uint64  `json:"config_version"`
	ConfigHash    string  `json:"config_hash"`
}

// StatusDelta is a partial status update: only non-nil fields were
// present in the inbound message and should overwrite the cached
// snapshot (spec.md §4.3: "Each subsequent message is a delta — merge
// into the cached snapshot"). Unknown fields in the wire JSON are
// ignored by construction (we only unmarshal into named fields).
type StatusDelta struct {
	DeviceID      *string  `json:"device_id,omitempty"`
	Amp           *float64 `json:"amp,omitempty"`
	Voltage       *float64 `json:"voltage,omitempty"`
	Pilot         *float64 `json:"pilot,omitempty"`
	Vehicle       *int     `json:"vehicle,omitempty"`
	State         *string  `json:"state,omitempty"`
	ConfigVersion *uint64  `json:"config_version,omitempty"`
	ConfigHash    *string  `json:"config_hash,omitempty"`
}

// MergeInto applies non-nil fields of the delta onto st.
func (d StatusDelta) MergeInto(st *Status) {
	if d.DeviceID != nil {
		st.DeviceID = *d.DeviceID
	}
	if d.Amp != nil {
		st.Amp = *d.Amp
	}
	if d.Voltage != nil {
		st.Voltage = *d.Voltage
	}
	if d.Pilot != nil {
		st.Pilot = *d.Pilot
	}
	if d.Vehicle != nil {
		st.Vehicle = *d.Vehicle
	}
	if d.State != nil {
		st.State = *d.State
	}
	if d.ConfigVersion != nil {
		st.ConfigVersion = *d.ConfigVersion
	}
	if d.ConfigHash != nil {
		st.ConfigHash = *d.ConfigHash
	}
}

// Record is one known peer (spec.md §3's Peer Record).
type Record struct {
	Host     string `json:"host"`
	DeviceID string `json:"device_id"`
	IP       string `json:"ip"`
	Online   bool   `json:"online"`

	// LastSeen is a monotonic timestamp of the last successful message.
	// It is process-local and never persisted (spec.md §3 Lifecycle:
	// "Cached snapshot survives transient disconnection; it does not
	// survive process restart").
	LastSeen time.Time `json:"-"`

	Status Status `json:"status"`

	// Joined is true when the operator has added this host to the
	// registry's configured member set (spec.md glossary: "Joined peer").
	Joined bool `json:"joined"`
	// Discovered is true when this host currently appears in the
	// discovery snapshot (spec.md §4.1/§4.2).
	Discovered bool `json:"discovered"`
}

// Demands reports whether this peer currently demands current, per
// spec.md §4.4's demand mask: online AND vehicle==1 AND charge-permitting
// state.
func (r *Record) Demands() bool {
	return r.Online && r.Status.Vehicle == 1 && ChargePermittingStates(r.Status.State)
}

// Reason codes emitted by the allocator (spec.md §4.4).
const (
	ReasonNoDemand       = "no_demand"
	ReasonEqualShare     = "equal_share"
	ReasonCappedAtMax    = "capped_at_max"
	ReasonStarvedBySort  = "starved_by_sort"
	ReasonOfflineReserve = "offline_reserved"
	ReasonFailsafe       = "failsafe"
)

// Allocation is one entry of the allocator's output map (spec.md §3).
type Allocation struct {
	PeerID         string  `json:"peer_id"`
	TargetCurrentA float64 `json:"target_current_a"`
	Reason         string  `json:"reason"`
}

// SelfID is the reserved peer_id for the local node's own allocation
// entry, per spec.md §3 ("plus an entry for 'self'").
const SelfID = "self"
