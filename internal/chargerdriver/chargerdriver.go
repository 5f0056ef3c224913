// Package chargerdriver defines the contract to the out-of-scope local
// charging-hardware driver (spec.md §1: "consumes a target current")
// plus a logging stub, in the teacher's injectable-writer idiom
// (networkdwriter.Writer, nixwriter.Writer).
package chargerdriver

import (
	"log"

	"loadsharing/internal/peertypes"
)

// Driver is the external collaborator contract: it consumes a power
// cap and an "other load" figure, and reports whether the node's own
// sensors currently have a trustworthy reading (spec.md §4.5's "the
// node itself lacks a valid current status for its own sensors").
type Driver interface {
	// SetLimits applies maxPowerW as this node's own cap and
	// otherLoadW as the sum of peers' observed consumption.
	SetLimits(maxPowerW, otherLoadW float64) error
	// SelfSensorsValid reports whether the local hardware's own
	// current/voltage reading can be trusted right now.
	SelfSensorsValid() bool
	// MeasuredVoltage is the local node's own measured voltage,
	// used by the Enforcement Bridge's voltage-selection fallback
	// (spec.md §4.7).
	MeasuredVoltage() float64
	// LocalStatus reports this node's own live EVSE status — the same
	// shape a peer reports over /status and /ws, since this node is
	// itself a peer to everyone else in the group.
	LocalStatus() peertypes.Status
}

// LoggingStub is a no-op Driver that only logs — the default wiring
// when no real hardware driver is injected, mirroring the teacher's
// "nil on non-NixOS systems" graceful-fallback habit.
type LoggingStub struct {
	NominalVoltage float64
}

// NewLoggingStub returns a stub reporting a trustworthy 240V nominal
// supply, matching spec.md §4.7's "240V nominal" fallback.
func NewLoggingStub() *LoggingStub {
	return &LoggingStub{NominalVoltage: 240}
}

func (s *LoggingStub) SetLimits(maxPowerW, otherLoadW float64) error {
	log.Printf("chargerdriver: (stub) max_power=%.1fW other_load=%.1fW", maxPowerW, otherLoadW)
	return nil
}

func (s *LoggingStub) SelfSensorsValid() bool { return true }

func (s *LoggingStub) MeasuredVoltage() float64 { return s.NominalVoltage }

// LocalStatus reports an idle, no-vehicle status by default — a real
// driver overrides this with the live EVSE reading.
func (s *LoggingStub) LocalStatus() peertypes.Status {
	return peertypes.Status{Voltage: s.NominalVoltage, State: peertypes.StateIdle}
}
