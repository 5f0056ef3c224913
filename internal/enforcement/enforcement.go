// Package enforcement translates the allocator/failsafe output into
// the two values the charging-hardware driver consumes — spec.md §4.7.
package enforcement

import (
	"loadsharing/internal/chargerdriver"
	"loadsharing/internal/deci"
)

// NominalVoltage is the last-resort fallback, spec.md §4.7.
const NominalVoltage = 240.0

// EmissionThreshold is the minimum change (in Amps, 0.1 A grid) before
// a new value is emitted, spec.md §4.7 ("≥ 0.5 A-equivalent").
const EmissionThreshold = deci.Amps(5) // 0.5A * 10

// PeerLoad is one online peer's observed consumption, used to compute
// live_power.
type PeerLoad struct {
	AmpA    float64
	Voltage float64 // peer-reported voltage, 0 if absent
}

// SelectVoltage applies spec.md §4.7's priority order: peer-reported
// voltage if present and positive, else the local node's measured
// voltage, else 240V nominal.
func SelectVoltage(reported, localMeasured float64) float64 {
	if reported > 0 {
		return reported
	}
	if localMeasured > 0 {
		return localMeasured
	}
	return NominalVoltage
}

// Bridge holds emission-threshold state and applies self-allocation
// and peer loads to the injected Driver.
type Bridge struct {
	driver chargerdriver.Driver

	hasEmitted     bool
	lastMaxPowerW  float64
	lastLiveW      float64
	lastFailsafe   bool
}

// NewBridge wires a Bridge to driver.
func NewBridge(driver chargerdriver.Driver) *Bridge {
	return &Bridge{driver: driver}
}

// Apply computes max_power and live_power and emits them to the driver
// only if either changed by at least EmissionThreshold-worth of power,
// or the failsafe state flipped (spec.md §4.7's emission policy).
func (b *Bridge) Apply(selfAllocation deci.Amps, peers []PeerLoad, failsafeActive bool) {
	voltage := SelectVoltage(0, b.driver.MeasuredVoltage())
	maxPowerW := selfAllocation.Float() * voltage

	var liveW float64
	for _, p := range peers {
		v := SelectVoltage(p.Voltage, b.driver.MeasuredVoltage())
		liveW += p.AmpA * v
	}

	thresholdW := EmissionThreshold.Float() * voltage

	changed := !b.hasEmitted ||
		absFloat(maxPowerW-b.lastMaxPowerW) >= thresholdW ||
		absFloat(liveW-b.lastLiveW) >= thresholdW ||
		failsafeActive != b.lastFailsafe

	if !changed {
		return
	}

	if err := b.driver.SetLimits(maxPowerW, liveW); err != nil {
		// Enforcement is safety-critical but the driver is an external
		// collaborator; a failed apply is logged by the driver itself
		// (see chargerdriver.ShellDriver) and retried on the next cycle,
		// since the last-emitted state is only recorded on success.
		return
	}
	b.hasEmitted = true
	b.lastMaxPowerW = maxPowerW
	b.lastLiveW = liveW
	b.lastFailsafe = failsafeActive
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
