package chargerdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"time"

	"loadsharing/internal/peertypes"
)

// commandTimeout bounds every shelled-out call so a hung EVSE control
// binary can never stall the enforcement loop — the teacher's
// cmdutil.Run pattern (context.WithTimeout + CombinedOutput), adapted
// from a ZFS/disk command runner to an EVSE control-binary runner.
const commandTimeout = 10 * time.Second

func runWithTimeout(name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("chargerdriver: command timed out after %v: %s %v", commandTimeout, name, args)
	}
	return output, err
}

// ShellDriver controls a real EVSE through an external control binary,
// the shape a site-specific chargerdriver.Driver takes once hardware is
// wired in (spec.md §1 treats the charger integration as an external
// collaborator out of scope for this module's own logic).
//
// The binary contract:
//   <bin> set-limit <max_power_w> <other_load_w>   — apply a new cap
//   <bin> status                                   — print peertypes.Status as JSON
type ShellDriver struct {
	bin            string
	lastValid      bool
	nominalVoltage float64
}

// NewShellDriver wires a ShellDriver to an external control binary.
func NewShellDriver(bin string) *ShellDriver {
	return &ShellDriver{bin: bin, lastValid: true, nominalVoltage: 240}
}

func (d *ShellDriver) SetLimits(maxPowerW, otherLoadW float64) error {
	_, err := runWithTimeout(d.bin, "set-limit",
		fmt.Sprintf("%.1f", maxPowerW), fmt.Sprintf("%.1f", otherLoadW))
	if err != nil {
		log.Printf("chargerdriver: set-limit failed: %v", err)
		return err
	}
	return nil
}

func (d *ShellDriver) SelfSensorsValid() bool {
	return d.lastValid
}

func (d *ShellDriver) MeasuredVoltage() float64 {
	st := d.fetchStatus()
	if st.Voltage > 0 {
		return st.Voltage
	}
	return d.nominalVoltage
}

func (d *ShellDriver) LocalStatus() peertypes.Status {
	return d.fetchStatus()
}

func (d *ShellDriver) fetchStatus() peertypes.Status {
	out, err := runWithTimeout(d.bin, "status")
	if err != nil {
		log.Printf("chargerdriver: status query failed: %v", err)
		d.lastValid = false
		return peertypes.Status{State: peertypes.StateIdle}
	}
	var st peertypes.Status
	if err := json.Unmarshal(out, &st); err != nil {
		log.Printf("chargerdriver: parse status output: %v", err)
		d.lastValid = false
		return peertypes.Status{State: peertypes.StateIdle}
	}
	d.lastValid = true
	return st
}
