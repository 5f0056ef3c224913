package enforcement

import (
	"testing"

	"loadsharing/internal/deci"
	"loadsharing/internal/peertypes"
)

type stubDriver struct {
	voltage   float64
	applied   int
	lastMax   float64
	lastOther float64
}

func (f *stubDriver) SetLimits(maxPowerW, otherLoadW float64) error {
	f.applied++
	f.lastMax = maxPowerW
	f.lastOther = otherLoadW
	return nil
}
func (f *stubDriver) SelfSensorsValid() bool   { return true }
func (f *stubDriver) MeasuredVoltage() float64 { return f.voltage }
func (f *stubDriver) LocalStatus() peertypes.Status {
	return peertypes.Status{Voltage: f.voltage, State: peertypes.StateIdle}
}

func TestSelectVoltage_Priority(t *testing.T) {
	if got := SelectVoltage(230, 240); got != 230 {
		t.Errorf("expected reported voltage to win, got %v", got)
	}
	if got := SelectVoltage(0, 238); got != 238 {
		t.Errorf("expected local measured voltage fallback, got %v", got)
	}
	if got := SelectVoltage(0, 0); got != NominalVoltage {
		t.Errorf("expected nominal voltage fallback, got %v", got)
	}
}

func TestBridge_FirstApplyAlwaysEmits(t *testing.T) {
	d := &stubDriver{voltage: 240}
	b := NewBridge(d)
	b.Apply(deci.FromFloat(16), nil, false)
	if d.applied != 1 {
		t.Fatalf("expected first Apply to emit, applied=%d", d.applied)
	}
}

func TestBridge_SuppressesBelowThreshold(t *testing.T) {
	d := &stubDriver{voltage: 240}
	b := NewBridge(d)
	b.Apply(deci.FromFloat(16), nil, false)
	b.Apply(deci.FromFloat(16.01), nil, false)
	if d.applied != 1 {
		t.Errorf("expected tiny change to be suppressed, applied=%d", d.applied)
	}
}

func TestBridge_EmitsOnFailsafeFlip(t *testing.T) {
	d := &stubDriver{voltage: 240}
	b := NewBridge(d)
	b.Apply(deci.FromFloat(16), nil, false)
	b.Apply(deci.FromFloat(16), nil, true)
	if d.applied != 2 {
		t.Errorf("expected failsafe state flip to force emission, applied=%d", d.applied)
	}
}
