package chargerdriver

import "testing"

func TestShellDriver_StatusFailureMarksSensorsInvalid(t *testing.T) {
	d := NewShellDriver("/nonexistent/openevse-ctl-binary")
	st := d.LocalStatus()
	if st.State != "idle" {
		t.Errorf("expected idle fallback status, got %+v", st)
	}
	if d.SelfSensorsValid() {
		t.Error("expected SelfSensorsValid to be false after a failed status query")
	}
}

func TestShellDriver_MeasuredVoltageFallsBackToNominal(t *testing.T) {
	d := NewShellDriver("/nonexistent/openevse-ctl-binary")
	if got := d.MeasuredVoltage(); got != d.nominalVoltage {
		t.Errorf("MeasuredVoltage() = %v, want nominal %v on query failure", got, d.nominalVoltage)
	}
}
