package failsafe

import (
	"testing"

	"loadsharing/internal/deci"
	"loadsharing/internal/groupconfig"
	"loadsharing/internal/peertypes"
)

func TestEvaluate_GroupOfOneNeverEngages(t *testing.T) {
	cfg := groupconfig.Config{FailsafeMode: groupconfig.FailsafeDisable}
	got := Evaluate(cfg, nil, deci.FromFloat(30), false)
	if got.Engaged {
		t.Errorf("group of one should never engage failsafe, got %+v", got)
	}
	if got.SelfAllocation != deci.FromFloat(30) {
		t.Errorf("self allocation should pass through unmodified, got %v", got.SelfAllocation)
	}
}

func TestEvaluate_AllPeersOffline_Disable(t *testing.T) {
	cfg := groupconfig.Config{FailsafeMode: groupconfig.FailsafeDisable}
	joined := []PeerView{{DeviceID: "a", Online: false}, {DeviceID: "b", Online: false}}
	got := Evaluate(cfg, joined, deci.FromFloat(30), true)

	if !got.Engaged {
		t.Fatal("expected failsafe to engage when all peers offline")
	}
	if got.SelfAllocation != deci.Zero {
		t.Errorf("disable mode should zero self allocation, got %v", got.SelfAllocation)
	}
	if got.Reason != peertypes.ReasonFailsafe {
		t.Errorf("reason = %v, want %v", got.Reason, peertypes.ReasonFailsafe)
	}
}

func TestEvaluate_AllPeersOffline_SafeCurrent(t *testing.T) {
	cfg := groupconfig.Config{FailsafeMode: groupconfig.FailsafeSafeCurrent, FailsafeSafeCurrentA: 16}
	joined := []PeerView{{DeviceID: "a", Online: false}}

	got := Evaluate(cfg, joined, deci.FromFloat(30), true)
	if got.SelfAllocation != deci.FromFloat(16) {
		t.Errorf("expected capped at safe current 16, got %v", got.SelfAllocation.Float())
	}

	got = Evaluate(cfg, joined, deci.FromFloat(10), true)
	if got.SelfAllocation != deci.FromFloat(10) {
		t.Errorf("expected min(safe,self)=10, got %v", got.SelfAllocation.Float())
	}
}

func TestEvaluate_OnePeerOnline_NoEngage(t *testing.T) {
	cfg := groupconfig.Config{FailsafeMode: groupconfig.FailsafeDisable}
	joined := []PeerView{{DeviceID: "a", Online: true}, {DeviceID: "b", Online: false}}
	got := Evaluate(cfg, joined, deci.FromFloat(30), true)
	if got.Engaged {
		t.Errorf("expected no engagement with at least one peer online, got %+v", got)
	}
}

func TestEvaluate_InvalidSelfSensors(t *testing.T) {
	cfg := groupconfig.Config{FailsafeMode: groupconfig.FailsafeDisable}
	joined := []PeerView{{DeviceID: "a", Online: true}}
	got := Evaluate(cfg, joined, deci.FromFloat(30), false)
	if !got.Engaged {
		t.Errorf("expected engagement when self sensors invalid even with peers online")
	}
}

func TestEvaluate_UnknownModeIsConservative(t *testing.T) {
	cfg := groupconfig.Config{FailsafeMode: "bogus"}
	joined := []PeerView{{DeviceID: "a", Online: false}}
	got := Evaluate(cfg, joined, deci.FromFloat(30), true)
	if got.SelfAllocation != deci.Zero {
		t.Errorf("unknown mode should be conservative (zero), got %v", got.SelfAllocation)
	}
}
