package allocator

import (
	"testing"

	"loadsharing/internal/groupconfig"
	"loadsharing/internal/peertypes"
)

func demandingPeer(id string, amp float64) Peer {
	return Peer{
		DeviceID: id,
		Online:   true,
		Status:   peertypes.Status{Vehicle: 1, State: peertypes.StateCharging, Amp: amp},
	}
}

func baseCfg() groupconfig.Config {
	return groupconfig.Config{
		GroupMaxA:    50,
		SafetyFactor: 1.0,
		MinCurrentA:  6,
	}
}

func TestCompute_EqualShareTwoPeers(t *testing.T) {
	cfg := baseCfg()
	peers := []Peer{demandingPeer("a", 0), demandingPeer("b", 0)}
	res := Compute(cfg, peers)

	if got := res.Allocations["a"].TargetCurrentA; got != 25 {
		t.Errorf("peer a = %v, want 25", got)
	}
	if got := res.Allocations["b"].TargetCurrentA; got != 25 {
		t.Errorf("peer b = %v, want 25", got)
	}
}

func TestCompute_OfflineReserve(t *testing.T) {
	cfg := baseCfg()
	cfg.GroupMaxA = 50
	cfg.FailsafePeerAssumedCurrentA = 6
	peers := []Peer{
		demandingPeer("a", 0),
		demandingPeer("b", 0),
		{DeviceID: "c", Online: false},
	}
	res := Compute(cfg, peers)

	if got := res.Allocations["c"].TargetCurrentA; got != 0 {
		t.Errorf("offline peer c = %v, want 0", got)
	}
	if res.Allocations["c"].Reason != peertypes.ReasonOfflineReserve {
		t.Errorf("offline peer c reason = %v, want %v", res.Allocations["c"].Reason, peertypes.ReasonOfflineReserve)
	}
	if got := res.Allocations["a"].TargetCurrentA; got != 22 {
		t.Errorf("peer a = %v, want 22", got)
	}
	if got := res.Allocations["b"].TargetCurrentA; got != 22 {
		t.Errorf("peer b = %v, want 22", got)
	}
}

func TestCompute_StarvationBySort(t *testing.T) {
	cfg := baseCfg()
	cfg.GroupMaxA = 18
	cfg.MinCurrentA = 6
	peers := []Peer{demandingPeer("a", 0), demandingPeer("b", 0), demandingPeer("c", 0), demandingPeer("d", 0)}
	res := Compute(cfg, peers)

	for _, id := range []string{"a", "b", "c"} {
		if got := res.Allocations[id].TargetCurrentA; got != 6 {
			t.Errorf("peer %s = %v, want 6", id, got)
		}
	}
	if got := res.Allocations["d"].TargetCurrentA; got != 0 {
		t.Errorf("peer d = %v, want 0", got)
	}
	if res.Allocations["d"].Reason != peertypes.ReasonStarvedBySort {
		t.Errorf("peer d reason = %v, want %v", res.Allocations["d"].Reason, peertypes.ReasonStarvedBySort)
	}
}

func TestCompute_CapRedistribution(t *testing.T) {
	cfg := baseCfg()
	cfg.GroupMaxA = 60
	cfg.MinCurrentA = 6
	peers := []Peer{
		{DeviceID: "a", Online: true, Status: peertypes.Status{Vehicle: 1, State: peertypes.StateCharging, Pilot: 10}},
		demandingPeer("b", 0),
		demandingPeer("c", 0),
	}
	res := Compute(cfg, peers)

	if got := res.Allocations["a"].TargetCurrentA; got != 10 {
		t.Errorf("capped peer a = %v, want 10", got)
	}
	if res.Allocations["a"].Reason != peertypes.ReasonCappedAtMax {
		t.Errorf("peer a reason = %v, want %v", res.Allocations["a"].Reason, peertypes.ReasonCappedAtMax)
	}
	if got := res.Allocations["b"].TargetCurrentA; got != 25 {
		t.Errorf("peer b = %v, want 25", got)
	}
	if got := res.Allocations["c"].TargetCurrentA; got != 25 {
		t.Errorf("peer c = %v, want 25", got)
	}
}

func TestCompute_NoDemandGetsZero(t *testing.T) {
	cfg := baseCfg()
	peers := []Peer{
		demandingPeer("a", 0),
		{DeviceID: "b", Online: true, Status: peertypes.Status{Vehicle: 0, State: peertypes.StateIdle}},
	}
	res := Compute(cfg, peers)

	if got := res.Allocations["b"].TargetCurrentA; got != 0 {
		t.Errorf("non-demanding peer b = %v, want 0", got)
	}
	if res.Allocations["b"].Reason != peertypes.ReasonNoDemand {
		t.Errorf("peer b reason = %v, want %v", res.Allocations["b"].Reason, peertypes.ReasonNoDemand)
	}
	if got := res.Allocations["a"].TargetCurrentA; got != 50 {
		t.Errorf("sole demanding peer a = %v, want 50", got)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	cfg := baseCfg()
	peers := []Peer{demandingPeer("x", 0), demandingPeer("m", 0), demandingPeer("a", 0)}

	first := Compute(cfg, peers)
	for i := 0; i < 10; i++ {
		again := Compute(cfg, peers)
		for id, alloc := range first.Allocations {
			if again.Allocations[id] != alloc {
				t.Fatalf("non-deterministic result for %s: %v vs %v", id, alloc, again.Allocations[id])
			}
		}
	}
}

func TestCompute_SumNeverExceedsGroupMax(t *testing.T) {
	cfg := baseCfg()
	cfg.GroupMaxA = 10.3
	cfg.MinCurrentA = 1
	peers := []Peer{demandingPeer("a", 0), demandingPeer("b", 0), demandingPeer("c", 0)}
	res := Compute(cfg, peers)

	var total float64
	for _, a := range res.Allocations {
		total += a.TargetCurrentA
	}
	if total > cfg.GroupMaxA+1e-9 {
		t.Errorf("sum %v exceeds group max %v", total, cfg.GroupMaxA)
	}
}
