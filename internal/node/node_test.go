package node

import (
	"testing"
	"time"

	"loadsharing/internal/chargerdriver"
	"loadsharing/internal/peertypes"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	n, err := New(Config{
		DeviceID: "self-node",
		SelfHost: "self.local:8080",
		Version:  "test",
		StoreDir: t.TempDir(),
		Driver:   chargerdriver.NewLoggingStub(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func TestNew_BuildsWiredNode(t *testing.T) {
	n := newTestNode(t)
	if n.Registry == nil || n.Ingestor == nil || n.Syncer == nil || n.Hub == nil {
		t.Fatal("expected New to wire every component")
	}
}

func TestEvaluate_SelfOnlyGetsZeroOnDefaultConfig(t *testing.T) {
	n := newTestNode(t)
	// Default() config has GroupMaxA == 0 and the node itself reports an
	// idle, non-demanding status, so the allocator has no budget and no
	// demand — Evaluate should run without panicking and record history.
	n.Evaluate()

	hist := n.History()
	if len(hist) != 1 {
		t.Fatalf("expected one history entry after Evaluate, got %d", len(hist))
	}
	result := n.LastResult()
	if alloc, ok := result.Allocations["self-node"]; !ok || alloc.TargetCurrentA != 0 {
		t.Errorf("expected self allocation of 0 with idle status, got %+v", alloc)
	}
	if _, ok := result.Allocations[peertypes.SelfID]; !ok {
		t.Error("expected a duplicate entry under the reserved self id")
	}
}

func TestEvaluate_HistoryRingBufferCaps(t *testing.T) {
	n := newTestNode(t)
	for i := 0; i < HistoryDepth+10; i++ {
		n.Evaluate()
	}
	if got := len(n.History()); got != HistoryDepth {
		t.Errorf("History() length = %d, want capped at %d", got, HistoryDepth)
	}
}

func TestShutdown_CompletesWithinBudget(t *testing.T) {
	n := newTestNode(t)
	n.Start()
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		n.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Shutdown did not return within its budget")
	}
}
