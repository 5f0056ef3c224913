package configsync

import (
	"testing"

	"loadsharing/internal/groupconfig"
	"loadsharing/internal/store"
)

func newKV(t *testing.T) *store.Store {
	t.Helper()
	kv, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return kv
}

func TestFingerprint_StableUnderMemberReorder(t *testing.T) {
	cfg := groupconfig.Config{GroupID: "garage", GroupMaxA: 50, SafetyFactor: 0.9, ConfigVersion: 3}

	v1, h1 := Fingerprint(cfg, []string{"b.local", "a.local", "c.local"})
	v2, h2 := Fingerprint(cfg, []string{"c.local", "a.local", "b.local"})

	if v1 != v2 {
		t.Errorf("version should be unaffected by member order: %v vs %v", v1, v2)
	}
	if h1 != h2 {
		t.Errorf("hash should be stable regardless of member order: %v vs %v", h1, h2)
	}
}

func TestFingerprint_ChangesWithGroupMax(t *testing.T) {
	cfg1 := groupconfig.Config{GroupID: "garage", GroupMaxA: 50, SafetyFactor: 0.9, ConfigVersion: 3}
	cfg2 := cfg1
	cfg2.GroupMaxA = 40

	_, h1 := Fingerprint(cfg1, []string{"a.local"})
	_, h2 := Fingerprint(cfg2, []string{"a.local"})
	if h1 == h2 {
		t.Error("expected different hash after group_max_current_a changed")
	}
}

func TestSyncer_ConsistentInitially(t *testing.T) {
	kv := newTestStore(t)
	s := NewSyncer(kv, func() string { return "node-a" }, func() []string { return nil })
	if !s.Consistent() {
		t.Error("expected a freshly created syncer to be consistent")
	}
}

func TestEffectiveGroupMax_NoDivergenceReturnsLocal(t *testing.T) {
	kv := newTestStore(t)
	s := NewSyncer(kv, func() string { return "node-a" }, func() []string { return nil })
	if got := s.EffectiveGroupMax(40); got != 40 {
		t.Errorf("EffectiveGroupMax() = %v, want 40 when no divergence recorded", got)
	}
}

func newTestStore(t *testing.T) *groupconfig.Store {
	t.Helper()
	return groupconfig.NewStore(newKV(t))
}
