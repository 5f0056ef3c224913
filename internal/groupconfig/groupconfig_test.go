package groupconfig

import (
	"testing"
	"time"

	"loadsharing/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	kv, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return NewStore(kv)
}

func TestValidate_RejectsMissingGroupID(t *testing.T) {
	c := Default()
	if err := c.Validate(); err == nil {
		t.Error("expected error for missing group_id")
	}
}

func TestValidate_RejectsOutOfRangeSafetyFactor(t *testing.T) {
	c := Default()
	c.GroupID = "garage"
	c.SafetyFactor = 1.5
	if err := c.Validate(); err == nil {
		t.Error("expected error for safety_factor > 1")
	}
}

func TestStore_LoadMissingReturnsDefault(t *testing.T) {
	s := newTestStore(t)
	c := s.Load()
	if c.FailsafeMode != FailsafeDisable {
		t.Errorf("expected default failsafe mode, got %v", c.FailsafeMode)
	}
}

func TestStore_SaveIncrementsVersion(t *testing.T) {
	s := newTestStore(t)
	c := Default()
	c.GroupID = "garage"

	saved, err := s.Save(c, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.ConfigVersion != c.ConfigVersion+1 {
		t.Errorf("ConfigVersion = %v, want %v", saved.ConfigVersion, c.ConfigVersion+1)
	}
	if saved.ConfigUpdatedAt != 1000 {
		t.Errorf("ConfigUpdatedAt = %v, want 1000", saved.ConfigUpdatedAt)
	}

	reloaded := s.Load()
	if reloaded.ConfigVersion != saved.ConfigVersion {
		t.Errorf("reloaded version = %v, want %v", reloaded.ConfigVersion, saved.ConfigVersion)
	}
}

func TestStore_SaveRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	c := Default() // no group_id
	if _, err := s.Save(c, time.Now()); err == nil {
		t.Error("expected Save to reject an invalid config")
	}
}
