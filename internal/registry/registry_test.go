package registry

import (
	"testing"

	"loadsharing/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	kv, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return New(kv, "self.local:8080", nil)
}

func TestAdd_RejectsInvalidHost(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Add("not-a-host"); err == nil {
		t.Error("expected error adding host without '.' or ':'")
	}
}

func TestAdd_RejectsSelf(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Add("self.local:8080"); err == nil {
		t.Error("expected error adding own host")
	}
}

func TestAdd_RejectsDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Add("peer-a.local"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add("peer-a.local"); err == nil {
		t.Error("expected error adding duplicate host")
	}
}

func TestAddRemove_RoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Add("peer-a.local"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !r.IsJoined("peer-a.local") {
		t.Error("expected peer-a.local to be joined")
	}
	if err := r.Remove("peer-a.local"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if r.IsJoined("peer-a.local") {
		t.Error("expected peer-a.local to no longer be joined")
	}
}

func TestAddRemove_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	kv, err := store.New(dir)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	r1 := New(kv, "self.local", nil)
	if err := r1.Add("peer-a.local:8080"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	kv2, err := store.New(dir)
	if err != nil {
		t.Fatalf("store.New reload: %v", err)
	}
	r2 := New(kv2, "self.local", nil)
	if !r2.IsJoined("peer-a.local:8080") {
		t.Error("expected persisted membership to survive reload")
	}
}

func TestRemove_UnknownHostErrors(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Remove("ghost.local"); err == nil {
		t.Error("expected error removing a host that was never joined")
	}
}

func TestList_EnrichesDeviceIDFromLookup(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Add("peer-a.local"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	r.SetDeviceLookup(func(host string) string {
		if host == "peer-a.local" {
			return "evse-42"
		}
		return ""
	})

	entries := r.List(true, true)
	if len(entries) != 1 || entries[0].DeviceID != "evse-42" {
		t.Errorf("expected List to enrich device_id via the lookup, got %+v", entries)
	}
}

func TestList_NoLookupLeavesDeviceIDEmpty(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Add("peer-a.local"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	entries := r.List(true, true)
	if len(entries) != 1 || entries[0].DeviceID != "" {
		t.Errorf("expected empty device_id with no lookup wired, got %+v", entries)
	}
}

func TestMembers_CaseInsensitive(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Add("Peer-A.Local:8080"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	members := r.Members()
	if len(members) != 1 || members[0] != "peer-a.local:8080" {
		t.Errorf("expected lower-cased membership, got %v", members)
	}
}
