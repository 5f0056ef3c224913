// Package registry owns the set of hosts the operator has declared as
// group members, persisted durably, and joins that set with the
// current discovery snapshot to produce the unified peer view — spec.md
// §4.2.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"loadsharing/internal/discovery"
	"loadsharing/internal/store"
)

const docKey = "loadsharing_peers"

// persistedDoc is the on-disk representation, spec.md §6:
// "loadsharing_peers.json (object with array peers)".
type persistedDoc struct {
	Peers []string `json:"peers"`
}

// Entry is one row returned by List: a host plus its online/joined flags
// and, once known, the peer's self-reported device_id (spec.md §6's
// `GET /loadsharing/peers` row shape).
type Entry struct {
	Host     string `json:"host"`
	DeviceID string `json:"device_id,omitempty"`
	Online   bool   `json:"online"`
	Joined   bool   `json:"joined"`
	IP       string `json:"ip,omitempty"`
}

// Registry is the authoritative in-memory configured-member set, backed
// by a Store document and enriched by a Discovery snapshot.
type Registry struct {
	kv       *store.Store
	selfHost string
	disc     *discovery.Worker

	mu        sync.RWMutex
	members   map[string]struct{} // lower-cased host -> present
	order     []string            // insertion order, lower-cased
	deviceIDs func(host string) string
}

// New creates a Registry. selfHost is excluded from Add per spec.md
// §4.2 ("rejects the node's own host").
func New(kv *store.Store, selfHost string, disc *discovery.Worker) *Registry {
	r := &Registry{
		kv:       kv,
		selfHost: strings.ToLower(selfHost),
		disc:     disc,
		members:  make(map[string]struct{}),
	}
	r.load()
	return r
}

// SetDeviceLookup wires a function used to enrich List rows with each
// peer's self-reported device_id, once the Status Ingestor exists (the
// registry is constructed before it, so this is set post-construction
// during node wiring).
func (r *Registry) SetDeviceLookup(fn func(host string) string) {
	r.mu.Lock()
	r.deviceIDs = fn
	r.mu.Unlock()
}

func (r *Registry) load() {
	var doc persistedDoc
	if err := r.kv.Load(docKey, &doc); err != nil {
		// Missing or corrupted: start from an empty set, per spec.md §4.2.
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range doc.Peers {
		h = strings.ToLower(h)
		if _, ok := r.members[h]; ok {
			continue
		}
		r.members[h] = struct{}{}
		r.order = append(r.order, h)
	}
}

func (r *Registry) persist() error {
	doc := persistedDoc{Peers: append([]string(nil), r.order...)}
	return r.kv.Save(docKey, doc)
}

// validHost applies spec.md §4.2's syntactic check: "must contain at
// least one '.' or ':'".
func validHost(host string) bool {
	return strings.Contains(host, ".") || strings.Contains(host, ":")
}

// Add validates, rejects duplicates/self, commits to durable storage,
// and applies the in-memory mutation regardless of persistence outcome
// (spec.md §4.2/§7: "the operator is informed their change is volatile").
func (r *Registry) Add(host string) error {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" || !validHost(h) {
		return fmt.Errorf("invalid host %q: must contain '.' or ':'", host)
	}
	if h == r.selfHost {
		return fmt.Errorf("cannot add own host %q as a peer", host)
	}

	r.mu.Lock()
	if _, exists := r.members[h]; exists {
		r.mu.Unlock()
		return fmt.Errorf("peer %q is already joined", host)
	}
	r.members[h] = struct{}{}
	r.order = append(r.order, h)
	persistErr := r.persist()
	r.mu.Unlock()

	return persistErr
}

// Remove deletes host by exact case-insensitive match.
func (r *Registry) Remove(host string) error {
	h := strings.ToLower(strings.TrimSpace(host))

	r.mu.Lock()
	if _, exists := r.members[h]; !exists {
		r.mu.Unlock()
		return fmt.Errorf("peer %q is not joined", host)
	}
	delete(r.members, h)
	for i, o := range r.order {
		if o == h {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	persistErr := r.persist()
	r.mu.Unlock()

	return persistErr
}

// List returns the union of configured and discovered hosts, per
// spec.md §4.2. includeDiscovered/includeConfigured filter which
// sources contribute rows; both true returns the full union.
func (r *Registry) List(includeDiscovered, includeConfigured bool) []Entry {
	r.mu.RLock()
	joined := make(map[string]struct{}, len(r.members))
	for h := range r.members {
		joined[h] = struct{}{}
	}
	order := append([]string(nil), r.order...)
	deviceIDs := r.deviceIDs
	r.mu.RUnlock()

	deviceIDFor := func(host string) string {
		if deviceIDs == nil {
			return ""
		}
		return deviceIDs(host)
	}

	var snap discovery.Snapshot
	if r.disc != nil {
		snap = r.disc.Snapshot()
	}
	online := make(map[string]string, len(snap.Peers)) // host -> ip
	for _, p := range snap.Peers {
		online[strings.ToLower(p.Host)] = p.IP
	}

	seen := make(map[string]struct{})
	var out []Entry

	if includeConfigured {
		for _, h := range order {
			ip := online[h]
			out = append(out, Entry{Host: h, DeviceID: deviceIDFor(h), Online: ip != "" || isOnline(snap, h), Joined: true, IP: ip})
			seen[h] = struct{}{}
		}
	}
	if includeDiscovered {
		for _, p := range snap.Peers {
			h := strings.ToLower(p.Host)
			if _, ok := seen[h]; ok {
				continue
			}
			_, isJoined := joined[h]
			out = append(out, Entry{Host: h, DeviceID: deviceIDFor(h), Online: true, Joined: isJoined, IP: p.IP})
			seen[h] = struct{}{}
		}
	}
	return out
}

func isOnline(snap discovery.Snapshot, host string) bool {
	for _, p := range snap.Peers {
		if strings.ToLower(p.Host) == host {
			return true
		}
	}
	return false
}

// Members returns the configured (joined) host set, lower-cased,
// ordered deterministically (insertion order) — consumed by the
// ingestor to know which peers to subscribe to.
func (r *Registry) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// IsJoined reports whether host is a configured member.
func (r *Registry) IsJoined(host string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[strings.ToLower(host)]
	return ok
}
