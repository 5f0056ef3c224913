// Package configsync detects and repairs config-version drift between
// peers — spec.md §4.6.
package configsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"loadsharing/internal/groupconfig"
	"loadsharing/internal/peerclient"
)

// Fingerprint returns (config_version, config_hash) for cfg, using the
// canonical JSON construction spec.md §4.6 specifies: lexicographically
// ordered keys, no whitespace, members sorted before serialization.
//
// This system has no replicated "members" list distinct from the
// registry's host set, so the canonical document folds in the joined
// member hosts passed by the caller (sorted), matching the spec's
// {group_id, group_max_current_a, safety_factor, members_sorted}
// fingerprint shape exactly.
func Fingerprint(cfg groupconfig.Config, members []string) (version uint64, hash string) {
	sortedMembers := append([]string(nil), members...)
	sort.Strings(sortedMembers)

	// canonicalDoc's field order is fixed by struct declaration order
	// (declared here in lexicographic key order) and encoding/json always
	// emits struct fields in that order, which combined with sorted
	// members gives a stable, reproducible byte sequence across nodes
	// without a third-party canonical-JSON encoder (see DESIGN.md for why
	// the stdlib is used here).
	type canonicalDoc struct {
		GroupID      string   `json:"group_id"`
		GroupMaxA    float64  `json:"group_max_current_a"`
		Members      []string `json:"members_sorted"`
		SafetyFactor float64  `json:"safety_factor"`
	}
	doc := canonicalDoc{
		GroupID:      cfg.GroupID,
		GroupMaxA:    cfg.GroupMaxA,
		SafetyFactor: cfg.SafetyFactor,
		Members:      sortedMembers,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		// Marshal of a flat struct of strings/floats cannot fail.
		panic(fmt.Sprintf("configsync: marshal canonical doc: %v", err))
	}
	sum := sha256.Sum256(data)
	return cfg.ConfigVersion, hex.EncodeToString(sum[:])
}

// Divergence describes one peer whose fingerprint disagrees with ours.
type Divergence struct {
	Host          string `json:"host"`
	LocalVersion  uint64 `json:"local_version"`
	PeerVersion   uint64 `json:"peer_version"`
	LocalHash     string `json:"local_hash"`
	PeerHash      string `json:"peer_hash"`
}

// Observation is what the ingestor reports for one peer's fingerprint.
type Observation struct {
	Host    string
	Version uint64
	Hash    string
}

// Syncer drives pull/push/tiebreak resolution.
type Syncer struct {
	store       *groupconfig.Store
	localDeviceID func() string
	members     func() []string

	mu          sync.RWMutex
	divergences map[string]Divergence
	peerGroupMax map[string]float64
}

// NewSyncer creates a config-sync driver.
func NewSyncer(store *groupconfig.Store, localDeviceID func() string, members func() []string) *Syncer {
	return &Syncer{
		store:         store,
		localDeviceID: localDeviceID,
		members:       members,
		divergences:   make(map[string]Divergence),
		peerGroupMax:  make(map[string]float64),
	}
}

// Divergences returns the current outstanding list (spec.md §4.6:
// "surfaced to the diagnostic API").
func (s *Syncer) Divergences() []Divergence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Divergence, 0, len(s.divergences))
	for _, d := range s.divergences {
		out = append(out, d)
	}
	return out
}

// Consistent reports whether there are zero outstanding divergences.
func (s *Syncer) Consistent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.divergences) == 0
}

// Observe compares one peer's reported fingerprint to the local config
// and resolves it per spec.md §4.6's detection table. client is used
// for the pull/push HTTP calls; localDeviceID tiebreaks concurrent edits.
func (s *Syncer) Observe(ctx context.Context, obs Observation, client *peerclient.Client, localDeviceID string) {
	cfg := s.store.Load()

	switch {
	case obs.Version == cfg.ConfigVersion:
		_, localHash := Fingerprint(cfg, s.members())
		if obs.Hash == localHash {
			s.clearDivergence(obs.Host)
			return
		}
		s.recordDivergence(obs, cfg, localHash)
		s.resolveConcurrentEdit(ctx, obs, client, localDeviceID, cfg)

	case obs.Version > cfg.ConfigVersion:
		_, localHash := Fingerprint(cfg, s.members())
		s.recordDivergence(obs, cfg, localHash)
		s.pull(ctx, obs.Host, client)

	default: // obs.Version < cfg.ConfigVersion
		_, localHash := Fingerprint(cfg, s.members())
		s.recordDivergence(obs, cfg, localHash)
		s.push(ctx, obs.Host, client, cfg)
	}
}

func (s *Syncer) recordDivergence(obs Observation, cfg groupconfig.Config, localHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.divergences[obs.Host] = Divergence{
		Host: obs.Host, LocalVersion: cfg.ConfigVersion, PeerVersion: obs.Version,
		LocalHash: localHash, PeerHash: obs.Hash,
	}
}

func (s *Syncer) clearDivergence(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.divergences, host)
}

// pull fetches the peer's full config, validates, and applies it
// locally (spec.md §4.6's "pull" case).
func (s *Syncer) pull(ctx context.Context, host string, client *peerclient.Client) {
	peerCfg, err := client.GetConfig(ctx)
	if err != nil {
		log.Printf("configsync: pull from %s failed: %v", host, err)
		return
	}
	s.recordPeerGroupMax(host, peerCfg.GroupMaxA)
	if err := peerCfg.Validate(); err != nil {
		log.Printf("configsync: rejected invalid config from %s: %v", host, err)
		return
	}
	local := s.store.Load()
	if peerCfg.ConfigUpdatedAt < local.ConfigUpdatedAt {
		peerCfg.ConfigUpdatedAt = local.ConfigUpdatedAt
	}
	if err := s.store.ApplyExternal(peerCfg); err != nil {
		log.Printf("configsync: apply pulled config from %s failed: %v", host, err)
		return
	}
	s.clearDivergence(host)
	log.Printf("configsync: adopted config version %d from %s", peerCfg.ConfigVersion, host)
}

// push sends the local config to the (possibly offline) peer, with the
// bounded retry spec.md §4.6 specifies; on exhaustion the peer is
// deferred until it next reports a fingerprint.
func (s *Syncer) push(ctx context.Context, host string, client *peerclient.Client, cfg groupconfig.Config) {
	delays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	lastErr := client.PushConfig(ctx, cfg)
	for _, d := range delays {
		if lastErr == nil {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
		lastErr = client.PushConfig(ctx, cfg)
	}
	if lastErr == nil {
		log.Printf("configsync: pushed config version %d to %s", cfg.ConfigVersion, host)
		return
	}
	log.Printf("configsync: push to %s deferred (peer unreachable): %v", host, lastErr)
}

// resolveConcurrentEdit handles spec.md §4.6's "Equal version, different
// hash" case: the record with the greater config_updated_at wins;
// ties break on device_id lexicographically, higher wins. The peer's
// device_id is read from its /status; if that fetch fails or reports no
// device_id, the peer's host stands in for it.
func (s *Syncer) resolveConcurrentEdit(ctx context.Context, obs Observation, client *peerclient.Client, localDeviceID string, local groupconfig.Config) {
	peerCfg, err := client.GetConfig(ctx)
	if err != nil {
		log.Printf("configsync: fetch peer config for tiebreak from %s failed: %v", obs.Host, err)
		return
	}
	s.recordPeerGroupMax(obs.Host, peerCfg.GroupMaxA)
	peerID := obs.Host
	if st, err := client.GetStatus(ctx); err == nil && st.DeviceID != "" {
		peerID = st.DeviceID
	}
	localWins := local.ConfigUpdatedAt > peerCfg.ConfigUpdatedAt ||
		(local.ConfigUpdatedAt == peerCfg.ConfigUpdatedAt && localDeviceID > peerID)

	if localWins {
		s.push(ctx, obs.Host, client, local)
		return
	}
	s.pull(ctx, obs.Host, client)
}

func (s *Syncer) recordPeerGroupMax(host string, groupMax float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerGroupMax[host] = groupMax
}

// EffectiveGroupMax implements spec.md §4.6's "While inconsistent" rule:
// the allocator uses min(local, all observed peers') group_max_current_a.
// While no divergence has required fetching a peer's config, this
// simply returns localMax.
func (s *Syncer) EffectiveGroupMax(localMax float64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.divergences) == 0 {
		return localMax
	}
	min := localMax
	for _, gm := range s.peerGroupMax {
		if gm < min {
			min = gm
		}
	}
	return min
}
