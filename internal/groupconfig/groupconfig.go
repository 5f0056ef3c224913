// Package groupconfig defines the node-local, operator-editable Group
// Config (spec.md §3) and its validation and persistence.
package groupconfig

import (
	"fmt"
	"time"

	"loadsharing/internal/store"
)

// FailsafeMode selects the behavior of the Failsafe Supervisor (spec.md §4.5).
type FailsafeMode string

const (
	FailsafeDisable     FailsafeMode = "disable"
	FailsafeSafeCurrent FailsafeMode = "safe_current"
)

// Config is the Group Config record, spec.md §3.
type Config struct {
	Enabled           bool    `json:"enabled"`
	GroupID           string  `json:"group_id"`
	GroupMaxA         float64 `json:"group_max_current_a"`
	SafetyFactor      float64 `json:"safety_factor"`
	HeartbeatTimeoutS int     `json:"heartbeat_timeout_s"`

	FailsafeMode                FailsafeMode `json:"failsafe_mode"`
	FailsafeSafeCurrentA        float64      `json:"failsafe_safe_current_a"`
	FailsafePeerAssumedCurrentA float64      `json:"failsafe_peer_assumed_current_a"`

	// MinCurrentA is the default per-peer minimum, "min_i" in spec.md §4.4.
	MinCurrentA float64 `json:"min_current_a"`
	// PerNodeCapA, if > 0, is the group's configured per-node maximum
	// used as a peer's max_i when its pilot is unavailable (spec.md §4.4).
	PerNodeCapA float64 `json:"per_node_cap_a"`

	// Priority is node-local and never replicated (spec.md §3, §9 open
	// question: never consulted by the allocator today).
	Priority int `json:"priority"`

	ConfigVersion   uint64 `json:"config_version"`
	ConfigUpdatedAt int64  `json:"config_updated_at"`
}

// Default returns a conservative zero-demand config, matching the
// teacher's habit of a safe zero-value default (cf. nixwriter defaults).
func Default() Config {
	return Config{
		Enabled:           false,
		SafetyFactor:      1.0,
		HeartbeatTimeoutS: 30,
		FailsafeMode:      FailsafeDisable,
		MinCurrentA:       6.0,
		ConfigVersion:     1,
		ConfigUpdatedAt:   0,
	}
}

// Validate applies the range checks spec.md §3 lists ("schema + range
// checks" is also invoked by configsync before accepting a peer's config).
func (c *Config) Validate() error {
	if c.GroupID == "" {
		return fmt.Errorf("group_id is required")
	}
	if c.GroupMaxA < 0 {
		return fmt.Errorf("group_max_current_a must be >= 0")
	}
	if c.SafetyFactor < 0 || c.SafetyFactor > 1 {
		return fmt.Errorf("safety_factor must be in [0,1]")
	}
	if c.HeartbeatTimeoutS < 5 {
		return fmt.Errorf("heartbeat_timeout_s must be >= 5")
	}
	if c.FailsafeMode != FailsafeDisable && c.FailsafeMode != FailsafeSafeCurrent {
		return fmt.Errorf("failsafe_mode must be 'disable' or 'safe_current'")
	}
	if c.FailsafeSafeCurrentA < 0 {
		return fmt.Errorf("failsafe_safe_current_a must be >= 0")
	}
	if c.FailsafePeerAssumedCurrentA < 0 {
		return fmt.Errorf("failsafe_peer_assumed_current_a must be >= 0")
	}
	return nil
}

const docKey = "config"

// Store persists the Group Config document through the flat KV store
// (spec.md §6: "the group config document (existing collaborator)").
type Store struct {
	kv *store.Store
}

// NewStore wraps a KV store for the group config document.
func NewStore(kv *store.Store) *Store {
	return &Store{kv: kv}
}

// Load reads the persisted config, returning Default() if absent or
// corrupted (matches spec.md §4.2's "corrupted or missing file is
// treated as empty ... the node does not refuse to start").
func (s *Store) Load() Config {
	var c Config
	if err := s.kv.Load(docKey, &c); err != nil {
		return Default()
	}
	return c
}

// Save validates then persists the config, bumping config_version and
// config_updated_at as an operator mutation (spec.md §3, §5's
// "linearized against config-sync pulls/pushes").
func (s *Store) Save(c Config, now time.Time) (Config, error) {
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	c.ConfigVersion++
	c.ConfigUpdatedAt = now.Unix()
	if err := s.kv.Save(docKey, c); err != nil {
		return c, err
	}
	return c, nil
}

// ApplyExternal persists a config pulled/adopted from a peer verbatim
// (configsync pull path) without incrementing the version — the
// incoming version/updated_at are authoritative.
func (s *Store) ApplyExternal(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.kv.Save(docKey, c)
}
