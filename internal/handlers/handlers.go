// Package handlers implements the peer-facing and diagnostic HTTP API
// spec.md §6 describes, plus the /health and /loadsharing/history
// endpoints SPEC_FULL.md supplements. Adapted from the teacher's
// HAHandler (respondJSON/respondError conventions, gorilla/mux route
// vars).
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"loadsharing/internal/configsync"
	"loadsharing/internal/groupconfig"
	"loadsharing/internal/node"
)

// Handler wires the HTTP surface to a running Node.
type Handler struct {
	n *node.Node
}

// New creates a Handler backed by n.
func New(n *node.Node) *Handler {
	return &Handler{n: n}
}

// Register mounts every route and the shared middleware chain onto r.
func (h *Handler) Register(r *mux.Router) {
	r.Use(LoggingMiddleware)
	r.Use(RateLimitMiddleware)

	// Peer HTTP API — served (spec.md §6).
	r.HandleFunc("/status", h.GetStatus).Methods(http.MethodGet)
	r.HandleFunc("/config", h.GetConfig).Methods(http.MethodGet)
	r.HandleFunc("/config", h.PostConfig).Methods(http.MethodPost)
	r.HandleFunc("/ws", h.n.Hub.HandleUpgrade)

	// Diagnostic / management API (spec.md §6 "Diagnostic API").
	r.HandleFunc("/loadsharing/peers", h.ListPeers).Methods(http.MethodGet)
	r.HandleFunc("/loadsharing/peers", h.AddPeer).Methods(http.MethodPost)
	r.HandleFunc("/loadsharing/peers/{host}", h.RemovePeer).Methods(http.MethodDelete)
	r.HandleFunc("/loadsharing/discover", h.TriggerDiscovery).Methods(http.MethodPost)
	r.HandleFunc("/loadsharing/status", h.GroupStatus).Methods(http.MethodGet)

	// Supplemented, SPEC_FULL.md §9.
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/loadsharing/history", h.History).Methods(http.MethodGet)
}

// GetStatus serves this node's own live EVSE status, the message body
// peer ingestors bootstrap-fetch over GET /status (spec.md §6).
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.n.Driver.LocalStatus()
	cfg := h.n.CfgStore.Load()
	version, hash := configsync.Fingerprint(cfg, h.n.Registry.Members())
	st.DeviceID = h.n.DeviceID
	st.ConfigVersion = version
	st.ConfigHash = hash
	respondOK(w, st)
}

// GetConfig serves the current Group Config document, the peer
// protocol's GET /config (spec.md §6).
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	respondOK(w, h.n.CfgStore.Load())
}

// PostConfig accepts an operator or peer push of a full config
// document, validating before persisting (spec.md §4.6 "push" case and
// §6's management "Edit Group Config").
func (h *Handler) PostConfig(w http.ResponseWriter, r *http.Request) {
	var cfg groupconfig.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid config body", err)
		return
	}
	saved, err := h.n.CfgStore.Save(cfg, time.Now())
	if err != nil {
		respondError(w, http.StatusBadRequest, "config rejected", err)
		return
	}
	respondOK(w, saved)
}

// peerRow is the `GET /loadsharing/peers` row shape spec.md §6
// specifies: `{id, name, host, ip, online, joined}`. `id` is the
// peer's self-reported device_id; `name` has no separate field in the
// §3 data model, so it defaults to the device_id once known, falling
// back to the host (see DESIGN.md).
type peerRow struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Host   string `json:"host"`
	IP     string `json:"ip,omitempty"`
	Online bool   `json:"online"`
	Joined bool   `json:"joined"`
}

// ListPeers returns the union of configured and discovered hosts
// (spec.md §6: "List peers").
func (h *Handler) ListPeers(w http.ResponseWriter, r *http.Request) {
	entries := h.n.Registry.List(true, true)
	rows := make([]peerRow, 0, len(entries))
	for _, e := range entries {
		name := e.DeviceID
		if name == "" {
			name = e.Host
		}
		rows = append(rows, peerRow{
			ID: e.DeviceID, Name: name, Host: e.Host, IP: e.IP, Online: e.Online, Joined: e.Joined,
		})
	}
	respondOK(w, rows)
}

// doneResponse is the `{msg:"done"}` body spec.md §6 mandates for the
// peer/discovery mutation endpoints.
type doneResponse struct {
	Msg string `json:"msg"`
}

// AddPeer joins a new host to the configured member set (spec.md §6:
// "Add peer").
func (h *Handler) AddPeer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Host string `json:"host"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.n.Registry.Add(req.Host); err != nil {
		respondError(w, http.StatusBadRequest, "failed to add peer", err)
		return
	}
	respondOK(w, doneResponse{Msg: "done"})
}

// RemovePeer removes a joined host (spec.md §6: "Remove peer").
func (h *Handler) RemovePeer(w http.ResponseWriter, r *http.Request) {
	host := mux.Vars(r)["host"]
	if err := h.n.Registry.Remove(host); err != nil {
		respondError(w, http.StatusNotFound, "failed to remove peer", err)
		return
	}
	respondOK(w, doneResponse{Msg: "done"})
}

// TriggerDiscovery forces an immediate discovery probe (spec.md §6:
// "Trigger rediscovery").
func (h *Handler) TriggerDiscovery(w http.ResponseWriter, r *http.Request) {
	h.n.Discovery.Trigger()
	respondOK(w, doneResponse{Msg: "done"})
}

// GroupStatus returns the status object spec.md §6 enumerates:
// `enabled, group_id, computed_at, failsafe_active, online_count,
// offline_count, config_consistent, config_issues[], peers[...],
// allocations[...]`.
func (h *Handler) GroupStatus(w http.ResponseWriter, r *http.Request) {
	cfg := h.n.CfgStore.Load()
	result := h.n.LastResult()
	computedAt, failsafeActive := h.n.LastEvaluation()
	records := h.n.Ingestor.Snapshot()

	var onlineCount, offlineCount int
	for _, rec := range records {
		if rec.Online {
			onlineCount++
		} else {
			offlineCount++
		}
	}

	respondOK(w, map[string]interface{}{
		"enabled":           cfg.Enabled,
		"group_id":          cfg.GroupID,
		"computed_at":       computedAt,
		"failsafe_active":   failsafeActive,
		"online_count":      onlineCount,
		"offline_count":     offlineCount,
		"config_consistent": h.n.Syncer.Consistent(),
		"config_issues":     h.n.Syncer.Divergences(),
		"peers":             records,
		"allocations":       result.Allocations,
		"available_a":       result.Available.Float(),
		"reserved_a":        result.Reserved.Float(),
	})
}

// Health reports process liveness — SPEC_FULL.md §9's supplement, in
// the teacher's habit of a bare liveness probe with no dependency checks.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondOK(w, map[string]interface{}{
		"status":  "ok",
		"version": h.n.Version,
	})
}

// History returns the last HistoryDepth allocator evaluations —
// SPEC_FULL.md §9's supplement for operator debugging of allocation
// flapping.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	respondOK(w, h.n.History())
}
