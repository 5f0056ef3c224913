// Package node wires the seven components of spec.md §2 into one
// running process: Discovery, Peer Registry, Status Ingestor,
// Allocator, Failsafe Supervisor, Config Sync, and Enforcement Bridge.
// The wiring shape generalizes the teacher's main.go goroutine-and-
// defer startup sequence and ha.Manager's Start/Stop lifecycle across
// many more worker kinds.
package node

import (
	"context"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"loadsharing/internal/allocator"
	"loadsharing/internal/chargerdriver"
	"loadsharing/internal/configsync"
	"loadsharing/internal/deci"
	"loadsharing/internal/discovery"
	"loadsharing/internal/enforcement"
	"loadsharing/internal/failsafe"
	"loadsharing/internal/groupconfig"
	"loadsharing/internal/ingestor"
	"loadsharing/internal/peerclient"
	"loadsharing/internal/peertypes"
	"loadsharing/internal/registry"
	"loadsharing/internal/store"
	"loadsharing/internal/wsserver"
)

// FallbackRecomputeInterval is the allocator's periodic fallback tick,
// spec.md §4.4's trigger policy item (d).
const FallbackRecomputeInterval = 5 * time.Second

// ResyncLogInterval is the supplemented periodic full-resync summary
// line, SPEC_FULL.md §9.
const ResyncLogInterval = 5 * time.Minute

// HistoryDepth is the size of the in-memory evaluation ring buffer,
// SPEC_FULL.md §9's /loadsharing/history supplement.
const HistoryDepth = 50

// HistoryEntry records one allocator evaluation for operator debugging.
type HistoryEntry struct {
	At             time.Time              `json:"at"`
	FailsafeActive bool                   `json:"failsafe_active"`
	Allocations    []peertypes.Allocation `json:"allocations"`
}

// Node owns every worker and the shared state they read and write.
type Node struct {
	DeviceID   string
	SelfHost   string
	ListenAddr string
	Version    string

	CfgStore *groupconfig.Store
	Registry *registry.Registry
	Discovery *discovery.Worker
	Ingestor  *ingestor.Ingestor
	Syncer    *configsync.Syncer
	Bridge    *enforcement.Bridge
	Driver    chargerdriver.Driver
	Hub       *wsserver.Hub

	mu         sync.RWMutex
	lastResult allocator.Result
	history    []HistoryEntry

	recompute chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// Config bundles the construction-time dependencies for New.
type Config struct {
	DeviceID   string
	SelfHost   string
	ListenAddr string
	Version    string
	StoreDir   string
	Driver     chargerdriver.Driver
}

// New builds a fully wired Node, ready for Start.
func New(cfg Config) (*Node, error) {
	kv, err := store.New(cfg.StoreDir)
	if err != nil {
		return nil, err
	}
	cfgStore := groupconfig.NewStore(kv)

	driver := cfg.Driver
	if driver == nil {
		driver = chargerdriver.NewLoggingStub()
	}

	disc := discovery.New()
	reg := registry.New(kv, cfg.SelfHost, disc)

	n := &Node{
		DeviceID:   cfg.DeviceID,
		SelfHost:   cfg.SelfHost,
		ListenAddr: cfg.ListenAddr,
		Version:    cfg.Version,
		CfgStore:   cfgStore,
		Registry:   reg,
		Discovery:  disc,
		Driver:     driver,
		Bridge:     enforcement.NewBridge(driver),
		recompute:  make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}

	n.Syncer = configsync.NewSyncer(cfgStore, func() string { return n.DeviceID }, n.Registry.Members)

	n.Ingestor = ingestor.New(n.heartbeatTimeout, ingestor.Signals{
		OnStatusChange:    n.signalRecompute,
		OnHeartbeatChange: n.signalRecompute,
		OnConfigVersionSeen: n.handleConfigObservation,
	})
	n.Registry.SetDeviceLookup(n.Ingestor.DeviceID)

	n.Hub = wsserver.NewHub(func() peertypes.Status {
		st := n.Driver.LocalStatus()
		st.DeviceID = n.DeviceID
		st.ConfigVersion, st.ConfigHash = configsync.Fingerprint(n.CfgStore.Load(), n.Registry.Members())
		return st
	})

	return n, nil
}

func (n *Node) heartbeatTimeout() time.Duration {
	cfg := n.CfgStore.Load()
	return time.Duration(cfg.HeartbeatTimeoutS) * time.Second
}

func (n *Node) signalRecompute() {
	select {
	case n.recompute <- struct{}{}:
	default:
	}
}

// handleConfigObservation is the Config Sync entry point fed by the
// ingestor's per-message config-version observation (spec.md §4.3
// trigger "Config-version increase observed on any peer -> signal
// Config Sync").
func (n *Node) handleConfigObservation(host string, version uint64, hash string) {
	client := peerclient.New(host)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n.Syncer.Observe(ctx, configsync.Observation{Host: host, Version: version, Hash: hash}, client, n.DeviceID)
	n.signalRecompute()
}

// Start launches the background workers. Call Shutdown to stop them.
func (n *Node) Start() {
	n.Discovery.Start()
	n.syncMembership()

	n.wg.Add(1)
	go n.evaluateLoop()

	n.wg.Add(1)
	go n.membershipLoop()

	n.wg.Add(1)
	go n.resyncLogLoop()

	go n.Hub.Run()

	log.Printf("node: started device_id=%s host=%s", n.DeviceID, n.SelfHost)
}

// Shutdown stops all workers, honoring the 2-second budget of spec.md §5.
func (n *Node) Shutdown() {
	close(n.stopCh)
	n.Discovery.Stop()

	done := make(chan struct{})
	go func() {
		n.Ingestor.Stop()
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		log.Printf("node: shutdown budget exceeded, proceeding best-effort")
	}
}

// syncMembership reconciles the ingestor's workers with the registry's
// current joined set. Called at startup and on every membershipLoop tick
// (every 10 s), so a registry Add/Remove reaches the ingestor within
// that period.
func (n *Node) syncMembership() {
	n.Ingestor.Sync(n.Registry.Members())
}

func (n *Node) membershipLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.syncMembership()
		}
	}
}

func (n *Node) evaluateLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(FallbackRecomputeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.Evaluate()
		case <-n.recompute:
			n.Evaluate()
		}
	}
}

func (n *Node) resyncLogLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(ResyncLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.logResyncSummary()
		}
	}
}

func (n *Node) logResyncSummary() {
	recs := n.Ingestor.Snapshot()
	online, offline := 0, 0
	for _, r := range recs {
		if r.Online {
			online++
		} else {
			offline++
		}
	}
	log.Printf("node: resync summary group=%s online=%d offline=%d config_consistent=%v",
		n.CfgStore.Load().GroupID, online, offline, n.Syncer.Consistent())
}

// Evaluate runs one full allocation cycle: gather peer state, compute
// the allocation map, apply the failsafe override, push the result to
// the enforcement bridge, and record it in the history ring buffer.
// This is the "Evaluator" spec.md §4.4 describes as reacting to the
// trigger conditions listed in §4.4's "Triggers" paragraph.
func (n *Node) Evaluate() {
	cfg := n.CfgStore.Load()
	records := n.Ingestor.Snapshot()

	peers := make([]allocator.Peer, 0, len(records)+1)
	joinedViews := make([]failsafe.PeerView, 0, len(records))
	var peerLoads []enforcement.PeerLoad

	for _, r := range records {
		id := r.DeviceID
		if id == "" {
			// No status received yet: fall back to host so the peer still
			// participates (spec.md §3: "device_id ... may be empty until
			// first status received").
			id = r.Host
		}
		peers = append(peers, allocator.Peer{DeviceID: id, Online: r.Online, Status: r.Status})
		joinedViews = append(joinedViews, failsafe.PeerView{DeviceID: id, Online: r.Online})
		if r.Online {
			peerLoads = append(peerLoads, enforcement.PeerLoad{AmpA: r.Status.Amp, Voltage: r.Status.Voltage})
		}
	}

	selfStatus := n.Driver.LocalStatus()
	selfSensorsValid := n.Driver.SelfSensorsValid()
	peers = append(peers, allocator.Peer{DeviceID: n.DeviceID, Online: true, Status: selfStatus})

	effectiveMax := n.Syncer.EffectiveGroupMax(cfg.GroupMaxA)
	allocCfg := cfg
	allocCfg.GroupMaxA = effectiveMax

	result := allocator.Compute(allocCfg, peers)

	selfAlloc := deci.FromFloat(result.Allocations[n.DeviceID].TargetCurrentA)
	evaluation := failsafe.Evaluate(cfg, joinedViews, selfAlloc, selfSensorsValid)

	finalSelf := selfAlloc
	if evaluation.Engaged {
		finalSelf = evaluation.SelfAllocation
		result.Allocations[n.DeviceID] = peertypes.Allocation{
			PeerID: n.DeviceID, TargetCurrentA: finalSelf.Float(), Reason: evaluation.Reason,
		}
	}
	result.Allocations[peertypes.SelfID] = result.Allocations[n.DeviceID]

	n.Bridge.Apply(finalSelf, peerLoads, evaluation.Engaged)

	// Each evaluation also sends this node's current status to its /ws
	// subscribers as a delta frame.
	version, hash := configsync.Fingerprint(cfg, n.Registry.Members())
	n.Hub.BroadcastDelta(peertypes.StatusDelta{
		DeviceID: &n.DeviceID, Amp: &selfStatus.Amp, Voltage: &selfStatus.Voltage,
		Pilot: &selfStatus.Pilot, Vehicle: &selfStatus.Vehicle, State: &selfStatus.State,
		ConfigVersion: &version, ConfigHash: &hash,
	})

	n.recordHistory(result, evaluation.Engaged)
}

func (n *Node) recordHistory(result allocator.Result, failsafeActive bool) {
	allocs := make([]peertypes.Allocation, 0, len(result.Allocations))
	for _, id := range result.Order {
		allocs = append(allocs, result.Allocations[id])
	}

	n.mu.Lock()
	n.lastResult = result
	n.history = append(n.history, HistoryEntry{At: time.Now(), FailsafeActive: failsafeActive, Allocations: allocs})
	if len(n.history) > HistoryDepth {
		n.history = n.history[len(n.history)-HistoryDepth:]
	}
	n.mu.Unlock()
}

// LastResult returns the most recent allocator Result, for the
// diagnostic API.
func (n *Node) LastResult() allocator.Result {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastResult
}

// LastEvaluation returns when the most recent Evaluate ran and whether
// the failsafe supervisor was engaged at that time, for the diagnostic
// API's status object (spec.md §6: "computed_at, failsafe_active").
func (n *Node) LastEvaluation() (computedAt time.Time, failsafeActive bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.history) == 0 {
		return time.Time{}, false
	}
	last := n.history[len(n.history)-1]
	return last.At, last.FailsafeActive
}

// History returns a copy of the evaluation ring buffer, newest last.
func (n *Node) History() []HistoryEntry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]HistoryEntry(nil), n.history...)
}

// LocalNodeID derives a stable device identifier, falling back to
// hostname — the same precedence the teacher's ha_handler.LocalNodeID
// uses for /etc/machine-id.
func LocalNodeID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		id := strings.TrimSpace(string(data))
		if len(id) >= 8 {
			return id[:8]
		}
	}
	host, _ := os.Hostname()
	return host
}
