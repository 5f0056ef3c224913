// Package ingestor maintains, for every joined peer, a live status
// subscription: a bootstrap HTTP fetch followed by a streaming
// subscription, annotating each peer with last_seen and its current
// snapshot — spec.md §4.3.
package ingestor

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"loadsharing/internal/peerclient"
	"loadsharing/internal/peertypes"
)

// Signals groups the edge-triggered callbacks the ingestor fires on
// the transitions spec.md §4.3's "Triggers" paragraph specifies.
type Signals struct {
	// OnStatusChange fires after any status mutation (bootstrap fetch,
	// first stream message, or merged delta).
	OnStatusChange func()
	// OnHeartbeatChange fires when a peer's online/offline flag flips.
	OnHeartbeatChange func()
	// OnConfigVersionSeen fires after every status update with the
	// peer's current config_version and config_hash, whether or not they
	// changed; the receiver compares them to the local fingerprint.
	OnConfigVersionSeen func(host string, version uint64, hash string)
}

// Ingestor owns one peerWorker per joined peer host.
type Ingestor struct {
	heartbeatTimeout func() time.Duration
	signals          Signals

	mu      sync.RWMutex
	records map[string]*peertypes.Record
	workers map[string]*peerWorker

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates an Ingestor. heartbeatTimeout is read on every
// supervisor pass so it tracks live config changes.
func New(heartbeatTimeout func() time.Duration, signals Signals) *Ingestor {
	return &Ingestor{
		heartbeatTimeout: heartbeatTimeout,
		signals:          signals,
		records:          make(map[string]*peertypes.Record),
		workers:          make(map[string]*peerWorker),
		stop:             make(chan struct{}),
	}
}

// Sync reconciles the set of peer workers to match the registry's
// current joined member list — starting workers for new hosts and
// stopping workers for removed ones. It does not touch cached status
// for hosts that remain joined.
func (in *Ingestor) Sync(hosts []string) {
	want := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		want[strings.ToLower(h)] = struct{}{}
	}

	in.mu.Lock()
	for h := range want {
		if _, ok := in.workers[h]; ok {
			continue
		}
		rec := &peertypes.Record{Host: h, Joined: true}
		in.records[h] = rec
		w := newPeerWorker(h, rec, in)
		in.workers[h] = w
		in.wg.Add(1)
		go func() {
			defer in.wg.Done()
			w.run()
		}()
	}
	for h, w := range in.workers {
		if _, ok := want[h]; !ok {
			w.stopWorker()
			delete(in.workers, h)
			delete(in.records, h)
		}
	}
	in.mu.Unlock()
}

// Stop halts all peer workers.
func (in *Ingestor) Stop() {
	close(in.stop)
	in.mu.RLock()
	for _, w := range in.workers {
		w.stopWorker()
	}
	in.mu.RUnlock()
	in.wg.Wait()
}

// Snapshot returns a copy of every tracked peer record, applying the
// heartbeat-timeout check (spec.md §4.3's "Supervisor pass").
func (in *Ingestor) Snapshot() []*peertypes.Record {
	in.mu.RLock()
	defer in.mu.RUnlock()
	timeout := in.heartbeatTimeout()
	out := make([]*peertypes.Record, 0, len(in.records))
	for _, r := range in.records {
		cp := *r
		wasOnline := cp.Online
		if cp.LastSeen.IsZero() {
			cp.Online = false
		} else {
			cp.Online = time.Since(cp.LastSeen) <= timeout
		}
		if cp.Online != wasOnline {
			r.Online = cp.Online
			if in.signals.OnHeartbeatChange != nil {
				in.signals.OnHeartbeatChange()
			}
		}
		out = append(out, &cp)
	}
	return out
}

// DeviceID returns the device_id last self-reported by host, or "" if
// unknown (operator just added it, or no status received yet).
func (in *Ingestor) DeviceID(host string) string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if rec, ok := in.records[strings.ToLower(host)]; ok {
		return rec.DeviceID
	}
	return ""
}

// peerWorker is the resumable state machine for one peer's subscription.
type peerWorker struct {
	host string
	rec  *peertypes.Record
	in   *Ingestor

	stop chan struct{}
}

func newPeerWorker(host string, rec *peertypes.Record, in *Ingestor) *peerWorker {
	return &peerWorker{host: host, rec: rec, in: in, stop: make(chan struct{})}
}

func (w *peerWorker) stopWorker() {
	close(w.stop)
}

func (w *peerWorker) run() {
	client := peerclient.New(w.host)

	if !w.bootstrap(client) {
		// fall through to stream loop regardless; bootstrap failure is
		// transient per spec.md §7 category 1.
	}

	pollFallback := false
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		dialCtx, dialCancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := client.DialStream(dialCtx)
		dialCancel()
		if err != nil {
			if isNotFound(err) {
				// spec.md §4.3: "still participates via the initial HTTP
				// fetch path — the ingestor falls back to periodic HTTP
				// polling at a fixed interval equal to heartbeat_timeout_s/3".
				pollFallback = true
			}
			if pollFallback {
				if w.sleepOrStop(w.pollInterval()) {
					return
				}
				w.bootstrap(client)
				continue
			}
			if w.sleepOrStop(w.reconnectDelay()) {
				return
			}
			continue
		}
		w.streamLoop(conn)
		conn.Close()
		if w.sleepOrStop(w.reconnectDelay()) {
			return
		}
	}
}

func (w *peerWorker) pollInterval() time.Duration {
	to := w.in.heartbeatTimeout()
	d := to / 3
	if d < time.Second {
		d = time.Second
	}
	return d
}

var reconnectBackoffs sync.Map // host -> *backoff

func (w *peerWorker) reconnectDelay() time.Duration {
	b, _ := reconnectBackoffs.LoadOrStore(w.host, newReconnectBackoff())
	return b.(*backoff).Next()
}

func (w *peerWorker) resetReconnect() {
	b, _ := reconnectBackoffs.LoadOrStore(w.host, newReconnectBackoff())
	b.(*backoff).Reset()
}

func (w *peerWorker) sleepOrStop(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.stop:
		return true
	case <-t.C:
		return false
	}
}

// bootstrap performs the initial HTTP GET of spec.md §4.3 step 1, with
// its own bounded exponential backoff capped at one step before the
// stream is opened.
func (w *peerWorker) bootstrap(client *peerclient.Client) bool {
	b := newBootstrapBackoff()
	for attempt := 0; attempt < 4; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		st, err := client.GetStatus(ctx)
		cancel()
		if err == nil {
			w.applyFullStatus(st)
			return true
		}
		log.Printf("ingestor: %s: bootstrap fetch failed: %v", w.host, err)
		if attempt < 3 {
			if w.sleepOrStop(b.Next()) {
				return false
			}
		}
	}
	return false
}

func (w *peerWorker) streamLoop(conn *websocket.Conn) {
	first := true
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if first {
			var st peertypes.Status
			if jsonErr := json.Unmarshal(data, &st); jsonErr != nil {
				log.Printf("ingestor: %s: parse initial snapshot: %v", w.host, jsonErr)
				continue
			}
			w.applyFullStatus(st)
			w.resetReconnect()
			first = false
			continue
		}
		var delta peertypes.StatusDelta
		if err := json.Unmarshal(data, &delta); err != nil {
			log.Printf("ingestor: %s: parse delta: %v", w.host, err)
			continue
		}
		w.applyDelta(delta)
		w.resetReconnect()
	}
}

func (w *peerWorker) applyFullStatus(st peertypes.Status) {
	w.in.mu.Lock()
	w.rec.Status = st
	if st.DeviceID != "" {
		w.rec.DeviceID = st.DeviceID
	}
	w.rec.LastSeen = time.Now()
	w.in.mu.Unlock()
	w.afterUpdate(st.ConfigVersion, st.ConfigHash)
}

func (w *peerWorker) applyDelta(delta peertypes.StatusDelta) {
	w.in.mu.Lock()
	delta.MergeInto(&w.rec.Status)
	if w.rec.Status.DeviceID != "" {
		w.rec.DeviceID = w.rec.Status.DeviceID
	}
	w.rec.LastSeen = time.Now()
	cv, hash := w.rec.Status.ConfigVersion, w.rec.Status.ConfigHash
	w.in.mu.Unlock()
	w.afterUpdate(cv, hash)
}

func (w *peerWorker) afterUpdate(cv uint64, hash string) {
	if w.in.signals.OnStatusChange != nil {
		w.in.signals.OnStatusChange()
	}
	if w.in.signals.OnConfigVersionSeen != nil {
		w.in.signals.OnConfigVersionSeen(w.host, cv, hash)
	}
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "404")
}
