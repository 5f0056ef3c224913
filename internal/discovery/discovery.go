// Package discovery periodically probes the LAN for sibling service
// records and maintains a cached, possibly-stale list of reachable
// peers — spec.md §4.1.
package discovery

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the well-known mDNS service this system advertises and
// queries, spec.md §6.
const ServiceType = "_openevse._tcp"

// DefaultPollInterval is how often the worker loop wakes to check
// whether a new query should start or an in-flight one has timed out.
const DefaultPollInterval = 2 * time.Second

// DefaultDiscoveryInterval is the minimum spacing between query starts.
const DefaultDiscoveryInterval = 60 * time.Second

// DefaultQueryTimeout bounds how long a single mDNS query may run.
const DefaultQueryTimeout = 5 * time.Second

// DefaultSnapshotTTL is the age after which a snapshot is considered
// stale (callers may still read it, per spec.md §4.1).
const DefaultSnapshotTTL = 60 * time.Second

// Peer is one discovered sibling.
type Peer struct {
	Host string `json:"host"`
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// Snapshot is the last completed discovery result.
type Snapshot struct {
	Peers   []Peer    `json:"peers"`
	AsOf    time.Time `json:"as_of"`
}

// Stale reports whether the snapshot is older than ttl.
func (s Snapshot) Stale(ttl time.Duration) bool {
	if s.AsOf.IsZero() {
		return true
	}
	return time.Since(s.AsOf) > ttl
}

// queryFunc abstracts the mDNS lookup so tests can substitute a fake.
// Real callers use mdnsQuery, which wraps mdns.Query.
type queryFunc func(ctx context.Context, timeout time.Duration) ([]Peer, error)

// Worker runs the single background discovery loop: Idle -> QueryInFlight -> Idle.
type Worker struct {
	pollInterval      time.Duration
	discoveryInterval time.Duration
	queryTimeout      time.Duration
	query             queryFunc

	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}

	mu          sync.RWMutex
	snapshot    Snapshot
	lastStarted time.Time

	inFlight int32 // atomic bool: 0 or 1
}

// New creates a discovery worker with default intervals, using the
// real mDNS client.
func New() *Worker {
	return NewWithQuery(mdnsQuery)
}

// NewWithQuery creates a worker with a custom query function, used in
// tests to avoid real network I/O.
func NewWithQuery(q queryFunc) *Worker {
	return &Worker{
		pollInterval:      DefaultPollInterval,
		discoveryInterval: DefaultDiscoveryInterval,
		queryTimeout:      DefaultQueryTimeout,
		query:             q,
		trigger:           make(chan struct{}, 1),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// Start begins the worker loop in a goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Stop halts the worker loop and waits for it to exit.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

// Trigger forces the next periodic tick to be "now". Idempotent and
// non-blocking — it never pre-empts an in-flight query (spec.md §4.1).
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Snapshot returns the last completed discovery result. Never blocks
// on the network.
func (w *Worker) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

func (w *Worker) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var (
		cancel    context.CancelFunc
		resultCh  chan []Peer
		startedAt time.Time
	)

	startQuery := func() {
		ctx, c := context.WithTimeout(context.Background(), w.queryTimeout)
		cancel = c
		resultCh = make(chan []Peer, 1)
		startedAt = time.Now()
		atomic.StoreInt32(&w.inFlight, 1)
		w.mu.Lock()
		w.lastStarted = startedAt
		w.mu.Unlock()
		go func() {
			peers, err := w.query(ctx, w.queryTimeout)
			if err != nil {
				log.Printf("discovery: query error: %v", err)
				peers = nil
			}
			resultCh <- peers
		}()
	}

	finishQuery := func(peers []Peer) {
		atomic.StoreInt32(&w.inFlight, 0)
		w.mu.Lock()
		w.snapshot = Snapshot{Peers: dedupe(peers), AsOf: time.Now()}
		w.mu.Unlock()
		if cancel != nil {
			cancel()
			cancel = nil
		}
		resultCh = nil
	}

	for {
		select {
		case <-w.stop:
			if cancel != nil {
				cancel()
			}
			return

		case <-w.trigger:
			w.mu.RLock()
			due := atomic.LoadInt32(&w.inFlight) == 0
			w.mu.RUnlock()
			if due {
				w.mu.Lock()
				w.lastStarted = time.Time{} // force the next tick's time check to pass
				w.mu.Unlock()
			}

		case peers := <-resultChOrNil(resultCh):
			finishQuery(peers)

		case <-ticker.C:
			if atomic.LoadInt32(&w.inFlight) == 1 {
				if time.Since(startedAt) > w.queryTimeout {
					// Cancel and start a fresh cycle.
					if cancel != nil {
						cancel()
					}
					atomic.StoreInt32(&w.inFlight, 0)
					resultCh = nil
				}
				continue
			}
			w.mu.RLock()
			last := w.lastStarted
			w.mu.RUnlock()
			if time.Since(last) >= w.discoveryInterval {
				startQuery()
			}
		}
	}
}

// resultChOrNil lets a select case become permanently-blocking (never
// fires) when no query is in flight, by returning a nil channel.
func resultChOrNil(ch chan []Peer) chan []Peer {
	return ch
}

// dedupe removes duplicate hostnames — "same device may answer over
// multiple interfaces — first occurrence wins" (spec.md §4.1).
func dedupe(peers []Peer) []Peer {
	seen := make(map[string]struct{}, len(peers))
	out := make([]Peer, 0, len(peers))
	for _, p := range peers {
		key := strings.ToLower(p.Host)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// mdnsQuery performs the real non-blocking-from-the-caller's-perspective
// mDNS lookup for ServiceType using github.com/hashicorp/mdns, the same
// client library reachable transitively through the retrieval pack's
// hashicorp/nomad go-discover/mdns provider.
func mdnsQuery(ctx context.Context, timeout time.Duration) ([]Peer, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	var peers []Peer
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range entries {
			if e == nil {
				continue
			}
			peers = append(peers, Peer{
				Host: strings.TrimSuffix(e.Name, "."),
				IP:   firstAddr(e),
				Port: e.Port,
			})
		}
	}()

	params := &mdns.QueryParam{
		Service:             ServiceType,
		Domain:              "local",
		Timeout:             timeout,
		Entries:             entries,
		WantUnicastResponse: true,
	}
	// mdns.Query blocks for up to params.Timeout; the caller's ctx carries
	// the same bound (see Worker.run's context.WithTimeout), so we rely
	// on Query's own timeout rather than a context-aware variant — the
	// hashicorp/mdns client predates context.Context support.
	err := mdns.Query(params)
	_ = ctx
	close(entries)
	wg.Wait()
	return peers, err
}

func firstAddr(e *mdns.ServiceEntry) string {
	if e.AddrV4 != nil {
		return e.AddrV4.String()
	}
	if e.AddrV6 != nil {
		return e.AddrV6.String()
	}
	return e.Addr.String()
}
