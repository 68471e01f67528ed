package registry

import (
	"sync"
	"time"
)

// PeerInfo is everything the registry tracks about a single peer, per
// spec.md §4.2: "(peer, AgentType, engine, version, connected, first_seen,
// last_seen)".
type PeerInfo struct {
	Name      string
	Zone      string
	Type      AgentType
	Engine    string
	Version   string
	Connected bool
	FirstSeen time.Time
	LastSeen  time.Time
}

// Registry is the process-wide directory of known peers. A single owned
// value is created at program entry and handed to every top-level task by
// capability-passing (spec.md §9's resolution for "global singletons for
// caches and peer tables") rather than hidden behind a package-level global.
type Registry struct {
	mu      sync.RWMutex
	peers   map[string]*PeerInfo // keyed by name@zone
	virtual map[string]bool      // names that terminate locally without a transport link
}

func key(name, zone string) string { return name + "@" + zone }

// New creates an empty peer registry.
func New() *Registry {
	return &Registry{
		peers:   make(map[string]*PeerInfo),
		virtual: make(map[string]bool),
	}
}

// Register records a peer as connected, updating its AgentType/engine/
// version and first_seen/last_seen, mirroring the Register{} handshake
// command handling in spec.md §4.2.
func (r *Registry) Register(name, zone string, t AgentType, engine, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	k := key(name, zone)
	p, ok := r.peers[k]
	if !ok {
		p = &PeerInfo{Name: name, Zone: zone, FirstSeen: now}
		r.peers[k] = p
	}
	p.Type = t
	p.Engine = engine
	p.Version = version
	p.Connected = true
	p.LastSeen = now
}

// Disconnect marks a peer unreachable without forgetting what is known
// about it, so cascade aggregation can still report its last-seen role.
func (r *Registry) Disconnect(name, zone string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[key(name, zone)]; ok {
		p.Connected = false
		p.LastSeen = time.Now()
	}
}

// Get returns a copy of what the registry knows about a peer.
func (r *Registry) Get(name, zone string) (PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[key(name, zone)]
	if !ok {
		return PeerInfo{}, false
	}
	return *p, true
}

// Connected reports whether a peer is currently reachable.
func (r *Registry) Connected(name, zone string) bool {
	p, ok := r.Get(name, zone)
	return ok && p.Connected
}

// All returns a snapshot of every known peer, connected or not.
func (r *Registry) All() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	return out
}

// WaitFor polls until the named peer is connected or the timeout elapses,
// spec.md §4.5's wait_for(peer, seconds): "the sole mechanism for
// tolerating slow reconnects." Returns false on timeout.
func (r *Registry) WaitFor(name, zone string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if r.Connected(name, zone) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}
