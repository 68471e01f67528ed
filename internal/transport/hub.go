package transport

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/command"
)

// Hub is the process-wide table of active links, both inbound (server-
// accepted) and outbound (client-dialed), keyed by (peer, zone). Grounded
// on arkeep's server/internal/websocket.Hub: a single owned value that
// every top-level task shares, with per-link goroutines doing the actual
// I/O rather than funnelling everything through one event loop.
type Hub struct {
	mu           sync.RWMutex
	links        map[string]*Link
	onFrame      func(command.Frame)
	onConnect    func(peer, zone string)
	onDisconnect func(peer, zone string)
	logger       *zap.Logger
}

func linkKey(peer, zone string) string { return peer + "@" + zone }

// NewHub creates a hub that dispatches every decoded frame to onFrame.
func NewHub(logger *zap.Logger, onFrame func(command.Frame)) *Hub {
	return &Hub{
		links:   make(map[string]*Link),
		onFrame: onFrame,
		logger:  logger.Named("hub"),
	}
}

// SetOnConnect installs a hook invoked once, synchronously with Add, each
// time a link (inbound or outbound) is established — agentcore uses this
// to fire the Register{} handshake (spec.md §4.2) without the transport
// layer needing to know about the command protocol's handshake payload.
func (h *Hub) SetOnConnect(fn func(peer, zone string)) {
	h.mu.Lock()
	h.onConnect = fn
	h.mu.Unlock()
}

// SetOnDisconnect installs a hook invoked once a link is torn down,
// letting agentcore mark the peer unreachable in the registry.
func (h *Hub) SetOnDisconnect(fn func(peer, zone string)) {
	h.mu.Lock()
	h.onDisconnect = fn
	h.mu.Unlock()
}

// Add registers a link and starts its write pump and read loop.
func (h *Hub) Add(l *Link) {
	h.mu.Lock()
	if existing, ok := h.links[linkKey(l.PeerName, l.Zone)]; ok {
		existing.Close()
	}
	h.links[linkKey(l.PeerName, l.Zone)] = l
	onConnect := h.onConnect
	h.mu.Unlock()

	go l.Run()
	go l.ReadLoop(h.onFrame, func() { h.remove(l.PeerName, l.Zone, l) })
	if onConnect != nil {
		onConnect(l.PeerName, l.Zone)
	}
}

func (h *Hub) remove(peer, zone string, expected *Link) {
	h.mu.Lock()
	removed := false
	if cur, ok := h.links[linkKey(peer, zone)]; ok && cur == expected {
		delete(h.links, linkKey(peer, zone))
		removed = true
	}
	onDisconnect := h.onDisconnect
	h.mu.Unlock()
	if removed && onDisconnect != nil {
		onDisconnect(peer, zone)
	}
}

// Get returns the active link to a peer, if any.
func (h *Hub) Get(peer, zone string) (*Link, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	l, ok := h.links[linkKey(peer, zone)]
	return l, ok
}

// SendTo enqueues a frame on the named peer's link. Returns an error if no
// link is currently established or its queue is full; callers fall back to
// Board.Queue in that case (spec.md §4.2/§7).
func (h *Hub) SendTo(peer, zone string, f command.Frame) error {
	l, ok := h.Get(peer, zone)
	if !ok {
		return errLinkClosed
	}
	return l.Send(f)
}

// ConnectedCount returns the number of active links, for diagnostics.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.links)
}

// SweepKeepAlives runs CheckKeepAliveTimeout across every active link. Run
// from a background ticker at a cadence shorter than the keepalive period.
func (h *Hub) SweepKeepAlives() {
	h.mu.RLock()
	links := make([]*Link, 0, len(h.links))
	for _, l := range h.links {
		links = append(links, l)
	}
	h.mu.RUnlock()
	for _, l := range links {
		l.CheckKeepAliveTimeout()
	}
}

// RunKeepAliveSweeper blocks, sweeping at the given interval until the
// stop channel is closed; cooperative-sleep style background
// task (spec.md §5: "keepalive sweeper ... 23s").
func (h *Hub) RunKeepAliveSweeper(stop <-chan struct{}, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			h.SweepKeepAlives()
		}
	}
}

// CloseAll tears down every active link, used by a soft restart.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	links := make([]*Link, 0, len(h.links))
	for _, l := range h.links {
		links = append(links, l)
	}
	h.links = make(map[string]*Link)
	h.mu.Unlock()
	for _, l := range links {
		l.Close()
	}
}
