// Package transport implements the WebSocket peer mesh: the per-link
// send/receive loops, keepalive state machine, and reconnect-with-backoff
// client, grounded on arkeep's server/internal/websocket hub/client shape
// and agent/internal/connection/manager.go's reconnect handling.
package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/command"
)

const (
	writeWait      = 10 * time.Second
	keepaliveQuiet = 23 * time.Second // spec.md §4.2: 23s quiet interval before a KeepAlive
	keepaliveReply = 23 * time.Second // a reply must arrive within the next period
	maxMessageSize = 1 << 20
	sendBufferSize = 64
)

// Link owns one WebSocket connection to a peer: a bounded outgoing queue
// and a reader loop, plus the keepalive dedup guard (spec.md §4.2: "a
// per-link dedup guard so exactly one keepalive is in flight per
// (peer, zone)").
type Link struct {
	PeerName string
	Zone     string

	conn   *websocket.Conn
	send   chan command.Frame
	logger *zap.Logger

	mu                 sync.Mutex
	lastActivity       time.Time
	keepaliveInFlight  bool
	lastKeepaliveSentAt time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// NewLink wraps an already-established connection (inbound accepted by the
// server or outbound dialed by the client).
func NewLink(conn *websocket.Conn, peerName, zone string, logger *zap.Logger) *Link {
	conn.SetReadLimit(maxMessageSize)
	l := &Link{
		PeerName:     peerName,
		Zone:         zone,
		conn:         conn,
		send:         make(chan command.Frame, sendBufferSize),
		logger:       logger.Named("link").With(zap.String("peer", peerName), zap.String("zone", zone)),
		lastActivity: time.Now(),
		done:         make(chan struct{}),
	}
	return l
}

// Send enqueues a frame for transmission. Returns an error immediately
// (rather than blocking) if the outgoing queue is full, so callers can
// queue the underlying command on the board instead of stalling the
// handler's serial per-link processing.
func (l *Link) Send(f command.Frame) error {
	select {
	case l.send <- f:
		return nil
	case <-l.done:
		return errLinkClosed
	default:
		return errQueueFull
	}
}

// Run starts the link's write pump (current goroutine's caller should run
// this in its own goroutine) and blocks until the link closes.
func (l *Link) Run() {
	defer l.Close()
	for {
		select {
		case <-l.done:
			return
		case f := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := f.Encode()
			if err != nil {
				l.logger.Warn("failed to encode outgoing frame", zap.Error(err))
				continue
			}
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				l.logger.Debug("write failed, closing link", zap.Error(err))
				return
			}
			l.mu.Lock()
			l.lastActivity = time.Now()
			l.mu.Unlock()
		case <-time.After(keepaliveQuiet):
			l.maybeSendKeepAlive()
		}
	}
}

// maybeSendKeepAlive enforces the per-(peer,zone) dedup guard: only one
// keepalive may be outstanding at a time.
func (l *Link) maybeSendKeepAlive() {
	l.mu.Lock()
	quiet := time.Since(l.lastActivity) >= keepaliveQuiet
	alreadyInFlight := l.keepaliveInFlight
	if quiet && !alreadyInFlight {
		l.keepaliveInFlight = true
		l.lastKeepaliveSentAt = time.Now()
	}
	l.mu.Unlock()

	if !quiet || alreadyInFlight {
		return
	}

	frame := command.NewKeepAlive(l.PeerName, l.PeerName, l.Zone)
	data, err := frame.Encode()
	if err != nil {
		return
	}
	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		l.logger.Debug("keepalive send failed, closing link", zap.Error(err))
		l.Close()
	}
}

// OnKeepAliveReply clears the dedup guard; called by the reader when a
// keepalive frame arrives from the peer.
func (l *Link) OnKeepAliveReply() {
	l.mu.Lock()
	l.keepaliveInFlight = false
	l.lastActivity = time.Now()
	l.mu.Unlock()
}

// CheckKeepAliveTimeout tears the link down if a keepalive reply has not
// arrived within the following period (spec.md §4.2).
func (l *Link) CheckKeepAliveTimeout() {
	l.mu.Lock()
	overdue := l.keepaliveInFlight && time.Since(l.lastKeepaliveSentAt) > keepaliveReply
	l.mu.Unlock()
	if overdue {
		l.logger.Warn("keepalive reply overdue, tearing down link")
		l.Close()
	}
}

// ReadLoop decodes frames off the wire and invokes onFrame for each one,
// calling onClose exactly once when the connection drops. Intended to run
// in its own goroutine.
func (l *Link) ReadLoop(onFrame func(command.Frame), onClose func()) {
	defer func() {
		l.Close()
		onClose()
	}()
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return
		}
		l.mu.Lock()
		l.lastActivity = time.Now()
		l.mu.Unlock()

		frame, err := command.Decode(data)
		if err != nil {
			l.logger.Warn("dropping unparseable frame", zap.Error(err))
			continue
		}
		if frame.Kind == command.FrameKeepAlive {
			l.OnKeepAliveReply()
			continue
		}
		onFrame(frame)
	}
}

// Close tears down the link idempotently.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}
