package transport

import (
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/cryptutil"
	"github.com/openportal/mesh/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// OpenPortal peers authenticate via the invite's shared keys, not
	// same-origin checks; any origin may attempt the handshake and is
	// then accepted or refused by ClientConfig lookup below.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server accepts inbound WebSocket connections from configured clients
// (spec.md §4.2). It refuses connections while a soft-restart guard is
// held, and refuses any peer absent from its ServiceConfig's Clients list
// or whose address does not match that client's IP range.
type Server struct {
	config  *cryptutil.ServiceConfig
	guard   *registry.RestartGuard
	hub     *Hub
	reg     *registry.Registry
	logger  *zap.Logger
	selfName string
}

// NewServer builds the inbound WebSocket handler for this agent.
func NewServer(config *cryptutil.ServiceConfig, guard *registry.RestartGuard, hub *Hub, reg *registry.Registry, logger *zap.Logger) *Server {
	return &Server{
		config:   config,
		guard:    guard,
		hub:      hub,
		reg:      reg,
		logger:   logger.Named("transport.server"),
		selfName: config.Service,
	}
}

// ServeHTTP upgrades the request to a WebSocket and, once the peer
// identifies itself via its TLS/invite-derived name+zone (carried as query
// parameters by the dialing client), validates it against the configured
// Clients list before admitting the link.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.guard.Held() {
		http.Error(w, "soft restart in progress", http.StatusServiceUnavailable)
		return
	}

	name := r.URL.Query().Get("name")
	zone := r.URL.Query().Get("zone")

	client, ok := s.config.FindClient(name, zone)
	if !ok {
		s.logger.Warn("rejecting unknown client", zap.String("name", name), zap.String("zone", zone))
		http.Error(w, "unknown client", http.StatusForbidden)
		return
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if addr := net.ParseIP(host); addr != nil && !client.IPRange.Matches(addr) {
		s.logger.Warn("rejecting client outside permitted IP range", zap.String("name", name), zap.String("remote", host))
		http.Error(w, "address not permitted", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	link := NewLink(conn, name, zone, s.logger)
	s.hub.Add(link)
	s.logger.Info("accepted inbound link", zap.String("peer", name), zap.String("zone", zone))
}
