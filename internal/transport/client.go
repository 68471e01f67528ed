package transport

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/cryptutil"
)

// Backoff parameters, hand-rolled the way arkeep's agent/internal/
// connection/manager.go does (nextBackoff/jitter) — kept as a ~15-line
// helper rather than a pack dependency since none improves on it.
const (
	backoffInitial   = 1 * time.Second
	backoffMax       = 60 * time.Second
	backoffFactor    = 2.0
	jitterFraction   = 0.2
)

func nextBackoff(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * backoffFactor)
	if next > backoffMax {
		next = backoffMax
	}
	return next
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}

// Client maintains one outbound link to a configured server, redialing
// with exponential backoff and jitter until the link is established or the
// context is cancelled.
type Client struct {
	selfName string
	server   cryptutil.ServerConfig
	hub      *Hub
	logger   *zap.Logger
}

// NewClient builds an outbound connection manager for one configured
// server entry.
func NewClient(selfName string, server cryptutil.ServerConfig, hub *Hub, logger *zap.Logger) *Client {
	return &Client{
		selfName: selfName,
		server:   server,
		hub:      hub,
		logger:   logger.Named("transport.client").With(zap.String("server", server.Name)),
	}
}

// Run dials the server and reinstalls the link on the hub, retrying with
// backoff on failure, until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	backoff := backoffInitial
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connectOnce(ctx); err != nil {
			c.logger.Warn("connect failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(backoff)):
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = backoffInitial
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	u, err := url.Parse(c.server.URL)
	if err != nil {
		return err
	}
	if u.Scheme == "http" {
		u.Scheme = "ws"
	} else if u.Scheme == "https" {
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("name", c.selfName)
	q.Set("zone", c.server.Zone)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", strings.TrimSuffix(u.String(), "?"+u.RawQuery), err)
	}

	link := NewLink(conn, c.server.Name, c.server.Zone, c.logger)
	c.hub.Add(link)
	c.logger.Info("connected to server", zap.String("url", c.server.URL))

	// Block until the link drops, so Run's retry loop only re-dials after
	// a genuine disconnect.
	<-link.done
	return nil
}
