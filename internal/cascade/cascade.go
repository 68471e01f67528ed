package cascade

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/board"
	"github.com/openportal/mesh/internal/command"
	"github.com/openportal/mesh/internal/registry"
	"github.com/openportal/mesh/internal/transport"
)

// cascadeWaitTimeout and the poll granularity are spec.md §4.6: "Wait up to
// 500 ms for each contacted peer's reply ... polling at 10 ms granularity."
const (
	cascadeWaitTimeout = 500 * time.Millisecond
	cascadePollEvery   = 10 * time.Millisecond
)

// Cascade implements the fan-out health/diagnostics/restart control plane.
// One value is owned per agent process and wired into the handler via
// handler.SetCascade.
type Cascade struct {
	selfName  string
	selfType  registry.AgentType
	engine    string
	version   string
	startTime time.Time

	reg    *registry.Registry
	boards *board.Set
	hub    *transport.Hub
	guard  *registry.RestartGuard
	logger *zap.Logger

	mu          sync.RWMutex
	healthCache map[string]command.HealthInfo

	diagMu      sync.RWMutex
	diagCache   map[string]command.DiagnosticsReport
	diagUpdated map[string]time.Time

	metrics *metrics
}

// New builds the cascade subsystem for this agent.
func New(selfName string, selfType registry.AgentType, engine, version string, reg *registry.Registry, boards *board.Set, hub *transport.Hub, guard *registry.RestartGuard, logger *zap.Logger) *Cascade {
	return &Cascade{
		selfName:    selfName,
		selfType:    selfType,
		engine:      engine,
		version:     version,
		startTime:   time.Now(),
		reg:         reg,
		boards:      boards,
		hub:         hub,
		guard:       guard,
		logger:      logger.Named("cascade"),
		healthCache: make(map[string]command.HealthInfo),
		diagCache:   make(map[string]command.DiagnosticsReport),
		diagUpdated: make(map[string]time.Time),
		metrics:     newMetrics(selfName),
	}
}

func (c *Cascade) cacheHealthResponse(h command.HealthInfo) {
	h.LastUpdated = time.Now()
	c.mu.Lock()
	c.healthCache[h.Name] = h
	c.mu.Unlock()
}

func (c *Cascade) cachedHealth() map[string]command.HealthInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]command.HealthInfo, len(c.healthCache))
	for k, v := range c.healthCache {
		out[k] = v
	}
	return out
}

func (c *Cascade) localHealthInfo() command.HealthInfo {
	h := command.NewHealthInfo(c.selfName, c.selfType, true, c.startTime, c.engine, c.version)
	stats := c.boards.AggregateStats()
	h.ActiveJobs = stats.Active
	h.PendingJobs = stats.Pending
	h.RunningJobs = stats.Running
	h.CompletedJobs = stats.Completed
	h.DuplicateJobs = stats.Duplicates
	h.System = collectSystemInfo()
	return h
}

// CollectHealth builds this agent's health info, cascading to downstream
// peers if this agent type forwards cascades (spec.md §4.6, health.rs's
// collect_health). `requester` is excluded from the downstream fan-out to
// avoid an immediate loop back to whoever asked.
func (c *Cascade) CollectHealth(requester string, visited []string) command.HealthInfo {
	health := c.localHealthInfo()

	if !c.selfType.CascadeHealth() {
		c.logger.Debug("health cascade disabled for this agent (leaf node)")
		return health
	}

	peers := downstreamPeers(c.selfType, c.reg.All(), requester, visited)
	if len(peers) == 0 {
		return health
	}

	newVisited := append(append([]string{}, visited...), c.selfName)
	c.cascadeHealthChecks(&health, peers, newVisited)
	return health
}

func (c *Cascade) cascadeHealthChecks(health *command.HealthInfo, peers []registry.PeerInfo, visited []string) {
	baseline := time.Now()

	var contacted, disconnected []registry.PeerInfo
	for _, p := range peers {
		cmd := command.HealthCheck(visited)
		frame := command.NewFrame(c.selfName, p.Name, p.Zone, cmd)
		if err := c.hub.SendTo(p.Name, p.Zone, frame); err != nil {
			c.logger.Debug("health check send failed, treating as disconnected", zap.String("peer", p.Name), zap.Error(err))
			disconnected = append(disconnected, p)
			continue
		}
		contacted = append(contacted, p)
	}

	if len(contacted) > 0 {
		names := make([]string, len(contacted))
		for i, p := range contacted {
			names[i] = p.Name
		}
		c.waitForHealthUpdates(names, baseline)
	}

	cached := c.cachedHealth()
	for _, p := range peers {
		if h, ok := cached[p.Name]; ok {
			hc := h
			health.Peers[p.Name] = &hc
		}
	}

	c.markDisconnectedPeers(health, disconnected, cached)
}

func (c *Cascade) markDisconnectedPeers(health *command.HealthInfo, disconnected []registry.PeerInfo, cached map[string]command.HealthInfo) {
	for _, p := range disconnected {
		var dh command.HealthInfo
		if h, ok := cached[p.Name]; ok {
			dh = h
		} else {
			dh = command.NewHealthInfo(p.Name, p.Type, false, time.Now(), "unknown", "unknown")
		}
		dh.Connected = false
		health.Peers[p.Name] = &dh
	}
}

// waitForHealthUpdates polls the cache every 10ms until every named peer's
// cached response post-dates baseline, or 500ms elapses — health.rs's
// wait_for_health_updates, verbatim in timing.
func (c *Cascade) waitForHealthUpdates(peerNames []string, baseline time.Time) {
	deadline := baseline.Add(cascadeWaitTimeout)
	for {
		if c.allUpdatedSince(peerNames, baseline) {
			return
		}
		if time.Now().After(deadline) {
			c.logger.Debug("health check timeout", zap.Int("peers", len(peerNames)))
			return
		}
		time.Sleep(cascadePollEvery)
	}
}

func (c *Cascade) allUpdatedSince(peerNames []string, baseline time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range peerNames {
		h, ok := c.healthCache[name]
		if !ok || !h.LastUpdated.After(baseline) {
			return false
		}
	}
	return true
}

// OnHealthCheck answers a HealthCheck frame: collects health (possibly
// cascading further downstream) and replies with a HealthResponse. Also
// caches the reply as if it were a peer's so a process that cascades to
// itself in test harnesses still resolves waits correctly.
func (c *Cascade) OnHealthCheck(sender, zone string, visited []string) {
	if c.selfType == registry.TypePortal {
		if senderInfo, ok := c.reg.Get(sender, zone); ok && senderInfo.Type == registry.TypePortal {
			c.logger.Warn("dropping cascade from another portal", zap.String("sender", sender))
			return
		}
	}

	health := c.CollectHealth(sender, visited)
	c.cacheHealthResponse(health)
	frame := command.NewFrame(c.selfName, sender, zone, command.HealthResponse(health))
	if err := c.hub.SendTo(sender, zone, frame); err != nil {
		c.logger.Debug("failed to send health response", zap.Error(err))
	}
}

// OnHealthResponse caches an inbound reply, unblocking any in-progress
// waitForHealthUpdates poll for that peer.
func (c *Cascade) OnHealthResponse(sender string, health command.HealthInfo) {
	c.cacheHealthResponse(health)
}
