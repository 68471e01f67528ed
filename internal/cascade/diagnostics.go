package cascade

import (
	"time"

	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/command"
	"github.com/openportal/mesh/internal/grammar"
	"github.com/openportal/mesh/internal/registry"
)

func (c *Cascade) diagnosticsCacheGet(name string) (command.DiagnosticsReport, bool) {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()
	r, ok := c.diagCache[name]
	return r, ok
}

func (c *Cascade) diagnosticsCacheSet(name string, r command.DiagnosticsReport, at time.Time) {
	c.diagMu.Lock()
	defer c.diagMu.Unlock()
	c.diagCache[name] = r
	c.diagUpdated[name] = at
}

func (c *Cascade) localDiagnosticsReport() command.DiagnosticsReport {
	report := command.DiagnosticsReport{
		Name:   c.selfName,
		Type:   c.selfType,
		Uptime: time.Since(c.startTime),
		System: collectSystemInfo(),
		Peers:  make(map[string]*command.DiagnosticsReport),
	}
	now := time.Now()
	for _, b := range c.boards.All() {
		for _, j := range b.SyncState().Jobs {
			report.Jobs = append(report.Jobs, command.JobSummary{
				ID:          j.ID,
				State:       j.State,
				Destination: j.Destination.String(),
				Instruction: j.Instruction.String(),
				Age:         now.Sub(j.CreatedAt),
			})
		}
	}
	return report
}

// CollectDiagnostics mirrors CollectHealth's cascade shape (spec.md §4.6:
// "Diagnostics mirrors restart routing but expects a DiagnosticsResponse
// that the originator waits for"), but the fan-out here uses
// DiagnosticsRequest/DiagnosticsResponse instead of HealthCheck/Response.
func (c *Cascade) CollectDiagnostics(requester string, visited []string) command.DiagnosticsReport {
	report := c.localDiagnosticsReport()

	if !c.selfType.CascadeHealth() {
		return report
	}

	peers := downstreamPeers(c.selfType, c.reg.All(), requester, visited)
	if len(peers) == 0 {
		return report
	}

	newVisited := append(append([]string{}, visited...), c.selfName)
	baseline := time.Now()

	var contacted []string
	for _, p := range peers {
		cmd := command.DiagnosticsRequest(joinVisitedAsDestination(newVisited, p.Name))
		frame := command.NewFrame(c.selfName, p.Name, p.Zone, cmd)
		if err := c.hub.SendTo(p.Name, p.Zone, frame); err == nil {
			contacted = append(contacted, p.Name)
		}
	}

	c.waitForDiagnosticsUpdates(contacted, baseline)

	for _, p := range peers {
		if r, ok := c.diagnosticsCacheGet(p.Name); ok {
			rc := r
			report.Peers[p.Name] = &rc
		} else {
			report.Peers[p.Name] = &command.DiagnosticsReport{Name: p.Name, Type: p.Type}
		}
	}
	return report
}

// joinVisitedAsDestination renders the visited chain plus the immediate
// target as a dotted destination so OnDiagnosticsRequest's routing (which
// mirrors Restart's) can tell whether it has arrived.
func joinVisitedAsDestination(visited []string, target string) string {
	dest := grammar.Destination{Agents: append(append([]string{}, visited...), target)}
	return dest.String()
}

func (c *Cascade) waitForDiagnosticsUpdates(names []string, baseline time.Time) {
	if len(names) == 0 {
		return
	}
	deadline := baseline.Add(cascadeWaitTimeout)
	for {
		if c.allDiagnosticsUpdatedSince(names, baseline) {
			return
		}
		if time.Now().After(deadline) {
			return
		}
		time.Sleep(cascadePollEvery)
	}
}

func (c *Cascade) allDiagnosticsUpdatedSince(names []string, baseline time.Time) bool {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()
	for _, n := range names {
		at, ok := c.diagUpdated[n]
		if !ok || !at.After(baseline) {
			return false
		}
	}
	return true
}

// OnDiagnosticsRequest answers a DiagnosticsRequest: if this agent is the
// named destination, collects and replies; otherwise forwards one hop
// further, same portal firewall as restart.
func (c *Cascade) OnDiagnosticsRequest(sender, zone, destination string) {
	if c.selfType == registry.TypePortal {
		if info, ok := c.reg.Get(sender, zone); ok && info.Type == registry.TypePortal {
			c.logger.Warn("dropping diagnostics cascade from another portal", zap.String("sender", sender))
			return
		}
	}

	dest, err := grammar.NewDestination(destination)
	if err != nil || dest.Last() == c.selfName {
		report := c.CollectDiagnostics(sender, dest.Agents)
		frame := command.NewFrame(c.selfName, sender, zone, command.DiagnosticsResponse(report))
		if err := c.hub.SendTo(sender, zone, frame); err != nil {
			c.logger.Debug("failed to send diagnostics response", zap.Error(err))
		}
		return
	}

	next, ok := dest.Next(c.selfName)
	if !ok {
		return
	}
	frame := command.NewFrame(c.selfName, next, zone, command.DiagnosticsRequest(destination))
	_ = c.hub.SendTo(next, zone, frame)
}

// OnDiagnosticsResponse caches an inbound reply, unblocking any in-progress
// waitForDiagnosticsUpdates poll for that peer.
func (c *Cascade) OnDiagnosticsResponse(sender string, report command.DiagnosticsReport) {
	c.diagnosticsCacheSet(sender, report, time.Now())
}
