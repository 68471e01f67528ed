package handler

import "github.com/openportal/mesh/internal/command"

// CascadeHandler is the subset of internal/cascade's behaviour the routing
// engine dispatches control commands to. Declared here (rather than
// importing internal/cascade directly) so agentcore can wire the two
// packages together without a dependency cycle.
type CascadeHandler interface {
	OnHealthCheck(sender, zone string, visited []string)
	OnHealthResponse(sender string, health command.HealthInfo)
	OnRestart(sender, zone string, restartType command.RestartType, destination string)
	OnDiagnosticsRequest(sender, zone, destination string)
	OnDiagnosticsResponse(sender string, report command.DiagnosticsReport)
}
