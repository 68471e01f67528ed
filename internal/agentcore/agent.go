// Package agentcore wires the mesh's independent layers — transport,
// registry, board, handler, cascade — into the single `Agent` value each
// `cmd/<role>/main.go` entrypoint constructs and runs. Grounded on arkeep's
// `server/cmd/server/main.go` and `agent/cmd/agent/main.go` wiring
// sequence: build every component with its dependencies explicit
// (capability-passing per spec.md §9, no hidden globals), then start
// background tasks and block until shutdown.
package agentcore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/board"
	"github.com/openportal/mesh/internal/bridgehttp"
	"github.com/openportal/mesh/internal/cascade"
	"github.com/openportal/mesh/internal/command"
	"github.com/openportal/mesh/internal/cryptutil"
	"github.com/openportal/mesh/internal/handler"
	"github.com/openportal/mesh/internal/job"
	"github.com/openportal/mesh/internal/registry"
	"github.com/openportal/mesh/internal/transport"
)

// Background task cadences, spec.md §5: "cache cleaner, system-info
// monitor, keepalive sweeper ... run at fixed intervals (60s for expiry
// sweep, 10s for system monitor, 23s for keepalive)."
const (
	expirySweepInterval    = 60 * time.Second
	keepaliveSweepInterval = 23 * time.Second
	systemMonitorInterval  = 10 * time.Second
)

// Agent is one mesh process: a named, typed peer with its own registry,
// board set, transport hub (+ optional inbound server), routing handler,
// and cascade subsystem. Every `cmd/<role>` binary builds exactly one.
type Agent struct {
	Name    string
	Type    registry.AgentType
	Engine  string
	Version string

	Config *cryptutil.ServiceConfig
	Guard  *registry.RestartGuard
	Reg    *registry.Registry
	Boards *board.Set
	Hub    *transport.Hub
	Server *transport.Server
	Routes *handler.Handler
	Cascade *cascade.Cascade

	logger *zap.Logger
	cron   *cron.Cron
	clients []*transport.Client
}

// New builds an Agent from its service config and the one callback the
// core requires from the binary: the Runner that performs this agent's
// business logic at the destination hop (spec.md §4.5/§6).
func New(cfg *cryptutil.ServiceConfig, agentType registry.AgentType, engine, version string, runner handler.Runner, logger *zap.Logger) *Agent {
	logger = logger.Named(cfg.Service)

	reg := registry.New()
	guard := registry.NewRestartGuard()
	boards := board.NewSet()

	a := &Agent{
		Name:    cfg.Service,
		Type:    agentType,
		Engine:  engine,
		Version: version,
		Config:  cfg,
		Guard:   guard,
		Reg:     reg,
		Boards:  boards,
		logger:  logger,
		cron:    cron.New(),
	}

	hub := transport.NewHub(logger, func(f command.Frame) { a.Routes.Dispatch(f) })
	hub.SetOnConnect(func(peer, zone string) {
		frame := command.NewFrame(a.Name, peer, zone, command.Register(a.Type, a.Engine, a.Version))
		_ = hub.SendTo(peer, zone, frame)
	})
	hub.SetOnDisconnect(func(peer, zone string) { reg.Disconnect(peer, zone) })
	a.Hub = hub

	a.Routes = handler.New(cfg.Service, reg, boards, hub, runner, logger)
	a.Cascade = cascade.New(cfg.Service, agentType, engine, version, reg, boards, hub, guard, logger)
	a.Routes.SetCascade(a.Cascade)

	a.Server = transport.NewServer(cfg, guard, hub, reg, logger)

	for _, server := range cfg.Servers {
		a.clients = append(a.clients, transport.NewClient(cfg.Service, server, hub, logger))
	}

	return a
}

// Submit introduces a brand-new job to the mesh on this agent's behalf —
// the entry point bridge HTTP and sub-job-issuing runners both use.
func (a *Agent) Submit(j job.Job) (<-chan job.Job, error) { return a.Routes.Submit(j) }

// BridgeBoard returns this agent's own local board, the one a Bridge
// binary's HTTP surface reads/writes directly (spec.md §4.7).
func (a *Agent) BridgeBoard() *board.Board { return a.Boards.Get(a.Name) }

// NewBridgeServer wires a signed REST surface on top of this agent,
// intended only for agents registered with AgentType Bridge.
func (a *Agent) NewBridgeServer(key cryptutil.Key) *bridgehttp.Server {
	signaler := bridgehttp.NewSignaler(a.logger)
	return bridgehttp.New(a.Name, key, a.BridgeBoard(), a, signaler, a.logger)
}

// DiagnosticsMux exposes this agent's own Prometheus metrics and a bare
// liveness probe, independent of the WebSocket mesh port and (for Bridge
// agents) the signed HTTP surface — every binary mounts this on its own
// small port for operator/monitoring use.
func (a *Agent) DiagnosticsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Cascade.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run starts every outbound client and background task, then blocks until
// ctx is cancelled. The inbound WebSocket server is started separately by
// the caller (it needs to share an *http.Server* with other routes in some
// binaries, e.g. Bridge's HTTP surface on a different port).
func (a *Agent) Run(ctx context.Context) error {
	for _, c := range a.clients {
		client := c
		go client.Run(ctx)
	}

	stopKeepalive := make(chan struct{})
	go a.Hub.RunKeepAliveSweeper(stopKeepalive, keepaliveSweepInterval)
	defer close(stopKeepalive)

	if _, err := a.cron.AddFunc(fmt.Sprintf("@every %s", expirySweepInterval), a.sweepExpiredJobs); err != nil {
		return fmt.Errorf("agentcore: schedule expiry sweep: %w", err)
	}
	if _, err := a.cron.AddFunc(fmt.Sprintf("@every %s", systemMonitorInterval), a.Cascade.RefreshMetrics); err != nil {
		return fmt.Errorf("agentcore: schedule system-info monitor: %w", err)
	}
	a.cron.Start()
	defer a.cron.Stop()

	a.logger.Info("agent running",
		zap.String("type", string(a.Type)),
		zap.Int("servers", len(a.clients)),
	)

	<-ctx.Done()
	a.logger.Info("agent shutting down")
	a.Hub.CloseAll()
	return nil
}

// sweepExpiredJobs runs the 60-second expiry sweep (spec.md §5, §4.3's
// remove_expired_jobs) across every board this process holds.
func (a *Agent) sweepExpiredJobs() {
	now := time.Now()
	for _, b := range a.Boards.All() {
		if removed := b.RemoveExpiredJobs(now); len(removed) > 0 {
			a.logger.Debug("expired jobs swept", zap.String("board", b.Peer()), zap.Int("count", len(removed)))
		}
	}
}
