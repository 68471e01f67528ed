package agentcore

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/cryptutil"
	"github.com/openportal/mesh/internal/grammar"
	"github.com/openportal/mesh/internal/handler"
	"github.com/openportal/mesh/internal/job"
	"github.com/openportal/mesh/internal/registry"
)

// httpReadHeaderTimeout guards every *http.Server this package starts
// against slow-header DoS, the one hardening arkeep's own server/cmd/server
// applies to its chi router.
const httpReadHeaderTimeout = 5 * time.Second

// Binary describes the one piece of information that differs between the
// eight `cmd/<role>/main.go` entrypoints: the agent's role, its type tag,
// and the business logic it runs at the destination hop. Everything else —
// flag parsing, config persistence, invite issuance, transport wiring,
// shutdown — is identical across roles and lives here, grounded on arkeep's
// agent/cmd/agent/main.go and server/cmd/server/main.go newRootCmd shape.
type Binary struct {
	// Service is the default basename used for the config file and the
	// zap logger name, e.g. "portal", "account".
	Service string
	Type    registry.AgentType
	Engine  string
	Version string

	// NewRunner builds this binary's business logic, given the logger the
	// rest of this agent uses. A nil NewRunner gets a relay-only stub that
	// errors any instruction addressed directly to it — correct for
	// Portal/Platform/Instance/Provider, which only ever occupy Upstream/
	// Downstream routing positions.
	NewRunner func(logger *zap.Logger) handler.Runner

	// RunsBridgeHTTP marks the one binary (Bridge) that, in addition to
	// the WebSocket mesh port, also starts the signed REST surface
	// (spec.md §4.7) on BridgeAddr.
	RunsBridgeHTTP bool
}

// relayStub answers spec.md §4.5's "a relay agent holds no business logic
// of its own" case: any instruction that somehow addresses a pure-relay
// agent as its Destination is a configuration error, not a panic.
func relayStub(agentType registry.AgentType, _ *zap.Logger) handler.Runner {
	return handler.RunnerFunc(func(ctx context.Context, env job.Envelope) (job.Job, error) {
		return env.Job.Errored(grammar.New(grammar.KindInvalidInstruction,
			"%s agents are relay-only and hold no destination-local business logic", agentType).Error()), nil
	})
}

// flags collects every CLI flag shared across the init/client/server/
// bridge/run subcommands.
type flags struct {
	configPath string
	logLevel   string
	logFormat  string

	url   string
	ip    string
	port  int
	zone  string
	force bool

	meshAddr      string
	bridgeAddr    string
	diagAddr      string
	bridgeRegen   bool
	bridgeOutPath string

	clientName    string
	clientIP      string
	clientZone    string
	serverInvite  string
	serverName    string
}

// Command builds the cobra root command for this binary, the single call
// each `cmd/<role>/main.go` makes.
func (b Binary) Command() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "openportal-" + b.Service,
		Short: fmt.Sprintf("OpenPortal %s agent", b.Type),
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", DefaultConfigPath(b.Service), "path to this agent's TOML config file")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", EnvOrDefault("OPENPORTAL_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&f.logFormat, "log-format", EnvOrDefault("OPENPORTAL_LOG_FORMAT", "json"), "log encoding (json, pretty)")

	root.AddCommand(b.initCmd(f), b.clientCmd(f), b.serverCmd(f), b.bridgeCmd(f), b.runCmd(f))
	return root
}

func (b Binary) initCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "write a fresh config file for this agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := InitConfig(f.configPath, b.Service, f.url, f.ip, f.port, f.zone, f.force)
			if err != nil {
				return err
			}
			fmt.Printf("initialised %s config at %s (zone=%s)\n", cfg.Service, f.configPath, cfg.Zone)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.url, "url", "", "public URL this agent is reachable at")
	cmd.Flags().StringVar(&f.ip, "ip", "0.0.0.0", "address to bind the mesh WebSocket listener to")
	cmd.Flags().IntVar(&f.port, "port", 8080, "port to bind the mesh WebSocket listener to")
	cmd.Flags().StringVar(&f.zone, "zone", "", "this agent's own zone name (left empty if not given)")
	cmd.Flags().BoolVar(&f.force, "force", false, "overwrite an existing config file")
	return cmd
}

func (b Binary) clientCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{Use: "client", Short: "manage inbound-permitted clients"}

	add := &cobra.Command{
		Use:   "add",
		Short: "permit a new inbound client and write its invite file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(f.configPath)
			if err != nil {
				return err
			}
			inv, err := AddClient(cfg, f.clientName, f.clientIP, f.clientZone)
			if err != nil {
				return err
			}
			if err := SaveConfig(f.configPath, cfg); err != nil {
				return err
			}
			invitePath := InviteFilePath(DefaultConfigDir(), f.clientName)
			if err := cryptutil.SaveTOML(inv, invitePath); err != nil {
				return err
			}
			fmt.Printf("added client %s, invite written to %s\n", f.clientName, invitePath)
			return nil
		},
	}
	add.Flags().StringVar(&f.clientName, "name", "", "client's agent name")
	add.Flags().StringVar(&f.clientIP, "ip", "", "permitted source address or CIDR range")
	add.Flags().StringVar(&f.clientZone, "zone", "", "zone this client connects under (defaults to name)")

	list := &cobra.Command{
		Use:   "list",
		Short: "list permitted inbound clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(f.configPath)
			if err != nil {
				return err
			}
			for _, c := range cfg.Clients {
				fmt.Printf("%s@%s (%s)\n", c.Name, c.Zone, c.IPRange)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove",
		Short: "revoke a permitted inbound client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(f.configPath)
			if err != nil {
				return err
			}
			cfg.RemoveClient(f.clientName)
			return SaveConfig(f.configPath, cfg)
		},
	}
	remove.Flags().StringVar(&f.clientName, "name", "", "client's agent name")

	cmd.AddCommand(add, list, remove)
	return cmd
}

func (b Binary) serverCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{Use: "server", Short: "manage trusted outbound servers"}

	add := &cobra.Command{
		Use:   "add",
		Short: "consume an invite and trust the server it names",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(f.configPath)
			if err != nil {
				return err
			}
			if err := ConsumeServerInvite(cfg, f.serverInvite); err != nil {
				return err
			}
			return SaveConfig(f.configPath, cfg)
		},
	}
	add.Flags().StringVar(&f.serverInvite, "invite", "", "path to the invite.toml handed out by the server")

	list := &cobra.Command{
		Use:   "list",
		Short: "list trusted outbound servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(f.configPath)
			if err != nil {
				return err
			}
			for _, s := range cfg.Servers {
				fmt.Printf("%s@%s -> %s\n", s.Name, s.Zone, s.URL)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove",
		Short: "stop trusting a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(f.configPath)
			if err != nil {
				return err
			}
			cfg.RemoveServer(f.serverName)
			return SaveConfig(f.configPath, cfg)
		},
	}
	remove.Flags().StringVar(&f.serverName, "name", "", "trusted server's name")

	cmd.AddCommand(add, list, remove)
	return cmd
}

func (b Binary) bridgeCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "export the invite a signed-HTTP bridge client uses to reach this agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(f.configPath)
			if err != nil {
				return err
			}
			inv, err := ExportBridgeInvite(cfg, f.bridgeRegen)
			if err != nil {
				return err
			}
			if err := SaveConfig(f.configPath, cfg); err != nil {
				return err
			}
			out := f.bridgeOutPath
			if out == "" {
				out = InviteFilePath(DefaultConfigDir(), cfg.Service+"-bridge")
			}
			if err := cryptutil.SaveTOML(inv, out); err != nil {
				return err
			}
			fmt.Printf("bridge invite written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.bridgeOutPath, "out", "", "output path for the bridge invite (defaults under the config directory)")
	cmd.Flags().BoolVar(&f.bridgeRegen, "regenerate", false, "rotate the bridge's pre-shared HMAC key")
	return cmd
}

func (b Binary) runCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run this agent until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return b.run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.meshAddr, "mesh-addr", EnvOrDefault("OPENPORTAL_MESH_ADDR", ":8080"), "address the WebSocket mesh listener binds to")
	cmd.Flags().StringVar(&f.diagAddr, "diag-addr", EnvOrDefault("OPENPORTAL_DIAG_ADDR", ":9090"), "address the /metrics and /healthz listener binds to")
	if b.RunsBridgeHTTP {
		cmd.Flags().StringVar(&f.bridgeAddr, "bridge-addr", EnvOrDefault("OPENPORTAL_BRIDGE_ADDR", ":8443"), "address the signed HTTP bridge surface binds to")
	}
	return cmd
}

func (b Binary) run(ctx context.Context, f *flags) error {
	logger, err := BuildLogger(f.logLevel, f.logFormat)
	if err != nil {
		return fmt.Errorf("agentcore: build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := LoadConfig(f.configPath)
	if err != nil {
		return fmt.Errorf("agentcore: load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	newRunner := b.NewRunner
	if newRunner == nil {
		newRunner = func(l *zap.Logger) handler.Runner { return relayStub(b.Type, l) }
	}

	agent := New(cfg, b.Type, b.Engine, b.Version, newRunner(logger), logger)

	servers := make([]*http.Server, 0, 2)
	meshSrv := &http.Server{Addr: f.meshAddr, Handler: agent.Server, ReadHeaderTimeout: httpReadHeaderTimeout}
	servers = append(servers, meshSrv)
	go serveUntilShutdown(meshSrv, logger, "mesh")

	diagSrv := &http.Server{Addr: f.diagAddr, Handler: agent.DiagnosticsMux(), ReadHeaderTimeout: httpReadHeaderTimeout}
	servers = append(servers, diagSrv)
	go serveUntilShutdown(diagSrv, logger, "diagnostics")

	if b.RunsBridgeHTTP {
		if cfg.BridgeKey == (cryptutil.Key{}) {
			logger.Warn("bridge agent has no bridge_key configured; run `bridge --regenerate` first")
		} else {
			bridgeSrv := &http.Server{Addr: f.bridgeAddr, Handler: agent.NewBridgeServer(cfg.BridgeKey).Router(), ReadHeaderTimeout: httpReadHeaderTimeout}
			servers = append(servers, bridgeSrv)
			go serveUntilShutdown(bridgeSrv, logger, "bridge")
		}
	}

	err = agent.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, s := range servers {
		_ = s.Shutdown(shutdownCtx)
	}

	return err
}

func serveUntilShutdown(s *http.Server, logger *zap.Logger, name string) {
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http listener stopped unexpectedly", zap.String("listener", name), zap.Error(err))
	}
}
