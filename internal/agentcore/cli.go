package agentcore

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/cryptutil"
	"github.com/openportal/mesh/internal/grammar"
)

// EnvOrDefault mirrors arkeep's cmd/*/main.go helper of the same name:
// read an environment variable, falling back to a default if unset.
func EnvOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// DefaultConfigDir returns the platform's user config directory, the base
// spec.md §6 persisted-state layout sits under.
func DefaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "openportal")
	}
	return ".openportal"
}

// DefaultConfigPath is spec.md §6: "TOML config file per service ...
// default basename <service>-config.toml."
func DefaultConfigPath(service string) string {
	return filepath.Join(DefaultConfigDir(), service+"-config.toml")
}

// InviteFilePath is where `client --add <name>` writes the invite an
// operator hands to the new client out of band.
func InviteFilePath(dir, name string) string {
	return filepath.Join(dir, "invite_"+name+".toml")
}

// BuildLogger constructs a zap logger the way arkeep's cmd/*/main.go
// buildLogger does: a production or development base config selected by
// level, with JSON or console encoding selected by format (the Go
// equivalent of spec.md §6's RUST_LOG_FORMAT knob, renamed
// OPENPORTAL_LOG_FORMAT for this port).
func BuildLogger(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if format == "pretty" {
		cfg.Encoding = "console"
	} else {
		cfg.Encoding = "json"
	}

	return cfg.Build()
}

// InitConfig writes a fresh ServiceConfig TOML file, refusing to overwrite
// an existing one unless force is set (spec.md §6: "init --service --url
// --ip --port [--force]").
func InitConfig(path, service, url, ip string, port int, zone string, force bool) (*cryptutil.ServiceConfig, error) {
	if !grammar.ValidName(service) {
		return nil, grammar.New(grammar.KindParse, "service name %q must match [A-Za-z0-9_-]+", service)
	}
	if zone != "" && !grammar.ValidName(zone) {
		return nil, grammar.New(grammar.KindParse, "zone %q must match [A-Za-z0-9_-]+", zone)
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return nil, grammar.New(grammar.KindMisconfigured, "config already exists at %s (use --force)", path)
		}
	}
	cfg := &cryptutil.ServiceConfig{
		Service:    service,
		URL:        url,
		IP:         ip,
		Port:       port,
		Zone:       zone,
		SchemeKind: "Simple",
	}
	if err := cryptutil.SaveTOML(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads a ServiceConfig from disk.
func LoadConfig(path string) (*cryptutil.ServiceConfig, error) {
	return cryptutil.LoadTOML[*cryptutil.ServiceConfig](path)
}

// SaveConfig persists a ServiceConfig back to disk, e.g. after a
// client/server add/remove mutation.
func SaveConfig(path string, cfg *cryptutil.ServiceConfig) error {
	return cryptutil.SaveTOML(cfg, path)
}

// AddClient issues a fresh invite for a new inbound client named `name`,
// permitted to connect from ipRange, and records the corresponding
// ClientConfig on cfg. The caller persists both cfg and the returned
// invite (spec.md §6: "client --add <name> --ip <cidr> writes
// invite_<name>.toml").
func AddClient(cfg *cryptutil.ServiceConfig, name, ipRangeText, zone string) (cryptutil.Invite, error) {
	if zone == "" {
		zone = name
	}
	ipRange, err := cryptutil.ParseIPRange(ipRangeText)
	if err != nil {
		return cryptutil.Invite{}, err
	}
	inv, err := cryptutil.NewInvite(name, cfg.URL, zone)
	if err != nil {
		return cryptutil.Invite{}, err
	}
	cfg.AddClient(cryptutil.ClientConfigFromInvite(inv, ipRange))
	return inv, nil
}

// ConsumeServerInvite loads an invite file handed out by a server and
// installs it as a trusted ServerConfig entry this agent will dial out to
// (spec.md §6: "server --add <invite.toml> consumes an invite").
func ConsumeServerInvite(cfg *cryptutil.ServiceConfig, invitePath string) error {
	inv, err := cryptutil.LoadTOML[cryptutil.Invite](invitePath)
	if err != nil {
		return err
	}
	cfg.AddServer(cryptutil.ServerConfigFromInvite(inv))
	return nil
}

// ExportBridgeInvite builds (or, if regenerate, rebuilds) the invite a
// Python-side bridge client installs to talk to this agent (spec.md §6:
// "bridge --config <out.toml> — export the Python-side bridge invite;
// --regenerate rotates the bridge key"). The bridge's pre-shared HMAC key
// is stored on cfg.BridgeKey, separate from the inner/outer transport keys
// every other invite carries, since the bridge speaks signed HTTP, not the
// WebSocket mesh protocol.
func ExportBridgeInvite(cfg *cryptutil.ServiceConfig, regenerate bool) (cryptutil.Invite, error) {
	if regenerate || cfg.BridgeKey == (cryptutil.Key{}) {
		key, err := cryptutil.GenerateKey()
		if err != nil {
			return cryptutil.Invite{}, err
		}
		cfg.BridgeKey = key
	}
	inv, err := cryptutil.NewInvite(cfg.Service, cfg.URL, cfg.Zone)
	if err != nil {
		return cryptutil.Invite{}, err
	}
	inv.InnerKey = cfg.BridgeKey
	inv.OuterKey = cfg.BridgeKey
	return inv, nil
}

// formatInvite renders an invite as "name @ url (zone=zone)", omitting its
// keys.
func formatInvite(inv cryptutil.Invite) string {
	return fmt.Sprintf("%s @ %s (zone=%s)", inv.Name, inv.URL, inv.Zone)
}
