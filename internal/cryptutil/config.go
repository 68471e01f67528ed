package cryptutil

import (
	"github.com/openportal/mesh/internal/grammar"
)

// ServerConfig is an entry installed client-side from an Invite: a server
// this agent now trusts and will dial out to.
type ServerConfig struct {
	Name     string `toml:"name"`
	URL      string `toml:"url"`
	Zone     string `toml:"zone"`
	InnerKey Key    `toml:"inner_key"`
	OuterKey Key    `toml:"outer_key"`
}

// ServerConfigFromInvite builds the client-side ServerConfig entry for an
// invite received out of band.
func ServerConfigFromInvite(inv Invite) ServerConfig {
	return ServerConfig{Name: inv.Name, URL: inv.URL, Zone: inv.Zone, InnerKey: inv.InnerKey, OuterKey: inv.OuterKey}
}

// ClientConfig is an entry installed server-side when this agent issues an
// invite to a new client: a peer permitted to connect inbound, restricted to an IP/CIDR
// range. Each ClientConfig carries its own zone, so name collisions across
// zones are allowed (spec.md §4.1).
type ClientConfig struct {
	Name     string  `toml:"name"`
	Zone     string  `toml:"zone"`
	IPRange  IPRange `toml:"ip_range"`
	InnerKey Key     `toml:"inner_key"`
	OuterKey Key     `toml:"outer_key"`
}

// ClientConfigFromInvite builds the server-side ClientConfig entry, scoping
// the permitted inbound address to ipRange.
func ClientConfigFromInvite(inv Invite, ipRange IPRange) ClientConfig {
	return ClientConfig{Name: inv.Name, Zone: inv.Zone, IPRange: ipRange, InnerKey: inv.InnerKey, OuterKey: inv.OuterKey}
}

// ServiceConfig is the on-disk TOML configuration for one agent binary:
// its own identity plus every trusted server (outbound) and permitted
// client (inbound) it knows about.
type ServiceConfig struct {
	Service    string         `toml:"service"`
	URL        string         `toml:"url"`
	IP         string         `toml:"ip"`
	Port       int            `toml:"port"`
	Zone       string         `toml:"zone"`
	Servers    []ServerConfig `toml:"servers"`
	Clients    []ClientConfig `toml:"clients"`
	// BridgeKey is the pre-shared HMAC key a Bridge agent's signed HTTP
	// surface verifies requests against (spec.md §4.7/§6). Unused by
	// non-Bridge agents.
	BridgeKey  Key            `toml:"bridge_key,omitempty"`
	SchemeKind string         `toml:"encryption_scheme"`
	SchemeVar  string         `toml:"encryption_scheme_var,omitempty"`
}

// Scheme resolves the encryption scheme this config declares.
func (c ServiceConfig) Scheme() (EncryptionScheme, error) {
	switch c.SchemeKind {
	case "", "Simple":
		return SimpleScheme{}, nil
	case "Environment":
		if c.SchemeVar == "" {
			return nil, grammar.New(grammar.KindMisconfigured, "Environment scheme requires encryption_scheme_var")
		}
		return EnvironmentScheme{Var: c.SchemeVar}, nil
	default:
		return nil, grammar.New(grammar.KindMisconfigured, "unknown encryption scheme %q", c.SchemeKind)
	}
}

// AddServer appends or replaces a trusted server entry.
func (c *ServiceConfig) AddServer(s ServerConfig) {
	for i, existing := range c.Servers {
		if existing.Name == s.Name && existing.Zone == s.Zone {
			c.Servers[i] = s
			return
		}
	}
	c.Servers = append(c.Servers, s)
}

// AddClient appends or replaces a permitted client entry. Name collisions
// are allowed across zones.
func (c *ServiceConfig) AddClient(cl ClientConfig) {
	for i, existing := range c.Clients {
		if existing.Name == cl.Name && existing.Zone == cl.Zone {
			c.Clients[i] = cl
			return
		}
	}
	c.Clients = append(c.Clients, cl)
}

// RemoveServer drops a trusted server entry by name.
func (c *ServiceConfig) RemoveServer(name string) {
	out := c.Servers[:0]
	for _, s := range c.Servers {
		if s.Name != name {
			out = append(out, s)
		}
	}
	c.Servers = out
}

// RemoveClient drops a permitted client entry by name.
func (c *ServiceConfig) RemoveClient(name string) {
	out := c.Clients[:0]
	for _, cl := range c.Clients {
		if cl.Name != name {
			out = append(out, cl)
		}
	}
	c.Clients = out
}

// FindClient looks up a permitted client by name and zone, the check the
// WebSocket server performs on every inbound connection.
func (c ServiceConfig) FindClient(name, zone string) (ClientConfig, bool) {
	for _, cl := range c.Clients {
		if cl.Name == name && cl.Zone == zone {
			return cl, true
		}
	}
	return ClientConfig{}, false
}
