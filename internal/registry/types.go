// Package registry is the process-wide directory of known peers: their
// agent type, zone, reachability, and the soft-restart guard that gates
// new inbound connections during a controlled teardown.
package registry

// AgentType names the role a peer plays in the mesh (spec.md §1/§2).
type AgentType string

const (
	TypePortal     AgentType = "Portal"
	TypeBridge     AgentType = "Bridge"
	TypePlatform   AgentType = "Platform"
	TypeInstance   AgentType = "Instance"
	TypeProvider   AgentType = "Provider"
	TypeFilesystem AgentType = "Filesystem"
	TypeAccount    AgentType = "Account"
	TypeScheduler  AgentType = "Scheduler"
	TypeUnknown    AgentType = "Unknown"
)

// CascadeHealth reports whether this agent type forwards cascade
// operations to its own downstream peers, or answers locally only. Leaf
// agents (filesystem, account stores, scheduler) are leaves of the mesh DAG
// and never forward (spec.md §4.6).
func (t AgentType) CascadeHealth() bool {
	switch t {
	case TypeFilesystem, TypeAccount, TypeScheduler:
		return false
	default:
		return true
	}
}
