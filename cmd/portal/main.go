// Command openportal-portal runs a Portal agent: the entry point of a
// federation, forwarding jobs downstream and fanning cascade operations out
// across every zone it is the root of (spec.md §4.6's portal firewall
// applies only to this agent type).
package main

import (
	"fmt"
	"os"

	"github.com/openportal/mesh/internal/agentcore"
	"github.com/openportal/mesh/internal/registry"
)

var version = "dev"

func main() {
	bin := agentcore.Binary{
		Service: "portal",
		Type:    registry.TypePortal,
		Engine:  "openportal-go",
		Version: version,
	}
	if err := bin.Command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
