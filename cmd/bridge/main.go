// Command openportal-bridge runs a Bridge agent: the signed-HTTP gateway
// described in spec.md §4.7, letting a non-mesh caller (the Python client
// library in the original) submit jobs and poll status without speaking the
// WebSocket protocol directly.
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
		Service:        "bridge",
		Type:           registry.TypeBridge,
		Engine:         "openportal-go",
		Version:        version,
		RunsBridgeHTTP: true,
	}
	if err := bin.Command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
