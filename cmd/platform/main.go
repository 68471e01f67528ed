// Command openportal-platform runs a Platform agent: the relay tier between
// a Portal and the Instance agents it supervises.
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
		Service: "platform",
		Type:    registry.TypePlatform,
		Engine:  "openportal-go",
		Version: version,
	}
	if err := bin.Command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
