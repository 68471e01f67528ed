// Command openportal-provider runs a Provider agent: the relay tier that
// fans a job out to whichever leaf agents (Filesystem, Account, Scheduler)
// actually carry out a deployment's instructions.
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
		Service: "provider",
		Type:    registry.TypeProvider,
		Engine:  "openportal-go",
		Version: version,
	}
	if err := bin.Command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
