// Command openportal-instance runs an Instance agent: the relay tier
// between a Platform and the Provider agents backing one deployment.
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
		Service: "instance",
		Type:    registry.TypeInstance,
		Engine:  "openportal-go",
		Version: version,
	}
	if err := bin.Command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
