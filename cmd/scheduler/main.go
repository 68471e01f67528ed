// Command openportal-scheduler runs a Scheduler leaf agent: answers
// GetUsageReport/GetUsageReports by rolling up accounted node-seconds,
// conceptually backed by Slurm's sacct/sacctmgr in the original deployment.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/agentcore"
	"github.com/openportal/mesh/internal/grammar"
	"github.com/openportal/mesh/internal/handler"
	"github.com/openportal/mesh/internal/leaf"
	"github.com/openportal/mesh/internal/registry"
)

var version = "dev"

func main() {
	bin := agentcore.Binary{
		Service: "scheduler",
		Type:    registry.TypeScheduler,
		Engine:  "openportal-go",
		Version: version,
		NewRunner: func(logger *zap.Logger) handler.Runner {
			portal, err := grammar.ParsePortalIdentifier(agentcore.EnvOrDefault("OPENPORTAL_PORTAL_NAME", "default"))
			if err != nil {
				logger.Fatal("invalid OPENPORTAL_PORTAL_NAME", zap.Error(err))
			}
			runner := leaf.NewCommandRunner(nil, logger)
			return leaf.NewSchedulerStore(portal, runner, logger)
		},
	}
	if err := bin.Command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
