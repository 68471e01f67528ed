// Command openportal-filesystem runs a Filesystem leaf agent: applies
// UpdateHomeDir instructions against a Lustre-backed or local filesystem,
// optionally routed through a container exec wrapper.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/agentcore"
	"github.com/openportal/mesh/internal/handler"
	"github.com/openportal/mesh/internal/leaf"
	"github.com/openportal/mesh/internal/registry"
)

var version = "dev"

func main() {
	bin := agentcore.Binary{
		Service: "filesystem",
		Type:    registry.TypeFilesystem,
		Engine:  "openportal-go",
		Version: version,
		NewRunner: func(logger *zap.Logger) handler.Runner {
			prefix := dockerPrefix(logger)
			runner := leaf.NewCommandRunner(prefix, logger)
			homeMode := agentcore.EnvOrDefault("OPENPORTAL_HOME_MODE", "0750")
			return leaf.NewFilesystemStore(runner, homeMode, logger)
		},
	}
	if err := bin.Command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// dockerPrefix resolves an optional `docker exec` wrapper for this agent's
// filesystem commands (spec.md §6: "supports sudo, container exec"); a
// missing or unreachable daemon is non-fatal, falling back to running
// commands directly on the host.
func dockerPrefix(logger *zap.Logger) []string {
	container := os.Getenv("OPENPORTAL_DOCKER_CONTAINER")
	if container == "" {
		return nil
	}
	socket := os.Getenv("OPENPORTAL_DOCKER_SOCKET")
	prefix, err := leaf.DockerExecPrefix(context.Background(), socket, container)
	if err != nil {
		logger.Warn("docker exec wrapper unavailable, running commands on host", zap.Error(err))
		return nil
	}
	return prefix
}
