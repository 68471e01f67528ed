package leaf

import (
	"context"
	"errors"
	"fmt"

	dockerclient "github.com/docker/docker/client"
)

// ErrDockerUnavailable mirrors arkeep's agent/internal/docker sentinel: a
// leaf agent that opts into container-exec wrapping but finds no daemon
// reachable should treat that as non-fatal and fall back to running
// commands directly on the host.
var ErrDockerUnavailable = errors.New("leaf: docker daemon unavailable")

// DockerExecPrefix discovers whether a named container is running and, if
// so, returns the `docker exec <container>` argv prefix a CommandRunner can
// use to route Lustre/Slurm invocations through it — the leaf-agent
// equivalent of arkeep's Docker volume discovery, but resolving an exec
// target instead of a volume mountpoint (spec.md §6: "supports sudo,
// container exec").
func DockerExecPrefix(ctx context.Context, socketPath, containerName string) ([]string, error) {
	opts := []dockerclient.Opt{dockerclient.WithAPIVersionNegotiation()}
	if socketPath != "" {
		opts = append(opts, dockerclient.WithHost("unix://"+socketPath))
	}

	dc, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDockerUnavailable, err)
	}
	defer dc.Close()

	if _, err := dc.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDockerUnavailable, err)
	}

	info, err := dc.ContainerInspect(ctx, containerName)
	if err != nil {
		return nil, fmt.Errorf("%w: container %q: %s", ErrDockerUnavailable, containerName, err)
	}
	if info.State == nil || !info.State.Running {
		return nil, fmt.Errorf("leaf: container %q is not running", containerName)
	}

	return []string{"docker", "exec", containerName}, nil
}
