package leaf_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/leaf"
)

func TestCommandRunnerRunsEcho(t *testing.T) {
	r := leaf.NewCommandRunner(nil, zap.NewNop())
	out, err := r.Run(context.Background(), leaf.DefaultTimeout, "echo", "hello")
	require.NoError(t, err)
	assert.Contains(t, string(out), "hello")
}

func TestCommandRunnerSurfacesFailure(t *testing.T) {
	r := leaf.NewCommandRunner(nil, zap.NewNop())
	_, err := r.Run(context.Background(), leaf.DefaultTimeout, "false")
	assert.Error(t, err)
}

func TestCommandRunnerAppliesPrefix(t *testing.T) {
	r := leaf.NewCommandRunner([]string{"env"}, zap.NewNop())
	// "env echo hello" invokes env(1), which execs echo — exercises the
	// prefix-prepend path without depending on a container runtime.
	out, err := r.Run(context.Background(), leaf.DefaultTimeout, "echo", "hello")
	require.NoError(t, err)
	assert.Contains(t, string(out), "hello")
}

func TestFilesystemLockSerialisesAcquisition(t *testing.T) {
	lock := leaf.NewFilesystemLock()

	release, err := lock.Acquire(context.Background())
	require.NoError(t, err)

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		r2, err := lock.Acquire(context.Background())
		if err == nil {
			acquired.Store(true)
			r2()
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, acquired.Load(), "second acquire must block while the first is held")

	release()
	<-done
	assert.True(t, acquired.Load())
}

func TestFilesystemLockTimesOutOnContextCancel(t *testing.T) {
	lock := leaf.NewFilesystemLock()
	_, err := lock.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(ctx)
	assert.Error(t, err)
}
