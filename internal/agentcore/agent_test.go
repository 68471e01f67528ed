package agentcore_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/agentcore"
	"github.com/openportal/mesh/internal/handler"
	"github.com/openportal/mesh/internal/job"
	"github.com/openportal/mesh/internal/registry"
)

func noopRunner() handler.RunnerFunc {
	return func(ctx context.Context, env job.Envelope) (job.Job, error) {
		return env.Job.Completed(nil), nil
	}
}

func TestNewBuildsFullyWiredAgent(t *testing.T) {
	cfg := newServiceConfig("platform1")
	a := agentcore.New(cfg, registry.TypePlatform, "test-engine", "0.0.0-test", noopRunner(), zap.NewNop())

	assert.Equal(t, "platform1", a.Name)
	assert.Equal(t, registry.TypePlatform, a.Type)
	require.NotNil(t, a.Hub)
	require.NotNil(t, a.Routes)
	require.NotNil(t, a.Cascade)
	require.NotNil(t, a.Server)
	assert.Empty(t, a.Config.Servers)
}

func TestDiagnosticsMuxServesHealthz(t *testing.T) {
	cfg := newServiceConfig("platform1")
	a := agentcore.New(cfg, registry.TypePlatform, "test-engine", "0.0.0-test", noopRunner(), zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	a.DiagnosticsMux().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestDiagnosticsMuxServesMetrics(t *testing.T) {
	cfg := newServiceConfig("platform1")
	a := agentcore.New(cfg, registry.TypePlatform, "test-engine", "0.0.0-test", noopRunner(), zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	a.DiagnosticsMux().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "openportal_")
}

func TestBridgeBoardReturnsOwnBoard(t *testing.T) {
	cfg := newServiceConfig("bridge1")
	a := agentcore.New(cfg, registry.TypeBridge, "test-engine", "0.0.0-test", noopRunner(), zap.NewNop())

	board := a.BridgeBoard()
	require.NotNil(t, board)
	assert.Equal(t, "bridge1", board.Peer())
}

func TestRunStopsCleanlyOnContextCancel(t *testing.T) {
	cfg := newServiceConfig("platform1")
	a := agentcore.New(cfg, registry.TypePlatform, "test-engine", "0.0.0-test", noopRunner(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
