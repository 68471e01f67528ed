package transport_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/command"
	"github.com/openportal/mesh/internal/cryptutil"
	"github.com/openportal/mesh/internal/registry"
	"github.com/openportal/mesh/internal/transport"
)

func TestClientConnectsAndRegistersOnServerHub(t *testing.T) {
	serverCfg := &cryptutil.ServiceConfig{Service: "portal1"}
	ipRange, err := cryptutil.ParseIPRange("127.0.0.1")
	require.NoError(t, err)
	serverCfg.AddClient(cryptutil.ClientConfig{Name: "platform1", Zone: "zoneA", IPRange: ipRange})

	serverHub := transport.NewHub(zap.NewNop(), func(command.Frame) {})
	guard := registry.NewRestartGuard()
	reg := registry.New()
	srv := transport.NewServer(serverCfg, guard, serverHub, reg, zap.NewNop())
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)

	clientHub := transport.NewHub(zap.NewNop(), func(command.Frame) {})
	serverEntry := cryptutil.ServerConfig{Name: "portal1", Zone: "zoneA", URL: httpSrv.URL}
	client := transport.NewClient("platform1", serverEntry, clientHub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go client.Run(ctx)

	require.Eventually(t, func() bool {
		_, ok := serverHub.Get("platform1", "zoneA")
		return ok
	}, 2*time.Second, 10*time.Millisecond, "server hub never saw the client's link")

	require.Eventually(t, func() bool {
		_, ok := clientHub.Get("portal1", "zoneA")
		return ok
	}, 2*time.Second, 10*time.Millisecond, "client hub never registered its own outbound link")
}

func TestClientRetriesAfterInitialConnectFailure(t *testing.T) {
	clientHub := transport.NewHub(zap.NewNop(), func(command.Frame) {})
	// No listener at all on this address: every dial fails until the
	// context is cancelled, exercising the backoff retry loop without
	// ever succeeding.
	serverEntry := cryptutil.ServerConfig{Name: "ghost", Zone: "zoneA", URL: "http://127.0.0.1:1"}
	client := transport.NewClient("platform1", serverEntry, clientHub, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after its context expired")
	}
	assert.Equal(t, 0, clientHub.ConnectedCount())
}
