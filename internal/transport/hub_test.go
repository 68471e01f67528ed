package transport_test

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/command"
	"github.com/openportal/mesh/internal/registry"
	"github.com/openportal/mesh/internal/transport"
)

func addLinkToHub(t *testing.T, hub *transport.Hub, peer, zone string) (serverSide, clientSide *websocket.Conn) {
	t.Helper()
	serverSide, clientSide = wsPipe(t)
	hub.Add(transport.NewLink(serverSide, peer, zone, zap.NewNop()))
	return serverSide, clientSide
}

func TestHubSendToFailsWithNoLink(t *testing.T) {
	hub := transport.NewHub(zap.NewNop(), func(command.Frame) {})
	err := hub.SendTo("ghost", "zoneA", command.NewKeepAlive("self", "ghost", "zoneA"))
	assert.Error(t, err)
}

func TestHubAddGetAndSendTo(t *testing.T) {
	hub := transport.NewHub(zap.NewNop(), func(command.Frame) {})
	_, clientSide := addLinkToHub(t, hub, "peer1", "zoneA")

	link, ok := hub.Get("peer1", "zoneA")
	require.True(t, ok)
	assert.Equal(t, "peer1", link.PeerName)

	frame := command.NewFrame("self", "peer1", "zoneA", command.Register(registry.TypePlatform, "e", "v"))
	require.NoError(t, hub.SendTo("peer1", "zoneA", frame))

	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := clientSide.ReadMessage()
	require.NoError(t, err)
	decoded, err := command.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, command.KindRegister, decoded.Payload.Kind)
}

func TestHubConnectedCountAndCloseAll(t *testing.T) {
	hub := transport.NewHub(zap.NewNop(), func(command.Frame) {})
	addLinkToHub(t, hub, "peer1", "zoneA")
	addLinkToHub(t, hub, "peer2", "zoneA")
	assert.Equal(t, 2, hub.ConnectedCount())

	hub.CloseAll()
	assert.Equal(t, 0, hub.ConnectedCount())
}

func TestHubOnConnectFiresOnAdd(t *testing.T) {
	hub := transport.NewHub(zap.NewNop(), func(command.Frame) {})
	fired := make(chan string, 1)
	hub.SetOnConnect(func(peer, zone string) { fired <- peer + "@" + zone })

	addLinkToHub(t, hub, "peer1", "zoneA")

	select {
	case name := <-fired:
		assert.Equal(t, "peer1@zoneA", name)
	case <-time.After(2 * time.Second):
		t.Fatal("onConnect was never invoked")
	}
}

func TestHubOnDisconnectFiresWhenPeerCloses(t *testing.T) {
	hub := transport.NewHub(zap.NewNop(), func(command.Frame) {})
	fired := make(chan string, 1)
	hub.SetOnDisconnect(func(peer, zone string) { fired <- peer + "@" + zone })

	_, clientSide := addLinkToHub(t, hub, "peer1", "zoneA")
	require.NoError(t, clientSide.Close())

	select {
	case name := <-fired:
		assert.Equal(t, "peer1@zoneA", name)
	case <-time.After(2 * time.Second):
		t.Fatal("onDisconnect was never invoked after the peer disconnected")
	}
}

func TestHubAddReplacesExistingLinkForSamePeerZone(t *testing.T) {
	hub := transport.NewHub(zap.NewNop(), func(command.Frame) {})
	addLinkToHub(t, hub, "peer1", "zoneA")
	addLinkToHub(t, hub, "peer1", "zoneA")

	assert.Equal(t, 1, hub.ConnectedCount())
}

func TestHubSweepKeepAlivesDoesNotPanicWithNoLinks(t *testing.T) {
	hub := transport.NewHub(zap.NewNop(), func(command.Frame) {})
	assert.NotPanics(t, hub.SweepKeepAlives)
}

func TestRunKeepAliveSweeperStopsOnChannelClose(t *testing.T) {
	hub := transport.NewHub(zap.NewNop(), func(command.Frame) {})
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		hub.RunKeepAliveSweeper(stop, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunKeepAliveSweeper did not stop after the stop channel closed")
	}
}
