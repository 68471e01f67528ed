package agentcore_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openportal/mesh/internal/agentcore"
	"github.com/openportal/mesh/internal/cryptutil"
)

func newServiceConfig(service string) *cryptutil.ServiceConfig {
	return &cryptutil.ServiceConfig{Service: service, URL: "wss://example.test:8443", SchemeKind: "Simple"}
}

func TestEnvOrDefaultFallsBackWhenUnset(t *testing.T) {
	assert.Equal(t, "fallback", agentcore.EnvOrDefault("OPENPORTAL_TEST_UNSET_VAR", "fallback"))

	t.Setenv("OPENPORTAL_TEST_VAR", "set-value")
	assert.Equal(t, "set-value", agentcore.EnvOrDefault("OPENPORTAL_TEST_VAR", "fallback"))
}

func TestDefaultConfigPathIncludesServiceName(t *testing.T) {
	path := agentcore.DefaultConfigPath("platform1")
	assert.Equal(t, "platform1-config.toml", filepath.Base(path))
}

func TestInviteFilePathIncludesName(t *testing.T) {
	path := agentcore.InviteFilePath("/tmp/cfgs", "newclient")
	assert.Equal(t, filepath.Join("/tmp/cfgs", "invite_newclient.toml"), path)
}

func TestBuildLoggerAcceptsEveryLevelAndFormat(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		for _, format := range []string{"json", "pretty", ""} {
			logger, err := agentcore.BuildLogger(level, format)
			require.NoError(t, err)
			require.NotNil(t, logger)
		}
	}
}

func TestInitConfigWritesFreshConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc-config.toml")

	cfg, err := agentcore.InitConfig(path, "platform1", "wss://example.test:8443", "0.0.0.0", 8443, "zoneA", false)
	require.NoError(t, err)
	assert.Equal(t, "platform1", cfg.Service)
	assert.Equal(t, "Simple", cfg.SchemeKind)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestInitConfigRefusesToOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc-config.toml")

	_, err := agentcore.InitConfig(path, "platform1", "wss://example.test:8443", "0.0.0.0", 8443, "", false)
	require.NoError(t, err)

	_, err = agentcore.InitConfig(path, "platform1", "wss://example.test:8443", "0.0.0.0", 8443, "", false)
	require.Error(t, err)

	_, err = agentcore.InitConfig(path, "platform1", "wss://example.test:8443", "0.0.0.0", 8443, "", true)
	require.NoError(t, err)
}

func TestInitConfigRejectsInvalidServiceName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc-config.toml")

	_, err := agentcore.InitConfig(path, "bad name!", "wss://example.test:8443", "0.0.0.0", 8443, "", false)
	require.Error(t, err)
}

func TestLoadConfigRoundTripsSaveConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc-config.toml")

	cfg, err := agentcore.InitConfig(path, "platform1", "wss://example.test:8443", "0.0.0.0", 8443, "zoneA", false)
	require.NoError(t, err)

	cfg.IP = "10.0.0.5"
	require.NoError(t, agentcore.SaveConfig(path, cfg))

	loaded, err := agentcore.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", loaded.IP)
	assert.Equal(t, "platform1", loaded.Service)
}

func TestAddClientRecordsPermittedInboundPeer(t *testing.T) {
	cfg := newServiceConfig("portal1")

	inv, err := agentcore.AddClient(cfg, "newclient", "192.168.1.0/24", "")
	require.NoError(t, err)
	assert.Equal(t, "newclient", inv.Name)
	assert.Equal(t, "newclient", inv.Zone, "empty zone defaults to the client name")

	found, ok := cfg.FindClient("newclient", "newclient")
	require.True(t, ok)
	assert.True(t, found.IPRange.Matches(net.ParseIP("192.168.1.42")))
	assert.False(t, found.IPRange.Matches(net.ParseIP("10.0.0.1")))
}

func TestAddClientRejectsBadIPRange(t *testing.T) {
	cfg := newServiceConfig("portal1")
	_, err := agentcore.AddClient(cfg, "newclient", "not-an-ip-range", "zoneA")
	require.Error(t, err)
}

func TestConsumeServerInviteInstallsServerConfig(t *testing.T) {
	dir := t.TempDir()
	invitePath := filepath.Join(dir, "invite_client1.toml")

	issuing := newServiceConfig("portal1")
	inv, err := agentcore.AddClient(issuing, "client1", "0.0.0.0/0", "zoneA")
	require.NoError(t, err)
	require.NoError(t, cryptutil.SaveTOML(inv, invitePath))

	consumer := newServiceConfig("platform1")
	require.NoError(t, agentcore.ConsumeServerInvite(consumer, invitePath))

	require.Len(t, consumer.Servers, 1)
	assert.Equal(t, "client1", consumer.Servers[0].Name)
	assert.Equal(t, "zoneA", consumer.Servers[0].Zone)
	assert.Equal(t, inv.InnerKey, consumer.Servers[0].InnerKey)
}

func TestConsumeServerInviteErrorsOnMissingFile(t *testing.T) {
	consumer := newServiceConfig("platform1")
	err := agentcore.ConsumeServerInvite(consumer, filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestExportBridgeInviteGeneratesKeyOnlyOnce(t *testing.T) {
	cfg := newServiceConfig("bridge1")

	inv1, err := agentcore.ExportBridgeInvite(cfg, false)
	require.NoError(t, err)
	key1 := cfg.BridgeKey

	inv2, err := agentcore.ExportBridgeInvite(cfg, false)
	require.NoError(t, err)
	assert.Equal(t, key1, cfg.BridgeKey, "without regenerate the bridge key is stable")
	assert.Equal(t, inv1.InnerKey, inv2.InnerKey)

	_, err = agentcore.ExportBridgeInvite(cfg, true)
	require.NoError(t, err)
	assert.NotEqual(t, key1, cfg.BridgeKey, "regenerate rotates the bridge key")
}
