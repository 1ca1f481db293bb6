package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("HTTP_LISTEN_ADDR")
	os.Unsetenv("NODE_COMMAND_TIMEOUT")
	os.Unsetenv("HEARTBEAT_TIMEOUT")
	os.Unsetenv("HEARTBEAT_INTERVAL")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "", cfg.DatabaseURL)
	assert.Equal(t, ":8090", cfg.HTTPListenAddr)
	assert.Equal(t, 7820, cfg.NodeAgentPort)
	assert.Equal(t, 5*time.Second, cfg.NodeCommandTimeout)
	assert.Equal(t, 2*time.Second, cfg.NodeProbeTimeout)
	assert.Equal(t, 180*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 3*time.Second, cfg.HeartbeatInterval)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/fleet")
	t.Setenv("HEARTBEAT_TIMEOUT", "30s")
	t.Setenv("HEARTBEAT_INTERVAL", "1s")
	t.Setenv("NODE_AGENT_PORT", "9000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost:5432/fleet", cfg.DatabaseURL)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 9000, cfg.NodeAgentPort)
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("HEARTBEAT_TIMEOUT", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HEARTBEAT_TIMEOUT")
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		DatabaseURL:              "postgres://localhost/fleet",
		ControllerPrivateKeyPath: "keys/controller.pem",
		NodePublicKeyPath:        "keys/node.pub.pem",
		HeartbeatTimeout:         time.Minute,
		HeartbeatInterval:        time.Second,
	}
	require.NoError(t, cfg.Validate())

	cfg.DatabaseURL = ""
	require.Error(t, cfg.Validate())
}
