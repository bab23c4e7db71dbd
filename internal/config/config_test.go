package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Server.Addr())
	assert.Equal(t, "models/printwatch.pt", cfg.Model.Path)
	assert.Equal(t, "http", cfg.Model.Backend)
	assert.InDelta(t, 0.6, cfg.Model.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 0, cfg.Camera.Index)
	assert.Equal(t, "/dev/video%d", cfg.Camera.DevicePattern)
	assert.Equal(t, 2*time.Second, cfg.Camera.ReadTimeout)
	assert.Equal(t, 10, cfg.Monitor.MaxReadFailures)
	assert.Equal(t, 100*time.Millisecond, cfg.Monitor.RetryDelay)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.False(t, cfg.Auth.Required)
	assert.Equal(t, 24*time.Hour, cfg.Auth.JWTExpiry)
	assert.Empty(t, cfg.Notify.SMTP.Host)
	assert.False(t, cfg.Telegram.Enabled)
}

func TestShortEnvAliases(t *testing.T) {
	t.Setenv("MODEL_PATH", "/models/best.pt")
	t.Setenv("CONF_THRESHOLD", "0.75")
	t.Setenv("CAMERA_INDEX", "2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/models/best.pt", cfg.Model.Path)
	assert.InDelta(t, 0.75, cfg.Model.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 2, cfg.Camera.Index)
}

func TestPrefixedEnv(t *testing.T) {
	t.Setenv("PRINTWATCH_SERVER_PORT", "9090")
	t.Setenv("PRINTWATCH_STORE_DRIVER", "sqlite")
	t.Setenv("PRINTWATCH_MONITOR_FRAME_INTERVAL", "250ms")
	t.Setenv("PRINTWATCH_CAMERA_INDEX", "1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Monitor.FrameInterval)
	assert.Equal(t, 1, cfg.Camera.Index)
}

func TestConfigFile(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
model:
  backend: grpc
  endpoint: localhost:50051
auth:
  required: true
  jwt_expiry: 1h
telegram:
  enabled: true
  bot_token: "123:abc"
  chat_id: "42"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "grpc", cfg.Model.Backend)
	assert.Equal(t, "localhost:50051", cfg.Model.Endpoint)
	assert.True(t, cfg.Auth.Required)
	assert.Equal(t, time.Hour, cfg.Auth.JWTExpiry)
	assert.True(t, cfg.Telegram.Enabled)
	assert.Equal(t, 30, cfg.Telegram.CooldownSeconds)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "model:\n  path: from-file.pt\n")
	t.Setenv("MODEL_PATH", "from-env.pt")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.pt", cfg.Model.Path)
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown backend", "model:\n  backend: onnx\n"},
		{"threshold above one", "model:\n  confidence_threshold: 1.5\n"},
		{"zero threshold", "model:\n  confidence_threshold: 0\n"},
		{"unknown store", "store:\n  driver: postgres\n"},
		{"telegram without token", "telegram:\n  enabled: true\n  chat_id: \"42\"\n"},
		{"negative camera", "camera:\n  index: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
