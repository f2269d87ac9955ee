package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleConfig = `entries:
  - id: garage-model-3
    name: Blue
    api_key: "abcd1234efgh"
polling:
  default: 4m
  driving: 30s
delays:
  locks: 7s
  refresh_cooldown: -1s
pending_timeout: 10m
mqtt:
  url: tcp://broker:1883
  username: bridge
ha:
  url: ws://ha:8123/api/websocket
http:
  listen: 127.0.0.1:9090
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "teslafi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestLoader(path string, env map[string]string) *Loader {
	logger, _ := zap.NewDevelopment()
	l := NewLoader(path, logger)
	l.getenv = func(k string) string { return env[k] }
	return l
}

func TestLoader_Load(t *testing.T) {
	loader := newTestLoader(writeConfig(t, sampleConfig), nil)

	config, err := loader.Load()
	require.NoError(t, err)
	assert.Same(t, config, loader.Config())

	require.Len(t, config.Entries, 1)
	assert.Equal(t, "garage-model-3", config.Entries[0].ID)
	assert.Equal(t, "Blue", config.Entries[0].Name)

	assert.Equal(t, 4*time.Minute, config.Polling.Default)
	assert.Equal(t, 30*time.Second, config.Polling.Driving)
	assert.Zero(t, config.Polling.Sleeping, "unset tiers fall back in the coordinator")
	assert.Equal(t, 7*time.Second, config.Delays.Locks)
	assert.Equal(t, 10*time.Minute, config.PendingTimeout)

	assert.Equal(t, "tcp://broker:1883", config.MQTT.URL)
	assert.Equal(t, "homeassistant", config.MQTT.DiscoveryPrefix)
	assert.Equal(t, "teslafi", config.MQTT.TopicPrefix)
	assert.Equal(t, "127.0.0.1:9090", config.HTTP.Listen)

	entry, ok := config.Entry("garage-model-3")
	require.True(t, ok)
	assert.Equal(t, "abcd1234efgh", entry.APIKey)
}

func TestLoader_EnvironmentOverrides(t *testing.T) {
	loader := newTestLoader(writeConfig(t, sampleConfig), map[string]string{
		"TESLAFI_API_KEY": "fromenv",
		"MQTT_URL":        "tcp://other:1883",
		"HA_TOKEN":        "token",
		"READ_ONLY":       "true",
	})

	config, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "fromenv", config.Entries[0].APIKey)
	assert.Equal(t, "tcp://other:1883", config.MQTT.URL)
	assert.Equal(t, "token", config.HA.Token)
	assert.True(t, config.ReadOnly)
}

func TestLoader_EnvironmentOnly(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	loader := newTestLoader(missing, map[string]string{"TESLAFI_API_KEY": "fromenv"})

	config, err := loader.Load()
	require.NoError(t, err)
	require.Len(t, config.Entries, 1)
	_, err = uuid.Parse(config.Entries[0].ID)
	assert.NoError(t, err, "generated ids are uuids")
	assert.Equal(t, ":8080", config.HTTP.Listen)
}

func TestLoader_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{name: "no entries", content: "polling:\n  default: 1m\n"},
		{name: "missing api key", content: "entries:\n  - name: Blue\n"},
		{name: "duplicate ids", content: "entries:\n  - id: a\n    api_key: x\n  - id: a\n    api_key: y\n"},
		{name: "bad yaml", content: "entries: [\n"},
		{name: "negative timeout", content: "entries:\n  - api_key: x\npending_timeout: -1m\n"},
		{name: "bad READ_ONLY", content: "entries:\n  - api_key: x\n", env: map[string]string{"READ_ONLY": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := newTestLoader(writeConfig(t, tt.content), tt.env)
			_, err := loader.Load()
			assert.Error(t, err)
			assert.Nil(t, loader.Config())
		})
	}
}

func TestLoader_AutoReload(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	loader := newTestLoader(path, nil)
	_, err := loader.Load()
	require.NoError(t, err)

	reloaded := make(chan *Config, 1)
	loader.StartAutoReload(10*time.Millisecond, func(c *Config) { reloaded <- c })
	defer loader.Stop()

	updated := sampleConfig + "read_only: true\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	select {
	case c := <-reloaded:
		assert.True(t, c.ReadOnly)
	case <-time.After(2 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TESLAFI_TEST_VALUE=from-dotenv\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("TESLAFI_TEST_VALUE") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-dotenv", os.Getenv("TESLAFI_TEST_VALUE"))

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("TESLAFI_CONFIG", "")
	assert.Equal(t, DefaultPath, PathFromEnv(DefaultPath))

	t.Setenv("TESLAFI_CONFIG", "/etc/teslafi.yaml")
	assert.Equal(t, "/etc/teslafi.yaml", PathFromEnv(DefaultPath))
}
