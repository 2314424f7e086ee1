package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
remote:
  device_url: http://speaker.local:8080
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.Server.ControlToken)
	assert.Equal(t, "bedtime-queue-v1", cfg.Queue.StorageKey)
	assert.Equal(t, 10, cfg.Queue.SeedCount)
	assert.False(t, cfg.Queue.Shuffle)
	assert.False(t, cfg.Queue.RepeatAll)
	assert.InDelta(t, 1.0, cfg.Playback.Volume, 1e-9)
	assert.InDelta(t, 1.0, cfg.Playback.Rate, 1e-9)
	assert.Equal(t, "sqlite", cfg.Persistence.Type)
	assert.Equal(t, "file", cfg.Library.Type)
	assert.Equal(t, "oto", cfg.Audio.Sink)
	assert.False(t, cfg.Audio.Cache.Enabled)

	assert.Equal(t, 3*time.Second, cfg.PollInterval())
	assert.Equal(t, 5*time.Second, cfg.DeviceTimeout())
	assert.Equal(t, 30*time.Second, cfg.LoadTimeout())
	assert.Equal(t, time.Duration(0), cfg.LibraryRefresh())
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
	assert.True(t, cfg.RemoteVisible())
}

func TestParse_ExplicitValues(t *testing.T) {
	data := []byte(`
server:
  addr: 127.0.0.1:9000
  control_token: file-token
queue:
  seed_count: 3
  shuffle: true
  repeat_all: true
  library_refresh_sec: 60
playback:
  volume: 0.5
  rate: 1.25
remote:
  device_url: speaker.local
  poll_interval_ms: 1000
  visible: false
persistence:
  type: file
  settings:
    dir: /var/lib/storybox
library:
  type: http
  settings:
    url: http://stories.local
audio:
  sink: clock
  sink_settings:
    tick_ms: 20
  cache:
    enabled: true
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "file-token", cfg.Server.ControlToken)
	assert.Equal(t, 3, cfg.Queue.SeedCount)
	assert.True(t, cfg.Queue.Shuffle)
	assert.True(t, cfg.Queue.RepeatAll)
	assert.Equal(t, time.Minute, cfg.LibraryRefresh())
	assert.InDelta(t, 0.5, cfg.Playback.Volume, 1e-9)
	assert.Equal(t, time.Second, cfg.PollInterval())
	assert.False(t, cfg.RemoteVisible())
	assert.Equal(t, "/var/lib/storybox", cfg.Persistence.Settings["dir"])
	assert.Equal(t, "http://stories.local", cfg.Library.Settings["url"])
	assert.Equal(t, 20, cfg.Audio.SinkSettings["tick_ms"])
	assert.True(t, cfg.Audio.Cache.Enabled)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("STORYBOX_CONTROL_TOKEN", "env-token")
	t.Setenv("STORYBOX_DEVICE_URL", "http://env-speaker:8080")
	t.Setenv("STORYBOX_LIBRARY_URL", "http://env-stories")

	cfg, err := Parse([]byte(`
server:
  control_token: file-token
remote:
  device_url: http://file-speaker
library:
  type: http
`))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Server.ControlToken)
	assert.Equal(t, "http://env-speaker:8080", cfg.Remote.DeviceURL)
	assert.Equal(t, "http://env-stories", cfg.Library.Settings["url"])
}

func TestParse_LibraryURLIgnoredForFileLibrary(t *testing.T) {
	t.Setenv("STORYBOX_LIBRARY_URL", "http://env-stories")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Nil(t, cfg.Library.Settings)
}

func TestParse_ValidationNamesField(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{
			name:   "missing device url",
			yaml:   `server: {addr: ":8080"}`,
			errMsg: "DeviceURL",
		},
		{
			name:   "volume out of range",
			yaml:   minimalYAML + "playback:\n  volume: 1.5\n",
			errMsg: "Volume",
		},
		{
			name:   "rate out of range",
			yaml:   minimalYAML + "playback:\n  rate: 4\n",
			errMsg: "Rate",
		},
		{
			name:   "poll interval too short",
			yaml:   "remote:\n  device_url: speaker.local\n  poll_interval_ms: 10\n",
			errMsg: "PollIntervalMS",
		},
		{
			name:   "unknown persistence type",
			yaml:   minimalYAML + "persistence:\n  type: redis\n",
			errMsg: "Persistence.Type",
		},
		{
			name:   "unknown sink",
			yaml:   minimalYAML + "audio:\n  sink: alsa\n",
			errMsg: "Sink",
		},
		{
			name:   "negative refresh",
			yaml:   minimalYAML + "queue:\n  library_refresh_sec: -1\n",
			errMsg: "LibraryRefreshSec",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORYBOX_DEVICE_URL", "")

			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err, "expected validation to fail")
			assert.Contains(t, err.Error(), tt.errMsg,
				"error message should mention the problematic field")
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("remote: [unclosed"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storybox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://speaker.local:8080", cfg.Remote.DeviceURL)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
