package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFull(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	os.WriteFile(path, []byte(`
[server]
port = 9090

[poll]
pollInterval = "30s"
trimInterval = "10m"

[store]
retentionWindow = "48h"

[control]
enableContainerControls = true
allowedControlActions = ["start", "stop"]

[registry]
path = "/tmp/registry.json"

[runtime]
socket = "tcp://localhost:2375"
`), 0644)

	cfg, err := Load(path, RoleCollector)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 30*time.Second, cfg.PollInterval())
	require.Equal(t, 10*time.Minute, cfg.TrimInterval())
	require.Equal(t, 48*time.Hour, cfg.RetentionWindow())
	require.True(t, cfg.Control.Enabled)
	require.True(t, cfg.ActionAllowed("start"))
	require.False(t, cfg.ActionAllowed("restart"))
	require.Equal(t, "/tmp/registry.json", cfg.Registry.Path)
	require.Equal(t, "tcp://localhost:2375", cfg.Runtime.Socket)
}

func TestLoadDefaultsPerRole(t *testing.T) {
	agentCfg, err := Load("", RoleAgent)
	require.NoError(t, err)
	require.Equal(t, 5000, agentCfg.Server.Port)
	require.Equal(t, 10*time.Second, agentCfg.PollInterval())
	require.Equal(t, 5*time.Minute, agentCfg.TrimInterval())
	require.Equal(t, 6*time.Hour, agentCfg.RetentionWindow())
	require.Equal(t, []string{"start", "stop", "restart", "pause", "unpause"}, agentCfg.Control.AllowedActions)

	collectorCfg, err := Load("", RoleCollector)
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, collectorCfg.RetentionWindow())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.toml", RoleAgent)
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.Server.Port)
}

func TestLoadInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	os.WriteFile(path, []byte("not valid [[[ toml"), 0644)

	_, err := Load(path, RoleAgent)
	require.Error(t, err)
}

func TestLoadInvalidPort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	os.WriteFile(path, []byte(`
[server]
port = 70000
`), 0644)

	_, err := Load(path, RoleAgent)
	require.Error(t, err)
}

func TestLoadInvalidPollInterval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	os.WriteFile(path, []byte(`
[poll]
pollInterval = "500ms"
`), 0644)

	_, err := Load(path, RoleAgent)
	require.Error(t, err)
}

func TestLoadUnknownAllowedAction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	os.WriteFile(path, []byte(`
[control]
allowedControlActions = ["start", "nuke"]
`), 0644)

	_, err := Load(path, RoleAgent)
	require.Error(t, err)
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
		err   bool
	}{
		{"10s", 10 * time.Second, false},
		{"1m", 1 * time.Minute, false},
		{"2h30m", 2*time.Hour + 30*time.Minute, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.input))
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, d.Duration)
		})
	}
}
