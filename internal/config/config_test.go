package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	c, err := load("", dir)
	require.NoError(t, err)

	assert.Empty(t, c.Source)
	assert.Equal(t, filepath.Join(dir, "profiles.json"), c.ProfilesFile)
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, "text", c.Log.Format)
	assert.Equal(t, 500*time.Millisecond, c.Supervisor.Backoff)
	assert.Equal(t, 150*time.Millisecond, c.Supervisor.Settle)
	assert.True(t, c.History.Enabled)
	assert.Equal(t, filepath.Join(dir, "history.db"), c.History.DSN)
	assert.Empty(t, c.Metrics.Textfile)
	assert.True(t, c.Launch.UseOSEnv)
}

func TestLoadFromConfigDir(t *testing.T) {
	dir := t.TempDir()
	data := `
profiles_file = "/srv/profiles.json"

[log]
level = "debug"
format = "json"
file = "/var/log/affinity.log"
max_backups = 9

[supervisor]
backoff = "2s"
settle = "0s"

[history]
enabled = false

[metrics]
textfile = "/var/lib/node_exporter/affinity.prom"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(data), 0o600))

	c, err := load("", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), c.Source)
	assert.Equal(t, "/srv/profiles.json", c.ProfilesFile)
	assert.Equal(t, 2*time.Second, c.Supervisor.Backoff)
	assert.Zero(t, c.Supervisor.Settle)
	assert.False(t, c.History.Enabled)
	assert.Equal(t, "/var/lib/node_exporter/affinity.prom", c.Metrics.Textfile)

	lc := c.Logger()
	assert.Equal(t, "debug", lc.Slog.Level)
	assert.Equal(t, "json", lc.Slog.Format)
	assert.Equal(t, "/var/log/affinity.log", lc.File.Path)
	assert.Equal(t, 9, lc.File.MaxBackups)
}

func TestLoadExplicitPathMissing(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.toml"), t.TempDir())
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AFFINITY_LOG_LEVEL", "error")
	t.Setenv("AFFINITY_SUPERVISOR_BACKOFF", "1s")
	t.Setenv("AFFINITY_PROFILES_FILE", "/tmp/p.json")

	c, err := load("", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "error", c.Log.Level)
	assert.Equal(t, time.Second, c.Supervisor.Backoff)
	assert.Equal(t, "/tmp/p.json", c.ProfilesFile)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "bad.toml")
	data := `
[log]
format = "xml"

[supervisor]
backoff = "0s"
settle = "-1s"

[launch]
env = ["NOEQUALS"]
`
	require.NoError(t, os.WriteFile(p, []byte(data), 0o600))
	_, err := load(p, dir)
	require.Error(t, err)
	assert.ErrorContains(t, err, "log.format")
	assert.ErrorContains(t, err, "supervisor.backoff")
	assert.ErrorContains(t, err, "supervisor.settle")
	assert.ErrorContains(t, err, "launch.env")
}

func TestLaunchEnv(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("A=1\n#comment\nB=two\nSHARED=file\n"), 0o600))
	t.Setenv("OS_ONLY", "osv")

	c := &Config{Launch: LaunchConfig{UseOSEnv: true, EnvFiles: []string{dotenv}, Env: []string{"SHARED=top", "C=3"}}}
	env, err := c.LaunchEnv()
	require.NoError(t, err)

	m := map[string]string{}
	for _, kv := range env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	assert.Equal(t, "osv", m["OS_ONLY"])
	assert.Equal(t, "1", m["A"])
	assert.Equal(t, "two", m["B"])
	assert.Equal(t, "top", m["SHARED"])
	assert.Equal(t, "3", m["C"])
}

func TestLaunchEnvInheritsByDefault(t *testing.T) {
	c := &Config{Launch: LaunchConfig{UseOSEnv: true}}
	env, err := c.LaunchEnv()
	require.NoError(t, err)
	assert.Nil(t, env)

	c = &Config{Launch: LaunchConfig{Env: []string{"ONLY=1"}}}
	env, err = c.LaunchEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"ONLY=1"}, env)

	c = &Config{Launch: LaunchConfig{EnvFiles: []string{"/definitely/missing.env"}}}
	_, err = c.LaunchEnv()
	assert.Error(t, err)
}
