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
	t.Setenv("CHAT_TASKS_DATA", dir)
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Chdir(dir)

	cfg, err := NewLoader("").Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 30*24*time.Hour, cfg.Scheduler.Retention())
	assert.Equal(t, BackendSQLite, cfg.Timer.Backend)
	assert.Equal(t, "gpt-4", cfg.Model.Model)
	assert.InDelta(t, 0.7, cfg.Model.Temperature, 0.0001)
	assert.Equal(t, "sk-from-env", cfg.Model.APIKey)
	assert.Equal(t, filepath.Join(dir, "chat-tasks.log"), cfg.Log.File)
	assert.Equal(t, filepath.Join(dir, "tasks.db"), cfg.DBPath())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
data_dir: `+dir+`
server:
  port: 9090
timer:
  backend: redis
model:
  model: gpt-4o
  max_tokens: 1024
notify:
  slack_webhook: https://hooks.slack.com/services/x
`), 0o600))
	t.Setenv("CHAT_TASKS_SERVER_PORT", "9191")

	cfg, err := NewLoader(file).Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, BackendRedis, cfg.Timer.Backend)
	assert.Equal(t, "gpt-4o", cfg.Model.Model)
	assert.Equal(t, 1024, cfg.Model.MaxTokens)
	assert.Equal(t, "https://hooks.slack.com/services/x", cfg.Notify.SlackWebhook)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		DataDir:   "/tmp/x",
		Server:    ServerConfig{Port: 0},
		Scheduler: SchedulerConfig{Workers: 0, PollInterval: time.Second},
		Timer:     TimerConfig{Backend: "etcd"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "scheduler.workers")
	assert.Contains(t, err.Error(), "etcd")
}

func TestRetentionDisabled(t *testing.T) {
	assert.Zero(t, SchedulerConfig{RetentionDays: 0}.Retention())
}
