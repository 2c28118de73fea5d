package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/qrelay/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "q", cfg.Agent.Command)
	assert.Equal(t, []string{"chat"}, cfg.Agent.Args)
	assert.Equal(t, 5*time.Minute, cfg.Agent.RunTimeout)
	assert.Equal(t, 5*time.Second, cfg.Agent.ExitWaitTimeout)
	assert.Equal(t, 20, cfg.Agent.MaxBatchLines)
	assert.Equal(t, 4*time.Second, cfg.Agent.FlushInterval)
	assert.Equal(t, time.Hour, cfg.History.Expiry)
	assert.Equal(t, 20, cfg.History.MaxTurns)
	assert.Equal(t, 10000, cfg.History.MaxUsers)
	assert.False(t, cfg.Intent.Enabled)
	assert.Zero(t, cfg.Intent.MaxRetries)

	err = cfg.Validate()
	require.Error(t, err, "no lark apps configured")
	assert.Contains(t, err.Error(), "lark app id")
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv("LARK_APP_ID", "cli_a, cli_b")
	t.Setenv("LARK_SECRET", "secret_a,secret_b")
	t.Setenv("PORT", "9000")

	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)

	apps, err := cfg.Apps()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"cli_a": "secret_a", "cli_b": "secret_b"}, apps)
	assert.Equal(t, 9000, cfg.Server.Port)
	require.NoError(t, cfg.Validate())
}

func TestLoadPrefixedEnvironment(t *testing.T) {
	t.Setenv("QRELAY_LARK_APP_IDS", "cli_x")
	t.Setenv("QRELAY_LARK_APP_SECRETS", "sx")
	t.Setenv("QRELAY_POOL_WORKERS", "9")
	t.Setenv("QRELAY_AGENT_RUN_TIMEOUT", "90s")

	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, []string{"cli_x"}, cfg.Lark.AppIDs)
	assert.Equal(t, 9, cfg.Pool.Workers)
	assert.Equal(t, 90*time.Second, cfg.Agent.RunTimeout)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	instruction := filepath.Join(dir, "instruction.txt")
	require.NoError(t, os.WriteFile(instruction, []byte("Answer in English: \n"), 0o600))

	path := filepath.Join(dir, "qrelay.yaml")
	content := `
lark:
  app_ids: [cli_file]
  app_secrets: [secret_file]
agent:
  command: /usr/local/bin/q
  flush_interval: 2s
history:
  max_turns: 10
prompt:
  instruction_file: ` + instruction + `
intent:
  enabled: true
  api_key: sk-test
  max_retries: -1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/q", cfg.Agent.Command)
	assert.Equal(t, 2*time.Second, cfg.Agent.FlushInterval)
	assert.Equal(t, 10, cfg.History.MaxTurns)
	assert.Equal(t, "Answer in English:", cfg.Prompt.Instruction)
	assert.True(t, cfg.Intent.Enabled)
	assert.Equal(t, -1, cfg.Intent.MaxRetries)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)

	cfg.Lark.AppIDs = []string{"a", "b"}
	cfg.Lark.AppSecrets = []string{"s"}
	cfg.Server.Port = 0
	cfg.Pool.Workers = 0
	cfg.Agent.RunTimeout = 0
	cfg.Intent.Enabled = true
	cfg.Intent.APIKey = ""
	cfg.Log.Format = "xml"

	err = cfg.Validate()
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 6)
	assert.Contains(t, err.Error(), "differ in count")
	assert.Contains(t, err.Error(), "pool.workers must be positive")
	assert.Contains(t, err.Error(), "agent.run_timeout must be positive")
	assert.Contains(t, err.Error(), "intent.api_key")
}

func TestAppsMismatch(t *testing.T) {
	cfg := &config.Config{Lark: config.LarkConfig{AppIDs: []string{"a"}}}
	_, err := cfg.Apps()
	require.Error(t, err)
}
