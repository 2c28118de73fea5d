// Package config loads qrelay configuration from a file, QRELAY_* environment
// variables and the legacy LARK_APP_ID, LARK_SECRET and PORT variables.
package config

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. QRELAY_POOL_WORKERS.
const EnvPrefix = "QRELAY"

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Lark      LarkConfig      `mapstructure:"lark"`
	Agent     AgentConfig     `mapstructure:"agent"`
	History   HistoryConfig   `mapstructure:"history"`
	Pool      PoolConfig      `mapstructure:"pool"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Intent    IntentConfig    `mapstructure:"intent"`
	Prompt    PromptConfig    `mapstructure:"prompt"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LarkConfig holds bot credentials. AppIDs and AppSecrets pair up by index.
type LarkConfig struct {
	AppIDs            []string      `mapstructure:"app_ids"`
	AppSecrets        []string      `mapstructure:"app_secrets"`
	VerificationToken string        `mapstructure:"verification_token"`
	EncryptKey        string        `mapstructure:"encrypt_key"`
	BaseURL           string        `mapstructure:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// AgentConfig configures the q chat subprocess and output streaming.
type AgentConfig struct {
	Command         string        `mapstructure:"command"`
	Args            []string      `mapstructure:"args"`
	WorkDir         string        `mapstructure:"work_dir"`
	RunTimeout      time.Duration `mapstructure:"run_timeout"`
	ExitWaitTimeout time.Duration `mapstructure:"exit_wait_timeout"`
	MaxBatchLines   int           `mapstructure:"max_batch_lines"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
}

// HistoryConfig configures conversation retention.
type HistoryConfig struct {
	Expiry          time.Duration `mapstructure:"expiry"`
	MaxTurns        int           `mapstructure:"max_turns"`
	MaxUsers        int           `mapstructure:"max_users"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// PoolConfig bounds concurrent agent runs.
type PoolConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// RateLimitConfig configures per-user limits. Interval 0 disables limiting.
type RateLimitConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Burst    int           `mapstructure:"burst"`
}

// IntentConfig configures the optional intent gate.
type IntentConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	// MaxRetries of 0 keeps the SDK default; negative disables retries.
	MaxRetries int `mapstructure:"max_retries"`
}

// PromptConfig overrides the prompt texts. InstructionFile, when set,
// replaces Instruction with the file's content.
type PromptConfig struct {
	Instruction     string `mapstructure:"instruction"`
	InstructionFile string `mapstructure:"instruction_file"`
	HistoryPreamble string `mapstructure:"history_preamble"`
	HistoryQuestion string `mapstructure:"history_question"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("lark.app_ids", []string{})
	v.SetDefault("lark.app_secrets", []string{})
	v.SetDefault("lark.verification_token", "")
	v.SetDefault("lark.encrypt_key", "")
	v.SetDefault("lark.base_url", "")
	v.SetDefault("lark.request_timeout", 10*time.Second)

	v.SetDefault("agent.command", "q")
	v.SetDefault("agent.args", []string{"chat"})
	v.SetDefault("agent.work_dir", "")
	v.SetDefault("agent.run_timeout", 5*time.Minute)
	v.SetDefault("agent.exit_wait_timeout", 5*time.Second)
	v.SetDefault("agent.max_batch_lines", 20)
	v.SetDefault("agent.flush_interval", 4*time.Second)

	v.SetDefault("history.expiry", time.Hour)
	v.SetDefault("history.max_turns", 20)
	v.SetDefault("history.max_users", 10000)
	v.SetDefault("history.cleanup_interval", 5*time.Minute)

	v.SetDefault("pool.workers", 4)
	v.SetDefault("pool.queue_size", 16)

	v.SetDefault("rate_limit.interval", 10*time.Second)
	v.SetDefault("rate_limit.burst", 3)

	v.SetDefault("intent.enabled", false)
	v.SetDefault("intent.api_key", "")
	v.SetDefault("intent.base_url", "")
	v.SetDefault("intent.model", "claude-3-5-haiku-latest")
	v.SetDefault("intent.max_retries", 0)

	v.SetDefault("prompt.instruction", "")
	v.SetDefault("prompt.instruction_file", "")
	v.SetDefault("prompt.history_preamble", "")
	v.SetDefault("prompt.history_question", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Bind wires environment variables into v, including the legacy names.
func Bind(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	legacy := map[string][]string{
		"lark.app_ids":     {EnvPrefix + "_LARK_APP_IDS", "LARK_APP_ID"},
		"lark.app_secrets": {EnvPrefix + "_LARK_APP_SECRETS", "LARK_SECRET"},
		"server.port":      {EnvPrefix + "_SERVER_PORT", "PORT"},
		"intent.api_key":   {EnvPrefix + "_INTENT_API_KEY", "ANTHROPIC_API_KEY"},
	}
	for key, names := range legacy {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configuration into a Config. path may be empty, in which case
// only defaults and the environment apply.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	if err := Bind(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Lark.AppIDs = splitList(cfg.Lark.AppIDs)
	cfg.Lark.AppSecrets = splitList(cfg.Lark.AppSecrets)

	if cfg.Prompt.InstructionFile != "" {
		instruction, err := LoadPromptFile(cfg.Prompt.InstructionFile)
		if err != nil {
			return nil, err
		}
		cfg.Prompt.Instruction = instruction
	}
	return &cfg, nil
}

// Apps pairs each app id with its secret.
func (c *Config) Apps() (map[string]string, error) {
	if len(c.Lark.AppIDs) != len(c.Lark.AppSecrets) {
		return nil, fmt.Errorf("lark app ids and secrets differ in count: %d ids, %d secrets",
			len(c.Lark.AppIDs), len(c.Lark.AppSecrets))
	}
	apps := make(map[string]string, len(c.Lark.AppIDs))
	for i, id := range c.Lark.AppIDs {
		apps[id] = c.Lark.AppSecrets[i]
	}
	return apps, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if _, err := c.Apps(); err != nil {
		result = multierror.Append(result, err)
	} else if len(c.Lark.AppIDs) == 0 {
		result = multierror.Append(result, errors.New("at least one lark app id and secret is required"))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server port %d is out of range", c.Server.Port)
	}
	if c.Agent.Command == "" {
		add("agent command is required")
	}

	positive := map[string]time.Duration{
		"agent.run_timeout":        c.Agent.RunTimeout,
		"agent.exit_wait_timeout":  c.Agent.ExitWaitTimeout,
		"agent.flush_interval":     c.Agent.FlushInterval,
		"history.expiry":           c.History.Expiry,
		"history.cleanup_interval": c.History.CleanupInterval,
		"server.shutdown_timeout":  c.Server.ShutdownTimeout,
	}
	for _, key := range slices.Sorted(maps.Keys(positive)) {
		if positive[key] <= 0 {
			add("%s must be positive", key)
		}
	}
	if c.RateLimit.Interval < 0 {
		add("rate_limit.interval cannot be negative")
	}

	counts := map[string]int{
		"agent.max_batch_lines": c.Agent.MaxBatchLines,
		"history.max_turns":     c.History.MaxTurns,
		"history.max_users":     c.History.MaxUsers,
		"pool.workers":          c.Pool.Workers,
		"pool.queue_size":       c.Pool.QueueSize,
	}
	for _, key := range slices.Sorted(maps.Keys(counts)) {
		if counts[key] <= 0 {
			add("%s must be positive", key)
		}
	}

	if c.Intent.Enabled && c.Intent.APIKey == "" {
		add("intent.api_key is required when the intent gate is enabled")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format %q must be text or json", c.Log.Format)
	}

	return result.ErrorOrNil()
}

// splitList flattens comma separated entries and trims whitespace.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
