// Package config loads the fabric's YAML configuration file and layers
// environment-variable overrides on top, the way the original service
// settings classes layered env vars over file defaults.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable used across the five service binaries. A
// single file and struct is shared; each binary reads only the sections it
// needs.
type Config struct {
	AppName string `yaml:"app_name"`
	Debug   bool   `yaml:"debug"`
	LogDir  string `yaml:"log_dir"`

	Redis RedisConfig `yaml:"redis"`

	Channels ChannelsConfig `yaml:"channels"`

	Classifier   ClassifierConfig   `yaml:"classifier"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	RedisAgent   RedisAgentConfig   `yaml:"redis_agent"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Roundtable   RoundtableConfig   `yaml:"roundtable"`
	Builder      BuilderConfig      `yaml:"builder"`
}

// RedisConfig addresses the single Redis instance backing both Bus and
// Store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ChannelsConfig names every pub/sub channel the fabric uses.
type ChannelsConfig struct {
	DiscordRaw        string `yaml:"discord_raw"`
	ToOrchestrator    string `yaml:"to_orchestrator"`
	FromOrchestrator  string `yaml:"from_orchestrator"`
	ToFullsend        string `yaml:"to_fullsend"`
	BuilderTasks      string `yaml:"builder_tasks"`
	BuilderResults    string `yaml:"builder_results"`
	Metrics           string `yaml:"metrics"`
	ExperimentResults string `yaml:"experiment_results"`
}

// ClassifierConfig tunes the Watcher's classification, response, and retry
// behavior. Model/ResponseModel name whatever llm.Client implementation the
// binary is wired with; the client itself is an external collaborator (see
// internal/llm).
type ClassifierConfig struct {
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	ResponseModel     string  `yaml:"response_model"`
	ResponseTemp      float64 `yaml:"response_temperature"`
	ResponseMaxTokens int     `yaml:"response_max_tokens"`
	RetryAttempts     int     `yaml:"retry_attempts"`
	RetryBaseDelay    float64 `yaml:"retry_base_delay_seconds"`
	RetryMaxDelay     float64 `yaml:"retry_max_delay_seconds"`
}

// OrchestratorConfig tunes the Orchestrator Agent's decision loop.
type OrchestratorConfig struct {
	Model                  string `yaml:"model"`
	ThinkingBudgetTokens   int    `yaml:"thinking_budget_tokens"`
	MaxTokens              int    `yaml:"max_tokens"`
	ThinkingTimeoutSeconds int    `yaml:"thinking_timeout_seconds"`
	RoundtableTimeoutSec   int    `yaml:"roundtable_timeout_seconds"`
	RoundtableMaxRounds    int    `yaml:"roundtable_max_rounds"`
}

// RedisAgentConfig tunes the Metrics Monitor and Alert Gate.
type RedisAgentConfig struct {
	AlertCooldownSeconds         int `yaml:"alert_cooldown_seconds"`
	SummaryIntervalSeconds       int `yaml:"summary_interval_seconds"`
	ThresholdCheckIntervalSeconds int `yaml:"threshold_check_interval_seconds"`
}

// ExecutorConfig tunes experiment execution. Since schedule consultation
// (`schedules:{id}.cron`) is an external collaborator concern (see
// DESIGN.md), the Executor picks up newly-active experiments by polling
// rather than evaluating cron expressions itself.
type ExecutorConfig struct {
	ToolExecutionTimeoutSeconds int     `yaml:"tool_execution_timeout_seconds"`
	ToolsPath                   string  `yaml:"tools_path"`
	PollIntervalSeconds         int     `yaml:"poll_interval_seconds"`
	RetryAttempts               int     `yaml:"retry_attempts"`
	RetryBaseDelaySeconds       float64 `yaml:"retry_base_delay_seconds"`
	RetryMaxDelaySeconds        float64 `yaml:"retry_max_delay_seconds"`
}

// RoundtableConfig tunes the Roundtable subprocess contract.
type RoundtableConfig struct {
	Command        []string `yaml:"command"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	MaxRounds      int      `yaml:"max_rounds"`
}

// BuilderConfig tunes the Builder subprocess contract.
type BuilderConfig struct {
	Command        []string `yaml:"command"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads filename, applies defaults for anything left zero-valued, then
// overrides from environment variables, and validates the result.
func Load(filename string) (*Config, error) {
	var cfg Config
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", filename, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", filename, err)
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.Orchestrator.ThinkingTimeoutSeconds < 0 {
		return nil, fmt.Errorf("config: thinking_timeout_seconds cannot be negative")
	}
	if cfg.RedisAgent.AlertCooldownSeconds < 0 {
		return nil, fmt.Errorf("config: alert_cooldown_seconds cannot be negative")
	}

	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.AppName == "" {
		c.AppName = "fullsend-fabric"
	}
	if c.LogDir == "" {
		c.LogDir = "./logs"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	if c.Channels.DiscordRaw == "" {
		c.Channels.DiscordRaw = "fullsend:discord_raw"
	}
	if c.Channels.ToOrchestrator == "" {
		c.Channels.ToOrchestrator = "fullsend:to_orchestrator"
	}
	if c.Channels.FromOrchestrator == "" {
		c.Channels.FromOrchestrator = "fullsend:from_orchestrator"
	}
	if c.Channels.ToFullsend == "" {
		c.Channels.ToFullsend = "fullsend:to_fullsend"
	}
	if c.Channels.BuilderTasks == "" {
		c.Channels.BuilderTasks = "fullsend:builder_tasks"
	}
	if c.Channels.BuilderResults == "" {
		c.Channels.BuilderResults = "fullsend:builder_results"
	}
	if c.Channels.Metrics == "" {
		c.Channels.Metrics = "fullsend:metrics"
	}
	if c.Channels.ExperimentResults == "" {
		c.Channels.ExperimentResults = "fullsend:experiment_results"
	}

	if c.Classifier.Model == "" {
		c.Classifier.Model = "claude-3-5-haiku-latest"
	}
	if c.Classifier.Temperature == 0 {
		c.Classifier.Temperature = 0.1
	}
	if c.Classifier.MaxTokens == 0 {
		c.Classifier.MaxTokens = 500
	}
	if c.Classifier.ResponseModel == "" {
		c.Classifier.ResponseModel = c.Classifier.Model
	}
	if c.Classifier.ResponseTemp == 0 {
		c.Classifier.ResponseTemp = 0.3
	}
	if c.Classifier.ResponseMaxTokens == 0 {
		c.Classifier.ResponseMaxTokens = 200
	}
	if c.Classifier.RetryAttempts == 0 {
		c.Classifier.RetryAttempts = 3
	}
	if c.Classifier.RetryBaseDelay == 0 {
		c.Classifier.RetryBaseDelay = 1.0
	}
	if c.Classifier.RetryMaxDelay == 0 {
		c.Classifier.RetryMaxDelay = 10.0
	}

	if c.Orchestrator.Model == "" {
		c.Orchestrator.Model = "claude-3-7-sonnet-latest"
	}
	if c.Orchestrator.ThinkingBudgetTokens == 0 {
		c.Orchestrator.ThinkingBudgetTokens = 10000
	}
	if c.Orchestrator.MaxTokens == 0 {
		c.Orchestrator.MaxTokens = 16000
	}
	if c.Orchestrator.ThinkingTimeoutSeconds == 0 {
		c.Orchestrator.ThinkingTimeoutSeconds = 60
	}
	if c.Orchestrator.RoundtableTimeoutSec == 0 {
		c.Orchestrator.RoundtableTimeoutSec = 120
	}
	if c.Orchestrator.RoundtableMaxRounds == 0 {
		c.Orchestrator.RoundtableMaxRounds = 3
	}

	if c.RedisAgent.AlertCooldownSeconds == 0 {
		c.RedisAgent.AlertCooldownSeconds = 300
	}
	if c.RedisAgent.SummaryIntervalSeconds == 0 {
		c.RedisAgent.SummaryIntervalSeconds = 3600
	}
	if c.RedisAgent.ThresholdCheckIntervalSeconds == 0 {
		c.RedisAgent.ThresholdCheckIntervalSeconds = 60
	}

	if c.Executor.ToolExecutionTimeoutSeconds == 0 {
		c.Executor.ToolExecutionTimeoutSeconds = 120
	}
	if c.Executor.ToolsPath == "" {
		c.Executor.ToolsPath = "./tools"
	}
	if c.Executor.PollIntervalSeconds == 0 {
		c.Executor.PollIntervalSeconds = 30
	}
	if c.Executor.RetryAttempts == 0 {
		c.Executor.RetryAttempts = 3
	}
	if c.Executor.RetryBaseDelaySeconds == 0 {
		c.Executor.RetryBaseDelaySeconds = 1.0
	}
	if c.Executor.RetryMaxDelaySeconds == 0 {
		c.Executor.RetryMaxDelaySeconds = 10.0
	}

	if c.Roundtable.TimeoutSeconds == 0 {
		c.Roundtable.TimeoutSeconds = 120
	}
	if c.Roundtable.MaxRounds == 0 {
		c.Roundtable.MaxRounds = 3
	}
	if len(c.Roundtable.Command) == 0 {
		c.Roundtable.Command = []string{"uv", "run", "python", "-m", "services.roundtable"}
	}

	if c.Builder.TimeoutSeconds == 0 {
		c.Builder.TimeoutSeconds = 900
	}
	if len(c.Builder.Command) == 0 {
		c.Builder.Command = []string{"uv", "run", "python", "-m", "services.builder"}
	}
}

// applyEnvOverrides lets deployment environments override the handful of
// values that commonly vary per environment (connection info, secrets)
// without editing the checked-in YAML.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
	if v := os.Getenv("DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
}
