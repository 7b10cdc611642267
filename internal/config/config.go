// Package config handles configuration loading and management for Convoy.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a Convoy node.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Bus          BusConfig          `mapstructure:"bus"`
	Agent        AgentConfig        `mapstructure:"agent"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Fallback     FallbackConfig     `mapstructure:"fallback"`
	State        StateConfig        `mapstructure:"state"`
}

// AnthropicConfig holds remote backend settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// BusConfig holds message bus settings.
type BusConfig struct {
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	DeadLetterCap     int           `mapstructure:"dead_letter_cap"`
}

// AgentConfig holds agent runtime settings.
type AgentConfig struct {
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval"`
	CacheSize          int           `mapstructure:"cache_size"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
	DefaultWorkTimeout time.Duration `mapstructure:"default_work_timeout"`
	MaxExecAttempts    int           `mapstructure:"max_exec_attempts"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
}

// OrchestratorConfig holds scheduling settings.
type OrchestratorConfig struct {
	ScheduleInterval   time.Duration `mapstructure:"schedule_interval"`
	ResumePollInterval time.Duration `mapstructure:"resume_poll_interval"`
	HeartbeatWindow    time.Duration `mapstructure:"heartbeat_window"`
	RetryBound         int           `mapstructure:"retry_bound"`
	CapacityThreshold  float64       `mapstructure:"capacity_threshold"`
}

// FallbackConfig holds the tiered execution settings.
type FallbackConfig struct {
	QuotaThreshold   float64       `mapstructure:"quota_threshold"`
	QuotaBudget      int64         `mapstructure:"quota_budget"`
	LocalTimeout     time.Duration `mapstructure:"local_timeout"`
	RemoteTimeout    time.Duration `mapstructure:"remote_timeout"`
	PrimaryCommand   string        `mapstructure:"primary_command"`
	SecondaryCommand string        `mapstructure:"secondary_command"`
}

// StateConfig holds persistence locations.
type StateConfig struct {
	DBPath     string `mapstructure:"db_path"`
	LedgerPath string `mapstructure:"ledger_path"`
	LogPath    string `mapstructure:"log_path"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CONVOY_*, ANTHROPIC_API_KEY)
// 2. Project config (.convoy.yaml in current directory or parent)
// 3. User config (~/.config/convoy/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("")

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.use_aws_bedrock", "CONVOY_USE_BEDROCK")
	v.BindEnv("anthropic.aws_region", "CONVOY_AWS_REGION")
	v.BindEnv("state.db_path", "CONVOY_DB_PATH")
	v.BindEnv("state.ledger_path", "CONVOY_LEDGER_PATH")
	v.BindEnv("state.log_path", "CONVOY_LOG_PATH")
	v.BindEnv("fallback.quota_budget", "CONVOY_QUOTA_BUDGET")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.State.DBPath = expandEnv(cfg.State.DBPath)
	cfg.State.LedgerPath = expandEnv(cfg.State.LedgerPath)
	cfg.State.LogPath = expandEnv(cfg.State.LogPath)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_aws_bedrock", cfg.Anthropic.UseAWSBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("bus.visibility_timeout", cfg.Bus.VisibilityTimeout.String())
	v.Set("bus.max_attempts", cfg.Bus.MaxAttempts)
	v.Set("bus.dead_letter_cap", cfg.Bus.DeadLetterCap)
	v.Set("agent.heartbeat_interval", cfg.Agent.HeartbeatInterval.String())
	v.Set("agent.cache_size", cfg.Agent.CacheSize)
	v.Set("agent.cache_ttl", cfg.Agent.CacheTTL.String())
	v.Set("agent.default_work_timeout", cfg.Agent.DefaultWorkTimeout.String())
	v.Set("agent.max_exec_attempts", cfg.Agent.MaxExecAttempts)
	v.Set("agent.retry_base_delay", cfg.Agent.RetryBaseDelay.String())
	v.Set("orchestrator.schedule_interval", cfg.Orchestrator.ScheduleInterval.String())
	v.Set("orchestrator.resume_poll_interval", cfg.Orchestrator.ResumePollInterval.String())
	v.Set("orchestrator.heartbeat_window", cfg.Orchestrator.HeartbeatWindow.String())
	v.Set("orchestrator.retry_bound", cfg.Orchestrator.RetryBound)
	v.Set("orchestrator.capacity_threshold", cfg.Orchestrator.CapacityThreshold)
	v.Set("fallback.quota_threshold", cfg.Fallback.QuotaThreshold)
	v.Set("fallback.quota_budget", cfg.Fallback.QuotaBudget)
	v.Set("fallback.local_timeout", cfg.Fallback.LocalTimeout.String())
	v.Set("fallback.remote_timeout", cfg.Fallback.RemoteTimeout.String())
	v.Set("fallback.primary_command", cfg.Fallback.PrimaryCommand)
	v.Set("fallback.secondary_command", cfg.Fallback.SecondaryCommand)
	v.Set("state.db_path", cfg.State.DBPath)
	v.Set("state.ledger_path", cfg.State.LedgerPath)
	v.Set("state.log_path", cfg.State.LogPath)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("bus.visibility_timeout", "30s")
	v.SetDefault("bus.max_attempts", 5)
	v.SetDefault("bus.dead_letter_cap", 1000)

	v.SetDefault("agent.heartbeat_interval", "5s")
	v.SetDefault("agent.cache_size", 256)
	v.SetDefault("agent.cache_ttl", "10m")
	v.SetDefault("agent.default_work_timeout", "5m")
	v.SetDefault("agent.max_exec_attempts", 3)
	v.SetDefault("agent.retry_base_delay", "500ms")

	v.SetDefault("orchestrator.schedule_interval", "2s")
	v.SetDefault("orchestrator.resume_poll_interval", "10s")
	v.SetDefault("orchestrator.heartbeat_window", "15s")
	v.SetDefault("orchestrator.retry_bound", 10)
	v.SetDefault("orchestrator.capacity_threshold", 0.20)

	v.SetDefault("fallback.quota_threshold", 0.20)
	v.SetDefault("fallback.quota_budget", 0)
	v.SetDefault("fallback.local_timeout", "15s")
	v.SetDefault("fallback.remote_timeout", "2m")
	v.SetDefault("fallback.primary_command", "")
	v.SetDefault("fallback.secondary_command", "")

	dataDir := getUserDataDir()
	v.SetDefault("state.db_path", filepath.Join(dataDir, "convoy.db"))
	v.SetDefault("state.ledger_path", filepath.Join(dataDir, "ledger.jsonl"))
	v.SetDefault("state.log_path", "")
}

// getUserConfigDir returns the XDG config directory for Convoy.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "convoy")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "convoy")
	}
	return filepath.Join(home, ".config", "convoy")
}

// getUserDataDir returns the XDG data directory for Convoy.
func getUserDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "convoy")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "convoy")
	}
	return filepath.Join(home, ".local", "share", "convoy")
}

// findProjectConfig searches for .convoy.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".convoy.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	dataDir := getUserDataDir()
	return &Config{
		Bus: BusConfig{
			VisibilityTimeout: 30 * time.Second,
			MaxAttempts:       5,
			DeadLetterCap:     1000,
		},
		Agent: AgentConfig{
			HeartbeatInterval:  5 * time.Second,
			CacheSize:          256,
			CacheTTL:           10 * time.Minute,
			DefaultWorkTimeout: 5 * time.Minute,
			MaxExecAttempts:    3,
			RetryBaseDelay:     500 * time.Millisecond,
		},
		Orchestrator: OrchestratorConfig{
			ScheduleInterval:   2 * time.Second,
			ResumePollInterval: 10 * time.Second,
			HeartbeatWindow:    15 * time.Second,
			RetryBound:         10,
			CapacityThreshold:  0.20,
		},
		Fallback: FallbackConfig{
			QuotaThreshold: 0.20,
			LocalTimeout:   15 * time.Second,
			RemoteTimeout:  2 * time.Minute,
		},
		State: StateConfig{
			DBPath:     filepath.Join(dataDir, "convoy.db"),
			LedgerPath: filepath.Join(dataDir, "ledger.jsonl"),
		},
	}
}
