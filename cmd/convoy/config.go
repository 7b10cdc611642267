package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/convoy/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Convoy configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/convoy/config.yaml
Project-specific overrides can be placed in .convoy.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("anthropic.api_key: %s\n", config.MaskAPIKey(cfg.Anthropic.APIKey))
	fmt.Printf("anthropic.model: %s\n", orDefault(cfg.Anthropic.Model))
	fmt.Printf("anthropic.use_aws_bedrock: %t\n", cfg.Anthropic.UseAWSBedrock)
	fmt.Printf("bus.visibility_timeout: %s\n", cfg.Bus.VisibilityTimeout)
	fmt.Printf("bus.max_attempts: %d\n", cfg.Bus.MaxAttempts)
	fmt.Printf("agent.heartbeat_interval: %s\n", cfg.Agent.HeartbeatInterval)
	fmt.Printf("orchestrator.retry_bound: %d\n", cfg.Orchestrator.RetryBound)
	fmt.Printf("orchestrator.capacity_threshold: %.2f\n", cfg.Orchestrator.CapacityThreshold)
	fmt.Printf("fallback.quota_threshold: %.2f\n", cfg.Fallback.QuotaThreshold)
	fmt.Printf("fallback.quota_budget: %d\n", cfg.Fallback.QuotaBudget)
	fmt.Printf("fallback.primary_command: %s\n", orDefault(cfg.Fallback.PrimaryCommand))
	fmt.Printf("fallback.secondary_command: %s\n", orDefault(cfg.Fallback.SecondaryCommand))
	fmt.Printf("state.db_path: %s\n", cfg.State.DBPath)
	fmt.Printf("state.ledger_path: %s\n", cfg.State.LedgerPath)
}

func orDefault(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "anthropic.model":
		return orDefault(cfg.Anthropic.Model), nil
	case "anthropic.use_aws_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseAWSBedrock), nil
	case "bus.visibility_timeout":
		return cfg.Bus.VisibilityTimeout.String(), nil
	case "bus.max_attempts":
		return strconv.Itoa(cfg.Bus.MaxAttempts), nil
	case "agent.heartbeat_interval":
		return cfg.Agent.HeartbeatInterval.String(), nil
	case "orchestrator.retry_bound":
		return strconv.Itoa(cfg.Orchestrator.RetryBound), nil
	case "orchestrator.capacity_threshold":
		return strconv.FormatFloat(cfg.Orchestrator.CapacityThreshold, 'f', 2, 64), nil
	case "fallback.quota_threshold":
		return strconv.FormatFloat(cfg.Fallback.QuotaThreshold, 'f', 2, 64), nil
	case "fallback.quota_budget":
		return strconv.FormatInt(cfg.Fallback.QuotaBudget, 10), nil
	case "fallback.primary_command":
		return orDefault(cfg.Fallback.PrimaryCommand), nil
	case "fallback.secondary_command":
		return orDefault(cfg.Fallback.SecondaryCommand), nil
	case "state.db_path":
		return cfg.State.DBPath, nil
	case "state.ledger_path":
		return cfg.State.LedgerPath, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.use_aws_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for use_aws_bedrock: %w", err)
		}
		cfg.Anthropic.UseAWSBedrock = b
	case "bus.visibility_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for visibility_timeout: %w", err)
		}
		cfg.Bus.VisibilityTimeout = d
	case "bus.max_attempts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_attempts: %w", err)
		}
		cfg.Bus.MaxAttempts = n
	case "agent.heartbeat_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for heartbeat_interval: %w", err)
		}
		cfg.Agent.HeartbeatInterval = d
	case "orchestrator.retry_bound":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for retry_bound: %w", err)
		}
		cfg.Orchestrator.RetryBound = n
	case "orchestrator.capacity_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for capacity_threshold: %w", err)
		}
		cfg.Orchestrator.CapacityThreshold = f
	case "fallback.quota_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for quota_threshold: %w", err)
		}
		cfg.Fallback.QuotaThreshold = f
	case "fallback.quota_budget":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value for quota_budget: %w", err)
		}
		cfg.Fallback.QuotaBudget = n
	case "fallback.primary_command":
		cfg.Fallback.PrimaryCommand = value
	case "fallback.secondary_command":
		cfg.Fallback.SecondaryCommand = value
	case "state.db_path":
		cfg.State.DBPath = value
	case "state.ledger_path":
		cfg.State.LedgerPath = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
