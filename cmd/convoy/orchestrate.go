package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/convoy/internal/agent"
	"github.com/ShayCichocki/convoy/internal/api"
	"github.com/ShayCichocki/convoy/internal/bus"
	"github.com/ShayCichocki/convoy/internal/config"
	"github.com/ShayCichocki/convoy/internal/fallback"
	"github.com/ShayCichocki/convoy/internal/orchestrator"
	"github.com/ShayCichocki/convoy/internal/state"
)

var (
	orchestrateAgents   int
	orchestrateManifest string
	orchestrateDBPath   string
)

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Run an orchestrator node with local agents",
	Long: `Start a Convoy node: the message bus, the orchestrator pipeline, and a
number of local agents consuming work from the bus.

The node runs until interrupted or until a kill signal file appears
(see 'convoy stop').`,
	RunE: runOrchestrate,
}

func init() {
	orchestrateCmd.Flags().IntVar(&orchestrateAgents, "agents", 1, "Number of local agents to start")
	orchestrateCmd.Flags().StringVar(&orchestrateManifest, "manifest", "", "Agent capability manifest (YAML)")
	orchestrateCmd.Flags().StringVar(&orchestrateDBPath, "db", "", "Override the state database path")
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if orchestrateDBPath != "" {
		cfg.State.DBPath = orchestrateDBPath
	}

	if err := os.MkdirAll(filepath.Dir(cfg.State.DBPath), 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	db, err := state.Open(cfg.State.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	broker, err := bus.NewBroker(bus.Options{
		MaxAttempts:       cfg.Bus.MaxAttempts,
		VisibilityTimeout: cfg.Bus.VisibilityTimeout,
		DeadLetterCap:     cfg.Bus.DeadLetterCap,
		Persister:         state.NewMessageStore(db),
	})
	if err != nil {
		return fmt.Errorf("start broker: %w", err)
	}
	defer broker.Close()

	engine := buildFallbackEngine(cfg, db)

	var parser orchestrator.IntentParser
	if engine != nil {
		parser = &orchestrator.CompletionParser{
			Completer: engine,
			Fallback:  orchestrator.KeywordParser{},
		}
	}

	pipeline, err := orchestrator.NewPipeline(db, broker, parser, orchestrator.Options{
		ScheduleInterval:   cfg.Orchestrator.ScheduleInterval,
		ResumePollInterval: cfg.Orchestrator.ResumePollInterval,
		HeartbeatWindow:    cfg.Orchestrator.HeartbeatWindow,
		RetryBound:         cfg.Orchestrator.RetryBound,
		CapacityThreshold:  cfg.Orchestrator.CapacityThreshold,
		LedgerPath:         cfg.State.LedgerPath,
		LogPath:            cfg.State.LogPath,
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	manifest := config.DefaultManifest()
	if orchestrateManifest != "" {
		manifest, err = config.LoadManifest(orchestrateManifest)
		if err != nil {
			return err
		}
	}

	runtimes, err := buildAgents(cfg, manifest, broker, engine)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	signals, err := api.NewSignalWatcher(cwd)
	if err != nil {
		return fmt.Errorf("start signal watcher: %w", err)
	}
	defer signals.Close()
	signals.ClearSignals()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Printf("%s convoy node up: %d agent(s), db %s\n",
		color.GreenString("✓"), len(runtimes), cfg.State.DBPath)

	errCh := make(chan error, len(runtimes)+1)
	go func() {
		errCh <- pipeline.Run(ctx)
	}()
	for _, rt := range runtimes {
		rt := rt
		go func() {
			errCh <- rt.Run(ctx)
		}()
	}

	// Poll the signal directory so an out-of-band 'convoy stop' or
	// 'convoy pause' lands even when the fsnotify watcher is unavailable.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	dispatchHeld := false
	for {
		select {
		case <-ctx.Done():
			fmt.Println("shutting down")
			return nil
		case err := <-errCh:
			if err != nil && ctx.Err() == nil {
				cancel()
				return err
			}
		case <-ticker.C:
			if signals.ShouldStop() {
				fmt.Printf("%s stop signal received\n", color.YellowString("⚠"))
				cancel()
				continue
			}
			if paused := signals.ShouldPause(); paused != dispatchHeld {
				dispatchHeld = paused
				pipeline.SetDispatchHold(paused)
				if paused {
					fmt.Printf("%s pause signal received, dispatch suspended\n", color.YellowString("⚠"))
				} else {
					fmt.Printf("%s pause signal cleared, dispatch resumed\n", color.GreenString("✓"))
				}
			}
		}
	}
}

// buildFallbackEngine wires the configured tiers. Returns nil when no tier
// is configured, in which case reasoning work is unavailable.
func buildFallbackEngine(cfg *config.Config, db *state.DB) *fallback.Engine {
	var primary, secondary, remote fallback.Backend

	if cfg.Fallback.PrimaryCommand != "" {
		parts := strings.Fields(cfg.Fallback.PrimaryCommand)
		primary = &fallback.CommandBackend{BackendName: "primary", Command: parts[0], Args: parts[1:]}
	}
	if cfg.Fallback.SecondaryCommand != "" {
		parts := strings.Fields(cfg.Fallback.SecondaryCommand)
		secondary = &fallback.CommandBackend{BackendName: "secondary", Command: parts[0], Args: parts[1:]}
	}

	apiKey, _ := config.GetAPIKey(cfg)
	if apiKey != "" || cfg.Anthropic.UseAWSBedrock {
		backend, err := fallback.NewAnthropicBackend(fallback.AnthropicConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			APIKey:        apiKey,
			UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "remote backend unavailable: %v\n", err)
		} else {
			remote = backend
		}
	}

	if primary == nil && secondary == nil && remote == nil {
		return nil
	}

	return fallback.NewEngine(primary, secondary, remote,
		fallback.NewQuotaTracker(cfg.Fallback.QuotaBudget), db,
		fallback.Options{
			QuotaThreshold: cfg.Fallback.QuotaThreshold,
			LocalTimeout:   cfg.Fallback.LocalTimeout,
			RemoteTimeout:  cfg.Fallback.RemoteTimeout,
		})
}

// buildAgents constructs the local agent runtimes from the manifest.
func buildAgents(cfg *config.Config, manifest *config.AgentManifest, broker *bus.Broker, engine *fallback.Engine) ([]*agent.Runtime, error) {
	commandBacked := make(map[string]config.ExecutorSpec, len(manifest.Executors))
	for _, spec := range manifest.Executors {
		commandBacked[spec.WorkType] = spec
	}

	var executors []agent.Executor
	for _, capability := range manifest.Capabilities {
		if spec, ok := commandBacked[capability]; ok && spec.Command != "" {
			executors = append(executors, agent.CommandExecutor{
				Name:    spec.WorkType,
				Command: spec.Command,
				Args:    spec.Args,
			})
			continue
		}
		switch capability {
		case "shell":
			executors = append(executors, agent.ShellExecutor{Timeout: cfg.Agent.DefaultWorkTimeout})
		case "echo":
			executors = append(executors, agent.EchoExecutor{})
		case "reasoning":
			if engine == nil {
				fmt.Fprintln(os.Stderr, "no fallback tier configured, dropping reasoning capability")
				continue
			}
			executors = append(executors, agent.ReasoningExecutor{Reasoner: engine})
		default:
			return nil, fmt.Errorf("capability %q has no executor binding in the manifest", capability)
		}
	}

	table, err := agent.NewExecutorTable(executors...)
	if err != nil {
		return nil, err
	}

	prefix := manifest.AgentID
	if prefix == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "agent"
		}
		prefix = host
	}

	runtimes := make([]*agent.Runtime, 0, orchestrateAgents)
	for i := 0; i < orchestrateAgents; i++ {
		id := prefix
		if orchestrateAgents > 1 {
			id = fmt.Sprintf("%s-%d", prefix, i+1)
		}
		rt, err := agent.NewRuntime(agent.Options{
			AgentID:            id,
			AgentType:          manifest.AgentType,
			HeartbeatInterval:  cfg.Agent.HeartbeatInterval,
			CacheSize:          cfg.Agent.CacheSize,
			CacheTTL:           cfg.Agent.CacheTTL,
			DefaultWorkTimeout: cfg.Agent.DefaultWorkTimeout,
			MaxExecAttempts:    cfg.Agent.MaxExecAttempts,
			RetryBaseDelay:     cfg.Agent.RetryBaseDelay,
		}, broker, table, &agent.HostSampler{})
		if err != nil {
			return nil, err
		}
		runtimes = append(runtimes, rt)
	}
	return runtimes, nil
}
