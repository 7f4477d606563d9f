// ============================================================================
// Beaver-Swarm CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides user-friendly command line interface based on Cobra framework
//
// Command Structure:
//   beaver-swarm                   # Root command
//   ├── run                        # Run a multi-agent task batch
//   │   └── --file, -f            # Task JSON file (built-in workflow if omitted)
//   ├── train                      # Run a multi-round training session
//   │   └── --rounds              # Override configured round count
//   ├── status                     # View configuration and worker pool
//   ├── --version                  # Display version information
//   └── --help                     # Display help information
//
// Configuration Management:
//   Uses YAML format config file (default: configs/default.yaml)
//   Configuration items include:
//   - coordinator: Concurrency limit, per-task timeout, routing policy
//   - workers: Worker pool definitions (id, type, capabilities)
//   - training: Round count, target metric/threshold, sample partitioning
//   - simulation: Simulated work time scale
//   - output: Report output directory
//   - metrics: Prometheus monitoring configuration
//
// run Command:
//   Dispatches one batch of capability-matched tasks:
//   1. Load config file
//   2. Build Coordinator with the configured worker pool
//   3. Load tasks from JSON file, or use the built-in demo workflow
//   4. Block until the batch barrier, print the per-task outcome
//   5. Write a workflow report if the output directory exists
//
//   Examples:
//     ./beaver-swarm run
//     ./beaver-swarm run -f tasks.json -c custom-config.yaml
//
// train Command:
//   Runs a synchronized multi-round session: every round partitions the
//   configured sample count across trainer workers, waits at the barrier,
//   then averages the reported loss/accuracy. Stops early when the target
//   metric crosses the configured threshold.
//
//   Examples:
//     ./beaver-swarm train
//     ./beaver-swarm train --rounds 5
//
// Task File Format (run -f):
//   [
//     {
//       "id": "task-1",
//       "type": "research",
//       "payload": {"topic": "AI trends"}
//     }
//   ]
//
// Signal Handling:
//   run and train commands capture SIGINT / SIGTERM; cancellation stops
//   new rounds from being issued while the in-flight batch drains to its
//   barrier, so results are never torn.
//
// Metrics Service:
//   If enabled in config, starts HTTP service in separate goroutine:
//   - Default port: 9090
//   - Path: /metrics
//   - Format: Prometheus format
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/swarm-coordinator/internal/coordinator"
	"github.com/ChuLiYu/swarm-coordinator/internal/metrics"
	"github.com/ChuLiYu/swarm-coordinator/internal/report"
	"github.com/ChuLiYu/swarm-coordinator/internal/simwork"
	"github.com/ChuLiYu/swarm-coordinator/pkg/types"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Coordinator struct {
		MaxConcurrency   int           `yaml:"max_concurrency"`
		TaskTimeout      time.Duration `yaml:"task_timeout"`
		ExclusiveWorkers bool          `yaml:"exclusive_workers"`
	} `yaml:"coordinator"`

	Workers []types.WorkerDef `yaml:"workers"`

	Training struct {
		Rounds          int     `yaml:"rounds"`
		Workers         int     `yaml:"workers"`
		TotalSamples    int     `yaml:"total_samples"`
		TargetMetric    string  `yaml:"target_metric"`
		TargetThreshold float64 `yaml:"target_threshold"`
	} `yaml:"training"`

	Simulation struct {
		Scale float64 `yaml:"scale"`
	} `yaml:"simulation"`

	Output struct {
		Dir string `yaml:"dir"`
	} `yaml:"output"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "beaver-swarm",
		Short: "Beaver-Swarm: A capability-matched concurrent task coordinator",
		Long: `Beaver-Swarm coordinates heterogeneous worker pools with:
- Capability-matched, least-busy task routing
- Bounded concurrent dispatch with batch barriers
- Synchronized multi-round execution with early exit
- Prometheus metrics`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildTrainCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	var taskFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a multi-agent task batch",
		Long:  "Dispatch a batch of tasks across the configured worker pool and wait for the barrier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(taskFile)
		},
	}

	cmd.Flags().StringVarP(&taskFile, "file", "f", "", "JSON file containing task definitions (built-in workflow if omitted)")

	return cmd
}

func runBatch(taskFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	tasks, err := loadTasks(taskFile)
	if err != nil {
		return err
	}

	coord, err := buildCoordinator(cfg, cfg.Workers)
	if err != nil {
		return err
	}
	defer coord.Close()

	log.Printf("Dispatching %d tasks across %d workers\n", len(tasks), len(cfg.Workers))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	outcome, err := coord.SubmitBatch(ctx, tasks)
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}
	elapsed := time.Since(start)

	printOutcome(outcome, elapsed)
	printMetrics(coord.CurrentMetrics())

	writeReport(cfg, "workflow_results", map[string]interface{}{
		"results":          outcome.Results,
		"routing_failures": len(outcome.RoutingFailures),
		"elapsed":          elapsed.String(),
		"metrics":          coord.CurrentMetrics(),
	})
	return nil
}

func buildTrainCommand() *cobra.Command {
	var rounds int

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run a synchronized multi-round training session",
		Long:  "Partition samples across trainer workers each round, synchronize at the barrier, stop early on target",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraining(rounds)
		},
	}

	cmd.Flags().IntVar(&rounds, "rounds", 0, "Override configured round count")

	return cmd
}

func runTraining(roundsOverride int) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	numWorkers := cfg.Training.Workers
	if numWorkers <= 0 {
		numWorkers = 4
	}
	rounds := cfg.Training.Rounds
	if roundsOverride > 0 {
		rounds = roundsOverride
	}
	if rounds <= 0 {
		rounds = 10
	}
	totalSamples := cfg.Training.TotalSamples
	if totalSamples <= 0 {
		totalSamples = 10000
	}

	// 訓練用 Worker 池：同構 trainer
	defs := make([]types.WorkerDef, 0, numWorkers)
	for i := 0; i < numWorkers; i++ {
		defs = append(defs, types.WorkerDef{
			ID:           types.WorkerID(fmt.Sprintf("trainer-%03d", i)),
			Type:         types.WorkerTrainer,
			Capabilities: []string{"model_training"},
		})
	}

	trainCfg := coordinator.Config{
		MaxConcurrency:  numWorkers,
		TaskTimeout:     cfg.Coordinator.TaskTimeout,
		Rounds:          rounds,
		TargetMetric:    cfg.Training.TargetMetric,
		TargetThreshold: cfg.Training.TargetThreshold,
		// 一個分區一個 trainer，嚴格策略
		ExclusiveWorkers: true,
		Workers:          defs,
	}

	executor := simwork.New(cfg.Simulation.Scale)
	collector := startCollector(cfg)

	opts := []coordinator.Option{coordinator.WithSyncFunc(coordinator.AverageSync("loss", "accuracy"))}
	if collector != nil {
		opts = append(opts, coordinator.WithCollector(collector))
	}
	coord, err := coordinator.New(trainCfg, executor.Execute, opts...)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	shares := simwork.PartitionSamples(totalSamples, numWorkers)
	batchFor := func(round int) []types.Task {
		tasks := make([]types.Task, 0, numWorkers)
		for _, samples := range shares {
			tasks = append(tasks, types.Task{
				Type: types.TaskTraining,
				Payload: map[string]interface{}{
					"round":   round,
					"samples": samples,
				},
			})
		}
		return tasks
	}

	log.Printf("Starting training: %d rounds, %d workers, %d samples/round\n", rounds, numWorkers, totalSamples)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	result, err := coord.RunRounds(ctx, batchFor)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	elapsed := time.Since(start)

	printTrainingReport(result, elapsed)
	printMetrics(result.Metrics)

	writeReport(cfg, "training_results", map[string]interface{}{
		"report":  result,
		"elapsed": elapsed.String(),
	})
	return nil
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and worker pool status",
		Long:  "Display coordinator configuration and the configured worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
	return cmd
}

func showStatus() error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║           Beaver-Swarm System Status                      ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	// System Configuration
	fmt.Println("📋 Configuration:")
	fmt.Printf("  └─ Config File:      %s\n", configFile)
	fmt.Printf("  └─ Max Concurrency:  %d\n", cfg.Coordinator.MaxConcurrency)
	fmt.Printf("  └─ Task Timeout:     %s\n", cfg.Coordinator.TaskTimeout)
	fmt.Printf("  └─ Routing Policy:   %s\n", routingPolicy(cfg.Coordinator.ExclusiveWorkers))
	fmt.Println()

	// Worker Pool
	fmt.Println("👷 Worker Pool:")
	if len(cfg.Workers) == 0 {
		fmt.Println("  └─ (no workers configured)")
	}
	for i, w := range cfg.Workers {
		branch := "├─"
		if i == len(cfg.Workers)-1 {
			branch = "└─"
		}
		fmt.Printf("  %s %-16s %-12s %v\n", branch, w.ID, w.Type, w.Capabilities)
	}
	fmt.Println()

	// Training Configuration
	fmt.Println("🎯 Training:")
	fmt.Printf("  ├─ Rounds:           %d\n", cfg.Training.Rounds)
	fmt.Printf("  ├─ Trainer Workers:  %d\n", cfg.Training.Workers)
	fmt.Printf("  ├─ Samples/Round:    %d\n", cfg.Training.TotalSamples)
	fmt.Printf("  └─ Early Exit:       %s >= %.2f\n", cfg.Training.TargetMetric, cfg.Training.TargetThreshold)
	fmt.Println()

	// Metrics Status
	fmt.Println("📡 Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Printf("  └─ Status: ✅ Enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Println("  └─ Status: ⚠️  Disabled")
	}
	fmt.Println()

	fmt.Println("═══════════════════════════════════════════════════════════")
	return nil
}

// ============================================================================
// 輔助函數
// ============================================================================

// buildCoordinator 建立協調器與（可選的）Prometheus 收集器
func buildCoordinator(cfg *Config, workers []types.WorkerDef) (*coordinator.Coordinator, error) {
	coordCfg := coordinator.Config{
		MaxConcurrency:   cfg.Coordinator.MaxConcurrency,
		TaskTimeout:      cfg.Coordinator.TaskTimeout,
		ExclusiveWorkers: cfg.Coordinator.ExclusiveWorkers,
		Workers:          workers,
	}

	executor := simwork.New(cfg.Simulation.Scale)

	opts := []coordinator.Option{}
	if collector := startCollector(cfg); collector != nil {
		opts = append(opts, coordinator.WithCollector(collector))
	}

	coord, err := coordinator.New(coordCfg, executor.Execute, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	return coord, nil
}

// startCollector 依配置啟動 Prometheus 指標服務
func startCollector(cfg *Config) *metrics.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}

	collector := metrics.NewCollector()
	go func() {
		log.Printf("Starting metrics server on :%d\n", cfg.Metrics.Port)
		if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
			log.Printf("Metrics server error: %v\n", err)
		}
	}()
	return collector
}

// loadTasks 從 JSON 檔載入任務；檔名為空時使用內建示範工作流
func loadTasks(path string) ([]types.Task, error) {
	if path == "" {
		return demoWorkflow(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	var input []struct {
		ID      string                 `json:"id"`
		Type    string                 `json:"type"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("failed to parse task file: %w", err)
	}

	tasks := make([]types.Task, 0, len(input))
	for _, t := range input {
		tasks = append(tasks, types.Task{
			ID:      types.TaskID(t.ID),
			Type:    types.TaskType(t.Type),
			Payload: t.Payload,
		})
	}
	return tasks, nil
}

// demoWorkflow 內建示範工作流：研究 → 分析 → 寫作
func demoWorkflow() []types.Task {
	return []types.Task{
		{Type: types.TaskResearch, Payload: map[string]interface{}{"topic": "AI trends in 2025"}},
		{Type: types.TaskResearch, Payload: map[string]interface{}{"topic": "quantum computing applications"}},
		{Type: types.TaskAnalysis, Payload: map[string]interface{}{"subject": "research findings"}},
		{Type: types.TaskWriting, Payload: map[string]interface{}{"format": "summary report"}},
	}
}

func printOutcome(outcome coordinator.BatchOutcome, elapsed time.Duration) {
	var completed, failed int
	for _, r := range outcome.Results {
		if r.Status == types.ResultCompleted {
			completed++
		} else {
			failed++
		}
	}

	fmt.Println("\n📊 Batch Outcome:")
	fmt.Printf("  ├─ ✅ Completed:       %d\n", completed)
	fmt.Printf("  ├─ ❌ Failed:          %d\n", failed)
	fmt.Printf("  ├─ 🚫 Routing Failed:  %d\n", len(outcome.RoutingFailures))
	fmt.Printf("  └─ ⏱  Elapsed:         %s\n", elapsed.Round(time.Millisecond))

	for _, rf := range outcome.RoutingFailures {
		fmt.Printf("     └─ %s (%s): %v\n", rf.Task.ID, rf.Task.Type, rf.Err)
	}
}

func printTrainingReport(r coordinator.RunReport, elapsed time.Duration) {
	fmt.Println("\n🎯 Training Report:")
	fmt.Printf("  ├─ Rounds Completed:  %d\n", r.RoundsCompleted)
	fmt.Printf("  ├─ Early Exit:        %v\n", r.EarlyExit)
	fmt.Printf("  └─ ⏱  Elapsed:         %s\n", elapsed.Round(time.Millisecond))

	for _, s := range r.SyncHistory {
		fmt.Printf("     Round %2d: loss=%.4f accuracy=%.4f (sync %s)\n",
			s.Round, s.Values["loss"], s.Values["accuracy"], s.Duration.Round(time.Microsecond))
	}
}

func printMetrics(m types.RunMetrics) {
	fmt.Println("\n📈 Run Metrics:")
	fmt.Printf("  ├─ Tasks Processed:   %d\n", m.TasksProcessed)
	fmt.Printf("  ├─ Processing Time:   %s\n", m.TotalProcessingTime.Round(time.Millisecond))
	fmt.Printf("  ├─ Latency p50/p95:   %s / %s\n", m.LatencyP50.Round(time.Millisecond), m.LatencyP95.Round(time.Millisecond))
	fmt.Println("  └─ Worker Utilization:")
	for id, u := range m.WorkerUtilization {
		fmt.Printf("     └─ %-16s %d tasks, avg %s\n", id, u.TasksCompleted, u.AverageTime.Round(time.Millisecond))
	}
}

// writeReport 輸出報告 JSON；目錄不存在時靜默跳過
func writeReport(cfg *Config, prefix string, payload interface{}) {
	if cfg.Output.Dir == "" {
		return
	}
	w := report.NewWriter(cfg.Output.Dir)
	if !w.Enabled() {
		return
	}
	path, err := w.Write(prefix, payload)
	if err != nil {
		log.Printf("Failed to write report: %v\n", err)
		return
	}
	log.Printf("Report written to %s\n", path)
}

func routingPolicy(exclusive bool) string {
	if exclusive {
		return "exclusive (one task per worker)"
	}
	return "shared (least-busy)"
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return &cfg, nil
}
