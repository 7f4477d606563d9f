package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/swarm-coordinator/internal/coordinator"
	"github.com/ChuLiYu/swarm-coordinator/internal/simwork"
	"github.com/ChuLiYu/swarm-coordinator/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/demo/main.go <agents|training>")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mode := os.Args[1]
	switch mode {
	case "agents":
		runAgentsDemo(ctx)
	case "training":
		runTrainingDemo(ctx)
	default:
		fmt.Printf("Unknown mode: %s (expected agents or training)\n", mode)
		os.Exit(1)
	}
}

// runAgentsDemo 多代理工作流示範：研究 → 分析 → 寫作
func runAgentsDemo(ctx context.Context) {
	cfg := coordinator.Config{
		MaxConcurrency: 5,
		TaskTimeout:    30 * time.Second,
		Workers: []types.WorkerDef{
			{ID: "researcher-001", Type: types.WorkerResearcher, Capabilities: []string{"web_search", "document_retrieval"}},
			{ID: "researcher-002", Type: types.WorkerResearcher, Capabilities: []string{"web_search", "academic_papers"}},
			{ID: "analyst-001", Type: types.WorkerAnalyst, Capabilities: []string{"data_analysis", "trend_detection"}},
			{ID: "analyst-002", Type: types.WorkerAnalyst, Capabilities: []string{"data_analysis", "statistics"}},
			{ID: "writer-001", Type: types.WorkerWriter, Capabilities: []string{"content_creation", "editing"}},
		},
	}

	executor := simwork.New(1.0)
	coord, err := coordinator.New(cfg, executor.Execute)
	if err != nil {
		log.Fatalf("Failed to create coordinator: %v", err)
	}
	defer coord.Close()

	fmt.Printf("✓ Coordinator started with %d workers\n", coord.Registry().Len())

	tasks := []types.Task{
		{Type: types.TaskResearch, Payload: map[string]interface{}{"topic": "AI trends in 2025"}},
		{Type: types.TaskResearch, Payload: map[string]interface{}{"topic": "quantum computing applications"}},
		{Type: types.TaskAnalysis, Payload: map[string]interface{}{"subject": "research findings"}},
		{Type: types.TaskAnalysis, Payload: map[string]interface{}{"subject": "market signals"}},
		{Type: types.TaskWriting, Payload: map[string]interface{}{"format": "summary report"}},
	}

	fmt.Printf("⚡ Dispatching %d tasks...\n\n", len(tasks))

	start := time.Now()
	outcome, err := coord.SubmitBatch(ctx, tasks)
	if err != nil {
		log.Fatalf("Batch failed: %v", err)
	}

	// 結果按完成順序到達
	for _, r := range outcome.Results {
		icon := "✅"
		if r.Status != types.ResultCompleted {
			icon = "❌"
		}
		fmt.Printf("%s %s by %s in %s\n", icon, r.TaskID, r.WorkerID, r.Duration.Round(time.Millisecond))
	}

	m := coord.CurrentMetrics()
	fmt.Printf("\n📊 Batch finished in %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  Tasks Processed: %d\n", m.TasksProcessed)
	fmt.Printf("  Processing Time: %s\n", m.TotalProcessingTime.Round(time.Millisecond))
	for id, u := range m.WorkerUtilization {
		fmt.Printf("  %s: %d tasks, avg %s\n", id, u.TasksCompleted, u.AverageTime.Round(time.Millisecond))
	}
}

// runTrainingDemo 同步多回合訓練示範：每回合切分樣本、barrier 同步、達標提前結束
func runTrainingDemo(ctx context.Context) {
	const (
		numWorkers   = 4
		totalSamples = 10000
	)

	defs := make([]types.WorkerDef, 0, numWorkers)
	for i := 0; i < numWorkers; i++ {
		defs = append(defs, types.WorkerDef{
			ID:           types.WorkerID(fmt.Sprintf("trainer-%03d", i)),
			Type:         types.WorkerTrainer,
			Capabilities: []string{"model_training"},
		})
	}

	cfg := coordinator.Config{
		MaxConcurrency:  numWorkers,
		TaskTimeout:     60 * time.Second,
		Rounds:          10,
		TargetMetric:    "accuracy",
		TargetThreshold: 0.95,
		// 一個分區一個 trainer
		ExclusiveWorkers: true,
		Workers:          defs,
	}

	executor := simwork.New(1.0)
	coord, err := coordinator.New(cfg, executor.Execute,
		coordinator.WithSyncFunc(coordinator.AverageSync("loss", "accuracy")))
	if err != nil {
		log.Fatalf("Failed to create coordinator: %v", err)
	}

	shares := simwork.PartitionSamples(totalSamples, numWorkers)
	fmt.Printf("✓ Training setup: %d workers, %d samples/round (shares: %v)\n\n", numWorkers, totalSamples, shares)

	batchFor := func(round int) []types.Task {
		tasks := make([]types.Task, 0, numWorkers)
		for _, samples := range shares {
			tasks = append(tasks, types.Task{
				Type:    types.TaskTraining,
				Payload: map[string]interface{}{"round": round, "samples": samples},
			})
		}
		return tasks
	}

	start := time.Now()
	result, err := coord.RunRounds(ctx, batchFor)
	if err != nil {
		log.Fatalf("Training failed: %v", err)
	}

	for _, s := range result.SyncHistory {
		fmt.Printf("Round %2d: loss=%.4f accuracy=%.4f\n", s.Round, s.Values["loss"], s.Values["accuracy"])
	}

	fmt.Printf("\n🎯 Training finished in %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  Rounds Completed: %d\n", result.RoundsCompleted)
	if result.EarlyExit {
		fmt.Printf("  ✓ Target reached early (%s >= %.2f)\n", cfg.TargetMetric, cfg.TargetThreshold)
	}
	fmt.Printf("  Tasks Processed:  %d\n", result.Metrics.TasksProcessed)
}
