// ============================================================================
// Beaver-Swarm 訓練測試套件
// ============================================================================
//
// Package: test/integration
// 文件: training_test.go
// 功能: 端到端同步多回合訓練測試
//
// 測試目標:
//   驗證完整的多回合生命週期：
//   1. 每回合樣本均分到 trainer Worker
//   2. 回合間嚴格串行（barrier + 同步步驟）
//   3. 全局指標為各分區回報的平均
//   4. 目標指標達標時提前結束
//
// 模擬曲線（見 simwork）:
//   accuracy = min(0.95, 0.5 + 0.08*round ± 0.02)
//   第 5 回合上界 0.92 < 0.95，第 6 回合下界經裁剪恰為 0.95，
//   因此門檻 0.95 的 early-exit 必然發生在第 6 回合。
//
// ============================================================================

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/swarm-coordinator/internal/coordinator"
	"github.com/ChuLiYu/swarm-coordinator/internal/simwork"
	"github.com/ChuLiYu/swarm-coordinator/pkg/types"
)

func trainerWorkers(n int) []types.WorkerDef {
	defs := make([]types.WorkerDef, 0, n)
	for i := 0; i < n; i++ {
		defs = append(defs, types.WorkerDef{
			ID:           types.WorkerID(fmt.Sprintf("trainer-%03d", i)),
			Type:         types.WorkerTrainer,
			Capabilities: []string{"model_training"},
		})
	}
	return defs
}

func trainingBatchFor(shares []int) func(round int) []types.Task {
	return func(round int) []types.Task {
		tasks := make([]types.Task, 0, len(shares))
		for _, samples := range shares {
			tasks = append(tasks, types.Task{
				Type:    types.TaskTraining,
				Payload: map[string]interface{}{"round": round, "samples": samples},
			})
		}
		return tasks
	}
}

// TestEndToEndTraining 完整的同步訓練生命週期測試
//
// 測試流程:
//  1. 4 個 trainer，10000 樣本均分（每人 2500）
//  2. 最多 10 回合，accuracy >= 0.95 提前結束
//  3. 驗證 early-exit 回合、同步歷史與指標
func TestEndToEndTraining(t *testing.T) {
	const (
		numWorkers   = 4
		totalSamples = 10000
	)

	executor := simwork.New(testScale)
	coord, err := coordinator.New(coordinator.Config{
		MaxConcurrency:  numWorkers,
		TaskTimeout:     10 * time.Second,
		Rounds:          10,
		TargetMetric:    "accuracy",
		TargetThreshold: 0.95,
		// 一個分區一個 trainer：嚴格策略下每回合每個 Worker 恰好一個任務
		ExclusiveWorkers: true,
		Workers:          trainerWorkers(numWorkers),
	}, executor.Execute, coordinator.WithSyncFunc(coordinator.AverageSync("loss", "accuracy")))
	require.NoError(t, err)

	shares := simwork.PartitionSamples(totalSamples, numWorkers)
	require.Equal(t, []int{2500, 2500, 2500, 2500}, shares)

	report, err := coord.RunRounds(context.Background(), trainingBatchFor(shares))
	require.NoError(t, err)

	// 模擬曲線在第 6 回合必然達標
	assert.True(t, report.EarlyExit)
	assert.Equal(t, 6, report.RoundsCompleted)
	assert.Equal(t, coordinator.StateDone, coord.State())
	require.Len(t, report.SyncHistory, 6)

	// 全局 loss 單調下降（回合間差 0.1，抖動上界 ±0.05）
	for i := 1; i < len(report.SyncHistory); i++ {
		prev := report.SyncHistory[i-1].Values["loss"]
		curr := report.SyncHistory[i].Values["loss"]
		assert.Less(t, curr, prev, "global loss must decrease between rounds")
	}

	// 最終 accuracy 達到門檻且被曲線上限裁剪
	final := report.SyncHistory[5]
	assert.Equal(t, 6, final.Round)
	assert.GreaterOrEqual(t, final.Values["accuracy"], 0.95)

	// 指標：6 回合 × 4 分區，全部成功
	assert.Equal(t, 24, report.Metrics.TasksProcessed)
	assert.Len(t, report.Metrics.WorkerUtilization, numWorkers)
	for id, u := range report.Metrics.WorkerUtilization {
		assert.Equal(t, 6, u.TasksCompleted, "worker %s should run once per round", id)
	}

	// 終止後不再接受批次
	_, err = coord.SubmitBatch(context.Background(), trainingBatchFor(shares)(1))
	assert.ErrorIs(t, err, coordinator.ErrCoordinatorDone)
}

// TestTrainingRoundsExhausted 未達標時跑滿配置回合數
func TestTrainingRoundsExhausted(t *testing.T) {
	const numWorkers = 2

	executor := simwork.New(testScale)
	coord, err := coordinator.New(coordinator.Config{
		MaxConcurrency:  numWorkers,
		Rounds:          3,
		TargetMetric:    "accuracy",
		TargetThreshold: 0.99, // 曲線上限 0.95，永不達標
		Workers:         trainerWorkers(numWorkers),
	}, executor.Execute, coordinator.WithSyncFunc(coordinator.AverageSync("accuracy")))
	require.NoError(t, err)

	shares := simwork.PartitionSamples(1000, numWorkers)
	report, err := coord.RunRounds(context.Background(), trainingBatchFor(shares))
	require.NoError(t, err)

	assert.False(t, report.EarlyExit)
	assert.Equal(t, 3, report.RoundsCompleted)
	assert.Equal(t, 6, report.Metrics.TasksProcessed)
}

// TestTrainingUnevenPartition 樣本無法整除時捨去餘數
func TestTrainingUnevenPartition(t *testing.T) {
	shares := simwork.PartitionSamples(10, 3)
	assert.Equal(t, []int{3, 3, 3}, shares)

	total := 0
	for _, s := range shares {
		total += s
	}
	assert.Equal(t, 9, total, "remainder samples are dropped")
}
