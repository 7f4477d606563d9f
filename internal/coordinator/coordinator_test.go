// ============================================================================
// Beaver-Swarm Coordinator - 協調器測試
// ============================================================================

package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/swarm-coordinator/internal/registry"
	"github.com/ChuLiYu/swarm-coordinator/internal/router"
	"github.com/ChuLiYu/swarm-coordinator/pkg/types"
)

// ============================================================================
// 測試輔助
// ============================================================================

func testWorkers() []types.WorkerDef {
	return []types.WorkerDef{
		{ID: "researcher-001", Type: types.WorkerResearcher, Capabilities: []string{"web_search"}},
		{ID: "analyst-001", Type: types.WorkerAnalyst, Capabilities: []string{"data_analysis"}},
		{ID: "writer-001", Type: types.WorkerWriter, Capabilities: []string{"content_creation"}},
	}
}

func testConfig() Config {
	return Config{
		MaxConcurrency: 3,
		TaskTimeout:    2 * time.Second,
		Workers:        testWorkers(),
	}
}

// echoExec 立即成功的工作單元
func echoExec(_ context.Context, w *registry.Worker, task types.Task) (map[string]interface{}, error) {
	return map[string]interface{}{
		"task":   string(task.ID),
		"worker": string(w.ID),
	}, nil
}

// ============================================================================
// 建構與配置驗證
// ============================================================================

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"no workers", Config{}, ErrNoWorkers},
		{"negative timeout", Config{Workers: testWorkers(), TaskTimeout: -time.Second}, ErrInvalidTimeout},
		{"negative rounds", Config{Workers: testWorkers(), Rounds: -1}, ErrInvalidRounds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, echoExec)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewRequiresExecuteFunc(t *testing.T) {
	_, err := New(testConfig(), nil)
	assert.ErrorIs(t, err, ErrNilExecuteFunc)
}

func TestNewDuplicateWorkerRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = append(cfg.Workers, cfg.Workers[0])

	_, err := New(cfg, echoExec)
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrDuplicateWorker)
}

// ============================================================================
// 批次提交
// ============================================================================

func TestSubmitBatchAllTasksAccounted(t *testing.T) {
	c, err := New(testConfig(), echoExec)
	require.NoError(t, err)

	// 訓練型任務沒有 trainer，必然路由失敗
	tasks := []types.Task{
		{Type: types.TaskResearch},
		{Type: types.TaskAnalysis},
		{Type: types.TaskTraining},
		{Type: types.TaskWriting},
	}

	outcome, err := c.SubmitBatch(context.Background(), tasks)
	require.NoError(t, err)

	// 不變式：結果數 + 路由失敗數 == 提交任務數
	assert.Equal(t, len(tasks), len(outcome.Results)+len(outcome.RoutingFailures))
	assert.Len(t, outcome.RoutingFailures, 1)
	assert.Equal(t, types.TaskTraining, outcome.RoutingFailures[0].Task.Type)
	assert.ErrorIs(t, outcome.RoutingFailures[0].Err, router.ErrNoEligibleWorker)
}

func TestSubmitBatchAssignsTaskIDs(t *testing.T) {
	c, err := New(testConfig(), echoExec)
	require.NoError(t, err)

	tasks := []types.Task{
		{Type: types.TaskResearch},
		{Type: types.TaskResearch},
		{ID: "fixed-id", Type: types.TaskAnalysis},
	}

	outcome, err := c.SubmitBatch(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 3)

	seen := make(map[types.TaskID]bool)
	for _, r := range outcome.Results {
		assert.NotEmpty(t, r.TaskID)
		assert.False(t, seen[r.TaskID], "task IDs must be unique")
		seen[r.TaskID] = true
	}
	assert.True(t, seen["fixed-id"], "caller-provided ID must survive")
}

func TestSubmitBatchPartialFailure(t *testing.T) {
	execErr := errors.New("model call failed")
	exec := func(_ context.Context, w *registry.Worker, task types.Task) (map[string]interface{}, error) {
		if task.ID == "bad" {
			return nil, execErr
		}
		return map[string]interface{}{"ok": true}, nil
	}

	c, err := New(testConfig(), exec)
	require.NoError(t, err)

	tasks := []types.Task{
		{ID: "t1", Type: types.TaskResearch},
		{ID: "t2", Type: types.TaskResearch},
		{ID: "bad", Type: types.TaskAnalysis},
		{ID: "t3", Type: types.TaskWriting},
		{ID: "t4", Type: types.TaskGeneric},
	}

	// 個別任務失敗不影響批次完成
	outcome, err := c.SubmitBatch(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 5)

	var completed, failed int
	for _, r := range outcome.Results {
		switch r.Status {
		case types.ResultCompleted:
			completed++
		case types.ResultFailed:
			failed++
			assert.Equal(t, types.TaskID("bad"), r.TaskID)
		}
	}
	assert.Equal(t, 4, completed)
	assert.Equal(t, 1, failed)
}

func TestSubmitBatchRejectedAfterDone(t *testing.T) {
	c, err := New(testConfig(), echoExec)
	require.NoError(t, err)

	c.Close()

	_, err = c.SubmitBatch(context.Background(), []types.Task{{Type: types.TaskResearch}})
	assert.ErrorIs(t, err, ErrCoordinatorDone)
	assert.Equal(t, StateDone, c.State())
}

func TestSubmitBatchEmpty(t *testing.T) {
	c, err := New(testConfig(), echoExec)
	require.NoError(t, err)

	outcome, err := c.SubmitBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, outcome.Results)
	assert.Empty(t, outcome.RoutingFailures)
	assert.Equal(t, StateIdle, c.State())
}

func TestSubmitBatchExclusivePolicy(t *testing.T) {
	c, err := New(Config{
		MaxConcurrency:   2,
		ExclusiveWorkers: true,
		Workers: []types.WorkerDef{
			{ID: "trainer-001", Type: types.WorkerTrainer},
			{ID: "trainer-002", Type: types.WorkerTrainer},
		},
	}, echoExec)
	require.NoError(t, err)

	// 嚴格策略：批次內一個 Worker 最多一個任務，超額任務路由失敗
	tasks := []types.Task{
		{ID: "t1", Type: types.TaskTraining},
		{ID: "t2", Type: types.TaskTraining},
		{ID: "t3", Type: types.TaskTraining},
	}

	outcome, err := c.SubmitBatch(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 2)
	require.Len(t, outcome.RoutingFailures, 1)
	assert.Equal(t, types.TaskID("t3"), outcome.RoutingFailures[0].Task.ID)

	// 批次內任務分散到不同 Worker
	workers := map[types.WorkerID]bool{}
	for _, r := range outcome.Results {
		workers[r.WorkerID] = true
	}
	assert.Len(t, workers, 2)

	// barrier 之後沒有殘留的預佔狀態，下一批次可以重新使用全部 Worker
	next, err := c.SubmitBatch(context.Background(), []types.Task{{Type: types.TaskTraining}})
	require.NoError(t, err)
	assert.Len(t, next.Results, 1)
	assert.Empty(t, next.RoutingFailures)
}

// ============================================================================
// 多回合運行與 early-exit
// ============================================================================

func trainerConfig(rounds int) Config {
	return Config{
		MaxConcurrency:  2,
		TaskTimeout:     2 * time.Second,
		Rounds:          rounds,
		TargetMetric:    "accuracy",
		TargetThreshold: 0.95,
		Workers: []types.WorkerDef{
			{ID: "trainer-001", Type: types.WorkerTrainer},
			{ID: "trainer-002", Type: types.WorkerTrainer},
		},
	}
}

// trainingExec 模擬隨回合遞增的 accuracy 曲線
func trainingExec(_ context.Context, _ *registry.Worker, task types.Task) (map[string]interface{}, error) {
	round := task.Payload["round"].(int)
	return map[string]interface{}{
		"loss":     2.0 - 0.5*float64(round),
		"accuracy": 0.5 + 0.2*float64(round),
	}, nil
}

func trainingBatch(round int) []types.Task {
	return []types.Task{
		{Type: types.TaskTraining, Payload: map[string]interface{}{"round": round}},
		{Type: types.TaskTraining, Payload: map[string]interface{}{"round": round}},
	}
}

func TestRunRoundsEarlyExit(t *testing.T) {
	// accuracy = 0.5 + 0.2·round：第 3 回合達到 1.1 > 0.95
	c, err := New(trainerConfig(10), trainingExec, WithSyncFunc(AverageSync("loss", "accuracy")))
	require.NoError(t, err)

	report, err := c.RunRounds(context.Background(), trainingBatch)
	require.NoError(t, err)

	assert.True(t, report.EarlyExit)
	assert.Equal(t, 3, report.RoundsCompleted, "must stop at the round that crossed the threshold")
	assert.Equal(t, StateDone, c.State())

	require.Len(t, report.SyncHistory, 3)
	last := report.SyncHistory[2]
	assert.Equal(t, 3, last.Round)
	assert.InDelta(t, 1.1, last.Values["accuracy"], 1e-9)
	assert.InDelta(t, 0.5, last.Values["loss"], 1e-9)

	// 指標只統計實際執行過的任務：3 回合 × 2 任務
	assert.Equal(t, 6, report.Metrics.TasksProcessed)
}

func TestRunRoundsExhaustsRounds(t *testing.T) {
	cfg := trainerConfig(4)
	cfg.TargetThreshold = 0 // 停用 early-exit

	c, err := New(cfg, trainingExec, WithSyncFunc(AverageSync("accuracy")))
	require.NoError(t, err)

	report, err := c.RunRounds(context.Background(), trainingBatch)
	require.NoError(t, err)

	assert.False(t, report.EarlyExit)
	assert.Equal(t, 4, report.RoundsCompleted)
	assert.Len(t, report.SyncHistory, 4)
	assert.Equal(t, StateDone, c.State())
}

func TestRunRoundsCancelledBeforeStart(t *testing.T) {
	c, err := New(trainerConfig(5), trainingExec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := c.RunRounds(ctx, trainingBatch)
	require.NoError(t, err)
	assert.Equal(t, 0, report.RoundsCompleted)
	assert.Equal(t, StateDone, c.State())
}

func TestRunRoundsSyncFailureAborts(t *testing.T) {
	syncErr := errors.New("parameter merge failed")
	failSync := func(round int, _ []types.TaskResult) (map[string]float64, error) {
		if round == 2 {
			return nil, syncErr
		}
		return map[string]float64{}, nil
	}

	c, err := New(trainerConfig(5), trainingExec, WithSyncFunc(failSync))
	require.NoError(t, err)

	report, err := c.RunRounds(context.Background(), trainingBatch)
	require.Error(t, err)
	assert.ErrorIs(t, err, syncErr)
	assert.Equal(t, 1, report.RoundsCompleted)
	assert.Equal(t, StateDone, c.State())
}

// ============================================================================
// 指標與同步
// ============================================================================

func TestCurrentMetricsSnapshotIdempotent(t *testing.T) {
	c, err := New(testConfig(), echoExec)
	require.NoError(t, err)

	_, err = c.SubmitBatch(context.Background(), []types.Task{
		{Type: types.TaskResearch},
		{Type: types.TaskAnalysis},
	})
	require.NoError(t, err)

	first := c.CurrentMetrics()
	second := c.CurrentMetrics()

	assert.Equal(t, first.TasksProcessed, second.TasksProcessed)
	assert.Equal(t, first.TotalProcessingTime, second.TotalProcessingTime)
	assert.Equal(t, 2, first.TasksProcessed)
	assert.Len(t, first.WorkerUtilization, 2)
}

func TestRoutingFailuresExcludedFromMetrics(t *testing.T) {
	c, err := New(testConfig(), echoExec)
	require.NoError(t, err)

	outcome, err := c.SubmitBatch(context.Background(), []types.Task{
		{Type: types.TaskResearch},
		{Type: types.TaskTraining}, // 無 trainer，路由失敗
	})
	require.NoError(t, err)
	require.Len(t, outcome.RoutingFailures, 1)

	m := c.CurrentMetrics()
	assert.Equal(t, 1, m.TasksProcessed, "routing failures never enter metrics")
}

func TestAverageSyncSkipsFailedResults(t *testing.T) {
	sync := AverageSync("loss")

	results := []types.TaskResult{
		{Status: types.ResultCompleted, Output: map[string]interface{}{"loss": 1.0}},
		{Status: types.ResultCompleted, Output: map[string]interface{}{"loss": 3.0}},
		{Status: types.ResultFailed, Output: nil},
	}

	values, err := sync(1, results)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, values["loss"], 1e-9)
}

func TestAverageSyncMissingField(t *testing.T) {
	sync := AverageSync("accuracy")

	values, err := sync(1, []types.TaskResult{
		{Status: types.ResultCompleted, Output: map[string]interface{}{"loss": 1.0}},
	})
	require.NoError(t, err)
	_, ok := values["accuracy"]
	assert.False(t, ok, "fields with no samples must be absent, not zero")
}
