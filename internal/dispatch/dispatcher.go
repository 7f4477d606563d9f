// ============================================================================
// Beaver-Swarm Dispatcher - 並發任務執行器
// ============================================================================
//
// Package: internal/dispatch
// 文件: dispatcher.go
// 功能: 並發執行已配對的 (Worker, Task)，按完成順序回傳結果
//
// 設計模式:
//   每批次一組 goroutine，semaphore channel 限制並發上限：
//   1. 每個配對啟動一個 goroutine，先取得 semaphore 名額再執行
//   2. 結果寫入帶緩衝的結果 channel（容量 = 配對數，寫入永不阻塞）
//   3. 全部完成後關閉結果 channel，呼叫端以 range 讀取即為 barrier
//
// 架構組件:
//   ┌─────────────┐
//   │ Coordinator │ --Dispatch(pairs)--> ┌────────────┐
//   └─────────────┘                      │ Dispatcher │
//         ↑                              │  ┌───────┐ │
//    range results                       │  │ go #1 │─┼──→ resultCh
//         ↑                              │  │ go #2 │─┼──→ resultCh
//   （完成順序，非提交順序）               │  │ go #3 │─┼──→ resultCh
//                                        │  └───────┘ │
//                                        └────────────┘
//
// 部分失敗語義:
//   單一任務失敗（執行錯誤或超時）只產生一筆 failed 結果，
//   不會中止批次；其餘任務繼續執行並照常產生結果。
//
// 超時控制:
//   每個任務有獨立的 Context deadline。executeFn 若不理會 Context
//   而持續阻塞，Dispatcher 會在 deadline 到期時合成一筆帶
//   ErrTaskTimeout 的 failed 結果，確保 barrier 不會被無限期阻塞
//  （逾時的 goroutine 寫入帶緩衝的 done channel 後自行結束）。
//
// 任務超時的 Context 來自 context.Background 而非呼叫端 ctx：
//   外部取消只阻止「新批次」的發出，已在途的批次必須完整流到
//   barrier（尚未開始執行的配對則以 ctx 錯誤快速合成 failed 結果，
//   維持結果數量不變式）。
//
// Worker 狀態轉換:
//   - 任務開始:  idle → working
//   - 任務成功:  working → idle，並追加任務歷史
//   - 任務失敗:  working → error（不追加歷史）
//   同一 Worker 的轉換由其自身的 mutex 序列化。
//
// ============================================================================

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/swarm-coordinator/pkg/types"
)

var log = slog.Default()

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrTaskTimeout 表示任務執行超過配置的 per-task 超時時間
	ErrTaskTimeout = errors.New("task execution timed out")
	// ErrTaskExecution 表示外部工作單元回報執行失敗
	ErrTaskExecution = errors.New("task execution failed")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Dispatcher 並發執行器
type Dispatcher struct {
	maxConcurrency int           // 並發上限；<= 0 表示自然並行（每個配對一個 goroutine）
	taskTimeout    time.Duration // 單一任務超時；<= 0 表示不設超時
}

// execOutcome 內部用：工作單元的回傳值
type execOutcome struct {
	output map[string]interface{}
	err    error
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立新的 Dispatcher
//
// 參數：
//   - maxConcurrency: 並發上限，<= 0 表示每個配對一個 goroutine
//   - taskTimeout: 單一任務超時時間，<= 0 表示停用
func New(maxConcurrency int, taskTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		maxConcurrency: maxConcurrency,
		taskTimeout:    taskTimeout,
	}
}

// Dispatch 並發執行所有配對，按完成順序回傳結果
//
// 參數：
//   - ctx: 外部取消訊號；已取消時尚未開始的配對會合成 failed 結果
//   - pairs: 已完成路由的 (Worker, Task) 配對
//   - fn: 外部注入的工作單元
//
// 返回值：
//   - <-chan types.TaskResult: 結果 channel，全部結果送出後關閉；
//     呼叫端 range 到關閉即為批次 barrier
//
// 每個配對恰好產生一筆結果，批次永不因單一失敗而中止
func (d *Dispatcher) Dispatch(ctx context.Context, pairs []Pair, fn ExecuteFunc) <-chan types.TaskResult {
	results := make(chan types.TaskResult, len(pairs))

	limit := d.maxConcurrency
	if limit <= 0 || limit > len(pairs) {
		limit = len(pairs)
	}
	if limit == 0 {
		// 空批次：直接關閉，barrier 立即通過
		close(results)
		return results
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for _, pair := range pairs {
		wg.Add(1)
		go func(p Pair) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results <- d.run(ctx, p, fn)
		}(pair)
	}

	// 全部完成後關閉結果 channel（barrier 訊號）
	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// run 執行單一配對並產生結果
func (d *Dispatcher) run(ctx context.Context, p Pair, fn ExecuteFunc) types.TaskResult {
	w, task := p.Worker, p.Task

	// 外部已取消且任務尚未開始：不動 Worker 狀態，直接合成 failed 結果
	if err := ctx.Err(); err != nil {
		return types.TaskResult{
			TaskID:   task.ID,
			WorkerID: w.ID,
			Status:   types.ResultFailed,
			Err:      fmt.Errorf("%w: %v", ErrTaskExecution, err),
		}
	}

	w.SetStatus(types.StatusWorking)
	log.Debug("Task started", "taskID", task.ID, "workerID", w.ID, "type", task.Type)

	start := time.Now()

	// 超時 Context 獨立於呼叫端 ctx：在途任務必須流到 barrier
	tctx := context.Background()
	cancel := context.CancelFunc(func() {})
	if d.taskTimeout > 0 {
		tctx, cancel = context.WithTimeout(tctx, d.taskTimeout)
	}
	defer cancel()

	// 工作單元在獨立 goroutine 中執行；done 帶緩衝，
	// 逾時後 goroutine 仍可寫入並結束，不會洩漏
	done := make(chan execOutcome, 1)
	go func() {
		output, err := fn(tctx, w, task)
		done <- execOutcome{output: output, err: err}
	}()

	var outcome execOutcome
	select {
	case outcome = <-done:
		// 正常返回（成功或失敗）
	case <-tctx.Done():
		outcome = execOutcome{err: fmt.Errorf("%w after %s", ErrTaskTimeout, d.taskTimeout)}
	}

	end := time.Now()
	result := types.TaskResult{
		TaskID:      task.ID,
		WorkerID:    w.ID,
		StartedAt:   start.UnixMilli(),
		CompletedAt: end.UnixMilli(),
		Duration:    end.Sub(start),
	}

	if outcome.err != nil {
		result.Status = types.ResultFailed
		switch {
		case errors.Is(outcome.err, ErrTaskTimeout):
			result.Err = outcome.err
		case errors.Is(outcome.err, context.DeadlineExceeded):
			// 工作單元自行理會了超時 Context，一樣歸類為超時
			result.Err = fmt.Errorf("%w after %s", ErrTaskTimeout, d.taskTimeout)
		default:
			result.Err = fmt.Errorf("%w: %v", ErrTaskExecution, outcome.err)
		}

		w.SetStatus(types.StatusError)
		log.Warn("Task failed",
			"taskID", task.ID,
			"workerID", w.ID,
			"duration", result.Duration,
			"error", result.Err)
		return result
	}

	result.Status = types.ResultCompleted
	result.Output = outcome.output

	// 成功任務追加到 Worker 歷史，作為 least-busy 路由的依據
	w.AppendRecord(result)
	w.SetStatus(types.StatusIdle)

	log.Debug("Task completed",
		"taskID", task.ID,
		"workerID", w.ID,
		"duration", result.Duration)
	return result
}
