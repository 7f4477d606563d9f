// ============================================================================
// Beaver-Swarm Metrics Aggregator - 運行指標累計器
// ============================================================================
//
// Package: internal/metrics
// 文件: aggregator.go
// 功能: 從完成的 TaskResult 累計運行層級指標
//
// 設計理念:
//   多個 Dispatcher goroutine 的完成事件並發到達，所有計數器都在
//   單一 mutex 下更新；Snapshot() 與更新共用同一把鎖，保證快照
//   不會觀察到部分更新的記錄。
//
// 累計規則（對應來源行為）:
//   - tasks_processed: 每筆經過 Dispatcher 的結果 +1（成功與失敗皆計）
//   - total_processing_time: 只累計成功任務的 duration
//   - per-worker utilization: 只累計成功任務；average 每次更新時重新計算
//   - 路由失敗的任務不會產生 TaskResult，不進入任何累計
//
// 冪等性:
//   Record() 對相同 TaskID 冪等：重複收到同一任務的結果只計一次
//  （以 seen set 去重）。
//
// 延遲分佈:
//   使用 HdrHistogram 記錄所有結果的 duration（微秒精度），
//   Snapshot 暴露 p50 / p95 / max。
//
// ============================================================================

package metrics

import (
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"

	"github.com/ChuLiYu/swarm-coordinator/pkg/types"
)

// 延遲直方圖的記錄範圍：1µs ~ 10min，3 位有效數字
const (
	histMinMicros = 1
	histMaxMicros = int64(10 * time.Minute / time.Microsecond)
	histSigFigs   = 3
)

// workerStats 單一 Worker 的內部累計值
type workerStats struct {
	tasksCompleted int
	totalTime      time.Duration
	averageTime    time.Duration
}

// Aggregator 運行指標累計器
// 指標在一次運行的生命週期內只增不減，沒有 reset 操作
type Aggregator struct {
	mu sync.Mutex

	seen                map[types.TaskID]struct{}       // 已記錄的任務，保證冪等
	tasksProcessed      int                             // 經過 Dispatcher 的任務總數
	totalProcessingTime time.Duration                   // 成功任務的累計時間
	perWorker           map[types.WorkerID]*workerStats // 各 Worker 利用率
	latency             *hdrhistogram.Histogram         // 任務延遲分佈
}

// NewAggregator 建立新的指標累計器
func NewAggregator() *Aggregator {
	return &Aggregator{
		seen:      make(map[types.TaskID]struct{}),
		perWorker: make(map[types.WorkerID]*workerStats),
		latency:   hdrhistogram.New(histMinMicros, histMaxMicros, histSigFigs),
	}
}

// Record 累計一筆任務結果
//
// 冪等性：相同 TaskID 的結果只記錄一次，後續呼叫為 no-op
//
// 併發安全：使用互斥鎖保護，完成事件可從多個 goroutine 並發到達
func (a *Aggregator) Record(result types.TaskResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.seen[result.TaskID]; dup {
		return
	}
	a.seen[result.TaskID] = struct{}{}

	a.tasksProcessed++

	micros := result.Duration.Microseconds()
	if micros < histMinMicros {
		micros = histMinMicros
	}
	if micros > histMaxMicros {
		micros = histMaxMicros
	}
	// 範圍已先行裁剪，RecordValue 不會失敗
	_ = a.latency.RecordValue(micros)

	if result.Status != types.ResultCompleted {
		return
	}

	a.totalProcessingTime += result.Duration

	stats, ok := a.perWorker[result.WorkerID]
	if !ok {
		stats = &workerStats{}
		a.perWorker[result.WorkerID] = stats
	}
	stats.tasksCompleted++
	stats.totalTime += result.Duration
	stats.averageTime = stats.totalTime / time.Duration(stats.tasksCompleted)
}

// Snapshot 取得當前指標的一致性快照
//
// 與更新共用同一把鎖：不會觀察到部分更新的記錄；
// 兩次快照之間若無新結果，內容完全相同
func (a *Aggregator) Snapshot() types.RunMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	utilization := make(map[types.WorkerID]types.WorkerUtilization, len(a.perWorker))
	for id, stats := range a.perWorker {
		utilization[id] = types.WorkerUtilization{
			TasksCompleted: stats.tasksCompleted,
			TotalTime:      stats.totalTime,
			AverageTime:    stats.averageTime,
		}
	}

	snapshot := types.RunMetrics{
		TasksProcessed:      a.tasksProcessed,
		TotalProcessingTime: a.totalProcessingTime,
		WorkerUtilization:   utilization,
	}

	if a.latency.TotalCount() > 0 {
		snapshot.LatencyP50 = time.Duration(a.latency.ValueAtQuantile(50)) * time.Microsecond
		snapshot.LatencyP95 = time.Duration(a.latency.ValueAtQuantile(95)) * time.Microsecond
		snapshot.LatencyMax = time.Duration(a.latency.Max()) * time.Microsecond
	}

	return snapshot
}
