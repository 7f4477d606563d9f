// ============================================================================
// Beaver-Swarm Coordinator - 系統核心協調器
// ============================================================================
//
// Package: internal/coordinator
// 文件: coordinator.go
// 功能: 協調一個「回合」的完整生命週期：路由 → 並發執行 → barrier → 同步
//
// 架構設計:
//   這是整個系統的"大腦"，負責協調以下組件：
//   - Registry: Worker 註冊表（狀態與任務歷史）
//   - Router: 能力匹配 + least-busy 負載均衡
//   - Dispatcher: 並發執行，完成順序回傳結果
//   - Aggregator: 運行指標累計（在結果到達時即時更新）
//   - Collector: Prometheus 指標（可選）
//
// 狀態機:
//   idle → dispatching → synchronizing → (dispatching | done)
//
//   - idle: 初始狀態，也代表兩個回合之間的就緒狀態
//   - dispatching: 批次任務正在路由與執行
//   - synchronizing: barrier 已通過，執行同步步驟
//   - done: 終止狀態，不再接受任何批次
//
// Barrier 語義:
//   SubmitBatch 阻塞直到批次中所有「實際被分派」的任務到達終止狀態
//   （成功或失敗）。路由失敗的任務不產生 TaskResult，改以
//   RoutingFailure 回報；兩者數量之和恆等於提交的任務數。
//   同步步驟必須等 100% 的結果到齊後才執行，不存在部分同步。
//
// 同步步驟:
//   - 訓練型用法：對批次成功結果的指定數值欄位取平均
//     （AverageSync，對應參數平均/barrier 操作）
//   - 多代理型用法：SyncFunc 為 nil，直接通過
//
// 多回合運行:
//   RunRounds 依序執行回合，回合之間嚴格串行、永不重疊。
//   終止條件（先到先停，屬於 early-exit 而非失敗）：
//   1. 同步結果的目標指標達到配置門檻
//   2. 配置的回合數耗盡
//   外部取消只阻止新回合的發出，在途批次仍會流到 barrier。
//
// 並發安全:
//   - runMu 序列化批次提交（回合不重疊）
//   - mu 保護 state / roundsDone / syncHistory
//   - CurrentMetrics 可與在途批次並發呼叫（Aggregator 自身持鎖）
//
// ============================================================================

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChuLiYu/swarm-coordinator/internal/dispatch"
	"github.com/ChuLiYu/swarm-coordinator/internal/metrics"
	"github.com/ChuLiYu/swarm-coordinator/internal/registry"
	"github.com/ChuLiYu/swarm-coordinator/internal/router"
	"github.com/ChuLiYu/swarm-coordinator/pkg/types"
)

var log = slog.Default()

// ============================================================================
// 狀態與錯誤定義
// ============================================================================

// State 協調器狀態
type State string

const (
	StateIdle          State = "idle"          // 初始 / 回合之間
	StateDispatching   State = "dispatching"   // 批次執行中
	StateSynchronizing State = "synchronizing" // barrier 已過，同步中
	StateDone          State = "done"          // 終止，不再接受批次
)

var (
	// 配置錯誤（建構時即失敗，不接受任何批次）
	ErrNoWorkers      = errors.New("at least one worker is required")
	ErrInvalidTimeout = errors.New("task timeout must not be negative")
	ErrInvalidRounds  = errors.New("round count must not be negative")
	ErrNilExecuteFunc = errors.New("execute function is required")

	// ErrCoordinatorDone 表示協調器已終止，不再接受批次
	ErrCoordinatorDone = errors.New("coordinator is done")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Config 協調器配置，於建構時驗證
type Config struct {
	MaxConcurrency   int               // 並發上限；<= 0 表示等於 Worker 數（自然並行）
	TaskTimeout      time.Duration     // 單一任務超時；0 表示停用
	Rounds           int               // 多回合運行的回合上限；0 表示單回合用法
	TargetMetric     string            // early-exit 監測的同步指標名稱（如 "accuracy"）
	TargetThreshold  float64           // 指標達到此值即提前結束；0 表示停用
	ExclusiveWorkers bool              // 嚴格一任務一 Worker 路由策略（預設寬鬆）
	Workers          []types.WorkerDef // Worker 定義
}

// Validate 驗證配置
func (c Config) Validate() error {
	if len(c.Workers) == 0 {
		return ErrNoWorkers
	}
	if c.TaskTimeout < 0 {
		return ErrInvalidTimeout
	}
	if c.Rounds < 0 {
		return ErrInvalidRounds
	}
	return nil
}

// RoutingFailure 路由失敗記錄：任務與原因
// 路由失敗與執行失敗是不同的故障類別，不進入指標累計
type RoutingFailure struct {
	Task types.Task // 找不到合適 Worker 的任務
	Err  error      // 失敗原因（ErrNoEligibleWorker）
}

// BatchOutcome 一個批次的完整結果
// 不變式：len(Results) + len(RoutingFailures) == 提交的任務數
type BatchOutcome struct {
	Results         []types.TaskResult // 所有被分派任務的結果（完成順序）
	RoutingFailures []RoutingFailure   // 路由失敗的任務
}

// SyncResult 一次同步步驟的產出
type SyncResult struct {
	Round    int                `json:"round"`    // 回合編號（1 起算）
	Values   map[string]float64 `json:"values"`   // 同步計算出的指標（如全局 loss/accuracy）
	Duration time.Duration      `json:"duration"` // 同步耗時（synchronization overhead）
}

// SyncFunc 同步步驟：在批次 barrier 通過後、下一回合開始前執行
// nil 表示直接通過（多代理型用法）
type SyncFunc func(round int, results []types.TaskResult) (map[string]float64, error)

// RunReport 多回合運行的總結
type RunReport struct {
	RoundsCompleted int               `json:"rounds_completed"` // 實際完成的回合數
	EarlyExit       bool              `json:"early_exit"`       // 是否因達標提前結束
	SyncHistory     []SyncResult      `json:"sync_history"`     // 每回合的同步結果
	Metrics         types.RunMetrics  `json:"metrics"`          // 最終指標快照
	RoutingFailures int               `json:"routing_failures"` // 累計路由失敗數
}

// Coordinator 核心協調器
type Coordinator struct {
	cfg        Config
	reg        *registry.Registry
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	aggregator *metrics.Aggregator
	collector  *metrics.Collector // 可選：nil 表示不暴露 Prometheus 指標
	execFn     dispatch.ExecuteFunc
	syncFn     SyncFunc

	runMu sync.Mutex // 序列化批次提交：回合嚴格依序，永不重疊

	mu          sync.Mutex // 保護以下欄位
	state       State
	roundsDone  int
	syncHistory []SyncResult
}

// Option 協調器可選配置
type Option func(*Coordinator)

// WithCollector 掛載 Prometheus 指標收集器
func WithCollector(c *metrics.Collector) Option {
	return func(co *Coordinator) { co.collector = c }
}

// WithSyncFunc 設定同步步驟（訓練型用法使用 AverageSync）
func WithSyncFunc(fn SyncFunc) Option {
	return func(co *Coordinator) { co.syncFn = fn }
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立新的 Coordinator 實例
//
// 參數：
//   - cfg: 協調器配置（建構時驗證，配置錯誤立即失敗）
//   - execFn: 外部注入的工作單元
//   - opts: 可選配置
//
// 返回值：
//   - *Coordinator: Coordinator 實例
//   - error: 配置驗證失敗的錯誤
func New(cfg Config, execFn dispatch.ExecuteFunc, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid coordinator config: %w", err)
	}
	if execFn == nil {
		return nil, ErrNilExecuteFunc
	}

	reg, err := registry.FromDefs(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to build worker registry: %w", err)
	}

	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		// 自然並行：每個 Worker 一個 goroutine
		maxConcurrency = reg.Len()
	}

	c := &Coordinator{
		cfg:        cfg,
		reg:        reg,
		router:     router.New(reg, cfg.ExclusiveWorkers),
		dispatcher: dispatch.New(maxConcurrency, cfg.TaskTimeout),
		aggregator: metrics.NewAggregator(),
		execFn:     execFn,
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}

	log.Info("Coordinator initialized",
		"workers", reg.Len(),
		"maxConcurrency", maxConcurrency,
		"taskTimeout", cfg.TaskTimeout)
	return c, nil
}

// SubmitBatch 提交一個批次並阻塞到 barrier 通過
//
// 流程：
//  1. 為缺少 ID 的任務產生 UUID 與建立時間
//  2. 逐一路由；失敗者進入 RoutingFailures（批次層級警告，不中止）
//  3. 並發執行所有配對，結果按完成順序即時累計到 Aggregator
//  4. barrier 通過後執行同步步驟
//
// 返回值：
//   - BatchOutcome: 結果與路由失敗，之和等於提交任務數
//   - error: 協調器已終止或同步步驟失敗
func (c *Coordinator) SubmitBatch(ctx context.Context, tasks []types.Task) (BatchOutcome, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.State() == StateDone {
		return BatchOutcome{}, ErrCoordinatorDone
	}
	c.setState(StateDispatching)

	outcome := BatchOutcome{
		Results:         make([]types.TaskResult, 0, len(tasks)),
		RoutingFailures: make([]RoutingFailure, 0),
	}

	// 路由階段：為每個任務選擇 Worker
	pairs := make([]dispatch.Pair, 0, len(tasks))
	for _, task := range tasks {
		task = prepare(task)

		w, err := c.router.Route(task)
		if err != nil {
			log.Warn("Routing failed", "taskID", task.ID, "type", task.Type, "error", err)
			outcome.RoutingFailures = append(outcome.RoutingFailures, RoutingFailure{Task: task, Err: err})
			if c.collector != nil {
				c.collector.RecordRoutingFailure()
			}
			continue
		}

		log.Debug("Task routed", "taskID", task.ID, "workerID", w.ID)
		if c.cfg.ExclusiveWorkers {
			// 預佔：嚴格策略下同一批次內不會再被選中
			w.SetStatus(types.StatusWorking)
		}
		pairs = append(pairs, dispatch.Pair{Worker: w, Task: task})
		if c.collector != nil {
			c.collector.RecordDispatch()
		}
	}

	// 執行階段：range 到 channel 關閉即為批次 barrier
	for result := range c.dispatcher.Dispatch(ctx, pairs, c.execFn) {
		c.aggregator.Record(result)
		c.recordToCollector(result)
		outcome.Results = append(outcome.Results, result)
	}

	// barrier 之後沒有在途任務：殘留的預佔狀態（外部取消導致配對
	// 未實際執行）一律釋放
	if c.cfg.ExclusiveWorkers {
		for _, p := range pairs {
			if p.Worker.Status() == types.StatusWorking {
				p.Worker.SetStatus(types.StatusIdle)
			}
		}
	}

	// 同步階段：所有結果到齊後才執行
	c.setState(StateSynchronizing)
	if err := c.synchronize(outcome.Results); err != nil {
		c.setState(StateIdle)
		return outcome, fmt.Errorf("synchronization failed: %w", err)
	}

	c.setState(StateIdle)
	return outcome, nil
}

// synchronize 執行同步步驟並記錄 overhead
func (c *Coordinator) synchronize(results []types.TaskResult) error {
	c.mu.Lock()
	round := c.roundsDone + 1
	c.mu.Unlock()

	if c.syncFn == nil {
		// 多代理型用法：同步為直接通過
		c.finishRound(SyncResult{Round: round})
		return nil
	}

	start := time.Now()
	values, err := c.syncFn(round, results)
	if err != nil {
		return err
	}

	sync := SyncResult{
		Round:    round,
		Values:   values,
		Duration: time.Since(start),
	}
	c.finishRound(sync)

	log.Info("Round synchronized",
		"round", round,
		"values", values,
		"overhead", sync.Duration)
	return nil
}

// finishRound 記錄回合完成與同步結果
func (c *Coordinator) finishRound(sync SyncResult) {
	c.mu.Lock()
	c.roundsDone++
	c.syncHistory = append(c.syncHistory, sync)
	rounds := c.roundsDone
	c.mu.Unlock()

	if c.collector != nil {
		c.collector.SetRoundsCompleted(rounds)
	}
}

// RunRounds 依序執行多個回合，直到達標或回合數耗盡
//
// 參數：
//   - ctx: 取消後不再發出新回合（在途批次仍會流到 barrier）
//   - batchFor: 為每個回合（1 起算）產生任務批次
//
// 返回值：
//   - RunReport: 回合數、early-exit 標記、同步歷史與最終指標
//   - error: 批次或同步失敗的錯誤（early-exit 不是錯誤）
//
// 運行結束後協調器進入 done 狀態，不再接受批次
func (c *Coordinator) RunRounds(ctx context.Context, batchFor func(round int) []types.Task) (RunReport, error) {
	report := RunReport{}

	for round := 1; round <= c.cfg.Rounds; round++ {
		// 外部取消：停止發出新回合
		if err := ctx.Err(); err != nil {
			log.Info("Run cancelled", "completedRounds", report.RoundsCompleted)
			break
		}

		log.Info("Round started", "round", round, "totalRounds", c.cfg.Rounds)

		outcome, err := c.SubmitBatch(ctx, batchFor(round))
		report.RoutingFailures += len(outcome.RoutingFailures)
		if err != nil {
			c.markDone()
			report.SyncHistory = c.SyncHistory()
			report.Metrics = c.CurrentMetrics()
			return report, err
		}
		report.RoundsCompleted++

		// 終止條件：目標指標達標即提前結束（early-exit，非失敗）
		if c.thresholdReached() {
			log.Info("Target threshold reached, stopping early",
				"round", round,
				"metric", c.cfg.TargetMetric,
				"threshold", c.cfg.TargetThreshold)
			report.EarlyExit = true
			break
		}

		progress := float64(round) / float64(c.cfg.Rounds) * 100
		log.Info("Round completed", "round", round, "progress", fmt.Sprintf("%.1f%%", progress))
	}

	c.markDone()
	report.SyncHistory = c.SyncHistory()
	report.Metrics = c.CurrentMetrics()

	log.Info("Run completed",
		"rounds", report.RoundsCompleted,
		"earlyExit", report.EarlyExit)
	return report, nil
}

// thresholdReached 檢查最近一次同步的目標指標是否達標
func (c *Coordinator) thresholdReached() bool {
	if c.cfg.TargetMetric == "" || c.cfg.TargetThreshold <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.syncHistory) == 0 {
		return false
	}

	latest := c.syncHistory[len(c.syncHistory)-1]
	value, ok := latest.Values[c.cfg.TargetMetric]
	return ok && value >= c.cfg.TargetThreshold
}

// ============================================================================
// 公開查詢方法
// ============================================================================

// CurrentMetrics 取得當前指標的一致性快照
// 可與在途批次並發呼叫：快照與更新共用 Aggregator 的鎖
func (c *Coordinator) CurrentMetrics() types.RunMetrics {
	return c.aggregator.Snapshot()
}

// State 返回協調器當前狀態
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RoundsCompleted 返回已完成的回合數
func (c *Coordinator) RoundsCompleted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roundsDone
}

// SyncHistory 返回同步歷史的副本
func (c *Coordinator) SyncHistory() []SyncResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SyncResult, len(c.syncHistory))
	copy(out, c.syncHistory)
	return out
}

// Registry 返回 Worker 註冊表（供呼叫端查詢 Worker 狀態與歷史）
func (c *Coordinator) Registry() *registry.Registry {
	return c.reg
}

// Close 將協調器標記為終止狀態，後續批次一律拒絕
func (c *Coordinator) Close() {
	c.markDone()
}

// ============================================================================
// 內部輔助
// ============================================================================

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDone {
		return // done 是終止狀態
	}
	c.state = s
}

func (c *Coordinator) markDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateDone
}

// recordToCollector 將單筆結果反映到 Prometheus 指標
func (c *Coordinator) recordToCollector(result types.TaskResult) {
	if c.collector == nil {
		return
	}
	switch {
	case result.Status == types.ResultCompleted:
		c.collector.RecordCompleted(result.Duration.Seconds())
	case errors.Is(result.Err, dispatch.ErrTaskTimeout):
		c.collector.RecordTimeout()
	default:
		c.collector.RecordFailed()
	}
}

// prepare 為任務補齊 ID 與建立時間（提交後不可變）
func prepare(task types.Task) types.Task {
	if task.ID == "" {
		task.ID = types.TaskID(uuid.NewString())
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = time.Now().UnixMilli()
	}
	return task
}

// AverageSync 建立訓練型同步步驟：對批次成功結果的指定數值欄位取平均
// 對應參數平均 barrier：例如 AverageSync("loss", "accuracy") 產出
// 全局 loss / accuracy
func AverageSync(fields ...string) SyncFunc {
	return func(round int, results []types.TaskResult) (map[string]float64, error) {
		values := make(map[string]float64, len(fields))
		for _, field := range fields {
			var sum float64
			var n int
			for _, r := range results {
				if r.Status != types.ResultCompleted {
					continue
				}
				if v, ok := numericField(r.Output, field); ok {
					sum += v
					n++
				}
			}
			if n > 0 {
				values[field] = sum / float64(n)
			}
		}
		return values, nil
	}
}

func numericField(output map[string]interface{}, key string) (float64, bool) {
	switch v := output[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
