// Package types 定義了 beaver-swarm 系統中使用的核心領域模型
package types

import (
	"time"
)

// TaskID 任務唯一識別碼
type TaskID string

// WorkerID Worker 唯一識別碼
type WorkerID string

// TaskType 任務類型，用於路由決策
type TaskType string

// 定義任務類型常數
const (
	TaskResearch TaskType = "research" // 研究類任務：只能由 researcher 處理
	TaskAnalysis TaskType = "analysis" // 分析類任務：只能由 analyst 處理
	TaskWriting  TaskType = "writing"  // 寫作類任務：只能由 writer 處理
	TaskTraining TaskType = "training" // 訓練類任務：只能由 trainer 處理
	TaskGeneric  TaskType = "generic"  // 通用任務：任何 Worker 都可以處理（萬用類型）
)

// WorkerType Worker 類型，宣告 Worker 能處理的任務種類
type WorkerType string

// 定義 Worker 類型常數
const (
	WorkerResearcher WorkerType = "researcher" // 研究型 Worker
	WorkerAnalyst    WorkerType = "analyst"    // 分析型 Worker
	WorkerWriter     WorkerType = "writer"     // 寫作型 Worker
	WorkerTrainer    WorkerType = "trainer"    // 訓練型 Worker
	WorkerGeneric    WorkerType = "generic"    // 通用型 Worker
)

// taskToWorker 任務類型與 Worker 類型的對應表（精確匹配規則）
var taskToWorker = map[TaskType]WorkerType{
	TaskResearch: WorkerResearcher,
	TaskAnalysis: WorkerAnalyst,
	TaskWriting:  WorkerWriter,
	TaskTraining: WorkerTrainer,
}

// Matches 判斷此任務類型是否可由指定類型的 Worker 處理
//
// 匹配規則：
//   - TaskGeneric 是萬用類型，任何 Worker 都符合
//   - 其他類型需要精確對應（research -> researcher 等）
func (t TaskType) Matches(w WorkerType) bool {
	if t == TaskGeneric {
		return true
	}
	return taskToWorker[t] == w
}

// WorkerStatus Worker 狀態
type WorkerStatus string

// 定義 Worker 狀態常數
const (
	StatusIdle    WorkerStatus = "idle"    // 空閒狀態：可接受新任務
	StatusWorking WorkerStatus = "working" // 工作中狀態：正在處理任務
	StatusError   WorkerStatus = "error"   // 錯誤狀態：最近一次任務失敗
)

// ResultStatus 任務結果狀態
type ResultStatus string

// 定義任務結果狀態常數
const (
	ResultCompleted ResultStatus = "completed" // 任務成功完成
	ResultFailed    ResultStatus = "failed"    // 任務執行失敗（含超時）
)

// Task 任務結構，代表一個待執行的工作單元
// 提交後即視為不可變
type Task struct {
	ID        TaskID                 `json:"id"`         // 任務唯一識別碼（提交時若為空則自動產生）
	Type      TaskType               `json:"type"`       // 任務類型，用於路由
	Payload   map[string]interface{} `json:"payload"`    // 任務執行所需的資料載荷
	CreatedAt int64                  `json:"created_at"` // 任務建立時間（Unix 毫秒）
}

// TaskResult 任務執行結果
// 每個實際被分派的任務恰好產生一筆結果
type TaskResult struct {
	TaskID      TaskID                 `json:"task_id"`          // 任務 ID
	WorkerID    WorkerID               `json:"worker_id"`        // 執行此任務的 Worker ID
	StartedAt   int64                  `json:"started_at"`       // 開始執行時間（Unix 毫秒）
	CompletedAt int64                  `json:"completed_at"`     // 結束時間（Unix 毫秒）
	Duration    time.Duration          `json:"duration"`         // 實際執行時間
	Status      ResultStatus           `json:"status"`           // completed 或 failed
	Output      map[string]interface{} `json:"output,omitempty"` // 成功時的輸出資料
	Err         error                  `json:"-"`                // 失敗時的錯誤詳情（行程內傳遞，不序列化）
}

// WorkerUtilization 單一 Worker 的利用率統計
type WorkerUtilization struct {
	TasksCompleted int           `json:"tasks_completed"` // 成功完成的任務數
	TotalTime      time.Duration `json:"total_time"`      // 累計執行時間
	AverageTime    time.Duration `json:"average_time"`    // 平均執行時間（每次更新時重新計算）
}

// RunMetrics 整輪運行的累計指標快照
// 由 Metrics Aggregator 維護，在一次運行的生命週期內單調遞增
type RunMetrics struct {
	TasksProcessed      int                            `json:"tasks_processed"`       // 經過 Dispatcher 處理的任務總數（含失敗）
	TotalProcessingTime time.Duration                  `json:"total_processing_time"` // 成功任務的累計處理時間
	WorkerUtilization   map[WorkerID]WorkerUtilization `json:"worker_utilization"`    // 各 Worker 的利用率
	LatencyP50          time.Duration                  `json:"latency_p50"`           // 任務延遲中位數
	LatencyP95          time.Duration                  `json:"latency_p95"`           // 任務延遲 95 分位
	LatencyMax          time.Duration                  `json:"latency_max"`           // 任務延遲最大值
}

// WorkerDef Worker 定義，來自配置檔
type WorkerDef struct {
	ID           WorkerID   `json:"id" yaml:"id"`                     // Worker 唯一識別碼
	Type         WorkerType `json:"type" yaml:"type"`                 // Worker 類型
	Capabilities []string   `json:"capabilities" yaml:"capabilities"` // 能力集合（描述性標籤）
}
